package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// globalConfig stores the configuration loaded with command-line overrides
// This allows other packages to access the same configuration that was loaded by the command
var (
	globalConfig *Config
	configMutex  sync.Mutex
)

var validate = validator.New()

// Config holds the application configuration
type Config struct {
	Server   ServerConfig   `json:"server" yaml:"server"`
	Recovery RecoveryConfig `json:"recovery" yaml:"recovery"`
	Security SecurityConfig `json:"security" yaml:"security"`
	Logging  LoggingConfig  `json:"logging" yaml:"logging"`
}

// LoadOptions holds command-line override options. Zero values leave the
// file and environment settings in place.
type LoadOptions struct {
	Host         string
	Port         string
	LogLevel     string
	LogFormat    string
	ConfigFile   string
	Workers      int
	SolveTimeout time.Duration
	NoVerify     bool
}

// ServerConfig holds settings of the HTTP front end
type ServerConfig struct {
	Host         string        `json:"host" yaml:"host" env:"SERVER_HOST" default:"0.0.0.0"`
	Port         string        `json:"port" yaml:"port" env:"SERVER_PORT" default:"8080"`
	ReadTimeout  time.Duration `json:"readTimeout" yaml:"readTimeout" env:"SERVER_READ_TIMEOUT" default:"30s" validate:"gte=0"`
	WriteTimeout time.Duration `json:"writeTimeout" yaml:"writeTimeout" env:"SERVER_WRITE_TIMEOUT" default:"0s" validate:"gte=0"`
	IdleTimeout  time.Duration `json:"idleTimeout" yaml:"idleTimeout" env:"SERVER_IDLE_TIMEOUT" default:"120s" validate:"gte=0"`
}

// RecoveryConfig holds settings of the recovery pipeline
type RecoveryConfig struct {
	Workers      int           `json:"workers" yaml:"workers" env:"RECOVERY_WORKERS" default:"1" validate:"gte=1,lte=256"`
	SolveTimeout time.Duration `json:"solveTimeout" yaml:"solveTimeout" env:"RECOVERY_SOLVE_TIMEOUT" default:"0s" validate:"gte=0"`
	PollInterval time.Duration `json:"pollInterval" yaml:"pollInterval" env:"RECOVERY_POLL_INTERVAL" default:"50ms" validate:"gt=0"`
	Verify       bool          `json:"verify" yaml:"verify" env:"RECOVERY_VERIFY" default:"true"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	AllowedOrigins  []string `json:"allowedOrigins" yaml:"allowedOrigins" env:"ALLOWED_ORIGINS" default:""`
	MaxRequestBytes int64    `json:"maxRequestBytes" yaml:"maxRequestBytes" env:"MAX_REQUEST_BYTES" default:"4096" validate:"gte=64"`
	EnableTLS       bool     `json:"enableTLS" yaml:"enableTLS" env:"ENABLE_TLS" default:"false"`
	TLSCertFile     string   `json:"tlsCertFile" yaml:"tlsCertFile" env:"TLS_CERT_FILE" default:""`
	TLSKeyFile      string   `json:"tlsKeyFile" yaml:"tlsKeyFile" env:"TLS_KEY_FILE" default:""`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level" env:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	Format string `json:"format" yaml:"format" env:"LOG_FORMAT" default:"text" validate:"oneof=text json"`
	File   string `json:"file" yaml:"file" env:"LOG_FILE" default:""`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        "8080",
			ReadTimeout: 30 * time.Second,
			IdleTimeout: 120 * time.Second,
		},
		Recovery: RecoveryConfig{
			Workers:      1,
			PollInterval: 50 * time.Millisecond,
			Verify:       true,
		},
		Security: SecurityConfig{
			AllowedOrigins:  []string{},
			MaxRequestBytes: 4096,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from environment variables with defaults
func Load() (*Config, error) {
	return LoadWithOverrides(LoadOptions{})
}

// LoadWithOverrides loads configuration with command-line overrides. Later
// sources win: defaults, the YAML file, environment, then opts.
func LoadWithOverrides(opts LoadOptions) (*Config, error) {
	config := Default()

	if path := getOverrideOrEnv(opts.ConfigFile, "CONFIG_FILE", ""); path != "" {
		if err := config.loadFile(path); err != nil {
			return nil, err
		}
	}

	// Server config
	config.Server.Host = getOverrideOrEnv(opts.Host, "SERVER_HOST", config.Server.Host)
	config.Server.Port = getOverrideOrEnv(opts.Port, "SERVER_PORT", config.Server.Port)
	config.Server.ReadTimeout = getDurationWithDefault("SERVER_READ_TIMEOUT", config.Server.ReadTimeout)
	config.Server.WriteTimeout = getDurationWithDefault("SERVER_WRITE_TIMEOUT", config.Server.WriteTimeout)
	config.Server.IdleTimeout = getDurationWithDefault("SERVER_IDLE_TIMEOUT", config.Server.IdleTimeout)

	// Recovery config
	config.Recovery.Workers = getIntWithDefault("RECOVERY_WORKERS", config.Recovery.Workers)
	if opts.Workers != 0 {
		config.Recovery.Workers = opts.Workers
	}
	config.Recovery.SolveTimeout = getDurationWithDefault("RECOVERY_SOLVE_TIMEOUT", config.Recovery.SolveTimeout)
	if opts.SolveTimeout != 0 {
		config.Recovery.SolveTimeout = opts.SolveTimeout
	}
	config.Recovery.PollInterval = getDurationWithDefault("RECOVERY_POLL_INTERVAL", config.Recovery.PollInterval)
	config.Recovery.Verify = getBoolWithDefault("RECOVERY_VERIFY", config.Recovery.Verify) && !opts.NoVerify

	// Security config
	config.Security.AllowedOrigins = getStringSliceWithDefault("ALLOWED_ORIGINS", config.Security.AllowedOrigins)
	config.Security.MaxRequestBytes = int64(getIntWithDefault("MAX_REQUEST_BYTES", int(config.Security.MaxRequestBytes)))
	config.Security.EnableTLS = getBoolWithDefault("ENABLE_TLS", config.Security.EnableTLS)
	config.Security.TLSCertFile = getEnvWithDefault("TLS_CERT_FILE", config.Security.TLSCertFile)
	config.Security.TLSKeyFile = getEnvWithDefault("TLS_KEY_FILE", config.Security.TLSKeyFile)

	// Logging config
	config.Logging.Level = getOverrideOrEnv(opts.LogLevel, "LOG_LEVEL", config.Logging.Level)
	config.Logging.Format = getOverrideOrEnv(opts.LogFormat, "LOG_FORMAT", config.Logging.Format)
	config.Logging.File = getEnvWithDefault("LOG_FILE", config.Logging.File)

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Store the configuration globally so other packages can access it
	configMutex.Lock()
	globalConfig = config
	configMutex.Unlock()

	return config, nil
}

// loadFile overlays the YAML document at path. Keys absent from the file keep
// their current values.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// GetGlobalConfig returns the globally stored configuration
// This should be used by packages that need access to the configuration
// loaded by the command with command-line overrides
func GetGlobalConfig() *Config {
	configMutex.Lock()
	defer configMutex.Unlock()
	return globalConfig
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port cannot be empty")
	}

	if port, err := strconv.Atoi(c.Server.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid server port: %s", c.Server.Port)
	}

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return describe(verrs[0])
		}
		return err
	}

	// Validate security config
	if c.Security.EnableTLS {
		if c.Security.TLSCertFile == "" || c.Security.TLSKeyFile == "" {
			return fmt.Errorf("TLS certificate and key files must be specified when TLS is enabled")
		}

		if _, err := os.Stat(c.Security.TLSCertFile); os.IsNotExist(err) {
			return fmt.Errorf("TLS certificate file does not exist: %s", c.Security.TLSCertFile)
		}

		if _, err := os.Stat(c.Security.TLSKeyFile); os.IsNotExist(err) {
			return fmt.Errorf("TLS key file does not exist: %s", c.Security.TLSKeyFile)
		}
	}

	return nil
}

func describe(fe validator.FieldError) error {
	switch fe.StructNamespace() {
	case "Config.Logging.Level":
		return fmt.Errorf("invalid log level: %v", fe.Value())
	case "Config.Logging.Format":
		return fmt.Errorf("invalid log format: %v", fe.Value())
	case "Config.Recovery.Workers":
		return fmt.Errorf("workers must be between 1 and 256: %v", fe.Value())
	}
	return fmt.Errorf("invalid %s: %v fails %q", fe.StructNamespace(), fe.Value(), fe.Tag())
}

// Helper functions for environment variable parsing
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntWithDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolWithDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getDurationWithDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getStringSliceWithDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return splitString(value, ",")
	}
	return defaultValue
}

// getOverrideOrEnv returns command-line override value, env value, or default
func getOverrideOrEnv(override, envKey, defaultValue string) string {
	if override != "" {
		return override
	}
	return getEnvWithDefault(envKey, defaultValue)
}

func splitString(s, sep string) []string {
	if s == "" {
		return []string{}
	}

	var result []string
	for _, part := range strings.Split(s, sep) {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
