package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcarmo/md4sat/internal/config"
	"github.com/rcarmo/md4sat/internal/logging"
)

const (
	appName    = "md4sat"
	appVersion = "v1.0.0"
)

// Exit codes.
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

// exitError carries the process exit code for err.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func usageError(err error) error   { return &exitError{code: exitUsage, err: err} }
func failureError(err error) error { return &exitError{code: exitFailure, err: err} }

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the command line in args and returns the exit code.
func run(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		var ee *exitError
		if errors.As(err, &ee) {
			return ee.code
		}
		return exitUsage
	}
	return exitOK
}

// app holds what the global flags resolve to.
type app struct {
	stdout, stderr io.Writer

	configFile string
	logLevel   string
	logFormat  string
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   appName,
		Short: "Recover short passwords from NT hashes with a SAT solver",
		Long: `md4sat models a single MD4 block symbolically, fixes every bit that is
known about the password, and asks a SAT solver for the rest.

Configuration is read from the YAML file given with --config, then from the
environment (SERVER_HOST, SERVER_PORT, RECOVERY_WORKERS, RECOVERY_SOLVE_TIMEOUT,
LOG_LEVEL, LOG_FORMAT, ...), then from flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().StringVar(&a.configFile, "config", "", "YAML configuration file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "log format (text, json)")

	root.AddCommand(
		newRecoverCmd(a),
		newHashCmd(a),
		newServeCmd(a),
		newVersionCmd(a),
	)
	return root
}

// load resolves the configuration with the global flags and opts applied and
// builds the logger it describes.
func (a *app) load(opts config.LoadOptions) (*config.Config, *logging.Logger, error) {
	opts.ConfigFile = strings.TrimSpace(a.configFile)
	if opts.LogLevel == "" {
		opts.LogLevel = strings.TrimSpace(a.logLevel)
	}
	opts.LogFormat = strings.TrimSpace(a.logFormat)

	cfg, err := config.LoadWithOverrides(opts)
	if err != nil {
		return nil, nil, usageError(fmt.Errorf("failed to load config: %w", err))
	}

	var log *logging.Logger
	if cfg.Logging.File == "" {
		log = logging.New(a.stderr, cfg.Logging.Format)
		log.SetLevelFromString(cfg.Logging.Level)
	} else {
		log, err = logging.Open(logging.Options{
			Level:  cfg.Logging.Level,
			Format: cfg.Logging.Format,
			File:   cfg.Logging.File,
		})
		if err != nil {
			return nil, nil, usageError(err)
		}
	}
	logging.SetDefault(log)
	return cfg, log, nil
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(a.stdout, "%s %s\n", appName, appVersion)
			fmt.Fprintln(a.stdout, "Solver: gini")
			fmt.Fprintln(a.stdout, "Hash: MD4, single block, 16-bit character slots")
		},
	}
}
