// Package logging provides the leveled logger used across md4sat, backed by
// log/slog text or JSON handlers.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Level represents log severity levels
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = map[Level]string{
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
}

var slogLevels = map[Level]slog.Level{
	LevelDebug: slog.LevelDebug,
	LevelInfo:  slog.LevelInfo,
	LevelWarn:  slog.LevelWarn,
	LevelError: slog.LevelError,
}

// Output formats
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Logger provides leveled logging
type Logger struct {
	lv     *slog.LevelVar
	logger *slog.Logger
	closer io.Closer
}

var (
	defaultLogger *Logger
	defaultMu     sync.Mutex
)

// New returns a logger writing to w in the given format ("text" or "json").
func New(w io.Writer, format string) *Logger {
	lv := new(slog.LevelVar)
	opts := &slog.HandlerOptions{Level: lv}
	var h slog.Handler
	if strings.EqualFold(format, FormatJSON) {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	l := &Logger{lv: lv, logger: slog.New(h)}
	l.SetLevel(LevelInfo)
	return l
}

// Options selects level, format and destination of a logger.
type Options struct {
	Level  string
	Format string
	// File is appended to; empty means stderr.
	File string
}

// Open builds a logger from opts.
func Open(opts Options) (*Logger, error) {
	var w io.Writer = os.Stderr
	var closer io.Closer
	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		w, closer = f, f
	}
	l := New(w, opts.Format)
	l.closer = closer
	l.SetLevelFromString(opts.Level)
	return l, nil
}

// Default returns the default logger instance
func Default() *Logger {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultLogger == nil {
		defaultLogger = New(os.Stderr, FormatText)
	}
	return defaultLogger
}

// SetDefault replaces the default logger, closing the previous one's file.
func SetDefault(l *Logger) {
	defaultMu.Lock()
	prev := defaultLogger
	defaultLogger = l
	defaultMu.Unlock()
	if prev != nil && prev != l {
		_ = prev.Close()
	}
}

// Close releases the log file, if any.
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// SetLevel sets the minimum log level
func (l *Logger) SetLevel(level Level) {
	l.lv.Set(slogLevels[level])
}

// SetLevelFromString sets the log level from a string
func (l *Logger) SetLevelFromString(levelStr string) {
	l.SetLevel(ParseLevel(levelStr))
}

// ParseLevel maps a level name to a Level; unknown names map to LevelInfo.
func ParseLevel(levelStr string) Level {
	switch strings.ToLower(levelStr) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// GetLevel returns the current log level
func (l *Logger) GetLevel() Level {
	switch v := l.lv.Level(); {
	case v < slog.LevelInfo:
		return LevelDebug
	case v < slog.LevelWarn:
		return LevelInfo
	case v < slog.LevelError:
		return LevelWarn
	default:
		return LevelError
	}
}

// GetLevelString returns the current log level as a string
func (l *Logger) GetLevelString() string {
	return levelNames[l.GetLevel()]
}

// GetLevelString returns the default logger's level as a string
func GetLevelString() string {
	return Default().GetLevelString()
}

// With returns a logger that adds attrs to every record. It shares the level
// of l.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{lv: l.lv, logger: l.logger.With(args...)}
}

// Slog exposes the underlying structured logger.
func (l *Logger) Slog() *slog.Logger { return l.logger }

// Enabled reports whether messages at level would be written.
func (l *Logger) Enabled(level Level) bool {
	return slogLevels[level] >= l.lv.Level()
}

func (l *Logger) log(level Level, format string, args ...interface{}) {
	if !l.Enabled(level) {
		return
	}
	l.logger.Log(context.Background(), slogLevels[level], fmt.Sprintf(format, args...))
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(LevelDebug, format, args...)
}

// Info logs an info message
func (l *Logger) Info(format string, args ...interface{}) {
	l.log(LevelInfo, format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(LevelWarn, format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(LevelError, format, args...)
}

// Package-level convenience functions

// SetLevel sets the default logger's level
func SetLevel(level Level) {
	Default().SetLevel(level)
}

// SetLevelFromString sets the default logger's level from a string
func SetLevelFromString(levelStr string) {
	Default().SetLevelFromString(levelStr)
}

// Debug logs a debug message to the default logger
func Debug(format string, args ...interface{}) {
	Default().Debug(format, args...)
}

// Info logs an info message to the default logger
func Info(format string, args ...interface{}) {
	Default().Info(format, args...)
}

// Warn logs a warning message to the default logger
func Warn(format string, args ...interface{}) {
	Default().Warn(format, args...)
}

// Error logs an error message to the default logger
func Error(format string, args ...interface{}) {
	Default().Error(format, args...)
}
