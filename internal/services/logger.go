package services

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger defines common logging interface for all services
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
}

// ProductionLogger writes leveled records through slog, tagged with the
// service name.
type ProductionLogger struct {
	logger *slog.Logger
	level  *slog.LevelVar
}

// NewProductionLogger creates a logger writing to w. JSON output is meant for
// production, text output for a developer terminal.
func NewProductionLogger(service string, w io.Writer, structured bool) *ProductionLogger {
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if structured {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return &ProductionLogger{
		logger: slog.New(handler).With("service", service),
		level:  level,
	}
}

// SetLevel updates the logging level
func (p *ProductionLogger) SetLevel(level slog.Level) {
	p.level.Set(level)
}

// Slog exposes the underlying logger for packages that take *slog.Logger.
func (p *ProductionLogger) Slog() *slog.Logger {
	return p.logger
}

func (p *ProductionLogger) Info(msg string, keysAndValues ...interface{}) {
	p.logger.Info(msg, keysAndValues...)
}

func (p *ProductionLogger) Error(msg string, keysAndValues ...interface{}) {
	p.logger.Error(msg, keysAndValues...)
}

func (p *ProductionLogger) Debug(msg string, keysAndValues ...interface{}) {
	p.logger.Debug(msg, keysAndValues...)
}

func (p *ProductionLogger) Warn(msg string, keysAndValues ...interface{}) {
	p.logger.Warn(msg, keysAndValues...)
}

// NoOpLogger is a logger that does nothing (for testing)
type NoOpLogger struct{}

func (n *NoOpLogger) Info(msg string, keysAndValues ...interface{})  {}
func (n *NoOpLogger) Error(msg string, keysAndValues ...interface{}) {}
func (n *NoOpLogger) Debug(msg string, keysAndValues ...interface{}) {}
func (n *NoOpLogger) Warn(msg string, keysAndValues ...interface{})  {}

// NewLogger builds the process logger from GO_ENV and LOG_LEVEL.
func NewLogger(service string) Logger {
	env := os.Getenv("GO_ENV")
	if env == "test" {
		return &NoOpLogger{}
	}

	logger := NewProductionLogger(service, os.Stdout, env == "production")
	logger.SetLevel(ParseLevel(os.Getenv("LOG_LEVEL")))
	return logger
}

// ParseLevel maps a LOG_LEVEL value to a slog level, defaulting to INFO.
func ParseLevel(value string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
