// Package obslog provides structured logging, generalized from the
// teacher's internal/logging package: same zerolog console/file
// multi-writer setup and lumberjack rotation, with event helpers
// renamed from trade/order/decision/alert to the query-engine and
// write-path events this domain actually emits.
package obslog

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds logging configuration.
type Config struct {
	Level      string
	Console    bool
	File       bool
	FilePath   string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
}

// DefaultConfig returns the default logging configuration.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		Level:      "info",
		Console:    true,
		File:       true,
		FilePath:   filepath.Join(home, ".config", "alphahistory", "logs", "engine.log"),
		MaxSize:    100,
		MaxBackups: 7,
		MaxAge:     30,
	}
}

// New creates a logger with the default configuration.
func New() zerolog.Logger {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates a logger per cfg.
func NewWithConfig(cfg Config) zerolog.Logger {
	var writers []io.Writer

	if cfg.Console {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	}

	if cfg.File {
		logDir := filepath.Dir(cfg.FilePath)
		if err := os.MkdirAll(logDir, 0o755); err == nil {
			writers = append(writers, &lumberjack.Logger{
				Filename:   cfg.FilePath,
				MaxSize:    cfg.MaxSize,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAge,
				Compress:   true,
			})
		}
	}

	var writer io.Writer
	switch len(writers) {
	case 0:
		writer = os.Stdout
	case 1:
		writer = writers[0]
	default:
		writer = zerolog.MultiLevelWriter(writers...)
	}

	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	return zerolog.New(writer).With().Timestamp().Caller().Logger()
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

type contextKey string

const loggerKey contextKey = "obslog.logger"

// WithLogger attaches logger to ctx.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext retrieves the logger attached to ctx, or a no-op logger.
func FromContext(ctx context.Context) zerolog.Logger {
	if logger, ok := ctx.Value(loggerKey).(zerolog.Logger); ok {
		return logger
	}
	return zerolog.Nop()
}

// WithSymbol scopes logger to a symbol.
func WithSymbol(logger zerolog.Logger, symbol string) zerolog.Logger {
	return logger.With().Str("symbol", symbol).Logger()
}

// WithPartition scopes logger to a (symbol, session) partition.
func WithPartition(logger zerolog.Logger, symbol, session string) zerolog.Logger {
	return logger.With().Str("symbol", symbol).Str("session", session).Logger()
}

// LogQuery logs a completed chain snapshot query.
func LogQuery(logger zerolog.Logger, symbol string, at time.Time, rows int, duration time.Duration, err error) {
	event := logger.Info().
		Str("event", "query").
		Str("symbol", symbol).
		Time("at", at).
		Int("rows", rows).
		Dur("duration", duration)
	if err != nil {
		event.Err(err).Msg("chain snapshot query failed")
		return
	}
	event.Msg("chain snapshot query completed")
}

// LogWrite logs a partition write (bars, chain, or snapshots).
func LogWrite(logger zerolog.Logger, symbol, fileName string, records int, err error) {
	event := logger.Info().
		Str("event", "write").
		Str("symbol", symbol).
		Str("file", fileName).
		Int("records", records)
	if err != nil {
		event.Err(err).Msg("partition write failed")
		return
	}
	event.Msg("partition write completed")
}

// LogVerify logs a manifest/session verification outcome.
func LogVerify(logger zerolog.Logger, symbol, session, status string, violations int) {
	logger.Info().
		Str("event", "verify").
		Str("symbol", symbol).
		Str("session", session).
		Str("status", status).
		Int("violations", violations).
		Msg("integrity verification completed")
}

// LogRetry logs a transient storage-busy retry attempt.
func LogRetry(logger zerolog.Logger, op string, attempt int, delay time.Duration, err error) {
	logger.Warn().
		Str("event", "retry").
		Str("operation", op).
		Int("attempt", attempt).
		Dur("delay", delay).
		Err(err).
		Msg("retrying after transient storage error")
}
