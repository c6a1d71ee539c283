package logger

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Hwoarang91/afrodita-sub000/config"
)

// NewLogger creates a logger from config. Format "json" writes raw JSON
// lines for log collectors, anything else gets the console writer.
func NewLogger(cfg *config.LoggingConfig) zerolog.Logger {
	return New(cfg.Level, cfg.Format)
}

// New creates a logger with the given level and output format
func New(level, format string) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLogLevel(level))

	var out io.Writer = os.Stdout
	if !strings.EqualFold(format, "json") {
		out = zerolog.ConsoleWriter{Out: os.Stdout}
	}

	return zerolog.New(out).
		With().
		Timestamp().
		Caller().
		Logger()
}

// parseLogLevel parses log level string to zerolog.Level
func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}
