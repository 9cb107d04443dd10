package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide root logger. Init must run before any
// component asks for a child logger.
var Logger zerolog.Logger

// Level names a log verbosity threshold.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config controls the root logger's verbosity and output shape.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

var levels = map[Level]zerolog.Level{
	DebugLevel: zerolog.DebugLevel,
	InfoLevel:  zerolog.InfoLevel,
	WarnLevel:  zerolog.WarnLevel,
	ErrorLevel: zerolog.ErrorLevel,
}

// Init configures the root logger. Unrecognized levels fall back to
// info. JSON output is meant for collectors; the console writer is for
// a human watching the foreground daemon.
func Init(cfg Config) {
	level, ok := levels[cfg.Level]
	if !ok {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if !cfg.JSONOutput {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	Logger = zerolog.New(out).With().Timestamp().Logger()
}

// WithComponent returns a child logger tagged with the owning component.
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithNodeID returns a child logger tagged with a cluster node id.
func WithNodeID(nodeID string) zerolog.Logger {
	return Logger.With().Str("node_id", nodeID).Logger()
}

// WithServiceID returns a child logger tagged with a supervised service.
func WithServiceID(serviceID string) zerolog.Logger {
	return Logger.With().Str("service_id", serviceID).Logger()
}

// WithPromptID returns a child logger tagged with a prompt.
func WithPromptID(promptID int64) zerolog.Logger {
	return Logger.With().Int64("prompt_id", promptID).Logger()
}

// WithSessionName returns a child logger tagged with a terminal session.
func WithSessionName(session string) zerolog.Logger {
	return Logger.With().Str("session", session).Logger()
}

// Package-level shorthands for call sites without their own child logger.

func Debug(msg string) { Logger.Debug().Msg(msg) }
func Info(msg string)  { Logger.Info().Msg(msg) }
func Warn(msg string)  { Logger.Warn().Msg(msg) }
func Error(msg string) { Logger.Error().Msg(msg) }
func Fatal(msg string) { Logger.Fatal().Msg(msg) }

// Errorf logs err under the given message.
func Errorf(msg string, err error) { Logger.Error().Err(err).Msg(msg) }
