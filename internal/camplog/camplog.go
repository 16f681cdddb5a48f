// Package camplog provides the structured logging used across the campaign
// orchestrator, wrapping zerolog the way the rest of this ecosystem does.
package camplog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance, configured once via Init.
var Logger zerolog.Logger

// Level names accepted by Config.Level.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config controls the global logger.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init initializes the global logger. Safe to call once at process startup.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// WithComponent returns a child logger tagged with the given component name,
// e.g. "coordinator", "manager", "task".
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithRunDir returns a child logger tagged with the campaign run directory.
func WithRunDir(runDir string) zerolog.Logger {
	return Logger.With().Str("run_dir", runDir).Logger()
}

// WithTask returns a child logger tagged with a task name (e.g. "uni0042").
func WithTask(name string) zerolog.Logger {
	return Logger.With().Str("task", name).Logger()
}

func init() {
	// Sensible default so packages that log before Init is called (e.g. in
	// tests) still produce readable output instead of silently discarding.
	Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
}
