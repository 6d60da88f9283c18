// Package logging provides structured logging for the transferd daemon.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger wraps zerolog with daemon-specific output routing: console for
// foreground runs, a rotated file for background runs, or both.
type Logger struct {
	zlog   zerolog.Logger
	output io.Writer
}

// Config controls where a Logger writes.
type Config struct {
	// Console enables writing to stderr. Foreground runs want this;
	// backgrounded daemons usually don't.
	Console bool

	// LogFile is the path to a rotated log file. Empty disables file output.
	LogFile string

	// Verbose lowers the level to debug.
	Verbose bool
}

// New creates a Logger per cfg. At least one of Console/LogFile should be
// set or log output is discarded.
func New(cfg Config) *Logger {
	var writers []io.Writer

	if cfg.Console {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "15:04:05",
		})
	}

	if cfg.LogFile != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    10, // MB
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		})
	}

	var output io.Writer = io.Discard
	switch len(writers) {
	case 0:
	case 1:
		output = writers[0]
	default:
		output = io.MultiWriter(writers...)
	}

	level := zerolog.InfoLevel
	if cfg.Verbose {
		level = zerolog.DebugLevel
	}

	zlog := zerolog.New(output).Level(level).With().Timestamp().Logger()

	return &Logger{zlog: zlog, output: output}
}

// NewDefault creates a console-only logger at info level, for tests and
// short-lived tools that never background themselves.
func NewDefault() *Logger {
	return New(Config{Console: true})
}

func (l *Logger) Info() *zerolog.Event  { return l.zlog.Info() }
func (l *Logger) Error() *zerolog.Event { return l.zlog.Error() }
func (l *Logger) Debug() *zerolog.Event { return l.zlog.Debug() }
func (l *Logger) Warn() *zerolog.Event  { return l.zlog.Warn() }
func (l *Logger) Fatal() *zerolog.Event { return l.zlog.Fatal() }

// With creates a child logger with additional context.
func (l *Logger) With() zerolog.Context {
	return l.zlog.With()
}

// Zerolog returns the underlying zerolog.Logger, for components (e.g.
// net/http servers) that want to install it as their own request logger.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zlog
}

func init() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "15:04:05",
	})
}
