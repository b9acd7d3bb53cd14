// Package logger configures the process-wide zerolog logger.
package logger

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	defaultLogger zerolog.Logger
	once          sync.Once
)

// Init configures the default logger. format is "console" or "json"; the
// console writer is meant for interactive CLI runs, JSON for the server.
// It is safe to call Init more than once; only the first call takes effect.
func Init(level string, format string) {
	once.Do(func() {
		lvl, err := zerolog.ParseLevel(strings.ToLower(level))
		if err != nil || level == "" {
			lvl = zerolog.InfoLevel
		}

		var out io.Writer = os.Stderr
		if format != "json" {
			out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
		}

		defaultLogger = zerolog.New(out).Level(lvl).With().Timestamp().Logger()
	})
}

// Get returns the default logger, initializing it with defaults if needed.
func Get() zerolog.Logger {
	Init("info", "console")
	return defaultLogger
}

// With returns the default logger tagged with a component name.
func With(component string) zerolog.Logger {
	return Get().With().Str("component", component).Logger()
}
