package log

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the root logger. Until Init runs it writes human-readable
// output at info level, so early startup failures are still visible.
var Logger = newLogger(Config{})

// Config holds logging configuration
type Config struct {
	// Level is a zerolog level name (debug, info, warn, error). Unknown
	// names fall back to info.
	Level      string
	JSONOutput bool
	Output     io.Writer
}

// Init replaces the root logger with one built from cfg. Call before
// constructing components: they capture their child loggers at creation.
func Init(cfg Config) {
	Logger = newLogger(cfg)
}

func newLogger(cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if !cfg.JSONOutput {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// WithComponent derives a child logger tagged with the component name.
// Every daemon in the node logs through one of these.
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}
