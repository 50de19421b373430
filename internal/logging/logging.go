package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New builds the root logger for the process. Level is one of zerolog's
// level strings ("debug", "info", "warn", ...); unknown values fall back
// to info. With pretty enabled the output goes through the console writer,
// which is what the CLI wants; services and tests use plain JSON lines.
func New(level string, pretty bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	var out io.Writer = os.Stderr
	if pretty {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	}

	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}

// Nop returns a disabled logger, used as the default in library code so
// callers that don't care about logging pay nothing.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
