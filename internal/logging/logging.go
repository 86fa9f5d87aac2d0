package logging

import (
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
)

// Options control the logger built by New.
type Options struct {
	// Level is a zerolog level name; empty means info.
	Level string
	// JSON writes one JSON object per line instead of console output.
	JSON bool
	// Caller adds the file and line of each log call.
	Caller bool
}

// New creates a zerolog logger writing to w.
func New(w io.Writer, opts Options) (zerolog.Logger, error) {
	level := zerolog.InfoLevel
	if opts.Level != "" {
		l, err := zerolog.ParseLevel(opts.Level)
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("log level %q: %w", opts.Level, err)
		}
		level = l
	}

	out := w
	if !opts.JSON {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	ctx := zerolog.New(out).Level(level).With().Timestamp()
	if opts.Caller {
		ctx = ctx.Caller()
	}
	return ctx.Logger(), nil
}
