// Package logging builds the process logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Output formats
const (
	FormatText = "text"
	FormatJSON = "json"
)

// ParseLevel maps debug, info, warn and error to a slog level
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}

// New returns a logger writing to stderr. Text output is colored only when
// stderr is a terminal.
func New(format string, level slog.Level) *slog.Logger {
	if format == FormatJSON {
		return NewWithWriter(os.Stderr, format, level, false)
	}
	return NewWithWriter(colorable.NewColorable(os.Stderr), format, level, isatty.IsTerminal(os.Stderr.Fd()))
}

// NewWithWriter returns a logger writing to w
func NewWithWriter(w io.Writer, format string, level slog.Level, color bool) *slog.Logger {
	if format == FormatJSON {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05.000",
		NoColor:    !color,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Loopback clients add nothing to access logs.
			if a.Key == "ip" && len(groups) == 0 {
				if v := a.Value.String(); v == "127.0.0.1" || v == "::1" {
					return slog.Attr{}
				}
			}
			return a
		},
	}))
}
