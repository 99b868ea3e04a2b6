// Package logging configures the process-wide slog logger: colored terminal
// output via tint when stderr is a TTY, JSON otherwise.
package logging

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// Level is the global atomic log level, adjustable at runtime.
var Level = new(slog.LevelVar) // default: INFO

// Setup installs the default slog logger. The level string is one of
// debug, info, warn, error (case-insensitive); empty means info.
func Setup(level string) error {
	if level != "" {
		l, err := ParseLevel(level)
		if err != nil {
			return err
		}
		Level.Set(l)
	}

	var handler slog.Handler
	if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		handler = tint.NewHandler(os.Stderr, &tint.Options{
			Level:      Level,
			TimeFormat: time.TimeOnly,
		})
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: Level,
		})
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

// ParseLevel converts "debug", "info", "warn", "error" to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	err := l.UnmarshalText([]byte(strings.ToUpper(s)))
	return l, err
}
