// Package logging builds the slog logger used by long-running commands.
package logging

import (
	"io"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"golang.org/x/term"
)

// Log formats accepted by New.
const (
	FormatAuto = "auto"
	FormatText = "text"
	FormatJSON = "json"
)

// Logger wraps slog.Logger with a component helper.
type Logger struct {
	*slog.Logger
}

// New returns a logger writing to w. Format is "text" (tint, coloured on a
// terminal), "json", or "auto", which picks text when w is a terminal and
// JSON when it is piped or redirected. Unknown levels fall back to info.
func New(w io.Writer, level, format string) *Logger {
	if w == nil {
		w = os.Stderr
	}
	lvl := ParseLevel(level)
	tty := isTerminal(w)
	if format == FormatAuto || format == "" {
		format = FormatJSON
		if tty {
			format = FormatText
		}
	}

	var h slog.Handler
	switch format {
	case FormatText:
		h = tint.NewHandler(w, &tint.Options{
			Level:      lvl,
			TimeFormat: "15:04:05",
			NoColor:    !tty,
		})
	default:
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})
	}
	return &Logger{slog.New(h)}
}

// Discard returns a logger that drops everything. Used by tests and by
// one-shot commands that report through the terminal UI instead.
func Discard() *Logger {
	return &Logger{slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// Component returns a child logger tagged with component=name.
func (l *Logger) Component(name string) *Logger {
	return &Logger{l.Logger.With("component", name)}
}

func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
