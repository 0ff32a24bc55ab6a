// Package buildlog provides the structured, leveled logging used
// throughout ldmini, replacing ad hoc fmt.Fprintf tracing with a
// slog.Logger fanned out (via samber/slog-multi) to a colorized console
// handler and, optionally, a plain file handler.
package buildlog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/fatih/color"
	slogmulti "github.com/samber/slog-multi"
)

// Logger wraps *slog.Logger; today it adds nothing beyond the embedded
// type, but gives every ldmini call site one name to import regardless of
// how the underlying handler chain changes.
type Logger struct {
	*slog.Logger
}

// New builds a Logger writing colorized text to stderr at Info level (or
// Debug when verbose is true), and, if logFile is non-empty, a second
// plain-text handler writing every record at Debug level to that file
// regardless of the console level. The returned close function flushes and
// closes the file handler, if one was opened; it is always safe to call
// and the caller must defer it.
func New(verbose bool, logFile string) (*Logger, func() error, error) {
	consoleLevel := slog.LevelInfo
	if verbose {
		consoleLevel = slog.LevelDebug
	}

	handlers := []slog.Handler{newConsoleHandler(os.Stderr, consoleLevel)}
	closeFn := func() error { return nil }

	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, closeFn, err
		}
		handlers = append(handlers, slog.NewTextHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug}))
		closeFn = f.Close
	}

	fanout := slogmulti.Fanout(handlers...)
	return &Logger{Logger: slog.New(fanout)}, closeFn, nil
}

// consoleHandler is a minimal slog.Handler that colorizes the level
// prefix of each record using fatih/color, printing "time level msg
// key=val ...". color.NoColor (set globally by fatih/color based on
// terminal detection) downgrades it to plain text automatically.
type consoleHandler struct {
	mu     *sync.Mutex
	w      io.Writer
	level  slog.Level
	attrs  []slog.Attr
	prefix string
}

func newConsoleHandler(w io.Writer, level slog.Level) *consoleHandler {
	return &consoleHandler{mu: &sync.Mutex{}, w: w, level: level}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *consoleHandler) Handle(_ context.Context, r slog.Record) error {
	levelColor := colorForLevel(r.Level)
	line := fmt.Sprintf("%s %s %s%s", r.Time.Format("15:04:05.000"),
		levelColor.Sprint(r.Level.String()), h.prefix, r.Message)

	r.Attrs(func(a slog.Attr) bool {
		line += fmt.Sprintf(" %s=%v", a.Key, a.Value)
		return true
	})
	for _, a := range h.attrs {
		line += fmt.Sprintf(" %s=%v", a.Key, a.Value)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := fmt.Fprintln(h.w, line)
	return err
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &next
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	next := *h
	next.prefix = h.prefix + name + "."
	return &next
}

func colorForLevel(level slog.Level) *color.Color {
	switch {
	case level >= slog.LevelError:
		return color.New(color.FgRed, color.Bold)
	case level >= slog.LevelWarn:
		return color.New(color.FgYellow)
	case level >= slog.LevelInfo:
		return color.New(color.FgCyan)
	default:
		return color.New(color.FgWhite)
	}
}
