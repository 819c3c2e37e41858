package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// Handler prints records as "[2006/01/02 15:04:05] [value]... message",
// showing attribute values only. Output is shared with the status line,
// so writes go through the same mutex.
type Handler struct {
	level slog.Leveler
	attrs []slog.Attr
	mu    *sync.Mutex
	out   io.Writer
}

func NewHandler(o io.Writer, mu *sync.Mutex, opts *slog.HandlerOptions) *Handler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	if mu == nil {
		mu = &sync.Mutex{}
	}
	level := opts.Level
	if level == nil {
		level = slog.LevelInfo
	}
	return &Handler{out: o, level: level, mu: mu}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	all := append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &Handler{level: h.level, attrs: all, out: h.out, mu: h.mu}
}

// WithGroup is a no-op: groups only qualify keys, and keys are not printed.
func (h *Handler) WithGroup(name string) slog.Handler {
	return h
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	strs := []string{r.Time.Format("[2006/01/02 15:04:05]")}
	if r.Level != slog.LevelInfo {
		strs = append(strs, fmt.Sprintf("[%s]", r.Level))
	}
	for _, a := range h.attrs {
		strs = append(strs, fmt.Sprintf("[%s]", a.Value.String()))
	}
	r.Attrs(func(a slog.Attr) bool {
		strs = append(strs, fmt.Sprintf("[%s]", a.Value.String()))
		return true
	})
	strs = append(strs, r.Message)

	line := strings.Join(strs, " ") + "\n"

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, clearLine+line)
	return err
}
