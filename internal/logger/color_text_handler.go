package logger

import (
	"context"
	"io"
	"log/slog"
	"strings"
)

// ColorTextHandler wraps slog.TextHandler to add ANSI color codes for different log levels
type ColorTextHandler struct {
	*slog.TextHandler
	color bool
}

// NewColorTextHandler creates a new ColorTextHandler
func NewColorTextHandler(w io.Writer, opts *slog.HandlerOptions, color bool) *ColorTextHandler {
	return &ColorTextHandler{
		TextHandler: slog.NewTextHandler(w, opts),
		color:       color,
	}
}

// Handle implements slog.Handler
func (h *ColorTextHandler) Handle(ctx context.Context, r slog.Record) error {
	if !h.color {
		return h.TextHandler.Handle(ctx, r)
	}
	var colorCode string
	switch r.Level {
	case slog.LevelDebug:
		colorCode = "\033[36m" // Cyan
	case slog.LevelInfo:
		colorCode = "\033[32m" // Green
	case slog.LevelWarn:
		colorCode = "\033[33m" // Yellow
	case slog.LevelError:
		colorCode = "\033[31m" // Red
	default:
		colorCode = "\033[0m" // Reset/default
	}

	r.Message = colorCode + r.Level.String() + "\033[0m  " + r.Message
	return h.TextHandler.Handle(ctx, r)
}

// WithAttrs keeps coloring for derived loggers.
func (h *ColorTextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ColorTextHandler{TextHandler: h.TextHandler.WithAttrs(attrs).(*slog.TextHandler), color: h.color}
}

// WithGroup keeps coloring for derived loggers.
func (h *ColorTextHandler) WithGroup(name string) slog.Handler {
	return &ColorTextHandler{TextHandler: h.TextHandler.WithGroup(name).(*slog.TextHandler), color: h.color}
}

// ParseLevel maps a config string to a slog level; unknown values mean info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds the console logger used by the controller.
func New(w io.Writer, level string, color bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	return slog.New(NewColorTextHandler(w, opts, color))
}
