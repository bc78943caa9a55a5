package sieve

import (
	"log/slog"

	"github.com/foxcpp/go-sieve/ast"
)

// SlogErrorHandler adapts a *slog.Logger into an ErrorHandler, so a host
// that already logs with log/slog doesn't need CollectingErrorHandler's
// buffer-then-print dance for interactive use (CollectingErrorHandler
// remains the right choice when the caller wants to inspect the full
// diagnostic list before deciding what to do with it, e.g. returning them
// over an API). Warnings and errors log at their matching slog level with
// the source position attached as structured fields; Critical logs at
// Error level tagged "critical".
type SlogErrorHandler struct {
	Log *slog.Logger
}

// NewSlogErrorHandler wraps log, or slog.Default() if log is nil.
func NewSlogErrorHandler(log *slog.Logger) *SlogErrorHandler {
	if log == nil {
		log = slog.Default()
	}
	return &SlogErrorHandler{Log: log}
}

func (h *SlogErrorHandler) Warning(pos ast.Position, msg string) {
	h.Log.Warn(msg, "line", pos.Line, "col", pos.Col)
}

func (h *SlogErrorHandler) Error(pos ast.Position, msg string) {
	h.Log.Error(msg, "line", pos.Line, "col", pos.Col)
}

func (h *SlogErrorHandler) Critical(msg string) {
	h.Log.Error(msg, "critical", true)
}
