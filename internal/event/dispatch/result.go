package dispatch

import (
	"context"
	"time"
)

// Handler receives one payload. event.Handler has the same method set, so
// bus handlers satisfy it without an import cycle.
type Handler interface {
	Handle(ctx context.Context, payload any) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, payload any) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, payload any) error {
	return f(ctx, payload)
}

// Result is what Execute observed. Exactly one of Success, Error (with or
// without Skipped) and Panicked describes the outcome.
type Result struct {
	Success bool
	Error   error

	// Skipped marks a handler that never ran because ctx was already done;
	// Error then holds ctx.Err().
	Skipped bool

	Panicked   bool
	PanicValue any
	PanicStack []byte

	// Duration is zero for skipped handlers.
	Duration time.Duration
}
