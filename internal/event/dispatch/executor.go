package dispatch

import (
	"context"
	"runtime/debug"
	"time"
)

// Executor runs handlers one at a time, turning panics into results.
type Executor struct {
	timeout time.Duration
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithTimeout bounds every handler's context. Zero disables the bound.
// Handlers that ignore their context are not interrupted.
func WithTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.timeout = d
	}
}

// NewExecutor creates an executor.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs h with payload. A cancelled ctx skips the handler.
func (e *Executor) Execute(ctx context.Context, payload any, h Handler) (result Result) {
	if err := ctx.Err(); err != nil {
		return Result{Error: err, Skipped: true}
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		result.Duration = time.Since(start)
		if r := recover(); r != nil {
			result = Result{
				Panicked:   true,
				PanicValue: r,
				PanicStack: debug.Stack(),
				Duration:   result.Duration,
			}
		}
	}()

	if err := h.Handle(ctx, payload); err != nil {
		return Result{Error: err}
	}
	return Result{Success: true}
}
