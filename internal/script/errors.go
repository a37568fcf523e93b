package script

import "errors"

// Errors for script execution.
var (
	// ErrStateClosed is returned when operating on a closed state.
	ErrStateClosed = errors.New("lua state is closed")

	// ErrExecutionTimeout is returned when a call runs past its deadline.
	ErrExecutionTimeout = errors.New("lua execution timeout")

	// ErrNotFunction is returned when the called global is not a function.
	ErrNotFunction = errors.New("global is not a function")

	// ErrBadReturn is returned when a function does not return a number.
	ErrBadReturn = errors.New("function did not return a number")
)
