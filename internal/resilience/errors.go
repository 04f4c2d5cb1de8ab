package resilience

import "errors"

var (
	// ErrCircuitOpen is returned without invoking the wrapped operation.
	ErrCircuitOpen = errors.New("circuit open")

	// ErrTimeout is returned when an operation exceeds its wall-clock bound.
	// The operation itself is abandoned; no partial result is salvaged.
	ErrTimeout = errors.New("operation timed out")
)
