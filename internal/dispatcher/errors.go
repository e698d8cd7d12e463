package dispatcher

import (
	"errors"
	"fmt"
)

var (
	// ErrListenerPanic is matched by every PanicError.
	ErrListenerPanic = errors.New("listener panicked")

	// ErrInvalidPattern is returned for an empty event pattern.
	ErrInvalidPattern = errors.New("invalid event pattern")
)

// PanicError wraps a value recovered from a listener.
type PanicError struct {
	Pattern string
	Event   string
	Value   any
	Stack   string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("listener on %q panicked for event %q: %v", e.Pattern, e.Event, e.Value)
}

// Is allows errors.Is to match PanicError with ErrListenerPanic.
func (e *PanicError) Is(target error) bool { return target == ErrListenerPanic }
