package engine

import (
	"errors"
	"fmt"
)

// ErrStopped is returned by blocking calls once the engine is torn down.
var ErrStopped = errors.New("engine stopped")

// TransitionError reports an event the state table does not allow from the
// current state. The Run loop logs these; they never reach callers.
type TransitionError struct {
	Event string
	From  Kind
	Err   error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("transition %q not allowed from %s: %v", e.Event, e.From, e.Err)
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}

// IsTransitionError reports whether err is a rejected transition.
func IsTransitionError(err error) bool {
	var te *TransitionError
	return errors.As(err, &te)
}
