package deploycache

import (
	"errors"
	"fmt"
)

// ErrZeroAddress is returned when a deployment reports success but yields
// the zero address. Such a result is never memoized.
var ErrZeroAddress = errors.New("deployment returned the zero address")

// CacheRaceError reports that a second attempt tried to claim a slot that
// already had one in flight. The single-flight discipline prevents this;
// seeing it means the invariant is broken.
type CacheRaceError struct {
	Key Key
}

func (e *CacheRaceError) Error() string {
	return fmt.Sprintf("deployment slot %s claimed twice", e.Key)
}

// PanicError wraps a panic raised by a deployment function.
type PanicError struct {
	Key   Key
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("deployment of %s panicked: %v", e.Key, e.Value)
}

// abortedError marks an attempt that ended because the leader's context was
// done. Waiters with a live context retry instead of returning it.
type abortedError struct {
	cause error
}

func (e *abortedError) Error() string { return "deployment aborted: " + e.cause.Error() }
func (e *abortedError) Unwrap() error { return e.cause }
