package defcon

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrUnauthorized           = errors.New("Unauthorized")
	ErrInvalidStateTransition = errors.New("InvalidStateTransition")
	ErrTimelockNotExpired     = errors.New("TimelockNotExpired")
	ErrInvalidArgument        = errors.New("InvalidArgument")

	ErrReplayDiverged = errors.New("audit replay diverged")
)

// Error carries the operation and kind of a rejected call.
type Error struct {
	Op     string
	Kind   error
	Detail string
	// Remaining is set for TimelockNotExpired.
	Remaining time.Duration
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func reject(op string, kind error, format string, args ...any) *Error {
	return &Error{Op: op, Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// KindOf returns the stable error kind name for err, or "" when err is not a
// governance rejection.
func KindOf(err error) string {
	for _, kind := range []error{
		ErrUnauthorized,
		ErrInvalidStateTransition,
		ErrTimelockNotExpired,
		ErrInvalidArgument,
	} {
		if errors.Is(err, kind) {
			return kind.Error()
		}
	}
	return ""
}
