package storage

import (
	"context"
	"errors"
)

// Error kinds. Match them with errors.Is against any error returned by a Storage.
var (
	ErrConnection   = errors.New("storage: connection failure")
	ErrQuery        = errors.New("storage: query failure")
	ErrTimeout      = errors.New("storage: timeout")
	ErrInvalidCount = errors.New("storage: invalid count")
	ErrClosed       = errors.New("storage: closed")
)

// Error carries the failing operation and its kind.
type Error struct {
	Op   string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op + ": " + e.Kind.Error()
	}
	return e.Op + ": " + e.Kind.Error() + ": " + e.Err.Error()
}

// Is matches the kind as well as the wrapped error.
func (e *Error) Is(target error) bool {
	return e.Kind == target
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap attaches op and kind to err. A nil err stays nil; an err that already
// carries a kind keeps it.
func Wrap(op string, kind, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		kind = ErrTimeout
	}
	return &Error{Op: op, Kind: kind, Err: err}
}

// Retryable reports whether err is a transient failure worth retrying.
func Retryable(err error) bool {
	return errors.Is(err, ErrConnection) || errors.Is(err, ErrTimeout)
}
