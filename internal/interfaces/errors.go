package interfaces

import (
	"errors"
	"fmt"
)

var (
	ErrJobNotFound    = errors.New("job not found")
	ErrObjectNotFound = errors.New("object not found")
	ErrJobTerminal    = errors.New("job already in a terminal state")
	ErrLeaseHeld      = errors.New("job lease held by another worker")
	ErrLeaseLost      = errors.New("job lease no longer held")
	ErrInvalidUpdate  = errors.New("invalid job update")
)

// NotFoundError reports a referenced job or blob that does not exist.
// It matches ErrJobNotFound or ErrObjectNotFound with errors.Is.
type NotFoundError struct {
	Kind string // "job" or "object"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	switch target {
	case ErrJobNotFound:
		return e.Kind == "job"
	case ErrObjectNotFound:
		return e.Kind == "object"
	}
	return false
}

// JobNotFound builds a NotFoundError for a job id.
func JobNotFound(id string) error {
	return &NotFoundError{Kind: "job", ID: id}
}

// ObjectNotFound builds a NotFoundError for an object key.
func ObjectNotFound(key string) error {
	return &NotFoundError{Kind: "object", ID: key}
}

// TransientIOError wraps a storage or database call that failed for
// network or service reasons.
type TransientIOError struct {
	Op  string
	Err error
}

func (e *TransientIOError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientIOError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a TransientIOError unless it is nil or already
// classified as not-found.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return err
	}
	return &TransientIOError{Op: op, Err: err}
}

// IsTransient reports whether err is a TransientIOError.
func IsTransient(err error) bool {
	var t *TransientIOError
	return errors.As(err, &t)
}
