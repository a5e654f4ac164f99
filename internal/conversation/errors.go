package conversation

import (
	"errors"
	"fmt"
)

// Kind classifies failures of a reply cycle.
type Kind string

const (
	KindCompletion  Kind = "completion"
	KindStore       Kind = "store"
	KindCompression Kind = "compression"
)

var (
	// ErrCompletion matches any failure of the completion engine, including
	// timeouts and empty output.
	ErrCompletion = errors.New("completion failed")
	// ErrStore matches any failed store read, append or clear.
	ErrStore = errors.New("store operation failed")
	// ErrCompression matches a failed compression cycle. It wraps the
	// completion or store error that stopped the cycle.
	ErrCompression = errors.New("compression failed")

	errEmptyCompletion = errors.New("completion returned no text")
)

// Error carries the failure kind and the operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s failure", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s failure: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	switch target {
	case ErrCompletion:
		return e.Kind == KindCompletion
	case ErrStore:
		return e.Kind == KindStore
	case ErrCompression:
		return e.Kind == KindCompression
	default:
		return false
	}
}

// KindOf returns the outermost failure kind in err's chain, or "" when err
// did not come from this package.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func completionError(op string, err error) error {
	return &Error{Kind: KindCompletion, Op: op, Err: err}
}

func storeError(op string, err error) error {
	return &Error{Kind: KindStore, Op: op, Err: err}
}
