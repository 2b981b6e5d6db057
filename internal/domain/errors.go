package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation           = errors.New("validation failed")
	ErrNotAuthenticated     = errors.New("not authenticated")
	ErrNotFound             = errors.New("not found")
	ErrPermissionDenied     = errors.New("permission denied")
	ErrSequencerUnavailable = errors.New("order sequencer unavailable")
	ErrPersistence          = errors.New("persistence failed")
	ErrEmptyCart            = errors.New("cart is empty, nothing to checkout")
	ErrNoAddress            = errors.New("no shipping address resolved")
)

// FailedDelete records one persisted line that could not be removed.
type FailedDelete struct {
	LineID string
	Err    error
}

// PartialCleanupError reports cleanup that failed after the critical path
// already succeeded. It is logged, never surfaced as an operation failure.
type PartialCleanupError struct {
	Failed []FailedDelete
}

func (e *PartialCleanupError) Error() string {
	ids := make([]string, len(e.Failed))
	for i, f := range e.Failed {
		ids[i] = f.LineID
	}
	return fmt.Sprintf("partial cleanup failure: %d line(s) not deleted [%s]", len(e.Failed), strings.Join(ids, ", "))
}

func (e *PartialCleanupError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, f := range e.Failed {
		errs = append(errs, f.Err)
	}
	return errs
}
