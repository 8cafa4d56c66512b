package service

import (
	"errors"
	"fmt"

	"github.com/example/corner/services/comments/internal/facts"
	"github.com/example/corner/services/comments/internal/store"
)

// Error taxonomy returned by every Service method. Match with errors.Is.
var (
	ErrValidation       = errors.New("validation failed")
	ErrNotFound         = errors.New("not found")
	ErrPartialFailure   = errors.New("partial failure")
	ErrStoreUnavailable = errors.New("store unavailable")
)

// ValidationError is bad caller input. Not retryable.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// PartialFailureError means the membership step committed but the counter
// could not be moved. The counter is repaired by reconciliation; callers
// should re-fetch instead of trusting any count they hold.
type PartialFailureError struct {
	CommentID string
	Op        string
	Cause     error
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("%s %s: like recorded but count not updated: %v", e.Op, e.CommentID, e.Cause)
}

func (e *PartialFailureError) Is(target error) bool { return target == ErrPartialFailure }

// classify maps store and catalog errors onto the service taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var verr *store.ValidationError
	switch {
	case errors.As(err, &verr):
		return &ValidationError{Field: verr.Field, Reason: verr.Reason}
	case errors.Is(err, store.ErrNotFound), errors.Is(err, facts.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	default:
		// ErrUnavailable, cancelled calls and anything unclassified from a backend.
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
}
