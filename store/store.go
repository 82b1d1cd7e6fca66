// Package store holds the persistence error taxonomy shared by the merge, rank and vote paths.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors shared across all persistence callers.
var (
	ErrPersistenceTimeout = errors.New("persistence timeout")
	ErrStaleWriteConflict = errors.New("stale write conflict")
)

// DefaultTimeout bounds a persistence call when the caller configured none.
const DefaultTimeout = 3 * time.Second

// WithTimeout derives a bounded context for a single persistence call.
func WithTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = DefaultTimeout
	}
	return context.WithTimeout(ctx, d)
}

// Classify maps driver and context errors onto the shared taxonomy. Deadline errors become
// ErrPersistenceTimeout (wrapping the original); anything else is returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrPersistenceTimeout) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrPersistenceTimeout, err)
	}
	return err
}

// IsTransient reports whether the caller may safely retry the whole operation.
func IsTransient(err error) bool {
	return errors.Is(err, ErrPersistenceTimeout) || errors.Is(err, ErrStaleWriteConflict)
}
