package storage

import (
	"context"
	"errors"
	"time"

	"github.com/vietddude/inframate/internal/core/domain"
)

var (
	// ErrNotFound is returned when an attempt doesn't exist
	ErrNotFound = errors.New("attempt not found")
)

// AttemptFilter narrows List results. Zero values match everything.
type AttemptFilter struct {
	ErrorType domain.ErrorType
	Since     time.Time
	// Limit keeps only the newest N attempts, still returned oldest first.
	Limit int
}

// Match reports whether a passes the type and time filters.
func (f AttemptFilter) Match(a *domain.RecoveryAttempt) bool {
	if f.ErrorType != "" && a.ErrorType != f.ErrorType {
		return false
	}
	if !f.Since.IsZero() && a.Timestamp.Before(f.Since) {
		return false
	}
	return true
}

// AttemptRepository archives recovery attempts. Attempts are immutable, so
// saving an ID twice keeps the first copy.
type AttemptRepository interface {
	// Save archives one attempt
	Save(ctx context.Context, attempt *domain.RecoveryAttempt) error

	// SaveBatch archives several attempts
	SaveBatch(ctx context.Context, attempts []domain.RecoveryAttempt) error

	// Get retrieves an attempt by ID
	Get(ctx context.Context, id string) (*domain.RecoveryAttempt, error)

	// List returns matching attempts ordered by timestamp
	List(ctx context.Context, filter AttemptFilter) ([]domain.RecoveryAttempt, error)

	// DeleteOlderThan removes attempts recorded before cutoff (retention)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
