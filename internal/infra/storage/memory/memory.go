package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/inframate/internal/core/domain"
	"github.com/vietddude/inframate/internal/infra/storage"
)

// AttemptRepo keeps archived attempts in process memory.
type AttemptRepo struct {
	mu       sync.RWMutex
	attempts []domain.RecoveryAttempt
	ids      map[string]struct{}
}

func NewAttemptRepo() *AttemptRepo {
	return &AttemptRepo{ids: make(map[string]struct{})}
}

func (r *AttemptRepo) Save(ctx context.Context, attempt *domain.RecoveryAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saveLocked(*attempt)
	return nil
}

func (r *AttemptRepo) SaveBatch(ctx context.Context, attempts []domain.RecoveryAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range attempts {
		r.saveLocked(a)
	}
	return nil
}

func (r *AttemptRepo) saveLocked(a domain.RecoveryAttempt) {
	if _, ok := r.ids[a.ID]; ok {
		return
	}
	r.ids[a.ID] = struct{}{}

	// Keep timestamp order; archivers usually append in order already.
	i := sort.Search(len(r.attempts), func(i int) bool {
		return r.attempts[i].Timestamp.After(a.Timestamp)
	})
	r.attempts = append(r.attempts, domain.RecoveryAttempt{})
	copy(r.attempts[i+1:], r.attempts[i:])
	r.attempts[i] = a
}

func (r *AttemptRepo) Get(ctx context.Context, id string) (*domain.RecoveryAttempt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := range r.attempts {
		if r.attempts[i].ID == id {
			a := r.attempts[i]
			return &a, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (r *AttemptRepo) List(
	ctx context.Context,
	filter storage.AttemptFilter,
) ([]domain.RecoveryAttempt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.RecoveryAttempt
	for i := range r.attempts {
		if filter.Match(&r.attempts[i]) {
			out = append(out, r.attempts[i])
		}
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[len(out)-filter.Limit:]
	}
	return out, nil
}

func (r *AttemptRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.attempts[:0]
	var deleted int64
	for _, a := range r.attempts {
		if a.Timestamp.Before(cutoff) {
			delete(r.ids, a.ID)
			deleted++
			continue
		}
		kept = append(kept, a)
	}
	r.attempts = kept
	return deleted, nil
}

// Len returns the number of archived attempts.
func (r *AttemptRepo) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.attempts)
}
