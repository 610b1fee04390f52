package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/vietddude/inframate/internal/core/domain"
	"github.com/vietddude/inframate/internal/infra/storage"
)

func newTestRepo(t *testing.T) (*AttemptRepo, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := NewClient(Config{URL: "redis://" + mr.Addr(), KeyPrefix: "test"})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return NewAttemptRepo(client), mr
}

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func attempt(id string, t domain.ErrorType, offset time.Duration) domain.RecoveryAttempt {
	return domain.RecoveryAttempt{
		ID:        id,
		ErrorType: t,
		Message:   "msg " + id,
		Severity:  domain.SeverityMedium,
		State:     domain.StateFailed,
		Timestamp: base.Add(offset),
		Solution:  &domain.Solution{RootCause: "rc"},
		Data:      map[string]any{"id": id},
	}
}

func TestAttemptRepo_SaveAndGet(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()
	a := attempt("a", domain.ErrorTypeAPI, 0)

	if err := repo.Save(ctx, &a); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := repo.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Severity != domain.SeverityMedium || got.Solution == nil || got.Solution.RootCause != "rc" {
		t.Errorf("unexpected round trip: %+v", got)
	}
	if got.Data["id"] != "a" {
		t.Errorf("expected context data, got %v", got.Data)
	}

	if _, err := repo.Get(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAttemptRepo_SaveIsIdempotent(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	a := attempt("a", domain.ErrorTypeAPI, 0)
	_ = repo.Save(ctx, &a)
	changed := a
	changed.Message = "changed"
	_ = repo.Save(ctx, &changed)

	got, _ := repo.Get(ctx, "a")
	if got.Message != "msg a" {
		t.Errorf("expected first copy kept, got %q", got.Message)
	}
}

func TestAttemptRepo_List(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()
	_ = repo.SaveBatch(ctx, []domain.RecoveryAttempt{
		attempt("3", domain.ErrorTypeAPI, 3*time.Minute),
		attempt("1", domain.ErrorTypeAPI, time.Minute),
		attempt("2", domain.ErrorTypeNetwork, 2*time.Minute),
	})

	all, err := repo.List(ctx, storage.AttemptFilter{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 3 || all[0].ID != "1" || all[2].ID != "3" {
		t.Fatalf("expected ordered [1 2 3], got %v", all)
	}

	api, _ := repo.List(ctx, storage.AttemptFilter{ErrorType: domain.ErrorTypeAPI})
	if len(api) != 2 {
		t.Errorf("expected 2 api attempts, got %d", len(api))
	}

	recent, _ := repo.List(ctx, storage.AttemptFilter{Since: base.Add(2 * time.Minute)})
	if len(recent) != 2 {
		t.Errorf("expected 2 attempts since +2m, got %d", len(recent))
	}

	newest, _ := repo.List(ctx, storage.AttemptFilter{Limit: 1})
	if len(newest) != 1 || newest[0].ID != "3" {
		t.Errorf("expected newest [3], got %v", newest)
	}
}

func TestAttemptRepo_DeleteOlderThan(t *testing.T) {
	repo, mr := newTestRepo(t)
	ctx := context.Background()
	_ = repo.SaveBatch(ctx, []domain.RecoveryAttempt{
		attempt("old", domain.ErrorTypeAPI, 0),
		attempt("new", domain.ErrorTypeAPI, time.Hour),
	})

	n, err := repo.DeleteOlderThan(ctx, base.Add(time.Minute))
	if err != nil {
		t.Fatalf("DeleteOlderThan failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 deleted, got %d", n)
	}
	if mr.HGet("test:recovery_attempt_data", "old") != "" {
		t.Error("expected attempt data removed")
	}

	list, _ := repo.List(ctx, storage.AttemptFilter{})
	if len(list) != 1 || list[0].ID != "new" {
		t.Errorf("expected only [new], got %v", list)
	}
}

func TestNewClient_BadURL(t *testing.T) {
	if _, err := NewClient(Config{URL: "://bad"}); err == nil {
		t.Error("expected error for invalid URL")
	}
}
