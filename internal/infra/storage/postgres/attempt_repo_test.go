package postgres

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/vietddude/inframate/internal/core/domain"
	"github.com/vietddude/inframate/internal/infra/storage"
)

func newMockRepo(t *testing.T) (*AttemptRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewAttemptRepo(&DB{DB: sqlx.NewDb(db, "pgx")}), mock
}

var testTime = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func testAttempt() domain.RecoveryAttempt {
	return domain.RecoveryAttempt{
		ID:          "a-1",
		Timestamp:   testTime,
		ErrorType:   domain.ErrorTypeAPI,
		Message:     "rate limit exceeded",
		Severity:    domain.SeverityHigh,
		RetryCount:  1,
		Success:     true,
		Outcome:     domain.OutcomeRetry,
		State:       domain.StateDetected,
		Transitions: []domain.WorkflowState{domain.StateInitial, domain.StateDetected},
		Solution:    &domain.Solution{RootCause: "quota", Solution: "wait\nretry", Prevention: "throttle"},
		Backoff:     20 * time.Second,
		Duration:    15 * time.Millisecond,
		Data:        map[string]any{"region": "us-east-1"},
	}
}

var attemptColumnNames = []string{
	"id", "recorded_at", "error_type", "message", "severity", "retry_count", "success",
	"outcome", "state", "transitions", "reason", "root_cause", "solution_steps", "prevention",
	"backoff_ms", "duration_ms", "context_data",
}

func TestAttemptRepo_Save(t *testing.T) {
	repo, mock := newMockRepo(t)
	a := testAttempt()

	mock.ExpectExec("INSERT INTO recovery_attempts").
		WithArgs(
			"a-1", testTime, "api_error", "rate limit exceeded", "high", 1, true,
			"retry", "error_detected", "{\"initial\",\"error_detected\"}", "",
			"quota", "{\"wait\",\"retry\"}", "throttle",
			int64(20000), int64(15), sqlmock.AnyArg(),
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Save(context.Background(), &a); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestAttemptRepo_SaveBatch(t *testing.T) {
	repo, mock := newMockRepo(t)
	a, b := testAttempt(), testAttempt()
	b.ID = "a-2"
	b.Solution = nil

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO recovery_attempts")
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := repo.SaveBatch(context.Background(), []domain.RecoveryAttempt{a, b}); err != nil {
		t.Fatalf("SaveBatch failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestAttemptRepo_SaveBatch_RollbackOnError(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO recovery_attempts")
	prep.ExpectExec().WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := repo.SaveBatch(context.Background(), []domain.RecoveryAttempt{testAttempt()})
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected wrapped disk full error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestAttemptRepo_List(t *testing.T) {
	repo, mock := newMockRepo(t)

	rows := sqlmock.NewRows(attemptColumnNames).
		AddRow("a-1", testTime, "api_error", "rate limit exceeded", "high", int64(1), true,
			"retry", "error_detected", "{initial,error_detected}", "",
			"quota", "{wait,retry}", "throttle", int64(20000), int64(15), []byte(`{"region":"us-east-1"}`)).
		AddRow("a-2", testTime.Add(time.Second), "network_error", "reset", "medium", int64(0), false,
			"", "recovery_failed", "{}", "retry budget exhausted",
			nil, nil, nil, int64(0), int64(3), []byte(`{}`))

	mock.ExpectQuery("SELECT .* FROM recovery_attempts WHERE error_type = \\$1 ORDER BY recorded_at ASC").
		WithArgs("api_error").
		WillReturnRows(rows)

	got, err := repo.List(context.Background(), storage.AttemptFilter{ErrorType: domain.ErrorTypeAPI})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(got))
	}

	first := got[0]
	if first.Severity != domain.SeverityHigh {
		t.Errorf("expected high severity, got %s", first.Severity)
	}
	if first.Solution == nil || first.Solution.Solution != "wait\nretry" {
		t.Errorf("expected solution steps joined, got %+v", first.Solution)
	}
	if first.Backoff != 20*time.Second {
		t.Errorf("expected 20s backoff, got %v", first.Backoff)
	}
	if len(first.Transitions) != 2 || first.Transitions[1] != domain.StateDetected {
		t.Errorf("unexpected transitions %v", first.Transitions)
	}
	if first.Data["region"] != "us-east-1" {
		t.Errorf("expected context data, got %v", first.Data)
	}

	second := got[1]
	if second.Solution != nil {
		t.Errorf("expected no solution, got %+v", second.Solution)
	}
	if second.Data != nil {
		t.Errorf("expected empty context data to be nil, got %v", second.Data)
	}
}

func TestAttemptRepo_Get_NotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery("SELECT .* FROM recovery_attempts WHERE id = \\$1").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(attemptColumnNames))

	_, err := repo.Get(context.Background(), "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAttemptRepo_DeleteOlderThan(t *testing.T) {
	repo, mock := newMockRepo(t)
	cutoff := testTime.Add(-24 * time.Hour)

	mock.ExpectExec("DELETE FROM recovery_attempts WHERE recorded_at < \\$1").
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 7))

	n, err := repo.DeleteOlderThan(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("DeleteOlderThan failed: %v", err)
	}
	if n != 7 {
		t.Errorf("expected 7 deleted, got %d", n)
	}
}

func TestListQuery(t *testing.T) {
	query, args := listQuery(storage.AttemptFilter{
		ErrorType: domain.ErrorTypeAPI,
		Since:     testTime,
		Limit:     10,
	})

	if len(args) != 3 {
		t.Fatalf("expected 3 args, got %d", len(args))
	}
	if !strings.Contains(query, "error_type = $1 AND recorded_at >= $2") {
		t.Errorf("unexpected where clause: %s", query)
	}
	if !strings.Contains(query, "LIMIT $3") || !strings.HasSuffix(query, "ORDER BY recorded_at ASC, id ASC") {
		t.Errorf("expected newest-first limit wrapped in ascending order: %s", query)
	}
}
