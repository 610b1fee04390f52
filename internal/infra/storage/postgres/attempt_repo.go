package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/vietddude/inframate/internal/core/domain"
	"github.com/vietddude/inframate/internal/infra/storage"
)

const attemptColumns = `id, recorded_at, error_type, message, severity, retry_count, success,
	outcome, state, transitions, reason, root_cause, solution_steps, prevention,
	backoff_ms, duration_ms, context_data`

const insertAttempt = `
	INSERT INTO recovery_attempts (` + attemptColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	ON CONFLICT (id) DO NOTHING
`

type attemptRow struct {
	ID            string         `db:"id"`
	RecordedAt    time.Time      `db:"recorded_at"`
	ErrorType     string         `db:"error_type"`
	Message       string         `db:"message"`
	Severity      string         `db:"severity"`
	RetryCount    int            `db:"retry_count"`
	Success       bool           `db:"success"`
	Outcome       string         `db:"outcome"`
	State         string         `db:"state"`
	Transitions   pq.StringArray `db:"transitions"`
	Reason        string         `db:"reason"`
	RootCause     sql.NullString `db:"root_cause"`
	SolutionSteps pq.StringArray `db:"solution_steps"`
	Prevention    sql.NullString `db:"prevention"`
	BackoffMs     int64          `db:"backoff_ms"`
	DurationMs    int64          `db:"duration_ms"`
	ContextData   []byte         `db:"context_data"`
}

// AttemptRepo implements storage.AttemptRepository using PostgreSQL.
type AttemptRepo struct {
	db *DB
}

// NewAttemptRepo creates a new PostgreSQL attempt repository.
func NewAttemptRepo(db *DB) *AttemptRepo {
	return &AttemptRepo{db: db}
}

// Save archives one attempt.
func (r *AttemptRepo) Save(ctx context.Context, a *domain.RecoveryAttempt) error {
	args, err := insertArgs(a)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, insertAttempt, args...); err != nil {
		return fmt.Errorf("failed to save attempt: %w", err)
	}
	return nil
}

// SaveBatch archives several attempts in one transaction.
func (r *AttemptRepo) SaveBatch(ctx context.Context, attempts []domain.RecoveryAttempt) error {
	if len(attempts) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PreparexContext(ctx, insertAttempt)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i := range attempts {
		args, err := insertArgs(&attempts[i])
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("failed to save attempt %s: %w", attempts[i].ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit attempts: %w", err)
	}
	return nil
}

// Get retrieves an attempt by ID.
func (r *AttemptRepo) Get(ctx context.Context, id string) (*domain.RecoveryAttempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM recovery_attempts WHERE id = $1`

	var row attemptRow
	err := r.db.GetContext(ctx, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get attempt: %w", err)
	}

	a, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// List returns matching attempts ordered by timestamp.
func (r *AttemptRepo) List(
	ctx context.Context,
	filter storage.AttemptFilter,
) ([]domain.RecoveryAttempt, error) {
	query, args := listQuery(filter)

	var rows []attemptRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}

	attempts := make([]domain.RecoveryAttempt, 0, len(rows))
	for _, row := range rows {
		a, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, nil
}

// DeleteOlderThan removes attempts recorded before cutoff.
func (r *AttemptRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM recovery_attempts WHERE recorded_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old attempts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted attempts: %w", err)
	}
	return n, nil
}

func listQuery(filter storage.AttemptFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	if filter.ErrorType != "" {
		args = append(args, string(filter.ErrorType))
		where = append(where, fmt.Sprintf("error_type = $%d", len(args)))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		where = append(where, fmt.Sprintf("recorded_at >= $%d", len(args)))
	}

	query := `SELECT ` + attemptColumns + ` FROM recovery_attempts`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}

	if filter.Limit > 0 {
		// Newest N, returned oldest first
		args = append(args, filter.Limit)
		query = fmt.Sprintf(
			`SELECT * FROM (%s ORDER BY recorded_at DESC, id DESC LIMIT $%d) newest ORDER BY recorded_at ASC, id ASC`,
			query, len(args),
		)
		return query, args
	}
	return query + ` ORDER BY recorded_at ASC, id ASC`, args
}

func insertArgs(a *domain.RecoveryAttempt) ([]any, error) {
	data := a.Data
	if data == nil {
		data = map[string]any{}
	}
	contextData, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal context data: %w", err)
	}

	transitions := make([]string, len(a.Transitions))
	for i, s := range a.Transitions {
		transitions[i] = string(s)
	}

	var (
		rootCause  sql.NullString
		steps      any
		prevention sql.NullString
	)
	if a.Solution != nil {
		rootCause = sql.NullString{String: a.Solution.RootCause, Valid: true}
		steps = pq.Array(a.Solution.Steps())
		prevention = sql.NullString{String: a.Solution.Prevention, Valid: true}
	}

	return []any{
		a.ID,
		a.Timestamp,
		string(a.ErrorType),
		a.Message,
		a.Severity.String(),
		a.RetryCount,
		a.Success,
		string(a.Outcome),
		string(a.State),
		pq.Array(transitions),
		a.Reason,
		rootCause,
		steps,
		prevention,
		a.Backoff.Milliseconds(),
		a.Duration.Milliseconds(),
		contextData,
	}, nil
}

func (row attemptRow) toDomain() (domain.RecoveryAttempt, error) {
	severity, err := domain.ParseSeverity(row.Severity)
	if err != nil {
		return domain.RecoveryAttempt{}, fmt.Errorf("failed to parse attempt %s: %w", row.ID, err)
	}

	a := domain.RecoveryAttempt{
		ID:         row.ID,
		Timestamp:  row.RecordedAt,
		ErrorType:  domain.ErrorType(row.ErrorType),
		Message:    row.Message,
		Severity:   severity,
		RetryCount: row.RetryCount,
		Success:    row.Success,
		Outcome:    domain.Outcome(row.Outcome),
		State:      domain.WorkflowState(row.State),
		Reason:     row.Reason,
		Backoff:    time.Duration(row.BackoffMs) * time.Millisecond,
		Duration:   time.Duration(row.DurationMs) * time.Millisecond,
	}
	for _, s := range row.Transitions {
		a.Transitions = append(a.Transitions, domain.WorkflowState(s))
	}
	if row.RootCause.Valid || row.SolutionSteps != nil || row.Prevention.Valid {
		a.Solution = &domain.Solution{
			RootCause:  row.RootCause.String,
			Solution:   strings.Join(row.SolutionSteps, "\n"),
			Prevention: row.Prevention.String,
		}
	}
	if len(row.ContextData) > 0 {
		if err := json.Unmarshal(row.ContextData, &a.Data); err != nil {
			return domain.RecoveryAttempt{}, fmt.Errorf("failed to unmarshal context data: %w", err)
		}
		if len(a.Data) == 0 {
			a.Data = nil
		}
	}
	return a, nil
}

var _ storage.AttemptRepository = (*AttemptRepo)(nil)
