package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/vietddude/inframate/internal/core/config"
	"github.com/vietddude/inframate/internal/core/domain"
	"github.com/vietddude/inframate/internal/infra/storage"
	"github.com/vietddude/inframate/internal/resilience/metrics"
)

// Archiver copies recovery attempts to durable storage off the hot path.
// It implements recovery.AttemptSink.
type Archiver struct {
	cfg   config.HistoryConfig
	repo  storage.AttemptRepository
	queue chan domain.RecoveryAttempt
	done  chan struct{}
}

// NewArchiver creates a new Archiver writing to repo.
func NewArchiver(cfg config.HistoryConfig, repo storage.AttemptRepository) *Archiver {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 10 * time.Second
	}
	return &Archiver{
		cfg:   cfg,
		repo:  repo,
		queue: make(chan domain.RecoveryAttempt, cfg.BufferSize),
		done:  make(chan struct{}),
	}
}

// Enqueue never blocks; attempts are dropped when the buffer is full.
func (a *Archiver) Enqueue(attempt domain.RecoveryAttempt) {
	select {
	case a.queue <- attempt:
		metrics.ArchiveQueueDepth.Set(float64(len(a.queue)))
	default:
		metrics.HistoryArchived.WithLabelValues("dropped").Inc()
		slog.Warn("[Archiver] queue full, dropping attempt", "id", attempt.ID, "type", attempt.ErrorType)
	}
}

// Done is closed once Start has flushed and returned.
func (a *Archiver) Done() <-chan struct{} {
	return a.done
}

// Start runs the archive loop until ctx is cancelled, then flushes what is left.
func (a *Archiver) Start(ctx context.Context) {
	defer close(a.done)

	ticker := time.NewTicker(a.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]domain.RecoveryAttempt, 0, a.cfg.BatchSize)
	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		a.write(ctx, batch)
		batch = batch[:0]
		metrics.ArchiveQueueDepth.Set(float64(len(a.queue)))
	}

	for {
		select {
		case <-ctx.Done():
			// Drain with a fresh deadline: the parent context is already gone.
			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.FlushTimeout)
			defer cancel()
			for {
				select {
				case attempt := <-a.queue:
					batch = append(batch, attempt)
					if len(batch) >= a.cfg.BatchSize {
						flush(shutdownCtx)
					}
				default:
					flush(shutdownCtx)
					return
				}
			}

		case attempt := <-a.queue:
			batch = append(batch, attempt)
			if len(batch) >= a.cfg.BatchSize {
				flush(ctx)
			}

		case <-ticker.C:
			flush(ctx)
		}
	}
}

func (a *Archiver) write(ctx context.Context, batch []domain.RecoveryAttempt) {
	backoff := retry.WithMaxRetries(3, retry.NewExponential(100*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := a.repo.SaveBatch(ctx, batch); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		metrics.HistoryArchived.WithLabelValues("error").Add(float64(len(batch)))
		slog.Error("[Archiver] failed to archive attempts",
			"count", len(batch),
			"error", fmt.Errorf("failed to save batch: %w", err),
		)
		return
	}
	metrics.HistoryArchived.WithLabelValues("ok").Add(float64(len(batch)))
	slog.Debug("[Archiver] archived attempts", "count", len(batch))
}
