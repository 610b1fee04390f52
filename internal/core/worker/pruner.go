package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/inframate/internal/core/config"
	"github.com/vietddude/inframate/internal/infra/storage"
	"github.com/vietddude/inframate/internal/resilience/metrics"
)

// Pruner deletes archived attempts based on retention policy.
type Pruner struct {
	cfg  config.HistoryConfig
	repo storage.AttemptRepository
	now  func() time.Time
}

// NewPruner creates a new Pruner worker.
func NewPruner(cfg config.HistoryConfig, repo storage.AttemptRepository) *Pruner {
	return &Pruner{
		cfg:  cfg,
		repo: repo,
		now:  time.Now,
	}
}

// Start runs the pruner loop.
func (p *Pruner) Start(ctx context.Context) {
	if p.cfg.Retention <= 0 {
		return // Retention disabled
	}

	// Check at 10% of the retention period, between 1 minute and 1 hour
	interval := min(p.cfg.Retention/10, 1*time.Hour)
	interval = max(interval, 1*time.Minute)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Initial prune
	p.prune(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.prune(ctx)
		}
	}
}

func (p *Pruner) prune(ctx context.Context) int64 {
	cutoff := p.now().Add(-p.cfg.Retention)

	n, err := p.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		slog.Error("[Pruner] failed to prune recovery attempts", "cutoff", cutoff, "error", err)
		return 0
	}
	if n > 0 {
		metrics.HistoryPruned.Add(float64(n))
		slog.Info("[Pruner] pruned recovery attempts", "count", n, "cutoff", cutoff)
	}
	return n
}
