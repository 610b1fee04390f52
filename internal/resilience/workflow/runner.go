// Package workflow runs named phases under the recovery handler: every
// failure goes through classification and a recovery cycle, and phases are
// re-run while the handler says so.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/inframate/internal/core/domain"
	"github.com/vietddude/inframate/internal/infra/advisor"
	"github.com/vietddude/inframate/internal/resilience/metrics"
	"github.com/vietddude/inframate/internal/resilience/recovery"
)

// DefaultMaxCycles bounds recovery cycles per phase when loop detection is off.
const DefaultMaxCycles = 20

// PhaseStatus is the final status of one phase.
type PhaseStatus string

const (
	PhaseSucceeded PhaseStatus = "succeeded"
	PhaseFailed    PhaseStatus = "failed"
	PhaseSkipped   PhaseStatus = "skipped"
)

// RecoveryRecord is one recovery cycle run for a phase failure.
type RecoveryRecord struct {
	ErrorType domain.ErrorType     `json:"error_type"`
	Message   string               `json:"message"`
	Severity  domain.ErrorSeverity `json:"severity"`
	State     domain.WorkflowState `json:"state"`
	Success   bool                 `json:"success"`
	Backoff   time.Duration        `json:"backoff_ns,omitempty"`
	Solution  *domain.Solution     `json:"ai_solution,omitempty"`
	Reason    string               `json:"reason,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
}

// PhaseResult summarises one phase.
type PhaseResult struct {
	Name       string           `json:"name"`
	Status     PhaseStatus      `json:"status"`
	Runs       int              `json:"runs"`
	Error      string           `json:"error,omitempty"`
	Recoveries []RecoveryRecord `json:"recoveries,omitempty"`
	Duration   time.Duration    `json:"duration_ns"`
}

// Recovered reports whether the phase failed at least once and then passed.
func (p PhaseResult) Recovered() bool {
	return p.Status == PhaseSucceeded && len(p.Recoveries) > 0
}

// RecoveryDetails aggregates recovery cycles across phases.
type RecoveryDetails struct {
	Attempts  int `json:"attempts"`
	Recovered int `json:"recovered_phases"`
	Failed    int `json:"failed_phases"`
}

// Results is the document written after a workflow run.
type Results struct {
	Workflow        string          `json:"workflow"`
	Success         bool            `json:"success"`
	Autonomous      bool            `json:"autonomous"`
	Parallel        bool            `json:"parallel"`
	StartedAt       time.Time       `json:"started_at"`
	FinishedAt      time.Time       `json:"finished_at"`
	Phases          []PhaseResult   `json:"phases"`
	RecoveryDetails RecoveryDetails `json:"recovery_details"`
	ErrorReport     recovery.Report `json:"error_report"`
}

// Runner executes phases with recovery.
type Runner struct {
	name       string
	handler    *recovery.Handler
	autonomous bool
	parallel   bool
	maxCycles  int
	sleep      func(ctx context.Context, d time.Duration) error
	log        *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithAutonomous keeps running later phases after an unrecovered failure.
func WithAutonomous(v bool) Option {
	return func(r *Runner) { r.autonomous = v }
}

// WithParallel runs all phases concurrently.
func WithParallel(v bool) Option {
	return func(r *Runner) { r.parallel = v }
}

// WithMaxCycles caps recovery cycles per phase.
func WithMaxCycles(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.maxCycles = n
		}
	}
}

// WithSleep replaces the backoff wait, mainly for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Runner) { r.sleep = fn }
}

// NewRunner creates a runner named name.
func NewRunner(name string, handler *recovery.Handler, opts ...Option) *Runner {
	r := &Runner{
		name:      name,
		handler:   handler,
		maxCycles: DefaultMaxCycles,
		sleep:     sleepCtx,
		log:       slog.Default().With("workflow", name),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes phases and returns the results document. The error is
// non-nil only when ctx ended the run early.
func (r *Runner) Run(ctx context.Context, phases []Phase) (*Results, error) {
	res := &Results{
		Workflow:   r.name,
		Autonomous: r.autonomous,
		Parallel:   r.parallel,
		StartedAt:  time.Now(),
		Phases:     make([]PhaseResult, len(phases)),
	}
	for i, p := range phases {
		res.Phases[i] = PhaseResult{Name: p.Name, Status: PhaseSkipped}
	}

	var err error
	if r.parallel {
		err = r.runParallel(ctx, phases, res.Phases)
	} else {
		err = r.runSequential(ctx, phases, res.Phases)
	}
	if err == nil {
		err = ctx.Err()
	}

	res.FinishedAt = time.Now()
	res.Success = true
	for _, p := range res.Phases {
		res.RecoveryDetails.Attempts += len(p.Recoveries)
		switch {
		case p.Status != PhaseSucceeded:
			res.Success = false
			if p.Status == PhaseFailed {
				res.RecoveryDetails.Failed++
			}
		case p.Recovered():
			res.RecoveryDetails.Recovered++
		}
	}
	res.ErrorReport = r.handler.Report()

	r.log.Info("Workflow finished",
		"success", res.Success,
		"recovery_attempts", res.RecoveryDetails.Attempts,
		"duration", res.FinishedAt.Sub(res.StartedAt),
	)
	return res, err
}

func (r *Runner) runSequential(ctx context.Context, phases []Phase, results []PhaseResult) error {
	for i, p := range phases {
		if err := ctx.Err(); err != nil {
			return err
		}
		results[i] = r.runPhase(ctx, p)
		if results[i].Status == PhaseFailed && !r.autonomous {
			r.log.Warn("Skipping remaining phases", "failed_phase", p.Name)
			return nil
		}
	}
	return nil
}

// errPhaseFailed stops sibling phases when not autonomous.
var errPhaseFailed = errors.New("phase failed")

func (r *Runner) runParallel(ctx context.Context, phases []Phase, results []PhaseResult) error {
	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex

	for i, p := range phases {
		g.Go(func() error {
			pr := r.runPhase(gctx, p)
			mu.Lock()
			results[i] = pr
			mu.Unlock()
			if pr.Status == PhaseFailed && !r.autonomous {
				return fmt.Errorf("%w: %s", errPhaseFailed, p.Name)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, errPhaseFailed) {
		return err
	}
	return nil
}

func (r *Runner) runPhase(ctx context.Context, p Phase) (pr PhaseResult) {
	start := time.Now()
	pr.Name = p.Name
	log := r.log.With("phase", p.Name)
	defer func() { pr.Duration = time.Since(start) }()

	var last *recovery.Request
	for {
		pr.Runs++
		log.Info("Running phase", "run", pr.Runs)
		err := p.Run(ctx)
		if err == nil {
			if last != nil {
				r.handler.ReportSuccess(last.ErrorType, last.Message)
			}
			metrics.PhaseRuns.WithLabelValues(p.Name, "ok").Inc()
			pr.Status = PhaseSucceeded
			pr.Error = ""
			return pr
		}

		pr.Error = err.Error()
		if ctx.Err() != nil {
			metrics.PhaseRuns.WithLabelValues(p.Name, "cancelled").Inc()
			pr.Status = PhaseFailed
			return pr
		}

		req := r.request(p.Name, err)
		last = &req
		result := r.handler.Handle(ctx, req)
		pr.Recoveries = append(pr.Recoveries, RecoveryRecord{
			ErrorType: result.Attempt.ErrorType,
			Message:   req.Message,
			Severity:  result.Attempt.Severity,
			State:     result.State,
			Success:   result.Success,
			Backoff:   result.Backoff,
			Solution:  result.Solution,
			Reason:    result.Attempt.Reason,
			Timestamp: result.Attempt.Timestamp,
		})

		if !result.Success {
			log.Error("Phase failed without recovery", "error", err, "reason", result.Attempt.Reason)
			metrics.PhaseRuns.WithLabelValues(p.Name, "failed").Inc()
			pr.Status = PhaseFailed
			return pr
		}
		if len(pr.Recoveries) >= r.maxCycles {
			log.Error("Phase exceeded recovery cycles", "cycles", r.maxCycles)
			metrics.PhaseRuns.WithLabelValues(p.Name, "failed").Inc()
			pr.Status = PhaseFailed
			return pr
		}

		metrics.PhaseRuns.WithLabelValues(p.Name, "retry").Inc()
		log.Warn("Phase failed, retrying", "error", err, "state", result.State, "backoff", result.Backoff)
		if result.Backoff > 0 {
			if err := r.sleep(ctx, result.Backoff); err != nil {
				pr.Status = PhaseFailed
				return pr
			}
		}
	}
}

// request turns a phase error into a recovery request. Command output is
// used when the error text alone says too little.
func (r *Runner) request(phase string, err error) recovery.Request {
	classifier := r.handler.Classifier()
	t, sev := classifier.ClassifyError(err)

	data := map[string]any{
		advisor.KeyWorkflowName: r.name,
		advisor.KeyFailedJob:    phase,
	}

	var cerr *CommandError
	if errors.As(err, &cerr) {
		data[advisor.KeyErrorLogs] = cerr.Output
		data["exit_code"] = cerr.ExitCode
		if t == domain.ErrorTypeSystem && cerr.Output != "" {
			t, sev = classifier.Classify("", cerr.Output)
		}
	}

	return recovery.Request{
		ErrorType: string(t),
		Message:   err.Error(),
		Severity:  sev,
		Data:      data,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
