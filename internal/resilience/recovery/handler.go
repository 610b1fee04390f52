package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/vietddude/inframate/internal/core/domain"
	"github.com/vietddude/inframate/internal/infra/advisor"
	"github.com/vietddude/inframate/internal/resilience/metrics"
)

// DefaultAdvisorTimeout bounds the advisor call when none is configured.
const DefaultAdvisorTimeout = 20 * time.Second

// Request is one error signal handed to the handler.
type Request struct {
	ErrorType string
	Message   string
	Severity  domain.ErrorSeverity // unspecified = classifier default
	Data      map[string]any
}

// Result is the outcome of one recovery cycle.
//
// Success means either the strategy recovered the error (State RESOLVED) or
// the caller should retry the failed operation itself after Backoff
// (State DETECTED). The handler never re-runs the operation.
type Result struct {
	Success  bool
	Solution *domain.Solution
	State    domain.WorkflowState
	Outcome  domain.Outcome
	Backoff  time.Duration
	Attempt  domain.RecoveryAttempt
}

// ShouldRetry reports whether the caller is expected to re-run the operation.
func (r Result) ShouldRetry() bool {
	return r.Success && r.State == domain.StateDetected
}

// Handler is the error loop state machine:
//
//	INITIAL -> DETECTED -> ANALYZING -> RECOVERY -> RESOLVED | DETECTED | FAILED
type Handler struct {
	classifier     *Classifier
	registry       *Registry
	supervisor     *Supervisor
	advisor        advisor.Advisor
	advisorTimeout atomic.Int64
	log            *slog.Logger
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithAdvisor sets the advisor consulted in the ANALYZING state.
func WithAdvisor(a advisor.Advisor) HandlerOption {
	return func(h *Handler) { h.advisor = a }
}

// WithAdvisorTimeout bounds each advisor call.
func WithAdvisorTimeout(d time.Duration) HandlerOption {
	return func(h *Handler) { h.SetAdvisorTimeout(d) }
}

// WithClassifier replaces the default classifier.
func WithClassifier(c *Classifier) HandlerOption {
	return func(h *Handler) { h.classifier = c }
}

// WithRegistry replaces the default, pre-seeded registry.
func WithRegistry(r *Registry) HandlerOption {
	return func(h *Handler) { h.registry = r }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) HandlerOption {
	return func(h *Handler) { h.log = log }
}

// NewHandler creates a handler around an existing supervisor.
func NewHandler(supervisor *Supervisor, opts ...HandlerOption) *Handler {
	h := &Handler{
		classifier: NewClassifier(),
		registry:   NewRegistry(),
		supervisor: supervisor,
		advisor:    advisor.Nop{},
		log:        slog.Default(),
	}
	h.advisorTimeout.Store(int64(DefaultAdvisorTimeout))
	for _, opt := range opts {
		opt(h)
	}
	for _, t := range h.registry.Types() {
		h.classifier.Register(t)
	}
	return h
}

// Supervisor returns the supervisor the handler records into.
func (h *Handler) Supervisor() *Supervisor {
	return h.supervisor
}

// Classifier returns the handler's classifier.
func (h *Handler) Classifier() *Classifier {
	return h.classifier
}

// SetAdvisorTimeout changes the advisor bound; non-positive values restore the default.
func (h *Handler) SetAdvisorTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultAdvisorTimeout
	}
	h.advisorTimeout.Store(int64(d))
}

// AdvisorTimeout returns the current advisor bound.
func (h *Handler) AdvisorTimeout() time.Duration {
	return time.Duration(h.advisorTimeout.Load())
}

// RegisterRecoveryStrategy adds a strategy for errorType and makes the type
// a recognised classifier hint.
func (h *Handler) RegisterRecoveryStrategy(errorType string, fn StrategyFunc) {
	t := domain.NormalizeErrorType(errorType)
	h.registry.Register(t, fn)
	h.classifier.Register(t)
}

// HandleError runs one recovery cycle and reports (success, solution).
// It never panics; internal faults come back as (false, nil).
func (h *Handler) HandleError(
	ctx context.Context,
	errorType string,
	message string,
	severity domain.ErrorSeverity,
	data map[string]any,
) (bool, *domain.Solution) {
	res := h.Handle(ctx, Request{
		ErrorType: errorType,
		Message:   message,
		Severity:  severity,
		Data:      data,
	})
	return res.Success, res.Solution
}

// ReportSuccess tells the handler the operation retried after a DETECTED
// result succeeded. The error's cycle is closed and a RESOLVED attempt is
// added to the history.
func (h *Handler) ReportSuccess(errorType, message string) {
	t, _ := h.classifier.Classify(errorType, message)
	attempt, ok := h.supervisor.Resolve(t, message)
	if !ok {
		h.log.Debug("No open error cycle to resolve", "error_type", t)
		return
	}
	metrics.RecoveryOutcomes.WithLabelValues(string(t), string(domain.StateResolved)).Inc()
	h.log.Info("Retried operation succeeded", "error_type", t, "retry_count", attempt.RetryCount)
}

// Handle runs one recovery cycle and returns the full result.
func (h *Handler) Handle(ctx context.Context, req Request) (res Result) {
	c := &cycle{start: time.Now()}
	c.enter(domain.StateInitial)

	defer func() {
		if r := recover(); r != nil {
			h.log.Error("Recovery handler fault", "error_type", req.ErrorType, "panic", r)
			res = h.faulted(c, fmt.Sprintf("internal fault: %v", r))
		}
	}()

	c.enter(domain.StateDetected)
	errType, defaultSeverity := h.classifier.Classify(req.ErrorType, req.Message)
	severity := req.Severity
	if !severity.Valid() {
		severity = defaultSeverity
	}
	c.ectx = domain.NewErrorContext(errType, req.Message, severity, req.Data)
	metrics.ErrorsDetected.WithLabelValues(string(errType), severity.String()).Inc()
	h.log.Warn("Error encountered", "error_type", errType, "severity", severity, "message", req.Message)

	c.decision = h.supervisor.Admit(c.ectx)

	strategies := h.registry.Lookup(errType)
	if len(strategies) == 0 {
		return h.finish(c, domain.StateFailed, domain.OutcomeNone, "no recovery strategy registered")
	}

	c.enter(domain.StateAnalyzing)
	c.solution = h.consultAdvisor(ctx, c.ectx)

	c.enter(domain.StateRecovery)
	if !c.decision.Allowed {
		return h.finish(c, domain.StateFailed, domain.OutcomeNone, c.decision.Reason)
	}

	outcome := h.evaluate(strategies, c.ectx)
	switch outcome {
	case domain.OutcomeRecovered:
		return h.finish(c, domain.StateResolved, outcome, "")
	case domain.OutcomeRetry:
		c.backoff = h.supervisor.ComputeBackoff(c.ectx)
		return h.finish(c, domain.StateDetected, outcome, "")
	case domain.OutcomeEscalate:
		return h.finish(c, domain.StateFailed, outcome, "strategy escalated")
	default:
		return h.finish(c, domain.StateFailed, outcome, "no strategy could handle the error")
	}
}

// cycle carries the in-flight state of one Handle call.
type cycle struct {
	start       time.Time
	transitions []domain.WorkflowState
	ectx        *domain.ErrorContext
	decision    Decision
	solution    *domain.Solution
	backoff     time.Duration
	recorded    bool
}

func (c *cycle) enter(s domain.WorkflowState) {
	c.transitions = append(c.transitions, s)
}

func (h *Handler) finish(
	c *cycle,
	state domain.WorkflowState,
	outcome domain.Outcome,
	reason string,
) Result {
	c.enter(state)
	success := state == domain.StateResolved || state == domain.StateDetected

	attempt := h.supervisor.Complete(c.ectx, c.decision, domain.RecoveryAttempt{
		Success:     success,
		Outcome:     outcome,
		State:       state,
		Transitions: c.transitions,
		Reason:      reason,
		Solution:    c.solution,
		Backoff:     c.backoff,
		Duration:    time.Since(c.start),
	})
	c.recorded = true

	metrics.RecoveryOutcomes.WithLabelValues(string(c.ectx.Type), string(state)).Inc()
	if c.backoff > 0 {
		metrics.BackoffSeconds.WithLabelValues(string(c.ectx.Type)).Observe(c.backoff.Seconds())
	}

	switch state {
	case domain.StateFailed:
		h.log.Error("Unrecoverable error",
			"error_type", c.ectx.Type,
			"severity", c.ectx.Severity,
			"retry_count", c.ectx.RetryCount,
			"reason", reason,
		)
	case domain.StateDetected:
		h.log.Info("Retry advised",
			"error_type", c.ectx.Type,
			"retry_count", c.ectx.RetryCount,
			"backoff", c.backoff,
		)
	default:
		h.log.Info("Successfully recovered", "error_type", c.ectx.Type)
	}

	return Result{
		Success:  success,
		Solution: c.solution,
		State:    state,
		Outcome:  outcome,
		Backoff:  c.backoff,
		Attempt:  attempt,
	}
}

// faulted turns a recovered panic into a FAILED result, recording the
// attempt if the cycle got far enough to have a context.
func (h *Handler) faulted(c *cycle, reason string) (res Result) {
	res = Result{State: domain.StateFailed}
	if c.ectx == nil || c.recorded {
		return res
	}
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("Failed to record faulted attempt", "panic", r)
		}
	}()
	c.solution = nil
	c.backoff = 0
	res = h.finish(c, domain.StateFailed, domain.OutcomeNone, reason)
	res.Solution = nil
	return res
}

// evaluate tries strategies in order until one decides. A panicking
// strategy counts as undecided.
func (h *Handler) evaluate(strategies []Strategy, ectx *domain.ErrorContext) domain.Outcome {
	for i, s := range strategies {
		outcome := h.safeEvaluate(s, ectx)
		h.log.Debug("Recovery strategy evaluated", "error_type", ectx.Type, "index", i, "outcome", outcome)
		if outcome != domain.OutcomeNone {
			return outcome
		}
	}
	return domain.OutcomeNone
}

func (h *Handler) safeEvaluate(s Strategy, ectx *domain.ErrorContext) (outcome domain.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("Recovery strategy panicked", "error_type", ectx.Type, "panic", r)
			outcome = domain.OutcomeNone
		}
	}()
	return s.Evaluate(ectx)
}

type advisorResult struct {
	solution *domain.Solution
	err      error
}

// consultAdvisor asks the advisor in its own goroutine and gives up once the
// timeout elapses; a late answer is dropped.
func (h *Handler) consultAdvisor(ctx context.Context, ectx *domain.ErrorContext) *domain.Solution {
	if h.advisor == nil {
		return nil
	}

	actx, cancel := context.WithTimeout(ctx, h.AdvisorTimeout())
	defer cancel()

	req := advisor.NewRequest(ectx)
	done := make(chan advisorResult, 1)
	start := time.Now()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- advisorResult{err: fmt.Errorf("advisor panic: %v", r)}
			}
		}()
		sol, err := h.advisor.Advise(actx, req)
		done <- advisorResult{solution: sol, err: err}
	}()

	select {
	case r := <-done:
		metrics.AdvisorLatency.Observe(time.Since(start).Seconds())
		if r.err != nil {
			metrics.AdvisorCalls.WithLabelValues("error").Inc()
			h.log.Warn("Advisor lookup failed", "error_type", ectx.Type, "error", r.err)
			return nil
		}
		metrics.AdvisorCalls.WithLabelValues("ok").Inc()
		return r.solution
	case <-actx.Done():
		metrics.AdvisorCalls.WithLabelValues("timeout").Inc()
		h.log.Warn("Advisor lookup abandoned", "error_type", ectx.Type, "error", actx.Err())
		return nil
	}
}
