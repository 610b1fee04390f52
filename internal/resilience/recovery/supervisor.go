package recovery

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vietddude/inframate/internal/core/domain"
	"github.com/vietddude/inframate/internal/resilience/metrics"
)

// AttemptSink receives every attempt as it is appended to the history.
// Enqueue is called inside the supervisor's critical section and must not block.
type AttemptSink interface {
	Enqueue(attempt domain.RecoveryAttempt)
}

// Decision is the supervisor's verdict for one error occurrence.
type Decision struct {
	Allowed      bool
	LoopDetected bool
	RetryCount   int
	MaxRetries   int
	Occurrences  int
	Reason       string

	key      signature
	reserved bool
}

type signatureState struct {
	retryCount  int
	severity    domain.ErrorSeverity
	inFlight    int
	lastAttempt time.Time
	occurrences []time.Time
}

// Supervisor owns retry counters, backoff computation, loop detection and
// the error history. One mutex covers counter updates and history appends.
type Supervisor struct {
	mu      sync.Mutex
	cfg     Config
	states  map[signature]*signatureState
	history []domain.RecoveryAttempt
	sink    AttemptSink
	now     func() time.Time
	log     *slog.Logger
}

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*Supervisor)

// WithSink forwards appended attempts to sink (e.g. the archiver).
func WithSink(sink AttemptSink) SupervisorOption {
	return func(s *Supervisor) { s.sink = sink }
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) SupervisorOption {
	return func(s *Supervisor) { s.now = now }
}

// WithSupervisorLogger sets the logger.
func WithSupervisorLogger(log *slog.Logger) SupervisorOption {
	return func(s *Supervisor) { s.log = log }
}

// NewSupervisor creates a supervisor. It should be created once per process
// or workflow run and passed to every call site.
func NewSupervisor(cfg Config, opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		cfg:    cfg,
		states: make(map[signature]*signatureState),
		now:    time.Now,
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the active configuration.
func (s *Supervisor) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// UpdateConfig swaps the configuration. Counters and history are kept.
func (s *Supervisor) UpdateConfig(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
}

// Observe records one occurrence of ectx's signature for loop detection and
// fills in its RetryCount and MaxRetries.
func (s *Supervisor) Observe(ectx *domain.ErrorContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observeLocked(signatureOf(ectx.Type, ectx.Message), ectx)
}

// ShouldRetry reports whether ectx may be retried: the retry budget for its
// severity is not spent and its signature is not looping.
func (s *Supervisor) ShouldRetry(ectx *domain.ErrorContext) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := signatureOf(ectx.Type, ectx.Message)
	st := s.stateLocked(key)
	ok, _, _ := s.evaluateLocked(st, ectx.Severity)
	return ok
}

// Admit observes ectx and, if it may be retried, reserves one unit of its
// retry budget until Complete is called. Doing both under one lock keeps
// concurrent callers with the same signature from overspending the budget.
func (s *Supervisor) Admit(ectx *domain.ErrorContext) Decision {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := signatureOf(ectx.Type, ectx.Message)
	st := s.observeLocked(key, ectx)
	allowed, loop, reason := s.evaluateLocked(st, ectx.Severity)

	d := Decision{
		Allowed:      allowed,
		LoopDetected: loop,
		RetryCount:   ectx.RetryCount,
		MaxRetries:   ectx.MaxRetries,
		Occurrences:  len(st.occurrences),
		Reason:       reason,
		key:          key,
	}
	if allowed {
		st.inFlight++
		d.reserved = true
	}

	switch {
	case loop:
		metrics.LoopsDetected.WithLabelValues(string(ectx.Type)).Inc()
		s.log.Warn("Error loop detected",
			"error_type", ectx.Type,
			"occurrences", d.Occurrences,
			"window", s.cfg.LoopWindow,
		)
	case !allowed:
		metrics.RetryBudgetExhausted.WithLabelValues(string(ectx.Type), ectx.Severity.String()).Inc()
	}
	return d
}

// ComputeBackoff returns BaseDelay * BackoffFactor^RetryCount capped at
// MaxDelay. It does not wait; callers sleep outside any lock.
func (s *Supervisor) ComputeBackoff(ectx *domain.ErrorContext) time.Duration {
	return s.Config().Backoff().GetDelay(ectx.RetryCount)
}

// RecordAttempt increments the signature's retry counter (capped at the
// severity's budget) and appends the attempt to the history.
func (s *Supervisor) RecordAttempt(
	ectx *domain.ErrorContext,
	success bool,
	solution *domain.Solution,
) domain.RecoveryAttempt {
	state := domain.StateFailed
	if success {
		state = domain.StateDetected
	}
	return s.Complete(ectx, Decision{key: signatureOf(ectx.Type, ectx.Message)}, domain.RecoveryAttempt{
		Success:  success,
		Solution: solution,
		State:    state,
	})
}

// Complete closes a cycle started by Admit: it releases the reservation,
// updates the counter and appends the attempt. A resolved attempt closes
// the signature's error cycle and resets its counter; any other attempt
// increments it.
func (s *Supervisor) Complete(
	ectx *domain.ErrorContext,
	d Decision,
	attempt domain.RecoveryAttempt,
) domain.RecoveryAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := d.key
	if key == (signature{}) {
		key = signatureOf(ectx.Type, ectx.Message)
	}
	st := s.stateLocked(key)
	if d.reserved && st.inFlight > 0 {
		st.inFlight--
	}

	now := s.now()
	if attempt.State == domain.StateResolved {
		st.retryCount = 0
	} else if limit := s.cfg.MaxRetriesFor(ectx.Severity); st.retryCount < limit {
		st.retryCount++
	}
	st.lastAttempt = now
	st.severity = ectx.Severity

	if attempt.ID == "" {
		attempt.ID = uuid.NewString()
	}
	if attempt.Timestamp.IsZero() {
		attempt.Timestamp = now
	}
	attempt.ErrorType = ectx.Type
	attempt.Message = ectx.Message
	attempt.Severity = ectx.Severity
	attempt.RetryCount = ectx.RetryCount
	attempt.Data = maps.Clone(ectx.Data)
	attempt.Transitions = slices.Clone(attempt.Transitions)

	s.appendLocked(attempt)
	return attempt
}

// Resolve closes the open error cycle for a signature, typically after the
// caller reports that the retried operation succeeded. The counter is reset
// and a RESOLVED attempt is appended. Without an open cycle nothing is
// recorded and ok is false. Loop detection keeps its occurrence window.
func (s *Supervisor) Resolve(t domain.ErrorType, message string) (attempt domain.RecoveryAttempt, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, found := s.states[signatureOf(t, message)]
	if !found || st.retryCount == 0 {
		return attempt, false
	}

	now := s.now()
	attempt = domain.RecoveryAttempt{
		ID:          uuid.NewString(),
		Timestamp:   now,
		ErrorType:   t,
		Message:     message,
		Severity:    st.severity,
		RetryCount:  st.retryCount,
		Success:     true,
		Outcome:     domain.OutcomeRecovered,
		State:       domain.StateResolved,
		Transitions: []domain.WorkflowState{domain.StateResolved},
		Reason:      "retried operation succeeded",
	}
	st.retryCount = 0
	st.lastAttempt = now

	s.appendLocked(attempt)
	return attempt, true
}

func (s *Supervisor) appendLocked(attempt domain.RecoveryAttempt) {
	s.history = append(s.history, attempt)
	if s.sink != nil {
		s.sink.Enqueue(attempt)
	}
}

// Reset forgets counters and loop windows for one error type.
// History is never touched.
func (s *Supervisor) Reset(t domain.ErrorType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key := range s.states {
		if key.errType == t {
			delete(s.states, key)
			n++
		}
	}
	return n
}

// ResetAll forgets every counter and loop window.
func (s *Supervisor) ResetAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.states)
	s.states = make(map[signature]*signatureState)
	return n
}

// RetryCount returns the current counter for a signature.
func (s *Supervisor) RetryCount(t domain.ErrorType, message string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[signatureOf(t, message)]; ok {
		return st.retryCount
	}
	return 0
}

// History returns a copy of the history in append order.
func (s *Supervisor) History() []domain.RecoveryAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.history)
}

func (s *Supervisor) stateLocked(key signature) *signatureState {
	st, ok := s.states[key]
	if !ok {
		st = &signatureState{}
		s.states[key] = st
	}
	return st
}

func (s *Supervisor) observeLocked(key signature, ectx *domain.ErrorContext) *signatureState {
	st := s.stateLocked(key)
	now := s.now()

	if s.cfg.LoopThreshold > 0 {
		cutoff := now.Add(-s.cfg.LoopWindow)
		kept := st.occurrences[:0]
		for _, ts := range st.occurrences {
			if ts.After(cutoff) {
				kept = append(kept, ts)
			}
		}
		kept = append(kept, now)
		// Only the newest LoopThreshold occurrences matter.
		if len(kept) > s.cfg.LoopThreshold {
			kept = kept[len(kept)-s.cfg.LoopThreshold:]
		}
		st.occurrences = kept
	}

	ectx.RetryCount = st.retryCount
	ectx.MaxRetries = s.cfg.MaxRetriesFor(ectx.Severity)
	return st
}

func (s *Supervisor) evaluateLocked(
	st *signatureState,
	severity domain.ErrorSeverity,
) (allowed, loop bool, reason string) {
	if s.cfg.LoopThreshold > 0 && s.loopingLocked(st) {
		return false, true, fmt.Sprintf(
			"error loop: signature recurred %d times within %s",
			len(st.occurrences), s.cfg.LoopWindow,
		)
	}
	limit := s.cfg.MaxRetriesFor(severity)
	if st.retryCount+st.inFlight >= limit {
		return false, false, fmt.Sprintf(
			"retry budget exhausted: %d of %d used for %s severity",
			st.retryCount, limit, severity,
		)
	}
	return true, false, ""
}

func (s *Supervisor) loopingLocked(st *signatureState) bool {
	cutoff := s.now().Add(-s.cfg.LoopWindow)
	n := 0
	for _, ts := range st.occurrences {
		if ts.After(cutoff) {
			n++
		}
	}
	return n >= s.cfg.LoopThreshold
}
