package recovery

import (
	"sync"
	"testing"
	"time"

	"github.com/vietddude/inframate/internal/core/domain"
)

// =============================================================================
// Test Helpers
// =============================================================================

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type mockSink struct {
	mu       sync.Mutex
	attempts []domain.RecoveryAttempt
}

func (s *mockSink) Enqueue(a domain.RecoveryAttempt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, a)
}

func (s *mockSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.attempts)
}

func noLoopConfig() Config {
	cfg := DefaultConfig()
	cfg.LoopThreshold = 0
	return cfg
}

// =============================================================================
// Retry Budget Tests
// =============================================================================

func TestSupervisor_RetryCountCappedAtBudget(t *testing.T) {
	for _, severity := range domain.Severities {
		t.Run(severity.String(), func(t *testing.T) {
			s := NewSupervisor(noLoopConfig())
			limit := s.Config().MaxRetriesFor(severity)

			for n := 1; n <= limit+3; n++ {
				ectx := domain.NewErrorContext(domain.ErrorTypeAPI, "rate limit exceeded", severity, nil)
				s.Observe(ectx)
				s.RecordAttempt(ectx, false, nil)

				want := min(n, limit)
				if got := s.RetryCount(domain.ErrorTypeAPI, "rate limit exceeded"); got != want {
					t.Fatalf("after %d failures expected retry_count %d, got %d", n, want, got)
				}

				next := domain.NewErrorContext(domain.ErrorTypeAPI, "rate limit exceeded", severity, nil)
				s.Observe(next)
				if allowed := s.ShouldRetry(next); allowed != (n < limit) {
					t.Fatalf("after %d failures expected should_retry=%v, got %v", n, n < limit, allowed)
				}
			}
		})
	}
}

func TestSupervisor_ObserveFillsCounters(t *testing.T) {
	s := NewSupervisor(noLoopConfig())
	ectx := domain.NewErrorContext(domain.ErrorTypeNetwork, "connection reset", domain.SeverityHigh, nil)

	s.Observe(ectx)
	s.RecordAttempt(ectx, false, nil)

	next := domain.NewErrorContext(domain.ErrorTypeNetwork, "connection reset", domain.SeverityHigh, nil)
	s.Observe(next)
	if next.RetryCount != 1 {
		t.Errorf("expected retry count 1, got %d", next.RetryCount)
	}
	if next.MaxRetries != 2 {
		t.Errorf("expected max retries 2, got %d", next.MaxRetries)
	}
}

func TestSupervisor_SignaturesIsolated(t *testing.T) {
	s := NewSupervisor(noLoopConfig())

	a := domain.NewErrorContext(domain.ErrorTypeAPI, "rate limit exceeded", domain.SeverityCritical, nil)
	s.Observe(a)
	s.RecordAttempt(a, false, nil)

	b := domain.NewErrorContext(domain.ErrorTypeNetwork, "rate limit exceeded", domain.SeverityCritical, nil)
	if !s.ShouldRetry(b) {
		t.Error("counter for api_error must not affect network_error")
	}

	c := domain.NewErrorContext(domain.ErrorTypeAPI, "service unavailable", domain.SeverityCritical, nil)
	if !s.ShouldRetry(c) {
		t.Error("counter for one message must not affect another")
	}
}

func TestSupervisor_ResolveResetsCounter(t *testing.T) {
	s := NewSupervisor(noLoopConfig())
	ectx := domain.NewErrorContext(domain.ErrorTypeAPI, "rate limit", domain.SeverityMedium, nil)
	s.Observe(ectx)
	s.RecordAttempt(ectx, true, nil)
	s.RecordAttempt(ectx, true, nil)

	attempt, ok := s.Resolve(domain.ErrorTypeAPI, "rate limit")
	if !ok {
		t.Fatal("expected open cycle to be resolved")
	}
	if got := s.RetryCount(domain.ErrorTypeAPI, "rate limit"); got != 0 {
		t.Errorf("expected counter reset, got %d", got)
	}

	history := s.History()
	if len(history) != 3 {
		t.Fatalf("expected resolved attempt appended, got %d entries", len(history))
	}
	last := history[2]
	if last.ID != attempt.ID || last.State != domain.StateResolved || !last.Success {
		t.Errorf("unexpected resolved attempt: %+v", last)
	}
	if last.Severity != domain.SeverityMedium || last.RetryCount != 2 {
		t.Errorf("expected severity medium and retry count 2, got %s/%d", last.Severity, last.RetryCount)
	}

	if _, ok := s.Resolve(domain.ErrorTypeAPI, "rate limit"); ok {
		t.Error("expected no open cycle after resolve")
	}
	if len(s.History()) != 3 {
		t.Errorf("expected no extra attempt, got %d entries", len(s.History()))
	}
}

func TestSupervisor_Reset(t *testing.T) {
	s := NewSupervisor(noLoopConfig())
	for _, msg := range []string{"a", "b"} {
		ectx := domain.NewErrorContext(domain.ErrorTypeAPI, msg, domain.SeverityMedium, nil)
		s.RecordAttempt(ectx, false, nil)
	}
	other := domain.NewErrorContext(domain.ErrorTypeNetwork, "c", domain.SeverityMedium, nil)
	s.RecordAttempt(other, false, nil)

	if n := s.Reset(domain.ErrorTypeAPI); n != 2 {
		t.Errorf("expected 2 signatures reset, got %d", n)
	}
	if got := s.RetryCount(domain.ErrorTypeNetwork, "c"); got != 1 {
		t.Errorf("expected network counter kept, got %d", got)
	}
	if n := s.ResetAll(); n != 1 {
		t.Errorf("expected 1 signature left to reset, got %d", n)
	}
	if len(s.History()) != 3 {
		t.Errorf("reset must not touch history, got %d entries", len(s.History()))
	}
}

// =============================================================================
// Loop Detection Tests
// =============================================================================

func TestSupervisor_LoopDetection(t *testing.T) {
	clock := newFakeClock()
	cfg := DefaultConfig()
	cfg.LoopThreshold = 3
	cfg.LoopWindow = time.Minute
	s := NewSupervisor(cfg, WithClock(clock.Now))

	newCtx := func() *domain.ErrorContext {
		return domain.NewErrorContext(domain.ErrorTypeAPI, "rate limit exceeded", domain.SeverityLow, nil)
	}

	for i := 0; i < 2; i++ {
		d := s.Admit(newCtx())
		if !d.Allowed {
			t.Fatalf("occurrence %d should be allowed: %s", i+1, d.Reason)
		}
		clock.Advance(time.Second)
	}

	d := s.Admit(newCtx())
	if d.Allowed || !d.LoopDetected {
		t.Fatalf("expected loop on 3rd occurrence, got %+v", d)
	}
	if d.RetryCount >= s.Config().MaxRetriesFor(domain.SeverityLow) {
		t.Fatal("loop must be detected while budget remains")
	}
	if s.ShouldRetry(newCtx()) {
		t.Error("should_retry must be false while looping")
	}

	// Window slides past the old occurrences
	clock.Advance(2 * time.Minute)
	if d := s.Admit(newCtx()); !d.Allowed {
		t.Errorf("expected retry allowed after window elapsed, got %s", d.Reason)
	}
}

func TestSupervisor_LoopDisabled(t *testing.T) {
	s := NewSupervisor(noLoopConfig())
	for i := 0; i < 20; i++ {
		s.Observe(domain.NewErrorContext(domain.ErrorTypeAPI, "x", domain.SeverityLow, nil))
	}
	if !s.ShouldRetry(domain.NewErrorContext(domain.ErrorTypeAPI, "x", domain.SeverityLow, nil)) {
		t.Error("expected no loop detection when threshold is 0")
	}
}

// =============================================================================
// Admit / Complete Tests
// =============================================================================

func TestSupervisor_AdmitReservesBudget(t *testing.T) {
	s := NewSupervisor(noLoopConfig())
	newCtx := func() *domain.ErrorContext {
		return domain.NewErrorContext(domain.ErrorTypeAPI, "x", domain.SeverityHigh, nil)
	}

	first, second := newCtx(), newCtx()
	d1 := s.Admit(first)
	d2 := s.Admit(second)
	d3 := s.Admit(newCtx())

	if !d1.Allowed || !d2.Allowed {
		t.Fatal("expected first two admissions within HIGH budget")
	}
	if d3.Allowed {
		t.Error("expected third concurrent admission to be refused")
	}

	s.Complete(first, d1, domain.RecoveryAttempt{State: domain.StateResolved, Success: true})
	s.Complete(second, d2, domain.RecoveryAttempt{State: domain.StateResolved, Success: true})

	if d := s.Admit(newCtx()); !d.Allowed {
		t.Errorf("expected budget released after completion, got %s", d.Reason)
	}
}

func TestSupervisor_CompleteFillsAttempt(t *testing.T) {
	clock := newFakeClock()
	sink := &mockSink{}
	s := NewSupervisor(noLoopConfig(), WithClock(clock.Now), WithSink(sink))

	ectx := domain.NewErrorContext(domain.ErrorTypeAPI, "rate limit", domain.SeverityMedium, map[string]any{"k": "v"})
	d := s.Admit(ectx)
	attempt := s.Complete(ectx, d, domain.RecoveryAttempt{
		State:       domain.StateDetected,
		Success:     true,
		Transitions: []domain.WorkflowState{domain.StateInitial},
	})

	if attempt.ID == "" {
		t.Error("expected attempt ID")
	}
	if !attempt.Timestamp.Equal(clock.Now()) {
		t.Errorf("expected timestamp %v, got %v", clock.Now(), attempt.Timestamp)
	}
	if attempt.ErrorType != domain.ErrorTypeAPI || attempt.Message != "rate limit" {
		t.Errorf("unexpected attempt identity: %+v", attempt)
	}

	// History entries are independent copies
	ectx.Data["k"] = "changed"
	if s.History()[0].Data["k"] != "v" {
		t.Error("history must not alias the error context data")
	}
	if sink.Len() != 1 {
		t.Errorf("expected sink to receive 1 attempt, got %d", sink.Len())
	}
}

func TestSupervisor_ComputeBackoff(t *testing.T) {
	s := NewSupervisor(DefaultConfig())

	ectx := &domain.ErrorContext{RetryCount: 2}
	if d := s.ComputeBackoff(ectx); d != 40*time.Second {
		t.Errorf("expected 40s, got %v", d)
	}

	cfg := DefaultConfig()
	cfg.BaseDelay = time.Second
	s.UpdateConfig(cfg)
	if d := s.ComputeBackoff(ectx); d != 4*time.Second {
		t.Errorf("expected 4s after config update, got %v", d)
	}
}

// =============================================================================
// Concurrency Tests
// =============================================================================

func TestSupervisor_ConcurrentSameSignature(t *testing.T) {
	s := NewSupervisor(noLoopConfig())

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ectx := domain.NewErrorContext(domain.ErrorTypeAPI, "rate limit", domain.SeverityMedium, nil)
			d := s.Admit(ectx)
			if d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
			s.Complete(ectx, d, domain.RecoveryAttempt{State: domain.StateDetected, Success: d.Allowed})
		}()
	}
	wg.Wait()

	if allowed != 3 {
		t.Errorf("expected exactly 3 admissions for MEDIUM budget, got %d", allowed)
	}
	if got := s.RetryCount(domain.ErrorTypeAPI, "rate limit"); got != 3 {
		t.Errorf("expected counter capped at 3, got %d", got)
	}
	if len(s.History()) != 50 {
		t.Errorf("expected 50 history entries, got %d", len(s.History()))
	}
}
