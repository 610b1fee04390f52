// Package recovery classifies workflow errors, decides whether and when they
// may be retried, and keeps the audit trail of every recovery cycle.
//
// The pieces, leaves first:
//   - Classifier: raw type hint + message -> canonical type and severity
//   - Registry: ordered recovery strategies per error type
//   - Supervisor: retry budgets, backoff and loop detection (shared state)
//   - Handler: the state machine callers talk to
//   - Report: aggregation over the recorded history
package recovery

import (
	"slices"
	"sync"

	"github.com/vietddude/inframate/internal/core/domain"
)

// Strategy decides the next action for an error. Returning OutcomeNone
// passes the decision to the next registered strategy.
type Strategy interface {
	Evaluate(ectx *domain.ErrorContext) domain.Outcome
}

// StrategyFunc adapts a plain function to Strategy.
type StrategyFunc func(ectx *domain.ErrorContext) domain.Outcome

func (f StrategyFunc) Evaluate(ectx *domain.ErrorContext) domain.Outcome {
	return f(ectx)
}

// Registry holds the recovery strategies for each error type.
//
// Strategies are tried most recently registered first, so a strategy added
// by the caller overrides the seeded default and the default remains as a
// fallback when the override returns OutcomeNone. Registering the same
// strategy twice is allowed; it is simply consulted twice.
type Registry struct {
	mu         sync.RWMutex
	strategies map[domain.ErrorType][]Strategy
}

// NewRegistry creates a registry seeded with the default strategies.
func NewRegistry() *Registry {
	r := NewEmptyRegistry()
	registerDefaults(r)
	return r
}

// NewEmptyRegistry creates a registry without any strategies.
func NewEmptyRegistry() *Registry {
	return &Registry{strategies: make(map[domain.ErrorType][]Strategy)}
}

// Register appends a strategy for the given type.
func (r *Registry) Register(t domain.ErrorType, s Strategy) {
	if s == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[t] = append(r.strategies[t], s)
}

// Lookup returns the strategies for t in the order they should be tried.
// An empty result means no automatic recovery exists for t.
func (r *Registry) Lookup(t domain.ErrorType) []Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	registered := r.strategies[t]
	ordered := make([]Strategy, len(registered))
	for i, s := range registered {
		ordered[len(registered)-1-i] = s
	}
	return ordered
}

// Types lists every type with at least one strategy, sorted.
func (r *Registry) Types() []domain.ErrorType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]domain.ErrorType, 0, len(r.strategies))
	for t, list := range r.strategies {
		if len(list) > 0 {
			types = append(types, t)
		}
	}
	slices.Sort(types)
	return types
}
