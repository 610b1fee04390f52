// Package advisor provides the AI advisory collaborator consulted during
// recovery: a best-effort lookup of root cause, solution and prevention.
//
// Implementations:
//   - Nop: never answers (default, tests)
//   - Basic: offline rule-based analysis
//   - OpenAI: any OpenAI-compatible chat completion endpoint
//   - Limited: rate limiting and de-duplication around another advisor
//   - Fallback: primary advisor, secondary when the primary has no answer
package advisor

import (
	"context"
	"errors"
	"maps"

	"github.com/vietddude/inframate/internal/core/domain"
)

var (
	// ErrNoResponse is returned when the model produced no usable content.
	ErrNoResponse = errors.New("advisor returned no response")

	// ErrRateLimited is returned when the advisor's call budget is spent.
	ErrRateLimited = errors.New("advisor rate limited")
)

// Request is what the advisor is told about an error.
type Request struct {
	ErrorType   domain.ErrorType     `json:"error_type"`
	Message     string               `json:"message"`
	Severity    domain.ErrorSeverity `json:"severity"`
	ContextData map[string]any       `json:"context_data,omitempty"`
}

// NewRequest snapshots an error context. The copy of the data is shallow.
func NewRequest(ectx *domain.ErrorContext) Request {
	return Request{
		ErrorType:   ectx.Type,
		Message:     ectx.Message,
		Severity:    ectx.Severity,
		ContextData: maps.Clone(ectx.Data),
	}
}

// Advisor looks up a solution for an error. A nil solution with a nil error
// means the advisor has nothing to say.
type Advisor interface {
	Advise(ctx context.Context, req Request) (*domain.Solution, error)
}

// Func adapts a function to Advisor.
type Func func(ctx context.Context, req Request) (*domain.Solution, error)

func (f Func) Advise(ctx context.Context, req Request) (*domain.Solution, error) {
	return f(ctx, req)
}

// Nop never answers.
type Nop struct{}

func (Nop) Advise(context.Context, Request) (*domain.Solution, error) {
	return nil, nil
}

// Fallback asks Secondary when Primary fails or has no answer.
type Fallback struct {
	Primary   Advisor
	Secondary Advisor
}

func (f Fallback) Advise(ctx context.Context, req Request) (*domain.Solution, error) {
	sol, err := f.Primary.Advise(ctx, req)
	if err == nil && sol != nil {
		return sol, nil
	}
	if ctx.Err() != nil {
		return nil, errors.Join(err, ctx.Err())
	}
	fallback, ferr := f.Secondary.Advise(ctx, req)
	if ferr != nil {
		return nil, errors.Join(err, ferr)
	}
	return fallback, nil
}
