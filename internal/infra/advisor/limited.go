package advisor

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/vietddude/inframate/internal/core/domain"
)

// DefaultCallTimeout bounds a shared advisor call when no timeout is set.
const DefaultCallTimeout = 30 * time.Second

// Limited protects a paid advisor: identical concurrent questions share one
// call and the call rate is capped. Over the limit it fails fast instead of
// waiting, since the handler's timeout would expire anyway.
//
// The shared call is detached from the caller that started it and bounded
// by its own timeout, so one caller's deadline never fails the others.
// Each caller still stops waiting when its own context ends.
type Limited struct {
	next        Advisor
	limiter     *rate.Limiter
	group       singleflight.Group
	callTimeout time.Duration
}

// LimitedOption configures a Limited.
type LimitedOption func(*Limited)

// WithCallTimeout bounds each shared call. Non-positive values keep the default.
func WithCallTimeout(d time.Duration) LimitedOption {
	return func(l *Limited) {
		if d > 0 {
			l.callTimeout = d
		}
	}
}

// NewLimited allows perMinute calls with the given burst. perMinute <= 0
// disables rate limiting but keeps de-duplication.
func NewLimited(next Advisor, perMinute, burst int, opts ...LimitedOption) *Limited {
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(perMinute))
	}
	if burst <= 0 {
		burst = 1
	}
	l := &Limited{
		next:        next,
		limiter:     rate.NewLimiter(limit, burst),
		callTimeout: DefaultCallTimeout,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

type adviseResult struct {
	solution *domain.Solution
}

func (l *Limited) Advise(ctx context.Context, req Request) (*domain.Solution, error) {
	key := string(req.ErrorType) + "\x00" + req.Message
	ch := l.group.DoChan(key, func() (any, error) {
		if !l.limiter.Allow() {
			return nil, ErrRateLimited
		}
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.callTimeout)
		defer cancel()
		sol, err := l.next.Advise(callCtx, req)
		return adviseResult{solution: sol}, err
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(adviseResult).solution, nil
	}
}
