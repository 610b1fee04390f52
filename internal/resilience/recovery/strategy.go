package recovery

import (
	"math"
	"time"

	"github.com/vietddude/inframate/internal/core/domain"
)

// Config holds the supervisor's retry and loop prevention settings.
type Config struct {
	MaxRetries    map[domain.ErrorSeverity]int
	BaseDelay     time.Duration
	BackoffFactor float64
	MaxDelay      time.Duration
	LoopWindow    time.Duration
	LoopThreshold int // 0 disables loop detection
}

// DefaultConfig mirrors the original pipeline: 10s, 20s, 40s ... capped at 5m.
func DefaultConfig() Config {
	return Config{
		MaxRetries: map[domain.ErrorSeverity]int{
			domain.SeverityCritical: 1,
			domain.SeverityHigh:     2,
			domain.SeverityMedium:   3,
			domain.SeverityLow:      5,
		},
		BaseDelay:     10 * time.Second,
		BackoffFactor: 2.0,
		MaxDelay:      5 * time.Minute,
		LoopWindow:    10 * time.Minute,
		LoopThreshold: 6,
	}
}

// MaxRetriesFor returns the retry budget for a severity. Unspecified
// severities are budgeted as medium.
func (c Config) MaxRetriesFor(severity domain.ErrorSeverity) int {
	if !severity.Valid() {
		severity = domain.SeverityMedium
	}
	if n, ok := c.MaxRetries[severity]; ok {
		return max(n, 0)
	}
	return DefaultConfig().MaxRetries[severity]
}

// Backoff returns the exponential backoff described by the config.
func (c Config) Backoff() ExponentialBackoff {
	return ExponentialBackoff{
		InitialDelay: c.BaseDelay,
		MaxDelay:     c.MaxDelay,
		Multiplier:   c.BackoffFactor,
	}
}

// ExponentialBackoff computes InitialDelay * Multiplier^attempt, capped at MaxDelay.
type ExponentialBackoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// GetDelay calculates the delay for the given attempt (0-indexed).
// Multipliers below 1 are treated as 1 so the delay never shrinks.
func (b ExponentialBackoff) GetDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	multiplier := math.Max(b.Multiplier, 1)
	delay := float64(b.InitialDelay) * math.Pow(multiplier, float64(attempt))
	if b.MaxDelay > 0 && (delay > float64(b.MaxDelay) || math.IsInf(delay, 1)) {
		return b.MaxDelay
	}
	if delay > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}
