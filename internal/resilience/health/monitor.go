package health

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/inframate/internal/core/domain"
	"github.com/vietddude/inframate/internal/resilience/recovery"
)

// Unrecovered attempts of one type before it is reported critical.
const criticalUnrecovered = 10

// Probe checks one dependency (archive database, redis).
type Probe interface {
	Health(ctx context.Context) error
}

// ProbeFunc adapts a function to Probe.
type ProbeFunc func(ctx context.Context) error

func (f ProbeFunc) Health(ctx context.Context) error { return f(ctx) }

// Monitor aggregates health status from the supervisor history and probes.
type Monitor struct {
	supervisor *recovery.Supervisor
	probes     map[string]Probe
	ttl        time.Duration
	lastCheck  time.Time
	lastReport *HealthReport
	mu         sync.Mutex
}

// NewMonitor creates a new health monitor.
func NewMonitor(supervisor *recovery.Supervisor, probes map[string]Probe) *Monitor {
	return &Monitor{
		supervisor: supervisor,
		probes:     probes,
		ttl:        10 * time.Second,
	}
}

// Invalidate drops the cached report, e.g. after a reset.
func (m *Monitor) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastReport = nil
}

// CheckHealth builds the health report.
func (m *Monitor) CheckHealth(ctx context.Context) HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Probes hit the network, so cache for a short while
	if m.lastReport != nil && time.Since(m.lastCheck) < m.ttl {
		return *m.lastReport
	}

	report := HealthReport{
		SystemStatus: StatusHealthy,
		ErrorTypes:   make(map[domain.ErrorType]TypeHealth),
		Components:   make(map[string]ComponentHealth),
	}

	// 1. Error types, judged by their latest attempt and unrecovered count
	history := m.supervisor.History()
	summary := recovery.BuildReport(history)
	for t, b := range summary.ByType {
		report.ErrorTypes[t] = TypeHealth{
			ErrorType:   t,
			Status:      StatusHealthy,
			Total:       b.Total,
			Recovered:   b.Recovered,
			Unrecovered: b.Unrecovered,
		}
	}
	for _, a := range history {
		th := report.ErrorTypes[a.ErrorType]
		th.LastState = a.State
		report.ErrorTypes[a.ErrorType] = th
	}
	for t, th := range report.ErrorTypes {
		switch {
		case th.Unrecovered >= criticalUnrecovered:
			th.Status = StatusCritical
		case th.LastState == domain.StateFailed:
			th.Status = StatusDegraded
		}
		report.ErrorTypes[t] = th
		report.SystemStatus = worse(report.SystemStatus, th.Status)
	}

	// 2. Dependencies
	for name, p := range m.probes {
		c := ComponentHealth{Name: name, Status: StatusHealthy}
		if err := p.Health(ctx); err != nil {
			c.Status = StatusCritical
			c.Error = err.Error()
		}
		report.Components[name] = c
		report.SystemStatus = worse(report.SystemStatus, c.Status)
	}

	m.lastCheck = time.Now()
	m.lastReport = &report
	return report
}
