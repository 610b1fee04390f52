// Package health provides system health monitoring and the HTTP surface of
// the recovery handler.
package health

import "github.com/vietddude/inframate/internal/core/domain"

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// worse returns the more severe of a and b.
func worse(a, b SystemStatus) SystemStatus {
	rank := map[SystemStatus]int{StatusHealthy: 0, StatusDegraded: 1, StatusCritical: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// TypeHealth contains recovery health for one error type.
type TypeHealth struct {
	ErrorType   domain.ErrorType     `json:"error_type"`
	Status      SystemStatus         `json:"status"`
	Total       int                  `json:"total"`
	Recovered   int                  `json:"recovered"`
	Unrecovered int                  `json:"unrecovered"`
	LastState   domain.WorkflowState `json:"last_state"`
}

// ComponentHealth is the result of probing one dependency.
type ComponentHealth struct {
	Name   string       `json:"name"`
	Status SystemStatus `json:"status"`
	Error  string       `json:"error,omitempty"`
}

// HealthReport contains the full system health report.
type HealthReport struct {
	SystemStatus SystemStatus                    `json:"system_status"`
	ErrorTypes   map[domain.ErrorType]TypeHealth `json:"error_types"`
	Components   map[string]ComponentHealth      `json:"components"`
}
