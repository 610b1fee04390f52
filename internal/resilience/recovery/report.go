package recovery

import (
	"time"

	"github.com/vietddude/inframate/internal/core/domain"
)

// ReportEntry is one attempt as exported to report renderers.
type ReportEntry struct {
	ID         string               `json:"id"`
	Type       domain.ErrorType     `json:"type"`
	Message    string               `json:"message"`
	Severity   domain.ErrorSeverity `json:"severity"`
	RetryCount int                  `json:"retry_count"`
	Solution   *domain.Solution     `json:"ai_solution,omitempty"`
	Success    bool                 `json:"success"`
	State      domain.WorkflowState `json:"state"`
	Reason     string               `json:"reason,omitempty"`
	Timestamp  time.Time            `json:"timestamp"`
}

// TypeBreakdown counts attempts for one error type.
type TypeBreakdown struct {
	Total       int `json:"total"`
	Recovered   int `json:"recovered"`
	Unrecovered int `json:"unrecovered"`
}

// Report summarises the error history.
type Report struct {
	Errors           []ReportEntry                      `json:"errors"`
	TotalErrorCount  int                                `json:"total_error_count"`
	RecoveredCount   int                                `json:"recovered_count"`
	UnrecoveredCount int                                `json:"unrecovered_count"`
	ByType           map[domain.ErrorType]TypeBreakdown `json:"by_type"`
}

// BuildReport derives a report from attempts, keeping their order.
// An attempt counts as recovered when its cycle ended in success.
func BuildReport(attempts []domain.RecoveryAttempt) Report {
	r := Report{
		Errors: make([]ReportEntry, 0, len(attempts)),
		ByType: make(map[domain.ErrorType]TypeBreakdown),
	}
	for _, a := range attempts {
		r.Errors = append(r.Errors, ReportEntry{
			ID:         a.ID,
			Type:       a.ErrorType,
			Message:    a.Message,
			Severity:   a.Severity,
			RetryCount: a.RetryCount,
			Solution:   a.Solution,
			Success:    a.Success,
			State:      a.State,
			Reason:     a.Reason,
			Timestamp:  a.Timestamp,
		})

		b := r.ByType[a.ErrorType]
		b.Total++
		if a.Success {
			b.Recovered++
			r.RecoveredCount++
		} else {
			b.Unrecovered++
			r.UnrecoveredCount++
		}
		r.ByType[a.ErrorType] = b
		r.TotalErrorCount++
	}
	return r
}

// Report builds a report from the supervisor's history.
func (s *Supervisor) Report() Report {
	return BuildReport(s.History())
}

// Report builds a report from the handler's history.
func (h *Handler) Report() Report {
	return h.supervisor.Report()
}
