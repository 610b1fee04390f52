package domain

import "time"

// WorkflowState is the position of a recovery cycle in the handler state machine.
type WorkflowState string

const (
	StateInitial   WorkflowState = "initial"
	StateDetected  WorkflowState = "error_detected"
	StateAnalyzing WorkflowState = "analyzing_error"
	StateRecovery  WorkflowState = "recovery_attempt"
	StateResolved  WorkflowState = "error_resolved"
	StateFailed    WorkflowState = "recovery_failed"
)

// Outcome is what a recovery strategy decided.
type Outcome string

const (
	OutcomeNone      Outcome = ""
	OutcomeRetry     Outcome = "retry"
	OutcomeRecovered Outcome = "recovered"
	OutcomeEscalate  Outcome = "escalate"
)

// RecoveryAttempt is one completed recovery cycle. Never modified after it
// is appended to the history.
type RecoveryAttempt struct {
	ID          string          `json:"id"`
	Timestamp   time.Time       `json:"timestamp"`
	ErrorType   ErrorType       `json:"type"`
	Message     string          `json:"message"`
	Severity    ErrorSeverity   `json:"severity"`
	RetryCount  int             `json:"retry_count"`
	Success     bool            `json:"success"`
	Outcome     Outcome         `json:"outcome,omitempty"`
	State       WorkflowState   `json:"state"`
	Transitions []WorkflowState `json:"transitions,omitempty"`
	Reason      string          `json:"reason,omitempty"`
	Solution    *Solution       `json:"ai_solution,omitempty"`
	Backoff     time.Duration   `json:"backoff_ns,omitempty"`
	Duration    time.Duration   `json:"duration_ns"`
	Data        map[string]any  `json:"context_data,omitempty"`
}
