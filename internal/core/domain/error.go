package domain

import (
	"maps"
	"strings"
	"time"
)

// ErrorType is the open, string keyed error taxonomy.
type ErrorType string

const (
	ErrorTypeAPI              ErrorType = "api_error"
	ErrorTypeTerraform        ErrorType = "terraform_error"
	ErrorTypeResourceConflict ErrorType = "resource_conflict"
	ErrorTypePermission       ErrorType = "permission_error"
	ErrorTypeNetwork          ErrorType = "network_error"
	ErrorTypeValidation       ErrorType = "validation_error"
	ErrorTypeSystem           ErrorType = "system_error"
	ErrorTypeUnknown          ErrorType = "unknown_error"
)

// SeedErrorTypes is the canonical set every classifier starts with.
var SeedErrorTypes = []ErrorType{
	ErrorTypeAPI,
	ErrorTypeTerraform,
	ErrorTypeResourceConflict,
	ErrorTypePermission,
	ErrorTypeNetwork,
	ErrorTypeValidation,
	ErrorTypeSystem,
	ErrorTypeUnknown,
}

// NormalizeErrorType lowercases and trims a raw type hint.
func NormalizeErrorType(v string) ErrorType {
	return ErrorType(strings.ToLower(strings.TrimSpace(v)))
}

// ErrorContext is one occurrence of an error for the duration of a recovery cycle.
//
// RetryCount and MaxRetries are filled in by the Supervisor. Strategies may
// annotate Data but must treat the counters as read-only.
type ErrorContext struct {
	Type       ErrorType      `json:"type"`
	Message    string         `json:"message"`
	Severity   ErrorSeverity  `json:"severity"`
	Data       map[string]any `json:"context_data,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	RetryCount int            `json:"retry_count"`
	MaxRetries int            `json:"max_retries"`
}

// NewErrorContext copies data so strategies can annotate it freely.
func NewErrorContext(
	errType ErrorType,
	message string,
	severity ErrorSeverity,
	data map[string]any,
) *ErrorContext {
	cloned := make(map[string]any, len(data))
	maps.Copy(cloned, data)
	return &ErrorContext{
		Type:      errType,
		Message:   message,
		Severity:  severity,
		Data:      cloned,
		Timestamp: time.Now(),
	}
}

// Solution is the advisor's structured answer.
type Solution struct {
	RootCause  string `json:"root_cause"`
	Solution   string `json:"solution"`
	Prevention string `json:"prevention"`
}

// Steps splits the solution text into non-empty lines.
func (s *Solution) Steps() []string {
	if s == nil {
		return nil
	}
	var steps []string
	for _, line := range strings.Split(s.Solution, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			steps = append(steps, line)
		}
	}
	return steps
}
