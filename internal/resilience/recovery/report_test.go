package recovery

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/vietddude/inframate/internal/core/domain"
)

func TestBuildReport_Empty(t *testing.T) {
	r := BuildReport(nil)

	if r.TotalErrorCount != 0 || r.RecoveredCount != 0 || r.UnrecoveredCount != 0 {
		t.Errorf("expected zero counts, got %+v", r)
	}
	if r.Errors == nil {
		t.Error("expected empty, non-nil error list for JSON export")
	}
}

func TestBuildReport_CountsAndOrder(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	attempts := []domain.RecoveryAttempt{
		{ErrorType: domain.ErrorTypeAPI, Message: "a", Success: true, Timestamp: base},
		{ErrorType: domain.ErrorTypeNetwork, Message: "b", Success: false, Timestamp: base.Add(time.Second)},
		{ErrorType: domain.ErrorTypeAPI, Message: "c", Success: false, Timestamp: base.Add(2 * time.Second)},
	}

	r := BuildReport(attempts)

	if r.TotalErrorCount != 3 || r.RecoveredCount != 1 || r.UnrecoveredCount != 2 {
		t.Errorf("unexpected counts: total=%d recovered=%d unrecovered=%d",
			r.TotalErrorCount, r.RecoveredCount, r.UnrecoveredCount)
	}
	for i, want := range []string{"a", "b", "c"} {
		if r.Errors[i].Message != want {
			t.Errorf("entry %d: expected %q, got %q", i, want, r.Errors[i].Message)
		}
	}

	api := r.ByType[domain.ErrorTypeAPI]
	if api.Total != 2 || api.Recovered != 1 || api.Unrecovered != 1 {
		t.Errorf("unexpected api breakdown: %+v", api)
	}
}

func TestReport_InvariantAfterMixedCalls(t *testing.T) {
	h := newTestHandler()
	ctx := context.Background()

	calls := []Request{
		{ErrorType: "terraform_error", Message: "Error acquiring the state lock"},
		{ErrorType: "permission_error", Message: "forbidden"},
		{ErrorType: "exotic_error", Message: "weird failure"},
		{ErrorType: "api_error", Message: "rate limit", Severity: domain.SeverityCritical},
		{ErrorType: "api_error", Message: "rate limit", Severity: domain.SeverityCritical},
		{ErrorType: "validation_error", Message: "invalid", Data: map[string]any{KeyField: "name", KeySuggestedValue: "ok"}},
	}
	for _, req := range calls {
		h.Handle(ctx, req)
	}

	r := h.Report()
	if r.TotalErrorCount != len(calls) {
		t.Fatalf("expected %d attempts, got %d", len(calls), r.TotalErrorCount)
	}
	if r.RecoveredCount+r.UnrecoveredCount != r.TotalErrorCount {
		t.Error("recovered + unrecovered must equal total")
	}
	if r.RecoveredCount != 3 {
		t.Errorf("expected 3 recovered (terraform, first api, validation), got %d", r.RecoveredCount)
	}
}

func TestReport_JSONShape(t *testing.T) {
	h := newTestHandler()
	h.HandleError(context.Background(), "api_error", "rate limit", domain.SeverityHigh, nil)

	data, err := json.Marshal(h.Report())
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	for _, key := range []string{"errors", "total_error_count", "recovered_count", "unrecovered_count"} {
		if _, ok := out[key]; !ok {
			t.Errorf("expected key %q in report", key)
		}
	}

	entry := out["errors"].([]any)[0].(map[string]any)
	if entry["severity"] != "high" {
		t.Errorf("expected severity \"high\", got %v", entry["severity"])
	}
	if entry["retry_count"] != float64(0) {
		t.Errorf("expected retry_count 0, got %v", entry["retry_count"])
	}
}
