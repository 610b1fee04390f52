package advisor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/vietddude/inframate/internal/core/domain"
)

// Plan is a recovery plan for a failed CI job, written for humans and for
// follow-up automation.
type Plan struct {
	GeneratedAt time.Time            `json:"generated_at"`
	Workflow    string               `json:"workflow"`
	Job         string               `json:"job"`
	ErrorType   domain.ErrorType     `json:"error_type"`
	Severity    domain.ErrorSeverity `json:"severity"`
	RootCause   string               `json:"root_cause"`
	Steps       []string             `json:"recovery_steps"`
	Commands    []string             `json:"commands,omitempty"`
	Prevention  string               `json:"prevention"`
	Source      string               `json:"source"` // advisor or fallback
}

// Plan defaults used when the advisor leaves a field empty.
const (
	defaultRootCause  = "Unknown error"
	defaultPrevention = "Add more comprehensive error handling"
)

var defaultSteps = []string{
	"Check logs for detailed error information",
	"Verify all dependencies are installed",
	"Check environment configuration",
}

// commandPrefixes mark a step as a shell command.
var commandPrefixes = []string{"Run:", "Execute:"}

// commandTools are recognised after a colon when no prefix is used.
var commandTools = []string{"terraform ", "aws ", "git ", "kubectl ", "gcloud ", "az ", "npm ", "make "}

// BuildPlan asks adv about the failure and fills in defaults. req.ContextData
// should carry workflow_name, failed_job and error_logs. The rule-based
// advisor answers when adv fails.
func BuildPlan(ctx context.Context, adv Advisor, req Request) *Plan {
	plan := &Plan{
		GeneratedAt: time.Now().UTC(),
		Workflow:    stringValue(req.ContextData, KeyWorkflowName, ""),
		Job:         stringValue(req.ContextData, KeyFailedJob, ""),
		ErrorType:   req.ErrorType,
		Severity:    req.Severity,
		Source:      "advisor",
	}

	sol, err := adv.Advise(ctx, req)
	if err != nil || sol == nil {
		plan.Source = "fallback"
		sol, _ = Basic{}.Advise(ctx, req)
	}

	plan.RootCause = sol.RootCause
	plan.Steps = sol.Steps()
	plan.Prevention = sol.Prevention
	if plan.RootCause == "" {
		plan.RootCause = defaultRootCause
	}
	if len(plan.Steps) == 0 {
		plan.Steps = defaultSteps
	}
	if plan.Prevention == "" {
		plan.Prevention = defaultPrevention
	}
	plan.Commands = Commands(plan.Steps)
	return plan
}

// Commands extracts the shell commands mentioned in recovery steps.
func Commands(steps []string) []string {
	var cmds []string
	for _, step := range steps {
		if cmd := commandOf(step); cmd != "" {
			cmds = append(cmds, cmd)
		}
	}
	return cmds
}

func commandOf(step string) string {
	for _, p := range commandPrefixes {
		if _, after, ok := strings.Cut(step, p); ok {
			return strings.TrimSpace(after)
		}
	}
	_, after, ok := strings.Cut(step, ":")
	if !ok {
		return ""
	}
	after = strings.TrimSpace(after)
	lower := strings.ToLower(after)
	for _, tool := range commandTools {
		if strings.HasPrefix(lower, tool) {
			return after
		}
	}
	return ""
}

// WritePlan stores plan as indented JSON.
func WritePlan(path string, plan *Plan) error {
	data, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode plan: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write plan: %w", err)
	}
	return nil
}
