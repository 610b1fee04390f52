package advisor

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/inframate/internal/core/domain"
)

func TestCommands(t *testing.T) {
	steps := []string{
		"Wait for any running Terraform operations to complete",
		"Run: terraform force-unlock [LOCK_ID]",
		"Execute: make clean",
		"Re-initialise: terraform init -upgrade",
		"Note: this is prose",
	}
	assert.Equal(t, []string{
		"terraform force-unlock [LOCK_ID]",
		"make clean",
		"terraform init -upgrade",
	}, Commands(steps))
}

func TestBuildPlan_FromAdvisor(t *testing.T) {
	adv := Func(func(context.Context, Request) (*domain.Solution, error) {
		return &domain.Solution{
			RootCause: "state lock held by a crashed run",
			Solution:  "Run: terraform force-unlock 1234\nRetry the plan",
		}, nil
	})

	plan := BuildPlan(context.Background(), adv, Request{
		ErrorType:   domain.ErrorTypeTerraform,
		Severity:    domain.SeverityHigh,
		ContextData: map[string]any{KeyWorkflowName: "deploy", KeyFailedJob: "plan"},
	})

	assert.Equal(t, "advisor", plan.Source)
	assert.Equal(t, "deploy", plan.Workflow)
	assert.Equal(t, "plan", plan.Job)
	assert.Equal(t, []string{"Run: terraform force-unlock 1234", "Retry the plan"}, plan.Steps)
	assert.Equal(t, []string{"terraform force-unlock 1234"}, plan.Commands)
	assert.Equal(t, defaultPrevention, plan.Prevention)
}

func TestBuildPlan_Fallback(t *testing.T) {
	adv := Func(func(context.Context, Request) (*domain.Solution, error) {
		return nil, errors.New("quota exceeded")
	})

	plan := BuildPlan(context.Background(), adv, Request{
		ErrorType: domain.ErrorTypeTerraform,
		Message:   "Error acquiring the state lock",
	})

	assert.Equal(t, "fallback", plan.Source)
	assert.NotEmpty(t, plan.Steps)
	assert.Contains(t, plan.Commands, "terraform force-unlock [LOCK_ID]")
}

func TestBuildPlan_Defaults(t *testing.T) {
	plan := BuildPlan(context.Background(), Func(func(context.Context, Request) (*domain.Solution, error) {
		return &domain.Solution{}, nil
	}), Request{ErrorType: domain.ErrorTypeUnknown})

	assert.Equal(t, defaultRootCause, plan.RootCause)
	assert.Equal(t, defaultSteps, plan.Steps)
}

func TestWritePlan(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.json")
	require.NoError(t, WritePlan(path, &Plan{ErrorType: domain.ErrorTypeAPI, Severity: domain.SeverityMedium}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "api_error", doc["error_type"])
	assert.Equal(t, "medium", doc["severity"])
}
