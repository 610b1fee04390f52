package advisor

import (
	"context"
	"fmt"
	"strings"

	"github.com/vietddude/inframate/internal/core/domain"
)

// Context keys the basic advisor understands.
const (
	KeyWorkflowName = "workflow_name"
	KeyFailedJob    = "failed_job"
	KeyErrorLogs    = "error_logs"
)

// Basic is the offline advisor used when no model is configured.
type Basic struct{}

func (Basic) Advise(_ context.Context, req Request) (*domain.Solution, error) {
	workflow := stringValue(req.ContextData, KeyWorkflowName, "unknown workflow")
	job := stringValue(req.ContextData, KeyFailedJob, "unknown job")
	logs := strings.ToLower(req.Message + "\n" + stringValue(req.ContextData, KeyErrorLogs, ""))

	return &domain.Solution{
		RootCause:  fmt.Sprintf("Basic analysis for %s in %s (job: %s)", req.ErrorType, workflow, job),
		Solution:   strings.Join(basicSteps(req.ErrorType, logs), "\n"),
		Prevention: "Implement more comprehensive error handling and improved workflow steps",
	}, nil
}

func basicSteps(t domain.ErrorType, logs string) []string {
	switch t {
	case domain.ErrorTypeTerraform:
		switch {
		case strings.Contains(logs, "state lock") || strings.Contains(logs, "state_lock"):
			return []string{
				"Wait for any running Terraform operations to complete",
				"Run: terraform force-unlock [LOCK_ID]",
				"Retry the failed operation",
			}
		case strings.Contains(logs, "no such file") || strings.Contains(logs, "not initialized"):
			return []string{
				"Run: terraform init",
				"Retry the failed operation",
			}
		}
		return []string{
			"Check Terraform configuration files for syntax errors",
			"Verify cloud credentials are properly configured",
			"Run: terraform validate",
		}
	case domain.ErrorTypePermission:
		return []string{
			"Check IAM permissions",
			"Verify CI job permissions",
			"Ensure necessary environment variables are set",
		}
	case domain.ErrorTypeAPI:
		return []string{
			"Wait for the provider rate limit window to reset",
			"Reduce request concurrency or add client-side throttling",
			"Retry the failed operation",
		}
	case domain.ErrorTypeResourceConflict:
		return []string{
			"Check whether the resource already exists outside Terraform state",
			"Import the existing resource or give the new one a unique name",
			"Retry the failed operation",
		}
	case domain.ErrorTypeNetwork:
		return []string{
			"Check connectivity to the provider endpoint",
			"Verify proxy and DNS settings",
			"Retry the failed operation",
		}
	case domain.ErrorTypeValidation:
		return []string{
			"Check the reported field against the module's variable definitions",
			"Run: terraform validate",
		}
	}
	return []string{
		"Check logs for detailed error information",
		"Verify all dependencies are installed",
		"Check environment configuration",
	}
}

func stringValue(data map[string]any, key, def string) string {
	if v, ok := data[key].(string); ok && v != "" {
		return v
	}
	return def
}
