package recovery

import (
	"maps"
	"strings"

	"github.com/google/uuid"
	"github.com/vietddude/inframate/internal/core/domain"
)

// Context keys written by the default strategies.
const (
	KeyRecoveryHint   = "recovery_hint"
	KeyUniquenessFix  = "uniqueness_fix"
	KeyUniqueSuffix   = "unique_suffix"
	KeySuggestedName  = "suggested_name"
	KeyResourceName   = "resource_name"
	KeyField          = "field"
	KeySuggestedValue = "suggested_value"
	KeyFields         = "fields"
	KeyFixedField     = "fixed_field"
)

func registerDefaults(r *Registry) {
	r.Register(domain.ErrorTypeAPI, StrategyFunc(retryWhileBudget))
	r.Register(domain.ErrorTypeNetwork, StrategyFunc(retryWhileBudget))
	r.Register(domain.ErrorTypeTerraform, StrategyFunc(terraformStrategy))
	r.Register(domain.ErrorTypeResourceConflict, StrategyFunc(resourceConflictStrategy))
	r.Register(domain.ErrorTypePermission, StrategyFunc(escalate))
	r.Register(domain.ErrorTypeValidation, StrategyFunc(validationStrategy))
}

func retryWhileBudget(ectx *domain.ErrorContext) domain.Outcome {
	if ectx.RetryCount < ectx.MaxRetries {
		return domain.OutcomeRetry
	}
	return domain.OutcomeEscalate
}

func escalate(*domain.ErrorContext) domain.Outcome {
	return domain.OutcomeEscalate
}

// terraformStrategy waits out state locks and re-initialises missing
// providers. Anything else is left to the next strategy.
func terraformStrategy(ectx *domain.ErrorContext) domain.Outcome {
	msg := strings.ToLower(ectx.Message)
	switch {
	case containsAny(msg, "state lock", "state_lock", "lock id", "lock info"):
		return retryWhileBudget(ectx)
	case containsAny(msg, "terraform init", "not initialized", "no such file",
		"missing provider", "provider registry", "inconsistent dependency lock file"):
		ectx.Data[KeyRecoveryHint] = "run terraform init before retrying"
		return retryWhileBudget(ectx)
	}
	return domain.OutcomeNone
}

func resourceConflictStrategy(ectx *domain.ErrorContext) domain.Outcome {
	suffix := uuid.NewString()[:8]
	ectx.Data[KeyUniquenessFix] = "append a unique suffix to the conflicting resource name"
	ectx.Data[KeyUniqueSuffix] = suffix
	if name, ok := ectx.Data[KeyResourceName].(string); ok && name != "" {
		ectx.Data[KeySuggestedName] = name + "-" + suffix
	}
	return retryWhileBudget(ectx)
}

// validationStrategy applies a single field fix supplied in the context:
// {"field": name, "suggested_value": v, "fields": {...}}.
func validationStrategy(ectx *domain.ErrorContext) domain.Outcome {
	field, _ := ectx.Data[KeyField].(string)
	value, ok := ectx.Data[KeySuggestedValue]
	if field == "" || !ok {
		return domain.OutcomeEscalate
	}

	// Copy rather than mutate: the advisor may still be reading the original.
	fields := make(map[string]any)
	if existing, ok := ectx.Data[KeyFields].(map[string]any); ok {
		maps.Copy(fields, existing)
	}
	fields[field] = value
	ectx.Data[KeyFields] = fields
	ectx.Data[KeyFixedField] = field

	return retryWhileBudget(ectx)
}
