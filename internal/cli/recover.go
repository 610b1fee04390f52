package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vietddude/inframate/internal/core/domain"
	"github.com/vietddude/inframate/internal/infra/advisor"
	"github.com/vietddude/inframate/internal/resilience/recovery"
)

var (
	recoverLogFile  string
	recoverType     string
	recoverMessage  string
	recoverSeverity string
	recoverWorkflow string
	recoverJob      string
	recoverOutput   string
)

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Generate a recovery plan for a failed CI job",
	Long: `Analyze the log of a failed job with the configured advisor and write a
JSON recovery plan. The rule-based advisor answers when no model is reachable.`,
	RunE: runRecover,
}

func init() {
	recoverCmd.Flags().StringVar(&recoverLogFile, "log-file", "", "job log to analyze")
	recoverCmd.Flags().StringVar(&recoverType, "error-type", "", "error type hint (classified from the log when empty)")
	recoverCmd.Flags().StringVar(&recoverMessage, "error-message", "", "error message")
	recoverCmd.Flags().StringVar(&recoverSeverity, "severity", "", "severity override: low, medium, high, critical")
	recoverCmd.Flags().StringVar(&recoverWorkflow, "workflow", "", "name of the failed workflow")
	recoverCmd.Flags().StringVar(&recoverJob, "job", "", "name of the failed job")
	recoverCmd.Flags().StringVar(&recoverOutput, "output", "recovery_plan.json", "plan output file")
	rootCmd.AddCommand(recoverCmd)
}

func runRecover(cmd *cobra.Command, args []string) error {
	var logs string
	if recoverLogFile != "" {
		data, err := os.ReadFile(recoverLogFile)
		if err != nil {
			return fmt.Errorf("failed to read log file: %w", err)
		}
		logs = advisor.Excerpt(string(data), advisor.MaxLogExcerpt)
	}
	if logs == "" && recoverMessage == "" {
		return fmt.Errorf("either --log-file or --error-message is required")
	}

	message := recoverMessage
	if message == "" {
		message = logs
	}
	errType, severity := recovery.NewClassifier().Classify(recoverType, message+"\n"+logs)
	override, err := severityFlag(recoverSeverity)
	if err != nil {
		return err
	}
	if override.Valid() {
		severity = override
	}

	adv, err := advisor.New(cfg.Advisor)
	if err != nil {
		slog.Warn("Advisor unavailable, using basic analysis", "error", err)
		adv = advisor.Basic{}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Advisor.Timeout)
	defer cancel()

	plan := advisor.BuildPlan(ctx, adv, advisor.Request{
		ErrorType: errType,
		Message:   message,
		Severity:  severity,
		ContextData: map[string]any{
			advisor.KeyWorkflowName: orDefault(recoverWorkflow, "unknown workflow"),
			advisor.KeyFailedJob:    orDefault(recoverJob, "unknown job"),
			advisor.KeyErrorLogs:    logs,
		},
	})

	if err := advisor.WritePlan(recoverOutput, plan); err != nil {
		return err
	}

	slog.Info("Recovery plan written",
		"path", recoverOutput,
		"error_type", plan.ErrorType,
		"severity", plan.Severity,
		"steps", len(plan.Steps),
		"source", plan.Source,
	)
	for i, step := range plan.Steps {
		fmt.Printf("%d. %s\n", i+1, step)
	}
	return nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// severityFlag parses an optional severity name.
func severityFlag(v string) (domain.ErrorSeverity, error) {
	sev, err := domain.ParseSeverity(v)
	if err != nil {
		return domain.SeverityUnspecified, fmt.Errorf("invalid severity: %w", err)
	}
	return sev, nil
}
