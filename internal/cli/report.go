package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/inframate/internal/control"
	"github.com/vietddude/inframate/internal/core/domain"
	"github.com/vietddude/inframate/internal/infra/storage"
	"github.com/vietddude/inframate/internal/resilience/recovery"
)

var (
	reportType  string
	reportSince time.Duration
	reportLimit int
	reportJSON  bool
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Summarise archived recovery attempts",
	RunE:  runReport,
}

func init() {
	reportCmd.Flags().StringVar(&reportType, "type", "", "only this error type")
	reportCmd.Flags().DurationVar(&reportSince, "since", 0, "only attempts newer than this (e.g. 24h)")
	reportCmd.Flags().IntVar(&reportLimit, "limit", 0, "only the newest N attempts")
	reportCmd.Flags().BoolVar(&reportJSON, "json", false, "print the report as JSON")
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	repo, closeFn, err := control.OpenArchive(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	filter := storage.AttemptFilter{
		ErrorType: domain.NormalizeErrorType(reportType),
		Limit:     reportLimit,
	}
	if reportSince > 0 {
		filter.Since = time.Now().Add(-reportSince)
	}

	attempts, err := repo.List(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to list attempts: %w", err)
	}
	report := recovery.BuildReport(attempts)

	if reportJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(w, "TYPE\tTOTAL\tRECOVERED\tUNRECOVERED")
	for t, b := range report.ByType {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", t, b.Total, b.Recovered, b.Unrecovered)
	}
	_, _ = fmt.Fprintf(w, "ALL\t%d\t%d\t%d\n", report.TotalErrorCount, report.RecoveredCount, report.UnrecoveredCount)
	return w.Flush()
}
