package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/inframate/internal/control"
	"github.com/vietddude/inframate/internal/resilience/workflow"
)

var (
	runAutonomous bool
	runParallel   bool
	runOutput     string
)

var runCmd = &cobra.Command{
	Use:   "run [phase...]",
	Short: "Run workflow phases with automatic error recovery",
	Long: `Run the phases configured under workflow.phases. With no arguments, or
"auto", every phase runs in configured order.`,
	RunE: runWorkflow,
}

func init() {
	runCmd.Flags().BoolVar(&runAutonomous, "autonomous", false, "keep running after unrecovered failures")
	runCmd.Flags().BoolVar(&runParallel, "parallel", false, "run phases concurrently")
	runCmd.Flags().StringVar(&runOutput, "output", "", "results file (default workflow.results_file)")
	rootCmd.AddCommand(runCmd)
}

func runWorkflow(cmd *cobra.Command, args []string) error {
	phases, err := workflow.Select(workflow.PhasesFromConfig(cfg.Workflow.Phases), args)
	if err != nil {
		return err
	}
	if len(phases) == 0 {
		return fmt.Errorf("no workflow phases configured")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := control.NewApp(ctx, cfg)
	if err != nil {
		return err
	}
	app.Start(ctx, false)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.History.FlushTimeout)
		defer cancel()
		if err := app.Stop(shutdownCtx); err != nil {
			slog.Warn("Error during shutdown", "error", err)
		}
	}()

	runner := workflow.NewRunner(cfg.Workflow.Name, app.Handler,
		workflow.WithAutonomous(runAutonomous || cfg.Workflow.Autonomous),
		workflow.WithParallel(runParallel || cfg.Workflow.Parallel),
	)

	start := time.Now()
	res, runErr := runner.Run(ctx, phases)

	output := runOutput
	if output == "" {
		output = cfg.Workflow.ResultsFile
	}
	if err := workflow.WriteResults(output, res); err != nil {
		return err
	}
	slog.Info("Results written", "path", output, "duration", time.Since(start))

	if runErr != nil {
		return runErr
	}
	if !res.Success {
		return fmt.Errorf("workflow %s failed", cfg.Workflow.Name)
	}
	return nil
}
