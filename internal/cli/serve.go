package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/inframate/internal/control"
	"github.com/vietddude/inframate/internal/core/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the recovery engine as an HTTP service",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := control.NewApp(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize Inframate", "error", err)
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	app.Start(ctx, true)

	// Hot reload recovery settings; other sections need a restart
	if _, err := os.Stat(cfgPath); err == nil {
		if err := config.Watch(ctx, cfgPath, app.ApplyConfig); err != nil {
			slog.Warn("Config hot reload disabled", "error", err)
		}
	}

	slog.Info("Inframate started", "config", cfgPath, "port", cfg.Server.Port)

	sig := <-sigChan
	slog.Info("Received signal, shutting down...", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := app.Stop(shutdownCtx); err != nil {
		slog.Error("Error during shutdown", "error", err)
		return err
	}
	return nil
}
