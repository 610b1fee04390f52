package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/spf13/cobra"
)

var (
	resetAddr string
	resetType string
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset retry counters on a running server",
	Long:  `Clear retry counters and loop windows, for one error type or all of them. History is kept.`,
	RunE:  runReset,
}

func init() {
	resetCmd.Flags().StringVar(&resetAddr, "addr", "", "server address (default http://localhost:<server.port>)")
	resetCmd.Flags().StringVar(&resetType, "type", "", "error type to reset (all when empty)")
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	addr := resetAddr
	if addr == "" {
		addr = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
	}
	target := addr + "/v1/reset"
	if resetType != "" {
		target += "?type=" + url.QueryEscape(resetType)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	var body map[string]int
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	fmt.Printf("Reset %d error signatures\n", body["reset"])
	return nil
}
