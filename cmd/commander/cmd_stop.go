package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lexcodex/commander/server"
)

// newStopCmd asks a serving commander instance to kill every running script.
func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop all scripts running in a served instance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			stopped, err := requestStop(ctx, http.DefaultClient, cfg.ServerAddr)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), stopMessage(stopped))
			return nil
		},
	}
}

func requestStop(ctx context.Context, client *http.Client, addr string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	base := addr
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(base, "/")+"/api/stop", nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("contact commander at %s: %w", addr, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("stop request failed: %s", resp.Status)
	}
	var payload server.StopResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("decode stop response: %w", err)
	}
	return payload.Stopped, nil
}

func stopMessage(stopped int) string {
	if stopped == 0 {
		return "No running scripts found"
	}
	return fmt.Sprintf("%d scripts stopped", stopped)
}
