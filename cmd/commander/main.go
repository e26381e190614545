package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	runtimesvc "github.com/lexcodex/commander/internal/commander/runtime"
)

var cfg = runtimesvc.DefaultConfig()

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	cancel()
	if err != nil {
		var exit exitStatus
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// exitStatus carries a script's exit code out of the command tree. The
// failure itself has already been reported on the output stream.
type exitStatus struct {
	code int
}

func (e exitStatus) Error() string {
	return fmt.Sprintf("exit code %d", e.code)
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "commander",
		Short:         "Run code snippets as scripts and collect their output",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return cfg.Normalize()
		},
	}
	flags := root.PersistentFlags()
	flags.StringVar(&cfg.Workspace, "workspace", cfg.Workspace, "Workspace directory")
	flags.StringVar(&cfg.SettingsPath, "settings", "", "Settings file (default <workspace>/.commander/settings.yaml)")
	flags.StringVar(&cfg.HistoryPath, "history-db", "", "Run history database (default <workspace>/.commander/history.db)")
	flags.StringVar(&cfg.LogPath, "log", "", "Log file (default <workspace>/.commander/commander.log)")
	flags.StringVar(&cfg.ServerAddr, "addr", cfg.ServerAddr, "HTTP server address")
	flags.BoolVar(&cfg.Telemetry, "telemetry", false, "Record lifecycle events as NDJSON")
	flags.BoolVarP(&cfg.Verbose, "verbose", "v", false, "Mirror the log to stderr")

	root.AddCommand(
		newRunCmd(),
		newPanelCmd(),
		newStopCmd(),
		newLanguagesCmd(),
		newHistoryCmd(),
		newConfigCmd(),
		newServeCmd(),
		newRPCCmd(),
	)
	return root
}

func runWithRuntime(cmd *cobra.Command, fn func(context.Context, *runtimesvc.Runtime) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := runtimesvc.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}
