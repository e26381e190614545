package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	runtimesvc "github.com/lexcodex/commander/internal/commander/runtime"
	"github.com/lexcodex/commander/server"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithRuntime(cmd, func(ctx context.Context, rt *runtimesvc.Runtime) error {
				stop, err := rt.StartServer(ctx, cfg.ServerAddr)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "API server listening on %s\n", cfg.ServerAddr)
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return stop(shutdownCtx)
			})
		},
	}
	return cmd
}

// newRPCCmd speaks JSON-RPC over stdio for editor integrations. Logs never
// go to stdout since it carries the protocol.
func newRPCCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rpc",
		Short: "Serve JSON-RPC over stdin/stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithRuntime(cmd, func(ctx context.Context, rt *runtimesvc.Runtime) error {
				srv := &server.RPCServer{Runner: rt, Logger: rt.Logger, Version: version}
				return srv.ServeStream(ctx, server.StdioReadWriteCloser{Reader: os.Stdin, Writer: os.Stdout})
			})
		},
	}
	return cmd
}
