package framework

import (
	"context"
	"errors"
	"io"
	"os/exec"
	"time"
)

// waitDelay bounds how long Wait keeps draining stdout/stderr after the
// process exits or is killed, in case a grandchild still holds the pipes.
const waitDelay = 2 * time.Second

// CommandRequest captures process execution metadata.
type CommandRequest struct {
	Workdir string
	Args    []string
	Env     []string
	Timeout time.Duration
	Stdout  io.Writer
	Stderr  io.Writer
}

// startCommand spawns req without shell interpretation. The returned cancel
// func releases the timeout context and must be called after Wait. A
// non-nil error means the process never started.
func startCommand(ctx context.Context, req CommandRequest) (*exec.Cmd, context.CancelFunc, error) {
	if len(req.Args) == 0 {
		return nil, nil, errors.New("command arguments required")
	}
	execCtx := ctx
	cancel := func() {}
	if req.Timeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, req.Timeout)
	}
	cmd := exec.CommandContext(execCtx, req.Args[0], req.Args[1:]...)
	cmd.Dir = req.Workdir
	cmd.Env = req.Env
	cmd.Stdout = req.Stdout
	cmd.Stderr = req.Stderr
	cmd.WaitDelay = waitDelay
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, nil, err
	}
	return cmd, cancel, nil
}
