package main

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexcodex/commander/framework"
	runtimesvc "github.com/lexcodex/commander/internal/commander/runtime"
)

func newHeadlessRuntime(t *testing.T) *runtimesvc.Runtime {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	rt, err := runtimesvc.New(context.Background(), runtimesvc.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })

	settings := rt.CurrentSettings()
	settings.WorkingDirectory = t.TempDir()
	require.NoError(t, rt.SaveSettings(settings))
	return rt
}

func TestRunHeadlessSeparatesStatusFromPartialOutput(t *testing.T) {
	rt := newHeadlessRuntime(t)
	var stdout, stderr bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)

	err := runHeadless(context.Background(), cmd, rt, "sh", "printf partial; exit 2")
	var exit exitStatus
	require.True(t, errors.As(err, &exit))
	assert.Equal(t, 2, exit.code)
	assert.Equal(t, "partial\nexit code 2\n", stdout.String())
}

func TestRunHeadlessReportsNoticesOnStderr(t *testing.T) {
	rt := newHeadlessRuntime(t)
	var stdout, stderr bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)

	err := runHeadless(context.Background(), cmd, rt, "sh", "sudo true")
	require.ErrorIs(t, err, framework.ErrBlocked)
	assert.Empty(t, stdout.String())
	assert.Equal(t, "Script execution blocked\n", stderr.String())
}
