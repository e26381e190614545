package server

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net"
	"testing"
	"time"

	"github.com/sourcegraph/jsonrpc2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.lsp.dev/protocol"

	"github.com/lexcodex/commander/persistence"
)

type hostNotification struct {
	method string
	params json.RawMessage
}

// dialRPC serves runner on one end of a pipe and returns a host connection
// on the other, with server notifications delivered to the channel.
func dialRPC(t *testing.T, runner Runner) (*jsonrpc2.Conn, <-chan hostNotification) {
	t.Helper()
	serverEnd, hostEnd := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())

	rpc := &RPCServer{Runner: runner, Logger: log.New(io.Discard, "", 0), Version: "test"}
	done := make(chan error, 1)
	go func() { done <- rpc.ServeStream(ctx, serverEnd) }()

	notes := make(chan hostNotification, 32)
	handler := jsonrpc2.HandlerWithError(func(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (interface{}, error) {
		if req.Notif {
			note := hostNotification{method: req.Method}
			if req.Params != nil {
				note.params = append(json.RawMessage(nil), *req.Params...)
			}
			notes <- note
		}
		return nil, nil
	})
	host := jsonrpc2.NewConn(ctx, jsonrpc2.NewBufferedStream(hostEnd, jsonrpc2.VSCodeObjectCodec{}), handler)
	t.Cleanup(func() {
		cancel()
		_ = host.Close()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("rpc server did not stop")
		}
	})
	return host, notes
}

func nextNotification(t *testing.T, notes <-chan hostNotification, method string) hostNotification {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case note := <-notes:
			if note.method == method {
				return note
			}
		case <-deadline:
			t.Fatalf("no %s notification", method)
		}
	}
}

func TestRPCServerRunRelaysOutput(t *testing.T) {
	runner := newStubRunner()
	host, notes := dialRPC(t, runner)
	ctx := context.Background()

	var init protocol.InitializeResult
	require.NoError(t, host.Call(ctx, "initialize", map[string]interface{}{}, &init))
	require.NotNil(t, init.ServerInfo)
	assert.Equal(t, "commander", init.ServerInfo.Name)

	var resp RunResponse
	require.NoError(t, host.Call(ctx, MethodRun, RunRequest{Language: "sh", Content: "hello"}, &resp))
	assert.Equal(t, persistence.RunStatusSucceeded, resp.Status)

	note := nextNotification(t, notes, methodLogMessage)
	var params protocol.LogMessageParams
	require.NoError(t, json.Unmarshal(note.params, &params))
	assert.Equal(t, "hello", params.Message)
	assert.Equal(t, protocol.MessageTypeLog, params.Type)
}

func TestRPCServerStopSendsNotice(t *testing.T) {
	runner := newStubRunner()
	host, notes := dialRPC(t, runner)

	var resp StopResponse
	require.NoError(t, host.Call(context.Background(), MethodStop, nil, &resp))
	assert.Equal(t, 0, resp.Stopped)

	note := nextNotification(t, notes, methodShowMessage)
	var params protocol.ShowMessageParams
	require.NoError(t, json.Unmarshal(note.params, &params))
	assert.Equal(t, "No running scripts found", params.Message)
	assert.Equal(t, protocol.MessageTypeWarning, params.Type)
}

func TestRPCServerLanguagesAndClear(t *testing.T) {
	runner := newStubRunner()
	runner.buffer.Print("stale")
	host, notes := dialRPC(t, runner)
	ctx := context.Background()

	var langs LanguagesResponse
	require.NoError(t, host.Call(ctx, MethodLanguages, nil, &langs))
	assert.Equal(t, []string{"sh", "js|javascript"}, langs.Languages)
	assert.Equal(t, "sh|js|javascript", langs.Pattern)

	var out OutputResponse
	require.NoError(t, host.Call(ctx, MethodOutput, nil, &out))
	assert.Equal(t, []string{"stale"}, out.Lines)

	require.NoError(t, host.Call(ctx, MethodClear, nil, nil))
	assert.Empty(t, runner.buffer.Lines())
	nextNotification(t, notes, MethodCleared)
}

func TestRPCServerRejectsBadRequests(t *testing.T) {
	host, _ := dialRPC(t, newStubRunner())
	ctx := context.Background()

	err := host.Call(ctx, MethodRun, RunRequest{Content: "x"}, nil)
	var rpcErr *jsonrpc2.Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, int64(jsonrpc2.CodeInvalidParams), rpcErr.Code)

	err = host.Call(ctx, "commander/unknown", nil, nil)
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, int64(jsonrpc2.CodeMethodNotFound), rpcErr.Code)
}
