package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"

	"github.com/sourcegraph/jsonrpc2"
	"go.lsp.dev/protocol"

	"github.com/lexcodex/commander/framework"
)

// RPC method names served to an editor host.
const (
	MethodRun       = "commander/run"
	MethodStop      = "commander/stop"
	MethodLanguages = "commander/languages"
	MethodOutput    = "commander/output"
	MethodClear     = "commander/clear"

	// MethodCleared is sent to the host when the output log is emptied.
	MethodCleared = "commander/cleared"

	methodLogMessage  = "window/logMessage"
	methodShowMessage = "window/showMessage"
)

// RPCServer bridges the runner to an editor host over JSON-RPC 2.0 with
// LSP-style framing. Script output is pushed as window/logMessage and notices
// as window/showMessage.
type RPCServer struct {
	Runner  Runner
	Logger  *log.Logger
	Version string
}

// ServeStream serves a single host connection until ctx is cancelled or the
// peer disconnects. Requests are handled concurrently so a stop request is
// answered while a run is still in flight.
func (s *RPCServer) ServeStream(ctx context.Context, rwc io.ReadWriteCloser) error {
	stream := jsonrpc2.NewBufferedStream(rwc, jsonrpc2.VSCodeObjectCodec{})
	handler := jsonrpc2.AsyncHandler(jsonrpc2.HandlerWithError(s.handle))
	conn := jsonrpc2.NewConn(ctx, stream, handler)

	events, unsubscribe := s.Runner.Output().Subscribe(256)
	defer unsubscribe()
	removeNotifier := s.Runner.AddNotifier(framework.NotifierFunc(func(msg string) {
		params := protocol.ShowMessageParams{Type: protocol.MessageTypeWarning, Message: msg}
		if err := conn.Notify(ctx, methodShowMessage, params); err != nil {
			s.logger().Printf("rpc notice dropped: %v", err)
		}
	}))
	defer removeNotifier()

	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		for {
			select {
			case <-conn.DisconnectNotify():
				return
			case evt, ok := <-events:
				if !ok {
					return
				}
				if err := s.relay(ctx, conn, evt); err != nil {
					return
				}
			}
		}
	}()

	s.logger().Printf("rpc host connected")
	var err error
	select {
	case <-ctx.Done():
		err = ctx.Err()
		_ = conn.Close()
	case <-conn.DisconnectNotify():
	}
	<-relayDone
	s.logger().Printf("rpc host disconnected")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *RPCServer) relay(ctx context.Context, conn *jsonrpc2.Conn, evt framework.OutputEvent) error {
	switch evt.Type {
	case framework.OutputCleared:
		return conn.Notify(ctx, MethodCleared, nil)
	default:
		params := protocol.LogMessageParams{Type: protocol.MessageTypeLog, Message: evt.Text}
		return conn.Notify(ctx, methodLogMessage, params)
	}
}

func (s *RPCServer) handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (interface{}, error) {
	switch req.Method {
	case "initialize":
		return protocol.InitializeResult{
			ServerInfo: &protocol.ServerInfo{Name: "commander", Version: s.Version},
		}, nil
	case "initialized", "shutdown", "exit":
		return nil, nil
	case MethodRun:
		var params RunRequest
		if err := decodeParams(req, &params); err != nil {
			return nil, err
		}
		if params.Language == "" {
			return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: "language required"}
		}
		record, err := s.Runner.Run(ctx, params.Language, params.Content)
		resp := RunResponse{ID: record.ID, Status: record.Status, ExitCode: record.ExitCode}
		if err != nil {
			resp.Kind = string(framework.KindOf(err))
			resp.Error = err.Error()
		}
		return resp, nil
	case MethodStop:
		return StopResponse{Stopped: s.Runner.StopAll()}, nil
	case MethodLanguages:
		return LanguagesResponse{Languages: s.Runner.Languages(), Pattern: s.Runner.SupportedTags()}, nil
	case MethodOutput:
		return OutputResponse{Lines: s.Runner.Output().Lines()}, nil
	case MethodClear:
		s.Runner.Output().Clear()
		return nil, nil
	default:
		if req.Notif {
			return nil, nil
		}
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: "method not handled: " + req.Method}
	}
}

func decodeParams(req *jsonrpc2.Request, out interface{}) error {
	if req.Params == nil {
		return &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: "params required"}
	}
	if err := json.Unmarshal(*req.Params, out); err != nil {
		return &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: err.Error()}
	}
	return nil
}

func (s *RPCServer) logger() *log.Logger {
	if s.Logger == nil {
		return log.Default()
	}
	return s.Logger
}

// StdioReadWriteCloser joins a reader and writer, typically os.Stdin and
// os.Stdout, into one stream.
type StdioReadWriteCloser struct {
	Reader io.ReadCloser
	Writer io.WriteCloser
}

func (s StdioReadWriteCloser) Read(p []byte) (int, error)  { return s.Reader.Read(p) }
func (s StdioReadWriteCloser) Write(p []byte) (int, error) { return s.Writer.Write(p) }
func (s StdioReadWriteCloser) Close() error {
	_ = s.Reader.Close()
	return s.Writer.Close()
}
