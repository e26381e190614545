package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexcodex/commander/framework"
	"github.com/lexcodex/commander/persistence"
)

// stubRunner echoes content to the buffer and fails with a configured error.
type stubRunner struct {
	mu        sync.Mutex
	buffer    *framework.OutputBuffer
	err       error
	stopped   int
	runs      []RunRequest
	history   []persistence.RunRecord
	notifiers map[int]framework.Notifier
	nextID    int
}

func newStubRunner() *stubRunner {
	return &stubRunner{
		buffer:    framework.NewOutputBuffer(50),
		notifiers: make(map[int]framework.Notifier),
	}
}

func (s *stubRunner) Run(ctx context.Context, language string, content ...string) (persistence.RunRecord, error) {
	s.mu.Lock()
	s.runs = append(s.runs, RunRequest{Language: language, Content: content[0]})
	err := s.err
	s.mu.Unlock()
	s.buffer.Print(content[0])
	record := persistence.RunRecord{ID: "run-1", Language: language, Status: persistence.RunStatusSucceeded}
	if code, ok := framework.ExitCode(err); ok {
		record.Status = persistence.RunStatusFailed
		record.ExitCode = code
	}
	return record, err
}

func (s *stubRunner) StopAll() int {
	s.mu.Lock()
	n := s.stopped
	s.mu.Unlock()
	if n == 0 {
		s.notify("No running scripts found")
	}
	return n
}

func (s *stubRunner) Languages() []string {
	return []string{"sh", "js|javascript"}
}

func (s *stubRunner) SupportedTags() string { return "sh|js|javascript" }

func (s *stubRunner) Output() *framework.OutputBuffer { return s.buffer }

func (s *stubRunner) History(ctx context.Context, limit int) ([]persistence.RunRecord, error) {
	if limit > 0 && limit < len(s.history) {
		return s.history[:limit], nil
	}
	return s.history, nil
}

func (s *stubRunner) AddNotifier(n framework.Notifier) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.notifiers[id] = n
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.notifiers, id)
		s.mu.Unlock()
	}
}

func (s *stubRunner) notify(msg string) {
	s.mu.Lock()
	targets := make([]framework.Notifier, 0, len(s.notifiers))
	for _, n := range s.notifiers {
		targets = append(targets, n)
	}
	s.mu.Unlock()
	for _, n := range targets {
		n.Notify(msg)
	}
}

func newTestAPI(runner Runner) *APIServer {
	return &APIServer{Runner: runner, Logger: log.New(io.Discard, "", 0)}
}

// localRequest builds a request addressed to the loopback API; state-changing
// methods carry a JSON content type.
func localRequest(method, target string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, "http://127.0.0.1:8765"+target, body)
	if method == http.MethodPost || method == http.MethodDelete {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func postRun(t *testing.T, api *APIServer, req RunRequest) (*httptest.ResponseRecorder, RunResponse) {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	api.handleRun(rec, localRequest(http.MethodPost, "/api/run", bytes.NewReader(body)))
	var resp RunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec, resp
}

func TestAPIServerHandleRun(t *testing.T) {
	runner := newStubRunner()
	api := newTestAPI(runner)

	rec, resp := postRun(t, api, RunRequest{Language: "sh", Content: "echo hi"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "run-1", resp.ID)
	assert.Equal(t, persistence.RunStatusSucceeded, resp.Status)
	assert.Empty(t, resp.Error)
	assert.Equal(t, []string{"echo hi"}, runner.buffer.Lines())
}

func TestAPIServerHandleRunMapsErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		kind   framework.ErrorKind
	}{
		{name: "unsupported", err: framework.ErrUnsupportedLanguage, status: http.StatusUnprocessableEntity, kind: framework.KindUnsupportedLanguage},
		{name: "blocked", err: framework.ErrBlocked, status: http.StatusForbidden, kind: framework.KindBlocked},
		{name: "spawn", err: framework.ErrSpawnError, status: http.StatusInternalServerError, kind: framework.KindSpawnError},
		{name: "killed", err: framework.ErrKilled, status: http.StatusOK, kind: framework.KindKilled},
		{name: "exit", err: &framework.RunError{Kind: framework.KindNonZeroExit, Message: "exit code 2", ExitCode: 2}, status: http.StatusOK, kind: framework.KindNonZeroExit},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			runner := newStubRunner()
			runner.err = tc.err
			rec, resp := postRun(t, newTestAPI(runner), RunRequest{Language: "sh", Content: "x"})
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, string(tc.kind), resp.Kind)
			assert.NotEmpty(t, resp.Error)
		})
	}

	runner := newStubRunner()
	runner.err = &framework.RunError{Kind: framework.KindNonZeroExit, Message: "exit code 2", ExitCode: 2}
	_, resp := postRun(t, newTestAPI(runner), RunRequest{Language: "sh", Content: "exit 2"})
	assert.Equal(t, 2, resp.ExitCode)
	assert.Equal(t, persistence.RunStatusFailed, resp.Status)
}

func TestAPIServerHandleRunValidates(t *testing.T) {
	api := newTestAPI(newStubRunner())

	rec := httptest.NewRecorder()
	api.handleRun(rec, localRequest(http.MethodGet, "/api/run", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	api.handleRun(rec, localRequest(http.MethodPost, "/api/run", bytes.NewReader([]byte("{"))))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	api.handleRun(rec, localRequest(http.MethodPost, "/api/run", bytes.NewReader([]byte(`{"content":"x"}`))))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPIServerStopLanguagesOutput(t *testing.T) {
	runner := newStubRunner()
	runner.stopped = 3
	handler := newTestAPI(runner).Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, localRequest(http.MethodPost, "/api/stop", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"stopped":3}`, rec.Body.String())

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, localRequest(http.MethodGet, "/api/languages", nil))
	assert.JSONEq(t, `{"languages":["sh","js|javascript"],"pattern":"sh|js|javascript"}`, rec.Body.String())

	runner.buffer.Print("one\ntwo\n")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, localRequest(http.MethodGet, "/api/output", nil))
	assert.JSONEq(t, `{"lines":["one","two"]}`, rec.Body.String())

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, localRequest(http.MethodDelete, "/api/output", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, runner.buffer.Lines())
}

func TestAPIServerHistory(t *testing.T) {
	runner := newStubRunner()
	runner.history = []persistence.RunRecord{{ID: "b"}, {ID: "a"}}
	handler := newTestAPI(runner).Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, localRequest(http.MethodGet, "/api/history?limit=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var records []persistence.RunRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	require.Len(t, records, 1)
	assert.Equal(t, "b", records[0].ID)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, localRequest(http.MethodGet, "/api/history?limit=x", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPIServerRejectsCrossSiteRequests(t *testing.T) {
	runner := newStubRunner()
	handler := newTestAPI(runner).Handler()
	body := `{"language":"sh","content":"touch /tmp/owned"}`

	cases := []struct {
		name        string
		method      string
		target      string
		host        string
		origin      string
		contentType string
		status      int
	}{
		{name: "text plain from foreign origin", method: http.MethodPost, target: "/api/run", origin: "https://evil.example", contentType: "text/plain", status: http.StatusForbidden},
		{name: "text plain without origin", method: http.MethodPost, target: "/api/run", contentType: "text/plain", status: http.StatusUnsupportedMediaType},
		{name: "json from foreign origin", method: http.MethodPost, target: "/api/run", origin: "https://evil.example", contentType: "application/json", status: http.StatusForbidden},
		{name: "rebound host name", method: http.MethodPost, target: "/api/run", host: "evil.example:8765", contentType: "application/json", status: http.StatusForbidden},
		{name: "null origin", method: http.MethodPost, target: "/api/run", origin: "null", contentType: "application/json", status: http.StatusForbidden},
		{name: "form stop", method: http.MethodPost, target: "/api/stop", contentType: "application/x-www-form-urlencoded", status: http.StatusUnsupportedMediaType},
		{name: "clear without json", method: http.MethodDelete, target: "/api/output", status: http.StatusUnsupportedMediaType},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, "http://127.0.0.1:8765"+tc.target, strings.NewReader(body))
			if tc.host != "" {
				req.Host = tc.host
			}
			if tc.origin != "" {
				req.Header.Set("Origin", tc.origin)
			}
			if tc.contentType != "" {
				req.Header.Set("Content-Type", tc.contentType)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tc.status, rec.Code)
		})
	}
	assert.Empty(t, runner.runs)

	req := localRequest(http.MethodPost, "/api/run", strings.NewReader(`{"language":"sh","content":"echo hi"}`))
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, runner.runs, 1)
}

func TestIsLoopbackHost(t *testing.T) {
	for _, host := range []string{"127.0.0.1:8765", "localhost", "LOCALHOST:80", "[::1]:8765", "::1", "127.0.0.2"} {
		assert.True(t, isLoopbackHost(host), host)
	}
	for _, host := range []string{"evil.example", "10.0.0.1:8765", "localhost.evil.example", "0.0.0.0:8765", ""} {
		assert.False(t, isLoopbackHost(host), host)
	}
}
