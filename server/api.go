package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lexcodex/commander/framework"
	"github.com/lexcodex/commander/persistence"
)

// Runner is the slice of the commander runtime the servers depend on.
type Runner interface {
	Run(ctx context.Context, language string, content ...string) (persistence.RunRecord, error)
	StopAll() int
	Languages() []string
	SupportedTags() string
	Output() *framework.OutputBuffer
	History(ctx context.Context, limit int) ([]persistence.RunRecord, error)
	AddNotifier(n framework.Notifier) func()
}

// APIServer exposes HTTP endpoints for running snippets without an editor.
type APIServer struct {
	Runner Runner
	Logger *log.Logger
}

// RunRequest describes the run payload.
type RunRequest struct {
	Language string `json:"language"`
	Content  string `json:"content"`
}

// RunResponse describes how a run settled.
type RunResponse struct {
	ID       string                `json:"id"`
	Status   persistence.RunStatus `json:"status"`
	Kind     string                `json:"kind,omitempty"`
	ExitCode int                   `json:"exitCode"`
	Error    string                `json:"error,omitempty"`
}

// StopResponse reports how many scripts were signalled.
type StopResponse struct {
	Stopped int `json:"stopped"`
}

// LanguagesResponse lists the registered patterns in resolution order.
// Pattern joins them into one alternation a host can use to find tagged
// blocks.
type LanguagesResponse struct {
	Languages []string `json:"languages"`
	Pattern   string   `json:"pattern"`
}

// OutputResponse is a snapshot of the output log.
type OutputResponse struct {
	Lines []string `json:"lines"`
}

// ServeContext allows the caller to control shutdown via context cancellation.
func (s *APIServer) ServeContext(ctx context.Context, addr string) error {
	server := s.newHTTPServer(addr)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	s.logger().Printf("API listening on %s", addr)
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *APIServer) newHTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}
}

// Handler returns the API routes.
func (s *APIServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/run", s.handleRun)
	mux.HandleFunc("/api/stop", s.handleStop)
	mux.HandleFunc("/api/languages", s.handleLanguages)
	mux.HandleFunc("/api/output", s.handleOutput)
	mux.HandleFunc("/api/history", s.handleHistory)
	mux.HandleFunc("/api/stream", s.handleStream)
	return localOnly(mux)
}

func (s *APIServer) logger() *log.Logger {
	if s.Logger == nil {
		return log.Default()
	}
	return s.Logger
}

func (s *APIServer) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !requireJSON(w, r) {
		return
	}
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Language == "" {
		http.Error(w, "language required", http.StatusBadRequest)
		return
	}
	record, err := s.Runner.Run(r.Context(), req.Language, req.Content)
	resp := RunResponse{
		ID:       record.ID,
		Status:   record.Status,
		ExitCode: record.ExitCode,
	}
	if err != nil {
		resp.Kind = string(framework.KindOf(err))
		resp.Error = err.Error()
	}
	writeJSONStatus(w, runStatusCode(err), resp)
}

// runStatusCode maps a run outcome to an HTTP status. A script that ran and
// failed is still a successful request.
func runStatusCode(err error) int {
	switch framework.KindOf(err) {
	case "":
		if err != nil {
			return http.StatusInternalServerError
		}
		return http.StatusOK
	case framework.KindUnsupportedLanguage, framework.KindInvalidCommand:
		return http.StatusUnprocessableEntity
	case framework.KindBlocked:
		return http.StatusForbidden
	case framework.KindWriteError, framework.KindSpawnError:
		return http.StatusInternalServerError
	default:
		return http.StatusOK
	}
}

func (s *APIServer) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !requireJSON(w, r) {
		return
	}
	writeJSON(w, StopResponse{Stopped: s.Runner.StopAll()})
}

func (s *APIServer) handleLanguages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, LanguagesResponse{Languages: s.Runner.Languages(), Pattern: s.Runner.SupportedTags()})
}

func (s *APIServer) handleOutput(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, OutputResponse{Lines: s.Runner.Output().Lines()})
	case http.MethodDelete:
		if !requireJSON(w, r) {
			return
		}
		s.Runner.Output().Clear()
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *APIServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	records, err := s.Runner.History(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []persistence.RunRecord{}
	}
	writeJSON(w, records)
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	writeJSONStatus(w, http.StatusOK, data)
}

func writeJSONStatus(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("encode response: %v", err)
	}
}

// localOnly rejects requests addressed to a non-loopback host name or sent
// from a non-loopback origin. Browsers attach Origin to cross-site requests,
// and a rebound DNS name shows up in Host.
func localOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isLoopbackHost(r.Host) {
			http.Error(w, "host not allowed", http.StatusForbidden)
			return
		}
		if !allowedOrigin(r) {
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// allowedOrigin accepts requests without an Origin header and those whose
// origin is a loopback host.
func allowedOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	return isLoopbackHost(u.Host)
}

func isLoopbackHost(hostport string) bool {
	host := hostport
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		host = h
	}
	host = strings.TrimSuffix(strings.Trim(host, "[]"), ".")
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// requireJSON rejects state-changing requests that a browser could send
// cross-site without a preflight.
func requireJSON(w http.ResponseWriter, r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		http.Error(w, "Content-Type must be application/json", http.StatusUnsupportedMediaType)
		return false
	}
	return true
}
