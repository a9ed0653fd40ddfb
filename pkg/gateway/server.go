// Package gateway serves the plan execution HTTP API: one-shot execution,
// step streaming over WebSocket, and the execution history. The gateway is
// a transport shell; plans run through an injected PlanExecutor.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/davan/docplan/internal/observability"
	"github.com/davan/docplan/internal/tracing"
	"github.com/davan/docplan/pkg/execqueue"
	"github.com/davan/docplan/pkg/history"
)

// SecretHeader authenticates requests when a shared secret is configured.
const SecretHeader = "X-Docplan-Secret"

// maxRequestBytes caps the request body read. The normalizer enforces its
// own payload cap after parsing; this bound just keeps oversized bodies
// from being buffered first.
const maxRequestBytes = 8 << 20

// Config holds gateway server configuration.
type Config struct {
	Host         string
	Port         int
	SharedSecret string
	Executor     PlanExecutor
	History      *history.Store
	Dedup        *execqueue.DedupCache
	Logger       zerolog.Logger
}

// Server is the plan gateway.
type Server struct {
	host         string
	port         int
	sharedSecret string
	executor     PlanExecutor
	history      *history.Store
	dedup        *execqueue.DedupCache
	logger       zerolog.Logger

	server   *http.Server
	upgrader websocket.Upgrader

	isShuttingDown bool
	shutdownMu     sync.RWMutex
	inFlightReqs   sync.WaitGroup

	streamMu      sync.Mutex
	activeStreams int
}

// NewServer creates a gateway server. The shared secret is optional; when
// empty the API is open.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("plan executor is required")
	}

	observability.EnsureRegistered()

	return &Server{
		host:         cfg.Host,
		port:         cfg.Port,
		sharedSecret: cfg.SharedSecret,
		executor:     cfg.Executor,
		history:      cfg.History,
		dedup:        cfg.Dedup,
		logger:       cfg.Logger.With().Str("component", "gateway").Logger(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}, nil
}

// Handler returns the gateway's route table. Exposed so callers can mount
// the gateway in their own server or drive it from tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/plans/execute", s.requireSecret(s.handleExecute))
	mux.HandleFunc("/v1/plans/stream", s.requireSecret(s.handleStream))
	mux.HandleFunc("/v1/executions", s.requireSecret(s.handleExecutions))
	mux.Handle("/metrics", observability.MetricsHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

// Start begins serving. It returns once the listener goroutine is launched.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.host, s.port),
		Handler: s.Handler(),
	}

	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting gateway server")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()

	// Give the listener a moment to come up.
	time.Sleep(50 * time.Millisecond)
	return nil
}

// Stop drains in-flight requests and shuts the server down.
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down gateway server")

	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("All in-flight requests completed")
	case <-time.After(30 * time.Second):
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info().Msg("Gateway server stopped")
	return nil
}

func (s *Server) shuttingDown() bool {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	return s.isShuttingDown
}

func (s *Server) requireSecret(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.sharedSecret != "" && r.Header.Get(SecretHeader) != s.sharedSecret {
			writeJSONError(w, http.StatusUnauthorized, "unauthorized")
			observability.RecordGatewayRequest(r.URL.Path, false)
			return
		}
		next(w, r)
	}
}

// handleExecute runs one plan and answers with its terminal result. The
// HTTP status reflects transport handling only; plan outcome lives in the
// result body, so clients render one shape either way.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.shuttingDown() {
		writeJSONError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	}

	s.inFlightReqs.Add(1)
	defer s.inFlightReqs.Done()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to read request body")
		observability.RecordGatewayRequest("/v1/plans/execute", false)
		return
	}

	req, err := parseExecuteRequest(body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		observability.RecordGatewayRequest("/v1/plans/execute", false)
		return
	}

	ctx := tracing.NewRequestContext(r.Context())
	if req.RequestID != "" {
		ctx = tracing.WithRequestID(ctx, req.RequestID)
	}
	logger := tracing.LoggerFromContext(ctx, s.logger)

	if cached, ok := s.cachedResult(req.RequestID); ok {
		logger.Debug().Str("request_id", req.RequestID).Msg("Replaying cached result")
		writeJSON(w, http.StatusOK, cached)
		observability.RecordGatewayRequest("/v1/plans/execute", true)
		return
	}

	logger.Info().
		Str("request_id", req.RequestID).
		Str("document_id", req.DocumentID).
		Msg("Gateway received execute request")

	result := s.executor(ctx, req, nil)
	s.cacheResult(req.RequestID, result)

	observability.RecordGatewayRequest("/v1/plans/execute", result.Success)
	writeJSON(w, http.StatusOK, result)
}

// handleExecutions lists recent executions from the history store. An exact
// run is addressed with ?run_id=; otherwise ?limit= bounds the listing.
func (s *Server) handleExecutions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.history == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "history is not configured")
		return
	}

	s.inFlightReqs.Add(1)
	defer s.inFlightReqs.Done()

	if runID := strings.TrimSpace(r.URL.Query().Get("run_id")); runID != "" {
		entry, err := s.history.ByRunID(r.Context(), runID)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to read history")
			observability.RecordGatewayRequest("/v1/executions", false)
			return
		}
		if entry == nil {
			writeJSONError(w, http.StatusNotFound, fmt.Sprintf("no execution with run id %q", runID))
			observability.RecordGatewayRequest("/v1/executions", false)
			return
		}
		writeJSON(w, http.StatusOK, ExecutionsResponse{Executions: []history.Entry{*entry}, Count: 1})
		observability.RecordGatewayRequest("/v1/executions", true)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			observability.RecordGatewayRequest("/v1/executions", false)
			return
		}
		limit = n
	}

	entries, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to read history")
		observability.RecordGatewayRequest("/v1/executions", false)
		return
	}

	writeJSON(w, http.StatusOK, ExecutionsResponse{Executions: entries, Count: len(entries)})
	observability.RecordGatewayRequest("/v1/executions", true)
}

func (s *Server) cachedResult(requestID string) (interface{}, bool) {
	if s.dedup == nil || requestID == "" {
		return nil, false
	}
	cached, ok := s.dedup.Get(requestID)
	if !ok {
		return nil, false
	}
	return cached.Value, true
}

func (s *Server) cacheResult(requestID string, result interface{}) {
	if s.dedup == nil || requestID == "" {
		return
	}
	s.dedup.Set(requestID, execqueue.CachedResult{Value: result})
}

func parseExecuteRequest(body []byte) (ExecuteRequest, error) {
	var req ExecuteRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return ExecuteRequest{}, fmt.Errorf("invalid request body: %v", err)
	}
	if len(req.Plan) == 0 {
		return ExecuteRequest{}, fmt.Errorf("plan is required")
	}
	return req, nil
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
