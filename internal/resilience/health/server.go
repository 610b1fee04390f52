package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vietddude/inframate/internal/core/domain"
	"github.com/vietddude/inframate/internal/infra/storage"
	"github.com/vietddude/inframate/internal/resilience/recovery"
)

// maxRequestBody caps POST /v1/errors payloads.
const maxRequestBody = 1 << 20

// ErrorRequest is the JSON body of POST /v1/errors.
type ErrorRequest struct {
	Type        string               `json:"type"`
	Message     string               `json:"message"`
	Severity    domain.ErrorSeverity `json:"severity"`
	ContextData map[string]any       `json:"context_data,omitempty"`
}

// ErrorResponse is the JSON answer of POST /v1/errors.
type ErrorResponse struct {
	Success     bool                 `json:"success"`
	ShouldRetry bool                 `json:"should_retry"`
	State       domain.WorkflowState `json:"state"`
	Outcome     domain.Outcome       `json:"outcome,omitempty"`
	ErrorType   domain.ErrorType     `json:"type"`
	Severity    domain.ErrorSeverity `json:"severity"`
	RetryCount  int                  `json:"retry_count"`
	BackoffMS   int64                `json:"backoff_ms,omitempty"`
	Reason      string               `json:"reason,omitempty"`
	Solution    *domain.Solution     `json:"ai_solution,omitempty"`
}

// Server provides HTTP endpoints for health monitoring and error handling.
type Server struct {
	monitor *Monitor
	handler *recovery.Handler
	archive storage.AttemptRepository
	server  *http.Server
}

// NewServer creates a new health server. archive may be nil.
func NewServer(monitor *Monitor, handler *recovery.Handler, archive storage.AttemptRepository, port int) *Server {
	s := &Server{
		monitor: monitor,
		handler: handler,
		archive: archive,
	}
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Routes returns the server's handler, mainly for tests.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/detailed", s.handleDetailed)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /v1/errors", s.handleError)
	mux.HandleFunc("POST /v1/errors/resolved", s.handleResolved)
	mux.HandleFunc("GET /v1/report", s.handleReport)
	mux.HandleFunc("GET /v1/history", s.handleHistory)
	mux.HandleFunc("POST /v1/reset", s.handleReset)
	return mux
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.monitor.CheckHealth(r.Context())

	status := http.StatusOK
	if report.SystemStatus == StatusCritical {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"status": string(report.SystemStatus)})
}

func (s *Server) handleDetailed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.monitor.CheckHealth(r.Context()))
}

func (s *Server) handleError(w http.ResponseWriter, r *http.Request) {
	var req ErrorRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("failed to decode request: %w", err))
		return
	}
	if req.Message == "" && req.Type == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("type or message is required"))
		return
	}

	res := s.handler.Handle(r.Context(), recovery.Request{
		ErrorType: req.Type,
		Message:   req.Message,
		Severity:  req.Severity,
		Data:      req.ContextData,
	})
	s.monitor.Invalidate()

	writeJSON(w, http.StatusOK, ErrorResponse{
		Success:     res.Success,
		ShouldRetry: res.ShouldRetry(),
		State:       res.State,
		Outcome:     res.Outcome,
		ErrorType:   res.Attempt.ErrorType,
		Severity:    res.Attempt.Severity,
		RetryCount:  res.Attempt.RetryCount,
		BackoffMS:   res.Backoff.Milliseconds(),
		Reason:      res.Attempt.Reason,
		Solution:    res.Solution,
	})
}

func (s *Server) handleResolved(w http.ResponseWriter, r *http.Request) {
	var req ErrorRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("failed to decode request: %w", err))
		return
	}
	s.handler.ReportSuccess(req.Type, req.Message)
	s.monitor.Invalidate()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.handler.Report())
}

// handleHistory lists archived attempts: ?type=&since=RFC3339&limit=N
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("no history archive configured"))
		return
	}

	q := r.URL.Query()
	filter := storage.AttemptFilter{ErrorType: domain.NormalizeErrorType(q.Get("type"))}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid since: %w", err))
			return
		}
		filter.Since = since
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		filter.Limit = limit
	}

	attempts, err := s.archive.List(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("failed to list attempts: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, recovery.BuildReport(attempts))
}

// handleReset clears counters: ?type=<error type>, or all when omitted.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	var n int
	if t := r.URL.Query().Get("type"); t != "" {
		n = s.handler.Supervisor().Reset(domain.NormalizeErrorType(t))
	} else {
		n = s.handler.Supervisor().ResetAll()
	}
	s.monitor.Invalidate()
	writeJSON(w, http.StatusOK, map[string]int{"reset": n})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
