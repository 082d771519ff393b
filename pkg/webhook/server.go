package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/flowprobe/flowprobe/pkg/dispatcher"
	"github.com/flowprobe/flowprobe/pkg/log"
	"github.com/flowprobe/flowprobe/pkg/models"
	"github.com/flowprobe/flowprobe/pkg/persistence"
)

const (
	triggerReadTimeout     = 30 * time.Second
	triggerWriteTimeout    = 30 * time.Second
	triggerIdleTimeout     = 60 * time.Second
	triggerShutdownTimeout = 5 * time.Second
	maxRequestBodySize     = 1024 * 1024 // 1MB max request body
)

// TriggerDispatcher is the part of the dispatcher the server needs.
type TriggerDispatcher interface {
	Dispatch(ctx context.Context, workflowID string, payload map[string]any, triggerType models.TriggerType) (*dispatcher.Result, error)
}

// Server is the inbound trigger HTTP server. Requests are authenticated over
// the raw body, optionally deduplicated by delivery id, then handed to the
// dispatcher.
type Server struct {
	server        *http.Server
	port          int
	workflows     persistence.WorkflowRepository
	dispatcher    TriggerDispatcher
	authenticator *Authenticator
	deduper       Deduper
	logger        *slog.Logger
	mu            sync.Mutex
	started       bool
}

func NewServer(
	port int,
	workflows persistence.WorkflowRepository,
	triggerDispatcher TriggerDispatcher,
	authenticator *Authenticator,
	deduper Deduper,
) *Server {
	if deduper == nil {
		deduper = NoopDeduper{}
	}

	return &Server{
		port:          port,
		workflows:     workflows,
		dispatcher:    triggerDispatcher,
		authenticator: authenticator,
		deduper:       deduper,
		logger:        log.WithModule("trigger_server").With("port", port),
	}
}

// Start begins serving trigger requests and shuts down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.Handler(),
		ReadTimeout:  triggerReadTimeout,
		WriteTimeout: triggerWriteTimeout,
		IdleTimeout:  triggerIdleTimeout,
	}

	s.started = true
	s.logger.Info("Starting trigger server", "addr", s.server.Addr)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Trigger server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), triggerShutdownTimeout)
		defer cancel()

		if err := s.Stop(shutdownCtx); err != nil {
			s.logger.Error("Error during trigger server shutdown", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	s.logger.Info("Stopping trigger server")

	if err := s.server.Shutdown(ctx); err != nil {
		return err
	}

	s.started = false

	return nil
}

// Handler returns the route mux. Exposed so tests can drive the server with
// httptest without binding a port.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/trigger/", s.handleTrigger)
	mux.HandleFunc("/health", s.handleHealth)

	return mux
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/trigger/")
	workflowID, tail, hasTail := strings.Cut(rest, "/")

	if workflowID == "" {
		s.writeError(w, http.StatusBadRequest, "Missing workflow id in path")

		return
	}

	if hasTail {
		if tail == "health" && r.Method == http.MethodGet {
			s.handleWorkflowHealth(w, r, workflowID)

			return
		}

		s.writeError(w, http.StatusNotFound, "Not found")

		return
	}

	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "Only POST method allowed")

		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Error reading request body")

		return
	}

	auth := s.authenticator.Authenticate(body, r.Header)
	if !auth.Allowed() {
		s.logger.Warn("Trigger request rejected",
			"workflow_id", workflowID, "reason", auth.Reason, "remote_addr", r.RemoteAddr)
		s.writeError(w, http.StatusUnauthorized, auth.Reason)

		return
	}

	if deliveryID := r.Header.Get(DeliveryIDHeader); deliveryID != "" {
		seen, err := s.deduper.MarkSeen(r.Context(), deliveryID)
		if err != nil {
			// Dedup is best-effort: an unavailable store must not drop triggers.
			s.logger.Warn("Delivery dedup unavailable", "delivery_id", deliveryID, "error", err)
		} else if seen {
			s.logger.Info("Duplicate delivery ignored", "workflow_id", workflowID, "delivery_id", deliveryID)
			s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "duplicate": true})

			return
		}
	}

	var payload map[string]any
	if len(body) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			s.writeError(w, http.StatusBadRequest, "Invalid JSON in request body")

			return
		}
	} else {
		payload = map[string]any{}
	}

	result, err := s.dispatcher.Dispatch(r.Context(), workflowID, payload, models.TriggerTypeWebhook)
	if err != nil {
		s.writeDispatchError(w, workflowID, err)

		return
	}

	response := map[string]any{
		"success":      true,
		"execution_id": result.Execution.ID,
	}
	if result.EngineExecutionID != "" {
		response["engine_execution_id"] = result.EngineExecutionID
	}

	s.logger.Info("Trigger processed",
		"workflow_id", workflowID,
		"execution_id", result.Execution.ID,
		"degraded", result.Degraded,
		"remote_addr", r.RemoteAddr)

	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) writeDispatchError(w http.ResponseWriter, workflowID string, err error) {
	var validationErr *dispatcher.ValidationError

	switch {
	case errors.Is(err, persistence.ErrWorkflowNotFound):
		s.writeError(w, http.StatusNotFound, "Workflow not found")
	case errors.Is(err, dispatcher.ErrWorkflowInactive):
		s.writeError(w, http.StatusBadRequest, "Workflow is not active")
	case errors.As(err, &validationErr):
		s.writeError(w, http.StatusBadRequest, "Payload validation failed: "+validationErr.Detail)
	default:
		s.logger.Error("Trigger dispatch failed", "workflow_id", workflowID, "error", err)
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// handleWorkflowHealth reports whether a workflow currently accepts webhook
// triggers.
func (s *Server) handleWorkflowHealth(w http.ResponseWriter, r *http.Request, workflowID string) {
	workflow, err := s.workflows.GetByID(r.Context(), workflowID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Error looking up workflow")

		return
	}

	if workflow == nil {
		s.writeError(w, http.StatusNotFound, "Workflow not found")

		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"id":            workflow.ID,
		"name":          workflow.Name,
		"status":        workflow.Status,
		"webhookActive": workflow.IsTriggerable(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("Error encoding response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]any{"error": message})
}
