// Package api provides the HTTP surface of the coval daemon.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	coredeployment "github.com/tom-sapletta-com/coval/internal/core/deployment"
	"github.com/tom-sapletta-com/coval/internal/core/domain"
	"github.com/tom-sapletta-com/coval/internal/shell/api/openapi"
	"github.com/tom-sapletta-com/coval/internal/shell/deployer"
	"github.com/tom-sapletta-com/coval/internal/shell/store"
)

// =============================================================================
// Dependencies
// =============================================================================

// DeploymentService is the orchestrator surface the API drives.
type DeploymentService interface {
	Deploy(ctx context.Context, req deployer.Request) (*domain.DeploymentRecord, error)
	StopDeployment(ctx context.Context, iterationID string) (*domain.DeploymentRecord, error)
	Remove(ctx context.Context, iterationID string) error
	CleanupOldDeployments(ctx context.Context, keepCount int) ([]string, error)
	Get(ctx context.Context, iterationID string) (*domain.DeploymentRecord, error)
	Active(ctx context.Context) ([]domain.DeploymentRecord, error)
	List(ctx context.Context, opts store.ListOptions) ([]domain.DeploymentRecord, error)
	Logs(ctx context.Context, iterationID, tail string) (string, error)
}

// HealthReporter serves on-demand health reports for monitored deployments.
type HealthReporter interface {
	Report(app string) (domain.HealthReport, bool)
}

// EnginePinger reports whether the container engine answers.
type EnginePinger interface {
	Ping(ctx context.Context) error
}

// StorePinger reports whether the deployment store answers.
type StorePinger interface {
	Ping(ctx context.Context) error
}

// =============================================================================
// Handler
// =============================================================================

// Handler provides the HTTP handlers for the API.
type Handler struct {
	deployer DeploymentService
	reporter HealthReporter
	store    StorePinger
	engine   EnginePinger
	logger   *slog.Logger
	spec     *openapi.Generator
}

// NewHandler creates a new API handler.
func NewHandler(svc DeploymentService, reporter HealthReporter, st StorePinger, engine EnginePinger, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		deployer: svc,
		reporter: reporter,
		store:    st,
		engine:   engine,
		logger:   logger,
		spec:     describeAPI(),
	}
}

// Routes returns the router with all routes configured.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.jsonContentType)
	r.Use(h.requestIDHeader)

	// Health endpoints
	r.Get("/health", h.handleHealth)
	r.Get("/ready", h.handleReady)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/openapi.json", h.spec.Handler())

		r.Route("/deployments", func(r chi.Router) {
			r.Post("/", h.handleDeploy)
			r.Get("/", h.handleListDeployments)
			r.Post("/cleanup", h.handleCleanup)
			r.Get("/{iteration}", h.handleGetDeployment)
			r.Delete("/{iteration}", h.handleRemoveDeployment)
			r.Post("/{iteration}/stop", h.handleStopDeployment)
			r.Get("/{iteration}/report", h.handleReport)
			r.Get("/{iteration}/logs", h.handleLogs)
		})
	})

	return r
}

// =============================================================================
// Middleware
// =============================================================================

// jsonContentType sets Content-Type header to application/json.
func (h *Handler) jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// requestIDHeader copies the request ID to the response header.
func (h *Handler) requestIDHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reqID := middleware.GetReqID(r.Context()); reqID != "" {
			w.Header().Set("X-Request-ID", reqID)
		}
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// Health Handlers
// =============================================================================

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	ready := true

	if err := h.store.Ping(r.Context()); err != nil {
		checks["database"] = "failed"
		ready = false
	} else {
		checks["database"] = "ok"
	}

	if err := h.engine.Ping(r.Context()); err != nil {
		checks["docker"] = "failed"
		ready = false
	} else {
		checks["docker"] = "ok"
	}

	if !ready {
		h.writeJSON(w, http.StatusServiceUnavailable, ReadyResponse{
			Status: "not_ready",
			Checks: checks,
		})
		return
	}

	h.writeJSON(w, http.StatusOK, ReadyResponse{
		Status: "ready",
		Checks: checks,
	})
}

// =============================================================================
// Deployment Handlers
// =============================================================================

func (h *Handler) handleDeploy(w http.ResponseWriter, r *http.Request) {
	var req DeployRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", "validation_error")
		return
	}
	if req.IterationID == "" {
		h.writeError(w, http.StatusBadRequest, "iteration_id is required", "validation_error")
		return
	}

	rec, err := h.deployer.Deploy(r.Context(), deployer.Request{
		Iteration: domain.IterationRef{
			ID:        req.IterationID,
			Ancestors: req.Ancestors,
		},
		Language:  req.Language,
		Framework: req.Framework,
		Health:    req.HealthCheck.toSpec(),
	})
	if err != nil {
		h.writeDeployError(w, err)
		return
	}

	// A failed pipeline is finalized and persisted; the envelope carries its
	// first error and the record stays retrievable. An unhealthy deployment
	// is created and active, the status field says how the gate went.
	if rec.Status == domain.StatusFailed {
		h.writeError(w, http.StatusInternalServerError, rec.Error, "deploy_failed")
		return
	}
	h.writeJSON(w, http.StatusCreated, deploymentToResponse(rec))
}

func (h *Handler) handleListDeployments(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("all") == "true" {
		h.listHistory(w, r)
		return
	}

	records, err := h.deployer.Active(r.Context())
	if err != nil {
		h.logger.Error("failed to list active deployments", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list deployments", "internal_error")
		return
	}

	h.writeJSON(w, http.StatusOK, buildListResponse(records, store.ListOptions{}))
}

// listHistory serves the paginated full history behind ?all=true.
func (h *Handler) listHistory(w http.ResponseWriter, r *http.Request) {
	opts := store.DefaultListOptions()
	if limit := r.URL.Query().Get("limit"); limit != "" {
		if l, err := strconv.Atoi(limit); err == nil {
			opts.Limit = l
		}
	}
	if offset := r.URL.Query().Get("offset"); offset != "" {
		if o, err := strconv.Atoi(offset); err == nil {
			opts.Offset = o
		}
	}
	opts = opts.Normalize()

	records, err := h.deployer.List(r.Context(), opts)
	if err != nil {
		h.logger.Error("failed to list deployments", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list deployments", "internal_error")
		return
	}

	h.writeJSON(w, http.StatusOK, buildListResponse(records, opts))
}

func (h *Handler) handleGetDeployment(w http.ResponseWriter, r *http.Request) {
	iteration := chi.URLParam(r, "iteration")

	rec, err := h.deployer.Get(r.Context(), iteration)
	if err != nil {
		if isNotFound(err) {
			h.writeError(w, http.StatusNotFound, "deployment not found", "deployment_not_found")
			return
		}
		h.logger.Error("failed to get deployment", "iteration", iteration, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get deployment", "internal_error")
		return
	}

	h.writeJSON(w, http.StatusOK, deploymentToResponse(rec))
}

func (h *Handler) handleStopDeployment(w http.ResponseWriter, r *http.Request) {
	iteration := chi.URLParam(r, "iteration")

	rec, err := h.deployer.StopDeployment(r.Context(), iteration)
	if err != nil {
		switch {
		case isNotFound(err):
			h.writeError(w, http.StatusNotFound, "deployment not found", "deployment_not_found")
		case errors.Is(err, deployer.ErrNotStoppable):
			h.writeError(w, http.StatusConflict, stopRefusalReason(err), "invalid_transition")
		default:
			h.logger.Error("failed to stop deployment", "iteration", iteration, "error", err)
			h.writeError(w, http.StatusInternalServerError, "failed to stop deployment", "internal_error")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, deploymentToResponse(rec))
}

func (h *Handler) handleRemoveDeployment(w http.ResponseWriter, r *http.Request) {
	iteration := chi.URLParam(r, "iteration")

	if err := h.deployer.Remove(r.Context(), iteration); err != nil {
		if isNotFound(err) {
			h.writeError(w, http.StatusNotFound, "deployment not found", "deployment_not_found")
			return
		}
		h.logger.Error("failed to remove deployment", "iteration", iteration, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to remove deployment", "internal_error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	iteration := chi.URLParam(r, "iteration")

	report, ok := h.reporter.Report(iteration)
	if !ok {
		h.writeError(w, http.StatusNotFound, "deployment is not monitored", "not_monitored")
		return
	}

	h.writeJSON(w, http.StatusOK, report)
}

func (h *Handler) handleLogs(w http.ResponseWriter, r *http.Request) {
	iteration := chi.URLParam(r, "iteration")
	tail := r.URL.Query().Get("tail")
	if tail == "" {
		tail = "100"
	}

	logs, err := h.deployer.Logs(r.Context(), iteration, tail)
	if err != nil {
		if isNotFound(err) {
			h.writeError(w, http.StatusNotFound, "deployment not found", "deployment_not_found")
			return
		}
		h.writeError(w, http.StatusNotFound, "no logs available", "logs_not_found")
		return
	}

	h.writeJSON(w, http.StatusOK, LogsResponse{IterationID: iteration, Logs: logs})
}

func (h *Handler) handleCleanup(w http.ResponseWriter, r *http.Request) {
	keepCount := -1
	if r.Body != nil && r.ContentLength != 0 {
		var req CleanupRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid JSON", "validation_error")
			return
		}
		if req.KeepCount != nil {
			if *req.KeepCount < 0 {
				h.writeError(w, http.StatusBadRequest, "keep_count must not be negative", "validation_error")
				return
			}
			keepCount = *req.KeepCount
		}
	}

	stopped, err := h.deployer.CleanupOldDeployments(r.Context(), keepCount)
	if err != nil {
		h.logger.Error("cleanup failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cleanup failed", "internal_error")
		return
	}
	if stopped == nil {
		stopped = []string{}
	}

	h.writeJSON(w, http.StatusOK, CleanupResponse{Stopped: stopped, Count: len(stopped)})
}

// =============================================================================
// Helpers
// =============================================================================

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode JSON", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message, code string) {
	h.writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// writeDeployError maps request-level deploy failures onto status codes.
// Pipeline failures never reach here; they come back as finalized records.
func (h *Handler) writeDeployError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, deployer.ErrIterationNotFound):
		h.writeError(w, http.StatusNotFound, "iteration source not found", "iteration_not_found")
	case errors.Is(err, deployer.ErrDeploymentInProgress):
		h.writeError(w, http.StatusConflict, "a deployment for this iteration is already in progress", "deployment_in_progress")
	case errors.Is(err, store.ErrDuplicateID):
		h.writeError(w, http.StatusConflict, "a deployment for this iteration was just created", "deployment_in_progress")
	case errors.Is(err, coredeployment.ErrNoFreePort):
		h.writeError(w, http.StatusConflict, "no free host port in the configured range", "no_free_port")
	case errors.Is(err, domain.ErrMissingIteration):
		h.writeError(w, http.StatusBadRequest, "iteration_id is required", "validation_error")
	default:
		h.logger.Error("deploy request failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "deployment failed", "internal_error")
	}
}

// stopRefusalReason digs the human-readable refusal out of a stop error.
func stopRefusalReason(err error) string {
	var deployErr *deployer.DeployError
	if errors.As(err, &deployErr) && deployErr.Message != "" {
		return deployErr.Message
	}
	return "deployment cannot be stopped"
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}

func deploymentToResponse(rec *domain.DeploymentRecord) DeploymentResponse {
	return DeploymentResponse{
		IterationID:   rec.IterationID,
		ContainerName: rec.ContainerName,
		ContainerID:   rec.ContainerID,
		ImageTag:      rec.ImageTag,
		HostPort:      rec.HostPort,
		URL:           fmt.Sprintf("http://localhost:%d", rec.HostPort),
		Status:        string(rec.Status),
		Health:        string(rec.Health),
		ErrorMessage:  rec.Error,
		LogsPath:      rec.LogsPath,
		CreatedAt:     rec.CreatedAt,
		UpdatedAt:     rec.UpdatedAt,
		StartedAt:     rec.StartedAt,
		StoppedAt:     rec.StoppedAt,
	}
}

func buildListResponse(records []domain.DeploymentRecord, opts store.ListOptions) ListDeploymentsResponse {
	resp := ListDeploymentsResponse{
		Deployments: make([]DeploymentResponse, 0, len(records)),
		Total:       len(records),
		Limit:       opts.Limit,
		Offset:      opts.Offset,
	}
	for i := range records {
		resp.Deployments = append(resp.Deployments, deploymentToResponse(&records[i]))
	}
	return resp
}

// toSpec converts the request override into a domain spec. Nil stays nil so
// the pipeline knows nothing was pinned.
func (r *HealthCheckRequest) toSpec() *domain.HealthCheckSpec {
	if r == nil {
		return nil
	}
	return &domain.HealthCheckSpec{
		Endpoint:       r.Endpoint,
		Method:         r.Method,
		ExpectedStatus: r.ExpectedStatus,
		ExpectedBody:   r.ExpectedBody,
		Timeout:        time.Duration(r.TimeoutSeconds) * time.Second,
		Interval:       time.Duration(r.IntervalSeconds) * time.Second,
		Retries:        r.Retries,
		RetryDelay:     time.Duration(r.RetryDelaySeconds) * time.Second,
	}
}
