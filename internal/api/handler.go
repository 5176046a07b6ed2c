// Package api serves the operator HTTP API of the package manager.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"packagemanager/internal/apperrors"
	"packagemanager/internal/desiredstate"
	"packagemanager/internal/health"
	"packagemanager/internal/manager"
	"packagemanager/internal/orchestrator"
	"packagemanager/internal/workforce"
)

// maxRequestBodySize limits request bodies. Desired-state snapshots can be
// large.
const maxRequestBodySize = 16 << 20 // 16 MB

// Service is the orchestrator surface the API drives.
type Service interface {
	SetDesiredState(snap *desiredstate.Snapshot) error
	ReportMonitoredPackages(containerID, monitorID string, pkgs []desiredstate.ExpectedPackage) error
	HandleWorkerMessage(ctx context.Context, msg orchestrator.WorkerMessage) (any, error)

	Snapshot() orchestrator.Snapshot
	Counts() orchestrator.Counts
	Expectations() []manager.TrackedInfo
	Expectation(id string) (manager.TrackedInfo, bool)
	Workforce() (workforce.Status, bool)

	RestartExpectation(ctx context.Context, id string) error
	RestartAllExpectations(ctx context.Context)
	AbortExpectation(ctx context.Context, id string) error
	RestartPackageContainer(ctx context.Context, containerID string) error
	KillWorkerProcess(ctx context.Context, appID string) error
}

var _ Service = (*orchestrator.Orchestrator)(nil)

// Handler contains the HTTP handlers.
type Handler struct {
	svc    Service
	health *health.Checker
}

// NewHandler creates a new API handler.
func NewHandler(svc Service, healthChecker *health.Checker) *Handler {
	return &Handler{
		svc:    svc,
		health: healthChecker,
	}
}

type acceptedResponse struct {
	Accepted bool   `json:"accepted"`
	ID       string `json:"id,omitempty"`
}

// PutDesiredState handles PUT /v1/desired-state.
func (h *Handler) PutDesiredState(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var snap desiredstate.Snapshot
	if err := json.NewDecoder(r.Body).Decode(&snap); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if err := h.svc.SetDesiredState(&snap); err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusAccepted, acceptedResponse{Accepted: true})
}

// GetSnapshot handles GET /v1/snapshot.
func (h *Handler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.svc.Snapshot())
}

// GetStatus handles GET /v1/status.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.svc.Counts())
}

// ListExpectations handles GET /v1/expectations.
func (h *Handler) ListExpectations(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"expectations": h.svc.Expectations()})
}

// GetExpectation handles GET /v1/expectations/{id}.
func (h *Handler) GetExpectation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	info, ok := h.svc.Expectation(id)
	if !ok {
		h.handleError(w, r, apperrors.NotFound("expectation", id))
		return
	}
	h.writeJSON(w, http.StatusOK, info)
}

// RestartExpectation handles POST /v1/expectations/{id}/restart.
func (h *Handler) RestartExpectation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.svc.RestartExpectation(r.Context(), id); err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, acceptedResponse{Accepted: true, ID: id})
}

// AbortExpectation handles POST /v1/expectations/{id}/abort.
func (h *Handler) AbortExpectation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.svc.AbortExpectation(r.Context(), id); err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, acceptedResponse{Accepted: true, ID: id})
}

// RestartAllExpectations handles POST /v1/expectations/restart.
func (h *Handler) RestartAllExpectations(w http.ResponseWriter, r *http.Request) {
	h.svc.RestartAllExpectations(r.Context())
	h.writeJSON(w, http.StatusAccepted, acceptedResponse{Accepted: true})
}

// RestartContainer handles POST /v1/containers/{containerId}/restart.
func (h *Handler) RestartContainer(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("containerId")
	if err := h.svc.RestartPackageContainer(r.Context(), id); err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, acceptedResponse{Accepted: true, ID: id})
}

// GetWorkforce handles GET /v1/workforce.
func (h *Handler) GetWorkforce(w http.ResponseWriter, r *http.Request) {
	st, ok := h.svc.Workforce()
	if !ok {
		h.handleError(w, r, apperrors.Unsupported("workforce", "no workforce configured"))
		return
	}
	h.writeJSON(w, http.StatusOK, st)
}

// KillApp handles DELETE /v1/apps/{appId}.
func (h *Handler) KillApp(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("appId")
	if err := h.svc.KillWorkerProcess(r.Context(), id); err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, acceptedResponse{Accepted: true, ID: id})
}

type monitorPackagesRequest struct {
	Packages []desiredstate.ExpectedPackage `json:"packages"`
}

// ReportMonitorPackages handles POST /v1/monitors/{containerId}/{monitorId}/packages.
func (h *Handler) ReportMonitorPackages(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req monitorPackagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	err := h.svc.ReportMonitoredPackages(r.PathValue("containerId"), r.PathValue("monitorId"), req.Packages)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, acceptedResponse{Accepted: true})
}

// WorkerMessage handles POST /v1/worker-messages.
func (h *Handler) WorkerMessage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var msg orchestrator.WorkerMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	result, err := h.svc.HandleWorkerMessage(r.Context(), msg)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"result": result})
}

// Livez handles GET /livez - liveness probe.
func (h *Handler) Livez(w http.ResponseWriter, r *http.Request) {
	response := h.health.Liveness(r.Context())
	h.writeJSON(w, http.StatusOK, response)
}

// Readyz handles GET /readyz - readiness probe.
// Returns 503 until a desired state has been applied or while a required
// dependency is down.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	response := h.health.Readiness(r.Context())

	status := http.StatusOK
	if !response.IsHealthy() {
		status = http.StatusServiceUnavailable
	}

	h.writeJSON(w, status, response)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// handleError maps domain errors to HTTP status codes.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= 500 {
		slog.Error("Internal error", "error", err, "path", r.URL.Path)
	} else {
		slog.Warn("Client error", "error", err, "path", r.URL.Path, "status", status)
	}
	h.writeError(w, status, err.Error())
}
