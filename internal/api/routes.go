package api

import (
	"net/http"

	"packagemanager/internal/health"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	Service       Service
	Metrics       HTTPMetricsRecorder
	HealthChecker *health.Checker
	APIKey        string
}

// NewRouter creates the HTTP router with all routes configured.
func NewRouter(cfg RouterConfig) http.Handler {
	handler := NewHandler(cfg.Service, cfg.HealthChecker)

	mux := http.NewServeMux()

	// Probes - no auth
	mux.HandleFunc("GET /livez", handler.Livez)
	mux.HandleFunc("GET /readyz", handler.Readyz)

	auth := AuthMiddleware(cfg.APIKey)
	route := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, auth(fn))
	}

	route("PUT /v1/desired-state", handler.PutDesiredState)
	route("GET /v1/snapshot", handler.GetSnapshot)
	route("GET /v1/status", handler.GetStatus)

	route("GET /v1/expectations", handler.ListExpectations)
	route("POST /v1/expectations/restart", handler.RestartAllExpectations)
	route("GET /v1/expectations/{id}", handler.GetExpectation)
	route("POST /v1/expectations/{id}/restart", handler.RestartExpectation)
	route("POST /v1/expectations/{id}/abort", handler.AbortExpectation)

	route("POST /v1/containers/{containerId}/restart", handler.RestartContainer)

	route("GET /v1/workforce", handler.GetWorkforce)
	route("DELETE /v1/apps/{appId}", handler.KillApp)

	route("POST /v1/monitors/{containerId}/{monitorId}/packages", handler.ReportMonitorPackages)
	route("POST /v1/worker-messages", handler.WorkerMessage)

	// Apply middleware chain (order matters: outermost first)
	var h http.Handler = mux
	h = ContentTypeMiddleware()(h)
	h = CORSMiddleware()(h)
	if cfg.Metrics != nil {
		h = MetricsMiddleware(cfg.Metrics)(h)
	}
	h = LoggingMiddleware()(h)
	h = RecoveryMiddleware()(h)

	return h
}
