// Package handlers serves the assistant's operational endpoints.
package handlers

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/config"
	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/llm"
	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/logging"
)

// ServiceName is reported by /ping.
const ServiceName = "ekaya-erp-assistant"

// oraclePingTimeout bounds the database check made by /health.
const oraclePingTimeout = 5 * time.Second

// PingResponse contains service status and version information.
type PingResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Service     string `json:"service"`
	GoVersion   string `json:"go_version"`
	Hostname    string `json:"hostname"`
	Environment string `json:"environment"`
}

// HealthResponse reports ERP database reachability and the last model probes.
type HealthResponse struct {
	Status string            `json:"status"` // "ok" or "degraded"
	Oracle *OracleStatus     `json:"oracle,omitempty"`
	Models []llm.ModelStatus `json:"models,omitempty"`
}

// OracleStatus is the outcome of the /health database check.
type OracleStatus struct {
	Name      string `json:"name"`
	Reachable bool   `json:"reachable"`
	Error     string `json:"error,omitempty"`
}

// Pinger checks database connectivity. The Oracle adapter implements it.
type Pinger interface {
	TestConnection(ctx context.Context) error
}

// ModelStatusSource exposes the latest model availability probes.
type ModelStatusSource interface {
	Statuses() []llm.ModelStatus
}

// HealthHandler handles health check and ping endpoints.
type HealthHandler struct {
	cfg    *config.Config
	oracle Pinger
	models ModelStatusSource
	logger *zap.Logger
}

// NewHealthHandler creates a HealthHandler. oracle and models may be nil,
// in which case /health omits them.
func NewHealthHandler(cfg *config.Config, oracle Pinger, models ModelStatusSource, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{cfg: cfg, oracle: oracle, models: models, logger: logger}
}

// RegisterRoutes registers the health handler's routes on the given mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ping", h.Ping)
}

// Health handles GET /health. It answers 503 when the ERP database cannot
// be reached. Unavailable models are reported but do not fail the check.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok"}
	status := http.StatusOK

	if h.oracle != nil {
		ctx, cancel := context.WithTimeout(r.Context(), oraclePingTimeout)
		defer cancel()
		resp.Oracle = &OracleStatus{Name: h.cfg.Oracle.Name, Reachable: true}
		if err := h.oracle.TestConnection(ctx); err != nil {
			resp.Status = "degraded"
			resp.Oracle.Reachable = false
			resp.Oracle.Error = logging.SanitizeError(err)
			status = http.StatusServiceUnavailable
			h.logger.Warn("Oracle health check failed", zap.String("error", resp.Oracle.Error))
		}
	}
	if h.models != nil {
		resp.Models = h.models.Statuses()
	}

	if err := WriteJSON(w, status, resp); err != nil {
		h.logger.Error("Failed to encode health response", zap.Error(err))
	}
}

// Ping handles GET /ping requests.
// Returns detailed service information including version and environment.
func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	hostname, err := os.Hostname()
	if err != nil {
		if err := ErrorResponse(w, http.StatusInternalServerError, "hostname_unavailable", "failed to get hostname"); err != nil {
			h.logger.Error("Failed to encode ping error", zap.Error(err))
		}
		return
	}

	response := PingResponse{
		Status:      "ok",
		Version:     h.cfg.Version,
		Service:     ServiceName,
		GoVersion:   runtime.Version(),
		Hostname:    hostname,
		Environment: h.cfg.Env,
	}

	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode ping response", zap.Error(err))
	}
}
