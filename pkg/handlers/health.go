package handlers

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-sync/pkg/config"
	"github.com/ekaya-inc/ekaya-sync/pkg/models"
)

const readyTimeout = 3 * time.Second

// PingResponse contains service status and version information.
type PingResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Service     string `json:"service"`
	GoVersion   string `json:"go_version"`
	Hostname    string `json:"hostname"`
	Environment string `json:"environment"`
}

// ReadyResponse reports whether the engine database can serve searches.
type ReadyResponse struct {
	Status        string                 `json:"status"`
	Database      string                 `json:"database"`
	VectorVersion string                 `json:"vector_version,omitempty"`
	Embeddings    *models.EmbeddingStats `json:"embeddings,omitempty"`
	Error         string                 `json:"error,omitempty"`
}

// ReadinessChecker checks the engine database. *database.DB implements it.
type ReadinessChecker interface {
	Ping(ctx context.Context) error
	VectorExtensionVersion(ctx context.Context) (string, error)
}

// EmbeddingStatsReader reports vector store statistics.
type EmbeddingStatsReader interface {
	Stats(ctx context.Context) (*models.EmbeddingStats, error)
}

// HealthHandler handles health, ping and readiness endpoints.
type HealthHandler struct {
	cfg     *config.Config
	checker ReadinessChecker
	stats   EmbeddingStatsReader
	logger  *zap.Logger
}

// NewHealthHandler creates a HealthHandler. stats may be nil.
func NewHealthHandler(cfg *config.Config, checker ReadinessChecker, stats EmbeddingStatsReader, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{cfg: cfg, checker: checker, stats: stats, logger: logger}
}

// RegisterRoutes registers the health handler's routes on the given mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ping", h.Ping)
	mux.HandleFunc("GET /ready", h.Ready)
}

// Health handles GET /health. Liveness only; it never touches the database.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ping handles GET /ping requests.
// Returns detailed service information including version and environment.
func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	hostname, err := os.Hostname()
	if err != nil {
		http.Error(w, "failed to get hostname", http.StatusInternalServerError)
		return
	}

	response := PingResponse{
		Status:      "ok",
		Version:     h.cfg.Version,
		Service:     "ekaya-sync",
		GoVersion:   runtime.Version(),
		Hostname:    hostname,
		Environment: h.cfg.Env,
	}

	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode ping response", zap.Error(err))
	}
}

// Ready handles GET /ready. It returns 503 unless the database answers and
// the pgvector extension is installed.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	resp := ReadyResponse{Status: "ready", Database: "ok"}
	status := http.StatusOK

	if err := h.checker.Ping(ctx); err != nil {
		h.logger.Warn("Readiness check failed: database unreachable", zap.Error(err))
		resp.Status, resp.Database, resp.Error = "unavailable", "unreachable", "database unreachable"
		h.writeReady(w, http.StatusServiceUnavailable, resp)
		return
	}

	version, err := h.checker.VectorExtensionVersion(ctx)
	switch {
	case err != nil:
		h.logger.Warn("Readiness check failed: vector extension query", zap.Error(err))
		resp.Status, resp.Error = "unavailable", "failed to check vector extension"
		status = http.StatusServiceUnavailable
	case version == "":
		resp.Status, resp.Error = "unavailable", "vector extension not installed"
		status = http.StatusServiceUnavailable
	default:
		resp.VectorVersion = version
	}

	if status == http.StatusOK && h.stats != nil {
		stats, err := h.stats.Stats(ctx)
		if err != nil {
			// Statistics are informational; readiness does not depend on them.
			h.logger.Warn("Failed to read embedding statistics", zap.Error(err))
		} else {
			resp.Embeddings = stats
		}
	}

	h.writeReady(w, status, resp)
}

func (h *HealthHandler) writeReady(w http.ResponseWriter, status int, resp ReadyResponse) {
	if err := WriteJSON(w, status, resp); err != nil {
		h.logger.Error("Failed to encode ready response", zap.Error(err))
	}
}
