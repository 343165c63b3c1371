package handlers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-sync/pkg/models"
	"github.com/ekaya-inc/ekaya-sync/pkg/services"
)

// SchemaHandler exposes managed schemas, their sync state and learned
// patterns, and toggles schema activation. Registration and syncing go
// through the CLI.
type SchemaHandler struct {
	registry services.SchemaRegistryService
	tracker  services.SyncTrackerService
	patterns services.PatternService
	logger   *zap.Logger
}

// NewSchemaHandler creates a SchemaHandler.
func NewSchemaHandler(registry services.SchemaRegistryService, tracker services.SyncTrackerService, patterns services.PatternService, logger *zap.Logger) *SchemaHandler {
	return &SchemaHandler{registry: registry, tracker: tracker, patterns: patterns, logger: logger}
}

// RegisterRoutes registers the schema routes on the given mux.
func (h *SchemaHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/schemas", h.List)
	mux.HandleFunc("GET /api/schemas/{schema}", h.Get)
	mux.HandleFunc("GET /api/schemas/{schema}/tables", h.Tables)
	mux.HandleFunc("GET /api/schemas/{schema}/sync", h.SyncStatus)
	mux.HandleFunc("POST /api/schemas/{schema}/activate", h.Activate)
	mux.HandleFunc("POST /api/schemas/{schema}/deactivate", h.Deactivate)
	mux.HandleFunc("GET /api/patterns", h.Patterns)
}

// List handles GET /api/schemas?active=true
func (h *SchemaHandler) List(w http.ResponseWriter, r *http.Request) {
	activeOnly := false
	if v := r.URL.Query().Get("active"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			ErrorResponse(w, http.StatusBadRequest, "invalid_parameters", "active must be true or false")
			return
		}
		activeOnly = b
	}

	schemas, err := h.registry.List(r.Context(), activeOnly)
	if err != nil {
		writeServiceError(w, err, "Failed to list schemas", h.logger)
		return
	}
	if schemas == nil {
		schemas = []*models.ManagedSchema{}
	}
	writeData(w, schemas, h.logger)
}

// Get handles GET /api/schemas/{schema}
func (h *SchemaHandler) Get(w http.ResponseWriter, r *http.Request) {
	schema, err := h.registry.Get(r.Context(), r.PathValue("schema"))
	if err != nil {
		writeServiceError(w, err, "Failed to get schema", h.logger)
		return
	}
	writeData(w, schema, h.logger)
}

// Activate handles POST /api/schemas/{schema}/activate
func (h *SchemaHandler) Activate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

// Deactivate handles POST /api/schemas/{schema}/deactivate
func (h *SchemaHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

func (h *SchemaHandler) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	name := r.PathValue("schema")
	toggle := h.registry.Deactivate
	if active {
		toggle = h.registry.Activate
	}
	if err := toggle(r.Context(), name); err != nil {
		writeServiceError(w, err, "Failed to change schema activation", h.logger)
		return
	}

	schema, err := h.registry.Get(r.Context(), name)
	if err != nil {
		writeServiceError(w, err, "Failed to get schema", h.logger)
		return
	}
	writeData(w, schema, h.logger)
}

// Tables handles GET /api/schemas/{schema}/tables
func (h *SchemaHandler) Tables(w http.ResponseWriter, r *http.Request) {
	inv, err := h.registry.TableInventory(r.Context(), r.PathValue("schema"))
	if err != nil {
		writeServiceError(w, err, "Failed to build table inventory", h.logger)
		return
	}
	writeData(w, inv, h.logger)
}

// SyncStatus handles GET /api/schemas/{schema}/sync
func (h *SchemaHandler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.tracker.ListBySchema(r.Context(), r.PathValue("schema"))
	if err != nil {
		writeServiceError(w, err, "Failed to list sync status", h.logger)
		return
	}
	if statuses == nil {
		statuses = []*models.SyncStatus{}
	}
	writeData(w, statuses, h.logger)
}

// Patterns handles GET /api/patterns?type=&schema=&limit=
func (h *SchemaHandler) Patterns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	patternType := q.Get("type")
	if patternType == "" {
		ErrorResponse(w, http.StatusBadRequest, "invalid_parameters", "type is required")
		return
	}
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			ErrorResponse(w, http.StatusBadRequest, "invalid_parameters", "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	patterns, err := h.patterns.TopPatterns(r.Context(), patternType, q.Get("schema"), limit)
	if err != nil {
		writeServiceError(w, err, "Failed to list patterns", h.logger)
		return
	}
	if patterns == nil {
		patterns = []*models.LearnedPattern{}
	}
	writeData(w, patterns, h.logger)
}
