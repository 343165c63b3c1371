package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-sync/pkg/models"
	"github.com/ekaya-inc/ekaya-sync/pkg/services"
)

const defaultStatsWindow = 24 * time.Hour

// SearchHandler exposes the logged search boundary and the search log.
type SearchHandler struct {
	search services.SearchService
	logs   services.SearchLogService
	logger *zap.Logger
}

// NewSearchHandler creates a SearchHandler.
func NewSearchHandler(search services.SearchService, logs services.SearchLogService, logger *zap.Logger) *SearchHandler {
	return &SearchHandler{search: search, logs: logs, logger: logger}
}

// RegisterRoutes registers the search routes on the given mux.
func (h *SearchHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/search", h.Search)
	mux.HandleFunc("GET /api/search/logs", h.ListLogs)
	mux.HandleFunc("GET /api/search/stats", h.Stats)
}

// searchRequestBody distinguishes an omitted limit (use the default) from an
// explicit zero (no hits).
type searchRequestBody struct {
	models.SearchRequest
	Limit *int `json:"limit"`
}

// Search handles POST /api/search
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	var body searchRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	req := body.SearchRequest
	if body.Limit != nil {
		req.Limit = *body.Limit
	} else {
		req.Limit = h.search.Limits().Default
	}

	resp, err := h.search.Search(r.Context(), &req)
	if err != nil {
		writeServiceError(w, err, "Search failed", h.logger)
		return
	}
	writeData(w, resp, h.logger)
}

type searchLogPage struct {
	Entries []*models.SearchLogEntry `json:"entries"`
	Total   int                      `json:"total"`
}

// ListLogs handles GET /api/search/logs?schema=&session_id=&user_id=&success=&limit=
func (h *SearchHandler) ListLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := models.SearchLogFilters{
		SchemaName: q.Get("schema"),
		SessionID:  q.Get("session_id"),
		UserID:     q.Get("user_id"),
	}

	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			ErrorResponse(w, http.StatusBadRequest, "invalid_parameters", "limit must be a non-negative integer")
			return
		}
		filters.Limit = limit
	}
	if v := q.Get("success"); v != "" {
		success, err := strconv.ParseBool(v)
		if err != nil {
			ErrorResponse(w, http.StatusBadRequest, "invalid_parameters", "success must be true or false")
			return
		}
		filters.Success = &success
	}

	entries, total, err := h.logs.List(r.Context(), filters)
	if err != nil {
		writeServiceError(w, err, "Failed to list search logs", h.logger)
		return
	}
	if entries == nil {
		entries = []*models.SearchLogEntry{}
	}
	writeData(w, searchLogPage{Entries: entries, Total: total}, h.logger)
}

// Stats handles GET /api/search/stats?window=24h
func (h *SearchHandler) Stats(w http.ResponseWriter, r *http.Request) {
	window := defaultStatsWindow
	if v := r.URL.Query().Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			ErrorResponse(w, http.StatusBadRequest, "invalid_parameters", "window must be a positive duration such as 24h")
			return
		}
		window = d
	}

	stats, err := h.logs.Stats(r.Context(), time.Now().Add(-window))
	if err != nil {
		writeServiceError(w, err, "Failed to compute search statistics", h.logger)
		return
	}
	writeData(w, stats, h.logger)
}
