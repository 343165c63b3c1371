package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-sync/pkg/config"
	"github.com/ekaya-inc/ekaya-sync/pkg/models"
)

func TestHealthHandler_Health(t *testing.T) {
	handler := NewHealthHandler(&config.Config{}, &mockChecker{pingErr: errors.New("down")}, nil, zap.NewNop())

	rec := httptest.NewRecorder()
	handler.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code, "liveness must not depend on the database")
	assert.Equal(t, "ok", rec.Body.String())
}

func TestHealthHandler_Ping(t *testing.T) {
	cfg := &config.Config{
		Version: "1.2.3",
		Env:     "test",
	}
	handler := NewHealthHandler(cfg, &mockChecker{}, nil, zap.NewNop())

	rec := httptest.NewRecorder()
	handler.Ping(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var response PingResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&response))
	assert.Equal(t, "ok", response.Status)
	assert.Equal(t, "1.2.3", response.Version)
	assert.Equal(t, "ekaya-sync", response.Service)
	assert.Equal(t, "test", response.Environment)
	assert.NotEmpty(t, response.GoVersion)
	assert.NotEmpty(t, response.Hostname)
}

func TestHealthHandler_Ready(t *testing.T) {
	stats := &models.EmbeddingStats{TotalRecords: 3, RecordsByTable: map[string]int64{"shop.products": 3}}

	tests := []struct {
		name          string
		checker       *mockChecker
		stats         EmbeddingStatsReader
		wantStatus    int
		wantReady     string
		wantError     string
		wantEmbedding bool
	}{
		{
			name:          "ready with statistics",
			checker:       &mockChecker{vectorVersion: "0.8.0"},
			stats:         &mockStats{stats: stats},
			wantStatus:    http.StatusOK,
			wantReady:     "ready",
			wantEmbedding: true,
		},
		{
			name:       "database unreachable",
			checker:    &mockChecker{pingErr: errors.New("connection refused")},
			wantStatus: http.StatusServiceUnavailable,
			wantReady:  "unavailable",
			wantError:  "database unreachable",
		},
		{
			name:       "vector extension missing",
			checker:    &mockChecker{},
			wantStatus: http.StatusServiceUnavailable,
			wantReady:  "unavailable",
			wantError:  "vector extension not installed",
		},
		{
			name:       "statistics failure does not affect readiness",
			checker:    &mockChecker{vectorVersion: "0.8.0"},
			stats:      &mockStats{err: errors.New("timeout")},
			wantStatus: http.StatusOK,
			wantReady:  "ready",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewHealthHandler(&config.Config{}, tt.checker, tt.stats, zap.NewNop())

			rec := httptest.NewRecorder()
			handler.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			var resp ReadyResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, tt.wantReady, resp.Status)
			assert.Equal(t, tt.wantError, resp.Error)
			assert.Equal(t, tt.wantEmbedding, resp.Embeddings != nil)
		})
	}
}

func TestHealthHandler_RegisterRoutes(t *testing.T) {
	handler := NewHealthHandler(&config.Config{}, &mockChecker{vectorVersion: "0.8.0"}, nil, zap.NewNop())
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	for _, path := range []string{"/health", "/ping", "/ready"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}
