package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"api-gateway/internal/config"
	"api-gateway/internal/metrics"
	"api-gateway/internal/model"
	"api-gateway/internal/route"
	"api-gateway/internal/upstream"
)

// stubForwarder answers every forwarded request with 200 {"ok":true}.
type stubForwarder struct{}

func (stubForwarder) Forward(context.Context, *model.ForwardRequest) model.Outcome {
	return &model.Relayed{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": {"application/json"}},
		Body:       []byte(`{"ok":true}`),
	}
}

func TestRegisterRoutes_Wiring(t *testing.T) {
	tests := []struct {
		name           string
		metricsEnabled bool
		method         string
		path           string
		wantStatus     int
	}{
		{"GET /health", false, http.MethodGet, "/health", http.StatusOK},
		{"GET /gateway/status", false, http.MethodGet, "/gateway/status", http.StatusOK},
		{"GET /api/products", false, http.MethodGet, "/api/products", http.StatusOK},
		{"POST /api/auth/login", false, http.MethodPost, "/api/auth/login", http.StatusOK},
		{"GET /metrics disabled", false, http.MethodGet, "/metrics", http.StatusNotFound},
		{"GET /metrics enabled", true, http.MethodGet, "/metrics", http.StatusOK},
		{"GET /unknown", false, http.MethodGet, "/unknown", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{
				Upstreams: config.UpstreamsConfig{
					Auth:           "http://localhost:8001",
					Product:        "http://localhost:8002",
					TimeoutSeconds: 5,
				},
				Metrics: config.MetricsConfig{Enabled: tt.metricsEnabled, Path: "/metrics"},
			}
			e := buildEcho(t, cfg)

			req := httptest.NewRequest(tt.method, tt.path, http.NoBody)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestRegisterRoutes_MetricsExposition(t *testing.T) {
	cfg := &config.Config{
		Upstreams: config.UpstreamsConfig{
			Auth:           "http://localhost:8001",
			Product:        "http://localhost:8002",
			TimeoutSeconds: 5,
		},
		Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}
	e := buildEcho(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func buildEcho(t *testing.T, cfg *config.Config) *echo.Echo {
	t.Helper()
	logger := discardLogger()
	m := metrics.New()
	registry, err := upstream.NewRegistry(cfg)
	require.NoError(t, err)
	routes, err := route.NewDefaultTable()
	require.NoError(t, err)
	gw, err := newGatewayHandler(routes, registry, stubForwarder{}, logger)
	require.NoError(t, err)

	e := echo.New()
	e.HTTPErrorHandler = ErrorHandler(logger)
	RegisterRoutes(e, cfg, m, gw, NewHealthHandler(registry, "test"))
	return e
}
