package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_GathersMetrics(t *testing.T) {
	m := New()

	families, err := m.Registry.Gather()
	require.NoError(t, err)
	// Go runtime and process collectors are always present.
	require.NotEmpty(t, families)

	m.RequestsTotal.WithLabelValues("GET", "200", "/api/products").Inc()
	m.UpstreamFailures.WithLabelValues("product", "timeout").Inc()
	m.RateLimitDecisions.WithLabelValues("denied").Inc()

	families, err = m.Registry.Gather()
	require.NoError(t, err)

	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	for _, want := range []string{
		"api_gateway_http_requests_total",
		"api_gateway_upstream_failures_total",
		"api_gateway_rate_limit_decisions_total",
	} {
		assert.Contains(t, names, want)
	}
}

func TestNormalizeMethod(t *testing.T) {
	tests := map[string]string{
		"GET":     "GET",
		"POST":    "POST",
		"PUT":     "PUT",
		"DELETE":  "DELETE",
		"PATCH":   "PATCH",
		"HEAD":    "HEAD",
		"OPTIONS": "OPTIONS",
		"FOOBAR":  "other",
		"get":     "other",
		"":        "other",
	}

	for method, want := range tests {
		assert.Equal(t, want, NormalizeMethod(method), "NormalizeMethod(%q)", method)
	}
}

func TestNormalizePath(t *testing.T) {
	tests := map[string]string{
		"/api/auth/login":    "/api/auth",
		"/api/auth/register": "/api/auth",
		"/api/products":      "/api/products",
		"/api/products/42":   "/api/products",
		"/api/productsx":     "other",
		"/health":            "/health",
		"/gateway/status":    "/gateway/status",
		"/metrics":           "/metrics",
		"/unknown":           "other",
		"/":                  "other",
	}

	for path, want := range tests {
		assert.Equal(t, want, NormalizePath(path), "NormalizePath(%q)", path)
	}
}
