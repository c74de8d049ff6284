// Package client provides the outbound HTTP client shared by all upstreams.
package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"api-gateway/internal/config"
	"api-gateway/internal/metrics"
)

// UpstreamClient sends requests to backend services.
type UpstreamClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewUpstreamClient creates an UpstreamClient with connection pooling.
// Per-call deadlines are set by the caller's context. The metrics parameter
// is optional; pass nil to disable upstream metrics recording.
func NewUpstreamClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *UpstreamClient {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.Upstreams.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstreams.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &UpstreamClient{
		httpClient: &http.Client{
			Transport: transport,
			// Upstream redirects are relayed to the client, not followed.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger:  logger.With("component", "upstream_client"),
		metrics: m,
	}
}

// Do executes req against the named upstream and returns the raw response.
// The caller is responsible for closing the response body.
func (c *UpstreamClient) Do(upstream string, req *http.Request) (*http.Response, error) {
	c.logger.Debug("upstream request",
		"upstream", upstream,
		"method", req.Method,
		"path", req.URL.Path,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller
	duration := time.Since(start).Seconds()

	method := metrics.NormalizeMethod(req.Method)

	if c.metrics != nil {
		c.metrics.UpstreamDuration.WithLabelValues(upstream, method).Observe(duration)
	}
	if err != nil {
		return nil, fmt.Errorf("upstream %s: %w", upstream, err)
	}
	if c.metrics != nil {
		c.metrics.UpstreamResponses.WithLabelValues(upstream, method, strconv.Itoa(resp.StatusCode)).Inc()
	}

	return resp, nil
}

// Send builds a request bound to ctx and executes it. Canceling ctx (for
// example when the inbound client disconnects) aborts the upstream call.
func (c *UpstreamClient) Send(ctx context.Context, upstream, method, url string, header http.Header, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = header

	return c.Do(upstream, req)
}
