// Package service implements request forwarding and error normalization.
package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"api-gateway/internal/client"
	"api-gateway/internal/config"
	"api-gateway/internal/metrics"
	"api-gateway/internal/model"
)

// forwardableRequestHeaders are sent upstream on every route.
var forwardableRequestHeaders = []string{
	"Accept",
	"Accept-Language",
	"Content-Type",
}

// forwardableResponseHeaders are the only response headers relayed to the client.
var forwardableResponseHeaders = map[string]bool{
	"Content-Type":     true,
	"Cache-Control":    true,
	"Location":         true,
	"Www-Authenticate": true,
}

const userAgent = "api-gateway/1.0"

// Forwarder issues one outbound call per inbound request. It never retries.
type Forwarder struct {
	client  *client.UpstreamClient
	timeout time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewForwarder creates a Forwarder. The metrics parameter is optional.
func NewForwarder(c *client.UpstreamClient, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Forwarder {
	return &Forwarder{
		client:  c,
		timeout: cfg.Upstreams.Timeout(),
		logger:  logger.With("component", "forwarder"),
		metrics: m,
	}
}

// Forward sends req upstream and reports what happened. A reachable upstream
// yields *model.Relayed regardless of its status code; anything that keeps a
// response from arriving yields *model.Failed. The upstream body is read in
// full before returning so the caller never writes a partial response.
func (f *Forwarder) Forward(ctx context.Context, req *model.ForwardRequest) model.Outcome {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = f.timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	u := *req.BaseURL
	rawPath := joinPath(u.EscapedPath(), req.Path)
	if p, err := url.PathUnescape(rawPath); err == nil {
		u.Path, u.RawPath = p, rawPath
	} else {
		u.Path, u.RawPath = rawPath, ""
	}
	u.RawQuery = ""

	header := f.filterRequestHeaders(req.Header, req.ForwardHeaders)
	if req.RequestID != "" {
		header.Set("X-Request-Id", req.RequestID)
	}

	f.logger.Debug("forwarding request",
		"upstream", req.Upstream,
		"method", req.Method,
		"path", req.Path,
	)

	resp, err := f.client.Send(ctx, req.Upstream, req.Method, u.String(), header, req.Body)
	if err != nil {
		return f.fail(ctx, req, classify(ctx, err), 0, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		status := 0
		if resp.StatusCode >= http.StatusBadRequest {
			status = resp.StatusCode
		}
		return f.fail(ctx, req, model.KindBadResponse, status, err)
	}

	return &model.Relayed{
		StatusCode: resp.StatusCode,
		Header:     filterResponseHeaders(resp.Header),
		Body:       body,
	}
}

func (f *Forwarder) fail(ctx context.Context, req *model.ForwardRequest, kind model.FailureKind, status int, err error) *model.Failed {
	if f.metrics != nil {
		f.metrics.UpstreamFailures.WithLabelValues(req.Upstream, kind.String()).Inc()
	}
	level := slog.LevelWarn
	if kind == model.KindCanceled {
		level = slog.LevelDebug
	}
	f.logger.Log(ctx, level, "upstream call failed",
		"upstream", req.Upstream,
		"method", req.Method,
		"path", req.Path,
		"kind", kind.String(),
		"err", err,
	)
	return &model.Failed{Kind: kind, StatusCode: status, Err: err}
}

// classify maps a transport error to a failure kind. ctx is the per-call
// context, so its error tells a timeout from a client disconnect.
func classify(ctx context.Context, err error) model.FailureKind {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return model.KindTimeout
	case errors.Is(err, context.Canceled):
		return model.KindCanceled
	default:
		return model.KindUnavailable
	}
}

func (f *Forwarder) filterRequestHeaders(src http.Header, extra []string) http.Header {
	dst := make(http.Header)
	for _, key := range forwardableRequestHeaders {
		if vals := src.Values(key); len(vals) > 0 {
			dst[http.CanonicalHeaderKey(key)] = vals
		}
	}
	for _, key := range extra {
		if vals := src.Values(key); len(vals) > 0 {
			dst[http.CanonicalHeaderKey(key)] = vals
		}
	}
	dst.Set("User-Agent", userAgent)
	return dst
}

func filterResponseHeaders(src http.Header) http.Header {
	dst := make(http.Header)
	for key, vals := range src {
		if forwardableResponseHeaders[http.CanonicalHeaderKey(key)] {
			dst[http.CanonicalHeaderKey(key)] = vals
		}
	}
	return dst
}

// joinPath appends the escaped path p to an escaped base path without
// doubling the slash.
func joinPath(base, p string) string {
	if base == "" || base == "/" {
		return p
	}
	if base[len(base)-1] == '/' {
		base = base[:len(base)-1]
	}
	return base + p
}
