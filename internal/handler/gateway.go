package handler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"api-gateway/internal/model"
	"api-gateway/internal/route"
	"api-gateway/internal/service"
	"api-gateway/internal/upstream"
)

// MessageNotFound is the error text for requests that match no route.
const MessageNotFound = "Not found"

// Forwarder performs the outbound call for a matched route.
type Forwarder interface {
	Forward(ctx context.Context, req *model.ForwardRequest) model.Outcome
}

// GatewayHandler dispatches API requests to their upstream service.
type GatewayHandler struct {
	routes    *route.Table
	registry  *upstream.Registry
	forwarder Forwarder
	logger    *slog.Logger
}

// NewGatewayHandler creates a GatewayHandler. It fails if any route names an
// upstream the registry cannot resolve.
func NewGatewayHandler(routes *route.Table, registry *upstream.Registry, fwd *service.Forwarder, logger *slog.Logger) (*GatewayHandler, error) {
	return newGatewayHandler(routes, registry, fwd, logger)
}

func newGatewayHandler(routes *route.Table, registry *upstream.Registry, fwd Forwarder, logger *slog.Logger) (*GatewayHandler, error) {
	for _, name := range routes.Upstreams() {
		if _, err := registry.Resolve(name); err != nil {
			return nil, fmt.Errorf("route table: %w", err)
		}
	}
	return &GatewayHandler{
		routes:    routes,
		registry:  registry,
		forwarder: fwd,
		logger:    logger.With("component", "gateway_handler"),
	}, nil
}

// Dispatch matches the request against the route table, forwards it and
// writes the normalized reply.
func (h *GatewayHandler) Dispatch(c echo.Context) error {
	req := c.Request()

	m, ok := h.routes.Match(req.Method, req.URL.Path)
	if !ok {
		return writeReply(c, service.Reply{
			Status: http.StatusNotFound,
			Header: jsonHeader(),
			Body:   service.ErrorBody(MessageNotFound),
		})
	}

	c.Set(model.ContextKeyRoute, m.Route.Name())

	base, err := h.registry.Resolve(m.Route.Upstream)
	if err != nil {
		h.logger.Error("resolve upstream", "route", m.Route.Name(), "err", err)
		return writeReply(c, service.Normalize(&model.Failed{Kind: model.KindUnknownUpstream, Err: err}))
	}

	// Buffer the inbound body so the upstream request carries a Content-Length.
	var body io.Reader
	if req.Body != nil && req.Body != http.NoBody {
		buf, err := io.ReadAll(req.Body)
		if err != nil {
			// BodyLimit reports oversize payloads as an *echo.HTTPError.
			return err
		}
		if len(buf) > 0 {
			body = bytes.NewReader(buf)
		}
	}

	outcome := h.forwarder.Forward(req.Context(), &model.ForwardRequest{
		Upstream:       m.Route.Upstream,
		BaseURL:        base,
		Method:         req.Method,
		Path:           m.UpstreamPath(),
		Header:         req.Header,
		Body:           body,
		ForwardHeaders: m.Route.ForwardHeaders,
		RequestID:      c.Response().Header().Get(echo.HeaderXRequestID),
	})

	return writeReply(c, service.Normalize(outcome))
}

func writeReply(c echo.Context, r service.Reply) error {
	header := c.Response().Header()
	for key, vals := range r.Header {
		for _, v := range vals {
			header.Add(key, v)
		}
	}
	c.Response().WriteHeader(r.Status)
	if len(r.Body) == 0 {
		return nil
	}
	_, err := c.Response().Write(r.Body)
	return err
}

func jsonHeader() http.Header {
	return http.Header{echo.HeaderContentType: {echo.MIMEApplicationJSON}}
}
