// Package model defines the types passed between the gateway's router,
// forwarder and error normalizer.
package model

import (
	"io"
	"net/http"
	"net/url"
	"time"
)

// ContextKeyRoute is the echo context key holding the matched route name.
const ContextKeyRoute = "gateway.route"

// ForwardRequest describes one outbound call to an upstream service.
type ForwardRequest struct {
	Upstream string   // logical upstream name, used for logs and metrics
	BaseURL  *url.URL // resolved upstream base address
	Method   string
	Path     string // outbound path, parameters already substituted
	Header   http.Header
	Body     io.Reader

	// ForwardHeaders names inbound headers propagated on top of the
	// content negotiation headers every route forwards.
	ForwardHeaders []string
	RequestID      string
	// Timeout overrides the forwarder's default when non-zero.
	Timeout time.Duration
}

// Outcome is the result of a forwarding attempt: either *Relayed or *Failed.
type Outcome interface {
	outcome()
}

// Relayed is an upstream response, whatever its status code.
type Relayed struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// FailureKind classifies why no upstream response could be relayed.
type FailureKind int

const (
	// KindUnavailable covers connection refused, DNS and other network errors.
	KindUnavailable FailureKind = iota
	// KindTimeout means the upstream did not answer within the timeout.
	KindTimeout
	// KindCanceled means the inbound client went away.
	KindCanceled
	// KindBadResponse means the upstream answered but its body was unreadable.
	KindBadResponse
	// KindUnknownUpstream means a route named an unregistered upstream.
	KindUnknownUpstream
)

func (k FailureKind) String() string {
	switch k {
	case KindUnavailable:
		return "unavailable"
	case KindTimeout:
		return "timeout"
	case KindCanceled:
		return "canceled"
	case KindBadResponse:
		return "bad_response"
	case KindUnknownUpstream:
		return "unknown_upstream"
	default:
		return "unknown"
	}
}

// Failed is a forwarding attempt that produced no relayable response.
// StatusCode is zero unless the upstream supplied one.
type Failed struct {
	Kind       FailureKind
	StatusCode int
	Err        error
}

func (*Relayed) outcome() {}
func (*Failed) outcome()  {}
