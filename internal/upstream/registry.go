// Package upstream holds the static registry of backend services.
package upstream

import (
	"errors"
	"fmt"
	"net/url"
	"slices"

	"api-gateway/internal/config"
)

// Logical upstream names referenced by the route table.
const (
	Auth    = "auth"
	Product = "product"
)

// ErrUnknownUpstream is returned when a name was never registered.
var ErrUnknownUpstream = errors.New("unknown upstream")

// Registry maps logical service names to base URLs. It is read-only after
// construction and safe for concurrent use.
type Registry struct {
	entries map[string]*url.URL
}

// NewRegistry builds the registry from the configured service addresses.
func NewRegistry(cfg *config.Config) (*Registry, error) {
	return New(map[string]string{
		Auth:    cfg.Upstreams.Auth,
		Product: cfg.Upstreams.Product,
	})
}

// New builds a registry from name → base URL pairs.
func New(addrs map[string]string) (*Registry, error) {
	r := &Registry{entries: make(map[string]*url.URL, len(addrs))}
	for name, raw := range addrs {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("upstream %q: parse %q: %w", name, raw, err)
		}
		if u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("upstream %q: %q is not an absolute URL", name, raw)
		}
		r.entries[name] = u
	}
	return r, nil
}

// Resolve returns the base URL registered under name. The returned URL must
// not be modified.
func (r *Registry) Resolve(name string) (*url.URL, error) {
	u, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownUpstream, name)
	}
	return u, nil
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
