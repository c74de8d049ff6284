// Package route defines the gateway's static route table and matches inbound
// requests against it.
//
// A path template is either exact ("/api/products") or a fixed prefix
// followed by a single trailing parameter segment ("/api/products/{id}").
// Anything else is rejected when the table is built.
package route

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"api-gateway/internal/upstream"
)

// Kind is the closed set of pattern variants.
type Kind int

const (
	// Exact matches the whole path literally.
	Exact Kind = iota
	// Param matches a literal prefix followed by one non-empty segment.
	Param
)

// Pattern is a parsed path template.
type Pattern struct {
	kind   Kind
	prefix string // whole path for Exact, everything before the parameter for Param
	param  string
}

// ParsePattern parses a path template.
func ParsePattern(tmpl string) (Pattern, error) {
	if !strings.HasPrefix(tmpl, "/") {
		return Pattern{}, fmt.Errorf("route: template %q must start with '/'", tmpl)
	}
	open := strings.IndexByte(tmpl, '{')
	if open < 0 {
		if strings.ContainsRune(tmpl, '}') {
			return Pattern{}, fmt.Errorf("route: template %q has unbalanced braces", tmpl)
		}
		return Pattern{kind: Exact, prefix: tmpl}, nil
	}
	if open == 0 || tmpl[open-1] != '/' || !strings.HasSuffix(tmpl, "}") {
		return Pattern{}, fmt.Errorf("route: parameter in %q must be the whole final segment", tmpl)
	}
	name := tmpl[open+1 : len(tmpl)-1]
	if name == "" || strings.ContainsAny(name, "{}/") {
		return Pattern{}, fmt.Errorf("route: template %q has an invalid parameter name", tmpl)
	}
	return Pattern{kind: Param, prefix: tmpl[:open], param: name}, nil
}

// Kind reports the pattern variant.
func (p Pattern) Kind() Kind { return p.kind }

// match reports whether path fits the pattern and returns the parameter value.
// A parameter is one non-empty segment and never a dot segment, so expansion
// cannot climb out of the upstream prefix.
func (p Pattern) match(path string) (string, bool) {
	switch p.kind {
	case Exact:
		return "", path == p.prefix
	case Param:
		rest, ok := strings.CutPrefix(path, p.prefix)
		if !ok || rest == "" || rest == "." || rest == ".." || strings.ContainsRune(rest, '/') {
			return "", false
		}
		return rest, true
	}
	return "", false
}

// Expand substitutes value into the pattern. Exact patterns ignore value.
func (p Pattern) Expand(value string) string {
	if p.kind == Exact {
		return p.prefix
	}
	return p.prefix + url.PathEscape(value)
}

func (p Pattern) String() string {
	if p.kind == Exact {
		return p.prefix
	}
	return p.prefix + "{" + p.param + "}"
}

// Definition is the declarative form of a route.
type Definition struct {
	Method         string
	Path           string
	Upstream       string
	UpstreamPath   string
	ForwardHeaders []string
}

// Route is a validated, immutable route.
type Route struct {
	Method         string
	Inbound        Pattern
	Upstream       string
	Outbound       Pattern
	ForwardHeaders []string
}

// Name returns "METHOD /template", used in logs.
func (r *Route) Name() string {
	return r.Method + " " + r.Inbound.String()
}

// Match is a route selected for an inbound request.
type Match struct {
	Route *Route
	Param string
}

// UpstreamPath returns the outbound path with the parameter substituted.
func (m Match) UpstreamPath() string {
	return m.Route.Outbound.Expand(m.Param)
}

// Table is an ordered, read-only set of routes.
type Table struct {
	routes []Route
}

// DefaultDefinitions is the gateway's route table.
var DefaultDefinitions = []Definition{
	{Method: http.MethodPost, Path: "/api/auth/register", Upstream: upstream.Auth},
	{Method: http.MethodPost, Path: "/api/auth/login", Upstream: upstream.Auth},
	{Method: http.MethodGet, Path: "/api/products", Upstream: upstream.Product},
	{Method: http.MethodGet, Path: "/api/products/{id}", Upstream: upstream.Product},
	{Method: http.MethodPost, Path: "/api/products", Upstream: upstream.Product, ForwardHeaders: []string{"Authorization"}},
}

// NewDefaultTable builds the table from DefaultDefinitions.
func NewDefaultTable() (*Table, error) {
	return NewTable(DefaultDefinitions...)
}

// NewTable validates defs and builds a table. UpstreamPath defaults to Path.
func NewTable(defs ...Definition) (*Table, error) {
	t := &Table{routes: make([]Route, 0, len(defs))}
	seen := make(map[string]bool, len(defs))
	for _, d := range defs {
		if d.Method == "" || d.Upstream == "" {
			return nil, fmt.Errorf("route: %q needs a method and an upstream", d.Path)
		}
		in, err := ParsePattern(d.Path)
		if err != nil {
			return nil, err
		}
		outPath := d.UpstreamPath
		if outPath == "" {
			outPath = d.Path
		}
		out, err := ParsePattern(outPath)
		if err != nil {
			return nil, err
		}
		if in.kind != out.kind {
			return nil, fmt.Errorf("route: %s %s and upstream path %q must take the same parameters", d.Method, d.Path, outPath)
		}
		key := d.Method + " " + in.String()
		if seen[key] {
			return nil, fmt.Errorf("route: duplicate route %s", key)
		}
		seen[key] = true

		headers := make([]string, len(d.ForwardHeaders))
		for i, h := range d.ForwardHeaders {
			headers[i] = http.CanonicalHeaderKey(h)
		}
		t.routes = append(t.routes, Route{
			Method:         d.Method,
			Inbound:        in,
			Upstream:       d.Upstream,
			Outbound:       out,
			ForwardHeaders: headers,
		})
	}
	return t, nil
}

// Match finds the route for method and path. Both must match exactly.
func (t *Table) Match(method, path string) (Match, bool) {
	for i := range t.routes {
		r := &t.routes[i]
		if r.Method != method {
			continue
		}
		if param, ok := r.Inbound.match(path); ok {
			return Match{Route: r, Param: param}, true
		}
	}
	return Match{}, false
}

// Routes returns the routes in declaration order.
func (t *Table) Routes() []Route {
	return t.routes
}

// Upstreams returns the distinct upstream names referenced by the table.
func (t *Table) Upstreams() []string {
	var names []string
	seen := make(map[string]bool)
	for _, r := range t.routes {
		if !seen[r.Upstream] {
			seen[r.Upstream] = true
			names = append(names, r.Upstream)
		}
	}
	return names
}
