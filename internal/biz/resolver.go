package biz

import (
	"fmt"
	"sort"
	"strings"

	"RouteLane/internal/conf"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Route maps a path prefix to a service.
type Route struct {
	Prefix      string
	Service     string
	StripPrefix bool
}

type resolution struct {
	route Route
	found bool
}

// RouteResolver finds the service for a request path by longest-prefix
// match on path segment boundaries. Results are memoized in an LRU cache.
type RouteResolver struct {
	routes []Route // longest prefix first
	cache  *lru.Cache[string, resolution]
}

// NewRouteResolver builds a resolver over the configured routes.
func NewRouteResolver(routes []*conf.Route, c *conf.Router) (*RouteResolver, error) {
	size := 1024
	if c != nil && c.RouteCacheSize > 0 {
		size = c.RouteCacheSize
	}
	cache, err := lru.New[string, resolution](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create route cache: %w", err)
	}

	r := &RouteResolver{cache: cache}
	seen := map[string]bool{}
	for _, cr := range routes {
		if cr == nil {
			continue
		}
		prefix := normalizePrefix(cr.Prefix)
		if seen[prefix] {
			return nil, fmt.Errorf("duplicate route prefix %q", prefix)
		}
		seen[prefix] = true
		r.routes = append(r.routes, Route{Prefix: prefix, Service: cr.Service, StripPrefix: cr.StripPrefix})
	}
	sort.SliceStable(r.routes, func(i, j int) bool {
		return len(r.routes[i].Prefix) > len(r.routes[j].Prefix)
	})
	return r, nil
}

func normalizePrefix(p string) string {
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
		if p == "" {
			p = "/"
		}
	}
	return p
}

// Routes returns the route table, longest prefix first.
func (r *RouteResolver) Routes() []Route {
	out := make([]Route, len(r.routes))
	copy(out, r.routes)
	return out
}

// Resolve returns the route matching path.
func (r *RouteResolver) Resolve(path string) (Route, bool) {
	if res, ok := r.cache.Get(path); ok {
		return res.route, res.found
	}

	var res resolution
	for _, rt := range r.routes {
		if matchPrefix(rt.Prefix, path) {
			res = resolution{route: rt, found: true}
			break
		}
	}
	r.cache.Add(path, res)
	return res.route, res.found
}

// Rewrite returns the downstream path for a request matched by rt.
func (rt Route) Rewrite(path string) string {
	if !rt.StripPrefix || rt.Prefix == "/" {
		return path
	}
	rest := strings.TrimPrefix(path, rt.Prefix)
	if !strings.HasPrefix(rest, "/") {
		rest = "/" + rest
	}
	return rest
}

func matchPrefix(prefix, path string) bool {
	if prefix == "/" {
		return true
	}
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}
