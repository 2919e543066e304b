package ratelimit

import (
	"slices"
	"sort"
	"strings"

	"github.com/aman-churiwal/inventory-gateway/internal/models"
)

// Resolves a request path to its rate limit tier by longest-prefix match
type Router struct {
	tiers       map[string]models.RateLimitTier
	routes      []models.RouteTier
	defaultTier models.RateLimitTier
}

func NewRouter(tiers []models.RateLimitTier, routes []models.RouteTier, defaultTier string) *Router {
	r := &Router{
		tiers:  make(map[string]models.RateLimitTier, len(tiers)),
		routes: make([]models.RouteTier, 0, len(routes)),
	}
	for _, route := range routes {
		methods := make([]string, len(route.Methods))
		for i, m := range route.Methods {
			methods[i] = strings.ToUpper(m)
		}
		route.Methods = methods
		r.routes = append(r.routes, route)
	}
	for _, tier := range tiers {
		r.tiers[tier.Name] = tier
	}
	r.defaultTier = r.tiers[defaultTier]

	// Longest prefix first
	sort.SliceStable(r.routes, func(i, j int) bool {
		return len(r.routes[i].Prefix) > len(r.routes[j].Prefix)
	})

	return r
}

// Returns the tier for a request, honoring per-route method lists
func (r *Router) Resolve(method, path string) models.RateLimitTier {
	return r.resolve(strings.ToUpper(method), path)
}

// Returns the tier a path is routed to, ignoring method lists
func (r *Router) ResolvePath(path string) models.RateLimitTier {
	return r.resolve("", path)
}

func (r *Router) resolve(method, path string) models.RateLimitTier {
	for _, route := range r.routes {
		if method != "" && len(route.Methods) > 0 && !slices.Contains(route.Methods, method) {
			continue
		}
		if matchPrefix(path, route.Prefix) {
			if tier, ok := r.tiers[route.Tier]; ok {
				return tier
			}
		}
	}
	return r.defaultTier
}

func (r *Router) Tier(name string) (models.RateLimitTier, bool) {
	tier, ok := r.tiers[name]
	return tier, ok
}

// Matches whole path segments: "/api/v1/auth" matches "/api/v1/auth/login"
// but not "/api/v1/authors".
func matchPrefix(path, prefix string) bool {
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	if len(path) == len(prefix) || strings.HasSuffix(prefix, "/") {
		return true
	}
	return path[len(prefix)] == '/'
}
