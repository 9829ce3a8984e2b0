// Package route collects route plugins for the main and management servers.
package route

import (
	"slices"
	"sync"

	"github.com/gin-gonic/gin"
)

// RouterLoader initializes routes on the gin engine.
type RouterLoader func(r *gin.Engine) error

// RouteType distinguishes which server a plugin's routes belong to.
type RouteType int

const (
	// RouteTypeMain registers routes on the main API server.
	RouteTypeMain RouteType = iota
	// RouteTypeManagement registers routes on the management server (health, readiness, metrics).
	// Without a dedicated management port these are mounted on the main server.
	RouteTypeManagement
)

// Plugin represents a route plugin with an order for deterministic mount sequence.
type Plugin struct {
	Order  int
	Type   RouteType
	Loader RouterLoader
}

var (
	mu      sync.Mutex
	plugins []Plugin
)

// Register adds a route plugin. Called from init() in plugin packages.
func Register(p Plugin) {
	mu.Lock()
	defer mu.Unlock()
	plugins = append(plugins, p)
}

// Loaders returns the loaders of one route type by ascending order.
func Loaders(t RouteType) []RouterLoader {
	mu.Lock()
	matching := make([]Plugin, 0, len(plugins))
	for _, p := range plugins {
		if p.Type == t {
			matching = append(matching, p)
		}
	}
	mu.Unlock()

	slices.SortStableFunc(matching, func(a, b Plugin) int { return a.Order - b.Order })
	loaders := make([]RouterLoader, len(matching))
	for i, p := range matching {
		loaders[i] = p.Loader
	}
	return loaders
}

// MainRouteLoaders returns loaders for RouteTypeMain plugins.
func MainRouteLoaders() []RouterLoader { return Loaders(RouteTypeMain) }

// ManagementRouteLoaders returns loaders for RouteTypeManagement plugins.
func ManagementRouteLoaders() []RouterLoader { return Loaders(RouteTypeManagement) }
