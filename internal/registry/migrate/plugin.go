// Package migrate collects the schema migrators registered by store plugins.
package migrate

import (
	"context"
	"fmt"
	"slices"

	"github.com/charmbracelet/log"
)

// Migrator runs schema migrations for a single plugin. A migrator whose backend is
// not the configured one returns nil without doing anything.
type Migrator interface {
	Name() string
	Migrate(ctx context.Context) error
}

// Plugin pairs a migrator with its position in the run. Lower orders run first:
// relational schema at 100, document store indexes at 110.
type Plugin struct {
	Order    int
	Migrator Migrator
}

var plugins []Plugin

// Register adds a migration plugin. Called from init() in plugin packages.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// RunAll executes all registered migrators by ascending Order and stops at the
// first failure. Plugins sharing an order run in registration order.
func RunAll(ctx context.Context) error {
	ordered := slices.Clone(plugins)
	slices.SortStableFunc(ordered, func(a, b Plugin) int { return a.Order - b.Order })

	for _, p := range ordered {
		log.Debug("Migrator starting", "name", p.Migrator.Name(), "order", p.Order)
		if err := p.Migrator.Migrate(ctx); err != nil {
			return fmt.Errorf("migration %s failed: %w", p.Migrator.Name(), err)
		}
	}
	return nil
}
