package migrate_test

import (
	"context"
	"errors"
	"testing"

	"github.com/chirino/chat-service/internal/registry/migrate"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	name string
	err  error
	log  *[]string
}

func (r recorder) Name() string { return r.name }

func (r recorder) Migrate(context.Context) error {
	*r.log = append(*r.log, r.name)
	return r.err
}

func TestRunAllOrdersAndStopsOnFailure(t *testing.T) {
	var ran []string
	migrate.Register(migrate.Plugin{Order: 110, Migrator: recorder{name: "docs", log: &ran}})
	migrate.Register(migrate.Plugin{Order: 100, Migrator: recorder{name: "schema", log: &ran}})
	migrate.Register(migrate.Plugin{Order: 110, Migrator: recorder{name: "docs-ttl", log: &ran}})

	require.NoError(t, migrate.RunAll(context.Background()))
	require.Equal(t, []string{"schema", "docs", "docs-ttl"}, ran)

	ran = nil
	boom := errors.New("boom")
	migrate.Register(migrate.Plugin{Order: 105, Migrator: recorder{name: "broken", err: boom, log: &ran}})
	err := migrate.RunAll(context.Background())
	require.ErrorIs(t, err, boom)
	require.Contains(t, err.Error(), "migration broken failed")
	require.Equal(t, []string{"schema", "broken"}, ran)
}
