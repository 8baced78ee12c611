package migrate_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kickoff/internal/db"
	"kickoff/internal/migrate"
)

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(db.Config{Path: filepath.Join(t.TempDir(), "nested", "k.db")})
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, migrate.Migrate(ctx, conn))
	require.NoError(t, migrate.Migrate(ctx, conn))

	latest, err := migrate.Latest()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, latest, 1)
	current, err := migrate.Current(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, latest, current)

	for _, table := range []string{"templates", "deployments", "deployment_logs", "events"} {
		var n int
		require.NoError(t, conn.QueryRowContext(ctx, `SELECT count(*) FROM `+table).Scan(&n), table)
		assert.Zero(t, n, table)
	}
}
