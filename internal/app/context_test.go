package app_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kickoff/internal/app"
	"kickoff/internal/config"
	"kickoff/internal/migrate"
	"kickoff/internal/odoo"
)

func TestOpenWorkspaceReadsConfig(t *testing.T) {
	ws := t.TempDir()
	yml := "odoo:\n  url: https://erp.example.com\n  database: acme\n  username: admin\ndeploy:\n  timeout: 2m\n  rollback_on_failure: true\n"
	require.NoError(t, os.WriteFile(filepath.Join(ws, "kickoff.yml"), []byte(yml), 0o644))
	t.Setenv(config.EnvOdooPassword, "secret")
	t.Setenv(config.EnvOpenAIKey, "")

	env, err := app.Open(context.Background(), ws, nil, nil)
	require.NoError(t, err)
	defer env.Close()

	version, err := migrate.Current(context.Background(), env.DB)
	require.NoError(t, err)
	latest, err := migrate.Latest()
	require.NoError(t, err)
	assert.Equal(t, latest, version)

	assert.Equal(t, 2*time.Minute, env.Runner.Timeout)
	assert.True(t, env.Runner.RollbackOnFailure)

	cfg := env.OdooConfig(odoo.Config{Database: "other"})
	assert.Equal(t, "https://erp.example.com", cfg.URL)
	assert.Equal(t, "other", cfg.Database)
	assert.Equal(t, "secret", cfg.Password)

	_, err = env.Generator()
	assert.ErrorIs(t, err, app.ErrGeneratorDisabled)
}

func TestOpenWithExplicitConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Generator.APIKey = "sk-test"
	env, err := app.Open(context.Background(), t.TempDir(), cfg, nil)
	require.NoError(t, err)

	gen, err := env.Generator()
	require.NoError(t, err)
	assert.NotNil(t, gen)

	require.NoError(t, env.Close())
	assert.Error(t, env.Close())
}
