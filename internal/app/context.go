package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"kickoff/internal/config"
	"kickoff/internal/db"
	"kickoff/internal/engine"
	"kickoff/internal/generator"
	"kickoff/internal/migrate"
	"kickoff/internal/monitor"
	"kickoff/internal/odoo"
	"kickoff/internal/repo"
	"kickoff/internal/templates"
)

// ErrGeneratorDisabled is returned when no API key is configured.
var ErrGeneratorDisabled = fmt.Errorf("template generation disabled; set %s", config.EnvOpenAIKey)

// Env holds the services wired for one workspace.
type Env struct {
	DB        *sql.DB
	Config    *config.Config
	Repo      repo.Repo
	Templates templates.Service
	Monitor   monitor.Service
	Runner    *Runner
	Logger    *zap.Logger
}

// Open opens (and migrates) the workspace database and wires the services
// around it. A nil cfg loads kickoff.yml from the workspace when present.
func Open(ctx context.Context, workspace string, cfg *config.Config, logger *zap.Logger) (*Env, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg == nil {
		loaded, err := config.LoadOptional(workspace)
		if err != nil {
			return nil, err
		}
		loaded.ApplyEnv(nil)
		cfg = loaded
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	r := repo.Repo{DB: conn}
	env := &Env{
		DB:        conn,
		Config:    cfg,
		Repo:      r,
		Templates: templates.New(r, logger),
		Monitor:   monitor.New(r, logger),
		Logger:    logger,
	}
	env.Runner = &Runner{
		Engine:            engine.New(logger),
		Monitor:           env.Monitor,
		Templates:         env.Templates,
		Dial:              DialXMLRPC,
		Timeout:           cfg.Deploy.Timeout,
		RollbackOnFailure: cfg.Deploy.RollbackOnFailure,
		Logger:            logger.Named("runner"),
	}
	return env, nil
}

// Generator builds the configured template generator.
func (e *Env) Generator() (generator.Generator, error) {
	if e.Config.Generator.APIKey == "" {
		return nil, ErrGeneratorDisabled
	}
	gen, err := generator.NewOpenAI(generator.Config{
		BaseURL:   e.Config.Generator.BaseURL,
		Model:     e.Config.Generator.Model,
		APIKey:    e.Config.Generator.APIKey,
		MaxTokens: e.Config.Generator.MaxTokens,
	}, e.Logger)
	if err != nil {
		return nil, err
	}
	return gen, nil
}

// OdooConfig returns the configured connection with override applied.
func (e *Env) OdooConfig(override odoo.Config) odoo.Config {
	return MergeOdoo(e.Config.Odoo, override)
}

// MergeOdoo applies the non-empty fields of override on top of base.
func MergeOdoo(base, override odoo.Config) odoo.Config {
	if override.URL != "" {
		base.URL = override.URL
	}
	if override.Database != "" {
		base.Database = override.Database
	}
	if override.Username != "" {
		base.Username = override.Username
	}
	if override.Password != "" {
		base.Password = override.Password
	}
	if override.Timeout > 0 {
		base.Timeout = override.Timeout
	}
	return base
}

// Close waits for background deployments and closes the database.
func (e *Env) Close() error {
	if e == nil {
		return nil
	}
	if e.Runner != nil {
		e.Runner.Wait()
	}
	if e.DB == nil {
		return errors.New("workspace already closed")
	}
	err := e.DB.Close()
	e.DB = nil
	return err
}
