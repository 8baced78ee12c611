package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"kickoff/internal/app"
	"kickoff/internal/config"
	"kickoff/internal/db"
	"kickoff/internal/domain"
	"kickoff/internal/odoo"
	"kickoff/internal/repo"
	"kickoff/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "kickoff",
	Short: "Odoo kick-off deployment CLI",
	Long: `kickoff turns implementation kick-off templates into Odoo projects.
- Template: modules, departments with tasks, and a timeline of phases and milestones.
- Validation: structural checks that run before anything reaches Odoo.
- Deployment: one run that creates the project, stages, tasks, subtasks and milestones.
- Library: stored templates with {{variables}}, usage counts and ratings.
- Event log: every template and deployment change, view with 'kickoff log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("KICKOFF")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.String("config", "", "config file (default <workspace>/kickoff.yml)")
	flags.Bool("json", false, "output JSON")
	flags.String("actor-id", "local-user", "actor identifier")
	flags.BoolP("verbose", "v", false, "development logging")
	flags.String("odoo-url", "", "Odoo base URL")
	flags.String("odoo-db", "", "Odoo database")
	flags.String("odoo-user", "", "Odoo login")
	for _, name := range []string{"workspace", "config", "json", "actor-id", "verbose", "odoo-url", "odoo-db", "odoo-user"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(deployCmd())
	rootCmd.AddCommand(deploymentCmd())
	rootCmd.AddCommand(templateCmd())
	rootCmd.AddCommand(generateCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var actorHeader bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				scfg := server.FromEnv(env)
				scfg.Odoo = env.OdooConfig(odooOverride())
				if cmd.Flags().Changed("addr") || env.Config.Server.Addr == "" {
					env.Config.Server.Addr = addr
				}
				if cmd.Flags().Changed("base-path") || scfg.BasePath == "" {
					scfg.BasePath = basePath
				}
				scfg.Auth.AllowActorHeader = actorHeader
				if scfg.Auth.JWTSecret == "" && !actorHeader {
					return fmt.Errorf("%s is required for bearer auth", config.EnvJWTSecret)
				}
				if gen, err := env.Generator(); err == nil {
					scfg.Generator = gen
				} else {
					env.Logger.Info("template generation disabled", zap.Error(err))
				}
				handler, err := server.New(scfg)
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: env.Config.Server.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				env.Logger.Info("serving kickoff API",
					zap.String("addr", srv.Addr),
					zap.String("base_path", scfg.BasePath))
				fmt.Printf("Serving kickoff API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", srv.Addr, scfg.BasePath, scfg.BasePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&actorHeader, "insecure-actor-header", false, "trust X-Actor-Id without a token (local use only)")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Everything that happened to templates and deployments, newest first.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var f repo.EventFilters
	var follow bool
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				events, err := env.Repo.ListEvents(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") && !follow {
					return printJSON(events)
				}
				for i := len(events) - 1; i >= 0; i-- {
					printEvent(events[i])
				}
				if !follow {
					return nil
				}
				cursor, err := env.Repo.LatestEventID(ctx)
				if err != nil {
					return err
				}
				ticker := time.NewTicker(interval)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return nil
					case <-ticker.C:
					}
					next, err := env.Repo.EventsAfter(ctx, 100, cursor)
					if err != nil {
						return err
					}
					for _, e := range next {
						printEvent(e)
						cursor = e.ID
					}
				}
			})
		},
	}
	cmd.Flags().IntVar(&f.Limit, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing new events")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "poll interval with --follow")
	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "token", Short: "API tokens"}
	var subject string
	var roles []string
	var ttl time.Duration
	mint := &cobra.Command{
		Use:   "mint",
		Short: "Mint a bearer token signed with " + config.EnvJWTSecret,
		RunE: func(cmd *cobra.Command, args []string) error {
			if subject == "" {
				subject = viper.GetString("actor-id")
			}
			token, err := server.SignToken(os.Getenv(config.EnvJWTSecret), subject, roles, ttl)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]string{"token": token})
			}
			fmt.Println(token)
			return nil
		},
	}
	mint.Flags().StringVar(&subject, "subject", "", "token subject (default --actor-id)")
	mint.Flags().StringSliceVar(&roles, "role", nil, "role claim (repeatable)")
	mint.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime, 0 for no expiry")
	cmd.AddCommand(mint)
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage kickoff.yml",
		Long:  "kickoff.yml holds the Odoo connection, deployment timeout, server and generator settings. Secrets come from KICKOFF_* environment variables only.",
	}
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default kickoff.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	show := &cobra.Command{
		Use:   "show",
		Short: "Show effective config (secrets omitted)",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSON(c)
		},
	}
	validate := &cobra.Command{
		Use:   "validate",
		Short: "Validate kickoff.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := loadConfig(viper.GetString("workspace"))
			if viper.GetBool("json") {
				msg := ""
				if err != nil {
					msg = err.Error()
				}
				return printJSON(map[string]any{"ok": err == nil, "error": msg})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	cfg.AddCommand(initCmd, show, validate)
	return cfg
}

// --- helpers ---

func loadConfig(workspace string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := viper.GetString("config"); path != "" {
		cfg, err = config.FromFile(path)
	} else {
		cfg, err = config.LoadOptional(workspace)
	}
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv(nil)
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if viper.GetBool("verbose") || cfg.Log.Development {
		return zap.NewDevelopment()
	}
	zcfg := zap.NewProductionConfig()
	if cfg.Log.Level != "" {
		level, err := zapcore.ParseLevel(cfg.Log.Level)
		if err != nil {
			return nil, err
		}
		zcfg.Level = zap.NewAtomicLevelAt(level)
	}
	return zcfg.Build()
}

func withEnv(ctx context.Context, fn func(context.Context, *app.Env) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := loadConfig(workspace)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()
	env, err := app.Open(ctx, workspace, cfg, logger)
	if err != nil {
		return err
	}
	defer env.Close()
	return fn(ctx, env)
}

func odooOverride() odoo.Config {
	return odoo.Config{
		URL:      viper.GetString("odoo-url"),
		Database: viper.GetString("odoo-db"),
		Username: viper.GetString("odoo-user"),
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	return tw
}

func printEvent(e domain.Event) {
	target := e.EntityKind
	if e.EntityID != "" {
		target += "/" + e.EntityID
	}
	fmt.Printf("%6d  %s  %-24s %-40s %s %s\n", e.ID, e.TS, e.Type, target, e.ActorID, e.Payload)
}
