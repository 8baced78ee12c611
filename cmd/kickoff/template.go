package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"kickoff/internal/app"
	"kickoff/internal/domain"
	"kickoff/internal/repo"
	"kickoff/internal/templates"
	"kickoff/internal/validation"
)

func templateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Manage the template library",
		Long: `Library entries are kickoff, module, custom_field, workflow, dashboard or report
templates. Content may use {{variable}} placeholders declared under 'variables'.
Kick-off entries must pass deployment validation to be stored.`,
	}
	cmd.AddCommand(
		templateCreateCmd(),
		templateImportCmd(),
		templateListCmd(),
		templateShowCmd(),
		templateRenderCmd(),
		templateRateCmd(),
		templateDeleteCmd(),
	)
	return cmd
}

func templateCreateCmd() *cobra.Command {
	var file, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Store a template definition file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return errors.New("--file is required")
			}
			def, err := templates.LoadDefinition(file)
			if err != nil {
				return err
			}
			if name != "" {
				def.Name = name
			}
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				t, err := createFromDefinition(ctx, env, def)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(t)
				}
				fmt.Printf("Created template %s (%s)\n", t.ID, t.Name)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "definition file (YAML or JSON)")
	cmd.Flags().StringVar(&name, "name", "", "override the definition name")
	return cmd
}

func templateImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file-or-dir>...",
		Short: "Store every definition file found",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := definitionPaths(args)
			if err != nil {
				return err
			}
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				var created []domain.Template
				var failed int
				for _, p := range paths {
					def, err := templates.LoadDefinition(p)
					if err == nil {
						var t domain.Template
						t, err = createFromDefinition(ctx, env, def)
						created = append(created, t)
					}
					if err != nil {
						failed++
						fmt.Fprintf(os.Stderr, "%s: %v\n", p, err)
					}
				}
				if viper.GetBool("json") {
					if err := printJSON(created); err != nil {
						return err
					}
				} else {
					fmt.Printf("Imported %d of %d templates\n", len(paths)-failed, len(paths))
				}
				if failed > 0 {
					return fmt.Errorf("%d templates failed to import", failed)
				}
				return nil
			})
		},
	}
}

func templateListCmd() *cobra.Command {
	var f repo.TemplateFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List library templates, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				items, err := env.Templates.List(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Name", "Type", "Category", "Used", "Rating", "Public"})
				for _, t := range items {
					tw.AppendRow(table.Row{t.ID, t.Name, t.Type, t.Category, t.UsageCount,
						fmt.Sprintf("%.1f (%d)", t.RatingAverage, t.RatingCount), t.IsPublic})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Type, "type", "", "template type")
	cmd.Flags().StringVar(&f.Category, "category", "", "category")
	cmd.Flags().StringVar(&f.CreatedBy, "created-by", "", "author")
	cmd.Flags().BoolVar(&f.PublicOnly, "public", false, "public templates only")
	cmd.Flags().StringVarP(&f.Search, "query", "q", "", "search name, description and tags")
	cmd.Flags().IntVar(&f.Limit, "n", 50, "number of templates")
	return cmd
}

func templateShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <template-id>",
		Short: "Show one template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				t, err := env.Templates.Get(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(t)
				}
				tw := newTable()
				tw.AppendRow(table.Row{"ID", t.ID})
				tw.AppendRow(table.Row{"Name", t.Name})
				tw.AppendRow(table.Row{"Type", t.Type})
				tw.AppendRow(table.Row{"Category", t.Category})
				tw.AppendRow(table.Row{"Tags", strings.Join(t.Tags, ", ")})
				tw.AppendRow(table.Row{"Created", t.CreatedAt + " by " + t.CreatedBy})
				tw.AppendRow(table.Row{"Usage", t.UsageCount})
				tw.AppendRow(table.Row{"Rating", fmt.Sprintf("%.2f (%d)", t.RatingAverage, t.RatingCount)})
				for _, v := range t.Variables {
					flag := ""
					if v.Required {
						flag = " (required)"
					}
					tw.AppendRow(table.Row{"Variable", v.Name + flag + " " + v.Description})
				}
				tw.Render()
				if t.Description != "" {
					fmt.Println(t.Description)
				}
				return nil
			})
		},
	}
}

func templateRenderCmd() *cobra.Command {
	var vars map[string]string
	var asYAML bool
	cmd := &cobra.Command{
		Use:   "render <template-id>",
		Short: "Print template content with variables substituted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				content, err := env.Templates.Render(ctx, args[0], vars)
				if err != nil {
					return err
				}
				var doc any
				if err := json.Unmarshal(content, &doc); err != nil {
					return err
				}
				if asYAML {
					enc := yaml.NewEncoder(os.Stdout)
					enc.SetIndent(2)
					defer enc.Close()
					return enc.Encode(doc)
				}
				return printJSON(doc)
			})
		},
	}
	cmd.Flags().StringToStringVar(&vars, "var", nil, "template variable (key=value, repeatable)")
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "print YAML instead of JSON")
	return cmd
}

func templateRateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rate <template-id> <1-5>",
		Short: "Rate a template",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var score int
			if _, err := fmt.Sscanf(args[1], "%d", &score); err != nil {
				return fmt.Errorf("invalid score %q", args[1])
			}
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				t, err := env.Templates.Rate(ctx, args[0], viper.GetString("actor-id"), score)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(t)
				}
				fmt.Printf("%s: %.2f average over %d ratings\n", t.Name, t.RatingAverage, t.RatingCount)
				return nil
			})
		},
	}
}

func templateDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <template-id>",
		Short: "Delete a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				if err := env.Templates.Delete(ctx, args[0], viper.GetString("actor-id")); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
}

func generateCmd() *cobra.Command {
	var brief, out, name string
	var save bool
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Draft a kick-off template from a project brief",
		Long: `Asks the configured OpenAI-compatible model for a kick-off template.
The draft is validated like any other template. Requires KICKOFF_OPENAI_API_KEY.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(brief) == "" {
				return errors.New("--brief is required")
			}
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				gen, err := env.Generator()
				if err != nil {
					return err
				}
				draft, err := gen.GenerateKickoff(ctx, brief)
				var invalid *validation.InvalidTemplateError
				if err != nil && !errors.As(err, &invalid) {
					return err
				}
				res := validation.ValidateKickoffTemplate(draft)
				if out != "" {
					data, err := yaml.Marshal(draft)
					if err != nil {
						return err
					}
					if err := os.WriteFile(out, data, 0o644); err != nil {
						return err
					}
					fmt.Println("wrote", out)
				}
				if save && res.Valid {
					content, err := json.Marshal(draft)
					if err != nil {
						return err
					}
					if name == "" {
						name = "Generated kick-off template"
					}
					t, err := env.Templates.Create(ctx, templates.CreateOptions{
						Name:        name,
						Description: brief,
						Type:        templates.TypeKickoff,
						Category:    "generated",
						Content:     content,
						ActorID:     viper.GetString("actor-id"),
					})
					if err != nil {
						return err
					}
					fmt.Printf("Saved template %s\n", t.ID)
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"draft": draft, "validation": res})
				}
				if out == "" {
					data, err := yaml.Marshal(draft)
					if err != nil {
						return err
					}
					fmt.Print(string(data))
				}
				printValidation(res)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&brief, "brief", "", "project brief")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the draft to a YAML file")
	cmd.Flags().BoolVar(&save, "save", false, "store a valid draft in the library")
	cmd.Flags().StringVar(&name, "name", "", "library name with --save")
	return cmd
}

func createFromDefinition(ctx context.Context, env *app.Env, def templates.Definition) (domain.Template, error) {
	opts, err := def.CreateOptions(viper.GetString("actor-id"))
	if err != nil {
		return domain.Template{}, err
	}
	return env.Templates.Create(ctx, opts)
}

// definitionPaths expands directories to the YAML and JSON files they hold.
func definitionPaths(args []string) ([]string, error) {
	var out []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			out = append(out, arg)
			continue
		}
		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			switch strings.ToLower(filepath.Ext(e.Name())) {
			case ".yml", ".yaml", ".json":
				if !e.IsDir() {
					out = append(out, filepath.Join(arg, e.Name()))
				}
			}
		}
	}
	return out, nil
}
