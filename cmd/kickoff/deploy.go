package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"kickoff/internal/app"
	"kickoff/internal/domain"
	"kickoff/internal/monitor"
	"kickoff/internal/repo"
	"kickoff/internal/templates"
	"kickoff/internal/validation"
)

func validateCmd() *cobra.Command {
	var vars map[string]string
	var templateID string
	cmd := &cobra.Command{
		Use:   "validate [file]",
		Short: "Validate a kick-off template without deploying it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var res validation.Result
			switch {
			case templateID != "" && len(args) == 0:
				err := withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
					var err error
					_, res, err = env.Runner.Prepare(ctx, app.Request{TemplateID: templateID, Variables: vars})
					var invalid *validation.InvalidTemplateError
					if errors.As(err, &invalid) {
						return nil
					}
					return err
				})
				if err != nil {
					return err
				}
			case templateID == "" && len(args) == 1:
				kt, err := loadKickoffFile(args[0], vars)
				if err != nil {
					return err
				}
				res = validation.ValidateKickoffTemplate(kt)
			default:
				return errors.New("pass a template file or --template-id")
			}
			if viper.GetBool("json") {
				if err := printJSON(res); err != nil {
					return err
				}
			} else {
				printValidation(res)
			}
			return res.Check()
		},
	}
	cmd.Flags().StringVar(&templateID, "template-id", "", "validate a stored library template")
	cmd.Flags().StringToStringVar(&vars, "var", nil, "template variable (key=value, repeatable)")
	return cmd
}

func deployCmd() *cobra.Command {
	var (
		file, templateID string
		vars             map[string]string
		cust             domain.ProjectCustomizations
	)
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy a kick-off template into Odoo",
		Long: `Creates the project, phase stages, department tasks with subtasks and tags,
and milestones in one run. Progress is recorded under a deployment id;
inspect it with 'kickoff deployment status|logs|errors'.
The Odoo password is read from KICKOFF_ODOO_PASSWORD.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (file == "") == (templateID == "") {
				return errors.New("pass exactly one of --file and --template-id")
			}
			req := app.Request{
				TemplateID:     templateID,
				Variables:      vars,
				Customizations: cust,
				ActorID:        viper.GetString("actor-id"),
			}
			if file != "" {
				kt, err := loadKickoffFile(file, vars)
				if err != nil {
					return err
				}
				req.Template = &kt
			}
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				req.Odoo = env.OdooConfig(odooOverride())
				dep, err := env.Runner.Run(ctx, req)
				var invalid *validation.InvalidTemplateError
				if errors.As(err, &invalid) {
					printValidation(invalid.Result)
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(dep)
				}
				printDeployment(dep)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "kick-off template file (YAML or JSON)")
	cmd.Flags().StringVar(&templateID, "template-id", "", "stored library template")
	cmd.Flags().StringToStringVar(&vars, "var", nil, "template variable (key=value, repeatable)")
	cmd.Flags().StringVar(&cust.ProjectName, "project-name", "", "project name (default: '<company> Kurulum Projesi')")
	cmd.Flags().StringVar(&cust.CompanyName, "company", "", "customer company name")
	cmd.Flags().StringVar(&cust.StartDate, "start-date", "", "project start date (YYYY-MM-DD, default today)")
	cmd.Flags().Int64Var(&cust.CompanyPartnerID, "partner-id", 0, "customer partner id")
	return cmd
}

func deploymentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deployment",
		Short: "Inspect and roll back deployments",
	}
	cmd.AddCommand(deploymentListCmd(), deploymentStatusCmd(), deploymentLogsCmd(), deploymentErrorsCmd(), deploymentRollbackCmd())
	return cmd
}

func deploymentListCmd() *cobra.Command {
	var f repo.DeploymentFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List deployments, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				items, err := env.Repo.ListDeployments(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Status", "Progress", "Target", "Template", "Created"})
				for _, d := range items {
					tw.AppendRow(table.Row{d.ID, d.Status, fmt.Sprintf("%d%%", d.Progress), d.Target, d.TemplateID, d.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.TemplateID, "template-id", "", "template filter")
	cmd.Flags().IntVar(&f.Limit, "n", 20, "number of deployments")
	return cmd
}

func deploymentStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <deployment-id>",
		Short: "Show one deployment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				dep, err := env.Monitor.GetDeploymentStatus(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(dep)
				}
				printDeployment(dep)
				return nil
			})
		},
	}
}

func deploymentLogsCmd() *cobra.Command {
	var q monitor.LogQuery
	cmd := &cobra.Command{
		Use:   "logs <deployment-id>",
		Short: "Show deployment logs in order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				logs, err := env.Monitor.GetDeploymentLogs(ctx, args[0], q)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(logs)
				}
				for _, l := range logs {
					fmt.Printf("%s  %-5s  %s\n", l.TS, strings.ToUpper(l.Level), l.Message)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&q.Limit, "n", 200, "number of entries")
	cmd.Flags().StringVar(&q.Level, "level", "", "minimum level (debug, info, warn, error)")
	return cmd
}

func deploymentErrorsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "errors <deployment-id>",
		Short: "Summarize what went wrong in a deployment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				sum, err := env.Monitor.GetErrorSummary(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(sum)
				}
				fmt.Printf("Deployment %s: %s (%d errors, %d warnings)\n", sum.DeploymentID, sum.Status, sum.ErrorCount, sum.WarningCount)
				if sum.Fatal != "" {
					fmt.Println("Fatal:", sum.Fatal)
				}
				for _, e := range sum.Errors {
					fmt.Println("  ERROR", e)
				}
				for _, w := range sum.Warnings {
					fmt.Println("  WARN ", w)
				}
				return nil
			})
		},
	}
}

func deploymentRollbackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rollback <deployment-id>",
		Short: "Delete the Odoo records a deployment created",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				dep, err := env.Runner.Rollback(ctx, args[0], env.OdooConfig(odooOverride()), viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(dep)
				}
				printDeployment(dep)
				return nil
			})
		},
	}
}

func loadKickoffFile(path string, vars map[string]string) (domain.KickoffTemplate, error) {
	kt, raw, err := templates.LoadKickoff(path)
	if err != nil || len(vars) == 0 {
		return kt, err
	}
	return templates.RenderDocument(raw, vars)
}

func printValidation(res validation.Result) {
	if res.Valid {
		fmt.Println("template is valid")
	} else {
		fmt.Println("template is invalid")
	}
	for _, e := range res.Errors {
		fmt.Println("  ERROR", e)
	}
	for _, w := range res.Warnings {
		fmt.Println("  WARN ", w)
	}
}

func printDeployment(d domain.Deployment) {
	tw := newTable()
	tw.AppendRow(table.Row{"ID", d.ID})
	tw.AppendRow(table.Row{"Status", d.Status})
	tw.AppendRow(table.Row{"Progress", fmt.Sprintf("%d%% %s", d.Progress, d.Step)})
	tw.AppendRow(table.Row{"Target", d.Target})
	if d.TemplateID != "" {
		tw.AppendRow(table.Row{"Template", d.TemplateID})
	}
	if r := d.Result; r != nil {
		tw.AppendRow(table.Row{"Project", r.ProjectID})
		tw.AppendRow(table.Row{"Created", fmt.Sprintf("%d stages, %d tasks, %d subtasks, %d milestones",
			len(r.StageIDs), len(r.TaskIDs), len(r.SubtaskIDs), len(r.MilestoneIDs))})
		tw.AppendRow(table.Row{"Issues", fmt.Sprintf("%d errors, %d warnings", len(r.Errors), len(r.Warnings))})
	}
	if d.Error != "" {
		tw.AppendRow(table.Row{"Error", d.Error})
	}
	tw.Render()
}
