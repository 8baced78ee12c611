// Package app runs deployments end to end: template resolution, the
// validation gate, the engine, monitoring and rollback.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"kickoff/internal/domain"
	"kickoff/internal/engine"
	"kickoff/internal/monitor"
	"kickoff/internal/odoo"
	"kickoff/internal/templates"
	"kickoff/internal/validation"
)

// Dialer opens a remote client for one deployment run.
type Dialer func(ctx context.Context, cfg odoo.Config) (odoo.Client, error)

// DialXMLRPC is the production Dialer.
func DialXMLRPC(_ context.Context, cfg odoo.Config) (odoo.Client, error) {
	return odoo.Dial(cfg)
}

var ErrRollbackUnsupported = errors.New("remote client cannot delete records")

type Runner struct {
	Engine            engine.Engine
	Monitor           monitor.Service
	Templates         templates.Service
	Dial              Dialer
	Timeout           time.Duration
	RollbackOnFailure bool
	Logger            *zap.Logger

	wg sync.WaitGroup
}

// Request describes one deployment. Exactly one of TemplateID and Template is set.
type Request struct {
	TemplateID     string                       `json:"template_id,omitempty"`
	Template       *domain.KickoffTemplate      `json:"template,omitempty"`
	Variables      map[string]string            `json:"variables,omitempty"`
	Customizations domain.ProjectCustomizations `json:"customizations"`
	Odoo           odoo.Config                  `json:"odoo"`
	ActorID        string                       `json:"-"`
}

// Target names the remote database a request deploys into.
func Target(cfg odoo.Config) string {
	return cfg.Database + "@" + strings.TrimSuffix(cfg.URL, "/")
}

func (r *Runner) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

func (r *Runner) dial(ctx context.Context, cfg odoo.Config) (odoo.Client, error) {
	if r.Dial == nil {
		return DialXMLRPC(ctx, cfg)
	}
	return r.Dial(ctx, cfg)
}

// Prepare resolves and validates the template of req without touching the
// remote instance. Invalid templates yield *validation.InvalidTemplateError.
func (r *Runner) Prepare(ctx context.Context, req Request) (domain.KickoffTemplate, validation.Result, error) {
	var kt domain.KickoffTemplate
	switch {
	case req.TemplateID != "" && req.Template != nil:
		return kt, validation.Result{}, errors.New("set either template_id or template, not both")
	case req.TemplateID != "":
		_, rendered, err := r.Templates.RenderKickoff(ctx, req.TemplateID, req.Variables)
		if err != nil {
			return kt, validation.Result{}, err
		}
		kt = rendered
	case req.Template != nil:
		kt = *req.Template
	default:
		return kt, validation.Result{}, errors.New("template_id or template is required")
	}
	res := validation.ValidateKickoffTemplate(kt)
	return kt, res, res.Check()
}

func (r *Runner) begin(ctx context.Context, req Request) (domain.Deployment, domain.KickoffTemplate, validation.Result, error) {
	if err := req.Odoo.Validate(); err != nil {
		return domain.Deployment{}, domain.KickoffTemplate{}, validation.Result{}, err
	}
	kt, res, err := r.Prepare(ctx, req)
	if err != nil {
		return domain.Deployment{}, kt, res, err
	}
	dep, err := r.Monitor.Start(ctx, monitor.StartOptions{
		TemplateID: req.TemplateID,
		Target:     Target(req.Odoo),
		ActorID:    req.ActorID,
	})
	if err != nil {
		return domain.Deployment{}, kt, res, err
	}
	for _, w := range res.Warnings {
		if err := r.Monitor.RecordLog(ctx, dep.ID, monitor.LevelWarn, w); err != nil {
			return dep, kt, res, err
		}
	}
	return dep, kt, res, nil
}

// Run deploys synchronously and returns the finished deployment. A failed
// run is reported through the deployment status, not the error.
func (r *Runner) Run(ctx context.Context, req Request) (domain.Deployment, error) {
	dep, kt, _, err := r.begin(ctx, req)
	if err != nil {
		return dep, err
	}
	return r.execute(ctx, dep, kt, req)
}

// Start validates, records a pending deployment and runs it in the background.
func (r *Runner) Start(ctx context.Context, req Request) (domain.Deployment, error) {
	dep, kt, _, err := r.begin(ctx, req)
	if err != nil {
		return dep, err
	}
	bg := context.WithoutCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if _, err := r.execute(bg, dep, kt, req); err != nil {
			r.logger().Error("background deployment", zap.String("deployment_id", dep.ID), zap.Error(err))
		}
	}()
	return dep, nil
}

// Wait blocks until background deployments started by Start have finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) execute(ctx context.Context, dep domain.Deployment, kt domain.KickoffTemplate, req Request) (domain.Deployment, error) {
	log := r.logger().With(zap.String("deployment_id", dep.ID))
	store := context.WithoutCancel(ctx)

	client, err := r.dial(ctx, req.Odoo)
	if err != nil {
		return r.Monitor.Fail(store, dep.ID, fmt.Errorf("connect to odoo: %w", err), nil)
	}
	if c, ok := client.(io.Closer); ok {
		defer c.Close()
	}

	runCtx := ctx
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	eng := r.Engine.Observe(r.Monitor.Observer(store, dep.ID))
	result, runErr := eng.Deploy(runCtx, client, kt, req.Customizations)

	if req.TemplateID != "" {
		if err := r.Templates.RecordUsage(store, req.TemplateID); err != nil {
			log.Warn("record template usage", zap.Error(err))
		}
	}

	if runErr == nil {
		return r.Monitor.Complete(store, dep.ID, result)
	}
	log.Error("deployment failed", zap.Error(runErr))
	failed, err := r.Monitor.Fail(store, dep.ID, runErr, result)
	if err != nil || !r.RollbackOnFailure || result == nil || result.ProjectID == 0 {
		return failed, err
	}
	u, ok := client.(odoo.Unlinker)
	if !ok {
		log.Warn("automatic rollback skipped", zap.Error(ErrRollbackUnsupported))
		return failed, nil
	}
	removed, err := RemoveCreated(store, u, result)
	if err != nil {
		log.Error("automatic rollback", zap.Error(err))
		return failed, nil
	}
	return r.Monitor.MarkRolledBack(store, dep.ID, req.ActorID, removed)
}

// Rollback deletes the remote records of a finished deployment.
func (r *Runner) Rollback(ctx context.Context, id string, cfg odoo.Config, actorID string) (domain.Deployment, error) {
	dep, err := r.Monitor.GetDeploymentStatus(ctx, id)
	if err != nil {
		return domain.Deployment{}, err
	}
	switch dep.Status {
	case monitor.StatusCompleted, monitor.StatusCompletedWithErrors, monitor.StatusFailed:
	default:
		return dep, fmt.Errorf("%w: cannot roll back %s deployment", monitor.ErrInvalidTransition, dep.Status)
	}
	removed := 0
	if dep.Result != nil && dep.Result.ProjectID > 0 {
		client, err := r.dial(ctx, cfg)
		if err != nil {
			return dep, fmt.Errorf("connect to odoo: %w", err)
		}
		if c, ok := client.(io.Closer); ok {
			defer c.Close()
		}
		u, ok := client.(odoo.Unlinker)
		if !ok {
			return dep, ErrRollbackUnsupported
		}
		if removed, err = RemoveCreated(ctx, u, dep.Result); err != nil {
			return dep, err
		}
	}
	r.logger().Info("deployment rolled back", zap.String("deployment_id", id), zap.Int("removed", removed))
	return r.Monitor.MarkRolledBack(ctx, id, actorID, removed)
}

// RemoveCreated unlinks the records of res in reverse dependency order and
// returns how many were removed.
func RemoveCreated(ctx context.Context, u odoo.Unlinker, res *domain.DeploymentResult) (int, error) {
	steps := []struct {
		model string
		ids   []int64
	}{
		{odoo.ModelMilestone, res.MilestoneIDs},
		{odoo.ModelTask, res.SubtaskIDs},
		{odoo.ModelTask, res.TaskIDs},
		{odoo.ModelStage, res.StageIDs},
	}
	if res.ProjectID > 0 {
		steps = append(steps, struct {
			model string
			ids   []int64
		}{odoo.ModelProject, []int64{res.ProjectID}})
	}
	removed := 0
	for _, s := range steps {
		if len(s.ids) == 0 {
			continue
		}
		if err := u.Unlink(ctx, s.model, s.ids); err != nil {
			return removed, fmt.Errorf("rollback %s: %w", s.model, err)
		}
		removed += len(s.ids)
	}
	return removed, nil
}
