package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"kickoff/internal/domain"
	"kickoff/internal/odoo"
)

// Observer receives progress and log lines while a deployment runs.
type Observer interface {
	Progress(step string, percent int)
	Log(level, message string)
}

type nopObserver struct{}

func (nopObserver) Progress(string, int) {}
func (nopObserver) Log(string, string)   {}

// Engine turns a kick-off template into a live Odoo project. It keeps no
// state between Deploy calls.
type Engine struct {
	Logger   *zap.Logger
	Observer Observer
	Now      func() time.Time
}

type Option func(*Engine)

func WithObserver(o Observer) Option {
	return func(e *Engine) { e.Observer = o }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.Now = now }
}

func New(logger *zap.Logger, opts ...Option) Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := Engine{
		Logger:   logger.Named("engine"),
		Observer: nopObserver{},
		Now:      time.Now,
	}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

// Observe returns a copy of e reporting to o.
func (e Engine) Observe(o Observer) Engine {
	e.Observer = o
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) logger() *zap.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return zap.NewNop()
}

func (e Engine) observer() Observer {
	if e.Observer != nil {
		return e.Observer
	}
	return nopObserver{}
}

// run carries the per-deployment state.
type run struct {
	client    odoo.Client
	tmpl      domain.KickoffTemplate
	cust      domain.ProjectCustomizations
	start     time.Time
	hasStart  bool
	result    *domain.DeploymentResult
	stages    map[string]int64
	stageList []int64
	tags      *TagResolver
	log       *zap.Logger
	obs       Observer
}

func (r *run) warn(msg string) {
	r.result.Warnings = append(r.result.Warnings, msg)
	r.log.Warn(msg)
	r.obs.Log("warn", msg)
}

func (r *run) fail(msg string) {
	r.result.Errors = append(r.result.Errors, msg)
	r.log.Error(msg)
	r.obs.Log("error", msg)
}

func (r *run) info(msg string) {
	r.log.Info(msg)
	r.obs.Log("info", msg)
}

// Deploy creates the project, its stages, tasks, subtasks and milestones in
// that order. Only project and stage failures are returned as errors; the
// partial result is returned alongside so callers can roll it back. Every
// other failure is collected in the result and processing continues.
func (e Engine) Deploy(ctx context.Context, client odoo.Client, tmpl domain.KickoffTemplate, cust domain.ProjectCustomizations) (*domain.DeploymentResult, error) {
	r := &run{
		client: client,
		tmpl:   tmpl,
		cust:   cust,
		start:  e.now(),
		result: domain.NewDeploymentResult(),
		stages: map[string]int64{},
		log:    e.logger(),
		obs:    e.observer(),
	}
	r.tags = NewTagResolver(client, r.log)
	if cust.StartDate != "" {
		start, err := ParseDate(cust.StartDate)
		if err != nil {
			return r.result, fmt.Errorf("start date: %w", err)
		}
		r.start = start
		r.hasStart = true
	}

	r.obs.Progress("project", 5)
	if err := r.createProject(ctx); err != nil {
		r.fail(fmt.Sprintf("Failed to create project: %v", err))
		return r.result, fmt.Errorf("create project: %w", err)
	}

	r.obs.Progress("stages", 15)
	if err := r.createStages(ctx); err != nil {
		return r.result, err
	}

	if err := r.createTasks(ctx); err != nil {
		return r.result, err
	}

	if len(tmpl.ProjectTimeline.Milestones) > 0 {
		r.obs.Progress("milestones", 90)
		if err := r.createMilestones(ctx); err != nil {
			return r.result, err
		}
	}

	r.obs.Progress("done", 100)
	r.log.Info("deployment finished",
		zap.Int64("project_id", r.result.ProjectID),
		zap.Int("tasks", len(r.result.TaskIDs)),
		zap.Int("errors", len(r.result.Errors)),
		zap.Int("warnings", len(r.result.Warnings)))
	return r.result, nil
}

func (r *run) createProject(ctx context.Context) error {
	f := odoo.ProjectFields{
		Name:                  ProjectName(r.cust),
		PartnerID:             r.cust.CompanyPartnerID,
		PrivacyVisibility:     "portal",
		AllowSubtasks:         true,
		AllowMilestones:       true,
		AllowTaskDependencies: true,
	}
	if r.hasStart {
		f.DateStart = r.start.Format(odoo.DateLayout)
	}
	id, err := odoo.CreateRecord(ctx, r.client, f)
	if err != nil {
		return err
	}
	r.result.ProjectID = id
	r.info(fmt.Sprintf("Created project %q (id %d)", f.Name, id))
	return nil
}

func (r *run) createStages(ctx context.Context) error {
	for _, phase := range r.tmpl.ProjectTimeline.Phases {
		id, err := odoo.CreateRecord(ctx, r.client, odoo.StageFields{
			Name:      phase.Name,
			ProjectID: r.result.ProjectID,
			Sequence:  phase.Sequence,
		})
		if err != nil {
			r.fail(fmt.Sprintf("Failed to create stage %q: %v", phase.Name, err))
			return fmt.Errorf("create stage %q: %w", phase.Name, err)
		}
		r.result.StageIDs = append(r.result.StageIDs, id)
		r.stageList = append(r.stageList, id)
		if _, dup := r.stages[phase.Name]; !dup {
			r.stages[phase.Name] = id
		}
	}
	r.info(fmt.Sprintf("Created %d stages", len(r.result.StageIDs)))
	return nil
}

func (r *run) stageFor(task domain.TaskTemplate) (int64, bool) {
	phase := DeterminePhase(task, r.tmpl.ProjectTimeline)
	if id, ok := r.stages[phase]; ok {
		return id, true
	}
	r.warn(fmt.Sprintf("Task %q has unknown phase %q, using first stage", task.Title, phase))
	if len(r.stageList) == 0 {
		return 0, false
	}
	return r.stageList[0], true
}

func (r *run) createTasks(ctx context.Context) error {
	planned := flattenTasks(r.tmpl.Departments)
	for i, p := range planned {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("deployment interrupted: %w", err)
		}
		r.obs.Progress("tasks", 20+(i*70)/len(planned))
		task := p.task

		stageID, ok := r.stageFor(task)
		if !ok {
			r.fail(fmt.Sprintf("Cannot find stage for task %q", task.Title))
			continue
		}

		tagIDs, tagWarnings := r.tags.ResolveOrCreate(ctx, taskTagNames(p.department, task))
		for _, w := range tagWarnings {
			// Already logged by the resolver.
			r.result.Warnings = append(r.result.Warnings, w)
			r.obs.Log("warn", w)
		}

		id, err := odoo.CreateRecord(ctx, r.client, odoo.TaskFields{
			Name:         task.Title,
			Description:  TaskDescription(task),
			ProjectID:    r.result.ProjectID,
			StageID:      stageID,
			PlannedHours: task.EstimatedHours,
			Deadline:     Deadline(r.start, task.DueDays),
			Priority:     PriorityCode(task.Priority),
			TagIDs:       tagIDs,
		})
		if err != nil {
			r.fail(fmt.Sprintf("Failed to create task %q: %v", task.Title, err))
			continue
		}
		r.result.TaskIDs = append(r.result.TaskIDs, id)
		r.log.Debug("task created", zap.String("title", task.Title), zap.Int64("id", id), zap.Int64("stage_id", stageID))

		r.createSubtasks(ctx, id, task)
	}
	return nil
}

func (r *run) createSubtasks(ctx context.Context, parentID int64, parent domain.TaskTemplate) {
	for _, sub := range parent.Subtasks {
		f := odoo.TaskFields{
			Name:         sub.Title,
			Description:  sub.Description,
			ProjectID:    r.result.ProjectID,
			ParentID:     parentID,
			PlannedHours: sub.EstimatedHours,
		}
		if sub.Priority != "" {
			f.Priority = PriorityCode(sub.Priority)
		}
		id, err := odoo.CreateRecord(ctx, r.client, f)
		if err != nil {
			r.warn(fmt.Sprintf("Failed to create subtask %q of task %q: %v", sub.Title, parent.Title, err))
			continue
		}
		r.result.SubtaskIDs = append(r.result.SubtaskIDs, id)
	}
}

func (r *run) milestoneDeadline(m domain.Milestone) (string, error) {
	if m.Deadline != "" {
		t, err := ParseDate(m.Deadline)
		if err != nil {
			return "", err
		}
		return t.Format(odoo.DateLayout), nil
	}
	if r.hasStart {
		return Deadline(r.start, 30), nil
	}
	return r.start.Format(odoo.DateLayout), nil
}

func (r *run) createMilestones(ctx context.Context) error {
	for _, m := range r.tmpl.ProjectTimeline.Milestones {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("deployment interrupted: %w", err)
		}
		deadline, err := r.milestoneDeadline(m)
		if err != nil {
			r.fail(fmt.Sprintf("Failed to create milestone %q: %v", m.Name, err))
			continue
		}
		id, err := odoo.CreateRecord(ctx, r.client, odoo.MilestoneFields{
			Name:        m.Name,
			ProjectID:   r.result.ProjectID,
			Deadline:    deadline,
			Description: m.Description,
		})
		if err != nil {
			r.fail(fmt.Sprintf("Failed to create milestone %q: %v", m.Name, err))
			continue
		}
		r.result.MilestoneIDs = append(r.result.MilestoneIDs, id)
	}
	return nil
}
