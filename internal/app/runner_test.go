package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"kickoff/internal/app"
	"kickoff/internal/db"
	"kickoff/internal/domain"
	"kickoff/internal/engine"
	"kickoff/internal/migrate"
	"kickoff/internal/monitor"
	"kickoff/internal/odoo"
	"kickoff/internal/odoo/odootest"
	"kickoff/internal/repo"
	"kickoff/internal/templates"
	"kickoff/internal/validation"
)

var target = odoo.Config{URL: "https://erp.example.com", Database: "acme", Username: "admin", Password: "pw"}

type testEnv struct {
	Runner *app.Runner
	Fake   *odootest.Client
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	require.NoError(t, migrate.Migrate(ctx, conn))

	r := repo.Repo{DB: conn}
	clock := func() time.Time { return time.Date(2025, 11, 17, 0, 0, 0, 0, time.UTC) }
	fake := odootest.New(1)
	runner := &app.Runner{
		Engine:    engine.New(zap.NewNop(), engine.WithClock(clock)),
		Monitor:   monitor.New(r, zap.NewNop()),
		Templates: templates.New(r, zap.NewNop()),
		Dial: func(context.Context, odoo.Config) (odoo.Client, error) {
			return fake, nil
		},
		Timeout: time.Minute,
	}
	return testEnv{Runner: runner, Fake: fake, Ctx: ctx}
}

func kickoff() *domain.KickoffTemplate {
	return &domain.KickoffTemplate{
		Modules: []domain.Module{{Name: "Project", TechnicalName: "project"}},
		Departments: []domain.Department{{
			Name: "Finans",
			Tasks: []domain.TaskTemplate{
				{Title: "F0-01: Hesap planı", Type: "setup", Priority: "high", DueDays: 3, Subtasks: []domain.Subtask{{Title: "İçe aktar"}}},
				{Title: "F9-01: Bilinmeyen", Type: "setup", Priority: "low", DueDays: 1},
			},
		}},
		ProjectTimeline: domain.ProjectTimeline{
			Phases:     []domain.Phase{{Name: "Analiz", Sequence: 1}, {Name: "Kurulum", Sequence: 2}},
			Milestones: []domain.Milestone{{Name: "Go-live"}},
		},
	}
}

func TestRunCompletesAndRecordsLogs(t *testing.T) {
	env := newTestEnv(t)

	dep, err := env.Runner.Run(env.Ctx, app.Request{Template: kickoff(), Odoo: target, ActorID: "ayse"})
	require.NoError(t, err)
	assert.Equal(t, monitor.StatusCompleted, dep.Status)
	assert.Equal(t, "acme@https://erp.example.com", dep.Target)
	assert.Equal(t, 100, dep.Progress)
	require.NotNil(t, dep.Result)
	assert.Len(t, dep.Result.TaskIDs, 2)
	assert.Len(t, dep.Result.SubtaskIDs, 1)

	logs, err := env.Runner.Monitor.GetDeploymentLogs(env.Ctx, dep.ID, monitor.LogQuery{Level: "warn"})
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	assert.Equal(t, "Department 1, Task 2: title prefix 'F9' has no matching phase, first phase will be used", logs[0].Message)
}

func TestRunRejectsInvalidTemplateBeforeRemoteCalls(t *testing.T) {
	env := newTestEnv(t)
	tmpl := kickoff()
	tmpl.Modules = nil

	_, err := env.Runner.Run(env.Ctx, app.Request{Template: tmpl, Odoo: target})
	var invalid *validation.InvalidTemplateError
	require.ErrorAs(t, err, &invalid)
	assert.False(t, invalid.Result.Valid)
	assert.Empty(t, env.Fake.Calls())

	list, err := env.Runner.Monitor.Repo.ListDeployments(env.Ctx, repo.DeploymentFilters{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestRunFromStoredTemplateCountsUsage(t *testing.T) {
	env := newTestEnv(t)
	content, err := json.Marshal(kickoff())
	require.NoError(t, err)
	tpl, err := env.Runner.Templates.Create(env.Ctx, templates.CreateOptions{Name: "Std", Type: templates.TypeKickoff, Content: content})
	require.NoError(t, err)

	dep, err := env.Runner.Run(env.Ctx, app.Request{TemplateID: tpl.ID, Odoo: target, Customizations: domain.ProjectCustomizations{CompanyName: "Acme"}})
	require.NoError(t, err)
	assert.Equal(t, tpl.ID, dep.TemplateID)

	stored, err := env.Runner.Templates.Get(env.Ctx, tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.UsageCount)
	assert.Equal(t, "Acme ERP Kurulum Projesi", env.Fake.Creates(odoo.ModelProject)[0]["name"])
}

func TestRunFailureAndManualRollback(t *testing.T) {
	env := newTestEnv(t)
	env.Fake.FailCreate = func(model string, _ odoo.Values) error {
		if model == odoo.ModelStage {
			return errors.New("stage constraint")
		}
		return nil
	}

	dep, err := env.Runner.Run(env.Ctx, app.Request{Template: kickoff(), Odoo: target, ActorID: "ayse"})
	require.NoError(t, err)
	assert.Equal(t, monitor.StatusFailed, dep.Status)
	assert.Contains(t, dep.Error, "stage constraint")
	require.NotNil(t, dep.Result)
	assert.Equal(t, 1, env.Fake.Count(odoo.ModelProject))

	rolled, err := env.Runner.Rollback(env.Ctx, dep.ID, target, "ayse")
	require.NoError(t, err)
	assert.Equal(t, monitor.StatusRolledBack, rolled.Status)
	assert.Equal(t, 0, env.Fake.Count(odoo.ModelProject))

	_, err = env.Runner.Rollback(env.Ctx, dep.ID, target, "ayse")
	assert.ErrorIs(t, err, monitor.ErrInvalidTransition)
}

func TestRunAutomaticRollback(t *testing.T) {
	env := newTestEnv(t)
	env.Runner.RollbackOnFailure = true
	env.Fake.FailCreate = func(model string, values odoo.Values) error {
		if model == odoo.ModelStage && values["name"] == "Kurulum" {
			return errors.New("boom")
		}
		return nil
	}

	dep, err := env.Runner.Run(env.Ctx, app.Request{Template: kickoff(), Odoo: target})
	require.NoError(t, err)
	assert.Equal(t, monitor.StatusRolledBack, dep.Status)
	assert.Equal(t, 0, env.Fake.Count(odoo.ModelProject))
	assert.Equal(t, 0, env.Fake.Count(odoo.ModelStage))
}

func TestStartRunsInBackground(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(env.Ctx)

	dep, err := env.Runner.Start(ctx, app.Request{Template: kickoff(), Odoo: target})
	require.NoError(t, err)
	assert.Equal(t, monitor.StatusPending, dep.Status)
	cancel()
	env.Runner.Wait()

	done, err := env.Runner.Monitor.GetDeploymentStatus(env.Ctx, dep.ID)
	require.NoError(t, err)
	assert.Equal(t, monitor.StatusCompleted, done.Status)
}

func TestRollbackRemovesInReverseOrder(t *testing.T) {
	fake := odootest.New(1)
	res := domain.NewDeploymentResult()
	res.ProjectID = 1
	res.StageIDs = []int64{2}
	res.TaskIDs = []int64{3}
	res.SubtaskIDs = []int64{4}
	res.MilestoneIDs = []int64{5}
	for _, m := range []string{odoo.ModelProject, odoo.ModelStage, odoo.ModelTask, odoo.ModelTask, odoo.ModelMilestone} {
		_, err := fake.Create(context.Background(), m, odoo.Values{"name": m})
		require.NoError(t, err)
	}

	removed, err := app.RemoveCreated(context.Background(), fake, res)
	require.NoError(t, err)
	assert.Equal(t, 5, removed)

	var order []string
	for _, c := range fake.Calls() {
		if c.Method == "unlink" {
			order = append(order, c.Model)
		}
	}
	assert.Equal(t, []string{odoo.ModelMilestone, odoo.ModelTask, odoo.ModelTask, odoo.ModelStage, odoo.ModelProject}, order)
}

func TestRequestNeedsExactlyOneTemplate(t *testing.T) {
	env := newTestEnv(t)
	_, _, err := env.Runner.Prepare(env.Ctx, app.Request{})
	assert.Error(t, err)
	_, _, err = env.Runner.Prepare(env.Ctx, app.Request{TemplateID: "x", Template: kickoff()})
	assert.Error(t, err)
	_, err = env.Runner.Run(env.Ctx, app.Request{Template: kickoff(), Odoo: odoo.Config{URL: "http://x"}})
	assert.Error(t, err)
}
