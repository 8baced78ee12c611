package repo_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kickoff/internal/db"
	"kickoff/internal/domain"
	"kickoff/internal/events"
	"kickoff/internal/migrate"
	"kickoff/internal/repo"
)

func newRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(context.Background(), conn))
	return repo.Repo{DB: conn}
}

func insertTemplate(t *testing.T, r repo.Repo, tmpl domain.Template) {
	t.Helper()
	ctx := context.Background()
	tx, err := r.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, r.InsertTemplateTx(ctx, tx, tmpl))
	require.NoError(t, tx.Commit())
}

func TestMigrateIsIdempotent(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	require.NoError(t, migrate.Migrate(ctx, r.DB))
	current, err := migrate.Current(ctx, r.DB)
	require.NoError(t, err)
	latest, err := migrate.Latest()
	require.NoError(t, err)
	assert.Equal(t, latest, current)
}

func TestTemplateRoundTripAndRating(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	insertTemplate(t, r, domain.Template{
		ID:        "tpl-1",
		Name:      "Üretim",
		Type:      "kickoff",
		Content:   json.RawMessage(`{"modules":[]}`),
		Variables: []domain.Variable{{Name: "company", Required: true}},
		Tags:      []string{"imalat"},
		IsPublic:  true,
		CreatedBy: "ayse",
		CreatedAt: "2025-01-01T00:00:00Z",
		UpdatedAt: "2025-01-01T00:00:00Z",
	})

	got, err := r.GetTemplate(ctx, "tpl-1")
	require.NoError(t, err)
	assert.Equal(t, "Üretim", got.Name)
	assert.True(t, got.IsPublic)
	assert.JSONEq(t, `{"modules":[]}`, string(got.Content))
	assert.Equal(t, []string{"imalat"}, got.Tags)
	require.Len(t, got.Variables, 1)
	assert.True(t, got.Variables[0].Required)

	for _, score := range []int{5, 4, 3} {
		tx, err := r.DB.BeginTx(ctx, nil)
		require.NoError(t, err)
		require.NoError(t, r.AddTemplateRatingTx(ctx, tx, "tpl-1", score, "2025-01-02T00:00:00Z"))
		require.NoError(t, tx.Commit())
	}
	require.NoError(t, r.IncrementTemplateUsage(ctx, "tpl-1", "2025-01-02T00:00:00Z"))

	got, err = r.GetTemplate(ctx, "tpl-1")
	require.NoError(t, err)
	assert.Equal(t, 3, got.RatingCount)
	assert.InDelta(t, 4.0, got.RatingAverage, 1e-9)
	assert.Equal(t, 1, got.UsageCount)

	_, err = r.GetTemplate(ctx, "missing")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestListTemplatesFiltersAndPaginates(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	for i, tt := range []struct{ id, typ, ts string }{
		{"a", "kickoff", "2025-01-01T00:00:00Z"},
		{"b", "module", "2025-01-02T00:00:00Z"},
		{"c", "kickoff", "2025-01-03T00:00:00Z"},
	} {
		insertTemplate(t, r, domain.Template{
			ID: tt.id, Name: "T" + tt.id, Type: tt.typ, Content: json.RawMessage(`{}`),
			IsPublic: i != 1, CreatedBy: "u", CreatedAt: tt.ts, UpdatedAt: tt.ts,
		})
	}

	kickoffs, err := r.ListTemplates(ctx, repo.TemplateFilters{Type: "kickoff"})
	require.NoError(t, err)
	require.Len(t, kickoffs, 2)
	assert.Equal(t, "c", kickoffs[0].ID)

	page, err := r.ListTemplates(ctx, repo.TemplateFilters{Limit: 1, CursorCreatedAt: kickoffs[0].CreatedAt, CursorID: "c"})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "b", page[0].ID)

	public, err := r.ListTemplates(ctx, repo.TemplateFilters{PublicOnly: true, Search: "Ta"})
	require.NoError(t, err)
	require.Len(t, public, 1)
	assert.Equal(t, "a", public[0].ID)
}

func TestDeploymentLifecycleAndLogs(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	tx, err := r.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, r.InsertDeploymentTx(ctx, tx, domain.Deployment{
		ID: "dep-1", Target: "https://erp.example.com/demo", Status: "pending", ActorID: "ayse",
		CreatedAt: "2025-01-01T00:00:00Z", UpdatedAt: "2025-01-01T00:00:00Z",
	}))
	require.NoError(t, tx.Commit())

	require.NoError(t, r.UpdateDeploymentProgress(ctx, "dep-1", "running", "tasks", 40, "2025-01-01T00:00:01Z"))
	require.NoError(t, r.UpdateDeploymentProgress(ctx, "dep-1", "running", "tasks", 30, "2025-01-01T00:00:02Z"))
	d, err := r.GetDeployment(ctx, "dep-1")
	require.NoError(t, err)
	assert.Equal(t, 40, d.Progress)
	assert.Nil(t, d.Result)

	for i, level := range []string{"info", "warn", "error", "info"} {
		_, err := r.InsertLog(ctx, domain.LogEntry{DeploymentID: "dep-1", TS: "2025-01-01T00:00:03Z", Level: level, Message: string(rune('a' + i))})
		require.NoError(t, err)
	}
	logs, err := r.ListLogs(ctx, repo.LogFilters{DeploymentID: "dep-1", Limit: 2})
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "c", logs[0].Message)
	assert.Equal(t, "d", logs[1].Message)

	problems, err := r.ListLogs(ctx, repo.LogFilters{DeploymentID: "dep-1", Levels: []string{"warn", "error"}})
	require.NoError(t, err)
	assert.Len(t, problems, 2)

	counts, err := r.CountLogs(ctx, "dep-1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"info": 2, "warn": 1, "error": 1}, counts)

	result := domain.NewDeploymentResult()
	result.ProjectID = 9
	finished := "2025-01-01T00:01:00Z"
	tx, err = r.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, r.FinishDeploymentTx(ctx, tx, "dep-1", "completed", result, "", &finished, finished))
	require.NoError(t, tx.Commit())

	d, err = r.GetDeployment(ctx, "dep-1")
	require.NoError(t, err)
	assert.Equal(t, "completed", d.Status)
	require.NotNil(t, d.Result)
	assert.Equal(t, int64(9), d.Result.ProjectID)
	require.NotNil(t, d.FinishedAt)

	list, err := r.ListDeployments(ctx, repo.DeploymentFilters{Status: "completed"})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestEventsWriterAndListing(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	w := events.Writer{DB: r.DB}
	require.NoError(t, w.Append(ctx, nil, events.TemplateCreated, "template", "tpl-1", "ayse", events.EventPayload{"name": "x"}))
	require.NoError(t, w.Append(ctx, nil, events.DeploymentStarted, "deployment", "dep-1", "", nil))

	latest, err := r.LatestEventID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), latest)

	evts, err := r.ListEvents(ctx, repo.EventFilters{EntityKind: "deployment"})
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.Equal(t, "system", evts[0].ActorID)

	after, err := r.EventsAfter(ctx, 10, 1)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, events.DeploymentStarted, after[0].Type)
}
