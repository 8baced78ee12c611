package templates_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"kickoff/internal/db"
	"kickoff/internal/domain"
	"kickoff/internal/migrate"
	"kickoff/internal/repo"
	"kickoff/internal/templates"
	"kickoff/internal/validation"
)

const kickoffJSON = `{
  "modules": [{"name": "Satış", "technical_name": "sale_management"}],
  "departments": [{"name": "{{ department }}", "tasks": [{"title": "F0-01: {{company}} kurulumu", "type": "setup", "priority": "high", "due_days": 3}]}],
  "project_timeline": {"phases": [{"name": "Analiz", "sequence": 1}]}
}`

func newService(t *testing.T) templates.Service {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(context.Background(), conn))
	s := templates.New(repo.Repo{DB: conn}, zap.NewNop())
	s.Now = func() time.Time { return time.Date(2025, 11, 17, 0, 0, 0, 0, time.UTC) }
	return s
}

func createKickoff(t *testing.T, s templates.Service) domain.Template {
	t.Helper()
	tmpl, err := s.Create(context.Background(), templates.CreateOptions{
		Name:    "Standart kurulum",
		Type:    templates.TypeKickoff,
		Content: json.RawMessage(kickoffJSON),
		Variables: []domain.Variable{
			{Name: "company", Required: true},
			{Name: "department", Default: "Finans"},
		},
		ActorID: "ayse",
	})
	require.NoError(t, err)
	return tmpl
}

func TestInterpolate(t *testing.T) {
	out := templates.Interpolate("Merhaba {{name}}, {{ company }} için {{unknown}}", map[string]string{
		"name":    "Ayşe",
		"company": "Acme",
	})
	assert.Equal(t, "Merhaba Ayşe, Acme için {{unknown}}", out)
	assert.Equal(t, []string{"a", "b"}, templates.Placeholders("{{b}} {{ a }} {{b}}"))
}

func TestResolveVariables(t *testing.T) {
	declared := []domain.Variable{{Name: "a", Required: true}, {Name: "b", Default: "x"}, {Name: "c", Required: true}}
	_, err := templates.ResolveVariables(declared, map[string]string{"b": "y"})
	require.ErrorIs(t, err, templates.ErrMissingVariable)
	assert.Contains(t, err.Error(), "a, c")

	vars, err := templates.ResolveVariables(declared, map[string]string{"a": "1", "c": "3"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "b": "x", "c": "3"}, vars)
}

func TestCreateRejectsInvalidKickoff(t *testing.T) {
	s := newService(t)
	_, err := s.Create(context.Background(), templates.CreateOptions{
		Name:    "Boş",
		Type:    templates.TypeKickoff,
		Content: json.RawMessage(`{"modules": [], "departments": []}`),
	})
	var invalid *validation.InvalidTemplateError
	require.ErrorAs(t, err, &invalid)
	assert.Contains(t, invalid.Result.Errors, "Template must have at least one module")

	_, err = s.Create(context.Background(), templates.CreateOptions{Name: "x", Type: "spreadsheet", Content: json.RawMessage(`{}`)})
	assert.ErrorIs(t, err, templates.ErrInvalidType)

	_, err = s.Create(context.Background(), templates.CreateOptions{Name: "Rapor", Type: templates.TypeReport, Content: json.RawMessage(`{"columns":["a"]}`)})
	assert.NoError(t, err)
}

func TestRenderKickoffEscapesValues(t *testing.T) {
	s := newService(t)
	tmpl := createKickoff(t, s)

	_, _, err := s.RenderKickoff(context.Background(), tmpl.ID, nil)
	require.ErrorIs(t, err, templates.ErrMissingVariable)

	_, kt, err := s.RenderKickoff(context.Background(), tmpl.ID, map[string]string{"company": `Acme "TR"`})
	require.NoError(t, err)
	assert.Equal(t, "Finans", kt.Departments[0].Name)
	assert.Equal(t, `F0-01: Acme "TR" kurulumu`, kt.Departments[0].Tasks[0].Title)
}

func TestUpdateDeleteUsageAndRating(t *testing.T) {
	s := newService(t)
	ctx := context.Background()
	tmpl := createKickoff(t, s)

	name := "Yeni ad"
	public := true
	updated, err := s.Update(ctx, templates.UpdateOptions{ID: tmpl.ID, Name: &name, IsPublic: &public, ActorID: "ayse"})
	require.NoError(t, err)
	assert.Equal(t, "Yeni ad", updated.Name)
	assert.True(t, updated.IsPublic)

	_, err = s.Update(ctx, templates.UpdateOptions{ID: tmpl.ID, Content: json.RawMessage(`{"modules":[]}`)})
	var invalid *validation.InvalidTemplateError
	assert.ErrorAs(t, err, &invalid)

	require.NoError(t, s.RecordUsage(ctx, tmpl.ID))
	_, err = s.Rate(ctx, tmpl.ID, "ayse", 6)
	assert.ErrorIs(t, err, templates.ErrInvalidRating)
	_, err = s.Rate(ctx, tmpl.ID, "ayse", 5)
	require.NoError(t, err)
	rated, err := s.Rate(ctx, tmpl.ID, "mehmet", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, rated.RatingCount)
	assert.InDelta(t, 3.5, rated.RatingAverage, 1e-9)
	assert.Equal(t, 1, rated.UsageCount)

	require.NoError(t, s.Delete(ctx, tmpl.ID, "ayse"))
	_, err = s.Get(ctx, tmpl.ID)
	assert.ErrorIs(t, err, repo.ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, tmpl.ID, "ayse"), repo.ErrNotFound)
}

func TestLoadDefinitionFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "imalat.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: İmalat kurulumu
tags: [imalat]
variables:
  - name: company
    default: Acme
content:
  modules:
    - name: MRP
      technical_name: mrp
  departments:
    - name: Üretim
      tasks:
        - title: "{{company}} rota tanımları"
          type: setup
          priority: medium
          due_days: 7
  project_timeline:
    phases:
      - name: Analiz
        sequence: 1
`), 0o644))

	def, err := templates.LoadDefinition(path)
	require.NoError(t, err)
	assert.Equal(t, templates.TypeKickoff, def.Type)

	opts, err := def.CreateOptions("ayse")
	require.NoError(t, err)
	s := newService(t)
	tmpl, err := s.Create(context.Background(), opts)
	require.NoError(t, err)

	_, kt, err := s.RenderKickoff(context.Background(), tmpl.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, "Acme rota tanımları", kt.Departments[0].Tasks[0].Title)
	assert.Equal(t, 7, kt.Departments[0].Tasks[0].DueDays)
}

func TestLoadKickoffYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kickoff.yaml")
	require.NoError(t, os.WriteFile(path, []byte("modules:\n  - name: CRM\n    technical_name: crm\n    priority: 2\n"), 0o644))

	kt, raw, err := templates.LoadKickoff(path)
	require.NoError(t, err)
	require.Len(t, kt.Modules, 1)
	require.NotNil(t, kt.Modules[0].Priority)
	assert.Equal(t, domain.Priority(2), *kt.Modules[0].Priority)
	assert.True(t, json.Valid(raw))
}

func TestRenderDocument(t *testing.T) {
	kt, err := templates.RenderDocument(json.RawMessage(kickoffJSON), map[string]string{
		"department": "Üretim",
		"company":    `Acme "B"`,
	})
	require.NoError(t, err)
	require.Len(t, kt.Departments, 1)
	assert.Equal(t, "Üretim", kt.Departments[0].Name)
	assert.Equal(t, `F0-01: Acme "B" kurulumu`, kt.Departments[0].Tasks[0].Title)

	_, err = templates.RenderDocument(json.RawMessage(`{"modules": [`), nil)
	assert.Error(t, err)
}
