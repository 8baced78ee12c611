package engine_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kickoff/internal/domain"
	"kickoff/internal/engine"
)

func TestPriorityCode(t *testing.T) {
	cases := map[string]string{
		"critical": "3",
		"high":     "2",
		"medium":   "1",
		"low":      "0",
		"urgent":   "1",
		"":         "1",
	}
	for in, want := range cases {
		assert.Equal(t, want, engine.PriorityCode(in), in)
	}
}

func TestDeterminePhase(t *testing.T) {
	timeline := domain.ProjectTimeline{Phases: []domain.Phase{{Name: "Analiz"}, {Name: "Kurulum"}}}

	assert.Equal(t, "Analiz", engine.DeterminePhase(domain.TaskTemplate{Title: "F0-05: Test Task"}, timeline))
	assert.Equal(t, "Kurulum", engine.DeterminePhase(domain.TaskTemplate{Title: "F1-02: Veri"}, timeline))
	assert.Equal(t, "Analiz", engine.DeterminePhase(domain.TaskTemplate{Title: "Serbest başlık"}, timeline))
	assert.Equal(t, "Analiz", engine.DeterminePhase(domain.TaskTemplate{Title: "F9-01: Yok"}, timeline))
	assert.Equal(t, "Destek", engine.DeterminePhase(domain.TaskTemplate{Title: "F1-01", Phase: "Destek"}, timeline))
	assert.Equal(t, engine.DefaultPhaseName, engine.DeterminePhase(domain.TaskTemplate{Title: "x"}, domain.ProjectTimeline{}))
}

func TestDeadline(t *testing.T) {
	start, err := engine.ParseDate("2025-11-17")
	require.NoError(t, err)
	assert.Equal(t, "2025-11-27", engine.Deadline(start, 10))
	assert.Equal(t, "2025-11-19", engine.Deadline(start, 2))
	assert.Equal(t, "2025-12-01", engine.Deadline(start, 14))

	rfc, err := engine.ParseDate("2025-11-17T23:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, time.November, rfc.Month())
	assert.Equal(t, "2025-11-18", engine.Deadline(rfc, 1))

	_, err = engine.ParseDate("yarın")
	assert.Error(t, err)
}

func TestParseDateKeepsOffsetCalendarDate(t *testing.T) {
	start, err := engine.ParseDate("2026-01-05T00:00:00+03:00")
	require.NoError(t, err)
	assert.Equal(t, 5, start.Day())
	assert.Equal(t, "2026-01-05", engine.Deadline(start, 0))
	assert.Equal(t, "2026-01-04", start.UTC().Format("2006-01-02"))
}

func TestTaskDescription(t *testing.T) {
	task := domain.TaskTemplate{
		Description: "Hesap planını hazırla.",
		RequiredDocuments: []domain.RequiredDoc{
			{Name: "Mizan", Description: "Son dönem mizanı", Required: true, Formats: []string{"xlsx", "pdf"}},
			{Name: "Vergi levhası"},
		},
		CollaboratorDepartments: []string{"Muhasebe", "IT"},
		DependsOn:               []string{"F0-01", "F0-02"},
	}

	want := "Hesap planını hazırla.\n\n" +
		"**Gerekli Belgeler:**\n" +
		"- **Mizan**: Son dönem mizanı *(Zorunlu)* [Format: xlsx, pdf]\n" +
		"- **Vergi levhası**\n\n" +
		"**İşbirliği Yapılacak Departmanlar:** Muhasebe, IT\n\n" +
		"**Bağımlılıklar:**\n" +
		"- F0-01\n" +
		"- F0-02"
	assert.Equal(t, want, engine.TaskDescription(task))
	assert.Equal(t, "", engine.TaskDescription(domain.TaskTemplate{Description: "  "}))
	assert.Equal(t, "**Bağımlılıklar:**\n- x", engine.TaskDescription(domain.TaskTemplate{DependsOn: []string{"x"}}))
}

func TestProjectName(t *testing.T) {
	assert.Equal(t, "Company ERP Kurulum Projesi", engine.ProjectName(domain.ProjectCustomizations{}))
	assert.Equal(t, "Acme ERP Kurulum Projesi", engine.ProjectName(domain.ProjectCustomizations{CompanyName: "Acme"}))
	assert.Equal(t, "Özel", engine.ProjectName(domain.ProjectCustomizations{ProjectName: "Özel", CompanyName: "Acme"}))
}
