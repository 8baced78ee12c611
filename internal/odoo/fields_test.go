package odoo_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kickoff/internal/odoo"
	"kickoff/internal/odoo/odootest"
)

func TestTaskFieldsRejectMalformedPayloads(t *testing.T) {
	cases := map[string]odoo.TaskFields{
		"missing name":    {ProjectID: 1},
		"missing project": {Name: "x"},
		"bad priority":    {Name: "x", ProjectID: 1, Priority: "9"},
		"bad deadline":    {Name: "x", ProjectID: 1, Deadline: "27/11/2025"},
	}
	for name, f := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.Values()
			require.Error(t, err)
			assert.True(t, errors.Is(err, odoo.ErrInvalidFields))
		})
	}
}

func TestTaskFieldsValues(t *testing.T) {
	v, err := odoo.TaskFields{
		Name:         "Kurulum",
		ProjectID:    7,
		StageID:      8,
		PlannedHours: 4,
		Deadline:     "2025-11-27",
		Priority:     "2",
		TagIDs:       []int64{3, 4},
	}.Values()
	require.NoError(t, err)
	assert.Equal(t, int64(7), v["project_id"])
	assert.Equal(t, int64(8), v["stage_id"])
	assert.Equal(t, "2025-11-27", v["date_deadline"])
	assert.Equal(t, []any{[]any{6, 0, []any{int64(3), int64(4)}}}, v["tag_ids"])
	assert.NotContains(t, v, "parent_id")
}

func TestStageFieldsLinkProject(t *testing.T) {
	v, err := odoo.StageFields{Name: "Analiz", ProjectID: 5, Sequence: 2}.Values()
	require.NoError(t, err)
	assert.Equal(t, false, v["fold"])
	assert.Equal(t, 2, v["sequence"])
	assert.Equal(t, odoo.ReplaceWith([]int64{5}), v["project_ids"])
}

func TestCreateRecordSkipsNetworkOnInvalidFields(t *testing.T) {
	fake := odootest.New(1)
	_, err := odoo.CreateRecord(context.Background(), fake, odoo.MilestoneFields{Name: "Go-live"})
	require.Error(t, err)
	assert.Empty(t, fake.Calls())
}

func TestIsModelMissing(t *testing.T) {
	fake := odootest.New(1)
	fake.MissingModels = map[string]bool{odoo.ModelTag: true}
	_, err := fake.Search(context.Background(), odoo.ModelTag, odoo.Domain{odoo.Eq("name", "x")})
	require.Error(t, err)
	assert.True(t, odoo.IsModelMissing(err))
	assert.False(t, odoo.IsModelMissing(errors.New("Object project.tags doesn't exist")))
}
