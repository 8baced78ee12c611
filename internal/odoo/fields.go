package odoo

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// DateLayout is the date format Odoo expects for date fields.
const DateLayout = "2006-01-02"

// Fields is a typed payload for one remote model. Values validates the
// payload so malformed records fail before any network call.
type Fields interface {
	Model() string
	Values() (Values, error)
}

// CreateRecord validates f and creates it on c.
func CreateRecord(ctx context.Context, c Client, f Fields) (int64, error) {
	values, err := f.Values()
	if err != nil {
		return 0, err
	}
	return c.Create(ctx, f.Model(), values)
}

func invalid(model, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidFields, model, fmt.Sprintf(format, args...))
}

func checkDate(model, field, value string) error {
	if value == "" {
		return nil
	}
	if _, err := time.Parse(DateLayout, value); err != nil {
		return invalid(model, "%s must be YYYY-MM-DD, got %q", field, value)
	}
	return nil
}

// ProjectFields describes a project.project record.
type ProjectFields struct {
	Name                  string
	PartnerID             int64
	DateStart             string
	PrivacyVisibility     string
	AllowSubtasks         bool
	AllowMilestones       bool
	AllowTaskDependencies bool
}

func (ProjectFields) Model() string { return ModelProject }

func (f ProjectFields) Values() (Values, error) {
	if strings.TrimSpace(f.Name) == "" {
		return nil, invalid(ModelProject, "name is required")
	}
	if err := checkDate(ModelProject, "date_start", f.DateStart); err != nil {
		return nil, err
	}
	v := Values{
		"name":                    f.Name,
		"allow_subtasks":          f.AllowSubtasks,
		"allow_milestones":        f.AllowMilestones,
		"allow_task_dependencies": f.AllowTaskDependencies,
	}
	if f.PrivacyVisibility != "" {
		v["privacy_visibility"] = f.PrivacyVisibility
	}
	if f.PartnerID > 0 {
		v["partner_id"] = f.PartnerID
	}
	if f.DateStart != "" {
		v["date_start"] = f.DateStart
	}
	return v, nil
}

// StageFields describes a project.task.type record linked to one project.
type StageFields struct {
	Name      string
	ProjectID int64
	Sequence  int
	Fold      bool
}

func (StageFields) Model() string { return ModelStage }

func (f StageFields) Values() (Values, error) {
	if strings.TrimSpace(f.Name) == "" {
		return nil, invalid(ModelStage, "name is required")
	}
	if f.ProjectID <= 0 {
		return nil, invalid(ModelStage, "project id is required")
	}
	return Values{
		"name":        f.Name,
		"sequence":    f.Sequence,
		"fold":        f.Fold,
		"project_ids": ReplaceWith([]int64{f.ProjectID}),
	}, nil
}

var validPriorities = map[string]bool{"0": true, "1": true, "2": true, "3": true}

// TaskFields describes a project.task record. A non-zero ParentID makes it a subtask.
type TaskFields struct {
	Name         string
	Description  string
	ProjectID    int64
	StageID      int64
	ParentID     int64
	PlannedHours float64
	Deadline     string
	Priority     string
	TagIDs       []int64
}

func (TaskFields) Model() string { return ModelTask }

func (f TaskFields) Values() (Values, error) {
	if strings.TrimSpace(f.Name) == "" {
		return nil, invalid(ModelTask, "name is required")
	}
	if f.ProjectID <= 0 {
		return nil, invalid(ModelTask, "project id is required")
	}
	if f.Priority != "" && !validPriorities[f.Priority] {
		return nil, invalid(ModelTask, "priority %q out of range", f.Priority)
	}
	if err := checkDate(ModelTask, "date_deadline", f.Deadline); err != nil {
		return nil, err
	}
	v := Values{
		"name":          f.Name,
		"project_id":    f.ProjectID,
		"planned_hours": f.PlannedHours,
	}
	if f.Description != "" {
		v["description"] = f.Description
	}
	if f.StageID > 0 {
		v["stage_id"] = f.StageID
	}
	if f.ParentID > 0 {
		v["parent_id"] = f.ParentID
	}
	if f.Deadline != "" {
		v["date_deadline"] = f.Deadline
	}
	if f.Priority != "" {
		v["priority"] = f.Priority
	}
	if len(f.TagIDs) > 0 {
		v["tag_ids"] = ReplaceWith(f.TagIDs)
	}
	return v, nil
}

// MilestoneFields describes a project.milestone record.
type MilestoneFields struct {
	Name        string
	ProjectID   int64
	Deadline    string
	IsReached   bool
	Description string
}

func (MilestoneFields) Model() string { return ModelMilestone }

func (f MilestoneFields) Values() (Values, error) {
	if strings.TrimSpace(f.Name) == "" {
		return nil, invalid(ModelMilestone, "name is required")
	}
	if f.ProjectID <= 0 {
		return nil, invalid(ModelMilestone, "project id is required")
	}
	if err := checkDate(ModelMilestone, "deadline", f.Deadline); err != nil {
		return nil, err
	}
	v := Values{
		"name":       f.Name,
		"project_id": f.ProjectID,
		"is_reached": f.IsReached,
	}
	if f.Deadline != "" {
		v["deadline"] = f.Deadline
	}
	if f.Description != "" {
		v["description"] = f.Description
	}
	return v, nil
}

// TagFields describes a project.tags record.
type TagFields struct {
	Name string
}

func (TagFields) Model() string { return ModelTag }

func (f TagFields) Values() (Values, error) {
	if strings.TrimSpace(f.Name) == "" {
		return nil, invalid(ModelTag, "name is required")
	}
	return Values{"name": f.Name}, nil
}
