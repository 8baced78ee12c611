package domain

import (
	"math"
	"strconv"
	"strings"
)

// KickoffTemplate describes what to provision in a new client implementation.
// The engine treats it as read-only input.
type KickoffTemplate struct {
	Modules           []Module        `json:"modules" yaml:"modules"`
	CustomFields      []CustomField   `json:"customFields,omitempty" yaml:"customFields,omitempty"`
	Workflows         []Workflow      `json:"workflows,omitempty" yaml:"workflows,omitempty"`
	Dashboards        []Dashboard     `json:"dashboards,omitempty" yaml:"dashboards,omitempty"`
	Departments       []Department    `json:"departments" yaml:"departments"`
	ProjectTimeline   ProjectTimeline `json:"project_timeline" yaml:"project_timeline"`
	DocumentTemplates []any           `json:"document_templates,omitempty" yaml:"document_templates,omitempty"`
}

type Module struct {
	Name          string `json:"name" yaml:"name"`
	TechnicalName string `json:"technical_name" yaml:"technical_name"`
	Category      string `json:"category,omitempty" yaml:"category,omitempty"`
	Priority      *Priority `json:"priority,omitempty" yaml:"priority,omitempty"`
	Phase         any       `json:"phase,omitempty" yaml:"phase,omitempty"`
}

// Priority is a module priority. Hand-written and generated templates carry
// it as an integer, a fraction or a quoted number; anything else decodes to 0
// so validation reports it as out of range instead of rejecting the document.
type Priority float64

func (p *Priority) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		return nil
	}
	if unq, err := strconv.Unquote(s); err == nil {
		s = strings.TrimSpace(unq)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		v = 0
	}
	*p = Priority(v)
	return nil
}

// InRange reports whether p lies in [1, 10].
func (p Priority) InRange() bool { return p >= 1 && p <= 10 }

type CustomField struct {
	Model     string              `json:"model" yaml:"model"`
	FieldName string              `json:"field_name" yaml:"field_name"`
	FieldType string              `json:"field_type" yaml:"field_type"`
	Label     string              `json:"label" yaml:"label"`
	Options   *CustomFieldOptions `json:"options,omitempty" yaml:"options,omitempty"`
}

// CustomFieldOptions keeps selection entries loosely typed so malformed
// entries survive decoding and can be reported by validation.
type CustomFieldOptions struct {
	Selection []any  `json:"selection,omitempty" yaml:"selection,omitempty"`
	Required  bool   `json:"required,omitempty" yaml:"required,omitempty"`
	Relation  string `json:"relation,omitempty" yaml:"relation,omitempty"`
}

type Workflow struct {
	Name        string       `json:"name" yaml:"name"`
	Model       string       `json:"model" yaml:"model"`
	States      []State      `json:"states" yaml:"states"`
	Transitions []Transition `json:"transitions" yaml:"transitions"`
}

type State struct {
	Name  string `json:"name" yaml:"name"`
	Label string `json:"label" yaml:"label"`
}

type Transition struct {
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`
}

type Dashboard struct {
	Name       string               `json:"name" yaml:"name"`
	ViewType   string               `json:"view_type" yaml:"view_type"`
	Components []DashboardComponent `json:"components" yaml:"components"`
}

type DashboardComponent struct {
	Type   string   `json:"type" yaml:"type"`
	Model  string   `json:"model" yaml:"model"`
	Fields []string `json:"fields" yaml:"fields"`
}

type Department struct {
	Name          string         `json:"name" yaml:"name"`
	TechnicalName string         `json:"technical_name" yaml:"technical_name"`
	Description   string         `json:"description,omitempty" yaml:"description,omitempty"`
	Tasks         []TaskTemplate `json:"tasks" yaml:"tasks"`
}

type ProjectTimeline struct {
	Phases     []Phase     `json:"phases" yaml:"phases"`
	Milestones []Milestone `json:"milestones,omitempty" yaml:"milestones,omitempty"`
}

type Phase struct {
	Name          string `json:"name" yaml:"name"`
	Description   string `json:"description,omitempty" yaml:"description,omitempty"`
	Sequence      int    `json:"sequence" yaml:"sequence"`
	DurationWeeks int    `json:"duration_weeks,omitempty" yaml:"duration_weeks,omitempty"`
}

type Milestone struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Deadline    string `json:"deadline,omitempty" yaml:"deadline,omitempty"`
	Phase       string `json:"phase,omitempty" yaml:"phase,omitempty"`
}

type TaskTemplate struct {
	Title                   string        `json:"title" yaml:"title"`
	Description             string        `json:"description,omitempty" yaml:"description,omitempty"`
	Type                    string        `json:"type" yaml:"type"`
	Priority                string        `json:"priority" yaml:"priority" enum:"low,medium,high,critical"`
	DueDays                 int           `json:"due_days" yaml:"due_days"`
	EstimatedHours          float64       `json:"estimated_hours,omitempty" yaml:"estimated_hours,omitempty"`
	RequiredDocuments       []RequiredDoc `json:"required_documents,omitempty" yaml:"required_documents,omitempty"`
	RequiresApproval        bool          `json:"requires_approval" yaml:"requires_approval"`
	DependsOn               []string      `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	CollaboratorDepartments []string      `json:"collaborator_departments,omitempty" yaml:"collaborator_departments,omitempty"`
	Phase                   string        `json:"phase,omitempty" yaml:"phase,omitempty"`
	Subtasks                []Subtask     `json:"subtasks,omitempty" yaml:"subtasks,omitempty"`
}

type RequiredDoc struct {
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Required    bool     `json:"required,omitempty" yaml:"required,omitempty"`
	Formats     []string `json:"formats,omitempty" yaml:"formats,omitempty"`
}

type Subtask struct {
	Title          string  `json:"title" yaml:"title"`
	Description    string  `json:"description,omitempty" yaml:"description,omitempty"`
	EstimatedHours float64 `json:"estimated_hours,omitempty" yaml:"estimated_hours,omitempty"`
	Priority       string  `json:"priority,omitempty" yaml:"priority,omitempty"`
}

// ProjectCustomizations are caller-supplied overrides for one deployment.
type ProjectCustomizations struct {
	ProjectName      string `json:"projectName,omitempty" yaml:"projectName,omitempty"`
	CompanyName      string `json:"companyName,omitempty" yaml:"companyName,omitempty"`
	StartDate        string `json:"startDate,omitempty" yaml:"startDate,omitempty"`
	CompanyPartnerID int64  `json:"companyPartnerId,omitempty" yaml:"companyPartnerId,omitempty"`
}

// DeploymentResult accumulates remote ids in creation order together with
// human-readable errors and warnings. It is never mutated after Deploy returns.
type DeploymentResult struct {
	ProjectID    int64    `json:"projectId"`
	StageIDs     []int64  `json:"stageIds"`
	TaskIDs      []int64  `json:"taskIds"`
	SubtaskIDs   []int64  `json:"subtaskIds"`
	MilestoneIDs []int64  `json:"milestoneIds"`
	Errors       []string `json:"errors"`
	Warnings     []string `json:"warnings"`
}

// NewDeploymentResult returns a result with empty, non-nil lists.
func NewDeploymentResult() *DeploymentResult {
	return &DeploymentResult{
		StageIDs:     []int64{},
		TaskIDs:      []int64{},
		SubtaskIDs:   []int64{},
		MilestoneIDs: []int64{},
		Errors:       []string{},
		Warnings:     []string{},
	}
}
