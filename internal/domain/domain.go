package domain

import "encoding/json"

// Template is a stored entry of the configuration template library.
type Template struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Description   string          `json:"description,omitempty"`
	Type          string          `json:"type" enum:"kickoff,module,custom_field,workflow,dashboard,report"`
	Category      string          `json:"category,omitempty"`
	Content       json.RawMessage `json:"content"`
	Variables     []Variable      `json:"variables,omitempty"`
	Tags          []string        `json:"tags,omitempty"`
	IsPublic      bool            `json:"is_public"`
	UsageCount    int             `json:"usage_count"`
	RatingCount   int             `json:"rating_count"`
	RatingAverage float64         `json:"rating_average"`
	CreatedBy     string          `json:"created_by"`
	CreatedAt     string          `json:"created_at" format:"date-time"`
	UpdatedAt     string          `json:"updated_at" format:"date-time"`
}

// Variable declares a {{name}} placeholder used by a template.
type Variable struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Default     string `json:"default,omitempty" yaml:"default,omitempty"`
	Required    bool   `json:"required,omitempty" yaml:"required,omitempty"`
}

// Deployment is one run of a kick-off template against a remote instance.
type Deployment struct {
	ID         string            `json:"id"`
	TemplateID string            `json:"template_id,omitempty"`
	Target     string            `json:"target"`
	Status     string            `json:"status" enum:"pending,running,completed,completed_with_errors,failed,rolled_back"`
	Step       string            `json:"step,omitempty"`
	Progress   int               `json:"progress"`
	Result     *DeploymentResult `json:"result,omitempty"`
	Error      string            `json:"error,omitempty"`
	ActorID    string            `json:"actor_id"`
	CreatedAt  string            `json:"created_at" format:"date-time"`
	UpdatedAt  string            `json:"updated_at" format:"date-time"`
	FinishedAt *string           `json:"finished_at,omitempty" format:"date-time"`
}

// LogEntry is a granular line recorded while a deployment runs.
type LogEntry struct {
	ID           int64  `json:"id"`
	DeploymentID string `json:"deployment_id"`
	TS           string `json:"ts" format:"date-time"`
	Level        string `json:"level" enum:"debug,info,warn,error"`
	Message      string `json:"message"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
