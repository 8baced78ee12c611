package server

import (
	"encoding/json"

	"kickoff/internal/domain"
	"kickoff/internal/odoo"
	"kickoff/internal/validation"
)

// Request payloads

type CreateTemplateRequest struct {
	ID          string            `json:"id,omitempty"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Type        string            `json:"type" enum:"kickoff,module,custom_field,workflow,dashboard,report"`
	Category    string            `json:"category,omitempty"`
	Content     json.RawMessage   `json:"content"`
	Variables   []domain.Variable `json:"variables,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	IsPublic    bool              `json:"is_public,omitempty"`
}

type UpdateTemplateRequest struct {
	Name        *string            `json:"name,omitempty"`
	Description *string            `json:"description,omitempty"`
	Category    *string            `json:"category,omitempty"`
	Content     json.RawMessage    `json:"content,omitempty"`
	Variables   *[]domain.Variable `json:"variables,omitempty"`
	Tags        *[]string          `json:"tags,omitempty"`
	IsPublic    *bool              `json:"is_public,omitempty"`
}

type RenderTemplateRequest struct {
	Variables map[string]string `json:"variables,omitempty"`
}

type RateTemplateRequest struct {
	Score int `json:"score"`
}

type ValidateTemplateRequest struct {
	TemplateType string          `json:"template_type,omitempty" enum:"kickoff,module,custom_field,workflow,dashboard,report"`
	Content      json.RawMessage `json:"content"`
}

type GenerateTemplateRequest struct {
	Brief string `json:"brief"`
	// Save stores a valid draft in the library under Name.
	Save bool   `json:"save,omitempty"`
	Name string `json:"name,omitempty"`
}

// OdooConnection overrides the server's default connection per request.
type OdooConnection struct {
	URL      string `json:"url,omitempty"`
	Database string `json:"database,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

func (c *OdooConnection) config() odoo.Config {
	if c == nil {
		return odoo.Config{}
	}
	return odoo.Config{URL: c.URL, Database: c.Database, Username: c.Username, Password: c.Password}
}

type CreateDeploymentRequest struct {
	TemplateID     string                       `json:"template_id,omitempty"`
	Template       json.RawMessage              `json:"template,omitempty"`
	Variables      map[string]string            `json:"variables,omitempty"`
	Customizations domain.ProjectCustomizations `json:"customizations,omitempty"`
	Odoo           *OdooConnection              `json:"odoo,omitempty"`
	// Wait runs the deployment before responding.
	Wait bool `json:"wait,omitempty"`
}

type RollbackRequest struct {
	Odoo *OdooConnection `json:"odoo,omitempty"`
}

// Response payloads

type RenderTemplateResponse struct {
	Content json.RawMessage `json:"content"`
}

type GenerateTemplateResponse struct {
	Draft      domain.KickoffTemplate `json:"draft"`
	Validation validation.Result      `json:"validation"`
	Saved      *domain.Template       `json:"saved,omitempty"`
}

type WhoAmIResponse struct {
	ActorID string   `json:"actor_id"`
	Roles   []string `json:"roles"`
	Source  string   `json:"source"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type paginatedTemplates struct {
	Items      []domain.Template `json:"items"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

type paginatedDeployments struct {
	Items      []domain.Deployment `json:"items"`
	NextCursor string              `json:"next_cursor,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type logsResponse struct {
	Items []domain.LogEntry `json:"items"`
}

// Conversion helpers

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func decodeJSONMap(raw string) map[string]any {
	out := map[string]any{}
	if raw == "" {
		return out
	}
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}

func nonNilSlice(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
