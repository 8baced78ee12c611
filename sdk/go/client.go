package kickoffsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal kickoff HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults. baseURL includes the API base
// path, for example http://127.0.0.1:8080/v0.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BearerToken: token,
		Timeout:     30 * time.Second,
	}
}

// Template represents a library entry.
type Template struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Description   string          `json:"description,omitempty"`
	Type          string          `json:"type"`
	Category      string          `json:"category,omitempty"`
	Content       json.RawMessage `json:"content"`
	Variables     []Variable      `json:"variables,omitempty"`
	Tags          []string        `json:"tags,omitempty"`
	IsPublic      bool            `json:"is_public"`
	UsageCount    int             `json:"usage_count"`
	RatingCount   int             `json:"rating_count"`
	RatingAverage float64         `json:"rating_average"`
	CreatedBy     string          `json:"created_by"`
	CreatedAt     string          `json:"created_at"`
	UpdatedAt     string          `json:"updated_at"`
}

type Variable struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Default     string `json:"default,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// NewTemplate is the body of CreateTemplate.
type NewTemplate struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Type        string          `json:"type"`
	Category    string          `json:"category,omitempty"`
	Content     json.RawMessage `json:"content"`
	Variables   []Variable      `json:"variables,omitempty"`
	Tags        []string        `json:"tags,omitempty"`
	IsPublic    bool            `json:"is_public,omitempty"`
}

// Validation is the outcome of a validation pass.
type Validation struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// Deployment represents one run (partial).
type Deployment struct {
	ID         string         `json:"id"`
	TemplateID string         `json:"template_id,omitempty"`
	Target     string         `json:"target"`
	Status     string         `json:"status"`
	Step       string         `json:"step,omitempty"`
	Progress   int            `json:"progress"`
	Result     map[string]any `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	ActorID    string         `json:"actor_id"`
	CreatedAt  string         `json:"created_at"`
	FinishedAt *string        `json:"finished_at,omitempty"`
}

// Finished reports whether the run has reached a terminal status.
func (d Deployment) Finished() bool {
	switch d.Status {
	case "completed", "completed_with_errors", "failed", "rolled_back":
		return true
	}
	return false
}

// OdooConnection overrides the server's default Odoo connection.
type OdooConnection struct {
	URL      string `json:"url,omitempty"`
	Database string `json:"database,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// DeploymentRequest starts a deployment. Set exactly one of TemplateID and Template.
type DeploymentRequest struct {
	TemplateID     string            `json:"template_id,omitempty"`
	Template       json.RawMessage   `json:"template,omitempty"`
	Variables      map[string]string `json:"variables,omitempty"`
	Customizations map[string]any    `json:"customizations,omitempty"`
	Odoo           *OdooConnection   `json:"odoo,omitempty"`
	Wait           bool              `json:"wait,omitempty"`
}

type LogEntry struct {
	ID      int64  `json:"id"`
	TS      string `json:"ts"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

// ErrorSummary aggregates what went wrong in one run (partial).
type ErrorSummary struct {
	DeploymentID string   `json:"deployment_id"`
	Status       string   `json:"status"`
	Fatal        string   `json:"fatal,omitempty"`
	Errors       []string `json:"errors"`
	Warnings     []string `json:"warnings"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

type PaginatedTemplates struct {
	Items      []Template `json:"items"`
	NextCursor string     `json:"next_cursor"`
}

type PaginatedDeployments struct {
	Items      []Deployment `json:"items"`
	NextCursor string       `json:"next_cursor"`
}

// CreateTemplate stores a library entry.
func (c *Client) CreateTemplate(ctx context.Context, t NewTemplate) (Template, error) {
	var resp Template
	err := c.do(ctx, http.MethodPost, "templates", t, &resp)
	return resp, err
}

func (c *Client) GetTemplate(ctx context.Context, id string) (Template, error) {
	var resp Template
	err := c.do(ctx, http.MethodGet, "templates/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ListTemplates filters by the query parameters of GET /templates
// (type, category, created_by, public, q).
func (c *Client) ListTemplates(ctx context.Context, filters url.Values, limit int, cursor string) (PaginatedTemplates, error) {
	var resp PaginatedTemplates
	err := c.do(ctx, http.MethodGet, withPage("templates", filters, limit, cursor), nil, &resp)
	return resp, err
}

func (c *Client) DeleteTemplate(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "templates/"+url.PathEscape(id), nil, nil)
}

// RenderTemplate returns the template content with vars substituted.
func (c *Client) RenderTemplate(ctx context.Context, id string, vars map[string]string) (json.RawMessage, error) {
	var resp struct {
		Content json.RawMessage `json:"content"`
	}
	body := map[string]any{"variables": vars}
	err := c.do(ctx, http.MethodPost, "templates/"+url.PathEscape(id)+"/render", body, &resp)
	return resp.Content, err
}

// RateTemplate records a 1..5 score.
func (c *Client) RateTemplate(ctx context.Context, id string, score int) (Template, error) {
	var resp Template
	err := c.do(ctx, http.MethodPost, "templates/"+url.PathEscape(id)+"/rate", map[string]int{"score": score}, &resp)
	return resp, err
}

// ValidateTemplate checks kick-off content without storing it.
func (c *Client) ValidateTemplate(ctx context.Context, content json.RawMessage) (Validation, error) {
	var resp Validation
	body := map[string]any{"template_type": "kickoff", "content": content}
	err := c.do(ctx, http.MethodPost, "templates/validate", body, &resp)
	return resp, err
}

// Deploy starts a deployment. Without req.Wait the returned deployment is
// still pending; poll it with Deployment or WaitDeployment.
func (c *Client) Deploy(ctx context.Context, req DeploymentRequest) (Deployment, error) {
	var resp Deployment
	err := c.do(ctx, http.MethodPost, "deployments", req, &resp)
	return resp, err
}

func (c *Client) Deployment(ctx context.Context, id string) (Deployment, error) {
	var resp Deployment
	err := c.do(ctx, http.MethodGet, "deployments/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// WaitDeployment polls until the deployment finishes or ctx is done.
func (c *Client) WaitDeployment(ctx context.Context, id string, every time.Duration) (Deployment, error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		d, err := c.Deployment(ctx, id)
		if err != nil || d.Finished() {
			return d, err
		}
		select {
		case <-ctx.Done():
			return d, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) ListDeployments(ctx context.Context, status string, limit int, cursor string) (PaginatedDeployments, error) {
	filters := url.Values{}
	if status != "" {
		filters.Set("status", status)
	}
	var resp PaginatedDeployments
	err := c.do(ctx, http.MethodGet, withPage("deployments", filters, limit, cursor), nil, &resp)
	return resp, err
}

// DeploymentLogs returns entries at or above level, oldest first.
func (c *Client) DeploymentLogs(ctx context.Context, id, level string, limit int) ([]LogEntry, error) {
	filters := url.Values{}
	if level != "" {
		filters.Set("level", level)
	}
	var resp struct {
		Items []LogEntry `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, withPage("deployments/"+url.PathEscape(id)+"/logs", filters, limit, ""), nil, &resp)
	return resp.Items, err
}

func (c *Client) DeploymentErrors(ctx context.Context, id string) (ErrorSummary, error) {
	var resp ErrorSummary
	err := c.do(ctx, http.MethodGet, "deployments/"+url.PathEscape(id)+"/errors", nil, &resp)
	return resp, err
}

// Rollback deletes what the deployment created in Odoo.
func (c *Client) Rollback(ctx context.Context, id string, odoo *OdooConnection) (Deployment, error) {
	var resp Deployment
	err := c.do(ctx, http.MethodPost, "deployments/"+url.PathEscape(id)+"/rollback", map[string]any{"odoo": odoo}, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, withPage("events", nil, limit, cursor), nil, &resp)
	return resp, err
}

func withPage(endpoint string, q url.Values, limit int, cursor string) string {
	if q == nil {
		q = url.Values{}
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if len(q) == 0 {
		return endpoint
	}
	return endpoint + "?" + q.Encode()
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
