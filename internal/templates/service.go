// Package templates is the configuration template library: CRUD over stored
// templates, {{variable}} rendering, usage and rating bookkeeping.
package templates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"kickoff/internal/domain"
	"kickoff/internal/events"
	"kickoff/internal/repo"
	"kickoff/internal/validation"
)

// Template types.
const (
	TypeKickoff     = "kickoff"
	TypeModule      = "module"
	TypeCustomField = "custom_field"
	TypeWorkflow    = "workflow"
	TypeDashboard   = "dashboard"
	TypeReport      = "report"
)

var validTypes = map[string]bool{
	TypeKickoff: true, TypeModule: true, TypeCustomField: true,
	TypeWorkflow: true, TypeDashboard: true, TypeReport: true,
}

var (
	ErrInvalidRating = errors.New("rating must be between 1 and 5")
	ErrInvalidType   = errors.New("unknown template type")
)

type Service struct {
	Repo   repo.Repo
	Events events.Writer
	Logger *zap.Logger
	Now    func() time.Time
}

func New(r repo.Repo, logger *zap.Logger) Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return Service{Repo: r, Events: events.Writer{DB: r.DB}, Logger: logger.Named("templates"), Now: time.Now}
}

func (s Service) now() string {
	now := s.Now
	if now == nil {
		now = time.Now
	}
	return now().UTC().Format(time.RFC3339)
}

func (s Service) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

// CreateOptions are the fields of a new library entry.
type CreateOptions struct {
	ID          string
	Name        string
	Description string
	Type        string
	Category    string
	Content     json.RawMessage
	Variables   []domain.Variable
	Tags        []string
	IsPublic    bool
	ActorID     string
}

func checkContent(typ string, content json.RawMessage, vars []domain.Variable) error {
	if !validTypes[typ] {
		return fmt.Errorf("%w: %q", ErrInvalidType, typ)
	}
	if !json.Valid(content) {
		return errors.New("template content must be valid JSON")
	}
	for _, v := range vars {
		if strings.TrimSpace(v.Name) == "" {
			return errors.New("template variable name is required")
		}
	}
	if typ != TypeKickoff {
		return nil
	}
	// Kick-off templates with placeholders are validated once rendered with
	// their defaults; required variables without defaults get a stand-in.
	sample := map[string]string{}
	for _, v := range vars {
		if v.Default == "" {
			sample[v.Name] = v.Name
		}
	}
	rendered, err := renderContent(content, vars, sample)
	if err != nil {
		return err
	}
	return validation.ValidateForDeployment(typ, rendered).Check()
}

// Create stores a new template. Kick-off content must pass validation.
func (s Service) Create(ctx context.Context, opts CreateOptions) (domain.Template, error) {
	if strings.TrimSpace(opts.Name) == "" {
		return domain.Template{}, errors.New("template name is required")
	}
	if err := checkContent(opts.Type, opts.Content, opts.Variables); err != nil {
		return domain.Template{}, err
	}
	if opts.ID == "" {
		opts.ID = "tpl-" + uuid.NewString()
	}
	if opts.ActorID == "" {
		opts.ActorID = "system"
	}
	now := s.now()
	t := domain.Template{
		ID:          opts.ID,
		Name:        opts.Name,
		Description: opts.Description,
		Type:        opts.Type,
		Category:    opts.Category,
		Content:     opts.Content,
		Variables:   opts.Variables,
		Tags:        opts.Tags,
		IsPublic:    opts.IsPublic,
		CreatedBy:   opts.ActorID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := s.Repo.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Template{}, err
	}
	defer tx.Rollback()
	if err := s.Repo.InsertTemplateTx(ctx, tx, t); err != nil {
		return domain.Template{}, fmt.Errorf("insert template: %w", err)
	}
	if err := s.Events.Append(ctx, tx, events.TemplateCreated, "template", t.ID, opts.ActorID, events.EventPayload{"name": t.Name, "type": t.Type}); err != nil {
		return domain.Template{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Template{}, err
	}
	s.logger().Info("template created", zap.String("template_id", t.ID), zap.String("type", t.Type))
	return t, nil
}

func (s Service) Get(ctx context.Context, id string) (domain.Template, error) {
	return s.Repo.GetTemplate(ctx, id)
}

func (s Service) List(ctx context.Context, f repo.TemplateFilters) ([]domain.Template, error) {
	return s.Repo.ListTemplates(ctx, f)
}

// UpdateOptions change only the fields that are set.
type UpdateOptions struct {
	ID          string
	Name        *string
	Description *string
	Category    *string
	Content     json.RawMessage
	Variables   *[]domain.Variable
	Tags        *[]string
	IsPublic    *bool
	ActorID     string
}

func (s Service) Update(ctx context.Context, opts UpdateOptions) (domain.Template, error) {
	t, err := s.Repo.GetTemplate(ctx, opts.ID)
	if err != nil {
		return domain.Template{}, err
	}
	if opts.Name != nil {
		if strings.TrimSpace(*opts.Name) == "" {
			return domain.Template{}, errors.New("template name is required")
		}
		t.Name = *opts.Name
	}
	if opts.Description != nil {
		t.Description = *opts.Description
	}
	if opts.Category != nil {
		t.Category = *opts.Category
	}
	if opts.Content != nil {
		t.Content = opts.Content
	}
	if opts.Variables != nil {
		t.Variables = *opts.Variables
	}
	if opts.Tags != nil {
		t.Tags = *opts.Tags
	}
	if opts.IsPublic != nil {
		t.IsPublic = *opts.IsPublic
	}
	if err := checkContent(t.Type, t.Content, t.Variables); err != nil {
		return domain.Template{}, err
	}
	t.UpdatedAt = s.now()

	tx, err := s.Repo.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Template{}, err
	}
	defer tx.Rollback()
	if err := s.Repo.UpdateTemplateTx(ctx, tx, t); err != nil {
		return domain.Template{}, err
	}
	if err := s.Events.Append(ctx, tx, events.TemplateUpdated, "template", t.ID, opts.ActorID, nil); err != nil {
		return domain.Template{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Template{}, err
	}
	return t, nil
}

func (s Service) Delete(ctx context.Context, id, actorID string) error {
	tx, err := s.Repo.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := s.Repo.DeleteTemplateTx(ctx, tx, id); err != nil {
		return err
	}
	if err := s.Events.Append(ctx, tx, events.TemplateDeleted, "template", id, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// RecordUsage counts one deployment of the template.
func (s Service) RecordUsage(ctx context.Context, id string) error {
	return s.Repo.IncrementTemplateUsage(ctx, id, s.now())
}

// Rate folds a 1..5 score into the template's running average.
func (s Service) Rate(ctx context.Context, id, actorID string, score int) (domain.Template, error) {
	if score < 1 || score > 5 {
		return domain.Template{}, ErrInvalidRating
	}
	tx, err := s.Repo.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Template{}, err
	}
	defer tx.Rollback()
	if err := s.Repo.AddTemplateRatingTx(ctx, tx, id, score, s.now()); err != nil {
		return domain.Template{}, err
	}
	if err := s.Events.Append(ctx, tx, events.TemplateRated, "template", id, actorID, events.EventPayload{"score": score}); err != nil {
		return domain.Template{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Template{}, err
	}
	return s.Repo.GetTemplate(ctx, id)
}

// Render substitutes vars into the stored template content.
func (s Service) Render(ctx context.Context, id string, vars map[string]string) (json.RawMessage, error) {
	t, err := s.Repo.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	return renderContent(t.Content, t.Variables, vars)
}

// RenderKickoff renders a stored kick-off template and decodes it.
func (s Service) RenderKickoff(ctx context.Context, id string, vars map[string]string) (domain.Template, domain.KickoffTemplate, error) {
	t, err := s.Repo.GetTemplate(ctx, id)
	if err != nil {
		return domain.Template{}, domain.KickoffTemplate{}, err
	}
	if t.Type != TypeKickoff {
		return t, domain.KickoffTemplate{}, fmt.Errorf("template %s is a %s template, not kickoff", id, t.Type)
	}
	content, err := renderContent(t.Content, t.Variables, vars)
	if err != nil {
		return t, domain.KickoffTemplate{}, err
	}
	var kt domain.KickoffTemplate
	if err := json.Unmarshal(content, &kt); err != nil {
		return t, domain.KickoffTemplate{}, fmt.Errorf("decode kickoff template %s: %w", id, err)
	}
	return t, kt, nil
}
