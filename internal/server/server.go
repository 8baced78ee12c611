package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"kickoff/internal/app"
	"kickoff/internal/domain"
	"kickoff/internal/generator"
	"kickoff/internal/monitor"
	"kickoff/internal/odoo"
	"kickoff/internal/repo"
	"kickoff/internal/templates"
	"kickoff/internal/validation"
)

// Config for the HTTP API handler.
type Config struct {
	Runner    *app.Runner
	Templates templates.Service
	Monitor   monitor.Service
	Repo      repo.Repo
	// Generator is optional; generation returns 503 without it.
	Generator generator.Generator
	// Odoo is the default connection; requests may override any field.
	Odoo     odoo.Config
	BasePath string
	Auth     AuthConfig
	Logger   *zap.Logger
}

// FromEnv fills the service fields of a Config from a workspace.
func FromEnv(env *app.Env) Config {
	return Config{
		Runner:    env.Runner,
		Templates: env.Templates,
		Monitor:   env.Monitor,
		Repo:      env.Repo,
		Odoo:      env.Config.Odoo,
		BasePath:  env.Config.Server.BasePath,
		Auth:      AuthConfig{JWTSecret: env.Config.Server.JWTSecret, Logger: env.Logger.Named("auth")},
		Logger:    env.Logger,
	}
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_template"`
	Message string         `json:"message" example:"invalid template: Template must have at least one module"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the kickoff API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Runner == nil {
		return nil, errors.New("server: runner is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the requested envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Kickoff API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	h := handlers{cfg: cfg, log: cfg.Logger.Named("http")}
	registerDocs(router, basePath)
	registerHealth(group)
	registerMe(group)
	h.registerTemplates(group)
	h.registerDeployments(group)
	h.registerGenerate(group)
	h.registerEvents(group)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

type handlers struct {
	cfg Config
	log *zap.Logger
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var invalid *validation.InvalidTemplateError
	if errors.As(err, &invalid) {
		return newAPIError(http.StatusUnprocessableEntity, "invalid_template", err.Error(), map[string]any{
			"errors":   invalid.Result.Errors,
			"warnings": invalid.Result.Warnings,
		})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, monitor.ErrInvalidTransition) {
		return newAPIError(http.StatusConflict, "invalid_transition", err.Error(), nil)
	}
	if errors.Is(err, templates.ErrMissingVariable) {
		return newAPIError(http.StatusBadRequest, "missing_variable", err.Error(), nil)
	}
	if errors.Is(err, templates.ErrInvalidRating) || errors.Is(err, templates.ErrInvalidType) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	if errors.Is(err, app.ErrRollbackUnsupported) {
		return newAPIError(http.StatusBadRequest, "rollback_unsupported", err.Error(), nil)
	}
	if errors.Is(err, app.ErrGeneratorDisabled) {
		return newAPIError(http.StatusServiceUnavailable, "generator_disabled", err.Error(), nil)
	}
	if errors.Is(err, odoo.ErrAuthentication) {
		return newAPIError(http.StatusBadGateway, "odoo_authentication_failed", err.Error(), nil)
	}
	var rpcErr *odoo.RemoteRPCError
	if errors.As(err, &rpcErr) {
		return newAPIError(http.StatusBadGateway, "remote_error", err.Error(), map[string]any{"model": rpcErr.Model, "method": rpcErr.Method})
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	healthPath := path.Join("/", basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Kickoff API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt;.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		p, ok := principalFromContext(ctx)
		if !ok {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{ActorID: p.ActorID, Roles: nonNilSlice(p.Roles), Source: p.Source}}, nil
	})
}

type templateOutput struct {
	Body domain.Template `json:"body"`
}

type templatePath struct {
	TemplateID string `path:"template_id"`
}

func (h handlers) registerTemplates(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-template",
		Method:        http.MethodPost,
		Path:          "/templates",
		Summary:       "Create template",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateTemplateRequest `json:"body"`
	}) (*templateOutput, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := h.cfg.Templates.Create(ctx, templates.CreateOptions{
			ID:          input.Body.ID,
			Name:        input.Body.Name,
			Description: input.Body.Description,
			Type:        input.Body.Type,
			Category:    input.Body.Category,
			Content:     input.Body.Content,
			Variables:   input.Body.Variables,
			Tags:        input.Body.Tags,
			IsPublic:    input.Body.IsPublic,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &templateOutput{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-templates",
		Method:      http.MethodGet,
		Path:        "/templates",
		Summary:     "List templates",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type      string `query:"type" enum:"kickoff,module,custom_field,workflow,dashboard,report"`
		Category  string `query:"category"`
		CreatedBy string `query:"created_by"`
		Public    bool   `query:"public"`
		Search    string `query:"q"`
		Limit     int    `query:"limit" default:"50"`
		Cursor    string `query:"cursor"`
	}) (*struct {
		Body paginatedTemplates `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		cursorTS, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		items, err := h.cfg.Templates.List(ctx, repo.TemplateFilters{
			Type:            input.Type,
			Category:        input.Category,
			CreatedBy:       input.CreatedBy,
			PublicOnly:      input.Public,
			Search:          input.Search,
			Limit:           limit + 1,
			CursorCreatedAt: cursorTS,
			CursorID:        cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedTemplates{Items: []domain.Template{}}
		if len(items) > limit {
			last := items[limit-1]
			resp.NextCursor = composeCursor(last.CreatedAt, last.ID)
			items = items[:limit]
		}
		resp.Items = append(resp.Items, items...)
		return &struct {
			Body paginatedTemplates `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-template",
		Method:      http.MethodGet,
		Path:        "/templates/{template_id}",
		Summary:     "Get template",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *templatePath) (*templateOutput, error) {
		t, err := h.cfg.Templates.Get(ctx, input.TemplateID)
		if err != nil {
			return nil, handleError(err)
		}
		return &templateOutput{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-template",
		Method:      http.MethodPatch,
		Path:        "/templates/{template_id}",
		Summary:     "Update template",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		TemplateID string                `path:"template_id"`
		Body       UpdateTemplateRequest `json:"body"`
	}) (*templateOutput, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := h.cfg.Templates.Update(ctx, templates.UpdateOptions{
			ID:          input.TemplateID,
			Name:        input.Body.Name,
			Description: input.Body.Description,
			Category:    input.Body.Category,
			Content:     input.Body.Content,
			Variables:   input.Body.Variables,
			Tags:        input.Body.Tags,
			IsPublic:    input.Body.IsPublic,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &templateOutput{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-template",
		Method:        http.MethodDelete,
		Path:          "/templates/{template_id}",
		Summary:       "Delete template",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *templatePath) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := h.cfg.Templates.Delete(ctx, input.TemplateID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "render-template",
		Method:      http.MethodPost,
		Path:        "/templates/{template_id}/render",
		Summary:     "Render template variables",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		TemplateID string                 `path:"template_id"`
		Body       *RenderTemplateRequest `json:"body"`
	}) (*struct {
		Body RenderTemplateResponse `json:"body"`
	}, error) {
		var vars map[string]string
		if input.Body != nil {
			vars = input.Body.Variables
		}
		content, err := h.cfg.Templates.Render(ctx, input.TemplateID, vars)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RenderTemplateResponse `json:"body"`
		}{Body: RenderTemplateResponse{Content: content}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "rate-template",
		Method:      http.MethodPost,
		Path:        "/templates/{template_id}/rate",
		Summary:     "Rate template",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		TemplateID string              `path:"template_id"`
		Body       RateTemplateRequest `json:"body"`
	}) (*templateOutput, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := h.cfg.Templates.Rate(ctx, input.TemplateID, actorID, input.Body.Score)
		if err != nil {
			return nil, handleError(err)
		}
		return &templateOutput{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "validate-template",
		Method:      http.MethodPost,
		Path:        "/templates/validate",
		Summary:     "Validate template content",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body ValidateTemplateRequest `json:"body"`
	}) (*struct {
		Body validation.Result `json:"body"`
	}, error) {
		if len(input.Body.Content) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "content is required", nil)
		}
		typ := input.Body.TemplateType
		if typ == "" {
			typ = templates.TypeKickoff
		}
		return &struct {
			Body validation.Result `json:"body"`
		}{Body: validation.ValidateForDeployment(typ, input.Body.Content)}, nil
	})
}

type deploymentOutput struct {
	Status int
	Body   domain.Deployment `json:"body"`
}

type deploymentPath struct {
	DeploymentID string `path:"deployment_id"`
}

func (h handlers) registerDeployments(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-deployment",
		Method:        http.MethodPost,
		Path:          "/deployments",
		Summary:       "Deploy a kick-off template",
		DefaultStatus: http.StatusAccepted,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusBadGateway,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateDeploymentRequest `json:"body"`
	}) (*deploymentOutput, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		req := app.Request{
			TemplateID:     input.Body.TemplateID,
			Variables:      input.Body.Variables,
			Customizations: input.Body.Customizations,
			Odoo:           app.MergeOdoo(h.cfg.Odoo, input.Body.Odoo.config()),
			ActorID:        actorID,
		}
		if len(input.Body.Template) > 0 {
			var kt domain.KickoffTemplate
			if err := json.Unmarshal(input.Body.Template, &kt); err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid template: "+err.Error(), nil)
			}
			req.Template = &kt
		}
		if input.Body.Wait {
			dep, err := h.cfg.Runner.Run(ctx, req)
			if err != nil {
				return nil, handleError(err)
			}
			return &deploymentOutput{Status: http.StatusOK, Body: dep}, nil
		}
		dep, err := h.cfg.Runner.Start(ctx, req)
		if err != nil {
			return nil, handleError(err)
		}
		h.log.Info("deployment accepted", zap.String("deployment_id", dep.ID), zap.String("actor_id", actorID))
		return &deploymentOutput{Status: http.StatusAccepted, Body: dep}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-deployments",
		Method:      http.MethodGet,
		Path:        "/deployments",
		Summary:     "List deployments",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status     string `query:"status" enum:"pending,running,completed,completed_with_errors,failed,rolled_back"`
		TemplateID string `query:"template_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedDeployments `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		cursorTS, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		items, err := h.cfg.Repo.ListDeployments(ctx, repo.DeploymentFilters{
			Status:          input.Status,
			TemplateID:      input.TemplateID,
			Limit:           limit + 1,
			CursorCreatedAt: cursorTS,
			CursorID:        cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedDeployments{Items: []domain.Deployment{}}
		if len(items) > limit {
			last := items[limit-1]
			resp.NextCursor = composeCursor(last.CreatedAt, last.ID)
			items = items[:limit]
		}
		resp.Items = append(resp.Items, items...)
		return &struct {
			Body paginatedDeployments `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-deployment",
		Method:      http.MethodGet,
		Path:        "/deployments/{deployment_id}",
		Summary:     "Deployment status",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *deploymentPath) (*deploymentOutput, error) {
		dep, err := h.cfg.Monitor.GetDeploymentStatus(ctx, input.DeploymentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &deploymentOutput{Status: http.StatusOK, Body: dep}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "deployment-logs",
		Method:      http.MethodGet,
		Path:        "/deployments/{deployment_id}/logs",
		Summary:     "Deployment log lines",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		DeploymentID string `path:"deployment_id"`
		Level        string `query:"level" enum:"debug,info,warn,error"`
		Limit        int    `query:"limit" default:"100"`
	}) (*struct {
		Body logsResponse `json:"body"`
	}, error) {
		items, err := h.cfg.Monitor.GetDeploymentLogs(ctx, input.DeploymentID, monitor.LogQuery{Limit: input.Limit, Level: input.Level})
		if err != nil {
			return nil, handleError(err)
		}
		resp := logsResponse{Items: []domain.LogEntry{}}
		resp.Items = append(resp.Items, items...)
		return &struct {
			Body logsResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "deployment-errors",
		Method:      http.MethodGet,
		Path:        "/deployments/{deployment_id}/errors",
		Summary:     "Deployment error summary",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *deploymentPath) (*struct {
		Body monitor.ErrorSummary `json:"body"`
	}, error) {
		sum, err := h.cfg.Monitor.GetErrorSummary(ctx, input.DeploymentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body monitor.ErrorSummary `json:"body"`
		}{Body: sum}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "rollback-deployment",
		Method:      http.MethodPost,
		Path:        "/deployments/{deployment_id}/rollback",
		Summary:     "Delete the records a deployment created",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusBadGateway,
		},
	}, func(ctx context.Context, input *struct {
		DeploymentID string           `path:"deployment_id"`
		Body         *RollbackRequest `json:"body"`
	}) (*deploymentOutput, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var conn *OdooConnection
		if input.Body != nil {
			conn = input.Body.Odoo
		}
		dep, err := h.cfg.Runner.Rollback(ctx, input.DeploymentID, app.MergeOdoo(h.cfg.Odoo, conn.config()), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &deploymentOutput{Status: http.StatusOK, Body: dep}, nil
	})
}

func (h handlers) registerGenerate(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "generate-template",
		Method:      http.MethodPost,
		Path:        "/templates/generate",
		Summary:     "Draft a kick-off template from a brief",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		Body GenerateTemplateRequest `json:"body"`
	}) (*struct {
		Body GenerateTemplateResponse `json:"body"`
	}, error) {
		if h.cfg.Generator == nil {
			return nil, handleError(app.ErrGeneratorDisabled)
		}
		if strings.TrimSpace(input.Body.Brief) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "brief is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		draft, err := h.cfg.Generator.GenerateKickoff(ctx, input.Body.Brief)
		var invalid *validation.InvalidTemplateError
		if err != nil && !errors.As(err, &invalid) {
			h.log.Warn("generation failed", zap.Error(err))
			return nil, newAPIError(http.StatusBadGateway, "generator_failed", err.Error(), nil)
		}
		resp := GenerateTemplateResponse{Draft: draft, Validation: validation.ValidateKickoffTemplate(draft)}
		if input.Body.Save && resp.Validation.Valid {
			content, err := json.Marshal(draft)
			if err != nil {
				return nil, handleError(err)
			}
			name := strings.TrimSpace(input.Body.Name)
			if name == "" {
				name = "Generated kick-off template"
			}
			saved, err := h.cfg.Templates.Create(ctx, templates.CreateOptions{
				Name:        name,
				Description: input.Body.Brief,
				Type:        templates.TypeKickoff,
				Category:    "generated",
				Content:     content,
				ActorID:     actorID,
			})
			if err != nil {
				return nil, handleError(err)
			}
			resp.Saved = &saved
		}
		return &struct {
			Body GenerateTemplateResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func (h handlers) registerEvents(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"template,deployment"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := h.cfg.Repo.ListEvents(ctx, repo.EventFilters{
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Limit:      limit + 1,
			Cursor:     cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

func parseCompositeCursor(cursor string) (string, string, error) {
	if cursor == "" {
		return "", "", nil
	}
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid cursor")
	}
	return parts[0], parts[1], nil
}

func composeCursor(ts, id string) string {
	if ts == "" || id == "" {
		return ""
	}
	return ts + "|" + id
}
