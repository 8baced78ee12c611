// Package generator asks an OpenAI-compatible model to draft kick-off
// templates from a natural-language brief.
package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"kickoff/internal/domain"
	"kickoff/internal/validation"
)

// Generator drafts a kick-off template. Drafts that fail validation are
// returned together with a *validation.InvalidTemplateError.
type Generator interface {
	GenerateKickoff(ctx context.Context, brief string) (domain.KickoffTemplate, error)
}

type Config struct {
	BaseURL   string
	Model     string
	APIKey    string
	MaxTokens int
}

type OpenAIGenerator struct {
	client    *openai.Client
	model     string
	maxTokens int
	logger    *zap.Logger
}

func NewOpenAI(cfg Config, logger *zap.Logger) (*OpenAIGenerator, error) {
	if cfg.Model == "" {
		return nil, errors.New("generator model is required")
	}
	if cfg.BaseURL == "" {
		return nil, errors.New("generator base url is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	return &OpenAIGenerator{
		client:    openai.NewClientWithConfig(clientConfig),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		logger:    logger.Named("generator"),
	}, nil
}

const systemPrompt = `You design Odoo ERP implementation kick-off plans.
Reply with a single JSON object and nothing else. The object has these keys:
"modules" (array of {"name","technical_name","category","priority" 1-10}),
"customFields" (array of {"model","field_name" starting with x_,"field_type","label","options"}),
"workflows" (array of {"name","model","states":[{"name","label"}],"transitions":[{"from","to"}]}),
"dashboards" (array of {"name","view_type","components":[{"type","model","fields"}]}),
"departments" (array of {"name","technical_name","description","tasks":[{"title","description","type",
"priority" one of low|medium|high|critical,"due_days","estimated_hours","requires_approval","phase",
"required_documents":[{"name","description","required","formats"}],"subtasks":[{"title","estimated_hours"}]}]}),
"project_timeline" ({"phases":[{"name","description","sequence","duration_weeks"}],"milestones":[{"name","description","phase"}]}),
"document_templates" (array).
Every task phase must name one of the declared phases.`

func (g *OpenAIGenerator) GenerateKickoff(ctx context.Context, brief string) (domain.KickoffTemplate, error) {
	if strings.TrimSpace(brief) == "" {
		return domain.KickoffTemplate{}, errors.New("brief is required")
	}
	start := time.Now()
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: brief},
		},
		MaxTokens:   g.maxTokens,
		Temperature: 0.2,
	})
	if err != nil {
		g.logger.Error("generation failed", zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		return domain.KickoffTemplate{}, fmt.Errorf("generate kickoff: %w", err)
	}
	if len(resp.Choices) == 0 {
		return domain.KickoffTemplate{}, errors.New("generate kickoff: no choices in response")
	}
	g.logger.Info("generation completed",
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		zap.Duration("elapsed", time.Since(start)))
	return Parse(resp.Choices[0].Message.Content)
}

var fence = regexp.MustCompile("(?s)^\\s*```[a-zA-Z]*\\s*(.*?)\\s*```\\s*$")

// ExtractJSON strips markdown fences and surrounding prose from a reply.
func ExtractJSON(reply string) (string, error) {
	s := strings.TrimSpace(reply)
	if m := fence.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return "", errors.New("no JSON object in reply")
	}
	s = s[start : end+1]
	if !json.Valid([]byte(s)) {
		return "", errors.New("reply is not valid JSON")
	}
	return s, nil
}

// Parse decodes and validates a model reply.
func Parse(reply string) (domain.KickoffTemplate, error) {
	raw, err := ExtractJSON(reply)
	if err != nil {
		return domain.KickoffTemplate{}, err
	}
	var kt domain.KickoffTemplate
	if err := json.Unmarshal([]byte(raw), &kt); err != nil {
		return domain.KickoffTemplate{}, fmt.Errorf("decode generated template: %w", err)
	}
	return kt, validation.ValidateKickoffTemplate(kt).Check()
}
