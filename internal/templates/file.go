package templates

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"kickoff/internal/domain"
)

// Definition is the on-disk form of a library entry. Content may be written
// as YAML or JSON; it is stored as JSON.
type Definition struct {
	Name        string            `yaml:"name" json:"name"`
	Description string            `yaml:"description,omitempty" json:"description,omitempty"`
	Type        string            `yaml:"type" json:"type"`
	Category    string            `yaml:"category,omitempty" json:"category,omitempty"`
	Tags        []string          `yaml:"tags,omitempty" json:"tags,omitempty"`
	Public      bool              `yaml:"public,omitempty" json:"public,omitempty"`
	Variables   []domain.Variable `yaml:"variables,omitempty" json:"variables,omitempty"`
	Content     any               `yaml:"content" json:"content"`
}

// LoadDefinition reads a .yml/.yaml or .json template file.
func LoadDefinition(path string) (Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, err
	}
	var def Definition
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &def)
	default:
		err = yaml.Unmarshal(data, &def)
	}
	if err != nil {
		return Definition{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if def.Type == "" {
		def.Type = TypeKickoff
	}
	return def, nil
}

// CreateOptions converts the definition for Service.Create.
func (d Definition) CreateOptions(actorID string) (CreateOptions, error) {
	if d.Content == nil {
		return CreateOptions{}, fmt.Errorf("template %q has no content", d.Name)
	}
	content, err := json.Marshal(d.Content)
	if err != nil {
		return CreateOptions{}, fmt.Errorf("template %q content: %w", d.Name, err)
	}
	return CreateOptions{
		Name:        d.Name,
		Description: d.Description,
		Type:        d.Type,
		Category:    d.Category,
		Content:     content,
		Variables:   d.Variables,
		Tags:        d.Tags,
		IsPublic:    d.Public,
		ActorID:     actorID,
	}, nil
}

// LoadKickoff reads a bare kick-off document (YAML or JSON) from path.
func LoadKickoff(path string) (domain.KickoffTemplate, json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.KickoffTemplate{}, nil, err
	}
	raw := json.RawMessage(data)
	if strings.ToLower(filepath.Ext(path)) != ".json" {
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return domain.KickoffTemplate{}, nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if raw, err = json.Marshal(doc); err != nil {
			return domain.KickoffTemplate{}, nil, fmt.Errorf("convert %s: %w", path, err)
		}
	}
	var kt domain.KickoffTemplate
	if err := json.Unmarshal(raw, &kt); err != nil {
		return domain.KickoffTemplate{}, nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return kt, raw, nil
}

// RenderDocument substitutes vars into a bare kick-off document.
func RenderDocument(raw json.RawMessage, vars map[string]string) (domain.KickoffTemplate, error) {
	var kt domain.KickoffTemplate
	rendered, err := renderContent(raw, nil, vars)
	if err != nil {
		return kt, err
	}
	if err := json.Unmarshal(rendered, &kt); err != nil {
		return kt, fmt.Errorf("decode rendered template: %w", err)
	}
	return kt, nil
}
