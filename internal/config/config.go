package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"kickoff/internal/odoo"
)

// Environment variables holding secrets. Secrets are never read from kickoff.yml.
const (
	EnvOdooPassword = "KICKOFF_ODOO_PASSWORD"
	EnvJWTSecret    = "KICKOFF_JWT_SECRET"
	EnvOpenAIKey    = "KICKOFF_OPENAI_API_KEY"
)

// Config models kickoff.yml.
type Config struct {
	Odoo   odoo.Config `yaml:"odoo"`
	Deploy struct {
		Timeout           time.Duration `yaml:"timeout"`
		RollbackOnFailure bool          `yaml:"rollback_on_failure"`
	} `yaml:"deploy"`
	Server struct {
		Addr      string `yaml:"addr"`
		BasePath  string `yaml:"base_path"`
		JWTSecret string `yaml:"-"`
	} `yaml:"server"`
	Generator struct {
		BaseURL   string `yaml:"base_url"`
		Model     string `yaml:"model"`
		MaxTokens int    `yaml:"max_tokens"`
		APIKey    string `yaml:"-"`
	} `yaml:"generator"`
	Log struct {
		Level       string `yaml:"level"`
		Development bool   `yaml:"development"`
	} `yaml:"log"`
}

// Load reads and validates kickoff.yml from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with kickoff config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional falls back to Default when the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure. Odoo connection
// settings are optional here because they can come from flags.
func (c *Config) Validate() error {
	if c.Odoo.URL != "" {
		u, err := url.Parse(c.Odoo.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("config.odoo.url must be an absolute URL")
		}
	}
	if c.Odoo.Timeout < 0 {
		return fmt.Errorf("config.odoo.timeout must not be negative")
	}
	if c.Deploy.Timeout < 0 {
		return fmt.Errorf("config.deploy.timeout must not be negative")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if c.Generator.MaxTokens < 0 {
		return fmt.Errorf("config.generator.max_tokens must not be negative")
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config.log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	return nil
}

// ApplyEnv fills secrets from the environment.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := getenv(EnvOdooPassword); v != "" {
		c.Odoo.Password = v
	}
	if v := getenv(EnvJWTSecret); v != "" {
		c.Server.JWTSecret = v
	}
	if v := getenv(EnvOpenAIKey); v != "" {
		c.Generator.APIKey = v
	}
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "kickoff.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Unset values
// keep their defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `# Secrets are read from KICKOFF_ODOO_PASSWORD, KICKOFF_JWT_SECRET and
# KICKOFF_OPENAI_API_KEY.
odoo:
  url: ""
  database: ""
  username: ""
  timeout: 30s

deploy:
  timeout: 10m
  rollback_on_failure: false

server:
  addr: 127.0.0.1:8080
  base_path: /v0

generator:
  base_url: https://api.openai.com/v1
  model: gpt-4o-mini
  max_tokens: 4096

log:
  level: info
  development: false
`
