package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models samanvay.yml.
type Config struct {
	Coordinator struct {
		Name string `yaml:"name"`
	} `yaml:"coordinator"`
	Agencies struct {
		Seed []AgencySeed `yaml:"seed"`
	} `yaml:"agencies"`
	Assignment struct {
		// MaxExecuting caps executing agencies assigned on approval.
		// Zero assigns every resolved candidate.
		MaxExecuting int `yaml:"max_executing"`
	} `yaml:"assignment"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type AgencySeed struct {
	ID         string `yaml:"id"`
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Department string `yaml:"department"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

var agencyTypes = map[string]bool{
	"implementing": true,
	"nodal":        true,
	"executing":    true,
	"monitoring":   true,
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Coordinator.Name == "" {
		return fmt.Errorf("config.coordinator.name is required")
	}
	if c.Assignment.MaxExecuting < 0 {
		return fmt.Errorf("config.assignment.max_executing must not be negative")
	}
	seen := map[string]bool{}
	for i, a := range c.Agencies.Seed {
		if a.ID == "" {
			return fmt.Errorf("agencies.seed[%d] has empty id", i)
		}
		if seen[a.ID] {
			return fmt.Errorf("agencies.seed contains duplicate id %s", a.ID)
		}
		seen[a.ID] = true
		if a.Name == "" {
			return fmt.Errorf("agency %s has empty name", a.ID)
		}
		if !agencyTypes[a.Type] {
			return fmt.Errorf("agency %s has unknown type %q", a.ID, a.Type)
		}
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("webhooks[%d] has empty url", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "samanvay.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; run sv init to create one", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `coordinator:
  name: samanvay

agencies:
  seed: []

assignment:
  # 0 assigns every resolved executing agency on approval
  max_executing: 0

webhooks: []
`
