package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"combinados/internal/domain"
)

// Policy values for workspace.creation_policy.
const (
	CreationAnyAuthenticated = "any_authenticated"
	CreationRoleGated        = "role_gated"
)

// Config models combinados.yml.
type Config struct {
	Workspace struct {
		ID             string   `yaml:"id"`
		Name           string   `yaml:"name"`
		CreationPolicy string   `yaml:"creation_policy"`
		CreationRoles  []string `yaml:"creation_roles"`
	} `yaml:"workspace"`
	Deadlines struct {
		ApproachingHours int `yaml:"approaching_hours"`
	} `yaml:"deadlines"`
	Storage struct {
		Bucket       string `yaml:"bucket"`
		SignedURLTTL int    `yaml:"signed_url_ttl"`
	} `yaml:"storage"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type WebhookConfig struct {
	ID     string   `yaml:"id"`
	URL    string   `yaml:"url"`
	Secret string   `yaml:"secret"`
	Events []string `yaml:"events"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with combinados workspace config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Workspace.ID == "" {
		return fmt.Errorf("config.workspace.id is required")
	}
	switch c.Workspace.CreationPolicy {
	case CreationAnyAuthenticated:
		if len(c.Workspace.CreationRoles) > 0 {
			return fmt.Errorf("config.workspace.creation_roles only applies to the %s policy", CreationRoleGated)
		}
	case CreationRoleGated:
		if len(c.Workspace.CreationRoles) == 0 {
			return fmt.Errorf("config.workspace.creation_roles is required for the %s policy", CreationRoleGated)
		}
		for _, role := range c.Workspace.CreationRoles {
			if !domain.ValidRole(role) {
				return fmt.Errorf("config.workspace.creation_roles contains unknown role %s", role)
			}
		}
	default:
		return fmt.Errorf("config.workspace.creation_policy must be %s or %s", CreationAnyAuthenticated, CreationRoleGated)
	}
	if c.Deadlines.ApproachingHours < 0 {
		return fmt.Errorf("config.deadlines.approaching_hours must not be negative")
	}
	if c.Storage.SignedURLTTL < 0 {
		return fmt.Errorf("config.storage.signed_url_ttl must not be negative")
	}
	for i, hook := range c.Webhooks {
		if hook.ID == "" {
			return fmt.Errorf("webhook %d has empty id", i)
		}
		if hook.URL == "" {
			return fmt.Errorf("webhook %s has empty url", hook.ID)
		}
	}
	return nil
}

// CanCreateAgreements applies the workspace creation policy to a role set.
func (c *Config) CanCreateAgreements(roles []string) bool {
	if c.Workspace.CreationPolicy != CreationRoleGated {
		return true
	}
	for _, role := range roles {
		for _, allowed := range c.Workspace.CreationRoles {
			if role == allowed {
				return true
			}
		}
	}
	return false
}

// ApproachingHours returns the deadline warning window, defaulting to 24h.
func (c *Config) ApproachingHours() int {
	if c.Deadlines.ApproachingHours == 0 {
		return 24
	}
	return c.Deadlines.ApproachingHours
}

// SignedURLTTL returns the attachment URL lifetime in seconds, defaulting to 3600.
func (c *Config) SignedURLTTL() int {
	if c.Storage.SignedURLTTL == 0 {
		return 3600
	}
	return c.Storage.SignedURLTTL
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "combinados.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(workspaceID string) string {
	return fmt.Sprintf(defaultTemplate, workspaceID)
}

// Default returns the default Config struct for a workspace.
func Default(workspaceID string) *Config {
	var cfg Config
	cfg.Workspace.ID = workspaceID
	cfg.Workspace.CreationPolicy = CreationAnyAuthenticated
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, workspaceID))).Decode(&cfg)
	return &cfg
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

const defaultTemplate = `workspace:
  id: %s
  name: Combinados
  creation_policy: any_authenticated

deadlines:
  approaching_hours: 24

storage:
  bucket: .combinados/attachments
  signed_url_ttl: 3600
`
