package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"taskline/internal/domain"
	"taskline/internal/engine/auth"
)

// Config models taskline.yml.
type Config struct {
	Workspace struct {
		ID          string `yaml:"id"`
		Environment string `yaml:"environment"`
	} `yaml:"workspace"`
	RBAC struct {
		Roles map[string]RBACRole `yaml:"roles"`
		// Operators hold every permission regardless of their worker record.
		Operators []string `yaml:"operators"`
	} `yaml:"rbac"`
	Defaults struct {
		Priority string `yaml:"priority"`
	} `yaml:"defaults"`
}

type RBACRole struct {
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with tl config init", path)
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
	for roleID, role := range c.RBAC.Roles {
		if roleID == "" {
			return fmt.Errorf("config.rbac.roles contains empty role id")
		}
		if len(role.Permissions) == 0 {
			return fmt.Errorf("role %s grants no permissions", roleID)
		}
		for _, perm := range role.Permissions {
			if !auth.Known(perm) {
				return fmt.Errorf("role %s grants unknown permission %s", roleID, perm)
			}
		}
	}
	for _, id := range c.RBAC.Operators {
		if id == "" {
			return fmt.Errorf("config.rbac.operators contains empty worker id")
		}
	}
	if c.Defaults.Priority != "" {
		if _, err := domain.ParsePriority(c.Defaults.Priority); err != nil {
			return fmt.Errorf("config.defaults.priority: %w", err)
		}
	}
	return nil
}

// ExpandRoles resolves role names into the union of their permissions.
// Unknown role names are skipped; the worker just holds fewer grants.
func (c *Config) ExpandRoles(roles []string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, name := range roles {
		role, ok := c.RBAC.Roles[name]
		if !ok {
			continue
		}
		for _, perm := range role.Permissions {
			if _, dup := seen[perm]; dup {
				continue
			}
			seen[perm] = struct{}{}
			out = append(out, perm)
		}
	}
	return out
}

// IsOperator reports whether the worker id is listed as an operator.
func (c *Config) IsOperator(workerID string) bool {
	for _, id := range c.RBAC.Operators {
		if id == workerID {
			return true
		}
	}
	return false
}

// DefaultPriority returns the configured default priority, falling back
// to the domain default when unset.
func (c *Config) DefaultPriority() domain.Priority {
	if c == nil || c.Defaults.Priority == "" {
		return domain.DefaultPriority
	}
	p, err := domain.ParsePriority(c.Defaults.Priority)
	if err != nil {
		return domain.DefaultPriority
	}
	return p
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "taskline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(workspaceID string) string {
	return fmt.Sprintf(defaultTemplate, workspaceID)
}

// Default returns the default Config struct for a workspace.
func Default(workspaceID string) *Config {
	var cfg Config
	cfg.Workspace.ID = workspaceID
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(workspaceID))).Decode(&cfg)
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
  environment: dev

rbac:
  roles:
    lead:
      description: "Plans work, approves deliverables, manages any task"
      permissions:
        - task:create
        - task:read
        - task:update
        - task:delete
        - task:start
        - task:complete
        - task:approve
        - task:reopen
        - task:assign
        - task:move
        - task:manage
        - project:create
        - project:read
        - project:update
        - project:archive
        - project:members
        - worker:read
        - event:read
    builder:
      description: "Executes assigned tasks"
      permissions:
        - task:read
        - task:create
        - task:update
        - task:start
        - task:complete
        - project:read
        - worker:read
    reviewer:
      description: "Signs off finished work"
      permissions:
        - task:read
        - task:approve
        - project:read
        - worker:read
        - event:read
  operators:
    - root

defaults:
  priority: P2
`
