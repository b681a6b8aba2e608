package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"shotline/internal/domain"
)

// Config models shotline.yml.
type Config struct {
	Server   ServerConfig    `yaml:"server"`
	QA       QAConfig        `yaml:"qa"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
	Seed     SeedConfig      `yaml:"seed"`
}

type ServerConfig struct {
	Addr     string     `yaml:"addr"`
	BasePath string     `yaml:"base_path"`
	Auth     AuthConfig `yaml:"auth"`
}

type AuthConfig struct {
	JWTSecret        string `yaml:"jwt_secret"`
	AllowActorHeader bool   `yaml:"allow_actor_header"`
}

type QAConfig struct {
	// Checklist is the template seeded into checks opened without an
	// explicit checklist.
	Checklist []ChecklistItemConfig `yaml:"checklist"`
}

type ChecklistItemConfig struct {
	Label    string `yaml:"label"`
	Required bool   `yaml:"required"`
}

// WebhookConfig names one endpoint the audit ledger is delivered to.
type WebhookConfig struct {
	URL    string   `yaml:"url"`
	Secret string   `yaml:"secret"`
	Events []string `yaml:"events"`
}

type SeedConfig struct {
	Orgs   []OrgSeed   `yaml:"orgs"`
	Actors []ActorSeed `yaml:"actors"`
}

type OrgSeed struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

type ActorSeed struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	Role string `yaml:"role"`
	Org  string `yaml:"org"`
}

// Load reads and validates config from the workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create it with sl init", path)
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
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	for i, item := range c.QA.Checklist {
		if strings.TrimSpace(item.Label) == "" {
			return fmt.Errorf("config.qa.checklist[%d] has an empty label", i)
		}
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		for _, evt := range hook.Events {
			if evt != string(domain.OutcomeApplied) && evt != string(domain.OutcomeRejected) {
				return fmt.Errorf("config.webhooks[%d] has unknown event %s", i, evt)
			}
		}
	}
	for i, org := range c.Seed.Orgs {
		if strings.TrimSpace(org.ID) == "" {
			return fmt.Errorf("config.seed.orgs[%d].id is required", i)
		}
	}
	for i, actor := range c.Seed.Actors {
		if strings.TrimSpace(actor.ID) == "" {
			return fmt.Errorf("config.seed.actors[%d].id is required", i)
		}
		if !domain.Role(actor.Role).Valid() {
			return fmt.Errorf("config.seed.actors[%d] has unknown role %s", i, actor.Role)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "shotline.yml")
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

const defaultTemplate = `server:
  addr: ":8170"
  base_path: /api/v1
  auth:
    jwt_secret: ""
    allow_actor_header: true

qa:
  checklist:
    - label: "All shots uploaded and readable"
      required: true
    - label: "Exposure and white balance corrected"
      required: true
    - label: "Framing matches the shot list"
      required: true
    - label: "No dust or sensor artifacts"
      required: true
    - label: "Edit notes attached"
      required: false

webhooks: []

seed:
  orgs:
    - id: studio
      name: Studio
  actors:
    - id: ops
      name: Operations
      role: admin
`
