package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"quarterplan/internal/domain/catalog"
	"quarterplan/internal/insight"
)

// Config models quarterplan.yml, the per-tenant configuration document.
type Config struct {
	Tenant struct {
		ID   string `yaml:"id" toml:"id" json:"id"`
		Name string `yaml:"name,omitempty" toml:"name" json:"name,omitempty"`
	} `yaml:"tenant" toml:"tenant" json:"tenant"`
	Catalog  catalog.Definition `yaml:"catalog" toml:"catalog" json:"catalog"`
	Insights InsightsConfig     `yaml:"insights" toml:"insights" json:"insights"`
	Planning PlanningConfig     `yaml:"planning" toml:"planning" json:"planning"`
	RBAC     struct {
		Roles map[string]RBACRole `yaml:"roles" toml:"roles" json:"roles"`
	} `yaml:"rbac" toml:"rbac" json:"rbac"`
	Webhooks []WebhookConfig `yaml:"webhooks,omitempty" toml:"webhooks" json:"webhooks,omitempty"`
}

type InsightsConfig struct {
	OverloadPercent    float64 `yaml:"overload_percent" toml:"overload_percent" json:"overload_percent"`
	SlackPercent       float64 `yaml:"slack_percent" toml:"slack_percent" json:"slack_percent"`
	GreenHealth        string  `yaml:"green_health" toml:"green_health" json:"green_health"`
	LowProgressPercent float64 `yaml:"low_progress_percent" toml:"low_progress_percent" json:"low_progress_percent"`
}

type PlanningConfig struct {
	RejectDependencyCycles *bool `yaml:"reject_dependency_cycles,omitempty" toml:"reject_dependency_cycles" json:"reject_dependency_cycles,omitempty"`
}

type RBACRole struct {
	Description string   `yaml:"description" toml:"description" json:"description"`
	Permissions []string `yaml:"permissions" toml:"permissions" json:"permissions"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url" toml:"url" json:"url"`
	Events         []string `yaml:"events,omitempty" toml:"events" json:"events,omitempty"`
	Secret         string   `yaml:"secret,omitempty" toml:"secret" json:"secret,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty" toml:"enabled" json:"enabled,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty" toml:"timeout_seconds" json:"timeout_seconds,omitempty"`
	MaxRetries     int      `yaml:"max_retries,omitempty" toml:"max_retries" json:"max_retries,omitempty"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with qp config import --file <path>", path)
		}
		return nil, err
	}
	return FromFile(path)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Tenant.ID) == "" {
		return fmt.Errorf("config.tenant.id is required")
	}
	cat, err := catalog.New(c.Catalog)
	if err != nil {
		return fmt.Errorf("config.catalog: %w", err)
	}
	if missing := cat.Missing(); len(missing) > 0 {
		return fmt.Errorf("config.catalog is missing categories %v", missing)
	}
	for _, category := range []catalog.Category{catalog.PlanningCycleStatus, catalog.ScenarioStatus} {
		if !hasClosed(cat.Values(category)) {
			return fmt.Errorf("config.catalog.%s needs a closed entry", category)
		}
	}
	for _, slug := range []string{"committed", "targeted", "aspirational"} {
		if _, err := cat.Lookup(catalog.CommitmentTier, slug); err != nil {
			return fmt.Errorf("config.catalog.commitment_tier must define %s", slug)
		}
	}
	for _, slug := range []string{"published", "archived"} {
		if _, err := cat.Lookup(catalog.ScenarioStatus, slug); err != nil {
			return fmt.Errorf("config.catalog.scenario_status must define %s", slug)
		}
	}
	in := c.Insights
	if in.OverloadPercent < 0 || in.SlackPercent < 0 {
		return fmt.Errorf("config.insights thresholds must not be negative")
	}
	if th := c.Thresholds(); th.Slack >= th.Overload {
		return fmt.Errorf("config.insights.slack_percent must be below overload_percent")
	}
	if in.LowProgressPercent < 0 || in.LowProgressPercent > 100 {
		return fmt.Errorf("config.insights.low_progress_percent must be within [0, 100]")
	}
	if in.GreenHealth != "" {
		if _, err := cat.Lookup(catalog.EpicHealth, in.GreenHealth); err != nil {
			return fmt.Errorf("config.insights.green_health: %w", err)
		}
	}
	if len(c.RBAC.Roles) > 0 {
		if _, ok := c.RBAC.Roles["owner"]; !ok {
			return fmt.Errorf("config.rbac.roles must include owner")
		}
		for roleID, role := range c.RBAC.Roles {
			if roleID == "" {
				return fmt.Errorf("config.rbac.roles contains empty role id")
			}
			for _, perm := range role.Permissions {
				if perm == "" {
					return fmt.Errorf("role %s has empty permission id", roleID)
				}
			}
		}
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 || hook.MaxRetries < 0 {
			return fmt.Errorf("config.webhooks[%d] timeout and retries must not be negative", i)
		}
	}
	return nil
}

// BuildCatalog indexes the catalog section.
func (c *Config) BuildCatalog() (*catalog.Catalog, error) {
	return catalog.New(c.Catalog)
}

// RejectsDependencyCycles defaults to true.
func (c *Config) RejectsDependencyCycles() bool {
	if c == nil || c.Planning.RejectDependencyCycles == nil {
		return true
	}
	return *c.Planning.RejectDependencyCycles
}

func (c *Config) Thresholds() insight.Thresholds {
	th := insight.DefaultThresholds()
	if c == nil {
		return th
	}
	if c.Insights.OverloadPercent > 0 {
		th.Overload = c.Insights.OverloadPercent
	}
	if c.Insights.SlackPercent > 0 {
		th.Slack = c.Insights.SlackPercent
	}
	return th
}

func (c *Config) HintRules() insight.HintRules {
	rules := insight.DefaultHintRules()
	if c == nil {
		return rules
	}
	if c.Insights.GreenHealth != "" {
		rules.GreenHealth = c.Insights.GreenHealth
	}
	if c.Insights.LowProgressPercent > 0 {
		rules.LowProgress = c.Insights.LowProgressPercent
	}
	return rules
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "quarterplan.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(tenantID string) string {
	return fmt.Sprintf(defaultTemplate, tenantID)
}

// Default returns the default Config struct for a tenant.
func Default(tenantID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(tenantID))).Decode(&cfg)
	cfg.Tenant.ID = tenantID
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

// FromTOML parses and validates config from raw TOML bytes.
func FromTOML(data []byte) (*Config, error) {
	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, fmt.Errorf("invalid config toml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads config from path; files ending in .toml are parsed as TOML,
// everything else as YAML.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FromTOML(data)
	}
	return FromYAML(data)
}

// ToYAML renders the config for export.
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

func hasClosed(values []catalog.Value) bool {
	for _, v := range values {
		if v.IsClosed() {
			return true
		}
	}
	return false
}

const defaultTemplate = `tenant:
  id: %s

catalog:
  squad_status:
    - {slug: active, label: Ativa, legacy: ATIVA, initial: true}
    - {slug: inactive, label: Inativa, legacy: INATIVA, closed: true}
  epic_status:
    - {slug: backlog, label: Backlog, legacy: BACKLOG, initial: true}
    - {slug: planned, label: Planejado, legacy: PLANEJADO}
    - {slug: in_progress, label: Em andamento, legacy: EM_ANDAMENTO}
    - {slug: done, label: Concluído, legacy: CONCLUIDO, closed: true}
    - {slug: canceled, label: Cancelado, legacy: CANCELADO, closed: true}
  epic_health:
    - {slug: green, label: Verde, legacy: GREEN, initial: true}
    - {slug: yellow, label: Amarelo, legacy: YELLOW}
    - {slug: red, label: Vermelho, legacy: RED}
  feature_status:
    - {slug: draft, label: Rascunho, legacy: RASCUNHO, initial: true}
    - {slug: ready, label: Pronta, legacy: PRONTA}
    - {slug: in_progress, label: Em andamento, legacy: EM_ANDAMENTO}
    - {slug: done, label: Concluída, legacy: CONCLUIDA, closed: true}
  planning_cycle_status:
    - {slug: not_started, label: Não iniciado, legacy: NAO_INICIADO, initial: true}
    - {slug: in_progress, label: Em andamento, legacy: EM_ANDAMENTO}
    - {slug: closed, label: Encerrado, legacy: ENCERRADO, closed: true}
  scenario_status:
    - {slug: draft, label: Rascunho, legacy: RASCUNHO, initial: true, transitions: [published]}
    - {slug: published, label: Publicado, legacy: PUBLICADO, transitions: [archived]}
    - {slug: archived, label: Arquivado, legacy: ARQUIVADO, closed: true}
  dependency_type:
    - {slug: hard, label: Hard, legacy: HARD}
    - {slug: soft, label: Soft, legacy: SOFT}
    - {slug: resource, label: Resource, legacy: RESOURCE}
  dependency_risk:
    - {slug: high, label: Alto, legacy: HIGH}
    - {slug: medium, label: Médio, legacy: MEDIUM}
    - {slug: low, label: Baixo, legacy: LOW}
  commitment_tier:
    - {slug: committed, label: Committed, metadata: {confidence: high}}
    - {slug: targeted, label: Targeted, metadata: {confidence: medium}}
    - {slug: aspirational, label: Aspirational, metadata: {confidence: low}}

insights:
  overload_percent: 110
  slack_percent: 70
  green_health: green
  low_progress_percent: 25

planning:
  reject_dependency_cycles: true

rbac:
  roles:
    owner:
      description: "Full access to the tenant"
      permissions:
        - tenant.read
        - tenant.config.write
        - tenant.delete
        - rbac.manage
        - squad.write
        - capacity.write
        - epic.write
        - feature.write
        - dependency.write
        - cycle.write
        - scenario.write
        - commitment.write
        - events.read
    planner:
      description: "Runs planning cycles and maintains the plan"
      permissions:
        - tenant.read
        - squad.write
        - capacity.write
        - epic.write
        - feature.write
        - dependency.write
        - cycle.write
        - scenario.write
        - commitment.write
        - events.read
    viewer:
      description: "Read-only access"
      permissions:
        - tenant.read
`
