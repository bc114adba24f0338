package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quarterplan/internal/config"
	"quarterplan/internal/domain/catalog"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default("acme")
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "acme", cfg.Tenant.ID)
	assert.True(t, cfg.RejectsDependencyCycles())
	assert.Equal(t, 110.0, cfg.Thresholds().Overload)
	assert.Equal(t, 70.0, cfg.Thresholds().Slack)
	assert.Equal(t, "green", cfg.HintRules().GreenHealth)

	cat, err := cfg.BuildCatalog()
	require.NoError(t, err)
	assert.Empty(t, cat.Missing())

	draft, err := cat.Initial(catalog.ScenarioStatus)
	require.NoError(t, err)
	assert.Equal(t, "draft", draft.Slug())
	legacy, err := cat.Lookup(catalog.DependencyRisk, "HIGH")
	require.NoError(t, err)
	assert.Equal(t, "high", legacy.Slug())
}

func TestGenerateDefaultRoundTrips(t *testing.T) {
	cfg, err := config.FromYAML([]byte(config.GenerateDefault("globex")))
	require.NoError(t, err)
	assert.Equal(t, "globex", cfg.Tenant.ID)
	assert.Contains(t, cfg.RBAC.Roles["owner"].Permissions, "rbac.manage")
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*config.Config){
		"missing tenant": func(c *config.Config) { c.Tenant.ID = "" },
		"missing category": func(c *config.Config) {
			delete(c.Catalog, catalog.CommitmentTier)
		},
		"no closed cycle status": func(c *config.Config) {
			entries := c.Catalog[catalog.PlanningCycleStatus]
			for i := range entries {
				entries[i].Closed = false
			}
		},
		"unknown transition": func(c *config.Config) {
			c.Catalog[catalog.ScenarioStatus][0].Transitions = []string{"deleted"}
		},
		"slack above overload": func(c *config.Config) { c.Insights.SlackPercent = 120 },
		"unknown green slug":   func(c *config.Config) { c.Insights.GreenHealth = "emerald" },
		"rbac without owner": func(c *config.Config) {
			delete(c.RBAC.Roles, "owner")
		},
		"webhook without url": func(c *config.Config) {
			c.Webhooks = []config.WebhookConfig{{Events: []string{"squad.create"}}}
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := config.Default("acme")
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestPlanningPolicyCanDisableCycleCheck(t *testing.T) {
	data := strings.Replace(config.GenerateDefault("acme"), "reject_dependency_cycles: true", "reject_dependency_cycles: false", 1)
	cfg, err := config.FromYAML([]byte(data))
	require.NoError(t, err)
	assert.False(t, cfg.RejectsDependencyCycles())
}

func TestFromFileTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tenant.toml")
	body := `
[tenant]
id = "acme"

[insights]
overload_percent = 120.0
slack_percent = 60.0
green_health = "ok"

[planning]
reject_dependency_cycles = false

[[catalog.squad_status]]
slug = "active"
initial = true

[[catalog.epic_status]]
slug = "backlog"

[[catalog.epic_health]]
slug = "ok"

[[catalog.feature_status]]
slug = "draft"

[[catalog.planning_cycle_status]]
slug = "open"
initial = true

[[catalog.planning_cycle_status]]
slug = "closed"
closed = true

[[catalog.scenario_status]]
slug = "draft"
initial = true
transitions = ["published"]

[[catalog.scenario_status]]
slug = "published"
transitions = ["archived"]

[[catalog.scenario_status]]
slug = "archived"
closed = true

[[catalog.dependency_type]]
slug = "hard"

[[catalog.dependency_risk]]
slug = "high"

[[catalog.commitment_tier]]
slug = "committed"

[[catalog.commitment_tier]]
slug = "targeted"

[[catalog.commitment_tier]]
slug = "aspirational"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := config.FromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 120.0, cfg.Thresholds().Overload)
	assert.Equal(t, "ok", cfg.HintRules().GreenHealth)
	assert.False(t, cfg.RejectsDependencyCycles())
	assert.Len(t, cfg.Catalog[catalog.ScenarioStatus], 3)
}

func TestLoadMissingWorkspaceConfig(t *testing.T) {
	_, err := config.Load(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "qp config import")
}

func TestLoadServerEnv(t *testing.T) {
	t.Setenv("QP_ADDR", ":9999")
	t.Setenv("QP_WEBHOOK_INTERVAL", "500ms")
	t.Setenv("QP_OTEL_ENABLED", "true")
	env, err := config.LoadServerEnv()
	require.NoError(t, err)
	assert.Equal(t, ":9999", env.Addr)
	assert.Equal(t, "/v1", env.BasePath)
	assert.Equal(t, 500*time.Millisecond, env.WebhookInterval)
	assert.True(t, env.OTelEnabled)

	t.Setenv("QP_WEBHOOK_INTERVAL", "0s")
	_, err = config.LoadServerEnv()
	assert.Error(t, err)
}
