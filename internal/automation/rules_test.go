package automation

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/miradorstack/mirador-heal/internal/models"
)

func writeRulePack(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write rule pack: %v", err)
	}
	return path
}

func TestLoadRulesFromFile(t *testing.T) {
	path := writeRulePack(t, `
rules:
  - id: scale_checkout
    name: Scale checkout under load
    operation: scaling
    level: automatic
    trigger:
      cpu_usage_percent: 75
    params:
      service: checkout
    cooldown: 5m
    max_executions_per_hour: 4
  - id: weekly_audit
    operation: security
    level: emergency_only
    trigger:
      interval_hours: 168
    params:
      service: api
    max_executions_per_hour: 1
    disabled: true
`)

	rules, err := LoadRules(path, testLogger())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("rules = %d, want 2", len(rules))
	}

	first := rules[0]
	if first.RuleID != "scale_checkout" || first.OperationType != models.OperationScaling || first.Level != models.LevelAutomatic {
		t.Fatalf("rule = %+v", first)
	}
	if first.Cooldown != 5*time.Minute {
		t.Fatalf("cooldown = %s, want 5m", first.Cooldown)
	}
	if first.TriggerConditions["cpu_usage_percent"] != 75 {
		t.Fatalf("trigger = %v", first.TriggerConditions)
	}
	if first.ActionParameters["service"] != "checkout" {
		t.Fatalf("params = %v", first.ActionParameters)
	}
	if !first.Enabled {
		t.Fatal("rule without disabled flag must be enabled")
	}
	if rules[1].Enabled {
		t.Fatal("disabled rule must load as disabled")
	}
}

func TestLoadRulesEmptyPathUsesDefaults(t *testing.T) {
	rules, err := LoadRules("", testLogger())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(rules) != len(DefaultRules()) {
		t.Fatalf("rules = %d, want %d defaults", len(rules), len(DefaultRules()))
	}
}

func TestLoadRulesMissingFileUsesDefaults(t *testing.T) {
	rules, err := LoadRules(filepath.Join(t.TempDir(), "absent.yaml"), testLogger())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(rules) != len(DefaultRules()) {
		t.Fatalf("rules = %d, want %d defaults", len(rules), len(DefaultRules()))
	}
}

func TestLoadRulesRejectsBadSpecs(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"missing id", `
rules:
  - operation: backup
    level: automatic
    max_executions_per_hour: 1
`},
		{"unknown operation", `
rules:
  - id: r
    operation: teleport
    level: automatic
    max_executions_per_hour: 1
`},
		{"unknown level", `
rules:
  - id: r
    operation: backup
    level: yolo
    max_executions_per_hour: 1
`},
		{"non-positive cap", `
rules:
  - id: r
    operation: backup
    level: automatic
    max_executions_per_hour: 0
`},
		{"malformed yaml", `rules: [`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeRulePack(t, tc.yaml)
			if _, err := LoadRules(path, testLogger()); err == nil {
				t.Fatal("expected load error")
			}
		})
	}
}

func TestDefaultRulesAreValid(t *testing.T) {
	e, _ := newTestEngine(newFakeDriver(), nil, EngineConfig{})
	for _, rule := range DefaultRules() {
		if err := e.AddRule(rule); err != nil {
			t.Fatalf("default rule %s rejected: %v", rule.RuleID, err)
		}
	}
}
