package automation

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-heal/internal/models"
)

// ruleFile is the YAML root structure for an automation rule pack.
type ruleFile struct {
	Rules []ruleSpec `yaml:"rules"`
}

type ruleSpec struct {
	ID                   string             `yaml:"id"`
	Name                 string             `yaml:"name"`
	Operation            string             `yaml:"operation"`
	Level                string             `yaml:"level"`
	Trigger              map[string]float64 `yaml:"trigger"`
	Params               map[string]string  `yaml:"params"`
	Cooldown             time.Duration      `yaml:"cooldown"`
	MaxExecutionsPerHour int                `yaml:"max_executions_per_hour"`
	Disabled             bool               `yaml:"disabled"`
}

// LoadRules reads an automation rule pack from path. An empty or missing path
// yields the compiled-in defaults. Unknown operation types or automation
// levels are rejected here, before any loop starts.
func LoadRules(path string, logger *slog.Logger) ([]models.AutomationRule, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		return DefaultRules(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Info("rule pack not found, using defaults", slog.String("path", path))
			return DefaultRules(), nil
		}
		return nil, fmt.Errorf("read rule pack: %w", err)
	}

	var file ruleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse rule pack: %w", err)
	}

	rules := make([]models.AutomationRule, 0, len(file.Rules))
	for _, spec := range file.Rules {
		rule, err := spec.toRule()
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", spec.ID, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func (s ruleSpec) toRule() (models.AutomationRule, error) {
	if s.ID == "" {
		return models.AutomationRule{}, fmt.Errorf("id is required")
	}
	operation := models.OperationType(s.Operation)
	if !operation.Valid() {
		return models.AutomationRule{}, fmt.Errorf("unknown operation type %q", s.Operation)
	}
	level := models.AutomationLevel(s.Level)
	if !level.Valid() {
		return models.AutomationRule{}, fmt.Errorf("unknown automation level %q", s.Level)
	}
	if s.MaxExecutionsPerHour <= 0 {
		return models.AutomationRule{}, fmt.Errorf("max_executions_per_hour must be positive")
	}
	if s.Cooldown < 0 {
		return models.AutomationRule{}, fmt.Errorf("cooldown must be non-negative")
	}

	return models.AutomationRule{
		RuleID:               s.ID,
		Name:                 s.Name,
		OperationType:        operation,
		Level:                level,
		TriggerConditions:    s.Trigger,
		ActionParameters:     s.Params,
		Cooldown:             s.Cooldown,
		MaxExecutionsPerHour: s.MaxExecutionsPerHour,
		Enabled:              !s.Disabled,
	}, nil
}

// DefaultRules returns the rule set installed when no pack is configured.
func DefaultRules() []models.AutomationRule {
	return []models.AutomationRule{
		{
			RuleID:               "scale_up_high_cpu",
			Name:                 "Scale up on sustained high CPU",
			OperationType:        models.OperationScaling,
			Level:                models.LevelAutomatic,
			TriggerConditions:    map[string]float64{"cpu_usage_percent": 80},
			ActionParameters:     map[string]string{"service": "api"},
			Cooldown:             5 * time.Minute,
			MaxExecutionsPerHour: 4,
			Enabled:              true,
		},
		{
			RuleID:               "backup_daily",
			Name:                 "Daily full backup",
			OperationType:        models.OperationBackup,
			Level:                models.LevelAutomatic,
			TriggerConditions:    map[string]float64{"interval_hours": 24},
			ActionParameters:     map[string]string{"scope": "full"},
			Cooldown:             time.Hour,
			MaxExecutionsPerHour: 1,
			Enabled:              true,
		},
		{
			RuleID:               "apply_optimizations",
			Name:                 "Apply recommended optimizations",
			OperationType:        models.OperationOptimization,
			Level:                models.LevelSemiAutomatic,
			ActionParameters:     map[string]string{"service": "api"},
			Cooldown:             30 * time.Minute,
			MaxExecutionsPerHour: 2,
			Enabled:              true,
		},
		{
			RuleID:               "maintenance_scratch_cleanup",
			Name:                 "Periodic scratch space cleanup",
			OperationType:        models.OperationMaintenance,
			Level:                models.LevelAutomatic,
			TriggerConditions:    map[string]float64{"interval_hours": 12},
			ActionParameters:     map[string]string{"service": "api"},
			Cooldown:             time.Hour,
			MaxExecutionsPerHour: 1,
			Enabled:              true,
		},
		{
			RuleID:               "security_config_audit",
			Name:                 "Configuration audit under incident pressure",
			OperationType:        models.OperationSecurity,
			Level:                models.LevelEmergencyOnly,
			TriggerConditions:    map[string]float64{"interval_hours": 1},
			ActionParameters:     map[string]string{"service": "api"},
			Cooldown:             30 * time.Minute,
			MaxExecutionsPerHour: 2,
			Enabled:              true,
		},
	}
}
