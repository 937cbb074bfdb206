package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-heal/internal/models"
)

// Config captures the settings required to boot the heal engine.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Clients    ClientsConfig    `yaml:"clients"`
	Logging    LoggingConfig    `yaml:"logging"`
	Rules      RulesConfig      `yaml:"rules"`
	Cache      CacheConfig      `yaml:"cache"`
	Detection  DetectionConfig  `yaml:"detection"`
	Automation AutomationConfig `yaml:"automation"`
	Scaling    ScalingConfig    `yaml:"scaling"`
	Topology   []ServiceSpec    `yaml:"topology"`
	Patterns   []PatternSpec    `yaml:"patterns"`
}

// ServerConfig controls the metrics listener and shutdown behaviour.
type ServerConfig struct {
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// ClientsConfig groups collaborator integrations.
type ClientsConfig struct {
	Core CoreClientConfig `yaml:"core"`
}

// CoreClientConfig configures access to the mirador-core data APIs.
type CoreClientConfig struct {
	BaseURL             string        `yaml:"baseURL"`
	SummaryPath         string        `yaml:"summaryPath"`
	HistoryPath         string        `yaml:"historyPath"`
	ErrorStatsPath      string        `yaml:"errorStatsPath"`
	RecommendationsPath string        `yaml:"recommendationsPath"`
	Timeout             time.Duration `yaml:"timeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// RulesConfig controls rule-pack loading for the automation engine.
type RulesConfig struct {
	Path string `yaml:"path"`
}

// CacheConfig controls Redis-backed caching of collaborator responses.
type CacheConfig struct {
	Enabled            bool          `yaml:"enabled"`
	Addr               string        `yaml:"addr"`
	Username           string        `yaml:"username"`
	Password           string        `yaml:"password"`
	DB                 int           `yaml:"db"`
	DialTimeout        time.Duration `yaml:"dialTimeout"`
	ReadTimeout        time.Duration `yaml:"readTimeout"`
	WriteTimeout       time.Duration `yaml:"writeTimeout"`
	MaxRetries         int           `yaml:"maxRetries"`
	TLS                bool          `yaml:"tls"`
	SummaryTTL         time.Duration `yaml:"summaryTTL"`
	ErrorStatsTTL      time.Duration `yaml:"errorStatsTTL"`
	RecommendationsTTL time.Duration `yaml:"recommendationsTTL"`
}

// DetectionConfig tunes the fault detection loop.
type DetectionConfig struct {
	TickInterval       time.Duration `yaml:"tickInterval"`
	SampleInterval     time.Duration `yaml:"sampleInterval"`
	BaselineMinSamples int           `yaml:"baselineMinSamples"`
	HistorySize        int           `yaml:"historySize"`
}

// AutomationConfig tunes the automation evaluation loop.
type AutomationConfig struct {
	EvaluationInterval      time.Duration `yaml:"evaluationInterval"`
	MaxConcurrentOperations int           `yaml:"maxConcurrentOperations"`
	MaxRecoveriesPerHour    int           `yaml:"maxRecoveriesPerHour"`
	RecoveryOptOut          []string      `yaml:"recoveryOptOut"`
}

// ScalingConfig holds the default scaling policy applied to every service.
type ScalingConfig struct {
	MinInstances   int           `yaml:"minInstances"`
	MaxInstances   int           `yaml:"maxInstances"`
	StartInstances int           `yaml:"startInstances"`
	UpCooldown     time.Duration `yaml:"upCooldown"`
	DownCooldown   time.Duration `yaml:"downCooldown"`
}

// ServiceSpec declares a service and its dependencies for the topology graph.
type ServiceSpec struct {
	Name         string           `yaml:"name"`
	Dependencies []DependencySpec `yaml:"dependencies"`
}

// DependencySpec declares one dependency edge.
type DependencySpec struct {
	Name             string        `yaml:"name"`
	Type             string        `yaml:"type"`
	TimeoutThreshold time.Duration `yaml:"timeoutThreshold"`
	FailureThreshold int           `yaml:"failureThreshold"`
}

// PatternSpec seeds the anomaly pattern registry. Type is the pattern
// category ("performance", "resource", "cascade"); features name the metrics
// the anomaly score averages over.
type PatternSpec struct {
	ID        string   `yaml:"id"`
	Type      string   `yaml:"type"`
	Features  []string `yaml:"features"`
	Threshold float64  `yaml:"threshold"`
}

var patternCategories = map[string]bool{
	"performance": true,
	"resource":    true,
	"cascade":     true,
}

// Load initialises Config from a YAML file plus environment overrides, then
// validates the closed enumerations so bad values fail the boot rather than a
// later tick.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("MIRADOR_HEAL_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Clients: ClientsConfig{
			Core: CoreClientConfig{
				SummaryPath:         "/api/v1/heal/metrics/summary",
				HistoryPath:         "/api/v1/heal/metrics/history",
				ErrorStatsPath:      "/api/v1/heal/errors",
				RecommendationsPath: "/api/v1/heal/recommendations",
				Timeout:             5 * time.Second,
			},
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Rules:   RulesConfig{Path: "configs/rules/default.yaml"},
		Cache: CacheConfig{
			Enabled:            false,
			DialTimeout:        2 * time.Second,
			ReadTimeout:        500 * time.Millisecond,
			WriteTimeout:       500 * time.Millisecond,
			MaxRetries:         2,
			SummaryTTL:         5 * time.Second,
			ErrorStatsTTL:      30 * time.Second,
			RecommendationsTTL: time.Minute,
		},
		Detection: DetectionConfig{
			TickInterval:       10 * time.Second,
			SampleInterval:     10 * time.Second,
			BaselineMinSamples: 10,
			HistorySize:        1000,
		},
		Automation: AutomationConfig{
			EvaluationInterval:      time.Minute,
			MaxConcurrentOperations: 3,
			MaxRecoveriesPerHour:    3,
		},
		Scaling: ScalingConfig{
			MinInstances:   1,
			MaxInstances:   10,
			StartInstances: 2,
			UpCooldown:     5 * time.Minute,
			DownCooldown:   10 * time.Minute,
		},
	}
}

func (c *Config) validate() error {
	if c.Detection.TickInterval <= 0 {
		return fmt.Errorf("detection.tickInterval must be positive")
	}
	if c.Detection.SampleInterval <= 0 {
		return fmt.Errorf("detection.sampleInterval must be positive")
	}
	if c.Automation.EvaluationInterval <= 0 {
		return fmt.Errorf("automation.evaluationInterval must be positive")
	}
	if c.Automation.MaxConcurrentOperations <= 0 {
		return fmt.Errorf("automation.maxConcurrentOperations must be positive")
	}
	if c.Scaling.MinInstances < 1 || c.Scaling.MaxInstances < c.Scaling.MinInstances {
		return fmt.Errorf("scaling bounds invalid: min=%d max=%d", c.Scaling.MinInstances, c.Scaling.MaxInstances)
	}

	for _, service := range c.Topology {
		if service.Name == "" {
			return fmt.Errorf("topology: service name is required")
		}
		for _, dep := range service.Dependencies {
			if dep.Name == "" {
				return fmt.Errorf("topology %s: dependency name is required", service.Name)
			}
			if !models.DependencyType(dep.Type).Valid() {
				return fmt.Errorf("topology %s -> %s: unknown dependency type %q", service.Name, dep.Name, dep.Type)
			}
		}
	}

	for _, pattern := range c.Patterns {
		if pattern.ID == "" {
			return fmt.Errorf("patterns: id is required")
		}
		if !patternCategories[pattern.Type] {
			return fmt.Errorf("pattern %s: unknown pattern type %q", pattern.ID, pattern.Type)
		}
		if len(pattern.Features) == 0 {
			return fmt.Errorf("pattern %s: at least one feature is required", pattern.ID)
		}
		if pattern.Threshold <= 0 || pattern.Threshold > 1 {
			return fmt.Errorf("pattern %s: threshold must be in (0, 1]", pattern.ID)
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MIRADOR_HEAL_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("MIRADOR_CORE_BASE_URL"); v != "" {
		cfg.Clients.Core.BaseURL = v
	}
	if v := os.Getenv("MIRADOR_CORE_SUMMARY_PATH"); v != "" {
		cfg.Clients.Core.SummaryPath = v
	}
	if v := os.Getenv("MIRADOR_CORE_HISTORY_PATH"); v != "" {
		cfg.Clients.Core.HistoryPath = v
	}
	if v := os.Getenv("MIRADOR_CORE_ERROR_STATS_PATH"); v != "" {
		cfg.Clients.Core.ErrorStatsPath = v
	}
	if v := os.Getenv("MIRADOR_CORE_RECOMMENDATIONS_PATH"); v != "" {
		cfg.Clients.Core.RecommendationsPath = v
	}
	if v := os.Getenv("MIRADOR_HEAL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MIRADOR_HEAL_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("MIRADOR_HEAL_RULES_PATH"); v != "" {
		cfg.Rules.Path = v
	}
	if v := os.Getenv("MIRADOR_HEAL_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("MIRADOR_HEAL_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
	if v := os.Getenv("MIRADOR_HEAL_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("MIRADOR_HEAL_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("MIRADOR_HEAL_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("MIRADOR_HEAL_CACHE_TLS"); strings.EqualFold(v, "true") || strings.EqualFold(v, "1") {
		cfg.Cache.TLS = true
	}
	if v := os.Getenv("MIRADOR_HEAL_DETECTION_TICK"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Detection.TickInterval = d
		}
	}
	if v := os.Getenv("MIRADOR_HEAL_SAMPLE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Detection.SampleInterval = d
		}
	}
	if v := os.Getenv("MIRADOR_HEAL_EVALUATION_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Automation.EvaluationInterval = d
		}
	}
	if v := os.Getenv("MIRADOR_HEAL_RECOVERY_OPT_OUT"); v != "" {
		parts := strings.Split(v, ",")
		optOut := make([]string, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				optOut = append(optOut, trimmed)
			}
		}
		cfg.Automation.RecoveryOptOut = optOut
	}
}
