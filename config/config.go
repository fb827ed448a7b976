package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Fleetwatch FleetwatchConfig `yaml:"fleetwatch"`
}

// FleetwatchConfig is the project configuration.
type FleetwatchConfig struct {
	Input       InputConfig       `yaml:"input"`
	Control     ControlConfig     `yaml:"control"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Registry    RegistryConfig    `yaml:"registry"`
	Enrichment  EnrichmentConfig  `yaml:"enrichment"`
	Rules       RulesConfig       `yaml:"rules"`
	Scoring     ScoringConfig     `yaml:"scoring"`
	Window      WindowConfig      `yaml:"window"`
	Correlator  CorrelatorConfig  `yaml:"correlator"`
	Suppression SuppressionConfig `yaml:"suppression"`
	Output      OutputConfig      `yaml:"output"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// InputConfig controls the inbound event queue.
type InputConfig struct {
	Redis RedisConfig `yaml:"redis"`
}

// ControlConfig controls the lifecycle-command queue. It shares the input
// Redis connection settings and only names its own list key.
type ControlConfig struct {
	Enabled bool   `yaml:"enabled"`
	Key     string `yaml:"key"`
}

// RedisConfig controls Redis list consumption.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	Key          string        `yaml:"key"`
	BlockTimeout time.Duration `yaml:"block_timeout"`
}

// PipelineConfig controls worker and flush behavior.
type PipelineConfig struct {
	Workers       int           `yaml:"workers"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// RegistryConfig controls the external asset-registry lookup.
type RegistryConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// EnrichmentConfig controls the optional explanation service.
type EnrichmentConfig struct {
	Enabled bool              `yaml:"enabled"`
	URL     string            `yaml:"url"`
	Timeout time.Duration     `yaml:"timeout"`
	Headers map[string]string `yaml:"headers"`
}

// RulesConfig controls Sigma-format correlation tagging.
type RulesConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// ScoringConfig controls the statistical detectors.
type ScoringConfig struct {
	Detector     string  `yaml:"detector"` // zscore|ewma|mad
	ZCritical    float64 `yaml:"z_critical"`
	EWMAAlpha    float64 `yaml:"ewma_alpha"`
	EWMAK        float64 `yaml:"ewma_k"`
	MADK         float64 `yaml:"mad_k"`
	MinBaseline  int     `yaml:"min_baseline"`
	BaselineSize int     `yaml:"baseline_size"`
	DefaultScore float64 `yaml:"default_score"`
}

// WindowConfig controls correlation windows.
type WindowConfig struct {
	Size          time.Duration `yaml:"size"`
	Grace         time.Duration `yaml:"grace"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// CorrelatorConfig controls group admission and escalation.
type CorrelatorConfig struct {
	AdmissionThreshold float64 `yaml:"admission_threshold"`
	EscalationCount    int     `yaml:"escalation_count"`
}

// SuppressionConfig controls the fingerprint cache.
type SuppressionConfig struct {
	Cooldown          time.Duration            `yaml:"cooldown"`
	TraceCooldown     time.Duration            `yaml:"trace_cooldown"`
	TTL               time.Duration            `yaml:"ttl"`
	SweepInterval     time.Duration            `yaml:"sweep_interval"`
	CategoryCooldowns map[string]time.Duration `yaml:"category_cooldowns"`
}

// OutputConfig controls the incident sink.
type OutputConfig struct {
	Mode  string            `yaml:"mode"` // file|http|redis
	File  FileOutputConfig  `yaml:"file"`
	HTTP  HTTPOutputConfig  `yaml:"http"`
	Redis RedisOutputConfig `yaml:"redis"`
}

// FileOutputConfig config for local JSONL output.
type FileOutputConfig struct {
	Path string `yaml:"path"`
}

// HTTPOutputConfig config for remote output.
type HTTPOutputConfig struct {
	URL     string            `yaml:"url"`
	Timeout time.Duration     `yaml:"timeout"`
	Headers map[string]string `yaml:"headers"`
}

// RedisOutputConfig config for Redis list publishing.
type RedisOutputConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
}

// MetricsConfig controls the Prometheus listener.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// LoggingConfig controls logging output.
type LoggingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	File    string `yaml:"file"`
	Console bool   `yaml:"console"`
}

// LoadConfig reads and parses a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Fleetwatch.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c *FleetwatchConfig) Validate() error {
	switch c.Scoring.Detector {
	case "", "zscore", "ewma", "mad":
	default:
		return fmt.Errorf("unknown scoring detector: %s", c.Scoring.Detector)
	}
	switch c.Output.Mode {
	case "", "file", "http", "redis":
	default:
		return fmt.Errorf("unknown output mode: %s", c.Output.Mode)
	}
	if c.Window.Size < 0 || c.Window.Grace < 0 {
		return fmt.Errorf("window size and grace must not be negative")
	}
	if c.Correlator.AdmissionThreshold < 0 || c.Correlator.AdmissionThreshold > 1 {
		return fmt.Errorf("correlator admission_threshold must be in [0,1]")
	}
	return nil
}
