package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	RiskGraph RiskGraphConfig `yaml:"riskgraph"`
}

// RiskGraphConfig is the project configuration.
type RiskGraphConfig struct {
	Input       InputConfig       `yaml:"input"`
	API         APIConfig         `yaml:"api"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Ingest      IngestConfig      `yaml:"ingest"`
	Features    FeaturesConfig    `yaml:"features"`
	Anomaly     AnomalyConfig     `yaml:"anomaly"`
	UEBA        UEBAConfig        `yaml:"ueba"`
	Correlation CorrelationConfig `yaml:"correlation"`
	Risk        RiskConfig        `yaml:"risk"`
	Playbook    PlaybookConfig    `yaml:"playbook"`
	Rules       RulesConfig       `yaml:"rules"`
	Output      OutputConfig      `yaml:"output"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// InputConfig controls event sources beyond the HTTP boundary.
type InputConfig struct {
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig controls the optional Redis list input.
type RedisConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	Key          string        `yaml:"key"`
	BlockTimeout time.Duration `yaml:"block_timeout"`
}

// APIConfig controls the HTTP boundary.
type APIConfig struct {
	Addr string `yaml:"addr"`
}

// PipelineConfig controls pipeline behavior.
type PipelineConfig struct {
	Workers       int           `yaml:"workers" validate:"gte=0"`
	QueueSize     int           `yaml:"queue_size" validate:"gte=0"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// IngestConfig controls event admission into entity windows.
type IngestConfig struct {
	MaxLateness      time.Duration `yaml:"max_lateness"`
	RetentionHorizon time.Duration `yaml:"retention_horizon"`
}

// FeaturesConfig controls feature aggregation.
type FeaturesConfig struct {
	Window time.Duration `yaml:"window"`
	// Path to a YAML file with extra feature definitions; the built-in
	// set is always present.
	DefinitionsPath string `yaml:"definitions_path"`
}

// AnomalyConfig controls the anomaly scorer.
type AnomalyConfig struct {
	FlagThreshold     float64 `yaml:"flag_threshold" validate:"gte=0,lte=1"`
	FeatureZThreshold float64 `yaml:"feature_z_threshold" validate:"gte=0"`
}

// UEBAConfig controls baseline maintenance and deviation tracking.
type UEBAConfig struct {
	BaselineDecayHalfLife time.Duration `yaml:"baseline_decay_half_life"`
	MinConfidenceSamples  float64       `yaml:"min_confidence_samples" validate:"gte=0"`
}

// CorrelationConfig controls incident grouping.
type CorrelationConfig struct {
	Window           time.Duration `yaml:"correlation_window_duration"`
	BridgeAttributes []string      `yaml:"bridge_attributes"`
	RarityThreshold  int           `yaml:"rarity_threshold" validate:"gte=0"`
	RarityCacheSize  int           `yaml:"rarity_cache_size" validate:"gte=0"`
}

// RiskWeights are the policy weights of the composite risk formula.
// Weights are validated for range and total, not for a single correct
// value; the static total must not exceed 100 so signal contributions
// reconstruct the risk score without clamping.
type RiskWeights struct {
	Anomaly          float64 `yaml:"anomaly" validate:"gte=0"`
	UEBA             float64 `yaml:"ueba" validate:"gte=0"`
	FailedLoginBurst float64 `yaml:"failed_login_burst" validate:"gte=0"`
	AfterHoursAccess float64 `yaml:"after_hours_access" validate:"gte=0"`
	NewDevice        float64 `yaml:"new_device" validate:"gte=0"`
	ImpossibleTravel float64 `yaml:"impossible_travel" validate:"gte=0"`
	RuleMatch        float64 `yaml:"rule_match" validate:"gte=0"`
}

// Total returns the maximum reachable risk score under these weights.
func (w RiskWeights) Total() float64 {
	return w.Anomaly + w.UEBA + w.FailedLoginBurst + w.AfterHoursAccess +
		w.NewDevice + w.ImpossibleTravel + w.RuleMatch
}

// RiskConfig controls risk/fidelity scoring.
type RiskConfig struct {
	Weights     RiskWeights   `yaml:"weights"`
	BurstCount  int           `yaml:"burst_count" validate:"gte=0"`
	BurstWindow time.Duration `yaml:"burst_window"`
	TravelGap   time.Duration `yaml:"travel_gap"`
}

// PlaybookConfig controls selection and escalation.
type PlaybookConfig struct {
	TablePath                 string         `yaml:"table_path"`
	EscalationRiskThreshold   float64        `yaml:"escalation_risk_threshold" validate:"gte=0,lte=100"`
	EscalationFidelityThresh  float64        `yaml:"escalation_fidelity_threshold" validate:"gte=0,lte=100"`
	AdvancedGenerationTimeout time.Duration  `yaml:"advanced_generation_timeout"`
	Advanced                  AdvancedConfig `yaml:"advanced"`
}

// AdvancedConfig controls the advanced-generation collaborator client.
type AdvancedConfig struct {
	Enabled bool              `yaml:"enabled"`
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
}

// RulesConfig controls the optional Sigma rule engine.
type RulesConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// OutputConfig controls the finalized-incident sink.
type OutputConfig struct {
	Mode       string                 `yaml:"mode" validate:"omitempty,oneof=none file http clickhouse"`
	File       FileOutputConfig       `yaml:"file"`
	HTTP       HTTPOutputConfig       `yaml:"http"`
	ClickHouse ClickHouseOutputConfig `yaml:"clickhouse"`
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

// ClickHouseOutputConfig config for ClickHouse HTTP JSONEachRow writes.
type ClickHouseOutputConfig struct {
	URL      string            `yaml:"url"`
	Database string            `yaml:"database"`
	Table    string            `yaml:"table"`
	Username string            `yaml:"username"`
	Password string            `yaml:"password"`
	Timeout  time.Duration     `yaml:"timeout"`
	Headers  map[string]string `yaml:"headers"`
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

	return &cfg, nil
}

// Validate checks ranges and weight normalization.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}

	if total := c.RiskGraph.Risk.Weights.Total(); total > 100 {
		return fmt.Errorf("risk weights total %.2f exceeds 100", total)
	}
	return nil
}
