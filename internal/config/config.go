// Package config loads the engine configuration from a YAML file with
// environment overrides, so deployments can keep secrets out of the file.
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

	"github.com/canopywatch/alert-engine/internal/cluster"
	"github.com/canopywatch/alert-engine/internal/domain"
	"github.com/canopywatch/alert-engine/internal/probe"
)

// Config captures everything the engine needs to boot.
type Config struct {
	Logging  LoggingConfig  `yaml:"logging"`
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Alerts   AlertsConfig   `yaml:"alerts"`
	Tiles    TilesConfig    `yaml:"tiles"`
	Run      RunConfig      `yaml:"run"`
	Cluster  ClusterConfig  `yaml:"cluster"`
	Probe    ProbeConfig    `yaml:"probe"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Serve    ServeConfig    `yaml:"serve"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// ServerConfig controls the operational HTTP listener of serve mode.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// DatabaseConfig locates the run and artifact store.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AlertsConfig configures the alert dataset source.
type AlertsConfig struct {
	BaseURL string        `yaml:"baseURL"`
	APIKey  string        `yaml:"apiKey"`
	Dataset string        `yaml:"dataset"`
	Timeout time.Duration `yaml:"timeout"`
}

// TilesConfig configures the tile-layer provider and its resolution cache.
type TilesConfig struct {
	BaseURL   string        `yaml:"baseURL"`
	Token     string        `yaml:"token"`
	Timeout   time.Duration `yaml:"timeout"`
	CacheSize int           `yaml:"cacheSize"`
}

// RunConfig are the analysis-run parameters.
type RunConfig struct {
	AOIPath       string   `yaml:"aoiPath"` // GeoJSON polygon of the study area
	WindowDays    int      `yaml:"windowDays"`
	MinConfidence string   `yaml:"minConfidence"`
	BufferMeters  float64  `yaml:"bufferMeters"`
	Recipes       []string `yaml:"recipes"`
	OutputDir     string   `yaml:"outputDir"`

	// Projection selects the metric frame for clustering and buffering.
	// Only "local_metric" is supported.
	Projection string `yaml:"projection"`
}

// ClusterConfig are the density-clustering parameters.
type ClusterConfig struct {
	Mode               string  `yaml:"mode"` // fixed | adaptive
	EpsMeters          float64 `yaml:"epsMeters"`
	MinMembers         int     `yaml:"minMembers"`
	AdaptiveMultiplier float64 `yaml:"adaptiveMultiplier"`
	MinEpsMeters       float64 `yaml:"minEpsMeters"`
	MaxEpsMeters       float64 `yaml:"maxEpsMeters"`
}

// ProbeConfig controls freshness checking.
type ProbeConfig struct {
	Timeout       time.Duration `yaml:"timeout"`
	MaxConcurrent int           `yaml:"maxConcurrent"`
	SampleZ       int           `yaml:"sampleZ"`
	SampleX       int           `yaml:"sampleX"`
	SampleY       int           `yaml:"sampleY"`

	// UnknownBudget promotes a ref to expired after this many consecutive
	// unknown probes. Zero keeps unknowns pending forever.
	UnknownBudget int `yaml:"unknownBudget"`
}

// KafkaConfig controls the optional run-summary publisher.
type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// ServeConfig controls the long-running maintenance mode.
type ServeConfig struct {
	CheckInterval time.Duration `yaml:"checkInterval"`
}

// Load initialises Config from a YAML file and environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("ALERTENGINE_CONFIG")
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

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Logging: LoggingConfig{Level: "info", JSON: false},
		Server: ServerConfig{
			Address:         ":8080",
			GracefulTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{Path: "alert-engine.db"},
		Alerts: AlertsConfig{
			BaseURL: "https://data-api.globalforestwatch.org",
			Dataset: "gfw_integrated_alerts",
			Timeout: 30 * time.Second,
		},
		Tiles: TilesConfig{
			BaseURL:   "https://tiles.globalforestwatch.org",
			Timeout:   15 * time.Second,
			CacheSize: 128,
		},
		Run: RunConfig{
			WindowDays:    90,
			MinConfidence: string(domain.ConfidenceHighest),
			BufferMeters:  2000,
			Recipes:       []string{"gfw_integrated_alerts"},
			OutputDir:     "artifacts",
			Projection:    "local_metric",
		},
		Cluster: ClusterConfig{
			Mode:               string(cluster.ModeFixed),
			EpsMeters:          2500,
			MinMembers:         3,
			AdaptiveMultiplier: 1.5,
			MinEpsMeters:       500,
			MaxEpsMeters:       10000,
		},
		Probe: ProbeConfig{
			Timeout:       5 * time.Second,
			MaxConcurrent: 8,
			SampleZ:       10,
			SampleX:       285,
			SampleY:       490,
		},
		Kafka: KafkaConfig{Topic: "alert-engine.run-summaries"},
		Serve: ServeConfig{CheckInterval: 6 * time.Hour},
	}
}

// Validate rejects configurations the engine cannot honor.
func (c *Config) Validate() error {
	switch c.Run.Projection {
	case "local_metric", "":
	case "degree_approximation", "degreeApproximation":
		// Planar math on raw degrees skews distances with latitude; the
		// engine only clusters and buffers in a local metric frame.
		return fmt.Errorf("config: projection %q is not supported, use local_metric", c.Run.Projection)
	default:
		return fmt.Errorf("config: unknown projection %q", c.Run.Projection)
	}

	switch cluster.Mode(c.Cluster.Mode) {
	case cluster.ModeFixed, cluster.ModeAdaptive, "":
	default:
		return fmt.Errorf("config: unknown cluster mode %q", c.Cluster.Mode)
	}
	if cluster.Mode(c.Cluster.Mode) != cluster.ModeAdaptive && c.Cluster.EpsMeters <= 0 {
		return fmt.Errorf("config: cluster epsMeters must be positive, got %g", c.Cluster.EpsMeters)
	}
	if c.Cluster.MinMembers < 1 {
		return fmt.Errorf("config: cluster minMembers must be >= 1, got %d", c.Cluster.MinMembers)
	}
	if c.Run.BufferMeters <= 0 {
		return fmt.Errorf("config: run bufferMeters must be positive, got %g", c.Run.BufferMeters)
	}
	if c.Run.WindowDays < 1 {
		return fmt.Errorf("config: run windowDays must be >= 1, got %d", c.Run.WindowDays)
	}
	if len(c.Run.Recipes) == 0 {
		return fmt.Errorf("config: at least one tile recipe is required")
	}

	switch domain.Confidence(c.Run.MinConfidence) {
	case domain.ConfidenceNominal, domain.ConfidenceHigh, domain.ConfidenceHighest:
	default:
		return fmt.Errorf("config: unknown minConfidence %q", c.Run.MinConfidence)
	}
	return nil
}

// ClusterSettings translates the YAML block into clustering inputs.
func (c *Config) ClusterSettings() cluster.Config {
	return cluster.Config{
		Mode:               cluster.Mode(c.Cluster.Mode),
		EpsMeters:          c.Cluster.EpsMeters,
		MinMembers:         c.Cluster.MinMembers,
		AdaptiveMultiplier: c.Cluster.AdaptiveMultiplier,
		MinEpsMeters:       c.Cluster.MinEpsMeters,
		MaxEpsMeters:       c.Cluster.MaxEpsMeters,
	}
}

// ProbeSettings translates the YAML block into prober inputs.
func (c *Config) ProbeSettings() probe.Config {
	return probe.Config{
		Timeout:       c.Probe.Timeout,
		MaxConcurrent: c.Probe.MaxConcurrent,
		Sample:        probe.SampleTile{Z: c.Probe.SampleZ, X: c.Probe.SampleX, Y: c.Probe.SampleY},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ALERTENGINE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("ALERTENGINE_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("ALERTENGINE_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("ALERTENGINE_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("ALERTENGINE_ALERTS_BASE_URL"); v != "" {
		cfg.Alerts.BaseURL = v
	}
	if v := os.Getenv("ALERTENGINE_ALERTS_API_KEY"); v != "" {
		cfg.Alerts.APIKey = v
	}
	if v := os.Getenv("ALERTENGINE_ALERTS_DATASET"); v != "" {
		cfg.Alerts.Dataset = v
	}
	if v := os.Getenv("ALERTENGINE_TILES_BASE_URL"); v != "" {
		cfg.Tiles.BaseURL = v
	}
	if v := os.Getenv("ALERTENGINE_TILES_TOKEN"); v != "" {
		cfg.Tiles.Token = v
	}
	if v := os.Getenv("ALERTENGINE_AOI_PATH"); v != "" {
		cfg.Run.AOIPath = v
	}
	if v := os.Getenv("ALERTENGINE_OUTPUT_DIR"); v != "" {
		cfg.Run.OutputDir = v
	}
	if v := os.Getenv("ALERTENGINE_WINDOW_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Run.WindowDays = n
		}
	}
	if v := os.Getenv("ALERTENGINE_KAFKA_ENABLED"); v != "" {
		cfg.Kafka.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("ALERTENGINE_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("ALERTENGINE_KAFKA_TOPIC"); v != "" {
		cfg.Kafka.Topic = v
	}
	if v := os.Getenv("ALERTENGINE_CHECK_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Serve.CheckInterval = d
		}
	}
	if v := os.Getenv("ALERTENGINE_UNKNOWN_BUDGET"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Probe.UnknownBudget = n
		}
	}
}
