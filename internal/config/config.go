// Package config provides configuration loading and structs for the veridoc server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug    bool           `yaml:"debug"`
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Monitor  MonitorConfig  `yaml:"monitor"`
	Fallback FallbackConfig `yaml:"fallback"`
	Watch    WatchConfig    `yaml:"watch"`
}

// ServerConfig holds HTTP review API settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds paths for the result store, stage cache, checkpoints,
// and the cross-document query index.
type StorageConfig struct {
	DatabasePath  string `yaml:"database_path"`
	CacheDir      string `yaml:"cache_dir"`
	CheckpointDir string `yaml:"checkpoint_dir"`
	IndexPath     string `yaml:"index_path"`
}

// PipelineConfig holds conflict detection and orchestration settings.
type PipelineConfig struct {
	// ConflictThreshold is the minimum normalized discrepancy that produces
	// a conflict. Valid range [0.05, 0.30].
	ConflictThreshold float64 `yaml:"conflict_threshold"`
	// ReviewImpactBound routes a document to human review when any
	// conflict's impact score reaches it.
	ReviewImpactBound float64 `yaml:"review_impact_bound"`
	MaxWorkers        int     `yaml:"max_workers"`
	CheckpointEnabled *bool   `yaml:"checkpoint_enabled"`
	// ConfigVersion is folded into stage cache keys so that a model or
	// configuration change invalidates cached stage outputs.
	ConfigVersion string `yaml:"config_version"`
	// AgentTimeoutS bounds each agent invocation.
	AgentTimeoutS int `yaml:"agent_timeout_s"`
}

// CheckpointOn returns whether checkpointing is enabled; defaults to true.
func (p *PipelineConfig) CheckpointOn() bool {
	if p.CheckpointEnabled != nil {
		return *p.CheckpointEnabled
	}
	return true
}

// MonitorConfig holds resource monitor thresholds.
type MonitorConfig struct {
	SampleIntervalS int     `yaml:"sample_interval_s"`
	RAMWarningPct   float64 `yaml:"ram_warning_pct"`
	RAMCriticalPct  float64 `yaml:"ram_critical_pct"`
	TempWarningC    float64 `yaml:"temp_warning_c"`
	TempCriticalC   float64 `yaml:"temp_critical_c"`
}

// FallbackConfig holds degradation ladder and remote endpoint settings.
type FallbackConfig struct {
	// Mode is the requested starting mode: HYBRID, LOCAL_GPU, LOCAL_CPU, TEXT_ONLY.
	Mode              string  `yaml:"mode"`
	RetryBackoffBaseS float64 `yaml:"retry_backoff_base_s"`
	RemoteEndpoint    string  `yaml:"remote_endpoint"`
	RemoteAPIKey      string  `yaml:"remote_api_key"`
	RemoteModel       string  `yaml:"remote_model"`
	LocalModelPath    string  `yaml:"local_model_path"`
}

// WatchConfig holds inbox directory watch settings.
type WatchConfig struct {
	Directories []string `yaml:"directories"`
	Extensions  []string `yaml:"extensions"`
	Recursive   *bool    `yaml:"recursive"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// Load reads and parses the config file at path, expands paths, applies
// defaults, and validates ranges. Returns an error if the file cannot be
// read or parsed, or a value is out of range.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.CacheDir = expandPath(cfg.Storage.CacheDir, configDir)
	cfg.Storage.CheckpointDir = expandPath(cfg.Storage.CheckpointDir, configDir)
	cfg.Storage.IndexPath = expandPath(cfg.Storage.IndexPath, configDir)
	if cfg.Fallback.LocalModelPath != "" {
		cfg.Fallback.LocalModelPath = expandPath(cfg.Fallback.LocalModelPath, configDir)
	}
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	return &cfg, nil
}

// Save writes the config to path. Used for persisting inbox add/remove.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate rejects out-of-range values. The conflict threshold range follows
// the deployment contract [0.05, 0.30].
func Validate(cfg *Config) error {
	if cfg.Pipeline.ConflictThreshold < 0.05 || cfg.Pipeline.ConflictThreshold > 0.30 {
		return fmt.Errorf("conflict_threshold %g out of range [0.05, 0.30]", cfg.Pipeline.ConflictThreshold)
	}
	if cfg.Pipeline.ReviewImpactBound <= 0 || cfg.Pipeline.ReviewImpactBound > 1 {
		return fmt.Errorf("review_impact_bound %g out of range (0, 1]", cfg.Pipeline.ReviewImpactBound)
	}
	if cfg.Pipeline.MaxWorkers < 1 {
		return fmt.Errorf("max_workers must be at least 1, got %d", cfg.Pipeline.MaxWorkers)
	}
	if cfg.Monitor.RAMWarningPct >= cfg.Monitor.RAMCriticalPct {
		return fmt.Errorf("ram_warning_pct %g must be below ram_critical_pct %g",
			cfg.Monitor.RAMWarningPct, cfg.Monitor.RAMCriticalPct)
	}
	if cfg.Monitor.TempWarningC >= cfg.Monitor.TempCriticalC {
		return fmt.Errorf("temp_warning_c %g must be below temp_critical_c %g",
			cfg.Monitor.TempWarningC, cfg.Monitor.TempCriticalC)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
