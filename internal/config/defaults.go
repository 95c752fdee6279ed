package config

import "runtime"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/veridoc/data/db/results.db"
	}
	if cfg.Storage.CacheDir == "" {
		cfg.Storage.CacheDir = "/usr/local/var/veridoc/data/cache"
	}
	if cfg.Storage.CheckpointDir == "" {
		cfg.Storage.CheckpointDir = "/usr/local/var/veridoc/data/checkpoints"
	}
	if cfg.Storage.IndexPath == "" {
		cfg.Storage.IndexPath = "/usr/local/var/veridoc/data/indices/bleve"
	}
	if cfg.Pipeline.ConflictThreshold == 0 {
		cfg.Pipeline.ConflictThreshold = 0.15
	}
	if cfg.Pipeline.ReviewImpactBound == 0 {
		cfg.Pipeline.ReviewImpactBound = 0.7
	}
	if cfg.Pipeline.MaxWorkers == 0 {
		// Half the cores, at least one. Documents are processed
		// independently across workers.
		cfg.Pipeline.MaxWorkers = runtime.NumCPU() / 2
		if cfg.Pipeline.MaxWorkers < 1 {
			cfg.Pipeline.MaxWorkers = 1
		}
	}
	if cfg.Pipeline.ConfigVersion == "" {
		cfg.Pipeline.ConfigVersion = "v1"
	}
	if cfg.Pipeline.AgentTimeoutS == 0 {
		cfg.Pipeline.AgentTimeoutS = 60
	}
	if cfg.Monitor.SampleIntervalS == 0 {
		cfg.Monitor.SampleIntervalS = 10
	}
	if cfg.Monitor.RAMWarningPct == 0 {
		cfg.Monitor.RAMWarningPct = 85
	}
	if cfg.Monitor.RAMCriticalPct == 0 {
		cfg.Monitor.RAMCriticalPct = 90
	}
	if cfg.Monitor.TempWarningC == 0 {
		cfg.Monitor.TempWarningC = 70
	}
	if cfg.Monitor.TempCriticalC == 0 {
		cfg.Monitor.TempCriticalC = 80
	}
	if cfg.Fallback.Mode == "" {
		cfg.Fallback.Mode = "HYBRID"
	}
	if cfg.Fallback.RetryBackoffBaseS == 0 {
		cfg.Fallback.RetryBackoffBaseS = 1
	}
	if cfg.Fallback.RemoteModel == "" {
		cfg.Fallback.RemoteModel = "qwen-vl-chat"
	}
	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{".pdf", ".docx", ".odt", ".xlsx", ".txt"}
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
}
