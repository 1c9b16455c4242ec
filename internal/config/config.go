// Package config loads and validates vecdb configuration.
//
// Configuration hierarchy:
//  1. Hardcoded defaults (DefaultConfig)
//  2. Config file (vecdb.yaml)
//  3. Environment variables (VECDB_*)
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config represents the complete vecdb configuration.
type Config struct {
	Version     int               `yaml:"version" json:"version"`
	DataDir     string            `yaml:"data_dir" json:"data_dir"`
	Compaction  CompactionConfig  `yaml:"compaction" json:"compaction"`
	Query       QueryConfig       `yaml:"query" json:"query"`
	Index       IndexConfig       `yaml:"index" json:"index"`
	Performance PerformanceConfig `yaml:"performance" json:"performance"`
	LogLevel    string            `yaml:"log_level" json:"log_level"`
	LogFile     string            `yaml:"log_file" json:"log_file"`
}

// CompactionConfig configures the background segment lifecycle.
type CompactionConfig struct {
	// MemorySyncIntervalSeconds is the compaction timer cadence.
	MemorySyncIntervalSeconds int `yaml:"memory_sync_interval_seconds" json:"memory_sync_interval_seconds"`

	// MergeTriggerNumber is the RAW file count per (table, date)
	// partition that must be exceeded before a merge is scheduled.
	MergeTriggerNumber int `yaml:"merge_trigger_number" json:"merge_trigger_number"`

	// IndexTriggerSize is the row-count threshold at which a merge
	// output is promoted to TO_INDEX instead of RAW.
	IndexTriggerSize int64 `yaml:"index_trigger_size" json:"index_trigger_size"`

	// TTLSeconds is the age after which TO_DELETE files are reclaimed.
	TTLSeconds int `yaml:"ttl_seconds" json:"ttl_seconds"`
}

// QueryConfig configures the query fan-out path.
type QueryConfig struct {
	// FanoutParallelism bounds the number of segments searched
	// concurrently within one query. 0 means GOMAXPROCS.
	FanoutParallelism int `yaml:"fanout_parallelism" json:"fanout_parallelism"`
}

// IndexConfig configures ANN index construction.
type IndexConfig struct {
	// M is the HNSW max connections per layer.
	M int `yaml:"m" json:"m"`
	// EfSearch is the HNSW query-time search width.
	EfSearch int `yaml:"ef_search" json:"ef_search"`
	// MinTrainable is the minimum row count required to build an index.
	MinTrainable int64 `yaml:"min_trainable" json:"min_trainable"`
}

// PerformanceConfig configures memory and cache tuning.
type PerformanceConfig struct {
	// InsertBufferSize is the per-table buffered row count that forces
	// an early flush ahead of the compaction timer.
	InsertBufferSize int `yaml:"insert_buffer_size" json:"insert_buffer_size"`
	// EngineCacheSize is the number of segment engines retained in the
	// process-wide cache.
	EngineCacheSize int `yaml:"engine_cache_size" json:"engine_cache_size"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Version: 1,
		DataDir: defaultDataDir(),
		Compaction: CompactionConfig{
			MemorySyncIntervalSeconds: 10,
			MergeTriggerNumber:        2,
			IndexTriggerSize:          1024 * 1024,
			TTLSeconds:                1,
		},
		Query: QueryConfig{
			FanoutParallelism: runtime.GOMAXPROCS(0),
		},
		Index: IndexConfig{
			M:            16,
			EfSearch:     64,
			MinTrainable: 64,
		},
		Performance: PerformanceConfig{
			InsertBufferSize: 100_000,
			EngineCacheSize:  64,
		},
		LogLevel: "info",
	}
}

// Load reads configuration from the given path, layering file values and
// environment overrides on top of defaults. An empty path or a missing
// file yields defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.Compaction.MemorySyncIntervalSeconds <= 0 {
		return fmt.Errorf("memory_sync_interval_seconds must be positive, got %d",
			c.Compaction.MemorySyncIntervalSeconds)
	}
	if c.Compaction.MergeTriggerNumber < 0 {
		return fmt.Errorf("merge_trigger_number must not be negative, got %d",
			c.Compaction.MergeTriggerNumber)
	}
	if c.Compaction.IndexTriggerSize <= 0 {
		return fmt.Errorf("index_trigger_size must be positive, got %d",
			c.Compaction.IndexTriggerSize)
	}
	if c.Query.FanoutParallelism < 0 {
		return fmt.Errorf("fanout_parallelism must not be negative, got %d",
			c.Query.FanoutParallelism)
	}
	return nil
}

// Save writes the configuration as YAML to the given path.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// applyEnvOverrides applies VECDB_* environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VECDB_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("VECDB_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("VECDB_SYNC_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Compaction.MemorySyncIntervalSeconds = n
		}
	}
	if v := os.Getenv("VECDB_FANOUT_PARALLELISM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Query.FanoutParallelism = n
		}
	}
}

// defaultDataDir returns the default data directory (~/.vecdb/data).
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".vecdb", "data")
	}
	return filepath.Join(home, ".vecdb", "data")
}
