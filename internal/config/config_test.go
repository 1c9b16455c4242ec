package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 1, cfg.Version)
	assert.NotEmpty(t, cfg.DataDir)
	assert.Equal(t, 10, cfg.Compaction.MemorySyncIntervalSeconds)
	assert.Equal(t, 2, cfg.Compaction.MergeTriggerNumber)
	assert.Greater(t, cfg.Compaction.IndexTriggerSize, int64(0))
	assert.Greater(t, cfg.Query.FanoutParallelism, 0)
	require.NoError(t, cfg.Validate())
}

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Compaction, cfg.Compaction)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vecdb.yaml")
	content := `
data_dir: /tmp/vecdb-test
compaction:
  memory_sync_interval_seconds: 5
  merge_trigger_number: 7
  index_trigger_size: 2048
  ttl_seconds: 30
query:
  fanout_parallelism: 3
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/vecdb-test", cfg.DataDir)
	assert.Equal(t, 5, cfg.Compaction.MemorySyncIntervalSeconds)
	assert.Equal(t, 7, cfg.Compaction.MergeTriggerNumber)
	assert.Equal(t, int64(2048), cfg.Compaction.IndexTriggerSize)
	assert.Equal(t, 30, cfg.Compaction.TTLSeconds)
	assert.Equal(t, 3, cfg.Query.FanoutParallelism)
}

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	t.Setenv("VECDB_DATA_DIR", "/tmp/vecdb-env")
	t.Setenv("VECDB_SYNC_INTERVAL", "42")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "/tmp/vecdb-env", cfg.DataDir)
	assert.Equal(t, 42, cfg.Compaction.MemorySyncIntervalSeconds)
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vecdb.yaml")
	require.NoError(t, os.WriteFile(path, []byte("compaction: ["), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestValidate_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty data dir", func(c *Config) { c.DataDir = "" }},
		{"zero sync interval", func(c *Config) { c.Compaction.MemorySyncIntervalSeconds = 0 }},
		{"negative merge trigger", func(c *Config) { c.Compaction.MergeTriggerNumber = -1 }},
		{"zero index trigger", func(c *Config) { c.Compaction.IndexTriggerSize = 0 }},
		{"negative fanout", func(c *Config) { c.Query.FanoutParallelism = -2 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "vecdb.yaml")

	cfg := DefaultConfig()
	cfg.Compaction.MergeTriggerNumber = 9
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9, loaded.Compaction.MergeTriggerNumber)
}
