package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestNewDefaultConfig_IsValid(t *testing.T) {
	config := NewDefaultConfig()

	require.NoError(t, config.Validate())
	assert.Equal(t, 4, config.Chunking.CharsPerToken)
	assert.Equal(t, 0.5, config.Pipeline.SuccessThreshold)
	assert.True(t, config.Pipeline.RunItemsPass)
	assert.Empty(t, config.Bridge.URL)
	assert.False(t, config.IsProduction())
}

func TestLoadFromFiles_LaterFilesOverride(t *testing.T) {
	base := writeConfig(t, "base.toml", `
environment = "production"

[scheduler]
batch_size = 8
stage_timeout = "90s"

[extraction]
backoff_base = "250ms"
`)
	override := writeConfig(t, "override.toml", `
[scheduler]
batch_size = 2

[bridge]
url = "wss://lob.local/stream"
heartbeat_grace = "45s"
`)

	config, err := LoadFromFiles(base, override)
	require.NoError(t, err)

	assert.True(t, config.IsProduction())
	assert.Equal(t, 2, config.Scheduler.BatchSize)
	assert.Equal(t, 90*time.Second, config.Scheduler.StageTimeout.Std())
	assert.Equal(t, 250*time.Millisecond, config.Extraction.BackoffBase.Std())
	assert.Equal(t, "wss://lob.local/stream", config.Bridge.URL)
	assert.Equal(t, 45*time.Second, config.Bridge.HeartbeatGrace.Std())
	// untouched sections keep their defaults
	assert.Equal(t, NewDefaultConfig().Chunking, config.Chunking)
}

func TestLoadFromFiles_EnvOverrides(t *testing.T) {
	t.Setenv("PACTUM_BATCH_SIZE", "7")
	t.Setenv("PACTUM_STAGE_TIMEOUT", "2m")
	t.Setenv("PACTUM_SUCCESS_THRESHOLD", "0.75")
	t.Setenv("PACTUM_LOG_OUTPUT", "stdout, ,file")
	t.Setenv("PACTUM_BRIDGE_TOKEN", "secret")

	config, err := LoadFromFiles()
	require.NoError(t, err)

	assert.Equal(t, 7, config.Scheduler.BatchSize)
	assert.Equal(t, 2*time.Minute, config.Scheduler.StageTimeout.Std())
	assert.Equal(t, 0.75, config.Pipeline.SuccessThreshold)
	assert.Equal(t, []string{"stdout", "file"}, config.Logging.Output)
	assert.Equal(t, "secret", config.Bridge.Token)
}

func TestLoadFromFiles_Errors(t *testing.T) {
	_, err := LoadFromFiles(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	_, err = LoadFromFiles(writeConfig(t, "bad.toml", "[scheduler\nbatch_size = 1"))
	assert.Error(t, err)

	_, err = LoadFromFiles(writeConfig(t, "duration.toml", "[scheduler]\nstage_timeout = \"soon\""))
	assert.Error(t, err)

	_, err = LoadFromFiles(writeConfig(t, "invalid.toml", "[pipeline]\nsuccess_threshold = 1.5"))
	assert.ErrorContains(t, err, "success_threshold")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"text budget", func(c *Config) { c.Chunking.TextTokenBudget = 0 }},
		{"chars per token", func(c *Config) { c.Chunking.CharsPerToken = 0 }},
		{"batch size", func(c *Config) { c.Scheduler.BatchSize = 0 }},
		{"concurrency", func(c *Config) { c.Scheduler.MaxConcurrency = 0 }},
		{"retries", func(c *Config) { c.Extraction.SemanticRetryMax = 0 }},
		{"threshold", func(c *Config) { c.Pipeline.SuccessThreshold = -0.1 }},
		{"stale after", func(c *Config) { c.Pipeline.StaleAfter = Duration(-time.Second) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := NewDefaultConfig()
			tt.mutate(config)
			assert.Error(t, config.Validate())
		})
	}
}

func TestDuration_Text(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Std())

	out, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(out))

	require.NoError(t, d.UnmarshalText(nil))
	assert.Equal(t, time.Duration(0), d.Std())

	assert.Error(t, d.UnmarshalText([]byte("fast")))
}
