package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	require.Equal(t, "http://localhost:8700", cfg.Backend.BaseURL)
	require.Equal(t, 15*time.Second, cfg.Backend.Timeout)

	require.Equal(t, 5*time.Second, cfg.Sync.PollInterval)
	require.Equal(t, 500*time.Millisecond, cfg.Sync.CompletionRefreshDelay)
	require.Equal(t, 3, cfg.Sync.FailureWarnThreshold)
	require.Equal(t, 30*time.Minute, cfg.Sync.CacheTTL)
	require.Equal(t, 8, cfg.Sync.FetchConcurrency)

	require.True(t, cfg.UI.ShowStatusBar)
	require.Equal(t, "dark", cfg.UI.MarkdownStyle)
	require.True(t, cfg.AutoRefresh)

	require.False(t, cfg.Tracing.Enabled)
	require.Equal(t, "file", cfg.Tracing.Exporter)
	require.InDelta(t, 1.0, cfg.Tracing.SampleRate, 1e-9)

	require.True(t, cfg.Archive.Enabled)
}

func TestDefaults_Validate(t *testing.T) {
	require.NoError(t, Defaults().Validate())
}

func TestValidateSync_NegativeValues(t *testing.T) {
	require.Error(t, ValidateSync(SyncConfig{PollInterval: -time.Second}))
	require.Error(t, ValidateSync(SyncConfig{CompletionRefreshDelay: -time.Millisecond}))
	require.Error(t, ValidateSync(SyncConfig{FailureWarnThreshold: -1}))
	require.Error(t, ValidateSync(SyncConfig{FetchConcurrency: -1}))
	require.NoError(t, ValidateSync(SyncConfig{}), "zero values use defaults")
}

func TestValidateBackend(t *testing.T) {
	require.NoError(t, ValidateBackend(BackendConfig{}))
	require.Error(t, ValidateBackend(BackendConfig{Timeout: -time.Second}))
}

func TestValidateTracing_SampleRate(t *testing.T) {
	require.NoError(t, ValidateTracing(TracingConfig{SampleRate: 0.5}))
	require.NoError(t, ValidateTracing(TracingConfig{SampleRate: 0.0}))
	require.NoError(t, ValidateTracing(TracingConfig{SampleRate: 1.0}))

	err := ValidateTracing(TracingConfig{SampleRate: 1.5})
	require.Error(t, err)
	require.Contains(t, err.Error(), "sample_rate")

	require.Error(t, ValidateTracing(TracingConfig{SampleRate: -0.1}))
}

func TestValidateTracing_Exporter(t *testing.T) {
	for _, exporter := range []string{"", "none", "file", "stdout", "otlp"} {
		require.NoError(t, ValidateTracing(TracingConfig{Exporter: exporter, SampleRate: 1.0}))
	}

	err := ValidateTracing(TracingConfig{Exporter: "jaeger", SampleRate: 1.0})
	require.Error(t, err)
	require.Contains(t, err.Error(), "exporter")
}

func TestValidateTracing_RequiredPathsOnlyWhenEnabled(t *testing.T) {
	// Disabled: missing paths are fine.
	require.NoError(t, ValidateTracing(TracingConfig{Exporter: "file", SampleRate: 1.0}))
	require.NoError(t, ValidateTracing(TracingConfig{Exporter: "otlp", SampleRate: 1.0}))

	// Enabled: paths become mandatory.
	err := ValidateTracing(TracingConfig{Enabled: true, Exporter: "file", SampleRate: 1.0})
	require.Error(t, err)
	require.Contains(t, err.Error(), "file_path")

	err = ValidateTracing(TracingConfig{Enabled: true, Exporter: "otlp", SampleRate: 1.0})
	require.Error(t, err)
	require.Contains(t, err.Error(), "otlp_endpoint")

	require.NoError(t, ValidateTracing(TracingConfig{
		Enabled: true, Exporter: "file", FilePath: "/tmp/traces.jsonl", SampleRate: 1.0,
	}))
}

func TestValidateArchive(t *testing.T) {
	require.NoError(t, ValidateArchive(ArchiveConfig{}))
	require.NoError(t, ValidateArchive(ArchiveConfig{Enabled: true, Path: "/tmp/archive.db"}))

	err := ValidateArchive(ArchiveConfig{Enabled: true, Path: "relative/archive.db"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "absolute")

	// Relative path is ignored when archiving is off.
	require.NoError(t, ValidateArchive(ArchiveConfig{Enabled: false, Path: "relative/archive.db"}))
}

func TestWriteDefaultConfig(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "nested", "parley.yaml")

	require.NoError(t, WriteDefaultConfig(configPath))

	data, err := os.ReadFile(configPath)
	require.NoError(t, err)
	require.Contains(t, string(data), "base_url: http://localhost:8700")
	require.Contains(t, string(data), "poll_interval: 5s")
	require.Contains(t, string(data), "# Parley Configuration")
}

func TestDefaultTracesFilePath(t *testing.T) {
	path := DefaultTracesFilePath()
	if path == "" {
		t.Skip("no home directory available")
	}
	require.Contains(t, path, "parley")
	require.Contains(t, path, "traces.jsonl")
}
