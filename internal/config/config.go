// Package config provides configuration types and defaults for parley.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zjrosen/parley/internal/log"
)

// Config holds all configuration options for parley.
type Config struct {
	Backend     BackendConfig `mapstructure:"backend"`
	Sync        SyncConfig    `mapstructure:"sync"`
	UI          UIConfig      `mapstructure:"ui"`
	Tracing     TracingConfig `mapstructure:"tracing"`
	Archive     ArchiveConfig `mapstructure:"archive"`
	AutoRefresh bool          `mapstructure:"auto_refresh"`

	// Recents lists recently selected experiment ids, newest first.
	Recents []string `mapstructure:"recents"`
}

// BackendConfig locates the experiment runner backend.
type BackendConfig struct {
	// BaseURL is the root of the backend's tool API.
	// Default: http://localhost:8700
	BaseURL string `mapstructure:"base_url"`

	// Timeout bounds individual tool calls.
	// Default: 15s
	Timeout time.Duration `mapstructure:"timeout"`
}

// SyncConfig tunes the state synchronization engine.
type SyncConfig struct {
	// PollInterval is the fallback polling cadence for live runs.
	// Default: 5s
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// CompletionRefreshDelay is how long after a completion the forced
	// session refresh waits for the backend to settle final statuses.
	// Default: 500ms
	CompletionRefreshDelay time.Duration `mapstructure:"completion_refresh_delay"`

	// FailureWarnThreshold is how many consecutive status fetch
	// failures surface a staleness warning. Default: 3
	FailureWarnThreshold int `mapstructure:"failure_warn_threshold"`

	// CacheTTL is how long completed-run snapshots stay cached.
	// Default: 30m
	CacheTTL time.Duration `mapstructure:"cache_ttl"`

	// FetchConcurrency bounds concurrent session detail fetches.
	// Default: 8
	FetchConcurrency int `mapstructure:"fetch_concurrency"`
}

// UIConfig holds console interface options.
type UIConfig struct {
	ShowStatusBar bool   `mapstructure:"show_status_bar"`
	MarkdownStyle string `mapstructure:"markdown_style"` // "dark" (default) or "light"
}

// TracingConfig holds distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether tracing is active.
	// Default: false
	Enabled bool `mapstructure:"enabled"`

	// Exporter selects the trace export backend.
	// Options: "none", "file", "stdout", "otlp"
	// Default: "file"
	Exporter string `mapstructure:"exporter"`

	// FilePath is the output file for the "file" exporter.
	// Default: ~/.config/parley/traces/traces.jsonl
	FilePath string `mapstructure:"file_path"`

	// OTLPEndpoint is the collector endpoint for the "otlp" exporter.
	// Default: "localhost:4317"
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`

	// SampleRate controls trace sampling (0.0 to 1.0).
	// Default: 1.0
	SampleRate float64 `mapstructure:"sample_rate"`
}

// ArchiveConfig holds terminal-run archive configuration.
type ArchiveConfig struct {
	// Enabled controls whether terminal runs are archived to sqlite.
	// Default: true
	Enabled bool `mapstructure:"enabled"`

	// Path is the archive database file.
	// Default: ~/.parley/archive.db
	Path string `mapstructure:"path"`
}

// DefaultTracesFilePath returns the default path for trace file export,
// or empty string if the home dir is unavailable.
func DefaultTracesFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "parley", "traces", "traces.jsonl")
}

// DefaultArchivePath returns the default archive database path, or
// empty string if the home dir is unavailable.
func DefaultArchivePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".parley", "archive.db")
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	return Config{
		Backend: BackendConfig{
			BaseURL: "http://localhost:8700",
			Timeout: 15 * time.Second,
		},
		Sync: SyncConfig{
			PollInterval:           5 * time.Second,
			CompletionRefreshDelay: 500 * time.Millisecond,
			FailureWarnThreshold:   3,
			CacheTTL:               30 * time.Minute,
			FetchConcurrency:       8,
		},
		UI: UIConfig{
			ShowStatusBar: true,
			MarkdownStyle: "dark",
		},
		Tracing: TracingConfig{
			Enabled:      false,
			Exporter:     "file",
			FilePath:     "", // Derived from config dir at runtime
			OTLPEndpoint: "localhost:4317",
			SampleRate:   1.0,
		},
		Archive: ArchiveConfig{
			Enabled: true,
			Path:    DefaultArchivePath(),
		},
		AutoRefresh: true,
	}
}

// ValidateBackend checks backend configuration for errors.
// Returns nil if the configuration is valid (empty values use defaults).
func ValidateBackend(b BackendConfig) error {
	if b.Timeout < 0 {
		return fmt.Errorf("backend.timeout must not be negative, got %v", b.Timeout)
	}
	return nil
}

// ValidateSync checks sync engine configuration for errors.
func ValidateSync(s SyncConfig) error {
	if s.PollInterval < 0 {
		return fmt.Errorf("sync.poll_interval must not be negative, got %v", s.PollInterval)
	}
	if s.CompletionRefreshDelay < 0 {
		return fmt.Errorf("sync.completion_refresh_delay must not be negative, got %v", s.CompletionRefreshDelay)
	}
	if s.FailureWarnThreshold < 0 {
		return fmt.Errorf("sync.failure_warn_threshold must not be negative, got %d", s.FailureWarnThreshold)
	}
	if s.FetchConcurrency < 0 {
		return fmt.Errorf("sync.fetch_concurrency must not be negative, got %d", s.FetchConcurrency)
	}
	return nil
}

// ValidateTracing checks tracing configuration for errors.
// Returns nil if the configuration is valid (empty values use defaults).
func ValidateTracing(tracing TracingConfig) error {
	if tracing.SampleRate < 0.0 || tracing.SampleRate > 1.0 {
		return fmt.Errorf("tracing.sample_rate must be between 0.0 and 1.0, got %v", tracing.SampleRate)
	}

	if tracing.Exporter != "" {
		switch tracing.Exporter {
		case "none", "file", "stdout", "otlp":
			// Valid
		default:
			return fmt.Errorf("tracing.exporter must be \"none\", \"file\", \"stdout\", or \"otlp\", got %q", tracing.Exporter)
		}
	}

	// Only validate path requirements when tracing is enabled
	if tracing.Enabled {
		if tracing.Exporter == "file" && tracing.FilePath == "" {
			return fmt.Errorf("tracing.file_path is required when exporter is \"file\"")
		}
		if tracing.Exporter == "otlp" && tracing.OTLPEndpoint == "" {
			return fmt.Errorf("tracing.otlp_endpoint is required when exporter is \"otlp\"")
		}
	}

	return nil
}

// ValidateArchive checks archive configuration for errors.
func ValidateArchive(a ArchiveConfig) error {
	if a.Enabled && a.Path != "" && !filepath.IsAbs(a.Path) {
		return fmt.Errorf("archive.path must be an absolute path, got %q", a.Path)
	}
	return nil
}

// Validate checks the whole configuration.
func (c Config) Validate() error {
	if err := ValidateBackend(c.Backend); err != nil {
		return err
	}
	if err := ValidateSync(c.Sync); err != nil {
		return err
	}
	if err := ValidateTracing(c.Tracing); err != nil {
		return err
	}
	return ValidateArchive(c.Archive)
}

// DefaultConfigTemplate returns the default config as a YAML string with comments.
func DefaultConfigTemplate() string {
	return `# Parley Configuration

# Experiment runner backend
backend:
  base_url: http://localhost:8700
  timeout: 15s

# State synchronization engine
sync:
  poll_interval: 5s              # Fallback polling cadence for live runs
  completion_refresh_delay: 500ms # Delay before the forced post-completion refresh
  failure_warn_threshold: 3      # Consecutive fetch failures before a staleness warning
  cache_ttl: 30m                 # How long completed-run snapshots stay cached
  fetch_concurrency: 8           # Concurrent session detail fetches per pass

# Console settings
ui:
  show_status_bar: true   # Show status bar at bottom
  # markdown_style: dark  # Analysis rendering style: "dark" (default) or "light"

# Auto-reload when this file changes
auto_refresh: true

# Terminal-run archive
archive:
  enabled: true
  # path: ~/.parley/archive.db

# Distributed tracing configuration
# tracing:
#   enabled: false                 # Enable/disable tracing (default: false)
#   exporter: file                 # Export backend: none, file, stdout, otlp (default: file)
#   file_path: ~/.config/parley/traces/traces.jsonl  # Output file for file exporter
#   otlp_endpoint: localhost:4317  # OTLP collector endpoint (for otlp exporter)
#   sample_rate: 1.0               # Trace sampling rate 0.0-1.0 (default: 1.0)
#
# Example: Send traces to Jaeger via OTLP
# tracing:
#   enabled: true
#   exporter: otlp
#   otlp_endpoint: jaeger.internal:4317
#   sample_rate: 0.1  # Sample 10% of traces
`
}

// WriteDefaultConfig creates a config file at the given path with default settings and comments.
// Creates the parent directory if it doesn't exist.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}
