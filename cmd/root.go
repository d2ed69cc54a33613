package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/parley/internal/config"
	"github.com/zjrosen/parley/internal/engine"
	"github.com/zjrosen/parley/internal/gateway"
	"github.com/zjrosen/parley/internal/infrastructure/sqlite"
	"github.com/zjrosen/parley/internal/log"
	"github.com/zjrosen/parley/internal/pubsub"
	"github.com/zjrosen/parley/internal/tracing"
	"github.com/zjrosen/parley/internal/ui/console"
	"github.com/zjrosen/parley/internal/watcher"
)

func init() {
	// Force lipgloss/termenv to query terminal background color BEFORE
	// any Bubble Tea program starts. This prevents the terminal's OSC 11
	// response from racing with Bubble Tea's input loop and appearing as
	// garbage text in input fields.
	//
	// See: https://github.com/charmbracelet/bubbletea/issues/1036
	_ = lipgloss.HasDarkBackground()
}

var (
	version = "dev"
	cfgFile string
	cfg     config.Config
)

var rootCmd = &cobra.Command{
	Use:     "parley [experiment-id]",
	Short:   "A terminal console for AI conversation experiments",
	Long:    `A terminal console for observing and controlling multi-session AI conversation experiments: live run status, per-session reconciliation, analyses, and a local archive of completed runs.`,
	Version: version,
	Args:    cobra.MaximumNArgs(1),
	RunE:    runConsole,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: ~/.config/parley/config.yaml)")
	rootCmd.Flags().StringP("backend", "b", "",
		"backend base URL (overrides config)")
	rootCmd.Flags().Bool("no-auto-refresh", false,
		"disable config hot reload")
	rootCmd.Flags().Bool("debug", false,
		"enable debug logging to ~/.config/parley/debug.log")

	// Bind flags to viper
	_ = viper.BindPFlag("backend.base_url", rootCmd.Flags().Lookup("backend"))
}

func initConfig() {
	defaults := config.Defaults()
	viper.SetDefault("backend.base_url", defaults.Backend.BaseURL)
	viper.SetDefault("backend.timeout", defaults.Backend.Timeout)
	viper.SetDefault("sync.poll_interval", defaults.Sync.PollInterval)
	viper.SetDefault("sync.completion_refresh_delay", defaults.Sync.CompletionRefreshDelay)
	viper.SetDefault("sync.failure_warn_threshold", defaults.Sync.FailureWarnThreshold)
	viper.SetDefault("sync.cache_ttl", defaults.Sync.CacheTTL)
	viper.SetDefault("sync.fetch_concurrency", defaults.Sync.FetchConcurrency)
	viper.SetDefault("ui.show_status_bar", defaults.UI.ShowStatusBar)
	viper.SetDefault("ui.markdown_style", defaults.UI.MarkdownStyle)
	viper.SetDefault("tracing.enabled", defaults.Tracing.Enabled)
	viper.SetDefault("tracing.exporter", defaults.Tracing.Exporter)
	viper.SetDefault("tracing.otlp_endpoint", defaults.Tracing.OTLPEndpoint)
	viper.SetDefault("tracing.sample_rate", defaults.Tracing.SampleRate)
	viper.SetDefault("archive.enabled", defaults.Archive.Enabled)
	viper.SetDefault("archive.path", defaults.Archive.Path)
	viper.SetDefault("auto_refresh", defaults.AutoRefresh)

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Config lookup order:
		// 1. .parley/config.yaml (current directory)
		// 2. ~/.config/parley/config.yaml (user config)
		if _, err := os.Stat(".parley/config.yaml"); err == nil {
			viper.SetConfigFile(".parley/config.yaml")
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(filepath.Join(home, ".config", "parley"))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		// No config file found anywhere - create default at .parley/config.yaml
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			defaultPath := ".parley/config.yaml"
			if writeErr := config.WriteDefaultConfig(defaultPath); writeErr == nil {
				viper.SetConfigFile(defaultPath)
				_ = viper.ReadInConfig()
			}
			// If write fails, just continue with defaults (no config file)
		}
	}

	_ = viper.Unmarshal(&cfg)
}

func runConsole(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Handle --no-auto-refresh flag (negated logic)
	if noAutoRefresh, _ := cmd.Flags().GetBool("no-auto-refresh"); noAutoRefresh {
		cfg.AutoRefresh = false
	}

	configFilePath := viper.ConfigFileUsed()
	if configFilePath == "" {
		configFilePath = ".parley/config.yaml"
	}

	// Debug logging is opt-in to keep the TUI quiet.
	debug, _ := cmd.Flags().GetBool("debug")
	if debug || os.Getenv("PARLEY_DEBUG") != "" {
		home, _ := os.UserHomeDir()
		logPath := filepath.Join(home, ".config", "parley", "debug.log")
		if cleanup, err := log.Init(logPath); err == nil {
			defer cleanup()
		}
	}

	tracer, err := tracing.NewProvider(cfg.Tracing)
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = tracer.Shutdown(shutdownCtx)
	}()

	gw := gateway.NewHTTPGateway(gateway.HTTPConfig{
		BaseURL: cfg.Backend.BaseURL,
		Timeout: cfg.Backend.Timeout,
	})
	bus := pubsub.NewBus()

	engineCfg := engine.Config{
		PollInterval:           cfg.Sync.PollInterval,
		CompletionRefreshDelay: cfg.Sync.CompletionRefreshDelay,
		FailureWarnThreshold:   cfg.Sync.FailureWarnThreshold,
		CacheTTL:               cfg.Sync.CacheTTL,
		FetchConcurrency:       cfg.Sync.FetchConcurrency,
	}

	// Archive failures degrade to an in-memory-only console, never a crash.
	if cfg.Archive.Enabled {
		archivePath := cfg.Archive.Path
		if archivePath == "" {
			archivePath = config.DefaultArchivePath()
		}
		if db, dbErr := sqlite.NewDB(archivePath); dbErr != nil {
			log.Warn(log.CatDB, "Archive unavailable, continuing without it", "path", archivePath, "error", dbErr)
		} else {
			defer func() { _ = db.Close() }()
			engineCfg.Archive = db.RunRepository()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng := engine.New(gw, bus, engineCfg)
	eng.Start(ctx)
	defer eng.Stop()

	// Select the experiment given on the command line once the UI is up;
	// the console receives the resulting snapshot through the broker.
	if len(args) == 1 {
		experimentID := args[0]
		log.SafeGo("initial-select", func() {
			if _, selErr := eng.SelectExperiment(ctx, experimentID); selErr != nil {
				log.Warn(log.CatEngine, "Initial experiment selection failed", "experiment", experimentID, "error", selErr)
				return
			}
			recents := config.PushRecent(cfg.Recents, experimentID)
			if saveErr := config.SaveRecents(configFilePath, recents); saveErr != nil {
				log.Warn(log.CatConfig, "Failed to save recents", "error", saveErr)
			}
		})
	}

	stopReload := startConfigReload(ctx, eng, configFilePath)
	defer stopReload()

	model := console.New(ctx, eng, cfg.UI)
	p := tea.NewProgram(
		model,
		tea.WithAltScreen(),
	)

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("running program: %w", err)
	}
	return nil
}

// startConfigReload watches the config file and applies poll interval
// changes to the running engine. Returns a stop function; a no-op one
// when auto refresh is disabled or the watcher cannot start.
func startConfigReload(ctx context.Context, eng *engine.Engine, configFilePath string) func() {
	if !cfg.AutoRefresh {
		return func() {}
	}

	w, err := watcher.New(watcher.DefaultConfig(configFilePath))
	if err != nil {
		log.Warn(log.CatWatcher, "Config watcher unavailable", "error", err)
		return func() {}
	}
	changes, err := w.Start()
	if err != nil {
		log.Warn(log.CatWatcher, "Config watcher failed to start", "error", err)
		_ = w.Stop()
		return func() {}
	}

	log.SafeGo("config-reload", func() {
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-changes:
				if !ok {
					return
				}
				reloaded, loadErr := reloadConfig(configFilePath)
				if loadErr != nil {
					log.Warn(log.CatConfig, "Config reload failed", "error", loadErr)
					continue
				}
				eng.SetPollInterval(reloaded.Sync.PollInterval)
			}
		}
	})

	return func() { _ = w.Stop() }
}

// reloadConfig re-reads the config file with a fresh viper instance so
// a bad edit never corrupts the running configuration.
func reloadConfig(configFilePath string) (config.Config, error) {
	v := viper.New()
	v.SetConfigFile(configFilePath)
	if err := v.ReadInConfig(); err != nil {
		return config.Config{}, err
	}

	reloaded := config.Defaults()
	if err := v.Unmarshal(&reloaded); err != nil {
		return config.Config{}, err
	}
	if err := reloaded.Validate(); err != nil {
		return config.Config{}, err
	}
	return reloaded, nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
