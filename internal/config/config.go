// Package config loads daybridge configuration from a YAML file and the
// environment. Lookup order: explicit flags win, then DAYBRIDGE_*
// environment variables, then daybridge.yaml, then built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full daybridge configuration tree.
type Config struct {
	Store    StoreConfig    `mapstructure:"store"`
	Daemon   DaemonConfig   `mapstructure:"daemon"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Importer ImporterConfig `mapstructure:"importer"`
	Bridges  []BridgeConfig `mapstructure:"bridges"`
	Annotate AnnotateConfig `mapstructure:"annotate"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	Log      LogConfig      `mapstructure:"log"`
}

// StoreConfig locates the sqlite database.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// DaemonConfig controls the background sync loop.
type DaemonConfig struct {
	SyncInterval  time.Duration `mapstructure:"sync_interval"`
	FullReconcile string        `mapstructure:"full_reconcile"`
	CycleTimeout  time.Duration `mapstructure:"cycle_timeout"`
}

// HTTPConfig controls the local API server.
type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

// ImporterConfig controls the .ics drop directory watcher.
type ImporterConfig struct {
	Dir      string        `mapstructure:"dir"`
	Debounce time.Duration `mapstructure:"debounce"`
	Priority int           `mapstructure:"priority"`
}

// BridgeConfig wires one native app into the sync loop.
type BridgeConfig struct {
	// System is one of "calendar", "reminders", "mail".
	System string `mapstructure:"system"`
	// Kind is the record kind this bridge carries: event, task, message.
	Kind string `mapstructure:"kind"`
	// Timeout bounds each scripting call.
	Timeout time.Duration `mapstructure:"timeout"`
	// Calendar, List and Mailbox scope the bridge to one container.
	Calendar string `mapstructure:"calendar"`
	List     string `mapstructure:"list"`
	Mailbox  string `mapstructure:"mailbox"`
}

// AnnotateConfig controls the optional classifier.
type AnnotateConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// ScheduleConfig controls conflict and free-slot queries.
type ScheduleConfig struct {
	// MaskPath points at the working-hours YAML file. Empty means no mask.
	MaskPath string `mapstructure:"mask_path"`
	// MinSlot is the shortest free slot worth reporting.
	MinSlot time.Duration `mapstructure:"min_slot"`
}

// LogConfig controls the rotating log file.
type LogConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// defaultDir is where daybridge keeps its state unless told otherwise.
func defaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".daybridge"
	}
	return filepath.Join(home, ".daybridge")
}

func setDefaults(v *viper.Viper) {
	dir := defaultDir()
	v.SetDefault("store.path", filepath.Join(dir, "daybridge.db"))
	v.SetDefault("daemon.sync_interval", 2*time.Minute)
	v.SetDefault("daemon.full_reconcile", "0 3 * * *")
	v.SetDefault("daemon.cycle_timeout", 5*time.Minute)
	v.SetDefault("http.addr", "127.0.0.1:7180")
	v.SetDefault("importer.dir", filepath.Join(dir, "drop"))
	v.SetDefault("importer.debounce", 500*time.Millisecond)
	v.SetDefault("importer.priority", 5)
	v.SetDefault("annotate.model", "claude-3-5-haiku-latest")
	v.SetDefault("schedule.min_slot", 30*time.Minute)
	v.SetDefault("log.path", filepath.Join(dir, "daybridge.log"))
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 30)
}

// Load reads configuration. path may name a config file explicitly;
// empty path searches the state dir and the working directory for
// daybridge.yaml. A missing file is not an error, the defaults stand.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("DAYBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("daybridge")
		v.SetConfigType("yaml")
		v.AddConfigPath(defaultDir())
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if config.Annotate.APIKey == "" {
		config.Annotate.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if len(config.Bridges) == 0 {
		config.Bridges = DefaultBridges()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// DefaultBridges covers the three stock native apps.
func DefaultBridges() []BridgeConfig {
	return []BridgeConfig{
		{System: "calendar", Kind: "event", Timeout: 30 * time.Second},
		{System: "reminders", Kind: "task", Timeout: 30 * time.Second},
		{System: "mail", Kind: "message", Timeout: 30 * time.Second},
	}
}

// Validate rejects configurations the daemon cannot start with.
func (c *Config) Validate() error {
	if c.Store.Path == "" {
		return fmt.Errorf("store.path must not be empty")
	}
	if c.Daemon.SyncInterval <= 0 {
		return fmt.Errorf("daemon.sync_interval must be positive, got %s", c.Daemon.SyncInterval)
	}
	seen := make(map[string]bool, len(c.Bridges))
	for i := range c.Bridges {
		b := &c.Bridges[i]
		switch b.System {
		case "calendar", "reminders", "mail":
		default:
			return fmt.Errorf("bridges[%d]: unknown system %q", i, b.System)
		}
		switch b.Kind {
		case "event", "task", "message":
		default:
			return fmt.Errorf("bridges[%d]: unknown kind %q", i, b.Kind)
		}
		if seen[b.Kind] {
			return fmt.Errorf("bridges[%d]: duplicate kind %q", i, b.Kind)
		}
		seen[b.Kind] = true
		if b.Timeout <= 0 {
			b.Timeout = 30 * time.Second
		}
	}
	return nil
}
