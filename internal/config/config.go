// Package config is the engine's viper-backed configuration singleton: file discovery,
// environment binding, typed defaults for every tunable in the engine's configuration
// list, override tracking, and an fsnotify reload hook.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

var v *viper.Viper

// Initialize sets up the viper configuration singleton. Should be called once at
// process startup, before any Get* call.
func Initialize() error {
	v = viper.New()
	v.SetConfigType("yaml")

	configFileSet := false

	// 1. Walk up from CWD looking for .memoryd/config.yaml, so commands work from any
	// subdirectory of a project.
	cwd, err := os.Getwd()
	if err == nil {
		for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
			configPath := filepath.Join(dir, ".memoryd", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
				break
			}
		}
	}

	// 2. User config directory (~/.config/memoryd/config.yaml).
	if !configFileSet {
		if configDir, err := os.UserConfigDir(); err == nil {
			configPath := filepath.Join(configDir, "memoryd", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
			}
		}
	}

	v.SetEnvPrefix("MEMORYD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configFileSet {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file: %w", err)
		}
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	} else {
		slog.Debug("no config file found; using defaults and environment variables")
	}

	return nil
}

// setDefaults installs every tunable named in the engine's enumerated configuration
// list, plus the HTTP/storage settings needed to run the daemon at all.
func setDefaults(v *viper.Viper) {
	v.SetDefault("max_recall_results", 50)
	v.SetDefault("vector_weight", 0.50)
	v.SetDefault("fts_weight", 0.15)
	v.SetDefault("importance_weight", 0.25)
	v.SetDefault("recency_weight", 0.10)
	v.SetDefault("recency_half_life_days", 30)
	v.SetDefault("graph_proximity_enabled", true)
	v.SetDefault("enable_rrf", false)
	v.SetDefault("rrf_k", 60)
	v.SetDefault("min_importance_threshold", 0.1)
	v.SetDefault("decay_rate_daily", 0.995)
	v.SetDefault("similarity_merge_threshold", 0.92)
	v.SetDefault("enable_memory_merging", true)
	v.SetDefault("verify_batch_size", 20)
	v.SetDefault("verify_interval_minutes", 60)
	v.SetDefault("backup_retention_count", 7)
	v.SetDefault("language_model", "")
	v.SetDefault("embedding_model", "")
	v.SetDefault("embedding_host", "")
	v.SetDefault("embedding_dim", 768)
	v.SetDefault("embedding_cache_capacity", 2048)

	v.SetDefault("http_addr", "localhost:3848")
	v.SetDefault("vault_dir", "")
}

// ConfigSource represents where a configuration value came from.
type ConfigSource string

const (
	SourceDefault    ConfigSource = "default"
	SourceConfigFile ConfigSource = "config_file"
	SourceEnvVar     ConfigSource = "env_var"
)

// GetValueSource returns the source of a configuration value. Priority (highest to
// lowest): env var > config file > default.
func GetValueSource(key string) ConfigSource {
	if v == nil {
		return SourceDefault
	}
	envKey := "MEMORYD_" + strings.ToUpper(strings.ReplaceAll(strings.ReplaceAll(key, "-", "_"), ".", "_"))
	if os.Getenv(envKey) != "" {
		return SourceEnvVar
	}
	if v.InConfig(key) {
		return SourceConfigFile
	}
	return SourceDefault
}

// ConfigOverride describes a detected configuration override, logged once at startup so
// an operator can see why an effective value differs from the shipped default.
type ConfigOverride struct {
	Key            string
	EffectiveValue interface{}
	OverriddenBy   ConfigSource
}

// LogOverrides walks every key this package defaults and logs the ones whose effective
// value came from a config file or environment variable rather than the built-in
// default, satisfying the "log overrides exactly once at startup" requirement.
func LogOverrides(log *slog.Logger) {
	if v == nil {
		return
	}
	if log == nil {
		log = slog.Default()
	}
	for _, key := range v.AllKeys() {
		source := GetValueSource(key)
		if source == SourceDefault {
			continue
		}
		log.Info("config override", "key", key, "value", v.Get(key), "source", string(source))
	}
}

// GetString retrieves a string configuration value.
func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

// GetBool retrieves a boolean configuration value.
func GetBool(key string) bool {
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

// GetInt retrieves an integer configuration value.
func GetInt(key string) int {
	if v == nil {
		return 0
	}
	return v.GetInt(key)
}

// GetFloat64 retrieves a float configuration value.
func GetFloat64(key string) float64 {
	if v == nil {
		return 0
	}
	return v.GetFloat64(key)
}

// Set sets a configuration value, overriding viper's normal precedence. Used by tests
// and by explicit CLI flags.
func Set(key string, value interface{}) {
	if v != nil {
		v.Set(key, value)
	}
}

// AllSettings returns every configuration setting as a map.
func AllSettings() map[string]interface{} {
	if v == nil {
		return map[string]interface{}{}
	}
	return v.AllSettings()
}

// ReloadWatcher re-parses the resolved config file whenever it changes on disk and
// invokes onReload with the refreshed settings, so a running daemon can pick up tuning
// changes (e.g. new fusion weights) without a restart. Configuration is otherwise
// read once at startup; onReload is expected to copy settings into a fresh struct under
// its own mutex rather than mutate shared state in place.
type ReloadWatcher struct {
	watcher *fsnotify.Watcher
	mu      sync.Mutex
	log     *slog.Logger
}

// WatchForReload starts watching the config file in use (a no-op, returning nil, nil, if
// no config file was found at Initialize time).
func WatchForReload(onReload func(settings map[string]interface{}), log *slog.Logger) (*ReloadWatcher, error) {
	if v == nil || v.ConfigFileUsed() == "" {
		return nil, nil
	}
	if log == nil {
		log = slog.Default()
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}
	configPath := v.ConfigFileUsed()
	if err := w.Add(filepath.Dir(configPath)); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch config directory: %w", err)
	}

	rw := &ReloadWatcher{watcher: w, log: log}
	go func() {
		for {
			select {
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(configPath) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				rw.mu.Lock()
				if err := v.ReadInConfig(); err != nil {
					rw.log.Warn("config reload failed", "error", err)
				} else if onReload != nil {
					onReload(v.AllSettings())
				}
				rw.mu.Unlock()
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				rw.log.Warn("config watcher error", "error", err)
			}
		}
	}()

	return rw, nil
}

// Close stops the reload watcher.
func (rw *ReloadWatcher) Close() error {
	if rw == nil || rw.watcher == nil {
		return nil
	}
	return rw.watcher.Close()
}
