package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/untoldecay/graphtwin/internal/debug"
)

var v *viper.Viper

// Initialize sets up the viper configuration singleton.
// Should be called once at application startup.
func Initialize() error {
	v = viper.New()

	// Only config.yaml is loaded; the data files next to it are not config.
	v.SetConfigType("yaml")

	// Precedence: project .graphtwin/config.yaml > ~/.config/gt/config.yaml
	// > ~/.graphtwin/config.yaml
	configFileSet := false

	// 1. Walk up from CWD so commands work from subdirectories.
	cwd, err := os.Getwd()
	if err == nil {
		for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
			configPath := filepath.Join(dir, ".graphtwin", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
				break
			}
		}
	}

	// 2. User config directory (~/.config/gt/config.yaml)
	if !configFileSet {
		if configDir, err := os.UserConfigDir(); err == nil {
			configPath := filepath.Join(configDir, "gt", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
			}
		}
	}

	// 3. Home directory (~/.graphtwin/config.yaml)
	if !configFileSet {
		if homeDir, err := os.UserHomeDir(); err == nil {
			configPath := filepath.Join(homeDir, ".graphtwin", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
			}
		}
	}

	// Environment variables take precedence over the config file.
	// E.g., GT_DATA_DIR, GT_QUEUE_BACKEND, GT_SERVER_PORT.
	v.SetEnvPrefix("GT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Storage layout. Empty path values resolve relative to the root
	// directory (see RootDir, DataDir, QueuePath, AuditPath).
	v.SetDefault("data.dir", "")

	// Queue settings
	v.SetDefault("queue.backend", "sqlite")
	v.SetDefault("queue.path", "")
	v.SetDefault("queue.url", "redis://localhost:6379")
	v.SetDefault("queue.key", "changes")
	v.SetDefault("queue.poll_interval_ms", 10)

	// Audit log settings
	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.path", "")

	// HTTP server settings
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)

	// Logging settings. log.file empty means stderr only.
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)

	// Worker tuning
	v.SetDefault("worker.poison_threshold", 3)
	v.SetDefault("worker.warn_after_ms", 5000)
	v.SetDefault("worker.bulk_log_every", 100)
	v.SetDefault("worker.edge_retry_attempts", 3)
	v.SetDefault("worker.edge_retry_backoff_ms", 100)

	// Reconciliation tuning. One year of seconds.
	v.SetDefault("reconcile.default_expiry_s", 31536000)

	if configFileSet {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file: %w", err)
		}
		debug.Logf("Debug: loaded config from %s\n", v.ConfigFileUsed())
	} else {
		debug.Logf("Debug: no config.yaml found; using defaults and environment variables\n")
	}

	return nil
}

// RootDir returns the .graphtwin directory the process operates in: the one
// holding the loaded config file, else the nearest .graphtwin directory
// walking up from the working directory, else ./.graphtwin (not created).
func RootDir() string {
	if v != nil {
		if used := v.ConfigFileUsed(); used != "" {
			return filepath.Dir(used)
		}
	}
	cwd, err := os.Getwd()
	if err != nil {
		return ".graphtwin"
	}
	for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
		root := filepath.Join(dir, ".graphtwin")
		if info, err := os.Stat(root); err == nil && info.IsDir() {
			return root
		}
	}
	return filepath.Join(cwd, ".graphtwin")
}

// DataDir returns the version store root.
func DataDir() string {
	if dir := GetString("data.dir"); dir != "" {
		return dir
	}
	return filepath.Join(RootDir(), "data")
}

// QueuePath returns the SQLite queue database path.
func QueuePath() string {
	if path := GetString("queue.path"); path != "" {
		return path
	}
	return filepath.Join(RootDir(), "queue.db")
}

// AuditPath returns the SQLite audit database path.
func AuditPath() string {
	if path := GetString("audit.path"); path != "" {
		return path
	}
	return filepath.Join(RootDir(), "audit.db")
}

// GetString retrieves a string configuration value
func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

// GetBool retrieves a boolean configuration value
func GetBool(key string) bool {
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

// GetInt retrieves an integer configuration value
func GetInt(key string) int {
	if v == nil {
		return 0
	}
	return v.GetInt(key)
}

// GetDuration retrieves a duration configuration value
func GetDuration(key string) time.Duration {
	if v == nil {
		return 0
	}
	return v.GetDuration(key)
}

// Set sets a configuration value
func Set(key string, value interface{}) {
	if v != nil {
		v.Set(key, value)
	}
}

// AllSettings returns all configuration settings as a map
func AllSettings() map[string]interface{} {
	if v == nil {
		return map[string]interface{}{}
	}
	return v.AllSettings()
}

// ConfigFileUsed reports the loaded config file path, empty when running on
// defaults and environment variables only.
func ConfigFileUsed() string {
	if v == nil {
		return ""
	}
	return v.ConfigFileUsed()
}
