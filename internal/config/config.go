// Package config loads engine-wide runtime configuration (state backend
// selection, worker identity, logging) from documented defaults, a YAML file,
// and environment variables, in that order of increasing priority.
package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// Config is the engine's top-level runtime configuration.
type Config struct {
	WorkerID string
	LogLevel string
	LogJSON  bool

	StateBackend         string // "file" or "memory"
	StateBasePath        string
	StateFormat          string // "json" or "yaml"
	StateAtomicWrites    bool
	StateLockTimeoutMS   int64
	HeartbeatIntervalMS  int64
	MaxRetries           int
	CleanupIntervalHours int64
	MaxStateAgeHours     int64
}

// Load reads configuration from cfgFile (if non-empty) or the default search
// path, then the OXIS_-prefixed environment, falling back to defaults.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	v.SetDefault("worker_id", getHostname())
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", true)

	v.SetDefault("state_backend", "file")
	v.SetDefault("state_base_path", ".oxis/state")
	v.SetDefault("state_format", "json")
	v.SetDefault("state_atomic_writes", true)
	v.SetDefault("state_lock_timeout_ms", 30000)
	v.SetDefault("heartbeat_interval_ms", 5000)
	v.SetDefault("max_retries", 3)
	v.SetDefault("cleanup_interval_hours", 24)
	v.SetDefault("max_state_age_hours", 168)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("oxis")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/oxis/")
		v.AddConfigPath("$HOME/.oxis/")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("OXIS")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: reading config: %w", err)
		}
	}

	return &Config{
		WorkerID: v.GetString("worker_id"),
		LogLevel: v.GetString("log_level"),
		LogJSON:  v.GetBool("log_json"),

		StateBackend:         v.GetString("state_backend"),
		StateBasePath:        v.GetString("state_base_path"),
		StateFormat:          v.GetString("state_format"),
		StateAtomicWrites:    v.GetBool("state_atomic_writes"),
		StateLockTimeoutMS:   v.GetInt64("state_lock_timeout_ms"),
		HeartbeatIntervalMS:  v.GetInt64("heartbeat_interval_ms"),
		MaxRetries:           v.GetInt("max_retries"),
		CleanupIntervalHours: v.GetInt64("cleanup_interval_hours"),
		MaxStateAgeHours:     v.GetInt64("max_state_age_hours"),
	}, nil
}

func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}
