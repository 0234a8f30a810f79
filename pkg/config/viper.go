package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// InitViper creates and returns a configured *viper.Viper.
// It sets defaults from NewDefaultConfig(), reads the config.toml file
// (from configDir when given, otherwise the working directory and then
// ~/.strata/), and binds environment variables with the STRATA_ prefix.
//
// Config precedence (highest to lowest):
//  1. CLI flags (once bound via BindRegisteredFlags)
//  2. Environment variables (STRATA_API_LISTEN, STRATA_HOT_TARGET, etc.)
//  3. config.toml file values
//  4. Defaults from NewDefaultConfig()
func InitViper(configDir string) (*viper.Viper, error) {
	v := viper.New()

	// 1. Register all defaults from NewDefaultConfig().
	setViperDefaults(v)

	// 2. Config file discovery.
	v.SetConfigName("config")
	v.SetConfigType("toml")

	if configDir != "" {
		v.AddConfigPath(configDir)
	} else {
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".strata"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found errors are fine, defaults will apply.
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	// 3. Environment variables: STRATA_API_LISTEN, STRATA_WARM_TARGET, etc.
	v.SetEnvPrefix("STRATA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v, nil
}

// ConfigFromViper unmarshals the viper state into a Config and checks the
// version field.
func ConfigFromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if cfg.Version != 0 && cfg.Version != CurrentV {
		return nil, fmt.Errorf("unsupported config version %d (expected %d)", cfg.Version, CurrentV)
	}

	return cfg, nil
}

// setViperDefaults registers defaults from NewDefaultConfig() into viper
// using dotted-key notation. This keeps defaults.go as the single source of truth.
func setViperDefaults(v *viper.Viper) {
	d := NewDefaultConfig()

	v.SetDefault("version", d.Version)

	// API
	v.SetDefault("api.listen", d.API.Listen)

	// Tiers
	v.SetDefault("hot.provider", d.Hot.Provider)
	v.SetDefault("hot.target", d.Hot.Target)
	v.SetDefault("hot.password", d.Hot.Password)
	v.SetDefault("hot.db", d.Hot.DB)

	v.SetDefault("warm.provider", d.Warm.Provider)
	v.SetDefault("warm.target", d.Warm.Target)

	v.SetDefault("semantic.provider", d.Semantic.Provider)
	v.SetDefault("semantic.target", d.Semantic.Target)
	v.SetDefault("semantic.collection", d.Semantic.Collection)

	v.SetDefault("cold.provider", d.Cold.Provider)
	v.SetDefault("cold.target", d.Cold.Target)

	// Embedding
	v.SetDefault("embedding.provider", d.Embedding.Provider)
	v.SetDefault("embedding.target", d.Embedding.Target)
	v.SetDefault("embedding.model", d.Embedding.Model)

	// Events
	v.SetDefault("events.provider", d.Events.Provider)
	v.SetDefault("events.brokers", d.Events.Brokers)
	v.SetDefault("events.topic", d.Events.Topic)

	// Coordinator loops
	v.SetDefault("coordinator.optimization_interval", d.Coordinator.OptimizationInterval)
	v.SetDefault("coordinator.cleanup_interval", d.Coordinator.CleanupInterval)
	v.SetDefault("coordinator.monitoring_interval", d.Coordinator.MonitoringInterval)
	v.SetDefault("coordinator.shutdown_grace", d.Coordinator.ShutdownGrace)
}
