// Package config defines the persistent strata configuration and its
// loading chain: defaults, config.toml, STRATA_ environment variables and
// CLI flags, in ascending precedence.
package config

import (
	"time"
)

const (
	// v0 is the alpha version of the config
	v0 = 0

	// CurrentV is the currently supported version, points to v0
	CurrentV = v0
)

// Config represents the persistent strata configuration stored as
// config.toml. The TOML layout uses sections for logical grouping.
type Config struct {
	Version     int               `mapstructure:"version" toml:"version"`
	API         APIConfig         `mapstructure:"api" toml:"api"`
	Hot         HotTierConfig     `mapstructure:"hot" toml:"hot"`
	Warm        SQLTierConfig     `mapstructure:"warm" toml:"warm"`
	Semantic    SemanticConfig    `mapstructure:"semantic" toml:"semantic"`
	Cold        SQLTierConfig     `mapstructure:"cold" toml:"cold"`
	Embedding   EmbeddingConfig   `mapstructure:"embedding" toml:"embedding"`
	Events      EventsConfig      `mapstructure:"events" toml:"events"`
	Coordinator CoordinatorConfig `mapstructure:"coordinator" toml:"coordinator"`
}

// APIConfig holds API server settings.
type APIConfig struct {
	Listen string `mapstructure:"listen" toml:"listen,omitempty"`
}

// HotTierConfig holds hot-tier backend settings.
type HotTierConfig struct {
	// Provider selects the backend: "redis" or "inmemory".
	Provider string `mapstructure:"provider" toml:"provider,omitempty"`

	// Target is the Redis address when the provider is "redis".
	Target   string `mapstructure:"target" toml:"target,omitempty"`
	Password string `mapstructure:"password" toml:"password,omitempty"`
	DB       int    `mapstructure:"db" toml:"db,omitempty"`
}

// SQLTierConfig holds settings for a relational tier backend.
type SQLTierConfig struct {
	// Provider selects the backend: "sqlite", "postgres" or "inmemory".
	Provider string `mapstructure:"provider" toml:"provider,omitempty"`

	// Target is the SQLite file path or Postgres connection string.
	Target string `mapstructure:"target" toml:"target,omitempty"`
}

// SemanticConfig holds semantic-tier backend settings.
type SemanticConfig struct {
	// Provider selects the backend: "chroma" or "inmemory".
	Provider string `mapstructure:"provider" toml:"provider,omitempty"`

	// Target is the Chroma server URL.
	Target string `mapstructure:"target" toml:"target,omitempty"`

	// Collection is the Chroma collection name.
	Collection string `mapstructure:"collection" toml:"collection,omitempty"`
}

// EmbeddingConfig holds embedding provider settings for the semantic tier.
type EmbeddingConfig struct {
	// Provider selects the embedder: "ollama" or "none".
	Provider string `mapstructure:"provider" toml:"provider,omitempty"`
	Target   string `mapstructure:"target" toml:"target,omitempty"`
	Model    string `mapstructure:"model" toml:"model,omitempty"`
}

// EventsConfig holds fragment event publishing settings.
type EventsConfig struct {
	// Provider selects the publisher: "kafka" or "nop".
	Provider string `mapstructure:"provider" toml:"provider,omitempty"`

	// Brokers is a comma-separated list of Kafka broker addresses.
	Brokers string `mapstructure:"brokers" toml:"brokers,omitempty"`
	Topic   string `mapstructure:"topic" toml:"topic,omitempty"`
}

// CoordinatorConfig holds background loop settings.
type CoordinatorConfig struct {
	OptimizationInterval time.Duration `mapstructure:"optimization_interval" toml:"optimization_interval,omitempty"`
	CleanupInterval      time.Duration `mapstructure:"cleanup_interval" toml:"cleanup_interval,omitempty"`
	MonitoringInterval   time.Duration `mapstructure:"monitoring_interval" toml:"monitoring_interval,omitempty"`
	ShutdownGrace        time.Duration `mapstructure:"shutdown_grace" toml:"shutdown_grace,omitempty"`
}
