package config

import "time"

const (
	defaultAPIListen = ":8082"

	defaultHotProvider = "redis"
	defaultHotTarget   = "localhost:6379"

	defaultWarmProvider = "sqlite"
	defaultWarmTarget   = "strata-warm.db"

	defaultSemanticProvider   = "chroma"
	defaultSemanticTarget     = "http://localhost:8000"
	defaultSemanticCollection = "strata"

	defaultColdProvider = "sqlite"
	defaultColdTarget   = "strata-cold.db"

	defaultEmbeddingProvider = "none"
	defaultEmbeddingTarget   = "http://localhost:11434"
	defaultEmbeddingModel    = "nomic-embed-text"

	defaultEventsProvider = "nop"
	defaultEventsTopic    = "strata.fragments"

	defaultOptimizationInterval = time.Hour
	defaultCleanupInterval      = 24 * time.Hour
	defaultMonitoringInterval   = 5 * time.Minute
	defaultShutdownGrace        = 10 * time.Second
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		API: APIConfig{
			Listen: defaultAPIListen,
		},
		Hot: HotTierConfig{
			Provider: defaultHotProvider,
			Target:   defaultHotTarget,
		},
		Warm: SQLTierConfig{
			Provider: defaultWarmProvider,
			Target:   defaultWarmTarget,
		},
		Semantic: SemanticConfig{
			Provider:   defaultSemanticProvider,
			Target:     defaultSemanticTarget,
			Collection: defaultSemanticCollection,
		},
		Cold: SQLTierConfig{
			Provider: defaultColdProvider,
			Target:   defaultColdTarget,
		},
		Embedding: EmbeddingConfig{
			Provider: defaultEmbeddingProvider,
			Target:   defaultEmbeddingTarget,
			Model:    defaultEmbeddingModel,
		},
		Events: EventsConfig{
			Provider: defaultEventsProvider,
			Topic:    defaultEventsTopic,
		},
		Coordinator: CoordinatorConfig{
			OptimizationInterval: defaultOptimizationInterval,
			CleanupInterval:      defaultCleanupInterval,
			MonitoringInterval:   defaultMonitoringInterval,
			ShutdownGrace:        defaultShutdownGrace,
		},
	}
}
