// Package servecmder provides the serve command that runs the coordinator
// and its API server.
package servecmder

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/papercomputeco/strata/api"
	"github.com/papercomputeco/strata/pkg/backend"
	"github.com/papercomputeco/strata/pkg/backend/chroma"
	"github.com/papercomputeco/strata/pkg/backend/inmemory"
	"github.com/papercomputeco/strata/pkg/backend/postgres"
	redisbackend "github.com/papercomputeco/strata/pkg/backend/redis"
	"github.com/papercomputeco/strata/pkg/backend/sqlite"
	"github.com/papercomputeco/strata/pkg/config"
	"github.com/papercomputeco/strata/pkg/coordinator"
	"github.com/papercomputeco/strata/pkg/embeddings"
	embeddingutils "github.com/papercomputeco/strata/pkg/embeddings/utils"
	"github.com/papercomputeco/strata/pkg/eventstream"
	kafkastream "github.com/papercomputeco/strata/pkg/eventstream/kafka"
	"github.com/papercomputeco/strata/pkg/eventstream/nop"
	"github.com/papercomputeco/strata/pkg/fragment"
	"github.com/papercomputeco/strata/pkg/logger"
	"github.com/papercomputeco/strata/pkg/multitier"
	"github.com/papercomputeco/strata/pkg/policy"
)

// serveFlags is the flag registry for the serve command.
var serveFlags = config.FlagSet{
	config.FlagAPIListen: {
		Name: "api-listen", Shorthand: "a", ViperKey: "api.listen",
		Description: "Address for the API server to listen on",
	},
	config.FlagHotProvider: {
		Name: "hot-provider", ViperKey: "hot.provider",
		Description: "Hot tier backend (redis, inmemory)",
	},
	config.FlagHotTarget: {
		Name: "hot-target", ViperKey: "hot.target",
		Description: "Hot tier Redis address",
	},
	config.FlagWarmProvider: {
		Name: "warm-provider", ViperKey: "warm.provider",
		Description: "Warm tier backend (sqlite, postgres, inmemory)",
	},
	config.FlagWarmTarget: {
		Name: "warm-target", ViperKey: "warm.target",
		Description: "Warm tier SQLite path or Postgres connection string",
	},
	config.FlagSemanticProvider: {
		Name: "semantic-provider", ViperKey: "semantic.provider",
		Description: "Semantic tier backend (chroma, inmemory)",
	},
	config.FlagSemanticTarget: {
		Name: "semantic-target", ViperKey: "semantic.target",
		Description: "Semantic tier Chroma URL",
	},
	config.FlagColdProvider: {
		Name: "cold-provider", ViperKey: "cold.provider",
		Description: "Cold tier backend (sqlite, postgres, inmemory)",
	},
	config.FlagColdTarget: {
		Name: "cold-target", ViperKey: "cold.target",
		Description: "Cold tier SQLite path or Postgres connection string",
	},
	config.FlagEmbeddingProv: {
		Name: "embedding-provider", ViperKey: "embedding.provider",
		Description: "Embedding provider for the semantic tier (ollama, none)",
	},
	config.FlagEmbeddingTgt: {
		Name: "embedding-target", ViperKey: "embedding.target",
		Description: "Embedding provider URL",
	},
	config.FlagEmbeddingModel: {
		Name: "embedding-model", ViperKey: "embedding.model",
		Description: "Embedding model name",
	},
	config.FlagEventsProvider: {
		Name: "events-provider", ViperKey: "events.provider",
		Description: "Fragment event publisher (kafka, nop)",
	},
	config.FlagEventsBrokers: {
		Name: "events-brokers", ViperKey: "events.brokers",
		Description: "Comma-separated Kafka broker addresses",
	},
}

var serveFlagKeys = []string{
	config.FlagAPIListen,
	config.FlagHotProvider, config.FlagHotTarget,
	config.FlagWarmProvider, config.FlagWarmTarget,
	config.FlagSemanticProvider, config.FlagSemanticTarget,
	config.FlagColdProvider, config.FlagColdTarget,
	config.FlagEmbeddingProv, config.FlagEmbeddingTgt, config.FlagEmbeddingModel,
	config.FlagEventsProvider, config.FlagEventsBrokers,
}

type ServeCommander struct {
	configDir string
	debug     bool

	cfg    *config.Config
	logger *zap.Logger

	flagTargets map[string]*string
}

const serveLongDesc string = `Run the strata coordinator.

Starts every configured tier backend, the background optimization,
cleanup and monitoring loops, and the HTTP API server.`

const serveShortDesc string = "Run the strata coordinator and API server"

func NewServeCmd() *cobra.Command {
	cmder := &ServeCommander{flagTargets: make(map[string]*string)}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			v, err := config.InitViper(cmder.configDir)
			if err != nil {
				return err
			}
			config.BindRegisteredFlags(v, cmd, serveFlags, serveFlagKeys)

			cmder.cfg, err = config.ConfigFromViper(v)
			return err
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %v", err)
			}
			return cmder.run(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&cmder.configDir, "config-dir", "c", "", "Directory containing config.toml")
	for _, key := range serveFlagKeys {
		target := new(string)
		cmder.flagTargets[key] = target
		config.AddStringFlag(cmd, serveFlags, key, target)
	}

	return cmd
}

func (c *ServeCommander) run(ctx context.Context) error {
	c.logger = logger.NewLogger(c.debug)
	defer c.logger.Sync()

	backends, err := c.buildBackends(ctx)
	if err != nil {
		return err
	}

	pol := policy.NewDefaultConfig()
	storage, err := multitier.NewStorage(multitier.Config{
		Backends:   backends,
		Capacities: pol.Capacities(),
		Logger:     c.logger,
	})
	if err != nil {
		return fmt.Errorf("creating storage router: %w", err)
	}
	defer storage.Close()

	publisher, err := c.buildPublisher()
	if err != nil {
		return err
	}
	defer publisher.Close()

	coord, err := coordinator.New(coordinator.Config{
		Storage:              storage,
		Policy:               pol,
		Publisher:            publisher,
		Logger:               c.logger,
		OptimizationInterval: c.cfg.Coordinator.OptimizationInterval,
		CleanupInterval:      c.cfg.Coordinator.CleanupInterval,
		MonitoringInterval:   c.cfg.Coordinator.MonitoringInterval,
		ShutdownGrace:        c.cfg.Coordinator.ShutdownGrace,
	})
	if err != nil {
		return fmt.Errorf("creating coordinator: %w", err)
	}

	if err := coord.Start(ctx); err != nil {
		return fmt.Errorf("starting coordinator: %w", err)
	}

	apiServer := api.NewServer(api.Config{ListenAddr: c.cfg.API.Listen}, coord, c.logger)

	errChan := make(chan error, 1)
	go func() {
		if err := apiServer.Run(); err != nil {
			errChan <- fmt.Errorf("API server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		coord.Shutdown(ctx)
		return err
	case sig := <-sigChan:
		c.logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		if err := apiServer.Shutdown(); err != nil {
			c.logger.Warn("API shutdown failed", zap.Error(err))
		}
		return coord.Shutdown(ctx)
	}
}

// buildBackends constructs one driver per configured tier. A tier whose
// provider is empty is left out; the router treats it as unavailable.
func (c *ServeCommander) buildBackends(ctx context.Context) (map[fragment.Tier]backend.Driver, error) {
	backends := make(map[fragment.Tier]backend.Driver)

	switch c.cfg.Hot.Provider {
	case "redis":
		drv, err := redisbackend.NewDriver(ctx, redisbackend.Config{
			Addr:     c.cfg.Hot.Target,
			Password: c.cfg.Hot.Password,
			DB:       c.cfg.Hot.DB,
		})
		if err != nil {
			return nil, fmt.Errorf("hot tier: %w", err)
		}
		backends[fragment.TierHot] = drv
	case "inmemory":
		backends[fragment.TierHot] = inmemory.NewDriver()
	case "":
	default:
		return nil, fmt.Errorf("unsupported hot tier provider: %s", c.cfg.Hot.Provider)
	}

	warm, err := c.buildSQLBackend(ctx, "warm", c.cfg.Warm)
	if err != nil {
		return nil, err
	}
	if warm != nil {
		backends[fragment.TierWarm] = warm
	}

	switch c.cfg.Semantic.Provider {
	case "chroma":
		embedder, err := c.buildEmbedder()
		if err != nil {
			return nil, err
		}
		drv, err := chroma.NewDriver(chroma.Config{
			URL:            c.cfg.Semantic.Target,
			CollectionName: c.cfg.Semantic.Collection,
			Embedder:       embedder,
		}, c.logger)
		if err != nil {
			return nil, fmt.Errorf("semantic tier: %w", err)
		}
		backends[fragment.TierSemantic] = drv
	case "inmemory":
		backends[fragment.TierSemantic] = inmemory.NewDriver()
	case "":
	default:
		return nil, fmt.Errorf("unsupported semantic tier provider: %s", c.cfg.Semantic.Provider)
	}

	cold, err := c.buildSQLBackend(ctx, "cold", c.cfg.Cold)
	if err != nil {
		return nil, err
	}
	if cold != nil {
		backends[fragment.TierCold] = cold
	}

	if len(backends) == 0 {
		return nil, fmt.Errorf("no tier backends configured")
	}
	return backends, nil
}

func (c *ServeCommander) buildSQLBackend(ctx context.Context, name string, tc config.SQLTierConfig) (backend.Driver, error) {
	switch tc.Provider {
	case "sqlite":
		drv, err := sqlite.NewDriver(ctx, tc.Target)
		if err != nil {
			return nil, fmt.Errorf("%s tier: %w", name, err)
		}
		return drv, nil
	case "postgres":
		drv, err := postgres.NewDriver(ctx, tc.Target)
		if err != nil {
			return nil, fmt.Errorf("%s tier: %w", name, err)
		}
		return drv, nil
	case "inmemory":
		return inmemory.NewDriver(), nil
	case "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported %s tier provider: %s", name, tc.Provider)
	}
}

func (c *ServeCommander) buildEmbedder() (embeddings.Embedder, error) {
	if c.cfg.Embedding.Provider == "" || c.cfg.Embedding.Provider == "none" {
		return nil, nil
	}
	embedder, err := embeddingutils.NewEmbedder(&embeddingutils.NewEmbedderOpts{
		ProviderType: c.cfg.Embedding.Provider,
		TargetURL:    c.cfg.Embedding.Target,
		Model:        c.cfg.Embedding.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	return embedder, nil
}

func (c *ServeCommander) buildPublisher() (eventstream.Publisher, error) {
	switch c.cfg.Events.Provider {
	case "kafka":
		brokers := strings.Split(c.cfg.Events.Brokers, ",")
		for i := range brokers {
			brokers[i] = strings.TrimSpace(brokers[i])
		}
		return kafkastream.NewPublisher(kafkastream.Config{
			Brokers: brokers,
			Topic:   c.cfg.Events.Topic,
		}, c.logger)
	case "", "nop":
		return nop.NewPublisher(), nil
	default:
		return nil, fmt.Errorf("unsupported events provider: %s", c.cfg.Events.Provider)
	}
}
