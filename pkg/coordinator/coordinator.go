// Package coordinator ties the tiered storage router and the policy
// engines together: foreground ingest and fetch, background optimization,
// cleanup and monitoring loops, and operator-triggered maintenance.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/strata/pkg/eventstream"
	"github.com/papercomputeco/strata/pkg/eventstream/nop"
	"github.com/papercomputeco/strata/pkg/multitier"
	"github.com/papercomputeco/strata/pkg/policy"
)

// ErrNotRunning indicates an operation that needs the background loops
// while the coordinator is stopped.
var ErrNotRunning = errors.New("coordinator is not running")

// ConfigurationError indicates the coordinator could not be constructed.
// It is fatal; the process should not continue without a working tier set.
type ConfigurationError struct {
	Reason string
}

func (e ConfigurationError) Error() string {
	return fmt.Sprintf("coordinator configuration: %s", e.Reason)
}

// Config holds construction inputs for the coordinator.
type Config struct {
	// Storage is the multi-tier router. Required.
	Storage *multitier.Storage

	// Policy carries the tier thresholds. Defaults apply when nil.
	Policy *policy.Config

	// Analyzer optionally supplies external access patterns.
	Analyzer policy.AccessAnalyzer

	// Publisher receives fragment lifecycle events. Defaults to the no-op
	// publisher when nil.
	Publisher eventstream.Publisher

	Logger *zap.Logger

	// Loop intervals. Zero values take the defaults below.
	OptimizationInterval time.Duration
	CleanupInterval      time.Duration
	MonitoringInterval   time.Duration

	// ShutdownGrace bounds how long Shutdown waits for in-flight work.
	ShutdownGrace time.Duration
}

const (
	defaultOptimizationInterval = time.Hour
	defaultCleanupInterval      = 24 * time.Hour
	defaultMonitoringInterval   = 5 * time.Minute
	defaultShutdownGrace        = 10 * time.Second
)

// Coordinator is the top-level controller for the tiered cache.
type Coordinator struct {
	storage   *multitier.Storage
	policy    *policy.Config
	promoter  *policy.Promoter
	demoter   *policy.Demoter
	evictor   *policy.Evictor
	publisher eventstream.Publisher
	analyzer  policy.AccessAnalyzer
	logger    *zap.Logger

	optimizationInterval time.Duration
	cleanupInterval      time.Duration
	monitoringInterval   time.Duration
	shutdownGrace        time.Duration

	// optimizeCh wakes the optimization loop early when ingest detects
	// pressure. Buffered so the trigger never blocks a caller.
	optimizeCh chan struct{}

	mu        sync.Mutex
	running   bool
	startedAt time.Time
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	stats statsTracker
}

// New validates the configuration and builds a coordinator. A missing
// router is a ConfigurationError; the process must not start without one.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Storage == nil {
		return nil, ConfigurationError{Reason: "no storage router configured"}
	}

	pol := cfg.Policy
	if pol == nil {
		pol = policy.NewDefaultConfig()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = nop.NewPublisher()
	}

	c := &Coordinator{
		storage:   cfg.Storage,
		policy:    pol,
		promoter:  policy.NewPromoter(cfg.Storage, cfg.Analyzer, pol, logger),
		demoter:   policy.NewDemoter(cfg.Storage, cfg.Analyzer, pol, logger),
		evictor:   policy.NewEvictor(cfg.Storage, pol, logger),
		publisher: publisher,
		analyzer:  cfg.Analyzer,
		logger:    logger,

		optimizationInterval: orDefault(cfg.OptimizationInterval, defaultOptimizationInterval),
		cleanupInterval:      orDefault(cfg.CleanupInterval, defaultCleanupInterval),
		monitoringInterval:   orDefault(cfg.MonitoringInterval, defaultMonitoringInterval),
		shutdownGrace:        orDefault(cfg.ShutdownGrace, defaultShutdownGrace),

		optimizeCh: make(chan struct{}, 1),
	}
	return c, nil
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

// Evictor exposes the eviction engine so callers can manage the protected
// fragment set.
func (c *Coordinator) Evictor() *policy.Evictor {
	return c.evictor
}

// Start launches the optimization, cleanup and monitoring loops. Calling
// Start on a running coordinator is a no-op.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}

	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.running = true
	c.startedAt = time.Now().UTC()

	c.wg.Add(3)
	go c.optimizationLoop(loopCtx)
	go c.cleanupLoop(loopCtx)
	go c.monitoringLoop(loopCtx)

	c.logger.Info("coordinator started",
		zap.Duration("optimization_interval", c.optimizationInterval),
		zap.Duration("cleanup_interval", c.cleanupInterval),
		zap.Duration("monitoring_interval", c.monitoringInterval),
	)
	return nil
}

// Shutdown stops the loops and waits up to the configured grace period for
// in-flight cycles to finish. Work still running past the grace period is
// abandoned and logged, never force-killed.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	cancel := c.cancel
	c.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	grace := time.NewTimer(c.shutdownGrace)
	defer grace.Stop()

	select {
	case <-done:
		c.logger.Info("coordinator stopped")
		return nil
	case <-grace.C:
		c.logger.Warn("shutdown grace period elapsed, abandoning in-flight work",
			zap.Duration("grace", c.shutdownGrace),
		)
		return nil
	case <-ctx.Done():
		c.logger.Warn("shutdown context cancelled before loops finished")
		return ctx.Err()
	}
}

// Running reports whether the background loops are active.
func (c *Coordinator) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// sleep waits for the interval, returning false when the context is
// cancelled first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *Coordinator) optimizationLoop(ctx context.Context) {
	defer c.wg.Done()
	for {
		t := time.NewTimer(c.optimizationInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-c.optimizeCh:
			t.Stop()
		case <-t.C:
		}
		if ctx.Err() != nil {
			return
		}
		c.runGuarded(ctx, "optimization", func() {
			report := c.RunOptimizationCycle(ctx)
			c.logger.Info("optimization cycle complete",
				zap.Int("promoted", report.Promotion.Succeeded),
				zap.Int("demoted", report.Demotion.Succeeded),
				zap.Int("evicted", report.Eviction.Succeeded),
				zap.Duration("duration", report.Duration),
			)
		})
	}
}

func (c *Coordinator) cleanupLoop(ctx context.Context) {
	defer c.wg.Done()
	for sleep(ctx, c.cleanupInterval) {
		c.runGuarded(ctx, "cleanup", func() {
			report := c.RunCleanup(ctx)
			c.logger.Info("cleanup cycle complete",
				zap.Int("evicted", report.Succeeded),
				zap.Int64("bytes_freed", report.BytesFreed),
				zap.Duration("duration", report.Duration),
			)
		})
	}
}

func (c *Coordinator) monitoringLoop(ctx context.Context) {
	defer c.wg.Done()
	for sleep(ctx, c.monitoringInterval) {
		c.runGuarded(ctx, "monitoring", func() {
			stats, err := c.storage.Stats(ctx)
			if err != nil {
				c.stats.recordError(err)
				c.logger.Warn("monitoring stats failed", zap.Error(err))
				return
			}
			for tier, usage := range stats {
				if ceiling := c.policy.Tier(tier).CapacityCeiling; ceiling > 0 && usage.Utilization > ceiling {
					c.logger.Warn("tier over capacity ceiling",
						zap.String("tier", tier.String()),
						zap.Float64("utilization", usage.Utilization),
						zap.Float64("ceiling", ceiling),
					)
					c.triggerOptimization()
				}
			}
		})
	}
}

// runGuarded runs one cycle body, converting a panic into a logged error so
// a bad cycle never kills the loop.
func (c *Coordinator) runGuarded(_ context.Context, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("%s cycle panicked: %v", name, r)
			c.stats.recordError(err)
			c.logger.Error("background cycle panicked",
				zap.String("loop", name),
				zap.Any("panic", r),
			)
		}
	}()
	fn()
}

// triggerOptimization wakes the optimization loop without blocking.
func (c *Coordinator) triggerOptimization() {
	select {
	case c.optimizeCh <- struct{}{}:
	default:
	}
}
