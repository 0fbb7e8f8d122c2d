package core

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Engine is the composition root of the CORDAL core. It owns every
// subsystem the HTTP layer needs; there is no global state, the process
// entrypoint creates one Engine and passes it around.
type Engine struct {
	Registry    *Registry
	Pools       *PoolRegistry
	Caches      *CacheManager
	Bus         *EventBus
	Invalidator *Invalidator
	Executor    *QueryExecutor
	Stats       *Statistics
	Health      *HealthMonitor

	// Store and Migrator are set when a config store is configured.
	// Management mutations require a store-backed source.
	Store    *Store
	Migrator *Migrator

	log *zap.SugaredLogger
}

// EngineConfig wires an engine together.
type EngineConfig struct {
	Loader Loader
	Cache  CacheManagerConfig

	// Store is optional; it enables the management and migration
	// surfaces. FSLoader is the filesystem view used by migration and
	// may equal Loader when the active source is the filesystem.
	Store    *Store
	FSLoader Loader
}

// NewEngine builds the full subsystem graph. Call Reload to publish the
// first configuration generation.
func NewEngine(conf EngineConfig, log *zap.SugaredLogger) (*Engine, error) {
	if conf.Loader == nil {
		return nil, fmt.Errorf("engine: a config loader is required")
	}

	e := &Engine{
		Registry: NewRegistry(conf.Loader, log),
		Caches:   NewCacheManager(conf.Cache, log),
		Bus:      NewEventBus(log),
		Stats:    NewStatistics(),
		Store:    conf.Store,
		log:      log,
	}
	e.Pools = NewPoolRegistry(e.Registry, log)
	e.Invalidator = NewInvalidator(e.Bus, e.Caches, log)
	e.Executor = NewQueryExecutor(e.Pools, e.Caches, e.Stats, log)
	e.Health = NewHealthMonitor(e.Registry, e.Pools, log)

	if conf.Store != nil && conf.FSLoader != nil {
		e.Migrator = NewMigrator(conf.FSLoader, conf.Store, e.Bus, log)
	}
	return e, nil
}

// Reload loads and publishes a new configuration generation, then
// re-registers invalidation rules and warms preloadable caches. On
// failure the previous generation stays live.
func (e *Engine) Reload(ctx context.Context) (*ValidationReport, error) {
	rep, err := e.Registry.Reload()
	if err != nil {
		e.Health.SetConfigFailed(true)
		return rep, err
	}
	e.Health.SetConfigFailed(false)

	g := e.Registry.Generation()
	e.Invalidator.Reset()
	e.Invalidator.RegisterQueryRules(g)
	e.Executor.WarmCaches(ctx, g)
	return rep, nil
}

// PublishConfigChanged emits the configuration.changed event that the
// invalidation engine listens for. Management handlers call this after
// every successful mutation.
func (e *Engine) PublishConfigChanged(source string, data map[string]interface{}) {
	e.Bus.PublishSync(NewEvent(EventConfigChanged, source, data))
}

// Close tears the engine down: invalidation timers, the event bus, the
// cache cleaner and every connection pool.
func (e *Engine) Close() {
	e.Invalidator.Close()
	e.Bus.Close()
	e.Caches.Close()
	e.Pools.Shutdown()
	e.log.Info("engine shutdown complete")
}
