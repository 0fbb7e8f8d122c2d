package core

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Health status values.
const (
	StatusUp       = "UP"
	StatusDown     = "DOWN"
	StatusDegraded = "DEGRADED"
)

// Probe budgets and thresholds.
const (
	healthCacheTTL     = 30 * time.Second
	healthAcquireLimit = 5 * time.Second
	healthPingLimit    = 3 * time.Second

	readyMemoryLimit = 0.95
	liveMemoryLimit  = 0.98
	liveGoroutineMax = 2000
)

// DatabaseHealth is one probe result.
type DatabaseHealth struct {
	Database  string        `json:"database"`
	Status    string        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Elapsed   time.Duration `json:"elapsedMs"`
	CheckedAt time.Time     `json:"checkedAt"`
}

// Up reports whether the probe succeeded.
func (h DatabaseHealth) Up() bool { return h.Status == StatusUp }

// HealthMonitor probes pools with a cached result per database.
// Concurrent checks of the same database share one probe.
type HealthMonitor struct {
	registry *Registry
	pools    *PoolRegistry
	log      *zap.SugaredLogger

	mu     sync.RWMutex
	cached map[string]DatabaseHealth
	group  singleflight.Group

	configFailed bool
}

// NewHealthMonitor creates a monitor over the registry and pools.
func NewHealthMonitor(registry *Registry, pools *PoolRegistry, log *zap.SugaredLogger) *HealthMonitor {
	return &HealthMonitor{
		registry: registry,
		pools:    pools,
		log:      log,
		cached:   make(map[string]DatabaseHealth),
	}
}

// SetConfigFailed marks the configuration load as failed, which forces
// overall status DOWN.
func (m *HealthMonitor) SetConfigFailed(failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configFailed = failed
}

// Check probes one database, serving a cached result younger than 30s.
func (m *HealthMonitor) Check(ctx context.Context, dbName string) DatabaseHealth {
	m.mu.RLock()
	cached, ok := m.cached[dbName]
	m.mu.RUnlock()
	if ok && time.Since(cached.CheckedAt) < healthCacheTTL {
		return cached
	}

	v, _, _ := m.group.Do(dbName, func() (interface{}, error) {
		h := m.probe(ctx, dbName)
		m.mu.Lock()
		m.cached[dbName] = h
		m.mu.Unlock()
		return h, nil
	})
	return v.(DatabaseHealth)
}

// probe acquires a connection within the 5s budget and pings it with a
// 3s validation timeout.
func (m *HealthMonitor) probe(ctx context.Context, dbName string) DatabaseHealth {
	start := time.Now()
	h := DatabaseHealth{Database: dbName, CheckedAt: start}

	acquireCtx, cancel := context.WithTimeout(ctx, healthAcquireLimit)
	defer cancel()

	conn, err := m.pools.Acquire(acquireCtx, dbName)
	if err != nil {
		h.Status = StatusDown
		h.Message = err.Error()
		h.Elapsed = time.Since(start)
		m.log.Warnw("database health probe failed",
			"database", dbName, "error", err, "elapsed", h.Elapsed)
		return h
	}
	defer conn.Close()

	pingCtx, cancelPing := context.WithTimeout(ctx, healthPingLimit)
	defer cancelPing()

	if err := conn.PingContext(pingCtx); err != nil {
		h.Status = StatusDown
		h.Message = err.Error()
	} else {
		h.Status = StatusUp
	}
	h.Elapsed = time.Since(start)
	return h
}

// CheckAll probes every configured database.
func (m *HealthMonitor) CheckAll(ctx context.Context) []DatabaseHealth {
	dbs := m.registry.AllDatabases()
	out := make([]DatabaseHealth, 0, len(dbs))
	for _, name := range sortedKeys(dbs) {
		out = append(out, m.Check(ctx, name))
	}
	return out
}

// Overall derives the aggregate status: DOWN when configuration load
// failed, DEGRADED when any database is down, UP otherwise.
func (m *HealthMonitor) Overall(ctx context.Context) string {
	m.mu.RLock()
	failed := m.configFailed
	m.mu.RUnlock()
	if failed || !m.registry.Loaded() {
		return StatusDown
	}

	for _, h := range m.CheckAll(ctx) {
		if !h.Up() {
			return StatusDegraded
		}
	}
	return StatusUp
}

// ReadinessReport is the payload of the readiness endpoint.
type ReadinessReport struct {
	Ready     bool              `json:"ready"`
	Checks    map[string]string `json:"checks"`
	Databases []DatabaseHealth  `json:"databases"`
	Timestamp time.Time         `json:"timestamp"`
}

// Readiness combines config presence, database probes and memory
// pressure.
func (m *HealthMonitor) Readiness(ctx context.Context) ReadinessReport {
	rep := ReadinessReport{
		Ready:     true,
		Checks:    make(map[string]string),
		Timestamp: time.Now(),
	}

	if len(m.registry.AllDatabases()) == 0 {
		rep.Ready = false
		rep.Checks["configuration"] = "no databases configured"
	} else {
		rep.Checks["configuration"] = "ok"
	}

	rep.Databases = m.CheckAll(ctx)
	for _, h := range rep.Databases {
		if !h.Up() {
			rep.Ready = false
			rep.Checks["database:"+h.Database] = h.Message
		}
	}

	if used := memoryUsage(); used > readyMemoryLimit {
		rep.Ready = false
		rep.Checks["memory"] = fmt.Sprintf("usage %.1f%% above %.0f%%", used*100, readyMemoryLimit*100)
	} else {
		rep.Checks["memory"] = "ok"
	}
	return rep
}

// LivenessReport is the payload of the liveness endpoint.
type LivenessReport struct {
	Alive      bool      `json:"alive"`
	Memory     float64   `json:"memoryUsage"`
	Goroutines int       `json:"goroutines"`
	Timestamp  time.Time `json:"timestamp"`
}

// Liveness combines memory pressure and goroutine count.
func (m *HealthMonitor) Liveness() LivenessReport {
	rep := LivenessReport{
		Memory:     memoryUsage(),
		Goroutines: runtime.NumGoroutine(),
		Timestamp:  time.Now(),
	}
	rep.Alive = rep.Memory <= liveMemoryLimit && rep.Goroutines <= liveGoroutineMax
	return rep
}

// memoryUsage returns the heap-in-use fraction of memory obtained from
// the OS.
func memoryUsage() float64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	if ms.Sys == 0 {
		return 0
	}
	return float64(ms.HeapAlloc) / float64(ms.Sys)
}
