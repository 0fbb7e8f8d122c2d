package core

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EndpointStats aggregates one endpoint's request counters.
type EndpointStats struct {
	Name           string    `json:"name"`
	Calls          uint64    `json:"calls"`
	Successes      uint64    `json:"successes"`
	Failures       uint64    `json:"failures"`
	TotalElapsedMs int64     `json:"totalElapsedMs"`
	MinMs          int64     `json:"minMs"`
	MaxMs          int64     `json:"maxMs"`
	FirstCall      time.Time `json:"firstCall"`
	LastCall       time.Time `json:"lastCall"`
}

// QueryStats aggregates one query's execution counters.
type QueryStats struct {
	Name           string            `json:"name"`
	Calls          uint64            `json:"calls"`
	Successes      uint64            `json:"successes"`
	Failures       uint64            `json:"failures"`
	CacheHits      uint64            `json:"cacheHits"`
	CacheMisses    uint64            `json:"cacheMisses"`
	RowsReturned   uint64            `json:"rowsReturned"`
	TotalElapsedMs int64             `json:"totalElapsedMs"`
	MinMs          int64             `json:"minMs"`
	MaxMs          int64             `json:"maxMs"`
	DatabaseUsage  map[string]uint64 `json:"databaseUsage"`
	FirstCall      time.Time         `json:"firstCall"`
	LastCall       time.Time         `json:"lastCall"`
}

// DatabaseStats aggregates one pool's connection counters.
type DatabaseStats struct {
	Name           string `json:"name"`
	Connections    uint64 `json:"connections"`
	Successes      uint64 `json:"successes"`
	Failures       uint64 `json:"failures"`
	TotalElapsedMs int64  `json:"totalElapsedMs"`
}

// Statistics keeps the three keyed counter families. Counters are
// guarded per family; the lock is held only long enough to bump the
// entry, and snapshots copy out.
type Statistics struct {
	mu        sync.Mutex
	endpoints map[string]*EndpointStats
	queries   map[string]*QueryStats
	databases map[string]*DatabaseStats

	promRegistry     *prometheus.Registry
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	queriesTotal     *prometheus.CounterVec
	cacheLookupTotal *prometheus.CounterVec
	dbAcquireTotal   *prometheus.CounterVec
}

// NewStatistics creates empty counter families and registers the
// prometheus collectors.
func NewStatistics() *Statistics {
	s := &Statistics{
		endpoints:    make(map[string]*EndpointStats),
		queries:      make(map[string]*QueryStats),
		databases:    make(map[string]*DatabaseStats),
		promRegistry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cordal",
			Name:      "requests_total",
			Help:      "API requests by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cordal",
			Name:      "request_duration_seconds",
			Help:      "API request latency by endpoint.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
		queriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cordal",
			Name:      "queries_total",
			Help:      "Query executions by query and outcome.",
		}, []string{"query", "outcome"}),
		cacheLookupTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cordal",
			Name:      "cache_lookups_total",
			Help:      "Query cache lookups by query and result.",
		}, []string{"query", "result"}),
		dbAcquireTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cordal",
			Name:      "db_connections_total",
			Help:      "Connection acquisitions by database and outcome.",
		}, []string{"database", "outcome"}),
	}
	s.promRegistry.MustRegister(
		s.requestsTotal,
		s.requestDuration,
		s.queriesTotal,
		s.cacheLookupTotal,
		s.dbAcquireTotal,
	)
	return s
}

// PrometheusRegistry exposes the collector registry for the /metrics
// handler.
func (s *Statistics) PrometheusRegistry() *prometheus.Registry {
	return s.promRegistry
}

// RecordEndpoint records one dispatched request.
func (s *Statistics) RecordEndpoint(name string, elapsed time.Duration, success bool) {
	now := time.Now()
	ms := elapsed.Milliseconds()

	s.mu.Lock()
	st, ok := s.endpoints[name]
	if !ok {
		st = &EndpointStats{Name: name, MinMs: ms, FirstCall: now}
		s.endpoints[name] = st
	}
	st.Calls++
	if success {
		st.Successes++
	} else {
		st.Failures++
	}
	st.TotalElapsedMs += ms
	if ms < st.MinMs {
		st.MinMs = ms
	}
	if ms > st.MaxMs {
		st.MaxMs = ms
	}
	st.LastCall = now
	s.mu.Unlock()

	s.requestsTotal.WithLabelValues(name, outcome(success)).Inc()
	s.requestDuration.WithLabelValues(name).Observe(elapsed.Seconds())
}

// RecordQuery records one query execution, cached or not.
func (s *Statistics) RecordQuery(name, database string, elapsed time.Duration, rows int, success, cacheHit bool) {
	now := time.Now()
	ms := elapsed.Milliseconds()

	s.mu.Lock()
	st, ok := s.queries[name]
	if !ok {
		st = &QueryStats{
			Name:          name,
			MinMs:         ms,
			FirstCall:     now,
			DatabaseUsage: make(map[string]uint64),
		}
		s.queries[name] = st
	}
	st.Calls++
	if success {
		st.Successes++
	} else {
		st.Failures++
	}
	if cacheHit {
		st.CacheHits++
	} else {
		st.CacheMisses++
	}
	st.RowsReturned += uint64(rows)
	st.TotalElapsedMs += ms
	if ms < st.MinMs {
		st.MinMs = ms
	}
	if ms > st.MaxMs {
		st.MaxMs = ms
	}
	if database != "" {
		st.DatabaseUsage[database]++
	}
	st.LastCall = now
	s.mu.Unlock()

	s.queriesTotal.WithLabelValues(name, outcome(success)).Inc()
	if cacheHit {
		s.cacheLookupTotal.WithLabelValues(name, "hit").Inc()
	} else {
		s.cacheLookupTotal.WithLabelValues(name, "miss").Inc()
	}
}

// RecordDatabase records one connection acquisition and its outcome.
func (s *Statistics) RecordDatabase(name string, elapsed time.Duration, success bool) {
	ms := elapsed.Milliseconds()

	s.mu.Lock()
	st, ok := s.databases[name]
	if !ok {
		st = &DatabaseStats{Name: name}
		s.databases[name] = st
	}
	st.Connections++
	if success {
		st.Successes++
	} else {
		st.Failures++
	}
	st.TotalElapsedMs += ms
	s.mu.Unlock()

	s.dbAcquireTotal.WithLabelValues(name, outcome(success)).Inc()
}

// EndpointSnapshot copies the endpoint family, sorted by name.
func (s *Statistics) EndpointSnapshot() []EndpointStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EndpointStats, 0, len(s.endpoints))
	for _, st := range s.endpoints {
		out = append(out, *st)
	}
	sortStats(out, func(e EndpointStats) string { return e.Name })
	return out
}

// QuerySnapshot copies the query family, sorted by name.
func (s *Statistics) QuerySnapshot() []QueryStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]QueryStats, 0, len(s.queries))
	for _, st := range s.queries {
		cp := *st
		cp.DatabaseUsage = make(map[string]uint64, len(st.DatabaseUsage))
		for k, v := range st.DatabaseUsage {
			cp.DatabaseUsage[k] = v
		}
		out = append(out, cp)
	}
	sortStats(out, func(q QueryStats) string { return q.Name })
	return out
}

// DatabaseSnapshot copies the database family, sorted by name.
func (s *Statistics) DatabaseSnapshot() []DatabaseStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DatabaseStats, 0, len(s.databases))
	for _, st := range s.databases {
		out = append(out, *st)
	}
	sortStats(out, func(d DatabaseStats) string { return d.Name })
	return out
}

// outcome labels a result for prometheus.
func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// sortStats orders a snapshot by key.
func sortStats[T any](xs []T, key func(T) string) {
	sort.Slice(xs, func(i, j int) bool { return key(xs[i]) < key(xs[j]) })
}
