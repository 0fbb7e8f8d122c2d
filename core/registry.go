package core

import (
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Generation is one consistent, validated snapshot of all descriptors.
// It is immutable after publication; the data plane only ever sees whole
// generations.
type Generation struct {
	Databases map[string]Database
	Queries   map[string]Query
	Endpoints map[string]Endpoint

	Number   uint64
	LoadedAt time.Time
}

// Registry holds the current generation and swaps in new ones atomically.
type Registry struct {
	loader Loader
	log    *zap.SugaredLogger

	// lenient publishes generations that failed validation instead of
	// rejecting them (validation.runOnStartup=false)
	lenient atomic.Bool

	gen     atomic.Pointer[Generation]
	genSeq  atomic.Uint64
	lastRep atomic.Pointer[ValidationReport]
}

// NewRegistry creates an empty registry over the given loader. Call
// Reload to publish the first generation.
func NewRegistry(loader Loader, log *zap.SugaredLogger) *Registry {
	return &Registry{loader: loader, log: log}
}

// SetLenient controls whether generations with validation errors are
// still published. Load failures (parse, duplicates) are always fatal.
func (r *Registry) SetLenient(lenient bool) {
	r.lenient.Store(lenient)
}

// Source names the active configuration source.
func (r *Registry) Source() string { return r.loader.Source() }

// Reload loads all descriptors from the source, validates them as a set
// and publishes the result as a new generation. On any failure the prior
// generation (if any) stays in place untouched.
func (r *Registry) Reload() (*ValidationReport, error) {
	dbs, err := r.loader.LoadDatabases()
	if err != nil {
		return nil, fmt.Errorf("loading databases: %w", err)
	}
	queries, err := r.loader.LoadQueries()
	if err != nil {
		return nil, fmt.Errorf("loading queries: %w", err)
	}
	endpoints, err := r.loader.LoadEndpoints()
	if err != nil {
		return nil, fmt.Errorf("loading endpoints: %w", err)
	}

	cand := &Generation{
		Databases: dbs,
		Queries:   queries,
		Endpoints: endpoints,
		LoadedAt:  time.Now(),
	}

	rep := ValidateGeneration(cand)
	r.lastRep.Store(&rep)

	for _, w := range rep.Warnings {
		r.log.Warnw("config validation warning", "warning", w)
	}
	if !rep.Valid() {
		for _, e := range rep.Errors {
			r.log.Errorw("config validation error", "error", e)
		}
		if !r.lenient.Load() {
			return &rep, fmt.Errorf("configuration invalid: %d error(s)", len(rep.Errors))
		}
		r.log.Warnw("publishing generation despite validation errors",
			"errors", len(rep.Errors))
	}

	cand.Number = r.genSeq.Add(1)
	r.gen.Store(cand)
	r.log.Infow("configuration generation published",
		"generation", cand.Number,
		"databases", len(dbs),
		"queries", len(queries),
		"endpoints", len(endpoints))
	return &rep, nil
}

// Validate re-runs set validation against the current generation without
// reloading. Returns an empty-generation report before the first load.
func (r *Registry) Validate() ValidationReport {
	g := r.gen.Load()
	if g == nil {
		var rep ValidationReport
		rep.errorf("no configuration generation loaded")
		return rep
	}
	return ValidateGeneration(g)
}

// LastReport returns the report of the most recent load attempt.
func (r *Registry) LastReport() *ValidationReport {
	return r.lastRep.Load()
}

// Generation returns the current snapshot, or nil before the first load.
func (r *Registry) Generation() *Generation {
	return r.gen.Load()
}

// Loaded reports whether a generation has been published.
func (r *Registry) Loaded() bool { return r.gen.Load() != nil }

// AllDatabases returns the current database descriptors.
func (r *Registry) AllDatabases() map[string]Database {
	if g := r.gen.Load(); g != nil {
		return g.Databases
	}
	return nil
}

// AllQueries returns the current query descriptors.
func (r *Registry) AllQueries() map[string]Query {
	if g := r.gen.Load(); g != nil {
		return g.Queries
	}
	return nil
}

// AllEndpoints returns the current endpoint descriptors.
func (r *Registry) AllEndpoints() map[string]Endpoint {
	if g := r.gen.Load(); g != nil {
		return g.Endpoints
	}
	return nil
}

// LookupDatabase resolves one database descriptor by name.
func (r *Registry) LookupDatabase(name string) (Database, bool) {
	g := r.gen.Load()
	if g == nil {
		return Database{}, false
	}
	d, ok := g.Databases[name]
	return d, ok
}

// LookupQuery resolves one query descriptor by name.
func (r *Registry) LookupQuery(name string) (Query, bool) {
	g := r.gen.Load()
	if g == nil {
		return Query{}, false
	}
	q, ok := g.Queries[name]
	return q, ok
}

// LookupEndpoint resolves one endpoint descriptor by name.
func (r *Registry) LookupEndpoint(name string) (Endpoint, bool) {
	g := r.gen.Load()
	if g == nil {
		return Endpoint{}, false
	}
	e, ok := g.Endpoints[name]
	return e, ok
}
