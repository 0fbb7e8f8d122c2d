package serv

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cordal-io/cordal/core"
)

const scopeAll = "all"

// endpointsHandler lists every dynamic route of the current generation.
func endpointsHandler(s *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		all := s.engine.Registry.AllEndpoints()

		endpoints := make(map[string]interface{}, len(all))
		for _, name := range sortedEndpointNames(all) {
			e := all[name]
			endpoints[name] = map[string]interface{}{
				"path":        e.Path,
				"method":      e.Method,
				"query":       e.Query,
				"description": e.Description,
			}
		}
		writeJSON(w, map[string]interface{}{
			"totalEndpoints": len(all),
			"endpoints":      endpoints,
		})
	}
}

// configSummaryHandler reports the active source and generation counts.
func configSummaryHandler(s *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary := map[string]interface{}{
			"source":    s.engine.Registry.Source(),
			"loaded":    s.engine.Registry.Loaded(),
			"timestamp": time.Now().UTC(),
		}
		if g := s.engine.Registry.Generation(); g != nil {
			summary["generation"] = g.Number
			summary["loadedAt"] = g.LoadedAt
			summary["counts"] = map[string]int{
				"databases": len(g.Databases),
				"queries":   len(g.Queries),
				"endpoints": len(g.Endpoints),
			}
			summary["databases"] = g.Databases
			summary["queries"] = g.Queries
			summary["endpoints"] = g.Endpoints
		}
		writeJSON(w, summary)
	}
}

// validateHandler re-validates the current generation, either fully or
// for one scope.
func validateHandler(s *Service, scope string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var rep core.ValidationReport
		if scope == scopeAll {
			rep = s.engine.Registry.Validate()
		} else {
			g := s.engine.Registry.Generation()
			if g == nil {
				writeError(w, illegalState("no configuration generation loaded"))
				return
			}
			var err error
			rep, err = core.ValidateScope(g, scope)
			if err != nil {
				writeError(w, badRequest("scope", "%s", err))
				return
			}
		}
		writeJSON(w, validationPayload(rep))
	}
}

// validateScopedHandler validates one scope taken from the URL:
// databases, queries, endpoints, or relationships.
func validateScopedHandler(s *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		validateHandler(s, chi.URLParam(r, "scope"))(w, r)
	}
}

// validationPayload shapes a report for the HTTP surface.
func validationPayload(rep core.ValidationReport) map[string]interface{} {
	status := "VALID"
	if !rep.Valid() {
		status = "INVALID"
	}
	errs := rep.Errors
	if errs == nil {
		errs = []string{}
	}
	warns := rep.Warnings
	if warns == nil {
		warns = []string{}
	}
	return map[string]interface{}{
		"status":       status,
		"errors":       errs,
		"warnings":     warns,
		"errorCount":   len(errs),
		"warningCount": len(warns),
		"timestamp":    time.Now().UTC(),
	}
}

// configKindHandler returns every descriptor of one kind.
func configKindHandler(s *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch core.Kind(chi.URLParam(r, "kind")) {
		case core.KindDatabase:
			writeJSON(w, s.engine.Registry.AllDatabases())
		case core.KindQuery:
			writeJSON(w, s.engine.Registry.AllQueries())
		case core.KindEndpoint:
			writeJSON(w, s.engine.Registry.AllEndpoints())
		default:
			writeError(w, badRequest("kind", "unknown descriptor kind %q", chi.URLParam(r, "kind")))
		}
	}
}

// configItemHandler returns one descriptor by kind and name.
func configItemHandler(s *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind := core.Kind(chi.URLParam(r, "kind"))
		name := chi.URLParam(r, "name")

		var (
			item interface{}
			ok   bool
		)
		switch kind {
		case core.KindDatabase:
			item, ok = s.engine.Registry.LookupDatabase(name)
		case core.KindQuery:
			item, ok = s.engine.Registry.LookupQuery(name)
		case core.KindEndpoint:
			item, ok = s.engine.Registry.LookupEndpoint(name)
		default:
			writeError(w, badRequest("kind", "unknown descriptor kind %q", kind))
			return
		}
		if !ok {
			writeError(w, notFound("no %s named %q", kind, name))
			return
		}
		writeJSON(w, item)
	}
}

// statsHandler dumps the endpoint, query and database counter families.
func statsHandler(s *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"endpoints": s.engine.Stats.EndpointSnapshot(),
			"queries":   s.engine.Stats.QuerySnapshot(),
			"databases": s.engine.Stats.DatabaseSnapshot(),
			"timestamp": time.Now().UTC(),
		})
	}
}

// cacheStatsHandler reports per-cache hit, miss and eviction counters.
func cacheStatsHandler(s *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"caches":    s.engine.Caches.AllStats(),
			"timestamp": time.Now().UTC(),
		})
	}
}

// cacheClearHandler clears one named cache, or all of them when the URL
// names none.
func cacheClearHandler(s *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "cache")
		if name == "" {
			s.engine.Caches.ClearAll()
		} else {
			s.engine.Caches.Clear(name)
		}
		s.log.Infow("cache cleared", "cache", name)
		writeJSON(w, map[string]interface{}{
			"success":   true,
			"cache":     name,
			"timestamp": time.Now().UTC(),
		})
	}
}
