package serv

import (
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"gopkg.in/yaml.v3"

	"github.com/cordal-io/cordal/core"
)

// requireStore guards the management mutation surface: writes go to the
// config store, so they are rejected when the active source is the
// filesystem.
func requireStore(s *Service) error {
	if s.engine.Store == nil {
		return illegalState("no config store configured")
	}
	if s.engine.Registry.Source() != "store" {
		return illegalState("configuration mutations require config.source=store, active source is %q",
			s.engine.Registry.Source())
	}
	return nil
}

// configMutateHandler creates or updates one descriptor in the store.
// The body is a single YAML (or JSON) descriptor document; the name in
// the URL wins over any name in the body.
func configMutateHandler(s *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := requireStore(s); err != nil {
			writeError(w, err)
			return
		}

		kind := core.Kind(chi.URLParam(r, "kind"))
		name := chi.URLParam(r, "name")

		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			writeError(w, badRequest("body", "reading request body: %s", err))
			return
		}

		var action core.UpsertAction
		switch kind {
		case core.KindDatabase:
			var d core.Database
			if err := yaml.Unmarshal(body, &d); err != nil {
				writeError(w, badRequest("body", "parsing database descriptor: %s", err))
				return
			}
			d.Name = name
			action, err = s.engine.Store.UpsertDatabase(r.Context(), d)
		case core.KindQuery:
			var q core.Query
			if err := yaml.Unmarshal(body, &q); err != nil {
				writeError(w, badRequest("body", "parsing query descriptor: %s", err))
				return
			}
			q.Name = name
			action, err = s.engine.Store.UpsertQuery(r.Context(), q)
		case core.KindEndpoint:
			var e core.Endpoint
			if err := yaml.Unmarshal(body, &e); err != nil {
				writeError(w, badRequest("body", "parsing endpoint descriptor: %s", err))
				return
			}
			e.Name = name
			action, err = s.engine.Store.UpsertEndpoint(r.Context(), e)
		default:
			writeError(w, badRequest("kind", "unknown descriptor kind %q", kind))
			return
		}
		if err != nil {
			writeError(w, err)
			return
		}

		s.afterMutation(r, kind, name, action)

		status := http.StatusOK
		if action == core.ActionCreated {
			status = http.StatusCreated
		}
		writeJSONStatus(w, status, mutationPayload(kind, name, action))
	}
}

// configDeleteHandler removes one descriptor from the store.
func configDeleteHandler(s *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := requireStore(s); err != nil {
			writeError(w, err)
			return
		}

		kind := core.Kind(chi.URLParam(r, "kind"))
		name := chi.URLParam(r, "name")

		if err := s.engine.Store.Delete(r.Context(), kind, name); err != nil {
			writeError(w, err)
			return
		}

		s.afterMutation(r, kind, name, core.ActionDeleted)
		writeJSON(w, mutationPayload(kind, name, core.ActionDeleted))
	}
}

// afterMutation republishes the configuration: reload the generation,
// rebuild the dynamic routes and emit configuration.changed. A reload
// failure keeps the previous generation live and is logged, not
// surfaced, because the store write itself succeeded.
func (s *Service) afterMutation(r *http.Request, kind core.Kind, name string, action core.UpsertAction) {
	if _, err := s.engine.Reload(r.Context()); err != nil {
		s.log.Warnw("reload after config mutation failed, previous generation stays live",
			"kind", kind, "name", name, "error", err)
	} else {
		s.RebuildRoutes()
	}

	s.engine.PublishConfigChanged("management", map[string]interface{}{
		"kind":   string(kind),
		"name":   name,
		"action": string(action),
	})
}

// mutationPayload is the standard response of a config mutation.
func mutationPayload(kind core.Kind, name string, action core.UpsertAction) map[string]interface{} {
	return map[string]interface{}{
		"success":   true,
		"kind":      string(kind),
		"name":      name,
		"action":    string(action),
		"timestamp": time.Now().UTC(),
	}
}

// requireMigrator guards the migration surface, which needs both a
// filesystem view and a config store.
func requireMigrator(s *Service) error {
	if s.engine.Migrator == nil {
		return illegalState("migration requires a configured config store")
	}
	return nil
}

// migrationStatusHandler summarizes both sources and their drift.
func migrationStatusHandler(s *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := map[string]interface{}{
			"activeSource":    s.engine.Registry.Source(),
			"storeConfigured": s.engine.Store != nil,
			"timestamp":       time.Now().UTC(),
		}
		if s.engine.Migrator != nil {
			cmp, err := s.engine.Migrator.Compare()
			if err != nil {
				writeError(w, err)
				return
			}
			status["inSync"] = migrationInSync(cmp)
			status["comparison"] = cmp
		}
		writeJSON(w, status)
	}
}

// migrationInSync reports whether no descriptor exists in only one source.
func migrationInSync(cmp core.ComparisonReport) bool {
	for _, kc := range []core.KindComparison{cmp.Databases, cmp.Queries, cmp.Endpoints} {
		if len(kc.OnlyInFilesystem) > 0 || len(kc.OnlyInStore) > 0 {
			return false
		}
	}
	return true
}

// migrationCompareHandler diffs the filesystem and store sources.
func migrationCompareHandler(s *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := requireMigrator(s); err != nil {
			writeError(w, err)
			return
		}
		cmp, err := s.engine.Migrator.Compare()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, cmp)
	}
}

// migrationExportHandler renders the store contents as YAML documents.
func migrationExportHandler(s *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := requireMigrator(s); err != nil {
			writeError(w, err)
			return
		}
		export, err := s.engine.Migrator.ExportStore()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, export)
	}
}

// migrationFSToStoreHandler copies every filesystem descriptor into the
// store.
func migrationFSToStoreHandler(s *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := requireMigrator(s); err != nil {
			writeError(w, err)
			return
		}
		rep, err := s.engine.Migrator.MigrateFSToStore(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		if s.engine.Registry.Source() == "store" {
			if _, err := s.engine.Reload(r.Context()); err != nil {
				s.log.Warnw("reload after migration failed", "error", err)
			} else {
				s.RebuildRoutes()
			}
		}
		writeJSON(w, rep)
	}
}

// syncRequest is the body of a migration sync call.
type syncRequest struct {
	Strategy core.SyncStrategy `json:"strategy" yaml:"strategy"`
}

// migrationSyncHandler reconciles the two sources under one strategy.
func migrationSyncHandler(s *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := requireMigrator(s); err != nil {
			writeError(w, err)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
		if err != nil {
			writeError(w, badRequest("body", "reading request body: %s", err))
			return
		}
		var req syncRequest
		if len(body) > 0 {
			if err := yaml.Unmarshal(body, &req); err != nil {
				writeError(w, badRequest("body", "parsing sync request: %s", err))
				return
			}
		}
		if req.Strategy == "" {
			req.Strategy = core.SyncManualReview
		}
		if !req.Strategy.Valid() {
			writeError(w, badRequest("strategy", "unknown sync strategy %q", req.Strategy))
			return
		}

		rep, err := s.engine.Migrator.Sync(r.Context(), req.Strategy)
		if err != nil {
			writeError(w, err)
			return
		}
		if s.engine.Registry.Source() == "store" {
			if _, err := s.engine.Reload(r.Context()); err != nil {
				s.log.Warnw("reload after sync failed", "error", err)
			} else {
				s.RebuildRoutes()
			}
		}
		writeJSON(w, rep)
	}
}
