package serv

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

// newRouter builds the full route table: static APIs plus one route per
// endpoint descriptor in the current generation.
func newRouter(s *Service) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s))
	r.Use(middleware.Recoverer)

	if len(s.conf.Server.AllowedOrigins) > 0 {
		r.Use(cors.New(cors.Options{
			AllowedOrigins: s.conf.Server.AllowedOrigins,
			AllowedHeaders: s.conf.Server.AllowedHeaders,
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		}).Handler)
	}

	// Healthcheck and probes
	r.Get("/api/health", healthHandler(s))
	r.Get("/api/management/ready", readyHandler(s))
	r.Get("/api/management/live", liveHandler(s))

	// Prometheus metrics
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(
		s.engine.Stats.PrometheusRegistry(), promhttp.HandlerOpts{}))

	// Generic config inspection API
	r.Route("/api/generic", func(r chi.Router) {
		r.Get("/endpoints", endpointsHandler(s))
		r.Get("/config", configSummaryHandler(s))
		r.Get("/config/validate", validateHandler(s, scopeAll))
		r.Get("/config/validate/{scope}", validateScopedHandler(s))
		r.Get("/config/{kind}", configKindHandler(s))
		r.Get("/config/{kind}/{name}", configItemHandler(s))
		r.Get("/stats", statsHandler(s))
	})

	// Cache management
	r.Route("/api/cache", func(r chi.Router) {
		r.Get("/stats", cacheStatsHandler(s))
		r.Post("/clear", cacheClearHandler(s))
		r.Post("/clear/{cache}", cacheClearHandler(s))
	})

	// Management surface: config mutation and migration. Mutations are
	// rejected when the active source is the filesystem.
	r.Route("/api/management", func(r chi.Router) {
		r.Post("/config/{kind}/{name}", configMutateHandler(s))
		r.Put("/config/{kind}/{name}", configMutateHandler(s))
		r.Delete("/config/{kind}/{name}", configDeleteHandler(s))

		r.Get("/migration/status", migrationStatusHandler(s))
		r.Get("/migration/compare", migrationCompareHandler(s))
		r.Get("/migration/export-store-to-fs", migrationExportHandler(s))
		r.Post("/migration/fs-to-store", migrationFSToStoreHandler(s))
		r.Post("/migration/sync", migrationSyncHandler(s))
	})

	// Dynamic routes declared by endpoint descriptors
	d := newDispatcher(s)
	if g := s.engine.Registry.Generation(); g != nil {
		for _, name := range sortedEndpointNames(g.Endpoints) {
			e := g.Endpoints[name]
			r.Method(e.Method, e.Path, d.handler(name))
			s.log.Debugw("endpoint route registered",
				"endpoint", name, "method", e.Method, "path", e.Path)
		}
	}

	return setServerHeader(r)
}

// requestLogger logs one line per request with elapsed time.
func requestLogger(s *Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			s.log.Debugw("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"elapsed", time.Since(start))
		}
		return http.HandlerFunc(fn)
	}
}
