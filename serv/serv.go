package serv

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cordal-io/cordal/core"
	"github.com/cordal-io/cordal/serv/internal/util"
)

var version string

const serverName = "CORDAL"

// ErrValidationFailed marks a startup abort caused by configuration
// validation errors, as opposed to a load failure.
var ErrValidationFailed = errors.New("configuration validation failed")

// Service ties the engine to the HTTP surface. The active router is
// swapped atomically so a configuration reload can re-register dynamic
// routes without restarting the listener.
type Service struct {
	conf   *Config
	zlog   *zap.Logger
	log    *zap.SugaredLogger
	engine *core.Engine

	storeDB *sqlx.DB
	srv     *http.Server
	handler atomic.Value // http.Handler

	watcher *configWatcher
}

// NewLogger builds the service logger from the configuration.
func NewLogger(conf *Config) *zap.Logger {
	return util.NewLogger(conf.ShouldUseJSONLogs(), conf.LogLevel)
}

// NewService wires a service from its configuration: loaders per the
// configured source, the engine, and (when a store is configured) the
// management plumbing.
func NewService(conf *Config, zlog *zap.Logger) (*Service, error) {
	log := zlog.Sugar()

	dirs := make([]string, 0, len(conf.Source.Directories))
	for _, d := range conf.Source.Directories {
		dirs = append(dirs, conf.AbsolutePath(d))
	}

	fsLoader := core.NewFSLoader(afero.NewOsFs(), core.FSLoaderConfig{
		Directories:      dirs,
		DatabasePatterns: conf.Source.Patterns.Databases,
		QueryPatterns:    conf.Source.Patterns.Queries,
		EndpointPatterns: conf.Source.Patterns.Endpoints,
	}, log)

	var (
		store   *core.Store
		storeDB *sqlx.DB
		loader  core.Loader = fsLoader
	)

	if conf.Source.Store.Configured() {
		db, err := core.OpenStoreDB(conf.Source.Store.Driver, conf.Source.Store.URL)
		if err != nil {
			return nil, fmt.Errorf("opening config store: %w", err)
		}
		storeDB = db
		store = core.NewStore(db)
	}

	switch conf.Source.Source {
	case "filesystem":
	case "store":
		if store == nil {
			return nil, fmt.Errorf("config.source=store requires config.store.url")
		}
		loader = store
	default:
		return nil, fmt.Errorf("unknown config source %q", conf.Source.Source)
	}

	engine, err := core.NewEngine(core.EngineConfig{
		Loader:   loader,
		Cache:    conf.Cache.managerConfig(),
		Store:    store,
		FSLoader: fsLoader,
	}, log)
	if err != nil {
		return nil, err
	}
	engine.Registry.SetLenient(!conf.Validation.RunOnStartup)

	return &Service{
		conf:    conf,
		zlog:    zlog,
		log:     log,
		engine:  engine,
		storeDB: storeDB,
	}, nil
}

// Engine exposes the underlying engine, mainly for tests and the CLI.
func (s *Service) Engine() *core.Engine { return s.engine }

// Bootstrap prepares the store schema and publishes the first
// configuration generation, honoring the startup validation policy.
func (s *Service) Bootstrap(ctx context.Context) error {
	if s.engine.Store != nil {
		if err := s.engine.Store.EnsureSchema(ctx); err != nil {
			return err
		}
	}

	rep, err := s.engine.Reload(ctx)
	if err != nil {
		if rep != nil && !rep.Valid() {
			return fmt.Errorf("%w: %d error(s)", ErrValidationFailed, len(rep.Errors))
		}
		return err
	}
	return nil
}

// Validate loads and validates the configuration without starting the
// server, for validation.validate_only and the CLI validate command.
func (s *Service) Validate(ctx context.Context) (*core.ValidationReport, error) {
	s.engine.Registry.SetLenient(true)
	defer s.engine.Registry.SetLenient(!s.conf.Validation.RunOnStartup)

	rep, err := s.engine.Registry.Reload()
	if err != nil && rep == nil {
		return nil, err
	}
	return rep, nil
}

// ServeHTTP delegates to the currently published router.
func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h := s.handler.Load().(http.Handler)
	h.ServeHTTP(w, r)
}

// RebuildRoutes publishes a fresh router built from the current
// generation. Called after every configuration reload.
func (s *Service) RebuildRoutes() {
	s.handler.Store(newRouter(s))
}

// Start runs the HTTP server until an interrupt or termination signal.
func (s *Service) Start() error {
	s.RebuildRoutes()

	if s.conf.WatchAndReload && !s.conf.Production && s.conf.Source.Source == "filesystem" {
		s.watcher = newConfigWatcher(s)
		if err := s.watcher.start(); err != nil {
			s.log.Warnf("config watcher disabled: %s", err)
		}
	}

	s.srv = &http.Server{
		Addr:              s.conf.HostPort(),
		Handler:           s,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		MaxHeaderBytes:    1 << 20,
		ReadHeaderTimeout: 10 * time.Second,
	}

	idleConnsClosed := make(chan struct{})
	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		if err := s.srv.Shutdown(context.Background()); err != nil {
			s.log.Warnf("shutdown: %s", err)
		}
		close(idleConnsClosed)
	}()

	s.srv.RegisterOnShutdown(func() {
		if s.watcher != nil {
			s.watcher.stop()
		}
		s.engine.Close()
		if s.storeDB != nil {
			s.storeDB.Close() //nolint:errcheck
		}
		s.log.Info("shutdown complete")
	})

	ver := version
	if ver == "" {
		ver = "not-set"
	}

	g := s.engine.Registry.Generation()
	fields := []zapcore.Field{
		zap.String("version", ver),
		zap.String("host-port", s.conf.HostPort()),
		zap.String("app-name", s.conf.AppName),
		zap.String("env", os.Getenv("GO_ENV")),
		zap.Bool("production", s.conf.Production),
		zap.String("config-source", s.conf.Source.Source),
	}
	if g != nil {
		fields = append(fields,
			zap.Int("databases", len(g.Databases)),
			zap.Int("queries", len(g.Queries)),
			zap.Int("endpoints", len(g.Endpoints)))
	}
	s.zlog.Info("CORDAL started", fields...)

	l, err := net.Listen("tcp", s.conf.HostPort())
	if err != nil {
		return fmt.Errorf("failed to init port: %w", err)
	}

	if err := s.srv.Serve(l); err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	<-idleConnsClosed
	return nil
}

// setServerHeader sets the Server response header on every response.
func setServerHeader(h http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", serverName)
		h.ServeHTTP(w, r)
	}
	return http.HandlerFunc(fn)
}
