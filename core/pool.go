package core

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// ErrUnknownDatabase is returned when a pool is requested for a database
// name the registry does not know.
type ErrUnknownDatabase struct{ Name string }

// Error implements the error interface.
func (e *ErrUnknownDatabase) Error() string {
	return fmt.Sprintf("unknown database %q", e.Name)
}

// driverName maps a descriptor driver identifier to a registered
// database/sql driver.
func driverName(driver string) (string, error) {
	switch strings.ToLower(driver) {
	case "postgres", "postgresql", "pgx", "org.postgresql.driver":
		return "pgx", nil
	case "mysql", "mariadb", "com.mysql.cj.jdbc.driver":
		return "mysql", nil
	case "sqlite", "sqlite3", "h2", "org.h2.driver":
		return "sqlite", nil
	}
	return "", fmt.Errorf("unsupported driver %q: supported drivers are postgres, mysql, sqlite", driver)
}

// knownDriver reports whether the driver identifier maps to a backend.
func knownDriver(driver string) bool {
	_, err := driverName(driver)
	return err == nil
}

// connString builds the connection string for a descriptor, folding
// credentials into the DSN where the driver wants them there.
func connString(d Database) string {
	switch strings.ToLower(d.Driver) {
	case "mysql", "mariadb", "com.mysql.cj.jdbc.driver":
		cs := strings.TrimPrefix(d.URL, "mysql://")
		if d.Username != "" && !strings.Contains(cs, "@") {
			return fmt.Sprintf("%s:%s@%s", d.Username, d.Password, cs)
		}
		return cs
	case "sqlite", "sqlite3", "h2", "org.h2.driver":
		return strings.TrimPrefix(d.URL, "sqlite://")
	default:
		// pgx accepts URL-form DSNs with inline credentials
		if d.Username != "" && !strings.Contains(d.URL, "@") {
			if rest, ok := strings.CutPrefix(d.URL, "postgres://"); ok {
				return fmt.Sprintf("postgres://%s:%s@%s", d.Username, d.Password, rest)
			}
			if rest, ok := strings.CutPrefix(d.URL, "postgresql://"); ok {
				return fmt.Sprintf("postgresql://%s:%s@%s", d.Username, d.Password, rest)
			}
		}
		return d.URL
	}
}

// Pool is one bounded connection pool plus the descriptor it came from.
type Pool struct {
	DB   *sql.DB
	Desc Database
}

// PoolRegistry lazily creates one connection pool per database
// descriptor and shares it across requests.
type PoolRegistry struct {
	registry *Registry
	log      *zap.SugaredLogger

	mu    sync.Mutex
	pools map[string]*Pool
}

// NewPoolRegistry creates an empty pool registry bound to the config
// registry.
func NewPoolRegistry(registry *Registry, log *zap.SugaredLogger) *PoolRegistry {
	return &PoolRegistry{
		registry: registry,
		log:      log,
		pools:    make(map[string]*Pool),
	}
}

// Get returns the pool for dbName, creating it on first use.
func (p *PoolRegistry) Get(dbName string) (*Pool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if pool, ok := p.pools[dbName]; ok {
		return pool, nil
	}

	desc, ok := p.registry.LookupDatabase(dbName)
	if !ok {
		return nil, &ErrUnknownDatabase{Name: dbName}
	}

	pool, err := openPool(desc)
	if err != nil {
		return nil, fmt.Errorf("opening pool for %q: %w", dbName, err)
	}

	p.log.Infow("connection pool created",
		"database", dbName,
		"driver", desc.Driver,
		"maxPoolSize", desc.Pool.MaximumPoolSize)

	p.pools[dbName] = pool
	return pool, nil
}

// Acquire returns a single validated connection from the named pool. The
// caller must Close the connection on every exit path; the connect wait
// is bounded by the descriptor's connectionTimeout.
func (p *PoolRegistry) Acquire(ctx context.Context, dbName string) (*sql.Conn, error) {
	pool, err := p.Get(dbName)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, pool.Desc.Pool.ConnectionTimeout.D())
	defer cancel()

	conn, err := pool.DB.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring connection from %q: %w", dbName, err)
	}
	return conn, nil
}

// Names returns the database names with live pools.
func (p *PoolRegistry) Names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, 0, len(p.pools))
	for n := range p.pools {
		names = append(names, n)
	}
	return names
}

// Shutdown closes every pool. Called once on service stop.
func (p *PoolRegistry) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for name, pool := range p.pools {
		if err := pool.DB.Close(); err != nil {
			p.log.Warnw("closing pool", "database", name, "error", err)
		} else {
			p.log.Infow("closed database connection pool", "database", name)
		}
		delete(p.pools, name)
	}
}

// openPool opens and tunes a database/sql pool from a descriptor.
func openPool(d Database) (*Pool, error) {
	driver, err := driverName(d.Driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, connString(d))
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(d.Pool.MaximumPoolSize)
	db.SetMaxIdleConns(maxIdle(d.Pool))
	db.SetConnMaxIdleTime(d.Pool.IdleTimeout.D())
	db.SetConnMaxLifetime(d.Pool.MaxLifetime.D())

	return &Pool{DB: db, Desc: d}, nil
}

// maxIdle derives the idle connection count from the descriptor.
func maxIdle(p PoolConfig) int {
	if p.MinimumIdle > 0 {
		return p.MinimumIdle
	}
	return p.MaximumPoolSize
}
