package core

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"gopkg.in/yaml.v3"
)

// Table names of the configuration store. Each table has the same shape:
// (name PRIMARY KEY, body TEXT, created_at, updated_at) where body is the
// canonical YAML form of the descriptor.
const (
	tableDatabases = "config_databases"
	tableQueries   = "config_queries"
	tableEndpoints = "config_endpoints"
)

// storeSchema creates the three config tables when they do not exist.
var storeSchema = []string{
	`CREATE TABLE IF NOT EXISTS config_databases (
		name TEXT PRIMARY KEY,
		body TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS config_queries (
		name TEXT PRIMARY KEY,
		body TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS config_endpoints (
		name TEXT PRIMARY KEY,
		body TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
}

// configRow is the wire shape of one stored descriptor.
type configRow struct {
	Name      string    `db:"name"`
	Body      string    `db:"body"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Store is the database-backed configuration source. It doubles as the
// write side used by the management API and the migration facility.
type Store struct {
	db *sqlx.DB
}

// NewStore wraps an open config-store handle.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// OpenStoreDB opens a sqlx handle for the configuration store using the
// same driver identifiers database descriptors use.
func OpenStoreDB(driver, url string) (*sqlx.DB, error) {
	name, err := driverName(driver)
	if err != nil {
		return nil, err
	}
	db, err := sqlx.Open(name, url)
	if err != nil {
		return nil, newConfigError(ErrIO, url, err)
	}
	return db, nil
}

// EnsureSchema creates the config tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range storeSchema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return newConfigError(ErrIO, "config store", err)
		}
	}
	return nil
}

// Source identifies the loader variant.
func (s *Store) Source() string { return "store" }

// LoadDatabases reads all database descriptors from the store.
func (s *Store) LoadDatabases() (map[string]Database, error) {
	rows, err := s.list(tableDatabases)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Database, len(rows))
	for _, r := range rows {
		var d Database
		if err := yaml.Unmarshal([]byte(r.Body), &d); err != nil {
			return nil, newConfigError(ErrParse, tableDatabases+"/"+r.Name, err)
		}
		d = d.normalize(r.Name)
		d.URL = expandEnv(d.URL)
		out[r.Name] = d
	}
	if len(out) == 0 {
		return nil, newConfigError(ErrEmpty, tableDatabases,
			fmt.Errorf("no database descriptors in store"))
	}
	return out, nil
}

// LoadQueries reads all query descriptors from the store.
func (s *Store) LoadQueries() (map[string]Query, error) {
	rows, err := s.list(tableQueries)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Query, len(rows))
	for _, r := range rows {
		var q Query
		if err := yaml.Unmarshal([]byte(r.Body), &q); err != nil {
			return nil, newConfigError(ErrParse, tableQueries+"/"+r.Name, err)
		}
		out[r.Name] = q.normalize(r.Name)
	}
	return out, nil
}

// LoadEndpoints reads all endpoint descriptors from the store.
func (s *Store) LoadEndpoints() (map[string]Endpoint, error) {
	rows, err := s.list(tableEndpoints)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Endpoint, len(rows))
	for _, r := range rows {
		var e Endpoint
		if err := yaml.Unmarshal([]byte(r.Body), &e); err != nil {
			return nil, newConfigError(ErrParse, tableEndpoints+"/"+r.Name, err)
		}
		out[r.Name] = e.normalize(r.Name)
	}
	return out, nil
}

// list reads all rows of one config table ordered by name.
func (s *Store) list(table string) ([]configRow, error) {
	var rows []configRow
	q := fmt.Sprintf("SELECT name, body, created_at, updated_at FROM %s ORDER BY name", table)
	if err := s.db.Select(&rows, q); err != nil {
		return nil, newConfigError(ErrIO, table, err)
	}
	return rows, nil
}

// UpsertAction says whether a store write created or updated a row.
type UpsertAction string

const (
	ActionCreated UpsertAction = "created"
	ActionUpdated UpsertAction = "updated"
	ActionDeleted UpsertAction = "deleted"
)

// UpsertDatabase writes one database descriptor to the store.
func (s *Store) UpsertDatabase(ctx context.Context, d Database) (UpsertAction, error) {
	return s.upsert(ctx, tableDatabases, d.Name, d)
}

// UpsertQuery writes one query descriptor to the store.
func (s *Store) UpsertQuery(ctx context.Context, q Query) (UpsertAction, error) {
	return s.upsert(ctx, tableQueries, q.Name, q)
}

// UpsertEndpoint writes one endpoint descriptor to the store.
func (s *Store) UpsertEndpoint(ctx context.Context, e Endpoint) (UpsertAction, error) {
	return s.upsert(ctx, tableEndpoints, e.Name, e)
}

// upsert serializes v to its canonical body and inserts or updates the row.
func (s *Store) upsert(ctx context.Context, table, name string, v interface{}) (UpsertAction, error) {
	if name == "" {
		return "", newConfigError(ErrParse, table, fmt.Errorf("descriptor name is empty"))
	}
	body, err := yaml.Marshal(v)
	if err != nil {
		return "", newConfigError(ErrParse, table+"/"+name, err)
	}

	now := time.Now().UTC()
	var exists int
	q := fmt.Sprintf("SELECT COUNT(1) FROM %s WHERE name = ?", table)
	if err := s.db.GetContext(ctx, &exists, s.db.Rebind(q), name); err != nil {
		return "", newConfigError(ErrIO, table+"/"+name, err)
	}

	if exists > 0 {
		q := fmt.Sprintf("UPDATE %s SET body = ?, updated_at = ? WHERE name = ?", table)
		if _, err := s.db.ExecContext(ctx, s.db.Rebind(q), string(body), now, name); err != nil {
			return "", newConfigError(ErrIO, table+"/"+name, err)
		}
		return ActionUpdated, nil
	}

	q = fmt.Sprintf("INSERT INTO %s (name, body, created_at, updated_at) VALUES (?, ?, ?, ?)", table)
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(q), name, string(body), now, now); err != nil {
		return "", newConfigError(ErrIO, table+"/"+name, err)
	}
	return ActionCreated, nil
}

// Delete removes one descriptor row; it reports NotFound when no row
// matched.
func (s *Store) Delete(ctx context.Context, kind Kind, name string) error {
	table, err := tableFor(kind)
	if err != nil {
		return err
	}
	q := fmt.Sprintf("DELETE FROM %s WHERE name = ?", table)
	res, err := s.db.ExecContext(ctx, s.db.Rebind(q), name)
	if err != nil {
		return newConfigError(ErrIO, table+"/"+name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return newConfigError(ErrNotFound, table+"/"+name,
			fmt.Errorf("no such %s", kind))
	}
	return nil
}

// Kind names one descriptor family.
type Kind string

const (
	KindDatabase Kind = "databases"
	KindQuery    Kind = "queries"
	KindEndpoint Kind = "endpoints"
)

// tableFor maps a descriptor kind to its store table.
func tableFor(kind Kind) (string, error) {
	switch kind {
	case KindDatabase:
		return tableDatabases, nil
	case KindQuery:
		return tableQueries, nil
	case KindEndpoint:
		return tableEndpoints, nil
	}
	return "", fmt.Errorf("unknown descriptor kind %q", kind)
}
