package core

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// ExecError wraps a SQL execution failure with the query it came from.
type ExecError struct {
	QueryName string
	Err       error
}

// Error implements the error interface.
func (e *ExecError) Error() string {
	return fmt.Sprintf("executing query %q: %s", e.QueryName, e.Err)
}

// Unwrap returns the wrapped cause.
func (e *ExecError) Unwrap() error { return e.Err }

// QueryExecutor runs parameterized queries against the right pool, with
// the result cache in front.
type QueryExecutor struct {
	pools  *PoolRegistry
	caches *CacheManager
	stats  *Statistics
	log    *zap.SugaredLogger
}

// NewQueryExecutor wires an executor to its pools, caches and stats.
func NewQueryExecutor(pools *PoolRegistry, caches *CacheManager, stats *Statistics, log *zap.SugaredLogger) *QueryExecutor {
	return &QueryExecutor{pools: pools, caches: caches, stats: stats, log: log}
}

// Execute runs a row-returning query. Cached results are returned
// directly; on a miss the query runs against the database and the result
// is stored for the query's TTL.
func (x *QueryExecutor) Execute(ctx context.Context, q Query, params map[string]interface{}) ([]Row, error) {
	start := time.Now()

	var key string
	if q.CacheEnabled() {
		key = BuildCacheKey(q.Name, q.Cache.KeyPattern, params)
		if rows, ok := CacheGetAs[[]Row](x.caches, CacheQueryResults, key); ok {
			x.stats.RecordQuery(q.Name, q.Database, time.Since(start), len(rows), true, true)
			return rows, nil
		}
	}

	rows, err := x.runQuery(ctx, q, params)
	if err != nil {
		x.stats.RecordQuery(q.Name, q.Database, time.Since(start), 0, false, false)
		return nil, err
	}

	if q.CacheEnabled() {
		x.caches.Put(CacheQueryResults, key, rows, q.Cache.TTL(x.caches.DefaultTTL()))
	}
	x.stats.RecordQuery(q.Name, q.Database, time.Since(start), len(rows), true, false)
	return rows, nil
}

// ExecuteCount runs a count query, reading the first column of the first
// row as a signed 64-bit integer; an empty result counts as zero.
func (x *QueryExecutor) ExecuteCount(ctx context.Context, q Query, params map[string]interface{}) (int64, error) {
	start := time.Now()

	var key string
	if q.CacheEnabled() {
		key = BuildCacheKey(q.Name, q.Cache.KeyPattern, params)
		if n, ok := CacheGetAs[int64](x.caches, CacheCountResults, key); ok {
			x.stats.RecordQuery(q.Name, q.Database, time.Since(start), 1, true, true)
			return n, nil
		}
	}

	rows, err := x.runQuery(ctx, q, params)
	if err != nil {
		x.stats.RecordQuery(q.Name, q.Database, time.Since(start), 0, false, false)
		return 0, err
	}

	var n int64
	if len(rows) > 0 && rows[0].Len() > 0 {
		n = rows[0].Int64(rows[0].Columns()[0])
	}

	if q.CacheEnabled() {
		x.caches.Put(CacheCountResults, key, n, q.Cache.TTL(x.caches.DefaultTTL()))
	}
	x.stats.RecordQuery(q.Name, q.Database, time.Since(start), 1, true, false)
	return n, nil
}

// runQuery acquires a connection, prepares the statement and
// materializes the result set.
func (x *QueryExecutor) runQuery(ctx context.Context, q Query, params map[string]interface{}) ([]Row, error) {
	args, err := bindArgs(q, params)
	if err != nil {
		return nil, &ExecError{QueryName: q.Name, Err: err}
	}

	pool, err := x.pools.Get(q.Database)
	if err != nil {
		return nil, &ExecError{QueryName: q.Name, Err: err}
	}

	dbStart := time.Now()
	conn, err := x.pools.Acquire(ctx, q.Database)
	if err != nil {
		x.stats.RecordDatabase(q.Database, time.Since(dbStart), false)
		return nil, &ExecError{QueryName: q.Name, Err: err}
	}
	defer conn.Close()

	stmt, err := conn.PrepareContext(ctx, rebindSQL(pool.Desc.Driver, q.SQL))
	if err != nil {
		x.stats.RecordDatabase(q.Database, time.Since(dbStart), false)
		return nil, &ExecError{QueryName: q.Name, Err: err}
	}
	defer stmt.Close()

	rs, err := stmt.QueryContext(ctx, args...)
	if err != nil {
		x.stats.RecordDatabase(q.Database, time.Since(dbStart), false)
		return nil, &ExecError{QueryName: q.Name, Err: err}
	}
	defer rs.Close()

	rows, err := materialize(rs)
	if err != nil {
		x.stats.RecordDatabase(q.Database, time.Since(dbStart), false)
		return nil, &ExecError{QueryName: q.Name, Err: err}
	}

	x.stats.RecordDatabase(q.Database, time.Since(dbStart), true)
	return rows, nil
}

// rebindSQL rewrites ? placeholders into the driver's positional form.
// Descriptor SQL always uses ? so descriptors stay portable across
// databases.
func rebindSQL(driver, query string) string {
	name, err := driverName(driver)
	if err != nil {
		return query
	}
	switch name {
	case "pgx":
		return sqlx.Rebind(sqlx.DOLLAR, query)
	default:
		return query
	}
}

// bindArgs orders the declared parameters by position and coerces each
// value to its declared SQL type. A nil value binds as SQL NULL.
func bindArgs(q Query, params map[string]interface{}) ([]interface{}, error) {
	args := make([]interface{}, 0, len(q.Parameters))
	for _, p := range q.Parameters {
		v, ok := params[p.Name]
		if !ok || v == nil {
			if p.Required {
				return nil, fmt.Errorf("missing required parameter %q", p.Name)
			}
			args = append(args, nil)
			continue
		}
		bound, err := bindValue(p.Type, v)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", p.Name, err)
		}
		args = append(args, bound)
	}
	return args, nil
}

// bindValue converts a value to the Go type matching the declared
// parameter type: STRING→string, INTEGER/LONG→int64, DECIMAL→float64,
// BOOLEAN→bool, TIMESTAMP→time.Time.
func bindValue(t ParamType, v interface{}) (interface{}, error) {
	switch t {
	case TypeString:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return fmt.Sprintf("%v", v), nil

	case TypeInteger, TypeLong:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case int64:
			return n, nil
		case float64:
			return int64(n), nil
		case string:
			parsed, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("not an integer: %q", n)
			}
			return parsed, nil
		}

	case TypeDecimal, TypeDouble:
		switch n := v.(type) {
		case float32:
			return float64(n), nil
		case float64:
			return n, nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case string:
			parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
			if err != nil {
				return nil, fmt.Errorf("not a decimal: %q", n)
			}
			return parsed, nil
		}

	case TypeBoolean:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			return parseBool(b), nil
		}

	case TypeTimestamp:
		switch ts := v.(type) {
		case time.Time:
			return ts, nil
		case string:
			return parseTimestamp(ts)
		}
	}
	return nil, fmt.Errorf("cannot bind %T as %s", v, t)
}

// parseBool treats true/1/yes (case-insensitive) as true, anything else
// as false.
func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes":
		return true
	}
	return false
}

// timestampFormats are accepted on top of RFC 3339.
var timestampFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseTimestamp parses a timestamp string in one of the accepted forms.
func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, f := range timestampFormats {
		if t, err := time.Parse(f, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("not a timestamp: %q", s)
}

// materialize reads the result set into ordered rows.
func materialize(rs *sql.Rows) ([]Row, error) {
	cols, err := rs.Columns()
	if err != nil {
		return nil, err
	}

	var out []Row
	for rs.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rs.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		out = append(out, NewRow(cols, values))
	}
	return out, rs.Err()
}

// WarmCaches executes every preloadable cached query once so its first
// request is a hit. Only parameterless queries qualify.
func (x *QueryExecutor) WarmCaches(ctx context.Context, g *Generation) {
	for _, name := range sortedKeys(g.Queries) {
		q := g.Queries[name]
		if !q.CacheEnabled() || !q.Cache.Preload {
			continue
		}
		if requiredParamCount(q) > 0 {
			x.log.Warnw("preload skipped, query has required parameters", "query", name)
			continue
		}
		if _, err := x.Execute(ctx, q, nil); err != nil {
			x.log.Warnw("cache preload failed", "query", name, "error", err)
		} else {
			x.log.Infow("cache preloaded", "query", name)
		}
	}
}

// requiredParamCount counts a query's required parameters.
func requiredParamCount(q Query) int {
	n := 0
	for _, p := range q.Parameters {
		if p.Required {
			n++
		}
	}
	return n
}
