package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newExecFixture(t *testing.T, driver string) (*QueryExecutor, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	log := zap.NewNop().Sugar()
	reg := NewRegistry(&memLoader{gen: validGeneration()}, log)
	pools := NewPoolRegistry(reg, log)
	pools.pools["main-db"] = &Pool{
		DB:   db,
		Desc: Database{Name: "main-db", Driver: driver, Pool: PoolConfig{}.withDefaults()},
	}

	caches := NewCacheManager(CacheManagerConfig{
		DefaultTTL:      time.Minute,
		DefaultMaxSize:  100,
		CleanupInterval: time.Hour,
	}, log)
	t.Cleanup(caches.Close)

	return NewQueryExecutor(pools, caches, NewStatistics(), log), mock
}

func tradesQuery() Query {
	return Query{
		Name:     "trades-by-symbol",
		Database: "main-db",
		SQL:      "SELECT id, symbol FROM trades WHERE symbol = ? LIMIT ? OFFSET ?",
		Parameters: []QueryParam{
			{Name: "symbol", Type: TypeString, Position: 1, Required: true},
			{Name: "limit", Type: TypeInteger, Position: 2},
			{Name: "offset", Type: TypeInteger, Position: 3},
		},
	}
}

func TestExecutor_ExecuteRebindsForPostgres(t *testing.T) {
	x, mock := newExecFixture(t, "postgres")

	mock.ExpectPrepare("SELECT id, symbol FROM trades WHERE symbol = $1 LIMIT $2 OFFSET $3").
		ExpectQuery().
		WithArgs("aapl", int64(20), int64(0)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "symbol"}).
			AddRow(int64(1), "aapl").
			AddRow(int64(2), "aapl"))

	rows, err := x.Execute(context.Background(), tradesQuery(), map[string]interface{}{
		"symbol": "aapl", "limit": 20, "offset": 0,
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(1), rows[0].Int64("id"))
	assert.Equal(t, "aapl", rows[1].String("symbol"))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutor_ExecuteKeepsPlaceholdersForMySQL(t *testing.T) {
	x, mock := newExecFixture(t, "mysql")

	mock.ExpectPrepare("SELECT id, symbol FROM trades WHERE symbol = ? LIMIT ? OFFSET ?").
		ExpectQuery().
		WithArgs("aapl", int64(20), int64(0)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))

	_, err := x.Execute(context.Background(), tradesQuery(), map[string]interface{}{
		"symbol": "aapl", "limit": 20, "offset": 0,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutor_SecondCallIsCacheHit(t *testing.T) {
	x, mock := newExecFixture(t, "postgres")

	q := tradesQuery()
	q.Cache = &CacheSpec{Enabled: true, TTLSeconds: 60}

	mock.ExpectPrepare("SELECT id, symbol FROM trades WHERE symbol = $1 LIMIT $2 OFFSET $3").
		ExpectQuery().
		WithArgs("aapl", int64(20), int64(0)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))

	params := map[string]interface{}{"symbol": "aapl", "limit": 20, "offset": 0}

	first, err := x.Execute(context.Background(), q, params)
	require.NoError(t, err)

	// one prepared statement expected; a second database roundtrip would
	// fail ExpectationsWereMet
	second, err := x.Execute(context.Background(), q, params)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	assert.NoError(t, mock.ExpectationsWereMet())

	st := x.caches.Stats(CacheQueryResults)
	assert.Equal(t, uint64(1), st.Hits)
}

func TestExecutor_ExecuteCount(t *testing.T) {
	x, mock := newExecFixture(t, "postgres")

	q := Query{
		Name:     "trades-count",
		Database: "main-db",
		SQL:      "SELECT COUNT(*) FROM trades WHERE symbol = ?",
		Parameters: []QueryParam{
			{Name: "symbol", Type: TypeString, Position: 1, Required: true},
		},
	}

	mock.ExpectPrepare("SELECT COUNT(*) FROM trades WHERE symbol = $1").
		ExpectQuery().
		WithArgs("aapl").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(42)))

	n, err := x.ExecuteCount(context.Background(), q, map[string]interface{}{"symbol": "aapl"})
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
}

func TestExecutor_ExecuteCountEmptyResultIsZero(t *testing.T) {
	x, mock := newExecFixture(t, "postgres")

	q := Query{Name: "c", Database: "main-db", SQL: "SELECT COUNT(*) FROM trades"}

	mock.ExpectPrepare("SELECT COUNT(*) FROM trades").
		ExpectQuery().
		WillReturnRows(sqlmock.NewRows([]string{"count"}))

	n, err := x.ExecuteCount(context.Background(), q, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestExecutor_MissingRequiredParam(t *testing.T) {
	x, _ := newExecFixture(t, "postgres")

	_, err := x.Execute(context.Background(), tradesQuery(), map[string]interface{}{
		"limit": 20, "offset": 0,
	})
	require.Error(t, err)

	var ee *ExecError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, "trades-by-symbol", ee.QueryName)
}

func TestExecutor_UnknownDatabase(t *testing.T) {
	x, _ := newExecFixture(t, "postgres")

	q := tradesQuery()
	q.Database = "ghost-db"

	_, err := x.Execute(context.Background(), q, map[string]interface{}{
		"symbol": "aapl", "limit": 20, "offset": 0,
	})
	require.Error(t, err)

	var ue *ErrUnknownDatabase
	assert.True(t, errors.As(err, &ue))
}

func TestRebindSQL(t *testing.T) {
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2",
		rebindSQL("postgres", "SELECT * FROM t WHERE a = ? AND b = ?"))
	assert.Equal(t, "SELECT * FROM t WHERE a = ?",
		rebindSQL("mysql", "SELECT * FROM t WHERE a = ?"))
	assert.Equal(t, "SELECT * FROM t WHERE a = ?",
		rebindSQL("sqlite", "SELECT * FROM t WHERE a = ?"))
}

func TestBindValue(t *testing.T) {
	ts := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	v, err := bindValue(TypeInteger, "42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)

	v, err = bindValue(TypeLong, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)

	v, err = bindValue(TypeDecimal, "3.5")
	require.NoError(t, err)
	assert.Equal(t, 3.5, v)

	v, err = bindValue(TypeBoolean, "yes")
	require.NoError(t, err)
	assert.Equal(t, true, v)

	v, err = bindValue(TypeBoolean, "nope")
	require.NoError(t, err)
	assert.Equal(t, false, v)

	v, err = bindValue(TypeTimestamp, "2026-05-01")
	require.NoError(t, err)
	assert.Equal(t, ts, v)

	v, err = bindValue(TypeString, 99)
	require.NoError(t, err)
	assert.Equal(t, "99", v)

	_, err = bindValue(TypeInteger, "not-a-number")
	assert.Error(t, err)
}

func TestBindArgs_OptionalParamBindsNull(t *testing.T) {
	q := Query{
		Name: "q", Database: "main-db", SQL: "SELECT 1",
		Parameters: []QueryParam{
			{Name: "a", Type: TypeString, Position: 1, Required: true},
			{Name: "b", Type: TypeString, Position: 2},
		},
	}

	args, err := bindArgs(q, map[string]interface{}{"a": "x"})
	require.NoError(t, err)
	require.Len(t, args, 2)
	assert.Equal(t, "x", args[0])
	assert.Nil(t, args[1])
}
