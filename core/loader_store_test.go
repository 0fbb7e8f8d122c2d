package core

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(sqlx.NewDb(db, "sqlmock")), mock
}

func TestStore_UpsertCreates(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectQuery(`SELECT COUNT\(1\) FROM config_queries`).
		WithArgs("users").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(`INSERT INTO config_queries`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	action, err := s.UpsertQuery(context.Background(), Query{
		Name: "users", Database: "main-db", SQL: "SELECT 1",
	})
	require.NoError(t, err)
	assert.Equal(t, ActionCreated, action)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_UpsertUpdates(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectQuery(`SELECT COUNT\(1\) FROM config_queries`).
		WithArgs("users").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectExec(`UPDATE config_queries SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	action, err := s.UpsertQuery(context.Background(), Query{
		Name: "users", Database: "main-db", SQL: "SELECT 1",
	})
	require.NoError(t, err)
	assert.Equal(t, ActionUpdated, action)
}

func TestStore_UpsertEmptyNameFails(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.UpsertDatabase(context.Background(), Database{Driver: "postgres", URL: "x"})
	require.Error(t, err)
	assert.True(t, IsConfigError(err, ErrParse))
}

func TestStore_Delete(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectExec(`DELETE FROM config_endpoints`).
		WithArgs("user").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.Delete(context.Background(), KindEndpoint, "user"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_DeleteUnknownKind(t *testing.T) {
	s, _ := newTestStore(t)
	assert.Error(t, s.Delete(context.Background(), Kind("widgets"), "x"))
}

func TestStore_LoadQueries(t *testing.T) {
	s, mock := newTestStore(t)

	body := "name: users\ndatabase: main-db\nsql: SELECT 1\n"
	mock.ExpectQuery(`SELECT name, body, created_at, updated_at FROM config_queries`).
		WillReturnRows(sqlmock.NewRows([]string{"name", "body"}).AddRow("users", body))

	queries, err := s.LoadQueries()
	require.NoError(t, err)
	require.Len(t, queries, 1)
	assert.Equal(t, "main-db", queries["users"].Database)
}
