package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// memLoader serves descriptors from memory so registry behavior can be
// tested without a filesystem.
type memLoader struct {
	gen *Generation
	err error
}

func (l *memLoader) LoadDatabases() (map[string]Database, error) {
	if l.err != nil {
		return nil, l.err
	}
	return l.gen.Databases, nil
}

func (l *memLoader) LoadQueries() (map[string]Query, error) {
	if l.err != nil {
		return nil, l.err
	}
	return l.gen.Queries, nil
}

func (l *memLoader) LoadEndpoints() (map[string]Endpoint, error) {
	if l.err != nil {
		return nil, l.err
	}
	return l.gen.Endpoints, nil
}

func (l *memLoader) Source() string { return "filesystem" }

func TestRegistry_ReloadPublishesGeneration(t *testing.T) {
	loader := &memLoader{gen: validGeneration()}
	r := NewRegistry(loader, zap.NewNop().Sugar())

	assert.False(t, r.Loaded())
	rep, err := r.Reload()
	require.NoError(t, err)
	assert.True(t, rep.Valid())

	require.True(t, r.Loaded())
	assert.Equal(t, uint64(1), r.Generation().Number)

	q, ok := r.LookupQuery("users")
	assert.True(t, ok)
	assert.Equal(t, "main-db", q.Database)
}

func TestRegistry_FailedReloadKeepsPreviousGeneration(t *testing.T) {
	loader := &memLoader{gen: validGeneration()}
	r := NewRegistry(loader, zap.NewNop().Sugar())

	_, err := r.Reload()
	require.NoError(t, err)

	bad := validGeneration()
	q := bad.Queries["users"]
	q.Database = "ghost-db"
	bad.Queries["users"] = q
	loader.gen = bad

	rep, err := r.Reload()
	require.Error(t, err)
	assert.False(t, rep.Valid())

	// the first generation stays live untouched
	require.True(t, r.Loaded())
	assert.Equal(t, uint64(1), r.Generation().Number)
	live, _ := r.LookupQuery("users")
	assert.Equal(t, "main-db", live.Database)
}

func TestRegistry_LenientPublishesInvalidGeneration(t *testing.T) {
	bad := validGeneration()
	q := bad.Queries["users"]
	q.Database = "ghost-db"
	bad.Queries["users"] = q

	r := NewRegistry(&memLoader{gen: bad}, zap.NewNop().Sugar())
	r.SetLenient(true)

	rep, err := r.Reload()
	require.NoError(t, err)
	assert.False(t, rep.Valid())
	assert.True(t, r.Loaded())
}

func TestRegistry_LoadErrorIsAlwaysFatal(t *testing.T) {
	loader := &memLoader{err: newConfigError(ErrParse, "x.yml", assert.AnError)}
	r := NewRegistry(loader, zap.NewNop().Sugar())
	r.SetLenient(true)

	_, err := r.Reload()
	require.Error(t, err)
	assert.False(t, r.Loaded())
}

func TestRegistry_LookupsBeforeFirstLoad(t *testing.T) {
	r := NewRegistry(&memLoader{gen: validGeneration()}, zap.NewNop().Sugar())

	_, ok := r.LookupEndpoint("user")
	assert.False(t, ok)
	assert.Nil(t, r.AllDatabases())

	rep := r.Validate()
	assert.False(t, rep.Valid())
}
