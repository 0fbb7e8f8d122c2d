package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validGeneration() *Generation {
	return &Generation{
		Databases: map[string]Database{
			"main-db": {Name: "main-db", Driver: "postgres", URL: "postgres://localhost/app"},
		},
		Queries: map[string]Query{
			"users": {
				Name: "users", Database: "main-db",
				SQL: "SELECT * FROM users WHERE id = ?",
				Parameters: []QueryParam{
					{Name: "id", Type: TypeLong, Position: 1, Required: true},
				},
			},
		},
		Endpoints: map[string]Endpoint{
			"user": {
				Name: "user", Path: "/api/users/{id}", Method: "GET", Query: "users",
				Parameters: []EndpointParam{
					{Name: "id", Type: TypeLong, Source: SourcePath, Required: true},
				},
				Response: ResponseConfig{Type: ResponseSingle},
			},
		},
	}
}

func TestValidateGeneration_Valid(t *testing.T) {
	rep := ValidateGeneration(validGeneration())
	assert.True(t, rep.Valid(), "%v", rep.Errors)
}

func TestValidateGeneration_UnknownDatabaseRef(t *testing.T) {
	g := validGeneration()
	q := g.Queries["users"]
	q.Database = "ghost-db"
	g.Queries["users"] = q

	rep := ValidateGeneration(g)
	assert.False(t, rep.Valid())
	assert.Contains(t, rep.Errors[0], "ghost-db")
}

func TestValidateGeneration_UnknownQueryRef(t *testing.T) {
	g := validGeneration()
	e := g.Endpoints["user"]
	e.Query = "ghost-query"
	g.Endpoints["user"] = e

	rep := ValidateGeneration(g)
	assert.False(t, rep.Valid())
}

func TestValidateGeneration_SparseParamPositions(t *testing.T) {
	g := validGeneration()
	q := g.Queries["users"]
	q.Parameters = []QueryParam{
		{Name: "a", Type: TypeString, Position: 1},
		{Name: "b", Type: TypeString, Position: 3},
	}
	g.Queries["users"] = q

	rep := ValidateGeneration(g)
	assert.False(t, rep.Valid())
	assert.Contains(t, rep.Errors[0], "dense")
}

func TestValidateGeneration_PagedWithoutCountQueryWarns(t *testing.T) {
	g := validGeneration()
	e := g.Endpoints["user"]
	e.Pagination = PaginationConfig{Enabled: true, DefaultSize: 20, MaxSize: 100}
	e.Response.Type = ResponsePaged
	g.Endpoints["user"] = e

	rep := ValidateGeneration(g)
	assert.True(t, rep.Valid())
	require.NotEmpty(t, rep.Warnings)
	assert.Contains(t, rep.Warnings[0], "-1")
}

func TestValidateGeneration_PathParamMissingFromPath(t *testing.T) {
	g := validGeneration()
	e := g.Endpoints["user"]
	e.Path = "/api/users"
	g.Endpoints["user"] = e

	rep := ValidateGeneration(g)
	assert.False(t, rep.Valid())
}

func TestValidateKeyPattern_UnknownPlaceholder(t *testing.T) {
	g := validGeneration()
	q := g.Queries["users"]
	q.Cache = &CacheSpec{Enabled: true, KeyPattern: "u:{id}:{ghost}"}
	g.Queries["users"] = q

	rep := ValidateGeneration(g)
	assert.False(t, rep.Valid())
	assert.Contains(t, rep.Errors[0], "ghost")
}

func TestValidateKeyPattern_UnbalancedBraces(t *testing.T) {
	g := validGeneration()
	q := g.Queries["users"]
	q.Cache = &CacheSpec{Enabled: true, KeyPattern: "u:{id"}
	g.Queries["users"] = q

	rep := ValidateGeneration(g)
	assert.False(t, rep.Valid())
	assert.Contains(t, rep.Errors[0], "unbalanced")
}

func TestValidateGeneration_UnknownDriverWarns(t *testing.T) {
	g := validGeneration()
	d := g.Databases["main-db"]
	d.Driver = "oracle"
	g.Databases["main-db"] = d

	rep := ValidateGeneration(g)
	assert.True(t, rep.Valid())
	assert.NotEmpty(t, rep.Warnings)
}

func TestValidateGeneration_RuleWithoutPatterns(t *testing.T) {
	g := validGeneration()
	q := g.Queries["users"]
	q.Cache = &CacheSpec{
		Enabled:           true,
		InvalidationRules: []InvalidationRule{{EventType: "users.updated"}},
	}
	g.Queries["users"] = q

	rep := ValidateGeneration(g)
	assert.False(t, rep.Valid())
}

func TestValidateScope_Relationships(t *testing.T) {
	g := validGeneration()
	e := g.Endpoints["user"]
	e.Query = "ghost"
	g.Endpoints["user"] = e

	rep, err := ValidateScope(g, "relationships")
	require.NoError(t, err)
	assert.False(t, rep.Valid())

	rep, err = ValidateScope(g, "databases")
	require.NoError(t, err)
	assert.True(t, rep.Valid())

	_, err = ValidateScope(g, "everything")
	assert.Error(t, err)
}
