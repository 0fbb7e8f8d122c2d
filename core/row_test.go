package core

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRow_TypedAccessors(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r := NewRow(
		[]string{"id", "symbol", "price", "active", "traded_at", "note"},
		[]interface{}{int64(7), "AAPL", 189.5, true, ts, nil},
	)

	assert.Equal(t, int64(7), r.Int64("id"))
	assert.Equal(t, "AAPL", r.String("symbol"))
	assert.Equal(t, 189.5, r.Float64("price"))
	assert.True(t, r.Bool("active"))
	assert.Equal(t, ts, r.Time("traded_at"))
	assert.Equal(t, "", r.String("note"))

	// mismatches degrade to zero values
	assert.Equal(t, int64(0), r.Int64("symbol"))
	assert.Equal(t, time.Time{}, r.Time("id"))

	v, ok := r.Get("id")
	assert.True(t, ok)
	assert.Equal(t, int64(7), v)
	_, ok = r.Get("ghost")
	assert.False(t, ok)
}

func TestRow_MarshalJSONKeepsColumnOrder(t *testing.T) {
	r := NewRow([]string{"z", "a", "m"}, []interface{}{1, 2, 3})

	b, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Equal(t, `{"z":1,"a":2,"m":3}`, string(b))
}

func TestRow_JSONRoundTrip(t *testing.T) {
	in := NewRow([]string{"id", "name"}, []interface{}{int64(1), "ada"})

	b, err := json.Marshal(in)
	require.NoError(t, err)

	var out Row
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, []string{"id", "name"}, out.Columns())
	assert.Equal(t, "ada", out.String("name"))
}

func TestRow_MapIsACopy(t *testing.T) {
	r := NewRow([]string{"id"}, []interface{}{int64(1)})
	m := r.Map()
	m["id"] = int64(99)

	assert.Equal(t, int64(1), r.Int64("id"))
}
