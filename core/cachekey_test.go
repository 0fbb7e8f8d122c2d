package core

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBuildCacheKey_Pattern(t *testing.T) {
	key := BuildCacheKey("trades-by-symbol", "t:{symbol}:{limit}:{offset}",
		map[string]interface{}{"symbol": " AAPL ", "limit": 20, "offset": 0})
	assert.Equal(t, "t:aapl:20:0", key)
}

func TestBuildCacheKey_DefaultFormSorted(t *testing.T) {
	key := BuildCacheKey("users", "",
		map[string]interface{}{"b": 2, "a": 1, "c": "X"})
	assert.Equal(t, "users:a=1&b=2&c=x", key)
}

func TestBuildCacheKey_NoParams(t *testing.T) {
	assert.Equal(t, "users", BuildCacheKey("users", "", nil))
}

func TestBuildCacheKey_EquivalentValuesCollide(t *testing.T) {
	a := BuildCacheKey("q", "", map[string]interface{}{"symbol": "AAPL"})
	b := BuildCacheKey("q", "", map[string]interface{}{"symbol": "  aapl  "})
	assert.Equal(t, a, b)
}

func TestBuildCacheKey_LongKeyIsHashed(t *testing.T) {
	long := strings.Repeat("x", 400)
	key := BuildCacheKey("users", "", map[string]interface{}{"blob": long})

	assert.LessOrEqual(t, len(key), maxCacheKeyLen)
	assert.True(t, strings.HasPrefix(key, "users:"))
	assert.Len(t, strings.TrimPrefix(key, "users:"), 16)

	// same input, same hash
	again := BuildCacheKey("users", "", map[string]interface{}{"blob": long})
	assert.Equal(t, key, again)
}

func TestBuildCacheKey_UnknownPlaceholderStays(t *testing.T) {
	key := BuildCacheKey("q", "t:{symbol}:{ghost}",
		map[string]interface{}{"symbol": "aapl"})
	assert.Equal(t, "t:aapl:{ghost}", key)
}

func TestBuildCacheKey_SelfReferencingValueTerminates(t *testing.T) {
	// a value that contains its own placeholder must land in the key
	// literally, never re-trigger substitution
	key := BuildCacheKey("trades-by-symbol", "t:{symbol}:{limit}:{offset}",
		map[string]interface{}{"symbol": "{symbol}", "limit": 20, "offset": 0})
	assert.Equal(t, "t:{symbol}:20:0", key)
}

func TestBuildCacheKey_BraceInValueKeepsLaterPlaceholders(t *testing.T) {
	// a stray brace in one value must not swallow the substitutions
	// after it, or distinct pages would share a cache entry
	a := BuildCacheKey("q", "t:{symbol}:{limit}:{offset}",
		map[string]interface{}{"symbol": "a{b", "limit": 20, "offset": 0})
	b := BuildCacheKey("q", "t:{symbol}:{limit}:{offset}",
		map[string]interface{}{"symbol": "a{b", "limit": 20, "offset": 20})
	assert.Equal(t, "t:a{b:20:0", a)
	assert.Equal(t, "t:a{b:20:20", b)
}

func TestBuildCacheKey_UnknownPlaceholderKeepsLaterOnes(t *testing.T) {
	key := BuildCacheKey("q", "t:{ghost}:{symbol}",
		map[string]interface{}{"symbol": "aapl"})
	assert.Equal(t, "t:{ghost}:aapl", key)
}

func TestNormalizeValue(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	cases := []struct {
		in   interface{}
		want string
	}{
		{nil, "null"},
		{" Mixed Case ", "mixed case"},
		{true, "true"},
		{int64(42), "42"},
		{3.14, "3.14"},
		{ts, "2026-03-01T12:30:00Z"},
		{[]string{"b", "a"}, "a,b"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, normalizeValue(c.in), "%v", c.in)
	}
}
