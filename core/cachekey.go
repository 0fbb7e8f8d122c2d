package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"
)

// maxCacheKeyLen caps cache key length; longer keys get their parameter
// portion replaced by a hash.
const maxCacheKeyLen = 250

// BuildCacheKey derives the stable fingerprint for one execution. With a
// key pattern, each {p} placeholder is substituted with the normalized
// parameter value; without one, the default form is
// name:k1=v1&k2=v2&... with keys ascending.
func BuildCacheKey(name, keyPattern string, params map[string]interface{}) string {
	var key string
	if keyPattern != "" {
		key = substitutePattern(keyPattern, params)
	} else {
		key = defaultCacheKey(name, params)
	}

	if len(key) > maxCacheKeyLen {
		return name + ":" + hashKey(key)
	}
	return key
}

// hashKey returns the first 16 hex characters of the SHA-256 of key.
func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:16]
}

// substitutePattern replaces {p} placeholders with normalized values.
// Unknown placeholders stay intact. The pattern is scanned left to
// right exactly once; substituted values are never rescanned, so a
// value containing braces cannot re-trigger substitution.
func substitutePattern(pattern string, params map[string]interface{}) string {
	var b strings.Builder
	for {
		i := strings.Index(pattern, "{")
		if i < 0 {
			b.WriteString(pattern)
			return b.String()
		}
		j := strings.Index(pattern[i:], "}")
		if j < 0 {
			b.WriteString(pattern)
			return b.String()
		}
		b.WriteString(pattern[:i])

		name := pattern[i+1 : i+j]
		if v, ok := params[name]; ok {
			b.WriteString(normalizeValue(v))
		} else {
			b.WriteString(pattern[i : i+j+1])
		}
		pattern = pattern[i+j+1:]
	}
}

// defaultCacheKey renders name:k1=v1&k2=v2&... with ascending keys.
func defaultCacheKey(name string, params map[string]interface{}) string {
	if len(params) == 0 {
		return name
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	b.WriteByte(':')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(normalizeValue(params[k]))
	}
	return b.String()
}

// normalizeValue renders one parameter value in canonical form: strings
// trimmed and lowercased, numbers in canonical format, booleans
// lowercased, collections as sorted comma-joined tokens, nil as "null".
func normalizeValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return strings.ToLower(strings.TrimSpace(t))
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		tokens := make([]string, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			tokens = append(tokens, normalizeValue(rv.Index(i).Interface()))
		}
		sort.Strings(tokens)
		return strings.Join(tokens, ",")
	case reflect.Map:
		tokens := make([]string, 0, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			tokens = append(tokens, fmt.Sprintf("%v=%s",
				iter.Key().Interface(), normalizeValue(iter.Value().Interface())))
		}
		sort.Strings(tokens)
		return strings.Join(tokens, ",")
	}
	return strings.ToLower(strings.TrimSpace(fmt.Sprintf("%v", v)))
}
