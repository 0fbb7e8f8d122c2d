// Package core implements the CORDAL engine: declarative configuration
// loading and validation, connection pools, the result cache with
// event-driven invalidation, the query executor, health monitoring and
// configuration migration. The HTTP layer in package serv is a thin
// consumer of this package.
package core

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from Go duration strings
// ("30s", "10m") and, for compatibility with millisecond-tuned pool
// configs, from bare integers interpreted as milliseconds.
type Duration time.Duration

// D returns the wrapped time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := parseDuration(s)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var n int64
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("invalid duration %s", b)
		}
		*d = Duration(time.Duration(n) * time.Millisecond)
		return nil
	}
	v, err := parseDuration(s)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// parseDuration parses either a bare millisecond count or a duration
// string.
func parseDuration(s string) (Duration, error) {
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Duration(time.Duration(n) * time.Millisecond), nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return Duration(v), nil
}

// ParamType is the declared type of a query or endpoint parameter.
type ParamType string

const (
	TypeString    ParamType = "STRING"
	TypeInteger   ParamType = "INTEGER"
	TypeLong      ParamType = "LONG"
	TypeDecimal   ParamType = "DECIMAL"
	TypeDouble    ParamType = "DOUBLE"
	TypeBoolean   ParamType = "BOOLEAN"
	TypeTimestamp ParamType = "TIMESTAMP"
)

// Valid reports whether the parameter type is one of the supported kinds.
func (t ParamType) Valid() bool {
	switch t {
	case TypeString, TypeInteger, TypeLong, TypeDecimal, TypeDouble,
		TypeBoolean, TypeTimestamp:
		return true
	}
	return false
}

// ParamSource says where an endpoint parameter is extracted from.
type ParamSource string

const (
	SourcePath  ParamSource = "PATH"
	SourceQuery ParamSource = "QUERY"
	SourceBody  ParamSource = "BODY"
)

// Valid reports whether the source is one of PATH, QUERY or BODY.
func (s ParamSource) Valid() bool {
	switch s {
	case SourcePath, SourceQuery, SourceBody:
		return true
	}
	return false
}

// ResponseType selects how the dispatcher shapes a query result.
type ResponseType string

const (
	ResponseSingle ResponseType = "SINGLE"
	ResponsePaged  ResponseType = "PAGED"
	ResponseList   ResponseType = "LIST"
)

// Valid reports whether the response type is one of SINGLE, PAGED or LIST.
func (r ResponseType) Valid() bool {
	switch r {
	case ResponseSingle, ResponsePaged, ResponseList:
		return true
	}
	return false
}

// Database describes one logical database connection. Descriptors are
// immutable once published into a generation.
type Database struct {
	Name        string `yaml:"name" json:"name" validate:"required"`
	Description string `yaml:"description" json:"description,omitempty"`
	Driver      string `yaml:"driver" json:"driver" validate:"required"`
	URL         string `yaml:"url" json:"url" validate:"required"`
	Username    string `yaml:"username" json:"username,omitempty"`
	Password    string `yaml:"password" json:"-"`

	Pool PoolConfig `yaml:"pool" json:"pool"`
}

// PoolConfig carries per-database connection pool tuning.
type PoolConfig struct {
	MaximumPoolSize   int      `yaml:"maximumPoolSize" json:"maximumPoolSize"`
	MinimumIdle       int      `yaml:"minimumIdle" json:"minimumIdle"`
	ConnectionTimeout Duration `yaml:"connectionTimeout" json:"connectionTimeout"`
	IdleTimeout       Duration `yaml:"idleTimeout" json:"idleTimeout"`
	MaxLifetime       Duration `yaml:"maxLifetime" json:"maxLifetime"`
}

// withPoolDefaults fills unset pool fields with the engine defaults.
func (p PoolConfig) withDefaults() PoolConfig {
	if p.MaximumPoolSize <= 0 {
		p.MaximumPoolSize = 10
	}
	if p.MinimumIdle < 0 {
		p.MinimumIdle = 0
	}
	if p.ConnectionTimeout <= 0 {
		p.ConnectionTimeout = Duration(30 * time.Second)
	}
	if p.IdleTimeout <= 0 {
		p.IdleTimeout = Duration(10 * time.Minute)
	}
	if p.MaxLifetime <= 0 {
		p.MaxLifetime = Duration(30 * time.Minute)
	}
	return p
}

// QueryParam is one formal parameter of a query. Position is 1-based and
// positions must be dense after sorting.
type QueryParam struct {
	Name     string    `yaml:"name" json:"name" validate:"required"`
	Type     ParamType `yaml:"type" json:"type" validate:"required"`
	Position int       `yaml:"position" json:"position"`
	Required bool      `yaml:"required" json:"required"`
}

// Query describes one parameterized SQL statement bound to a database.
type Query struct {
	Name        string       `yaml:"name" json:"name" validate:"required"`
	Description string       `yaml:"description" json:"description,omitempty"`
	SQL         string       `yaml:"sql" json:"sql" validate:"required"`
	Database    string       `yaml:"database" json:"database" validate:"required"`
	Parameters  []QueryParam `yaml:"parameters" json:"parameters,omitempty"`
	Cache       *CacheSpec   `yaml:"cache" json:"cache,omitempty"`
}

// CacheEnabled reports whether result caching is switched on for the query.
func (q Query) CacheEnabled() bool {
	return q.Cache != nil && q.Cache.Enabled
}

// CacheSpec is the optional caching section of a query descriptor.
type CacheSpec struct {
	Enabled      bool     `yaml:"enabled" json:"enabled"`
	Strategy     string   `yaml:"strategy" json:"strategy,omitempty"`
	TTLSeconds   int      `yaml:"ttlSeconds" json:"ttlSeconds,omitempty"`
	MaxSize      int      `yaml:"maxSize" json:"maxSize,omitempty"`
	KeyPattern   string   `yaml:"keyPattern" json:"keyPattern,omitempty"`
	InvalidateOn []string `yaml:"invalidateOn" json:"invalidateOn,omitempty"`

	// RefreshAsync and Preload are parsed and kept so a round-trip through
	// the config store preserves them. Preload warms the cache at startup
	// for parameterless queries; RefreshAsync is currently not acted on.
	RefreshAsync bool `yaml:"refreshAsync" json:"refreshAsync,omitempty"`
	Preload      bool `yaml:"preload" json:"preload,omitempty"`

	InvalidationRules []InvalidationRule `yaml:"invalidationRules" json:"invalidationRules,omitempty"`
}

// TTL returns the entry TTL, falling back to def when unset.
func (c *CacheSpec) TTL(def time.Duration) time.Duration {
	if c == nil || c.TTLSeconds <= 0 {
		return def
	}
	return time.Duration(c.TTLSeconds) * time.Second
}

// InvalidationRule purges cache entries when a matching event fires.
type InvalidationRule struct {
	EventType string   `yaml:"eventType" json:"eventType" validate:"required"`
	Patterns  []string `yaml:"patterns" json:"patterns" validate:"required,min=1"`
	Condition string   `yaml:"condition" json:"condition,omitempty"`
	DelayMs   int64    `yaml:"delayMs" json:"delayMs,omitempty"`
	Async     bool     `yaml:"async" json:"async,omitempty"`
}

// EndpointParam is one declared request parameter of an endpoint.
type EndpointParam struct {
	Name         string      `yaml:"name" json:"name" validate:"required"`
	Type         ParamType   `yaml:"type" json:"type" validate:"required"`
	Required     bool        `yaml:"required" json:"required"`
	DefaultValue string      `yaml:"defaultValue" json:"defaultValue,omitempty"`
	Source       ParamSource `yaml:"source" json:"source" validate:"required"`
	Description  string      `yaml:"description" json:"description,omitempty"`
}

// PaginationConfig switches LIMIT/OFFSET pagination on for an endpoint.
type PaginationConfig struct {
	Enabled     bool `yaml:"enabled" json:"enabled"`
	DefaultSize int  `yaml:"defaultSize" json:"defaultSize"`
	MaxSize     int  `yaml:"maxSize" json:"maxSize"`
}

// withDefaults fills unset pagination fields.
func (p PaginationConfig) withDefaults() PaginationConfig {
	if p.DefaultSize <= 0 {
		p.DefaultSize = 20
	}
	if p.MaxSize <= 0 {
		p.MaxSize = 1000
	}
	return p
}

// ResponseConfig controls response shaping.
type ResponseConfig struct {
	Type   ResponseType `yaml:"type" json:"type"`
	Fields []string     `yaml:"fields" json:"fields,omitempty"`
}

// Endpoint binds an HTTP route to a query.
type Endpoint struct {
	Name        string           `yaml:"name" json:"name" validate:"required"`
	Path        string           `yaml:"path" json:"path" validate:"required"`
	Method      string           `yaml:"method" json:"method" validate:"required"`
	Description string           `yaml:"description" json:"description,omitempty"`
	Query       string           `yaml:"query" json:"query" validate:"required"`
	CountQuery  string           `yaml:"countQuery" json:"countQuery,omitempty"`
	Pagination  PaginationConfig `yaml:"pagination" json:"pagination"`
	Parameters  []EndpointParam  `yaml:"parameters" json:"parameters,omitempty"`
	Response    ResponseConfig   `yaml:"response" json:"response"`
}

// normalize applies defaults and canonical casing to a database descriptor.
func (d Database) normalize(name string) Database {
	if d.Name == "" {
		d.Name = name
	}
	d.Driver = strings.ToLower(strings.TrimSpace(d.Driver))
	d.Pool = d.Pool.withDefaults()
	return d
}

// normalize applies defaults to a query descriptor and sorts its
// parameters by position.
func (q Query) normalize(name string) Query {
	if q.Name == "" {
		q.Name = name
	}
	sortParams(q.Parameters)
	return q
}

// normalize applies defaults to an endpoint descriptor.
func (e Endpoint) normalize(name string) Endpoint {
	if e.Name == "" {
		e.Name = name
	}
	e.Method = strings.ToUpper(strings.TrimSpace(e.Method))
	if e.Method == "" {
		e.Method = "GET"
	}
	if e.Response.Type == "" {
		e.Response.Type = ResponseList
	}
	if e.Pagination.Enabled {
		e.Pagination = e.Pagination.withDefaults()
	}
	return e
}

// sortParams orders query parameters by declared position. Parameters
// without a position keep their relative order after positioned ones.
func sortParams(ps []QueryParam) {
	for i := 1; i < len(ps); i++ {
		for j := i; j > 0 && ps[j-1].Position > ps[j].Position; j-- {
			ps[j-1], ps[j] = ps[j], ps[j-1]
		}
	}
}

// String implements fmt.Stringer for log readability.
func (d Database) String() string {
	return fmt.Sprintf("database(%s driver=%s)", d.Name, d.Driver)
}
