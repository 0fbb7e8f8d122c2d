package core

import (
	"errors"
	"fmt"
)

// ErrorKind classifies configuration load failures.
type ErrorKind string

const (
	ErrNotFound  ErrorKind = "NotFound"
	ErrParse     ErrorKind = "Parse"
	ErrDuplicate ErrorKind = "Duplicate"
	ErrEmpty     ErrorKind = "Empty"
	ErrIO        ErrorKind = "IO"
)

// ConfigError is a typed load-time failure carrying the offending path.
type ConfigError struct {
	Kind ErrorKind
	Path string
	Err  error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config %s: %s: %s", e.Kind, e.Path, e.Err)
	}
	return fmt.Sprintf("config %s: %s", e.Kind, e.Path)
}

// Unwrap returns the wrapped cause.
func (e *ConfigError) Unwrap() error { return e.Err }

// newConfigError builds a ConfigError wrapping err.
func newConfigError(kind ErrorKind, path string, err error) *ConfigError {
	return &ConfigError{Kind: kind, Path: path, Err: err}
}

// IsConfigError reports whether err is a ConfigError of the given kind.
func IsConfigError(err error, kind ErrorKind) bool {
	var ce *ConfigError
	if errors.As(err, &ce) {
		return ce.Kind == kind
	}
	return false
}

// Loader reads descriptors from one configuration source. Both the
// filesystem and the store variant satisfy this contract; the registry
// does not care which one it is given.
type Loader interface {
	LoadDatabases() (map[string]Database, error)
	LoadQueries() (map[string]Query, error)
	LoadEndpoints() (map[string]Endpoint, error)

	// Source names the loader variant, "filesystem" or "store".
	Source() string
}
