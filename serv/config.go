// Package serv exposes the CORDAL engine over HTTP: the dynamic
// endpoint routes declared by configuration, the generic config and
// stats APIs, the management surface and the readiness probes.
package serv

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/cordal-io/cordal/core"
)

const defaultHostPort = "0.0.0.0:8080"

// Config is the service configuration read from <env>.yml.
type Config struct {
	// Application name used in log and debug messages
	AppName string `mapstructure:"app_name"`

	// When enabled the service runs with production defaults: JSON
	// logs, no config watcher
	Production bool `mapstructure:"production"`

	// Logging level, one of debug, info, warn, error
	LogLevel string `mapstructure:"log_level"`

	// Logging format: auto (JSON in production), json or simple
	LogFormat string `mapstructure:"log_format"`

	Server     ServerConfig     `mapstructure:"server"`
	Source     SourceConfig     `mapstructure:"config"`
	Validation ValidationConfig `mapstructure:"validation"`
	Cache      CacheConfig      `mapstructure:"cache"`

	// Reload the configuration when descriptor files change. Disabled
	// in production
	WatchAndReload bool `mapstructure:"reload_on_config_change"`

	configPath string
	hostPort   string
}

// ServerConfig is the HTTP bind and middleware configuration.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`

	// Sets the HTTP CORS Access-Control-Allow-Origin header
	AllowedOrigins []string `mapstructure:"cors_allowed_origins"`

	// Sets the HTTP CORS Access-Control-Allow-Headers header
	AllowedHeaders []string `mapstructure:"cors_allowed_headers"`
}

// SourceConfig selects and parameterizes the configuration source.
type SourceConfig struct {
	// filesystem or store
	Source string `mapstructure:"source"`

	// Ordered list of descriptor directories
	Directories []string `mapstructure:"directories"`

	Patterns PatternConfig `mapstructure:"patterns"`

	// Connection for the configuration store. Also required when the
	// active source is the filesystem but migration is used.
	Store StoreConfig `mapstructure:"store"`
}

// PatternConfig holds the per-kind descriptor file globs.
type PatternConfig struct {
	Databases []string `mapstructure:"databases"`
	Queries   []string `mapstructure:"queries"`
	Endpoints []string `mapstructure:"endpoints"`
}

// StoreConfig is the config-store connection.
type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	URL    string `mapstructure:"url"`
}

// Configured reports whether a store connection is present.
func (s StoreConfig) Configured() bool { return s.URL != "" }

// ValidationConfig controls startup validation policy.
type ValidationConfig struct {
	// Abort startup when validation reports errors
	RunOnStartup bool `mapstructure:"run_on_startup"`

	// Exit after reporting validation results
	ValidateOnly bool `mapstructure:"validate_only"`
}

// CacheConfig carries the cache core defaults.
type CacheConfig struct {
	DefaultTTLSeconds      int `mapstructure:"default_ttl_seconds"`
	MaxSize                int `mapstructure:"max_size"`
	CleanupIntervalSeconds int `mapstructure:"cleanup_interval_seconds"`
}

// managerConfig converts to the core cache settings.
func (c CacheConfig) managerConfig() core.CacheManagerConfig {
	return core.CacheManagerConfig{
		DefaultTTL:      time.Duration(c.DefaultTTLSeconds) * time.Second,
		DefaultMaxSize:  c.MaxSize,
		CleanupInterval: time.Duration(c.CleanupIntervalSeconds) * time.Second,
	}
}

// ReadInConfig reads the config file for the environment named by
// GO_ENV, with CORDAL_ environment variable overrides.
func ReadInConfig(configFile string) (*Config, error) {
	cp := filepath.Dir(configFile)
	vi := newViper(cp, filepath.Base(configFile))

	if err := vi.ReadInConfig(); err != nil {
		return nil, err
	}

	if pcf := vi.GetString("inherits"); pcf != "" {
		cf := vi.ConfigFileUsed()
		vi = newViper(cp, pcf)

		if err := vi.ReadInConfig(); err != nil {
			return nil, err
		}
		if value := vi.GetString("inherits"); value != "" {
			return nil, fmt.Errorf("inherited config '%s' cannot itself inherit '%s'", pcf, value)
		}

		vi.SetConfigFile(cf)
		if err := vi.MergeInConfig(); err != nil {
			return nil, err
		}
	}

	conf := &Config{configPath: cp}
	if err := vi.Unmarshal(conf); err != nil {
		return nil, fmt.Errorf("failed to decode config, %v", err)
	}
	conf.finish()
	return conf, nil
}

// NewConfig creates a configuration from a config document string,
// mainly for tests.
func NewConfig(config, format string) (*Config, error) {
	if format == "" {
		format = "yaml"
	}

	vi := newViperWithDefaults()
	vi.SetConfigType(format)

	if err := vi.ReadConfig(strings.NewReader(config)); err != nil {
		return nil, err
	}

	conf := &Config{}
	if err := vi.Unmarshal(conf); err != nil {
		return nil, fmt.Errorf("failed to decode config, %v", err)
	}
	conf.finish()
	return conf, nil
}

// finish derives computed fields after unmarshalling.
func (c *Config) finish() {
	host := c.Server.Host
	if host == "" {
		host = "0.0.0.0"
	}
	port := c.Server.Port
	if port == "" {
		port = "8080"
	}
	c.hostPort = host + ":" + port
	if c.hostPort == ":" {
		c.hostPort = defaultHostPort
	}

	if c.Source.Source == "" {
		c.Source.Source = "filesystem"
	}
	if len(c.Source.Directories) == 0 {
		c.Source.Directories = []string{"./config"}
	}
}

// HostPort returns the derived bind address.
func (c *Config) HostPort() string { return c.hostPort }

// AbsolutePath resolves p against the config file directory.
func (c *Config) AbsolutePath(p string) string {
	if filepath.IsAbs(p) || c.configPath == "" {
		return p
	}
	return filepath.Join(c.configPath, p)
}

// ShouldUseJSONLogs reports whether logs should be JSON: always for
// log_format=json, and for auto in production.
func (c *Config) ShouldUseJSONLogs() bool {
	if c.LogFormat == "json" {
		return true
	}
	return c.LogFormat == "auto" && c.Production
}

// newViperWithDefaults returns a viper instance with CORDAL defaults
// and env binding.
func newViperWithDefaults() *viper.Viper {
	vi := viper.New()

	vi.SetDefault("app_name", "CORDAL")
	vi.SetDefault("log_level", "info")
	vi.SetDefault("log_format", "auto")

	vi.SetDefault("server.host", "0.0.0.0")
	vi.SetDefault("server.port", "8080")

	vi.SetDefault("config.source", "filesystem")
	vi.SetDefault("config.directories", []string{"./config"})
	vi.SetDefault("config.store.driver", "sqlite")

	vi.SetDefault("validation.run_on_startup", true)
	vi.SetDefault("validation.validate_only", false)

	vi.SetDefault("cache.default_ttl_seconds", 300)
	vi.SetDefault("cache.max_size", 1000)
	vi.SetDefault("cache.cleanup_interval_seconds", 60)

	vi.SetDefault("reload_on_config_change", true)

	vi.SetEnvPrefix("CORDAL")
	vi.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vi.AutomaticEnv()

	vi.BindEnv("env", "GO_ENV") //nolint:errcheck

	return vi
}

// newViper returns a viper instance bound to one config file.
func newViper(configPath, configFile string) *viper.Viper {
	vi := newViperWithDefaults()
	vi.SetConfigName(strings.TrimSuffix(configFile, filepath.Ext(configFile)))

	if configPath == "" {
		vi.AddConfigPath("./config")
	} else {
		vi.AddConfigPath(configPath)
	}
	return vi
}

// GetConfigName maps GO_ENV to the config file base name.
func GetConfigName() string {
	goEnv := strings.TrimSpace(strings.ToLower(os.Getenv("GO_ENV")))

	switch goEnv {
	case "production", "prod":
		return "prod"
	case "staging", "stage":
		return "stage"
	case "testing", "test":
		return "test"
	case "development", "dev", "":
		return "dev"
	default:
		return goEnv
	}
}
