package serv

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfigDoc = `
app_name: "CORDAL Test"
production: false
log_level: debug
log_format: auto

server:
  host: 127.0.0.1
  port: 9090
  cors_allowed_origins: ["https://app.example.com"]

config:
  source: filesystem
  directories:
    - ./descriptors
  store:
    driver: sqlite
    url: "file:cordal.db"

validation:
  run_on_startup: true
  validate_only: false

cache:
  default_ttl_seconds: 120
  max_size: 500
  cleanup_interval_seconds: 30
`

func TestNewConfig(t *testing.T) {
	conf, err := NewConfig(testConfigDoc, "yaml")
	require.NoError(t, err)

	assert.Equal(t, "CORDAL Test", conf.AppName)
	assert.Equal(t, "127.0.0.1:9090", conf.HostPort())
	assert.Equal(t, []string{"https://app.example.com"}, conf.Server.AllowedOrigins)
	assert.Equal(t, "filesystem", conf.Source.Source)
	assert.Equal(t, []string{"./descriptors"}, conf.Source.Directories)
	assert.True(t, conf.Source.Store.Configured())
	assert.True(t, conf.Validation.RunOnStartup)
}

func TestNewConfig_Defaults(t *testing.T) {
	conf, err := NewConfig("app_name: minimal", "yaml")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", conf.HostPort())
	assert.Equal(t, "filesystem", conf.Source.Source)
	assert.Equal(t, []string{"./config"}, conf.Source.Directories)
	assert.Equal(t, "info", conf.LogLevel)
	assert.False(t, conf.Source.Store.Configured())

	mc := conf.Cache.managerConfig()
	assert.Equal(t, 300*time.Second, mc.DefaultTTL)
	assert.Equal(t, 1000, mc.DefaultMaxSize)
}

func TestShouldUseJSONLogs(t *testing.T) {
	conf := &Config{LogFormat: "json"}
	assert.True(t, conf.ShouldUseJSONLogs())

	conf = &Config{LogFormat: "auto", Production: true}
	assert.True(t, conf.ShouldUseJSONLogs())

	conf = &Config{LogFormat: "auto", Production: false}
	assert.False(t, conf.ShouldUseJSONLogs())

	conf = &Config{LogFormat: "simple", Production: true}
	assert.False(t, conf.ShouldUseJSONLogs())
}

func TestGetConfigName(t *testing.T) {
	cases := map[string]string{
		"production": "prod",
		"prod":       "prod",
		"staging":    "stage",
		"testing":    "test",
		"dev":        "dev",
		"":           "dev",
		"custom-env": "custom-env",
	}
	for env, want := range cases {
		t.Setenv("GO_ENV", env)
		assert.Equal(t, want, GetConfigName(), "GO_ENV=%q", env)
	}
}
