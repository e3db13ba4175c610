package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HTTPS_PROXY", "")
	t.Setenv("HTTP_PROXY", "")
	t.Setenv("https_proxy", "")
	t.Setenv("http_proxy", "")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("app:\n  name: test\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.App.Name)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, 100, cfg.Upstream.PageSize)
	assert.Equal(t, 300*time.Millisecond, cfg.Upstream.PageDelay)
	assert.Equal(t, time.Second, cfg.Upstream.RetryDelay)
	assert.Equal(t, time.Second, cfg.Upstream.CacheTolerance)
	assert.Empty(t, cfg.Upstream.ProxyURL)
	assert.True(t, cfg.History.Enabled)
}

func TestLoadFileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
database:
  driver: sqlite
  dsn: "file:funding.db"
upstream:
  page_delay: 50ms
  proxy_url: "http://proxy.local:3128"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, 50*time.Millisecond, cfg.Upstream.PageDelay)
	assert.Equal(t, "http://proxy.local:3128", cfg.Upstream.ProxyURL)
}

func TestApplyProxyEnv(t *testing.T) {
	env := map[string]string{"HTTP_PROXY": "http://fallback:8080"}
	cfg := &Config{}
	cfg.applyProxyEnv(func(k string) string { return env[k] })
	assert.Equal(t, "http://fallback:8080", cfg.Upstream.ProxyURL)

	env["HTTPS_PROXY"] = "http://secure:8443"
	cfg = &Config{}
	cfg.applyProxyEnv(func(k string) string { return env[k] })
	assert.Equal(t, "http://secure:8443", cfg.Upstream.ProxyURL)

	cfg = &Config{Upstream: UpstreamConfig{ProxyURL: "http://explicit:1"}}
	cfg.applyProxyEnv(func(k string) string { return env[k] })
	assert.Equal(t, "http://explicit:1", cfg.Upstream.ProxyURL)
}

func TestValidateRejectsUnknownDriver(t *testing.T) {
	cfg := validConfig()
	cfg.Database.Driver = "mongo"
	assert.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.Upstream.PageSize = 0
	assert.Error(t, cfg.Validate())

	cfg = validConfig()
	require.NoError(t, cfg.Validate())
}

func TestResolveOverrides(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, 10, cfg.ResolveMaxPoints(0))
	assert.Equal(t, 3, cfg.ResolveMaxPoints(3))
	assert.Equal(t, 20, cfg.ResolveHistoryLimit(-1))
	assert.Equal(t, 5, cfg.ResolveHistoryLimit(5))
}

func validConfig() *Config {
	return &Config{
		Database: DatabaseConfig{Driver: DriverRedis},
		Upstream: UpstreamConfig{BaseURL: "http://x", PageSize: 100},
		Export:   ExportConfig{MaxDataPoints: 10},
		History:  HistoryConfig{ListLimit: 20},
	}
}
