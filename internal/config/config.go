package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"fundingcalc/internal/logging"
)

// Storage drivers understood by DatabaseConfig.Driver.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverRedis    = "redis"
)

// Config materialises application configuration.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Logging  logging.Config `mapstructure:"logging"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Upstream UpstreamConfig `mapstructure:"upstream"`
	Server   ServerConfig   `mapstructure:"server"`
	Export   ExportConfig   `mapstructure:"export"`
	History  HistoryConfig  `mapstructure:"history"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig selects and configures the funding-rate cache backend.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// RedisConfig is used when database.driver is "redis".
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	PoolSize  int    `mapstructure:"pool_size"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// UpstreamConfig covers the funding-rate history endpoint and its pagination policy.
type UpstreamConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	PageSize          int           `mapstructure:"page_size"`
	PageDelay         time.Duration `mapstructure:"page_delay"`
	RetryDelay        time.Duration `mapstructure:"retry_delay"`
	CacheTolerance    time.Duration `mapstructure:"cache_tolerance"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	UserAgent         string        `mapstructure:"user_agent"`
	ProxyURL          string        `mapstructure:"proxy_url"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
}

// ServerConfig governs the HTTP API.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// HistoryConfig controls calculation auditing.
type HistoryConfig struct {
	Enabled   bool `mapstructure:"enabled"`
	ListLimit int  `mapstructure:"list_limit"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FUNDINGCALC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.applyProxyEnv(os.Getenv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "fundingcalc")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.driver", DriverPostgres)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.key_prefix", "fundingcalc")

	v.SetDefault("upstream.base_url", "https://www.binance.com/bapi/futures/v1/public/future/common/get-funding-rate-history")
	v.SetDefault("upstream.page_size", 100)
	v.SetDefault("upstream.page_delay", "300ms")
	v.SetDefault("upstream.retry_delay", "1s")
	v.SetDefault("upstream.cache_tolerance", "1s")
	v.SetDefault("upstream.request_timeout", "15s")
	v.SetDefault("upstream.requests_per_second", 0.0)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "5m")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("history.enabled", true)
	v.SetDefault("history.list_limit", 20)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// applyProxyEnv seeds upstream.proxy_url from the conventional proxy variables when it
// was not configured explicitly. The fetcher itself never reads the environment.
func (c *Config) applyProxyEnv(getenv func(string) string) {
	if strings.TrimSpace(c.Upstream.ProxyURL) != "" {
		return
	}
	for _, key := range []string{"HTTPS_PROXY", "https_proxy", "HTTP_PROXY", "http_proxy"} {
		if val := strings.TrimSpace(getenv(key)); val != "" {
			c.Upstream.ProxyURL = val
			return
		}
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite, DriverRedis:
	default:
		return fmt.Errorf("database.driver must be one of postgres, sqlite, redis (got %q)", c.Database.Driver)
	}
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream.base_url must be configured")
	}
	if c.Upstream.PageSize <= 0 {
		return fmt.Errorf("upstream.page_size must be greater than zero")
	}
	if c.Upstream.PageDelay < 0 || c.Upstream.RetryDelay < 0 {
		return fmt.Errorf("upstream delays cannot be negative")
	}
	if c.Upstream.CacheTolerance < 0 {
		return fmt.Errorf("upstream.cache_tolerance cannot be negative")
	}
	if c.Upstream.RequestsPerSecond < 0 {
		return fmt.Errorf("upstream.requests_per_second cannot be negative")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.History.ListLimit <= 0 {
		return fmt.Errorf("history.list_limit must be greater than zero")
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}

// ResolveHistoryLimit returns either the CLI override or config default.
func (c *Config) ResolveHistoryLimit(override int) int {
	if override > 0 {
		return override
	}
	return c.History.ListLimit
}
