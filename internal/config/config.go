package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"kringlewatch/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    logging.Config   `mapstructure:"logging"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Signals    SignalsConfig    `mapstructure:"signals"`
	ClickHouse ClickHouseConfig `mapstructure:"clickhouse"`
	Redis      RedisConfig      `mapstructure:"redis"`
	RabbitMQ   RabbitMQConfig   `mapstructure:"rabbitmq"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Trends     TrendsConfig     `mapstructure:"trends"`
	Monitor    MonitorConfig    `mapstructure:"monitor"`
	Alerting   AlertingConfig   `mapstructure:"alerting"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Export     ExportConfig     `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SignalsConfig selects where the signal log lives.
type SignalsConfig struct {
	Backend string `mapstructure:"backend"`
}

// ClickHouseConfig covers the optional ClickHouse signal backend.
type ClickHouseConfig struct {
	DSN         string        `mapstructure:"dsn"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// RedisConfig configures the trend read cache.
type RedisConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	DB      int    `mapstructure:"db"`
}

// RabbitMQConfig configures signal ingestion.
type RabbitMQConfig struct {
	URL           string `mapstructure:"url"`
	Queue         string `mapstructure:"queue"`
	PrefetchCount int    `mapstructure:"prefetch_count"`
	ConsumerTag   string `mapstructure:"consumer_tag"`
}

// SchedulerConfig governs job cadence.
type SchedulerConfig struct {
	TrendsInterval time.Duration `mapstructure:"trends_interval"`
	TrendsOffset   time.Duration `mapstructure:"trends_offset"`
	PricesInterval time.Duration `mapstructure:"prices_interval"`
	PricesOffset   time.Duration `mapstructure:"prices_offset"`
	TrendsLockKey  int64         `mapstructure:"trends_lock_key"`
	PricesLockKey  int64         `mapstructure:"prices_lock_key"`
	StartupDelay   time.Duration `mapstructure:"startup_delay"`
}

// TrendsConfig tunes trend aggregation and reads.
type TrendsConfig struct {
	TopN     int           `mapstructure:"top_n"`
	Window   time.Duration `mapstructure:"window"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// MonitorConfig tunes price monitoring.
type MonitorConfig struct {
	Lookback     time.Duration `mapstructure:"lookback"`
	DedupeWindow time.Duration `mapstructure:"dedupe_window"`
}

// AlertingConfig defines dispatch policy and routing.
type AlertingConfig struct {
	Enabled    bool         `mapstructure:"enabled"`
	Channel    string       `mapstructure:"channel"`
	DailyLimit int          `mapstructure:"daily_limit"`
	QuietStart int          `mapstructure:"quiet_start"`
	QuietEnd   int          `mapstructure:"quiet_end"`
	Timezone   string       `mapstructure:"timezone"`
	Resend     ResendConfig `mapstructure:"resend"`
}

// ResendConfig holds e-mail API credentials.
type ResendConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	From    string        `mapstructure:"from"`
	APIBase string        `mapstructure:"api_base"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("KRINGLEWATCH")
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

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
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
	v.SetDefault("app.name", "kringlewatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file.max_size_mb", 100)
	v.SetDefault("logging.file.max_backups", 5)
	v.SetDefault("logging.file.max_age_days", 28)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("signals.backend", "postgres")
	v.SetDefault("clickhouse.dial_timeout", "5s")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.url", "redis://localhost:6379/0")

	v.SetDefault("rabbitmq.queue", "popularity_signals")
	v.SetDefault("rabbitmq.prefetch_count", 50)
	v.SetDefault("rabbitmq.consumer_tag", "kringlewatch-ingest")

	v.SetDefault("scheduler.trends_interval", "24h")
	v.SetDefault("scheduler.trends_offset", "2h")
	v.SetDefault("scheduler.prices_interval", "1h")
	v.SetDefault("scheduler.prices_offset", "0s")
	v.SetDefault("scheduler.trends_lock_key", int64(0x6b726e31))
	v.SetDefault("scheduler.prices_lock_key", int64(0x6b726e32))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("trends.top_n", 10)
	v.SetDefault("trends.window", "24h")
	v.SetDefault("trends.cache_ttl", "24h")

	v.SetDefault("monitor.lookback", "24h")
	v.SetDefault("monitor.dedupe_window", "30m")

	v.SetDefault("alerting.enabled", true)
	v.SetDefault("alerting.channel", "log")
	v.SetDefault("alerting.daily_limit", 5)
	v.SetDefault("alerting.quiet_start", 22)
	v.SetDefault("alerting.quiet_end", 8)
	v.SetDefault("alerting.timezone", "Local")
	v.SetDefault("alerting.resend.from", "alerts@kringlelist.com")
	v.SetDefault("alerting.resend.api_base", "https://api.resend.com")
	v.SetDefault("alerting.resend.timeout", "10s")

	v.SetDefault("export.max_data_points", 100000)
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

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.TrendsInterval <= 0 || c.Scheduler.PricesInterval <= 0 {
		return fmt.Errorf("scheduler intervals must be greater than zero")
	}
	if c.Trends.TopN <= 0 {
		return fmt.Errorf("trends.top_n must be greater than zero")
	}
	if c.Trends.Window <= 0 {
		return fmt.Errorf("trends.window must be greater than zero")
	}
	if c.Monitor.Lookback <= 0 {
		return fmt.Errorf("monitor.lookback must be greater than zero")
	}
	if c.Monitor.DedupeWindow < 0 {
		return fmt.Errorf("monitor.dedupe_window cannot be negative")
	}
	if c.Alerting.DailyLimit <= 0 {
		return fmt.Errorf("alerting.daily_limit must be greater than zero")
	}
	if !validHour(c.Alerting.QuietStart) || !validHour(c.Alerting.QuietEnd) {
		return fmt.Errorf("alerting quiet hours must be within 0..23")
	}
	if _, err := c.Alerting.Location(); err != nil {
		return err
	}
	switch c.Alerting.Channel {
	case "log":
	case "resend":
		if c.Alerting.Resend.APIKey == "" {
			return fmt.Errorf("alerting.resend.api_key is required for the resend channel")
		}
	default:
		return fmt.Errorf("alerting.channel %q is not supported", c.Alerting.Channel)
	}
	switch c.Signals.Backend {
	case "postgres":
	case "clickhouse":
		if c.ClickHouse.DSN == "" {
			return fmt.Errorf("clickhouse.dsn is required for the clickhouse signal backend")
		}
	default:
		return fmt.Errorf("signals.backend %q is not supported", c.Signals.Backend)
	}
	return nil
}

// Location resolves the timezone used for quiet hours and daily limits.
func (a AlertingConfig) Location() (*time.Location, error) {
	if a.Timezone == "" || strings.EqualFold(a.Timezone, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return nil, fmt.Errorf("alerting.timezone: %w", err)
	}
	return loc, nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}

func validHour(h int) bool {
	return h >= 0 && h <= 23
}
