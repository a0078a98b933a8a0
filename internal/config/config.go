package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	DB         DBConfig         `mapstructure:"db"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Cron       CronConfig       `mapstructure:"cron"`
	Source     SourceConfig     `mapstructure:"source"`
	Aggregator AggregatorConfig `mapstructure:"aggregator"`
	Collector  CollectorConfig  `mapstructure:"collector"`
	Health     HealthConfig     `mapstructure:"health"`
	Logs       LogRetention     `mapstructure:"logs"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

type CacheConfig struct {
	DefaultTTL      time.Duration `mapstructure:"default_ttl"`
	AggregateTTL    time.Duration `mapstructure:"aggregate_ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

type CronConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	HealthProbe string `mapstructure:"health_probe"`
	Incremental string `mapstructure:"incremental"`
	LogPrune    string `mapstructure:"log_prune"`
}

// SourceConfig bounds the outbound HTTP behavior against third-party list
// endpoints.
type SourceConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
	UserAgent    string        `mapstructure:"user_agent"`
}

type AggregatorConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
	// SlowThresholdMs marks a succeeding fan-out call as slow in the source's
	// health record.
	SlowThresholdMs int64 `mapstructure:"slow_threshold_ms"`
	// IncludeLowPrio keeps health-demoted sources in the default fan-out set.
	IncludeLowPrio   bool `mapstructure:"include_low_priority"`
	PageSizeFallback int  `mapstructure:"page_size_fallback"`
}

type CollectorConfig struct {
	Workers          int           `mapstructure:"workers"`
	PageDelay        time.Duration `mapstructure:"page_delay"`
	MaxPagesPerRun   int           `mapstructure:"max_pages_per_run"`
	SourceErrorLimit int           `mapstructure:"source_error_limit"`
	IncrementalType  string        `mapstructure:"incremental_type"`
}

type HealthConfig struct {
	FailureThreshold int   `mapstructure:"failure_threshold"`
	SlowThresholdMs  int64 `mapstructure:"slow_threshold_ms"`
}

type LogRetention struct {
	RetentionDays int `mapstructure:"retention_days"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("VH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()

	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("cache.default_ttl", "10m")
	v.SetDefault("cache.aggregate_ttl", "60s")
	v.SetDefault("cache.cleanup_interval", "5m")
	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.health_probe", "@every 5m")
	v.SetDefault("cron.incremental", "@every 1h")
	v.SetDefault("cron.log_prune", "@daily")
	v.SetDefault("source.timeout", "15s")
	v.SetDefault("source.probe_timeout", "12s")
	v.SetDefault("source.user_agent", "vodhub/1.0")
	v.SetDefault("aggregator.timeout", "8s")
	v.SetDefault("aggregator.slow_threshold_ms", 3000)
	v.SetDefault("aggregator.include_low_priority", false)
	v.SetDefault("aggregator.page_size_fallback", 20)
	v.SetDefault("collector.workers", 2)
	v.SetDefault("collector.page_delay", "500ms")
	v.SetDefault("collector.max_pages_per_run", 0)
	v.SetDefault("collector.source_error_limit", 3)
	v.SetDefault("collector.incremental_type", "incremental")
	v.SetDefault("health.failure_threshold", 3)
	v.SetDefault("health.slow_threshold_ms", 5000)
	v.SetDefault("logs.retention_days", 7)

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
