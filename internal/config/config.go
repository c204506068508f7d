package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Environment string          `mapstructure:"environment"`
	LogLevel    string          `mapstructure:"log_level"`
	Server      ServerConfig    `mapstructure:"server"`
	Database    DatabaseConfig  `mapstructure:"database"`
	Redis       RedisConfig     `mapstructure:"redis"`
	Providers   ProvidersConfig `mapstructure:"providers"`
	RateLimits  []RateLimitRule `mapstructure:"rate_limits"`
	Cache       CacheConfig     `mapstructure:"cache"`
	Batch       BatchConfig     `mapstructure:"batch"`
	Reconcile   ReconcileConfig `mapstructure:"reconcile"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	DBName       string `mapstructure:"dbname"`
	SSLMode      string `mapstructure:"sslmode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ProvidersConfig controls provider ordering and failover behavior.
// Mode "priority" walks Priority in order; mode "auto" asks the health
// tracker for the best candidate first.
type ProvidersConfig struct {
	Mode         string        `mapstructure:"mode"`
	Priority     []string      `mapstructure:"priority"`
	Primary      string        `mapstructure:"primary"`
	SuccessFloor float64       `mapstructure:"success_floor"`
	BackupMargin float64       `mapstructure:"backup_margin"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
	BackoffBase  time.Duration `mapstructure:"backoff_base"`
	BackoffCap   time.Duration `mapstructure:"backoff_cap"`
	EastmoneyURL string        `mapstructure:"eastmoney_url"`
	TiantianURL  string        `mapstructure:"tiantian_url"`
	SinaURL      string        `mapstructure:"sina_url"`
}

// RateLimitRule bounds calls to one (provider, endpoint) pair to Capacity
// per rolling Period.
type RateLimitRule struct {
	Provider string        `mapstructure:"provider"`
	Endpoint string        `mapstructure:"endpoint"`
	Capacity int           `mapstructure:"capacity"`
	Period   time.Duration `mapstructure:"period"`
}

type CacheConfig struct {
	L1TTL        time.Duration `mapstructure:"l1_ttl"`
	L1MaxEntries int           `mapstructure:"l1_max_entries"`
	L2TTL        time.Duration `mapstructure:"l2_ttl"`
	// MaxLagDays is the freshness ceiling for L2 hits: the newest stored
	// date must be within this many days of today.
	MaxLagDays int `mapstructure:"max_lag_days"`
	// DelayedLagDays applies instead of MaxLagDays to instruments on the
	// DelayedCodes list (cross-border funds that post NAVs late).
	DelayedLagDays int      `mapstructure:"delayed_lag_days"`
	DelayedCodes   []string `mapstructure:"delayed_codes"`
}

type BatchConfig struct {
	Workers     int           `mapstructure:"workers"`
	SnapshotTTL time.Duration `mapstructure:"snapshot_ttl"`
}

type ReconcileConfig struct {
	TraceWindow int `mapstructure:"trace_window"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	setDefaults()

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// Config file not found, use defaults and environment variables
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	config.Environment = strings.ToLower(config.Environment)

	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) validate() error {
	if len(c.Providers.Priority) == 0 {
		return fmt.Errorf("providers.priority must name at least one provider")
	}
	if c.Providers.Mode != "priority" && c.Providers.Mode != "auto" {
		return fmt.Errorf("providers.mode must be %q or %q, got %q", "priority", "auto", c.Providers.Mode)
	}
	if c.Providers.SuccessFloor < 0 || c.Providers.SuccessFloor > 1 {
		return fmt.Errorf("providers.success_floor must be in [0,1], got %v", c.Providers.SuccessFloor)
	}
	for _, r := range c.RateLimits {
		if r.Capacity <= 0 || r.Period <= 0 {
			return fmt.Errorf("rate limit for %s/%s needs positive capacity and period", r.Provider, r.Endpoint)
		}
	}
	if c.Cache.L1MaxEntries <= 0 {
		return fmt.Errorf("cache.l1_max_entries must be positive, got %d", c.Cache.L1MaxEntries)
	}
	if c.Batch.Workers <= 0 {
		return fmt.Errorf("batch.workers must be positive, got %d", c.Batch.Workers)
	}
	if c.Reconcile.TraceWindow <= 0 {
		return fmt.Errorf("reconcile.trace_window must be positive, got %d", c.Reconcile.TraceWindow)
	}
	return nil
}

func setDefaults() {
	viper.SetDefault("environment", "development")
	viper.SetDefault("log_level", "info")

	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.dbname", "fundflow")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.max_open_conns", 25)

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("providers.mode", "priority")
	viper.SetDefault("providers.priority", []string{"eastmoney", "tiantian", "sina"})
	viper.SetDefault("providers.primary", "eastmoney")
	viper.SetDefault("providers.success_floor", 0.7)
	viper.SetDefault("providers.backup_margin", 0.2)
	viper.SetDefault("providers.fetch_timeout", "10s")
	viper.SetDefault("providers.max_retries", 2)
	viper.SetDefault("providers.backoff_base", "200ms")
	viper.SetDefault("providers.backoff_cap", "3s")
	viper.SetDefault("providers.eastmoney_url", "https://api.fund.eastmoney.com")
	viper.SetDefault("providers.tiantian_url", "https://fundgz.1234567.com.cn")
	viper.SetDefault("providers.sina_url", "https://hq.sinajs.cn")

	viper.SetDefault("rate_limits", []map[string]any{
		{"provider": "eastmoney", "endpoint": "fund_nav", "capacity": 80, "period": "60s"},
		{"provider": "eastmoney", "endpoint": "fund_universe", "capacity": 2, "period": "60s"},
		{"provider": "tiantian", "endpoint": "fund_estimate", "capacity": 120, "period": "60s"},
		{"provider": "sina", "endpoint": "fund_quote", "capacity": 100, "period": "60s"},
	})

	viper.SetDefault("cache.l1_ttl", "5m")
	viper.SetDefault("cache.l1_max_entries", 4096)
	viper.SetDefault("cache.l2_ttl", "24h")
	viper.SetDefault("cache.max_lag_days", 1)
	viper.SetDefault("cache.delayed_lag_days", 4)
	viper.SetDefault("cache.delayed_codes", []string{})

	viper.SetDefault("batch.workers", 3)
	viper.SetDefault("batch.snapshot_ttl", "8h")

	viper.SetDefault("reconcile.trace_window", 10)
}
