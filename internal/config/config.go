// Package config loads server and CLI settings from a YAML file and the
// environment through viper, and validates them.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/lsqkk/bili-card/internal/upstream"
)

// EnvPrefix namespaces environment overrides, e.g. BILICARD_SERVER_PORT.
const EnvPrefix = "BILICARD"

// Config is the full runtime configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Upstream UpstreamConfig `mapstructure:"upstream"`
	UID      UIDConfig      `mapstructure:"uid"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Image    ImageConfig    `mapstructure:"image"`
	Health   HealthConfig   `mapstructure:"health"`
}

type ServerConfig struct {
	Port        int      `mapstructure:"port" validate:"min=1,max=65535"`
	GRPCPort    int      `mapstructure:"grpc_port" validate:"min=0,max=65535"`
	CORSOrigins []string `mapstructure:"cors_origins"`
	ExampleUID  string   `mapstructure:"example_uid" validate:"numeric"`
}

type LogConfig struct {
	Development bool `mapstructure:"development"`
}

type UpstreamConfig struct {
	AggregatorBase string        `mapstructure:"aggregator_base" validate:"required,url"`
	APIBase        string        `mapstructure:"api_base" validate:"required,url"`
	Timeout        time.Duration `mapstructure:"timeout" validate:"min=1s,max=9s"`
	UserAgent      string        `mapstructure:"user_agent"`
	RatePerHost    float64       `mapstructure:"rate_per_host" validate:"gte=0"`
	BreakerTimeout time.Duration `mapstructure:"breaker_timeout" validate:"gte=0"`
	BreakerTrip    uint32        `mapstructure:"breaker_threshold"`
}

type UIDConfig struct {
	MinLen int `mapstructure:"min_len" validate:"min=1"`
	MaxLen int `mapstructure:"max_len" validate:"gtefield=MinLen,max=32"`
}

type CacheConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	Backend          string        `mapstructure:"backend" validate:"oneof=memory redis"`
	TTL              time.Duration `mapstructure:"ttl" validate:"gt=0"`
	MaxEntries       int           `mapstructure:"max_entries" validate:"min=1"`
	EvictionInterval time.Duration `mapstructure:"eviction_interval" validate:"gte=0"`
	RedisAddr        string        `mapstructure:"redis_addr" validate:"required_if=Backend redis"`
	RedisDB          int           `mapstructure:"redis_db" validate:"min=0"`
	RedisPassword    string        `mapstructure:"redis_password"`
}

type ImageConfig struct {
	Mode          string        `mapstructure:"mode" validate:"oneof=cdn proxy embed"`
	ProxyBase     string        `mapstructure:"proxy_base" validate:"required_if=Mode proxy"`
	EmbedMaxBytes int64         `mapstructure:"embed_max_bytes" validate:"min=1024"`
	EmbedTimeout  time.Duration `mapstructure:"embed_timeout" validate:"gte=0"`
}

type HealthConfig struct {
	Interval      time.Duration `mapstructure:"interval" validate:"gte=0"`
	CanaryUID     string        `mapstructure:"canary_uid" validate:"required,numeric"`
	FailThreshold int           `mapstructure:"fail_threshold" validate:"min=1"`
}

// SetDefaults registers every key with its default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.grpc_port", 0)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.example_uid", "2")
	v.SetDefault("log.development", false)
	v.SetDefault("upstream.aggregator_base", "https://uapis.cn/api/v1/social/bilibili")
	v.SetDefault("upstream.api_base", "https://api.bilibili.com")
	v.SetDefault("upstream.timeout", "5s")
	v.SetDefault("upstream.user_agent", upstream.DefaultUserAgent)
	v.SetDefault("upstream.rate_per_host", 20)
	v.SetDefault("upstream.breaker_timeout", "30s")
	v.SetDefault("upstream.breaker_threshold", 5)
	v.SetDefault("uid.min_len", 1)
	v.SetDefault("uid.max_len", 16)
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.ttl", "1h")
	v.SetDefault("cache.max_entries", 1000)
	v.SetDefault("cache.eviction_interval", "1m")
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("image.mode", "cdn")
	v.SetDefault("image.proxy_base", "https://images.weserv.nl/?url=")
	v.SetDefault("image.embed_max_bytes", 512*1024)
	v.SetDefault("image.embed_timeout", "3s")
	v.SetDefault("health.interval", "5m")
	v.SetDefault("health.canary_uid", "2")
	v.SetDefault("health.fail_threshold", 3)
}

// New returns a viper instance with defaults, env overrides and the config
// search path set up. path, when non-empty, names an explicit config file.
func New(path string) *viper.Viper {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("cardserver")
		v.SetConfigType("yaml")
		v.AddConfigPath("configs")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// Load reads, decodes and validates configuration. A missing config file
// found through the search path is not an error; an explicit path that
// cannot be read is.
func Load(path string, logger *zap.Logger) (*Config, error) {
	v := New(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		logger.Warn("config file not found, using defaults and environment")
	} else {
		logger.Info("config loaded", zap.String("file", v.ConfigFileUsed()))
	}
	return Decode(v)
}

// Decode unmarshals v into a Config and validates it.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// UpstreamClient maps the upstream section onto the client's config.
func (c *Config) UpstreamClient() upstream.Config {
	return upstream.Config{
		Timeout:          c.Upstream.Timeout,
		UserAgent:        c.Upstream.UserAgent,
		RatePerHost:      c.Upstream.RatePerHost,
		BreakerTimeout:   c.Upstream.BreakerTimeout,
		BreakerThreshold: c.Upstream.BreakerTrip,
	}
}
