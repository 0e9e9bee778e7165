package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/omniquery/fanout-api/internal/adapters/providers"
)

type Config struct {
	Server    ServerConfig       `mapstructure:"server"`
	Store     StoreConfig        `mapstructure:"store"`
	Redis     RedisConfig        `mapstructure:"redis"`
	Cache     CacheConfig        `mapstructure:"cache"`
	Retry     RetryConfig        `mapstructure:"retry"`
	RateLimit RateLimitConfig    `mapstructure:"rate_limit"`
	Auth      AuthConfig         `mapstructure:"auth"`
	Providers []providers.Config `mapstructure:"providers"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Env  string `mapstructure:"env"`
}

type StoreConfig struct {
	DSN string `mapstructure:"dsn"`
}

type RedisConfig struct {
	URL     string `mapstructure:"url"`
	Enabled bool   `mapstructure:"enabled"`
}

type CacheConfig struct {
	// ResponseTTL bounds how long an identical aggregate request is
	// served from cache.
	ResponseTTL time.Duration `mapstructure:"response_ttl"`
	// SnapshotTTL bounds how long the provider/model snapshot is
	// trusted before a refresh.
	SnapshotTTL time.Duration `mapstructure:"snapshot_ttl"`
}

type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	// ThrottleRPS is the nominal per-provider outbound rate before any
	// rate-limit trip lowers it.
	ThrottleRPS   float64 `mapstructure:"throttle_rps"`
	ThrottleBurst int     `mapstructure:"throttle_burst"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

type AuthConfig struct {
	// APIKeys lists the static bearer keys accepted on /v1 routes. An
	// empty list disables auth, which is only sensible in development.
	APIKeys []string `mapstructure:"api_keys"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig() (*Config, error) {
	// Load .env file if present
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("server.port", "8080")
	v.SetDefault("server.env", "development")
	v.SetDefault("store.dsn", "fanout.db")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("cache.response_ttl", 30*time.Second)
	v.SetDefault("cache.snapshot_ttl", 5*time.Minute)
	v.SetDefault("retry.max_attempts", 4)
	v.SetDefault("retry.base_delay", time.Second)
	v.SetDefault("retry.max_delay", 32*time.Second)
	v.SetDefault("retry.throttle_rps", 10.0)
	v.SetDefault("retry.throttle_burst", 10)
	v.SetDefault("rate_limit.requests_per_second", 10.0)
	v.SetDefault("rate_limit.burst", 20)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	resolveSecrets(v, &cfg)

	return &cfg, nil
}

// resolveSecrets replaces "ENV:VAR" placeholders in provider API keys so
// config files never carry the keys themselves.
func resolveSecrets(v *viper.Viper, cfg *Config) {
	for i, p := range cfg.Providers {
		if strings.HasPrefix(p.APIKey, "ENV:") {
			envVar := strings.TrimPrefix(p.APIKey, "ENV:")
			// Process environment wins over any viper source.
			val := os.Getenv(envVar)
			if val == "" {
				val = v.GetString(envVar)
			}
			cfg.Providers[i].APIKey = val
		}
	}
}
