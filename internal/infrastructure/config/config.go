package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	IAP      IAPConfig
	Sentry   SentryConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	URL            string
	MaxConnections int
	MinConnections int
	MaxLifetime    time.Duration
	MaxIdleTime    time.Duration
	HealthCheck    time.Duration
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	URL      string
	Password string
	PoolSize int
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret    string
	AccessTTL time.Duration
	Issuer    string
}

// IAPConfig holds store validation configuration. All three credential
// fields are required at startup: a missing secret must fail the process,
// not individual requests.
type IAPConfig struct {
	AppleSharedSecret string
	GoogleKeyJSON     string
	GooglePackageName string
}

// SentryConfig holds Sentry configuration
type SentryConfig struct {
	DSN         string
	Environment string
	Release     string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.AddConfigPath("../..")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		// .env file is optional for production (env vars are used)
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	// Server defaults
	viper.SetDefault("server_port", 8080)
	viper.SetDefault("server_read_timeout", 10*time.Second)
	viper.SetDefault("server_write_timeout", 10*time.Second)
	viper.SetDefault("server_shutdown_timeout", 30*time.Second)

	// Database defaults
	viper.SetDefault("database_max_connections", 25)
	viper.SetDefault("database_min_connections", 5)
	viper.SetDefault("database_max_lifetime", 1*time.Hour)
	viper.SetDefault("database_max_idle_time", 30*time.Minute)
	viper.SetDefault("database_health_check", 30*time.Second)

	// JWT defaults
	viper.SetDefault("jwt_access_ttl", 15*time.Minute)
	viper.SetDefault("jwt_issuer", "receipt-guard")

	// Redis defaults
	viper.SetDefault("redis_pool_size", 10)
}

func validate(cfg *Config) error {
	if cfg.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	// Store credentials are resolved once here and injected into the
	// validators; absence is a startup failure, not a per-request one.
	if cfg.IAP.AppleSharedSecret == "" {
		return fmt.Errorf("IAP_APPLE_SHARED_SECRET is required")
	}
	if cfg.IAP.GoogleKeyJSON == "" {
		return fmt.Errorf("IAP_GOOGLE_KEY_JSON is required")
	}
	if cfg.IAP.GooglePackageName == "" {
		return fmt.Errorf("IAP_GOOGLE_PACKAGE_NAME is required")
	}
	return nil
}
