// Package config handles configuration for the embedding core
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete configuration for the embedding core
type Config struct {
	Service   ServiceConfig   `mapstructure:"service"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Qdrant    QdrantConfig    `mapstructure:"qdrant"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Search    SearchConfig    `mapstructure:"search"`
}

// ServiceConfig contains service-level configuration
type ServiceConfig struct {
	MaxConcurrent    int64         `mapstructure:"max_concurrent"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout"`
	LogLevel         string        `mapstructure:"log_level"`
	FailureThreshold uint32        `mapstructure:"failure_threshold"`
	BreakerTimeout   time.Duration `mapstructure:"breaker_timeout"`
	RateLimitRPS     float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst   int           `mapstructure:"rate_limit_burst"`
}

// DatabaseConfig contains Postgres connection settings for the pgvector store
type DatabaseConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Database     string `mapstructure:"database"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	SSLMode      string `mapstructure:"ssl_mode"`
	MaxConns     int    `mapstructure:"max_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

// DSN builds the lib/pq connection string
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		d.Host, d.Port, d.Database, d.Username, d.Password, d.SSLMode)
}

// RedisConfig contains Redis connection settings for the embedding cache
type RedisConfig struct {
	Address      string        `mapstructure:"address"`
	Password     string        `mapstructure:"password"`
	Database     int           `mapstructure:"database"`
	PoolSize     int           `mapstructure:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// QdrantConfig contains Qdrant connection settings
type QdrantConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Collection string `mapstructure:"collection"`
}

// CacheConfig contains embedding cache settings
type CacheConfig struct {
	Backend    string        `mapstructure:"backend"` // "memory" or "redis"
	MaxEntries int           `mapstructure:"max_entries"`
	DefaultTTL time.Duration `mapstructure:"default_ttl"`
}

// ProvidersConfig contains embedding provider settings
type ProvidersConfig struct {
	OpenAI  OpenAIConfig  `mapstructure:"openai"`
	Ollama  OllamaConfig  `mapstructure:"ollama"`
	Bedrock BedrockConfig `mapstructure:"bedrock"`
}

// OpenAIConfig configures the OpenAI provider
type OpenAIConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	APIKey         string        `mapstructure:"api_key"`
	Endpoint       string        `mapstructure:"endpoint"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
}

// OllamaConfig configures the Ollama provider
type OllamaConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Endpoint       string        `mapstructure:"endpoint"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// BedrockConfig configures the AWS Bedrock provider
type BedrockConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Region  string `mapstructure:"region"`
}

// SearchConfig contains search defaults
type SearchConfig struct {
	DefaultTopK      int     `mapstructure:"default_top_k"`
	DefaultThreshold float64 `mapstructure:"default_threshold"`
	BatchConcurrency int     `mapstructure:"batch_concurrency"`
}

// Load loads configuration from config files and environment
func Load() (*Config, error) {
	viper.SetConfigName("ragcore")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("/configs")

	setDefaults()
	bindEnvVars()

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine, defaults and env vars apply
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &config, nil
}

func setDefaults() {
	viper.SetDefault("service.max_concurrent", 64)
	viper.SetDefault("service.shutdown_timeout", "30s")
	viper.SetDefault("service.log_level", "info")
	viper.SetDefault("service.failure_threshold", 5)
	viper.SetDefault("service.breaker_timeout", "30s")
	viper.SetDefault("service.rate_limit_rps", 50)
	viper.SetDefault("service.rate_limit_burst", 20)

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.database", "ragcore_development")
	viper.SetDefault("database.username", "ragcore")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_conns", 10)
	viper.SetDefault("database.max_idle_conns", 5)

	viper.SetDefault("redis.address", "localhost:6379")
	viper.SetDefault("redis.database", 0)
	viper.SetDefault("redis.pool_size", 10)
	viper.SetDefault("redis.dial_timeout", "5s")
	viper.SetDefault("redis.read_timeout", "3s")
	viper.SetDefault("redis.write_timeout", "3s")

	viper.SetDefault("qdrant.host", "localhost")
	viper.SetDefault("qdrant.port", 6334)
	viper.SetDefault("qdrant.collection", "ragcore_embeddings")

	viper.SetDefault("cache.backend", "memory")
	viper.SetDefault("cache.max_entries", 10000)
	viper.SetDefault("cache.default_ttl", "1h")

	viper.SetDefault("providers.openai.enabled", false)
	viper.SetDefault("providers.openai.request_timeout", "30s")
	viper.SetDefault("providers.openai.max_retries", 3)
	viper.SetDefault("providers.ollama.enabled", false)
	viper.SetDefault("providers.ollama.endpoint", "http://localhost:11434")
	viper.SetDefault("providers.ollama.request_timeout", "60s")
	viper.SetDefault("providers.bedrock.enabled", false)
	viper.SetDefault("providers.bedrock.region", "us-east-1")

	viper.SetDefault("search.default_top_k", 10)
	viper.SetDefault("search.default_threshold", 0.0)
	viper.SetDefault("search.batch_concurrency", 8)
}

func bindEnvVars() {
	viper.SetEnvPrefix("RAGCORE")
	viper.AutomaticEnv()

	// Secrets come from the environment, never from config files
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		viper.Set("providers.openai.api_key", key)
	}
	if pass := os.Getenv("RAGCORE_DATABASE_PASSWORD"); pass != "" {
		viper.Set("database.password", pass)
	}
	if pass := os.Getenv("RAGCORE_REDIS_PASSWORD"); pass != "" {
		viper.Set("redis.password", pass)
	}
}

func validate(c *Config) error {
	if c.Service.MaxConcurrent <= 0 {
		return fmt.Errorf("service.max_concurrent must be positive")
	}
	if c.Cache.Backend != "memory" && c.Cache.Backend != "redis" {
		return fmt.Errorf("cache.backend must be memory or redis, got %q", c.Cache.Backend)
	}
	if c.Providers.OpenAI.Enabled && c.Providers.OpenAI.APIKey == "" {
		return fmt.Errorf("providers.openai.api_key is required when the provider is enabled")
	}
	if c.Search.DefaultTopK <= 0 {
		return fmt.Errorf("search.default_top_k must be positive")
	}
	if c.Search.DefaultThreshold < 0 || c.Search.DefaultThreshold > 1 {
		return fmt.Errorf("search.default_threshold must be in [0,1]")
	}
	return nil
}
