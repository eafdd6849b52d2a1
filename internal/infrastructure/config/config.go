// Package config provides centralized configuration management
// using Viper for configuration loading and validation
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config holds all application configuration
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Knowledge  KnowledgeConfig  `mapstructure:"knowledge"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"`
}

// LLMConfig selects and configures the language model backend
type LLMConfig struct {
	// Provider is one of "ollama", "openai" or "gemini"
	Provider       string        `mapstructure:"provider"`
	OllamaURL      string        `mapstructure:"ollama_url"`
	OllamaModel    string        `mapstructure:"ollama_model"`
	OpenAIKey      string        `mapstructure:"openai_key"`
	OpenAIBaseURL  string        `mapstructure:"openai_base_url"`
	OpenAIModel    string        `mapstructure:"openai_model"`
	GeminiKey      string        `mapstructure:"gemini_key"`
	GeminiModel    string        `mapstructure:"gemini_model"`
	EmbeddingModel string        `mapstructure:"embedding_model"`
	MaxTokens      int           `mapstructure:"max_tokens"`
	Temperature    float64       `mapstructure:"temperature"`
	Timeout        time.Duration `mapstructure:"timeout"`
	RequestsPerSec float64       `mapstructure:"requests_per_sec"`
	Burst          int           `mapstructure:"burst"`
	MaxRetries     int           `mapstructure:"max_retries"`
	// SecretID names an AWS Secrets Manager secret holding API keys.
	// Keys found there fill in empty OpenAIKey and GeminiKey.
	SecretID  string `mapstructure:"secret_id"`
	AWSRegion string `mapstructure:"aws_region"`
}

// KnowledgeConfig configures the medical and recipe knowledge stores
type KnowledgeConfig struct {
	// Backend is "memory" or "postgres"
	Backend         string `mapstructure:"backend"`
	DSN             string `mapstructure:"dsn"`
	SeedPath        string `mapstructure:"seed_path"`
	EmbeddingDim    int    `mapstructure:"embedding_dim"`
	EnableEmbedding bool   `mapstructure:"enable_embedding"`
	AutoMigrate     bool   `mapstructure:"auto_migrate"`
	MaxConns        int32  `mapstructure:"max_conns"`
}

// DatabaseConfig configures the nutrition ledger database
type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres"
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	ReadReplicas    []string      `mapstructure:"read_replicas"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LogLevel        string        `mapstructure:"log_level"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// RedisConfig contains Redis configuration
type RedisConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Host          string        `mapstructure:"host"`
	Port          int           `mapstructure:"port"`
	Password      string        `mapstructure:"password"`
	Database      int           `mapstructure:"database"`
	MaxRetries    int           `mapstructure:"max_retries"`
	DialTimeout   time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	PoolSize      int           `mapstructure:"pool_size"`
	EnableCluster bool          `mapstructure:"enable_cluster"`
	ClusterNodes  []string      `mapstructure:"cluster_nodes"`
}

// CacheConfig configures the constraint cache
type CacheConfig struct {
	LocalSize int           `mapstructure:"local_size"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	RemoteTTL time.Duration `mapstructure:"remote_ttl"`
}

// PipelineConfig holds per-stage limits
type PipelineConfig struct {
	IntentTimeout      time.Duration `mapstructure:"intent_timeout"`
	ConstraintsTimeout time.Duration `mapstructure:"constraints_timeout"`
	RetrievalTimeout   time.Duration `mapstructure:"retrieval_timeout"`
	ValidationTimeout  time.Duration `mapstructure:"validation_timeout"`
	MedicalTopK        int           `mapstructure:"medical_top_k"`
	RecipeTopK         int           `mapstructure:"recipe_top_k"`
	CandidateCount     int           `mapstructure:"candidate_count"`
	MaxContextChars    int           `mapstructure:"max_context_chars"`
	MaxQueryRunes      int           `mapstructure:"max_query_runes"`
	Timezone           string        `mapstructure:"timezone"`
}

// MonitoringConfig contains monitoring configuration
type MonitoringConfig struct {
	EnableMetrics   bool    `mapstructure:"enable_metrics"`
	MetricsAddr     string  `mapstructure:"metrics_addr"`
	EnableTracing   bool    `mapstructure:"enable_tracing"`
	OTLPEndpoint    string  `mapstructure:"otlp_endpoint"`
	SamplingRate    float64 `mapstructure:"sampling_rate"`
	HealthCheckPath string  `mapstructure:"health_check_path"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := newViper(configPath)

	if err := v.ReadInConfig(); err != nil {
		// It's okay if config file doesn't exist, we have defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	return decode(v)
}

// Watch re-reads configPath whenever it changes and passes every valid
// result to onChange. Invalid edits are logged and ignored.
func Watch(configPath string, logger *zap.Logger, onChange func(*Config)) error {
	if configPath == "" {
		return fmt.Errorf("config watch needs an explicit config file")
	}

	v := newViper(configPath)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := decode(v)
		if err != nil {
			logger.Warn("Ignoring invalid configuration change", zap.String("file", e.Name), zap.Error(err))
			return
		}
		logger.Info("Configuration reloaded", zap.String("file", e.Name))
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}

func newViper(configPath string) *viper.Viper {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/mealguard")
	}

	v.SetEnvPrefix("MEALGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "MealGuard")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "json")

	v.SetDefault("llm.provider", "ollama")
	v.SetDefault("llm.ollama_url", "http://localhost:11434")
	v.SetDefault("llm.ollama_model", "llama3.2:3b")
	v.SetDefault("llm.openai_base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.openai_model", "gpt-4o-mini")
	v.SetDefault("llm.gemini_model", "gemini-2.0-flash")
	v.SetDefault("llm.embedding_model", "nomic-embed-text")
	v.SetDefault("llm.max_tokens", 1500)
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.timeout", "60s")
	v.SetDefault("llm.requests_per_sec", 5)
	v.SetDefault("llm.burst", 5)
	v.SetDefault("llm.max_retries", 2)
	v.SetDefault("llm.aws_region", "us-east-1")

	v.SetDefault("knowledge.backend", "memory")
	v.SetDefault("knowledge.embedding_dim", 768)
	v.SetDefault("knowledge.max_conns", 10)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "mealguard.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.read_timeout", "3s")
	v.SetDefault("redis.write_timeout", "3s")
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("cache.local_size", 512)
	v.SetDefault("cache.key_prefix", "mealguard:")
	v.SetDefault("cache.remote_ttl", "0s")

	v.SetDefault("pipeline.intent_timeout", "20s")
	v.SetDefault("pipeline.constraints_timeout", "30s")
	v.SetDefault("pipeline.retrieval_timeout", "60s")
	v.SetDefault("pipeline.validation_timeout", "30s")
	v.SetDefault("pipeline.medical_top_k", 4)
	v.SetDefault("pipeline.recipe_top_k", 6)
	v.SetDefault("pipeline.candidate_count", 3)
	v.SetDefault("pipeline.max_context_chars", 6000)
	v.SetDefault("pipeline.max_query_runes", 4096)
	v.SetDefault("pipeline.timezone", "UTC")

	v.SetDefault("monitoring.enable_metrics", true)
	v.SetDefault("monitoring.metrics_addr", ":9090")
	v.SetDefault("monitoring.sampling_rate", 0.1)
	v.SetDefault("monitoring.health_check_path", "/healthz")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("app.name is required")
	}

	switch c.LLM.Provider {
	case "ollama":
		if c.LLM.OllamaURL == "" {
			return fmt.Errorf("llm.ollama_url is required for the ollama provider")
		}
	case "openai":
		if c.LLM.OpenAIKey == "" && c.LLM.SecretID == "" {
			return fmt.Errorf("llm.openai_key is required for the openai provider")
		}
	case "gemini":
		if c.LLM.GeminiKey == "" && c.LLM.SecretID == "" {
			return fmt.Errorf("llm.gemini_key is required for the gemini provider")
		}
	default:
		return fmt.Errorf("llm.provider must be one of ollama, openai, gemini; got %q", c.LLM.Provider)
	}

	switch c.Knowledge.Backend {
	case "memory":
	case "postgres":
		if c.Knowledge.DSN == "" {
			return fmt.Errorf("knowledge.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("knowledge.backend must be memory or postgres; got %q", c.Knowledge.Backend)
	}

	if c.Database.Driver != "sqlite" && c.Database.Driver != "postgres" {
		return fmt.Errorf("database.driver must be sqlite or postgres; got %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	if c.Pipeline.CandidateCount < 1 {
		return fmt.Errorf("pipeline.candidate_count must be at least 1")
	}
	if c.Pipeline.RecipeTopK < 1 || c.Pipeline.MedicalTopK < 1 {
		return fmt.Errorf("pipeline top_k values must be at least 1")
	}
	if _, err := time.LoadLocation(c.Pipeline.Timezone); err != nil {
		return fmt.Errorf("pipeline.timezone: %w", err)
	}

	return nil
}

// Location returns the timezone used to find "today" in the ledger
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Pipeline.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// IsProduction returns true if running in production
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDevelopment returns true if running in development
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

// RedisAddr returns host:port for the redis client
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}
