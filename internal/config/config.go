package config

import (
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the configuration for the service.
type Config struct {
	Port       string `mapstructure:"PORT"`
	LogLevel   string `mapstructure:"LOG_LEVEL"`
	LogFormat  string `mapstructure:"LOG_FORMAT"`
	AppVersion string `mapstructure:"APP_VERSION"`
	Env        string `mapstructure:"ENV"`

	GeminiAPIKey   string `mapstructure:"GEMINI_API_KEY"`
	GoogleProject  string `mapstructure:"GOOGLE_CLOUD_PROJECT"`
	GoogleLocation string `mapstructure:"GOOGLE_CLOUD_LOCATION"`

	LLMModel             string        `mapstructure:"LLM_MODEL"`
	LLMFallbackModel     string        `mapstructure:"LLM_FALLBACK_MODEL"`
	LLMEmbeddingModel    string        `mapstructure:"LLM_EMBEDDING_MODEL"`
	LLMMaxRetries        int           `mapstructure:"LLM_MAX_RETRIES"`
	LLMBaseDelay         time.Duration `mapstructure:"LLM_BASE_DELAY"`
	LLMAttemptTimeout    time.Duration `mapstructure:"LLM_ATTEMPT_TIMEOUT"`
	LLMRequestsPerSecond float64       `mapstructure:"LLM_REQUESTS_PER_SECOND"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	CacheBackend string        `mapstructure:"CACHE_BACKEND"`
	CacheTTL     time.Duration `mapstructure:"CACHE_TTL"`
	CacheSweep   time.Duration `mapstructure:"CACHE_SWEEP_INTERVAL"`

	PersistenceBackend string `mapstructure:"PERSISTENCE_BACKEND"`
	QdrantHost         string `mapstructure:"QDRANT_HOST"`
	QdrantPort         int    `mapstructure:"QDRANT_PORT"`
	QdrantCollection   string `mapstructure:"QDRANT_COLLECTION"`
	QdrantVectorSize   uint64 `mapstructure:"QDRANT_VECTOR_SIZE"`

	GenerationQuota      int           `mapstructure:"GENERATION_QUOTA"`
	QuotaWindow          time.Duration `mapstructure:"QUOTA_WINDOW"`
	PipelineDayBatchSize int           `mapstructure:"PIPELINE_DAY_BATCH_SIZE"`
	ProgressDebounce     time.Duration `mapstructure:"PROGRESS_DEBOUNCE"`
	ErrorResetTimeout    time.Duration `mapstructure:"ERROR_RESET_TIMEOUT"`
	SessionIdleTTL       time.Duration `mapstructure:"SESSION_IDLE_TTL"`
}

var defaults = map[string]any{
	"PORT":        "8080",
	"LOG_LEVEL":   "info",
	"LOG_FORMAT":  "json",
	"APP_VERSION": "dev",
	"ENV":         "development",

	"GEMINI_API_KEY":        "",
	"GOOGLE_CLOUD_PROJECT":  "",
	"GOOGLE_CLOUD_LOCATION": "",

	"LLM_MODEL":               "gemini-2.5-flash",
	"LLM_FALLBACK_MODEL":      "",
	"LLM_EMBEDDING_MODEL":     "text-embedding-004",
	"LLM_MAX_RETRIES":         2,
	"LLM_BASE_DELAY":          500 * time.Millisecond,
	"LLM_ATTEMPT_TIMEOUT":     25 * time.Second,
	"LLM_REQUESTS_PER_SECOND": 0.0,

	"REDIS_ADDR":     "localhost:6379",
	"REDIS_PASSWORD": "",
	"REDIS_DB":       0,

	"CACHE_BACKEND":        "memory",
	"CACHE_TTL":            24 * time.Hour,
	"CACHE_SWEEP_INTERVAL": 10 * time.Minute,

	"PERSISTENCE_BACKEND": "redis",
	"QDRANT_HOST":         "localhost",
	"QDRANT_PORT":         6334,
	"QDRANT_COLLECTION":   "itineraries",
	"QDRANT_VECTOR_SIZE":  768,

	"GENERATION_QUOTA":        0,
	"QUOTA_WINDOW":            24 * time.Hour,
	"PIPELINE_DAY_BATCH_SIZE": 5,
	"PROGRESS_DEBOUNCE":       150 * time.Millisecond,
	"ERROR_RESET_TIMEOUT":     10 * time.Second,
	"SESSION_IDLE_TTL":        30 * time.Minute,
}

// Load reads configuration from an optional .env file and the environment.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	if err := godotenv.Load(envFiles...); err != nil {
		log.Println("Warning: .env file not found, using system environment variables")
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.GeminiAPIKey == "" && cfg.GoogleProject == "" {
		return fmt.Errorf("either GEMINI_API_KEY or GOOGLE_CLOUD_PROJECT must be set")
	}
	switch cfg.CacheBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown CACHE_BACKEND %q", cfg.CacheBackend)
	}
	switch cfg.PersistenceBackend {
	case "redis", "qdrant":
	default:
		return fmt.Errorf("unknown PERSISTENCE_BACKEND %q", cfg.PersistenceBackend)
	}
	if cfg.LLMMaxRetries < 0 {
		return fmt.Errorf("LLM_MAX_RETRIES must not be negative")
	}
	if cfg.PipelineDayBatchSize < 1 {
		return fmt.Errorf("PIPELINE_DAY_BATCH_SIZE must be at least 1")
	}
	return nil
}
