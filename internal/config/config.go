package config

import (
	"errors"
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var ErrMissingRequired = errors.New("missing required configuration")

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"asemb"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"asemb"`

	RedisAddr     string `envconfig:"REDIS_ADDR" default:""`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	NSQDHost      string `envconfig:"NSQD_HOST" default:""`
	NSQErrorTopic string `envconfig:"NSQ_ERROR_TOPIC" default:"asemb.errors"`

	GeminiAPIKey    string  `envconfig:"GEMINI_API_KEY"`
	EmbeddingModel  string  `envconfig:"EMBEDDING_MODEL" default:"gemini-embedding-001"`
	EmbeddingDim    int     `envconfig:"EMBEDDING_DIM" default:"768"`
	EmbeddingRPS    float64 `envconfig:"EMBEDDING_RPS" default:"5"`
	ChunkMaxChars   int     `envconfig:"CHUNK_MAX_CHARS" default:"1000"`
	ChunkOverlap    int     `envconfig:"CHUNK_OVERLAP" default:"100"`
	IngestWorkers   int     `envconfig:"INGEST_WORKERS" default:"4"`
	ChunkTable      string  `envconfig:"CHUNK_TABLE" default:"chunks"`
	DefaultLanguage string  `envconfig:"SEARCH_LANGUAGE" default:"english"`

	SearchBM25Weight   float64 `envconfig:"SEARCH_BM25_WEIGHT" default:"0.3"`
	SearchVectorWeight float64 `envconfig:"SEARCH_VECTOR_WEIGHT" default:"0.7"`
	SearchTopK         int     `envconfig:"SEARCH_TOP_K" default:"10"`
	SearchTimeoutSec   int     `envconfig:"SEARCH_TIMEOUT_SECONDS" default:"10"`

	CacheL1Size      int    `envconfig:"CACHE_L1_SIZE" default:"1024"`
	CacheTTLSeconds  int    `envconfig:"CACHE_TTL_SECONDS" default:"300"`
	BreakerThreshold int    `envconfig:"BREAKER_THRESHOLD" default:"5"`
	BreakerResetSec  int    `envconfig:"BREAKER_RESET_SECONDS" default:"30"`
	RetryMaxAttempts int    `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`
	RetryInitialMs   int    `envconfig:"RETRY_INITIAL_DELAY_MS" default:"500"`
	RetryMaxDelayMs  int    `envconfig:"RETRY_MAX_DELAY_MS" default:"5000"`
	MigrationPath    string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	ServerPort   int    `envconfig:"SERVER_PORT" default:"8081"`
	QueryLogPath string `envconfig:"QUERY_LOG_PATH" default:"data/logs/query.log"`

	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Env vars may already be set in the shell, a missing .env is fine.
	_ = godotenv.Load(".env")

	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBUser == "" {
		return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}
	if c.EmbeddingDim <= 0 {
		return fmt.Errorf("%w: EMBEDDING_DIM", ErrMissingRequired)
	}
	if c.ChunkOverlap >= c.ChunkMaxChars {
		return fmt.Errorf("chunk overlap %d must be smaller than max chars %d", c.ChunkOverlap, c.ChunkMaxChars)
	}
	if c.SearchBM25Weight < 0 || c.SearchVectorWeight < 0 {
		return errors.New("search weights must be non-negative")
	}
	return nil
}
