package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Provider names accepted by LA_GENERATION_PROVIDER and LA_EMBEDDING_PROVIDER.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
	ProviderOllama    = "ollama"
)

// Vector store kinds accepted by LA_VECTOR_STORE.
const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreQdrant   = "qdrant"
)

// Config holds all environmentally dependent settings for the LuisAmigo API.
type Config struct {
	Port            int           `env:"LA_PORT" envDefault:"8080"`
	ShutdownTimeout time.Duration `env:"LA_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	LogDevelopment  bool          `env:"LA_LOG_DEVELOPMENT" envDefault:"false"`

	Generation GenerationConfig
	Embedding  EmbeddingConfig
	Providers  ProviderCredentials
	Retrieval  RetrievalConfig
	Store      StoreConfig
	Cache      CacheConfig
	Breaker    BreakerConfig
	Ingestion  IngestionConfig
}

// GenerationConfig selects the text generation backend and its default options.
type GenerationConfig struct {
	Provider    string        `env:"LA_GENERATION_PROVIDER" envDefault:"openai"`
	Model       string        `env:"LA_GENERATION_MODEL"`
	Temperature float64       `env:"LA_GENERATION_TEMPERATURE" envDefault:"0.1"`
	MaxTokens   int           `env:"LA_GENERATION_MAX_TOKENS" envDefault:"2000"`
	TopP        float64       `env:"LA_GENERATION_TOP_P" envDefault:"1.0"`
	Timeout     time.Duration `env:"LA_GENERATION_TIMEOUT" envDefault:"30s"`
}

// EmbeddingConfig selects the embedding backend.
type EmbeddingConfig struct {
	Provider   string        `env:"LA_EMBEDDING_PROVIDER" envDefault:"openai"`
	Model      string        `env:"LA_EMBEDDING_MODEL"`
	Dimensions int           `env:"LA_EMBEDDING_DIMENSIONS"`
	MaxTokens  int           `env:"LA_EMBEDDING_MAX_TOKENS" envDefault:"8191"`
	Timeout    time.Duration `env:"LA_EMBEDDING_TIMEOUT" envDefault:"15s"`
}

// ProviderCredentials carries API keys and endpoints per backend.
type ProviderCredentials struct {
	OpenAIAPIKey     string `env:"LA_OPENAI_API_KEY"`
	OpenAIBaseURL    string `env:"LA_OPENAI_BASE_URL" envDefault:"https://api.openai.com/v1"`
	AnthropicAPIKey  string `env:"LA_ANTHROPIC_API_KEY"`
	AnthropicBaseURL string `env:"LA_ANTHROPIC_BASE_URL" envDefault:"https://api.anthropic.com/v1"`
	GeminiAPIKey     string `env:"LA_GEMINI_API_KEY"`
	OllamaHost       string `env:"LA_OLLAMA_HOST" envDefault:"http://localhost:11434"`
}

// RetrievalConfig bounds the retrieval stage of the pipeline.
type RetrievalConfig struct {
	DefaultTopK   int           `env:"LA_RETRIEVAL_TOP_K" envDefault:"5"`
	MinScore      float64       `env:"LA_RETRIEVAL_MIN_SCORE" envDefault:"0"`
	MinEvidence   int           `env:"LA_RETRIEVAL_MIN_EVIDENCE" envDefault:"1"`
	SearchTimeout time.Duration `env:"LA_RETRIEVAL_TIMEOUT" envDefault:"10s"`
}

// StoreConfig selects and addresses the vector index.
type StoreConfig struct {
	Kind             string `env:"LA_VECTOR_STORE" envDefault:"sqlite"`
	SQLitePath       string `env:"LA_SQLITE_PATH" envDefault:"luisamigo.db"`
	PostgresDSN      string `env:"LA_POSTGRES_DSN"`
	QdrantHost       string `env:"LA_QDRANT_HOST" envDefault:"localhost"`
	QdrantPort       int    `env:"LA_QDRANT_PORT" envDefault:"6334"`
	QdrantCollection string `env:"LA_QDRANT_COLLECTION" envDefault:"legal_documents"`
}

// CacheConfig enables the Redis embedding cache when Addr is set.
type CacheConfig struct {
	RedisAddr     string        `env:"LA_REDIS_ADDR"`
	RedisPassword string        `env:"LA_REDIS_PASSWORD"`
	RedisDB       int           `env:"LA_REDIS_DB" envDefault:"0"`
	TTL           time.Duration `env:"LA_CACHE_TTL" envDefault:"24h"`
}

// BreakerConfig tunes the circuit breaker wrapped around every provider.
type BreakerConfig struct {
	FailThreshold int           `env:"LA_BREAKER_FAIL_THRESHOLD" envDefault:"5"`
	OpenTimeout   time.Duration `env:"LA_BREAKER_OPEN_TIMEOUT" envDefault:"30s"`
}

// IngestionConfig drives the batch ingestion workflow.
type IngestionConfig struct {
	DatasetsServerURL string `env:"LA_DATASETS_SERVER_URL" envDefault:"https://datasets-server.huggingface.co"`
	Dataset           string `env:"LA_DATASET" envDefault:"Danielbrdz/Barcenas-Juridico-Mexicano-Dataset"`
	SourceName        string `env:"LA_SOURCE_NAME" envDefault:"Barcenas-Juridico-Mexicano-Dataset"`
	BatchSize         int    `env:"LA_INGEST_BATCH_SIZE" envDefault:"50"`
	Concurrency       int    `env:"LA_INGEST_CONCURRENCY" envDefault:"4"`
	MaxChunkSize      int    `env:"LA_INGEST_MAX_CHUNK_SIZE" envDefault:"1000"`
	ChunkOverlap      int    `env:"LA_INGEST_CHUNK_OVERLAP" envDefault:"100"`
	SkipExisting      bool   `env:"LA_INGEST_SKIP_EXISTING" envDefault:"true"`
}

// Validate ensures that all required configuration is present and valid.
func (c *Config) Validate() error {
	var errs []error

	switch c.Generation.Provider {
	case ProviderOpenAI, ProviderAnthropic, ProviderGemini, ProviderOllama:
	default:
		errs = append(errs, fmt.Errorf("LA_GENERATION_PROVIDER %q is not a known provider", c.Generation.Provider))
	}
	switch c.Embedding.Provider {
	case ProviderOpenAI, ProviderGemini, ProviderOllama:
	default:
		errs = append(errs, fmt.Errorf("LA_EMBEDDING_PROVIDER %q is not a known embedding provider", c.Embedding.Provider))
	}
	if c.Generation.Temperature < 0 || c.Generation.Temperature > 2 {
		errs = append(errs, fmt.Errorf("LA_GENERATION_TEMPERATURE must be within [0, 2], got %v", c.Generation.Temperature))
	}
	if c.Generation.TopP <= 0 || c.Generation.TopP > 1 {
		errs = append(errs, fmt.Errorf("LA_GENERATION_TOP_P must be within (0, 1], got %v", c.Generation.TopP))
	}
	if c.Generation.MaxTokens < 1 {
		errs = append(errs, errors.New("LA_GENERATION_MAX_TOKENS must be positive"))
	}
	if c.Generation.Timeout <= 0 || c.Embedding.Timeout <= 0 || c.Retrieval.SearchTimeout <= 0 {
		errs = append(errs, errors.New("timeouts must be positive"))
	}
	if c.Embedding.Dimensions < 1 {
		errs = append(errs, errors.New("LA_EMBEDDING_DIMENSIONS must be positive"))
	}
	if c.Retrieval.DefaultTopK < 1 || c.Retrieval.DefaultTopK > 20 {
		errs = append(errs, fmt.Errorf("LA_RETRIEVAL_TOP_K must be within [1, 20], got %d", c.Retrieval.DefaultTopK))
	}
	if c.Retrieval.MinEvidence < 1 {
		errs = append(errs, errors.New("LA_RETRIEVAL_MIN_EVIDENCE must be at least 1"))
	}
	switch c.Store.Kind {
	case StoreSQLite, StoreQdrant:
	case StorePostgres:
		if c.Store.PostgresDSN == "" {
			errs = append(errs, errors.New("LA_POSTGRES_DSN is required when LA_VECTOR_STORE is postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("LA_VECTOR_STORE %q is not supported", c.Store.Kind))
	}
	if c.Ingestion.BatchSize < 1 {
		errs = append(errs, errors.New("LA_INGEST_BATCH_SIZE must be at least 1"))
	}
	if c.Ingestion.ChunkOverlap >= c.Ingestion.MaxChunkSize {
		errs = append(errs, errors.New("LA_INGEST_CHUNK_OVERLAP must be smaller than LA_INGEST_MAX_CHUNK_SIZE"))
	}
	return errors.Join(errs...)
}

// Load reads settings from an optional .env file and the environment,
// fills provider-specific model defaults and validates the result.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	cfg.applyModelDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyModelDefaults() {
	if c.Generation.Model == "" {
		c.Generation.Model = DefaultGenerationModel(c.Generation.Provider)
	}
	if c.Embedding.Model == "" {
		c.Embedding.Model = DefaultEmbeddingModel(c.Embedding.Provider)
	}
	if c.Embedding.Dimensions == 0 {
		c.Embedding.Dimensions = DefaultEmbeddingDimensions(c.Embedding.Provider)
	}
}

// DefaultGenerationModel returns the model used when LA_GENERATION_MODEL is unset.
func DefaultGenerationModel(provider string) string {
	switch provider {
	case ProviderOpenAI:
		return "gpt-4"
	case ProviderAnthropic:
		return "claude-3-sonnet-20240229"
	case ProviderGemini:
		return "gemini-1.5-pro"
	case ProviderOllama:
		return "llama3"
	}
	return ""
}

// DefaultEmbeddingModel returns the model used when LA_EMBEDDING_MODEL is unset.
func DefaultEmbeddingModel(provider string) string {
	switch provider {
	case ProviderOpenAI:
		return "text-embedding-3-small"
	case ProviderGemini:
		return "text-embedding-004"
	case ProviderOllama:
		return "nomic-embed-text"
	}
	return ""
}

// DefaultEmbeddingDimensions returns the vector size of the default embedding model.
func DefaultEmbeddingDimensions(provider string) int {
	switch provider {
	case ProviderOpenAI:
		return 1536
	case ProviderGemini, ProviderOllama:
		return 768
	}
	return 0
}
