// Package config handles configuration loading for portiq.
// It supports YAML config files, an optional .env file, and environment
// variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the complete application configuration.
type Config struct {
	LLM       LLMConfig       `mapstructure:"llm"       yaml:"llm"`
	Embedding EmbeddingConfig `mapstructure:"embedding" yaml:"embedding"`
	Retrieval RetrievalConfig `mapstructure:"retrieval" yaml:"retrieval"`
	Analysis  AnalysisConfig  `mapstructure:"analysis"  yaml:"analysis"`
	Ingest    IngestConfig    `mapstructure:"ingest"    yaml:"ingest"`
	API       APIConfig       `mapstructure:"api"       yaml:"api"`
	Logging   LoggingConfig   `mapstructure:"logging"   yaml:"logging"`
	Tracing   TracingConfig   `mapstructure:"tracing"   yaml:"tracing"`
}

// LLMConfig selects and configures the structured-completion transport.
type LLMConfig struct {
	Provider          string        `mapstructure:"provider"            yaml:"provider"            validate:"oneof=openai eino"`
	APIKey            string        `mapstructure:"api_key"             yaml:"api_key"`
	BaseURL           string        `mapstructure:"base_url"            yaml:"base_url"`
	Model             string        `mapstructure:"model"               yaml:"model"               validate:"required"`
	Timeout           time.Duration `mapstructure:"timeout"             yaml:"timeout"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute" yaml:"requests_per_minute" validate:"gte=0"` // 0 disables limiting
	Burst             int           `mapstructure:"burst"               yaml:"burst"               validate:"gte=0"`
}

// EmbeddingConfig configures query and ingestion embeddings.
type EmbeddingConfig struct {
	Model      string `mapstructure:"model"      yaml:"model"      validate:"required"`
	Dimensions int    `mapstructure:"dimensions" yaml:"dimensions" validate:"gte=0"`
}

// RetrievalConfig configures the vector store backend.
type RetrievalConfig struct {
	Backend      string        `mapstructure:"backend"        yaml:"backend"        validate:"oneof=qdrant pgvector"`
	QdrantURL    string        `mapstructure:"qdrant_url"     yaml:"qdrant_url"`
	QdrantAPIKey string        `mapstructure:"qdrant_api_key" yaml:"qdrant_api_key"`
	Collection   string        `mapstructure:"collection"     yaml:"collection"`
	VectorName   string        `mapstructure:"vector_name"    yaml:"vector_name"` // named vector; empty for the default vector
	Timeout      time.Duration `mapstructure:"timeout"        yaml:"timeout"`
	PostgresDSN  string        `mapstructure:"postgres_dsn"   yaml:"postgres_dsn"`
	Table        string        `mapstructure:"table"          yaml:"table"`
}

// AnalysisConfig holds retrieval limits, inference parameters and table paths.
type AnalysisConfig struct {
	DocumentSearchLimit       int     `mapstructure:"document_search_limit"        yaml:"document_search_limit"        validate:"gte=1"`
	NewsSearchLimit           int     `mapstructure:"news_search_limit"            yaml:"news_search_limit"            validate:"gte=1"`
	MaxContextChars           int     `mapstructure:"max_context_chars"            yaml:"max_context_chars"            validate:"gte=1"`
	Temperature               float64 `mapstructure:"temperature"                  yaml:"temperature"                  validate:"gte=0,lte=2"`
	TickerExtractionMaxTokens int     `mapstructure:"ticker_extraction_max_tokens" yaml:"ticker_extraction_max_tokens" validate:"gte=1"`
	QueriesPath               string  `mapstructure:"queries_path"                 yaml:"queries_path"`         // empty uses the built-in table
	TickerMappingsPath        string  `mapstructure:"ticker_mappings_path"         yaml:"ticker_mappings_path"` // empty uses the built-in table
	PromptsDir                string  `mapstructure:"prompts_dir"                  yaml:"prompts_dir"`          // overrides built-in templates by file name
}

// IngestConfig configures news and filing ingestion.
type IngestConfig struct {
	FeedURL         string        `mapstructure:"feed_url"          yaml:"feed_url"` // %s is replaced by the ticker
	MaxStories      int           `mapstructure:"max_stories"       yaml:"max_stories"`
	ChunkChars      int           `mapstructure:"chunk_chars"       yaml:"chunk_chars"`
	Timeout         time.Duration `mapstructure:"timeout"           yaml:"timeout"`
	SECDataURL      string        `mapstructure:"sec_data_url"      yaml:"sec_data_url"`
	SECArchiveURL   string        `mapstructure:"sec_archive_url"   yaml:"sec_archive_url"`
	SECUserAgent    string        `mapstructure:"sec_user_agent"    yaml:"sec_user_agent"` // EDGAR requires a contact
	MaxFilingChunks int           `mapstructure:"max_filing_chunks" yaml:"max_filing_chunks"`
}

// APIConfig holds HTTP API server settings.
type APIConfig struct {
	Host           string        `mapstructure:"host"            yaml:"host"`
	Port           int           `mapstructure:"port"            yaml:"port" validate:"gte=1,lte=65535"`
	CORSOrigins    []string      `mapstructure:"cors_origins"    yaml:"cors_origins"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `mapstructure:"format" yaml:"format"` // "text" or "json"
	File   string `mapstructure:"file"   yaml:"file"`   // optional; logs are also written to stderr
}

// TracingConfig toggles OpenTelemetry span export.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"      yaml:"enabled"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
}

// Load reads the configuration from file and environment variables.
// Config file search order:
//  1. ./config/config.yaml (project root)
//  2. ~/.portiq/config.yaml (home directory)
//  3. /etc/portiq/config.yaml (system)
//
// A .env file in the working directory is loaded first if present.
// Environment variables override config file values.
// Format: PORTIQ_<SECTION>_<KEY>, e.g., PORTIQ_RETRIEVAL_QDRANT_URL
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := newViper()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(filepath.Join(homeDir(), ".portiq"))
	v.AddConfigPath("/etc/portiq")

	// Read config file (not required to exist)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	return decode(v)
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	_ = godotenv.Load()

	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	return decode(v)
}

// Default returns the configuration built from defaults only.
func Default() *Config {
	cfg, err := decode(newViper())
	if err != nil {
		// Defaults are static; failing to decode them is a programming error.
		panic(err)
	}
	return cfg
}

// Validate checks field constraints and backend-specific requirements.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	switch c.Retrieval.Backend {
	case "qdrant":
		if c.Retrieval.QdrantURL == "" || c.Retrieval.Collection == "" {
			return errors.New("invalid config: retrieval.qdrant_url and retrieval.collection are required for qdrant")
		}
	case "pgvector":
		if c.Retrieval.PostgresDSN == "" || c.Retrieval.Table == "" {
			return errors.New("invalid config: retrieval.postgres_dsn and retrieval.table are required for pgvector")
		}
	}
	return nil
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("PORTIQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	overrideFromEnv(&cfg)
	return &cfg, nil
}

// setDefaults sets sensible defaults for all config values.
func setDefaults(v *viper.Viper) {
	// LLM defaults
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.timeout", 120*time.Second)
	v.SetDefault("llm.requests_per_minute", 0)
	v.SetDefault("llm.burst", 4)

	// Embedding defaults
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.dimensions", 0)

	// Retrieval defaults
	v.SetDefault("retrieval.backend", "qdrant")
	v.SetDefault("retrieval.qdrant_url", "http://localhost:6333")
	v.SetDefault("retrieval.collection", "documents")
	v.SetDefault("retrieval.vector_name", "dense")
	v.SetDefault("retrieval.timeout", 60*time.Second)
	v.SetDefault("retrieval.table", "documents")

	// Analysis defaults
	v.SetDefault("analysis.document_search_limit", 3)
	v.SetDefault("analysis.news_search_limit", 3)
	v.SetDefault("analysis.max_context_chars", 15000)
	v.SetDefault("analysis.temperature", 0.0)
	v.SetDefault("analysis.ticker_extraction_max_tokens", 50)

	// Ingest defaults
	v.SetDefault("ingest.feed_url", "https://feeds.finance.yahoo.com/rss/2.0/headline?s=%s&region=US&lang=en-US")
	v.SetDefault("ingest.max_stories", 10)
	v.SetDefault("ingest.chunk_chars", 1500)
	v.SetDefault("ingest.timeout", 30*time.Second)
	v.SetDefault("ingest.sec_data_url", "https://data.sec.gov")
	v.SetDefault("ingest.sec_archive_url", "https://www.sec.gov")
	v.SetDefault("ingest.sec_user_agent", "portiq/1.0 (github.com/seenimoa/portiq)")
	v.SetDefault("ingest.max_filing_chunks", 300)

	// API defaults
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8000)
	v.SetDefault("api.cors_origins", []string{"http://localhost:3000"})
	v.SetDefault("api.request_timeout", 5*time.Minute)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	// Tracing defaults
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "portiq")
}

// overrideFromEnv explicitly reads sensitive keys from environment variables.
// The unprefixed provider variables are honoured so an existing .env works as is.
func overrideFromEnv(cfg *Config) {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = key
	}
	if key := os.Getenv("PORTIQ_LLM_API_KEY"); key != "" {
		cfg.LLM.APIKey = key
	}
	if key := os.Getenv("QDRANT_API_KEY"); key != "" && cfg.Retrieval.QdrantAPIKey == "" {
		cfg.Retrieval.QdrantAPIKey = key
	}
	if key := os.Getenv("PORTIQ_RETRIEVAL_QDRANT_API_KEY"); key != "" {
		cfg.Retrieval.QdrantAPIKey = key
	}
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" && cfg.Retrieval.PostgresDSN == "" {
		cfg.Retrieval.PostgresDSN = dsn
	}
}

// homeDir returns the user's home directory.
func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
