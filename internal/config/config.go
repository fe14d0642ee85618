// Package config provides application configuration with multi-source priority.
//
// Sources, highest to lowest:
//  1. Environment variables (BUILDMASTER_* and DATABASE_URL)
//  2. Config file (~/.buildmaster/config.yaml or ./config.yaml)
//  3. Defaults
//
// Validation runs at load time and fails fast with sentinel errors that
// callers can check via errors.Is().
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/viper"
)

// Sentinel errors for configuration validation.
var (
	ErrConfigNil            = errors.New("configuration is nil")
	ErrInvalidProvider      = errors.New("invalid provider")
	ErrInvalidModelName     = errors.New("invalid model name")
	ErrInvalidDimension     = errors.New("invalid embedding dimension")
	ErrInvalidCollection    = errors.New("invalid collection name")
	ErrInvalidMetric        = errors.New("invalid distance metric")
	ErrInvalidTopK          = errors.New("invalid topK")
	ErrInvalidPostgresHost  = errors.New("invalid PostgreSQL host")
	ErrInvalidPostgresPort  = errors.New("invalid PostgreSQL port")
	ErrInvalidOllamaHost    = errors.New("invalid Ollama host")
	ErrInvalidListenAddress = errors.New("invalid listen address")
)

// LLM provider identifiers used in Config.Provider.
const (
	ProviderOllama = "ollama"
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// EmbedderHash selects the deterministic hash embedder instead of a model
// provider. It has no semantic locality and exists for offline use and tests.
const EmbedderHash = "hash"

// Distance metrics supported by the vector index.
const (
	MetricL2     = "l2"
	MetricCosine = "cosine"
)

// collectionNameRe restricts collection names to safe SQL identifiers.
var collectionNameRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Config stores application configuration.
type Config struct {
	// LLM provider and model
	Provider    string  `mapstructure:"provider"`
	ModelName   string  `mapstructure:"model_name"`
	Temperature float32 `mapstructure:"temperature"`
	OllamaHost  string  `mapstructure:"ollama_host"`

	// Embedding
	EmbedderProvider   string `mapstructure:"embedder_provider"` // provider name or "hash"
	EmbedderModel      string `mapstructure:"embedder_model"`
	EmbeddingDimension int    `mapstructure:"embedding_dimension"`

	// Vector index
	CollectionName string `mapstructure:"collection_name"`
	DistanceMetric string `mapstructure:"distance_metric"`

	// Chat behavior
	DefaultTopK   int `mapstructure:"default_top_k"`
	RecommendTopK int `mapstructure:"recommend_top_k"`
	HistoryWindow int `mapstructure:"history_window"`

	// Backlog vectorizer
	VectorizerLockPath string `mapstructure:"vectorizer_lock_path"`

	// Storage (see storage.go)
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"`
	PostgresDBName   string `mapstructure:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode"`

	// HTTP API
	ListenAddress string `mapstructure:"listen_address"`

	// Observability
	Trace TraceConfig `mapstructure:"trace"`
}

// TraceConfig configures OTLP trace export.
type TraceConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Endpoint    string `mapstructure:"endpoint"` // OTLP HTTP endpoint, host:port
	ServiceName string `mapstructure:"service_name"`
	Environment string `mapstructure:"environment"`
}

// Load loads configuration from defaults, config file, and environment.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}
	configDir := filepath.Join(home, ".buildmaster")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v)

	v.SetEnvPrefix("BUILDMASTER")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("config file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL overrides individual postgres_* settings when present.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("provider", ProviderOllama)
	v.SetDefault("model_name", "llama3.1")
	v.SetDefault("temperature", 0.7)
	v.SetDefault("ollama_host", "http://localhost:11434")

	v.SetDefault("embedder_provider", ProviderOllama)
	v.SetDefault("embedder_model", "nomic-embed-text")
	v.SetDefault("embedding_dimension", 768)

	v.SetDefault("collection_name", "component_knowledge")
	v.SetDefault("distance_metric", MetricL2)

	v.SetDefault("default_top_k", 5)
	v.SetDefault("recommend_top_k", 10)
	v.SetDefault("history_window", 10)

	v.SetDefault("vectorizer_lock_path", filepath.Join(os.TempDir(), "buildmaster-vectorizer.lock"))

	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "buildmaster")
	v.SetDefault("postgres_password", "buildmaster_dev_password")
	v.SetDefault("postgres_db_name", "buildmaster")
	v.SetDefault("postgres_ssl_mode", "disable")

	v.SetDefault("listen_address", ":8080")

	v.SetDefault("trace.enabled", false)
	v.SetDefault("trace.endpoint", "localhost:4318")
	v.SetDefault("trace.service_name", "buildmaster-ai")
	v.SetDefault("trace.environment", "dev")
}

// Validate checks the configuration for fatal misconfigurations.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	switch c.Provider {
	case ProviderOllama, ProviderGemini, ProviderOpenAI:
	default:
		return fmt.Errorf("%w: %q (must be ollama, gemini or openai)", ErrInvalidProvider, c.Provider)
	}

	if c.ModelName == "" {
		return fmt.Errorf("%w: empty", ErrInvalidModelName)
	}

	switch c.EmbedderProvider {
	case ProviderOllama, ProviderGemini, ProviderOpenAI, EmbedderHash:
	default:
		return fmt.Errorf("%w: embedder provider %q", ErrInvalidProvider, c.EmbedderProvider)
	}
	if c.EmbedderProvider != EmbedderHash && c.EmbedderModel == "" {
		return fmt.Errorf("%w: empty embedder model", ErrInvalidModelName)
	}

	if c.EmbeddingDimension <= 0 {
		return fmt.Errorf("%w: %d (must be positive)", ErrInvalidDimension, c.EmbeddingDimension)
	}

	if !collectionNameRe.MatchString(c.CollectionName) {
		return fmt.Errorf("%w: %q", ErrInvalidCollection, c.CollectionName)
	}

	switch c.DistanceMetric {
	case MetricL2, MetricCosine:
	default:
		return fmt.Errorf("%w: %q (must be l2 or cosine)", ErrInvalidMetric, c.DistanceMetric)
	}

	if c.DefaultTopK < 1 || c.RecommendTopK < 1 {
		return fmt.Errorf("%w: default=%d recommend=%d", ErrInvalidTopK, c.DefaultTopK, c.RecommendTopK)
	}

	if c.Provider == ProviderOllama && c.OllamaHost == "" {
		return fmt.Errorf("%w: empty", ErrInvalidOllamaHost)
	}

	if c.PostgresHost == "" {
		return fmt.Errorf("%w: empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPostgresPort, c.PostgresPort)
	}

	if c.ListenAddress == "" {
		return fmt.Errorf("%w: empty", ErrInvalidListenAddress)
	}

	return nil
}

// FullModelName returns the provider-qualified model name Genkit expects,
// e.g. "ollama/llama3.1" or "googleai/gemini-2.5-flash". A name that
// already contains a "/" is returned unchanged.
func (c *Config) FullModelName() string {
	if strings.Contains(c.ModelName, "/") {
		return c.ModelName
	}
	switch c.Provider {
	case ProviderOpenAI:
		return ProviderOpenAI + "/" + c.ModelName
	case ProviderGemini:
		return "googleai/" + c.ModelName
	default:
		return ProviderOllama + "/" + c.ModelName
	}
}
