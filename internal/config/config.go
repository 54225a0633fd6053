// Package config loads the ragd settings.
//
// Settings are read once at startup from a YAML file and RAGD_* environment
// variables, then passed to every constructor. Nothing in ragd reads
// configuration from globals.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/fyrsmithlabs/ragd/internal/errdefs"
)

// Config holds the complete ragd configuration.
type Config struct {
	Server      ServerConfig      `koanf:"server" json:"server"`
	LLM         LLMConfig         `koanf:"llm" json:"llm"`
	Embeddings  EmbeddingsConfig  `koanf:"embeddings" json:"embeddings"`
	VectorStore VectorStoreConfig `koanf:"vectorstore" json:"vectorstore"`
	Chunking    ChunkingConfig    `koanf:"chunking" json:"chunking"`
	Retrieval   RetrievalConfig   `koanf:"retrieval" json:"retrieval"`
	Generation  GenerationConfig  `koanf:"generation" json:"generation"`
	Documents   DocumentsConfig   `koanf:"documents" json:"documents"`
	Logging     LoggingConfig     `koanf:"logging" json:"logging"`
	Telemetry   TelemetryConfig   `koanf:"telemetry" json:"telemetry"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host" json:"host" validate:"required"`
	Port            int      `koanf:"http_port" json:"http_port" validate:"min=1,max=65535"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout" json:"shutdown_timeout" validate:"gt=0"`
	CORSOrigins     []string `koanf:"cors_origins" json:"cors_origins"`
}

// LLMConfig selects the answer-generating model.
type LLMConfig struct {
	Provider       string   `koanf:"provider" json:"provider" validate:"oneof=ollama openai"`
	OpenAIModel    string   `koanf:"openai_model" json:"openai_model"`
	OpenAIAPIKey   Secret   `koanf:"openai_api_key" json:"openai_api_key"`
	OpenAIBaseURL  string   `koanf:"openai_base_url" json:"openai_base_url,omitempty" validate:"omitempty,url"`
	OllamaBaseURL  string   `koanf:"ollama_base_url" json:"ollama_base_url" validate:"omitempty,url"`
	OllamaModel    string   `koanf:"ollama_model" json:"ollama_model"`
	RequestTimeout Duration `koanf:"request_timeout" json:"request_timeout" validate:"gt=0"`
}

// EmbeddingsConfig selects the embedding provider.
type EmbeddingsConfig struct {
	Provider          string  `koanf:"provider" json:"provider" validate:"oneof=ollama openai fastembed"`
	Model             string  `koanf:"model" json:"model"`
	Dimension         int     `koanf:"dimension" json:"dimension" validate:"gte=0"`
	BatchSize         int     `koanf:"batch_size" json:"batch_size" validate:"min=1,max=2048"`
	RequestsPerSecond float64 `koanf:"requests_per_second" json:"requests_per_second" validate:"gte=0"`
	OllamaBaseURL     string  `koanf:"ollama_base_url" json:"ollama_base_url" validate:"omitempty,url"`
	OpenAIAPIKey      Secret  `koanf:"openai_api_key" json:"openai_api_key"`
	OpenAIBaseURL     string  `koanf:"openai_base_url" json:"openai_base_url,omitempty" validate:"omitempty,url"`
	CacheDir          string  `koanf:"cache_dir" json:"cache_dir,omitempty"`
}

// VectorStoreConfig selects and configures the vector index.
type VectorStoreConfig struct {
	Provider     string `koanf:"provider" json:"provider" validate:"oneof=chromem qdrant pgvector"`
	Path         string `koanf:"path" json:"path"`
	Collection   string `koanf:"collection" json:"collection" validate:"required"`
	Compress     bool   `koanf:"compress" json:"compress"`
	QdrantHost   string `koanf:"qdrant_host" json:"qdrant_host"`
	QdrantPort   int    `koanf:"qdrant_port" json:"qdrant_port" validate:"min=1,max=65535"`
	QdrantTLS    bool   `koanf:"qdrant_tls" json:"qdrant_tls"`
	QdrantAPIKey Secret `koanf:"qdrant_api_key" json:"qdrant_api_key"`
	PostgresDSN  Secret `koanf:"postgres_dsn" json:"postgres_dsn"`
}

// ChunkingConfig sizes chunks in characters.
type ChunkingConfig struct {
	ChunkSize    int `koanf:"chunk_size" json:"chunk_size" validate:"min=100,max=4000"`
	ChunkOverlap int `koanf:"chunk_overlap" json:"chunk_overlap" validate:"min=0,max=1000"`
}

// RetrievalConfig holds the similarity search policy.
type RetrievalConfig struct {
	MaxResults          int     `koanf:"max_results" json:"max_results" validate:"min=1,max=20"`
	SimilarityThreshold float64 `koanf:"similarity_threshold" json:"similarity_threshold" validate:"gte=0,lte=1"`
	QueryCacheSize      int     `koanf:"query_cache_size" json:"query_cache_size" validate:"gte=0"`
}

// GenerationConfig holds model call parameters.
type GenerationConfig struct {
	Temperature      float64 `koanf:"temperature" json:"temperature" validate:"gte=0,lte=2"`
	MaxTokens        int     `koanf:"max_tokens" json:"max_tokens" validate:"gt=0"`
	MaxContextTokens int     `koanf:"max_context_tokens" json:"max_context_tokens" validate:"gte=0"`
}

// DocumentsConfig locates the source documents.
type DocumentsConfig struct {
	Path          string   `koanf:"path" json:"path" validate:"required"`
	RedactSecrets bool     `koanf:"redact_secrets" json:"redact_secrets"`
	WatchDebounce Duration `koanf:"watch_debounce" json:"watch_debounce" validate:"gt=0"`
}

// LoggingConfig holds the log level and encoding.
type LoggingConfig struct {
	Level  string `koanf:"level" json:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" json:"format" validate:"oneof=json console"`
}

// TelemetryConfig holds OpenTelemetry export settings.
type TelemetryConfig struct {
	Enabled      bool    `koanf:"enabled" json:"enabled"`
	Endpoint     string  `koanf:"endpoint" json:"endpoint"`
	Protocol     string  `koanf:"protocol" json:"protocol" validate:"oneof=grpc http/protobuf"`
	ServiceName  string  `koanf:"service_name" json:"service_name"`
	Insecure     bool    `koanf:"insecure" json:"insecure"`
	SamplingRate float64 `koanf:"sampling_rate" json:"sampling_rate" validate:"gte=0,lte=1"`
}

// Default returns the configuration used when nothing overrides it.
// Embedding model and dimension are left empty so that applyDefaults can
// pick them per provider.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8000,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		LLM: LLMConfig{
			Provider:       "ollama",
			OpenAIModel:    "gpt-4-turbo-preview",
			OllamaBaseURL:  "http://localhost:11434",
			OllamaModel:    "llama3.2",
			RequestTimeout: Duration(120 * time.Second),
		},
		Embeddings: EmbeddingsConfig{
			Provider:      "ollama",
			BatchSize:     100,
			OllamaBaseURL: "http://localhost:11434",
		},
		VectorStore: VectorStoreConfig{
			Provider:   "chromem",
			Path:       "./data/vectorstore",
			Collection: "documents",
			QdrantHost: "localhost",
			QdrantPort: 6334,
		},
		Chunking: ChunkingConfig{
			ChunkSize:    1000,
			ChunkOverlap: 200,
		},
		Retrieval: RetrievalConfig{
			MaxResults:          5,
			SimilarityThreshold: 0.7,
			QueryCacheSize:      256,
		},
		Generation: GenerationConfig{
			Temperature: 0.7,
			MaxTokens:   1000,
		},
		Documents: DocumentsConfig{
			Path:          "./data/documents",
			RedactSecrets: true,
			WatchDebounce: Duration(2 * time.Second),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			Endpoint:     "localhost:4317",
			Protocol:     "grpc",
			ServiceName:  "ragd",
			Insecure:     true,
			SamplingRate: 1.0,
		},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field ranges and cross-field constraints. Errors wrap
// errdefs.ErrConfiguration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return errdefs.Configuration("%s", strings.Join(msgs, "; "))
		}
		return errdefs.Configuration("%v", err)
	}

	if c.Chunking.ChunkOverlap >= c.Chunking.ChunkSize {
		return errdefs.Configuration("chunking.chunk_overlap (%d) must be less than chunking.chunk_size (%d)",
			c.Chunking.ChunkOverlap, c.Chunking.ChunkSize)
	}
	if c.LLM.Provider == "openai" && !c.LLM.OpenAIAPIKey.IsSet() {
		return errdefs.Configuration("llm.openai_api_key (or OPENAI_API_KEY) is required for the openai provider")
	}
	if c.Embeddings.Provider == "openai" && !c.Embeddings.OpenAIAPIKey.IsSet() {
		return errdefs.Configuration("embeddings.openai_api_key (or OPENAI_API_KEY) is required for the openai provider")
	}
	switch c.VectorStore.Provider {
	case "chromem":
		if c.VectorStore.Path == "" {
			return errdefs.Configuration("vectorstore.path is required for the chromem provider")
		}
	case "pgvector":
		if !c.VectorStore.PostgresDSN.IsSet() {
			return errdefs.Configuration("vectorstore.postgres_dsn is required for the pgvector provider")
		}
		if c.Embeddings.Dimension == 0 {
			return errdefs.Configuration("embeddings.dimension is required for the pgvector provider")
		}
	}
	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return errdefs.Configuration("telemetry.endpoint is required when telemetry is enabled")
	}
	return nil
}
