package generator

import (
	"net/http"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/fyrsmithlabs/ragd/internal/errdefs"
)

// ModelConfig selects the language model backend.
type ModelConfig struct {
	// Provider is "ollama" or "openai".
	Provider string

	OpenAIModel   string
	OpenAIAPIKey  string
	OpenAIBaseURL string

	OllamaBaseURL string
	OllamaModel   string

	// RequestTimeout bounds a whole generation request, including streaming.
	RequestTimeout time.Duration
}

// Name returns the model name for the selected provider.
func (c ModelConfig) Name() string {
	if c.Provider == "openai" {
		return c.OpenAIModel
	}
	return c.OllamaModel
}

// NewModel builds the configured langchaingo model.
func NewModel(cfg ModelConfig) (llms.Model, error) {
	client := &http.Client{Timeout: cfg.RequestTimeout}

	switch cfg.Provider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, errdefs.Configuration("openai llm requires an API key (llm.openai_api_key or OPENAI_API_KEY)")
		}
		opts := []openai.Option{
			openai.WithToken(cfg.OpenAIAPIKey),
			openai.WithModel(cfg.OpenAIModel),
			openai.WithHTTPClient(client),
		}
		if cfg.OpenAIBaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.OpenAIBaseURL))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, errdefs.Configuration("openai llm: %v", err)
		}
		return llm, nil

	case "ollama", "":
		llm, err := ollama.New(
			ollama.WithServerURL(cfg.OllamaBaseURL),
			ollama.WithModel(cfg.OllamaModel),
			ollama.WithHTTPClient(client),
		)
		if err != nil {
			return nil, errdefs.Configuration("ollama llm: %v", err)
		}
		return llm, nil

	default:
		return nil, errdefs.Configuration("unsupported llm provider %q (supported: ollama, openai)", cfg.Provider)
	}
}
