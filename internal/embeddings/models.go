package embeddings

// knownDimensions lists the vector length of commonly used embedding models.
var knownDimensions = map[string]int{
	// Ollama
	"nomic-embed-text":       768,
	"mxbai-embed-large":      1024,
	"all-minilm":             384,
	"snowflake-arctic-embed": 1024,
	// OpenAI
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// fastEmbedDimensions covers the models FastEmbedProvider can load.
var fastEmbedDimensions = map[string]int{
	"BAAI/bge-small-en-v1.5":                 384,
	"BAAI/bge-small-en":                      384,
	"BAAI/bge-base-en-v1.5":                  768,
	"BAAI/bge-base-en":                       768,
	"BAAI/bge-small-zh-v1.5":                 512,
	"sentence-transformers/all-MiniLM-L6-v2": 384,
}

// FastEmbedDimension returns the vector length of a FastEmbed model.
func FastEmbedDimension(model string) (int, bool) {
	dim, ok := fastEmbedDimensions[model]
	return dim, ok
}

// KnownDimension returns the vector length of a well-known model.
func KnownDimension(model string) (int, bool) {
	if dim, ok := knownDimensions[model]; ok {
		return dim, true
	}
	return FastEmbedDimension(model)
}

// DefaultModel returns the default model for a provider.
func DefaultModel(provider string) string {
	switch provider {
	case "openai":
		return "text-embedding-3-small"
	case "fastembed":
		return "BAAI/bge-small-en-v1.5"
	default:
		return "nomic-embed-text"
	}
}
