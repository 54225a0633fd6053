package generator

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// fallbackEncoding is used for models tiktoken does not know, such as
// Ollama models.
const fallbackEncoding = "cl100k_base"

// TokenCounter counts and trims text by model tokens. When no BPE encoding
// can be loaded it estimates four characters per token.
type TokenCounter struct {
	model string
	once  sync.Once
	enc   *tiktoken.Tiktoken
}

// NewTokenCounter returns a counter for model. The encoding is loaded on first use.
func NewTokenCounter(model string) *TokenCounter {
	return &TokenCounter{model: model}
}

func (c *TokenCounter) encoding() *tiktoken.Tiktoken {
	c.once.Do(func() {
		enc, err := tiktoken.EncodingForModel(c.model)
		if err != nil {
			enc, err = tiktoken.GetEncoding(fallbackEncoding)
		}
		if err == nil {
			c.enc = enc
		}
	})
	return c.enc
}

// Count returns the number of tokens in s.
func (c *TokenCounter) Count(s string) int {
	if enc := c.encoding(); enc != nil {
		return len(enc.Encode(s, nil, nil))
	}
	return EstimateTokens(s)
}

// Truncate returns the longest prefix of s with at most n tokens.
func (c *TokenCounter) Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if enc := c.encoding(); enc != nil {
		tokens := enc.Encode(s, nil, nil)
		if len(tokens) <= n {
			return s
		}
		return enc.Decode(tokens[:n])
	}
	runes := []rune(s)
	if len(runes) <= n*4 {
		return s
	}
	return string(runes[:n*4])
}

// EstimateTokens approximates a token count at four characters per token.
func EstimateTokens(s string) int {
	return (len([]rune(s)) + 3) / 4
}
