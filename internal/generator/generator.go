// Package generator asks a language model to answer a question from
// retrieved context.
//
// Generator builds the prompt (system instruction, context, history,
// question), enforces the optional context token budget and classifies
// provider failures as errdefs.ProviderError. Models are langchaingo
// llms.Model values, so any provider langchaingo supports can be plugged in;
// NewModel builds the OpenAI and Ollama ones from configuration.
package generator

import (
	"context"
	"errors"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/document"
	"github.com/fyrsmithlabs/ragd/internal/errdefs"
	"github.com/fyrsmithlabs/ragd/internal/retriever"
)

var tracer = otel.Tracer("ragd.generator")

var (
	// ErrInvalidHistory is returned for a conversation turn with an unknown role.
	ErrInvalidHistory = errors.New("invalid conversation history")

	// ErrEmptyResponse is returned when the model produced no choices.
	ErrEmptyResponse = errors.New("model returned no choices")
)

// Counter counts and trims text in model tokens.
type Counter interface {
	Count(s string) int
	Truncate(s string, n int) string
}

// Config holds the generation parameters.
type Config struct {
	// Provider names the model backend in errors and logs.
	Provider string
	// Model is the model name, used to pick a token encoding.
	Model       string
	Temperature float64
	MaxTokens   int
	// MaxContextTokens caps the context sent to the model. Zero disables the cap.
	MaxContextTokens int
}

// Option configures a Generator.
type Option func(*Generator)

// WithCounter replaces the tiktoken-backed token counter.
func WithCounter(c Counter) Option {
	return func(g *Generator) { g.counter = c }
}

// Generator produces answers with a language model.
type Generator struct {
	model   llms.Model
	config  Config
	counter Counter
	logger  *zap.Logger
}

// New creates a Generator.
func New(model llms.Model, cfg Config, logger *zap.Logger, opts ...Option) (*Generator, error) {
	if model == nil {
		return nil, errdefs.Configuration("generator requires a model")
	}
	if cfg.Temperature < 0 || cfg.Temperature > 2 {
		return nil, errdefs.Configuration("generation.temperature must be in [0, 2], got %g", cfg.Temperature)
	}
	if cfg.MaxTokens <= 0 {
		return nil, errdefs.Configuration("generation.max_tokens must be positive, got %d", cfg.MaxTokens)
	}
	if cfg.MaxContextTokens < 0 {
		return nil, errdefs.Configuration("generation.max_context_tokens must not be negative")
	}
	if cfg.Provider == "" {
		cfg.Provider = "llm"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	g := &Generator{model: model, config: cfg, logger: logger}
	for _, opt := range opts {
		opt(g)
	}
	if g.counter == nil {
		g.counter = NewTokenCounter(cfg.Model)
	}
	return g, nil
}

// Config returns the generation parameters.
func (g *Generator) Config() Config {
	return g.config
}

func (g *Generator) callOptions(extra ...llms.CallOption) []llms.CallOption {
	opts := []llms.CallOption{
		llms.WithTemperature(g.config.Temperature),
		llms.WithMaxTokens(g.config.MaxTokens),
	}
	return append(opts, extra...)
}

// prepare applies the context budget and builds the prompt. It returns nil
// messages when there is no context to answer from.
func (g *Generator) prepare(question, ctxText string, history []Turn) ([]llms.MessageContent, error) {
	if strings.TrimSpace(question) == "" {
		return nil, retriever.ErrEmptyQuestion
	}
	if strings.TrimSpace(ctxText) == "" {
		return nil, nil
	}
	if budget := g.config.MaxContextTokens; budget > 0 {
		if n := g.counter.Count(ctxText); n > budget {
			g.logger.Warn("context exceeds token budget, truncating",
				zap.Int("tokens", n),
				zap.Int("budget", budget),
			)
			ctxText = g.counter.Truncate(ctxText, budget)
		}
	}
	return BuildMessages(question, ctxText, history)
}

// Generate answers question from ctxText. Empty context yields
// NotFoundAnswer without a model call. An answer cut short by MaxTokens is
// still returned.
func (g *Generator) Generate(ctx context.Context, question, ctxText string, history []Turn) (string, error) {
	ctx, span := tracer.Start(ctx, "Generator.Generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("provider", g.config.Provider),
		attribute.Int("history_turns", len(history)),
	)

	messages, err := g.prepare(question, ctxText, history)
	if err != nil {
		return "", err
	}
	if messages == nil {
		span.SetAttributes(attribute.Bool("empty_context", true))
		return NotFoundAnswer, nil
	}

	resp, err := g.model.GenerateContent(ctx, messages, g.callOptions()...)
	if err != nil {
		err = errdefs.Provider(g.config.Provider, "generate", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	if len(resp.Choices) == 0 {
		err := errdefs.Provider(g.config.Provider, "generate", ErrEmptyResponse)
		span.RecordError(err)
		return "", err
	}

	choice := resp.Choices[0]
	g.checkStopReason(choice.StopReason)
	span.SetAttributes(attribute.Int("answer_length", len(choice.Content)))
	return choice.Content, nil
}

// GenerateFromDocuments formats chunks as context and calls Generate.
// With a token budget, trailing chunks that do not fit are dropped.
func (g *Generator) GenerateFromDocuments(ctx context.Context, question string, chunks []document.Chunk, history []Turn) (string, error) {
	return g.Generate(ctx, question, retriever.FormatContext(g.fitChunks(chunks)), history)
}

// fitChunks keeps the leading chunks whose formatted context fits the
// budget. The first chunk is always kept; Generate truncates it if needed.
func (g *Generator) fitChunks(chunks []document.Chunk) []document.Chunk {
	budget := g.config.MaxContextTokens
	if budget <= 0 || len(chunks) <= 1 {
		return chunks
	}
	for n := len(chunks); n > 1; n-- {
		if g.counter.Count(retriever.FormatContext(chunks[:n])) <= budget {
			if n < len(chunks) {
				g.logger.Debug("dropped chunks over token budget",
					zap.Int("kept", n),
					zap.Int("dropped", len(chunks)-n),
				)
			}
			return chunks[:n]
		}
	}
	return chunks[:1]
}

func (g *Generator) checkStopReason(reason string) {
	switch strings.ToLower(reason) {
	case "length", "max_tokens":
		g.logger.Warn("answer truncated at max_tokens",
			zap.String("provider", g.config.Provider),
			zap.Int("max_tokens", g.config.MaxTokens),
		)
	}
}

// StreamGenerate is Generate delivered as fragments. The concatenated
// fragments equal the single-shot answer for a deterministic model. The
// caller must Close the stream.
func (g *Generator) StreamGenerate(ctx context.Context, question, ctxText string, history []Turn) (*Stream, error) {
	messages, err := g.prepare(question, ctxText, history)
	if err != nil {
		return nil, err
	}
	if messages == nil {
		return staticStream(NotFoundAnswer), nil
	}
	return g.startStream(ctx, messages), nil
}

func (g *Generator) startStream(parent context.Context, messages []llms.MessageContent) *Stream {
	ctx, cancel := context.WithCancel(parent)
	s := &Stream{fragments: make(chan string), cancel: cancel}

	go func() {
		defer close(s.fragments)
		ctx, span := tracer.Start(ctx, "Generator.StreamGenerate")
		defer span.End()

		streamed := false
		onChunk := func(ctx context.Context, chunk []byte) error {
			if len(chunk) == 0 {
				return nil
			}
			select {
			case s.fragments <- string(chunk):
				streamed = true
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		resp, err := g.model.GenerateContent(ctx, messages, g.callOptions(llms.WithStreamingFunc(onChunk))...)
		if ctxErr := ctx.Err(); ctxErr != nil {
			s.err = ctxErr
			return
		}
		if err != nil {
			s.err = errdefs.Provider(g.config.Provider, "stream", err)
			span.RecordError(s.err)
			span.SetStatus(codes.Error, s.err.Error())
			return
		}
		if len(resp.Choices) == 0 {
			s.err = errdefs.Provider(g.config.Provider, "stream", ErrEmptyResponse)
			return
		}
		g.checkStopReason(resp.Choices[0].StopReason)

		// Some backends ignore the streaming callback; deliver the whole answer.
		if !streamed && resp.Choices[0].Content != "" {
			select {
			case s.fragments <- resp.Choices[0].Content:
			case <-ctx.Done():
				s.err = ctx.Err()
			}
		}
	}()

	return s
}
