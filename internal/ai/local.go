package ai

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	lcopenai "github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"gwi.com/chatcore/internal/logging"
)

// LocalSource talks to OpenAI-compatible servers (Ollama, vLLM, llama.cpp)
// that need no API key.
type LocalSource struct {
	llm      *lcopenai.LLM
	embedder embeddings.Embedder
	logger   *zap.Logger
}

// NewLocalSource builds a client for baseURL. Embedding requests always use
// embeddingModel; it may be empty when the source only generates text.
func NewLocalSource(baseURL, model, embeddingModel string, logger *zap.Logger) (*LocalSource, error) {
	opts := []lcopenai.Option{
		lcopenai.WithBaseURL(baseURL),
		lcopenai.WithToken("none"),
	}
	if model != "" {
		opts = append(opts, lcopenai.WithModel(model))
	}
	if embeddingModel != "" {
		opts = append(opts, lcopenai.WithEmbeddingModel(embeddingModel))
	}

	llm, err := lcopenai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create local llm client: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(llm, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, fmt.Errorf("failed to create local embedder: %w", err)
	}

	return &LocalSource{llm: llm, embedder: embedder, logger: logging.OrNop(logger)}, nil
}

func (s *LocalSource) Close() error { return nil }

func (s *LocalSource) Completion(ctx context.Context, prompt string, settings Settings) (*Response, error) {
	return s.ChatCompletion(ctx, []ChatMessage{{Role: BackendUser, Content: prompt}}, settings)
}

func (s *LocalSource) ChatCompletion(ctx context.Context, messages []ChatMessage, settings Settings) (*Response, error) {
	content := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		content = append(content, llms.MessageContent{
			Role:  localRole(m.Role),
			Parts: []llms.ContentPart{llms.TextPart(m.Content)},
		})
	}

	opts := []llms.CallOption{
		llms.WithTemperature(float64(settings.Randomness)),
		llms.WithTopP(float64(settings.TopP)),
		llms.WithFrequencyPenalty(float64(settings.FrequencyPenalty)),
		llms.WithPresencePenalty(float64(settings.PresencePenalty)),
	}
	if settings.Model != "" {
		opts = append(opts, llms.WithModel(settings.Model))
	}

	resp, err := s.llm.GenerateContent(ctx, content, opts...)
	if err != nil {
		s.logger.Error("local chat completion failed", zap.String("model", settings.Model), zap.Error(err))
		return nil, fmt.Errorf("local completion request failed: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Content == "" {
		return nil, ErrEmptyResponse
	}

	out := &Response{Text: resp.Choices[0].Content}
	if info := resp.Choices[0].GenerationInfo; info != nil {
		out.InputTokensUsed = intFromInfo(info, "PromptTokens")
		out.OutputTokensUsed = intFromInfo(info, "CompletionTokens")
	}
	return out, nil
}

func (s *LocalSource) CreateEmbeddings(ctx context.Context, texts []string, _ Settings) ([][]float32, error) {
	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		s.logger.Error("local embedding request failed", zap.Int("count", len(texts)), zap.Error(err))
		return nil, fmt.Errorf("local embedding request failed: %w", err)
	}
	return vectors, nil
}

func localRole(role BackendRole) llms.ChatMessageType {
	switch role {
	case BackendAssistant:
		return llms.ChatMessageTypeAI
	case BackendSystem:
		return llms.ChatMessageTypeSystem
	default:
		return llms.ChatMessageTypeHuman
	}
}

func intFromInfo(info map[string]any, key string) int {
	switch v := info[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
