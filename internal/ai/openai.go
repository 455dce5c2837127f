package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"gwi.com/chatcore/internal/logging"
)

const defaultOpenAIEmbeddingModel = string(openai.SmallEmbedding3)

// OpenAISource serves both OpenAI and Azure OpenAI; they differ only in
// client configuration.
type OpenAISource struct {
	client *openai.Client
	name   string
	logger *zap.Logger
}

func NewOpenAISource(apiKey string, logger *zap.Logger) *OpenAISource {
	return NewOpenAISourceWithConfig("openai", openai.DefaultConfig(apiKey), logger)
}

// NewAzureOpenAISource routes every request to deploymentID regardless of
// the model name in the settings.
func NewAzureOpenAISource(apiKey, endpoint, deploymentID string, logger *zap.Logger) *OpenAISource {
	cfg := openai.DefaultAzureConfig(apiKey, endpoint)
	cfg.AzureModelMapperFunc = func(string) string { return deploymentID }
	return NewOpenAISourceWithConfig("azure-openai", cfg, logger)
}

func NewOpenAISourceWithConfig(name string, cfg openai.ClientConfig, logger *zap.Logger) *OpenAISource {
	return &OpenAISource{
		client: openai.NewClientWithConfig(cfg),
		name:   name,
		logger: logging.OrNop(logger),
	}
}

func (s *OpenAISource) Close() error { return nil }

func (s *OpenAISource) Completion(ctx context.Context, prompt string, settings Settings) (*Response, error) {
	return s.ChatCompletion(ctx, []ChatMessage{{Role: BackendUser, Content: prompt}}, settings)
}

func (s *OpenAISource) ChatCompletion(ctx context.Context, messages []ChatMessage, settings Settings) (*Response, error) {
	req := openai.ChatCompletionRequest{
		Model:            settings.Model,
		Messages:         make([]openai.ChatCompletionMessage, 0, len(messages)),
		Temperature:      settings.Randomness,
		TopP:             settings.TopP,
		FrequencyPenalty: settings.FrequencyPenalty,
		PresencePenalty:  settings.PresencePenalty,
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: openAIRole(m.Role), Content: m.Content})
	}

	resp, err := s.client.CreateChatCompletion(ctx, req)
	if err != nil {
		s.logger.Error("chat completion failed", zap.String("source", s.name), zap.String("model", settings.Model), zap.Error(err))
		return nil, classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, ErrEmptyResponse
	}

	s.logger.Debug("received chat completion",
		zap.String("source", s.name),
		zap.String("finishReason", string(resp.Choices[0].FinishReason)))
	return &Response{
		Text:             resp.Choices[0].Message.Content,
		InputTokensUsed:  resp.Usage.PromptTokens,
		OutputTokensUsed: resp.Usage.TotalTokens - resp.Usage.PromptTokens,
	}, nil
}

func (s *OpenAISource) CreateEmbeddings(ctx context.Context, texts []string, settings Settings) ([][]float32, error) {
	model := settings.Model
	if model == "" {
		model = defaultOpenAIEmbeddingModel
	}
	resp, err := s.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: texts,
		Model: openai.EmbeddingModel(model),
	})
	if err != nil {
		s.logger.Error("embedding request failed", zap.String("source", s.name), zap.Error(err))
		return nil, classifyOpenAIError(err)
	}

	vectors := make([][]float32, 0, len(resp.Data))
	for _, d := range resp.Data {
		vectors = append(vectors, d.Embedding)
	}
	return vectors, nil
}

func openAIRole(role BackendRole) string {
	switch role {
	case BackendAssistant:
		return openai.ChatMessageRoleAssistant
	case BackendSystem:
		return openai.ChatMessageRoleSystem
	default:
		return openai.ChatMessageRoleUser
	}
}

func classifyOpenAIError(err error) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %v", ErrAuthentication, err)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %v", ErrModelNotFound, err)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	default:
		return fmt.Errorf("openai request failed: %w", err)
	}
}
