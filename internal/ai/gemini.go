package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"gwi.com/chatcore/internal/logging"
)

const defaultGeminiEmbeddingModel = "text-embedding-004"

type GeminiSource struct {
	client *genai.Client
	logger *zap.Logger
}

func NewGeminiSource(ctx context.Context, apiKey string, logger *zap.Logger) (*GeminiSource, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiSource{client: client, logger: logging.OrNop(logger)}, nil
}

func (s *GeminiSource) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *GeminiSource) model(settings Settings) *genai.GenerativeModel {
	model := s.client.GenerativeModel(settings.Model)
	model.SetTemperature(settings.Randomness)
	model.SetTopP(settings.TopP)
	return model
}

func (s *GeminiSource) Completion(ctx context.Context, prompt string, settings Settings) (*Response, error) {
	resp, err := s.model(settings).GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return nil, fmt.Errorf("gemini completion request failed: %w", err)
	}
	return s.processResult(resp)
}

func (s *GeminiSource) ChatCompletion(ctx context.Context, messages []ChatMessage, settings Settings) (*Response, error) {
	system, history, err := toGeminiHistory(messages)
	if err != nil {
		return nil, err
	}

	model := s.model(settings)
	if system != nil {
		model.SystemInstruction = system
	}

	last := history[len(history)-1]
	chatSession := model.StartChat()
	chatSession.History = history[:len(history)-1]

	resp, err := chatSession.SendMessage(ctx, last.Parts...)
	if err != nil {
		return nil, fmt.Errorf("gemini chat SendMessage failed: %w", err)
	}
	return s.processResult(resp)
}

func (s *GeminiSource) CreateEmbeddings(ctx context.Context, texts []string, settings Settings) ([][]float32, error) {
	name := settings.Model
	if name == "" {
		name = defaultGeminiEmbeddingModel
	}
	em := s.client.EmbeddingModel(name)
	batch := em.NewBatch()
	for _, text := range texts {
		batch.AddContent(genai.Text(text))
	}

	res, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("gemini embedding request failed: %w", err)
	}

	vectors := make([][]float32, 0, len(res.Embeddings))
	for _, e := range res.Embeddings {
		if e == nil || len(e.Values) == 0 {
			continue
		}
		vectors = append(vectors, e.Values)
	}
	return vectors, nil
}

func (s *GeminiSource) processResult(resp *genai.GenerateContentResponse) (*Response, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, ErrEmptyResponse
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			text.WriteString(string(txt))
		} else {
			s.logger.Debug("ignoring non-text gemini response part", zap.String("type", fmt.Sprintf("%T", part)))
		}
	}
	if strings.TrimSpace(text.String()) == "" {
		return nil, ErrEmptyResponse
	}

	out := &Response{Text: strings.TrimSpace(text.String())}
	if resp.UsageMetadata != nil {
		out.InputTokensUsed = int(resp.UsageMetadata.PromptTokenCount)
		out.OutputTokensUsed = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return out, nil
}

// toGeminiHistory splits system messages into a system instruction and maps
// the rest onto Gemini's "user" and "model" roles. The last message must be
// from the user.
func toGeminiHistory(messages []ChatMessage) (*genai.Content, []*genai.Content, error) {
	var system *genai.Content
	history := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case BackendSystem:
			if system == nil {
				system = &genai.Content{}
			}
			system.Parts = append(system.Parts, genai.Text(m.Content))
		case BackendAssistant:
			history = append(history, &genai.Content{Role: "model", Parts: []genai.Part{genai.Text(m.Content)}})
		default:
			history = append(history, &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(m.Content)}})
		}
	}

	if len(history) == 0 {
		return nil, nil, fmt.Errorf("prompt history is empty for chat completion")
	}
	if history[len(history)-1].Role != "user" {
		return nil, nil, fmt.Errorf("last message in history is not from 'user', cannot proceed with chat completion")
	}
	return system, history, nil
}
