package ai

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"gwi.com/chatcore/internal/config"
)

var ErrNoEmbeddings = errors.New("no embeddings returned")

// Embedder turns texts into vectors, one per text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// SourceEmbedder embeds through a Source with a fixed embedding model.
type SourceEmbedder struct {
	source Source
	model  string
}

func NewSourceEmbedder(source Source, model string) *SourceEmbedder {
	return &SourceEmbedder{source: source, model: model}
}

// NewEmbedder builds the system embedding backend named by the config.
func NewEmbedder(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*SourceEmbedder, error) {
	var source Source
	switch cfg.EmbeddingProvider {
	case "openai":
		source = NewOpenAISource(cfg.EmbeddingAPIKey, logger)
	case "gemini":
		gemini, err := NewGeminiSource(ctx, cfg.EmbeddingAPIKey, logger)
		if err != nil {
			return nil, err
		}
		source = gemini
	case "local":
		local, err := NewLocalSource(cfg.EmbeddingBaseURL, "", cfg.EmbeddingModel, logger)
		if err != nil {
			return nil, err
		}
		source = local
	default:
		return nil, fmt.Errorf("%w: embedding provider %q", ErrUnsupportedProvider, cfg.EmbeddingProvider)
	}
	return NewSourceEmbedder(source, cfg.EmbeddingModel), nil
}

// Embed fails with ErrNoEmbeddings when the backend answers without vectors.
func (e *SourceEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := e.source.CreateEmbeddings(ctx, texts, Settings{Model: e.model})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, ErrNoEmbeddings
	}
	return vectors, nil
}

func (e *SourceEmbedder) Close() error {
	return e.source.Close()
}
