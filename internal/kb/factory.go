package kb

import (
	"context"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"gwi.com/chatcore/internal/ai"
	"gwi.com/chatcore/internal/logging"
	"gwi.com/chatcore/internal/store"
)

const ProviderQdrant = "qdrant"

type KnowledgeBaseResolver interface {
	GetKnowledgeBase(ctx context.Context, knowledgeBaseID string) (*store.KnowledgeBase, *store.KbProvider, error)
}

// Resolved is a knowledge base together with the source that serves it.
type Resolved struct {
	KnowledgeBase store.KnowledgeBase
	Source        Source
}

// Factory resolves knowledge bases and keeps one source per provider.
type Factory struct {
	kbs      KnowledgeBaseResolver
	embedder ai.Embedder
	logger   *zap.Logger

	mu      sync.Mutex
	sources map[string]Source
}

func NewFactory(kbs KnowledgeBaseResolver, embedder ai.Embedder, logger *zap.Logger) *Factory {
	return &Factory{
		kbs:      kbs,
		embedder: embedder,
		logger:   logging.OrNop(logger),
		sources:  make(map[string]Source),
	}
}

func (f *Factory) Build(ctx context.Context, knowledgeBaseID string) (*Resolved, error) {
	kb, provider, err := f.kbs.GetKnowledgeBase(ctx, knowledgeBaseID)
	if err != nil {
		return nil, err
	}
	if kb == nil {
		return nil, fmt.Errorf("%w: %s", ErrKnowledgeBaseNotFound, knowledgeBaseID)
	}

	source, err := f.source(provider)
	if err != nil {
		return nil, err
	}
	return &Resolved{KnowledgeBase: *kb, Source: source}, nil
}

func (f *Factory) source(provider *store.KbProvider) (Source, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if s, ok := f.sources[provider.ID]; ok {
		return s, nil
	}

	var s Source
	switch provider.Type {
	case ProviderQdrant:
		cfg, err := ParseQdrantConfig(provider.Config)
		if err != nil {
			return nil, err
		}
		qs, err := NewQdrantSource(cfg, f.embedder, f.logger)
		if err != nil {
			return nil, err
		}
		s = qs
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, provider.Type)
	}

	f.sources[provider.ID] = s
	return s, nil
}

// Close releases every cached provider connection.
func (f *Factory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var firstErr error
	for id, s := range f.sources {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		delete(f.sources, id)
	}
	return firstErr
}
