package ai

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"gwi.com/chatcore/internal/logging"
	"gwi.com/chatcore/internal/store"
)

// ProviderType values match ai_providers.type.
type ProviderType int

const (
	ProviderOpenAI           ProviderType = 1
	ProviderAzureOpenAI      ProviderType = 2
	ProviderBedrock          ProviderType = 3
	ProviderAnthropic        ProviderType = 5
	ProviderGemini           ProviderType = 6
	ProviderOpenAICompatible ProviderType = 7
)

type ModelResolver interface {
	GetModel(ctx context.Context, modelID string) (*store.Model, *store.AiProvider, error)
}

type BuildResult struct {
	Source   Source
	Model    store.Model
	Provider store.AiProvider
}

// Factory turns a model id into a ready Source.
type Factory struct {
	models ModelResolver
	logger *zap.Logger
}

func NewFactory(models ModelResolver, logger *zap.Logger) *Factory {
	return &Factory{models: models, logger: logging.OrNop(logger)}
}

func (f *Factory) Build(ctx context.Context, modelID string) (*BuildResult, error) {
	model, provider, err := f.models.GetModel(ctx, modelID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve model %s: %w", modelID, err)
	}
	if model == nil {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, modelID)
	}

	source, err := f.buildClient(ctx, model, provider)
	if err != nil {
		return nil, err
	}
	return &BuildResult{Source: source, Model: *model, Provider: *provider}, nil
}

func (f *Factory) buildClient(ctx context.Context, model *store.Model, provider *store.AiProvider) (Source, error) {
	switch ProviderType(provider.Type) {
	case ProviderOpenAI:
		return NewOpenAISource(provider.APIKey, f.logger), nil
	case ProviderAzureOpenAI:
		deploymentID := provider.DeploymentID
		if deploymentID == "" {
			deploymentID = model.ExternalID
		}
		return NewAzureOpenAISource(provider.APIKey, provider.APIEndpoint, deploymentID, f.logger), nil
	case ProviderGemini:
		return NewGeminiSource(ctx, provider.APIKey, f.logger)
	case ProviderOpenAICompatible:
		return NewLocalSource(provider.APIEndpoint, model.ExternalID, "", f.logger)
	default:
		f.logger.Error("unsupported provider type", zap.Int("type", provider.Type), zap.String("providerId", provider.ID))
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedProvider, provider.Type)
	}
}
