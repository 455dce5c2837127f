package ai

import (
	"context"
	"errors"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gwi.com/chatcore/internal/store"
)

type fakeModels struct {
	model    *store.Model
	provider *store.AiProvider
	err      error
}

func (f fakeModels) GetModel(context.Context, string) (*store.Model, *store.AiProvider, error) {
	return f.model, f.provider, f.err
}

func TestFactoryBuild(t *testing.T) {
	model := &store.Model{ID: "m1", ExternalID: "gpt-4o-mini"}
	tests := []struct {
		name     string
		provider store.AiProvider
		check    func(t *testing.T, s Source)
	}{
		{"openai", store.AiProvider{Type: int(ProviderOpenAI), APIKey: "k"}, func(t *testing.T, s Source) {
			assert.IsType(t, &OpenAISource{}, s)
			assert.Equal(t, "openai", s.(*OpenAISource).name)
		}},
		{"azure", store.AiProvider{Type: int(ProviderAzureOpenAI), APIKey: "k", APIEndpoint: "https://x.openai.azure.com"}, func(t *testing.T, s Source) {
			assert.Equal(t, "azure-openai", s.(*OpenAISource).name)
		}},
		{"compatible", store.AiProvider{Type: int(ProviderOpenAICompatible), APIEndpoint: "http://localhost:11434/v1"}, func(t *testing.T, s Source) {
			assert.IsType(t, &LocalSource{}, s)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := tt.provider
			f := NewFactory(fakeModels{model: model, provider: &provider}, zaptest.NewLogger(t))
			got, err := f.Build(context.Background(), "m1")
			require.NoError(t, err)
			assert.Equal(t, "gpt-4o-mini", got.Model.ExternalID)
			tt.check(t, got.Source)
		})
	}
}

func TestFactoryBuildErrors(t *testing.T) {
	ctx := context.Background()

	_, err := NewFactory(fakeModels{}, nil).Build(ctx, "missing")
	assert.ErrorIs(t, err, ErrModelNotFound)

	boom := errors.New("db down")
	_, err = NewFactory(fakeModels{err: boom}, nil).Build(ctx, "m1")
	assert.ErrorIs(t, err, boom)

	for _, typ := range []ProviderType{ProviderBedrock, ProviderAnthropic, 42} {
		f := NewFactory(fakeModels{
			model:    &store.Model{ID: "m1"},
			provider: &store.AiProvider{Type: int(typ)},
		}, zaptest.NewLogger(t))
		_, err := f.Build(ctx, "m1")
		assert.ErrorIs(t, err, ErrUnsupportedProvider)
	}
}

func TestToGeminiHistory(t *testing.T) {
	system, history, err := toGeminiHistory([]ChatMessage{
		{Role: BackendSystem, Content: "rules"},
		{Role: BackendUser, Content: "hi"},
		{Role: BackendAssistant, Content: "hello"},
		{Role: BackendUser, Content: "again"},
	})
	require.NoError(t, err)
	require.NotNil(t, system)
	assert.Equal(t, []genai.Part{genai.Text("rules")}, system.Parts)
	require.Len(t, history, 3)
	assert.Equal(t, "user", history[0].Role)
	assert.Equal(t, "model", history[1].Role)
	assert.Equal(t, []genai.Part{genai.Text("again")}, history[2].Parts)

	_, _, err = toGeminiHistory([]ChatMessage{{Role: BackendUser, Content: "q"}, {Role: BackendAssistant, Content: "a"}})
	assert.Error(t, err)

	_, _, err = toGeminiHistory([]ChatMessage{{Role: BackendSystem, Content: "only rules"}})
	assert.Error(t, err)
}

func TestSourceEmbedder(t *testing.T) {
	source := &fakeSource{vectors: [][]float32{{1, 2}}}
	e := NewSourceEmbedder(source, "text-embedding-3-small")

	vectors, err := e.Embed(context.Background(), []string{"hello"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 2}}, vectors)
	assert.Equal(t, "text-embedding-3-small", source.settings.Model)

	_, err = NewSourceEmbedder(&fakeSource{}, "m").Embed(context.Background(), []string{"hello"})
	assert.ErrorIs(t, err, ErrNoEmbeddings)

	_, err = NewSourceEmbedder(&fakeSource{vectors: [][]float32{{}}}, "m").Embed(context.Background(), []string{"hello"})
	assert.ErrorIs(t, err, ErrNoEmbeddings)
}
