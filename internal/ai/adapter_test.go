package ai

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeSource records what the adapter sends.
type fakeSource struct {
	prompt   string
	messages []ChatMessage
	settings Settings
	calls    int
	reply    string
	err      error
	vectors  [][]float32
}

func (f *fakeSource) Completion(_ context.Context, prompt string, settings Settings) (*Response, error) {
	f.calls++
	f.prompt, f.settings = prompt, settings
	if f.err != nil {
		return nil, f.err
	}
	return &Response{Text: f.reply}, nil
}

func (f *fakeSource) ChatCompletion(_ context.Context, messages []ChatMessage, settings Settings) (*Response, error) {
	f.calls++
	f.messages, f.settings = messages, settings
	if f.err != nil {
		return nil, f.err
	}
	return &Response{Text: f.reply, InputTokensUsed: 3, OutputTokensUsed: 4}, nil
}

func (f *fakeSource) CreateEmbeddings(_ context.Context, _ []string, settings Settings) ([][]float32, error) {
	f.calls++
	f.settings = settings
	return f.vectors, f.err
}

func (f *fakeSource) Close() error { return nil }

func newTestAdapter(t *testing.T, source Source) *Adapter {
	return NewAdapter(source, "gpt-4o-mini", Settings{Randomness: 0.2, FrequencyPenalty: 0.1}, zaptest.NewLogger(t))
}

func TestRoleBackend(t *testing.T) {
	tests := []struct {
		role Role
		want BackendRole
	}{
		{RoleUser, BackendUser},
		{RoleMemory, BackendUser},
		{RoleAssistant, BackendAssistant},
		{RoleSystem, BackendSystem},
	}
	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			got, err := tt.role.Backend()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Role("tool").Backend()
	assert.ErrorIs(t, err, ErrUnsupportedRole)
	assert.ErrorIs(t, err, ErrUnsupportedInput)
}

func TestFlatten(t *testing.T) {
	assert.Equal(t, "", Flatten(nil))
	assert.Equal(t, "hello", Flatten(Text("hello")))
	assert.Equal(t, "look at this",
		Flatten(Parts{TextPart("look at "), ImagePart{URL: "https://example.com/cat.png"}, TextPart("this")}))
	assert.Equal(t, "", Flatten(Parts{ImagePart{URL: "x"}}))
}

func TestAdapterChat(t *testing.T) {
	source := &fakeSource{reply: "Hi there"}
	adapter := newTestAdapter(t, source)

	resp, err := adapter.Chat(context.Background(), ChatParams{Messages: []Message{
		{Role: RoleSystem, Content: Text("be brief")},
		{Role: RoleMemory, Content: Text("user likes tea")},
		{Role: RoleAssistant, Content: Text("ok")},
		{Role: RoleUser, Content: Parts{TextPart("hello"), ImagePart{}}},
	}})
	require.NoError(t, err)

	assert.Equal(t, "Hi there", resp.Message.Content)
	assert.Equal(t, BackendAssistant, resp.Message.Role)
	assert.Equal(t, 3, resp.Raw.InputTokensUsed)
	assert.Equal(t, []ChatMessage{
		{Role: BackendSystem, Content: "be brief"},
		{Role: BackendUser, Content: "user likes tea"},
		{Role: BackendAssistant, Content: "ok"},
		{Role: BackendUser, Content: "hello"},
	}, source.messages)

	assert.Equal(t, "gpt-4o-mini", source.settings.Model)
	assert.Equal(t, float32(1), source.settings.TopP)
	assert.Equal(t, float32(0.2), source.settings.Randomness)
	assert.Equal(t, float32(0.1), source.settings.FrequencyPenalty)
}

func TestAdapterRejectsWithoutCallingBackend(t *testing.T) {
	source := &fakeSource{reply: "unused"}
	adapter := newTestAdapter(t, source)
	ctx := context.Background()

	_, err := adapter.Chat(ctx, ChatParams{Messages: []Message{{Role: RoleUser, Content: Text("hi")}}, Stream: true})
	assert.ErrorIs(t, err, ErrStreamingNotImplemented)

	_, err = adapter.Complete(ctx, CompletionParams{Prompt: Text("hi"), Stream: true})
	assert.ErrorIs(t, err, ErrStreamingNotImplemented)
	assert.ErrorIs(t, err, ErrUnsupportedInput)

	_, err = adapter.Chat(ctx, ChatParams{Messages: []Message{{Role: "function", Content: Text("hi")}}})
	assert.ErrorIs(t, err, ErrUnsupportedRole)

	assert.Zero(t, source.calls)
}

func TestAdapterComplete(t *testing.T) {
	source := &fakeSource{reply: "done"}
	adapter := newTestAdapter(t, source)

	resp, err := adapter.Complete(context.Background(), CompletionParams{Prompt: Parts{TextPart("sum"), TextPart("marise")}})
	require.NoError(t, err)
	assert.Equal(t, "done", resp.Text)
	assert.Equal(t, "summarise", source.prompt)
	assert.Equal(t, float32(1), source.settings.TopP)
}

func TestAdapterPropagatesBackendErrors(t *testing.T) {
	boom := errors.New("boom")
	adapter := newTestAdapter(t, &fakeSource{err: boom})

	_, err := adapter.Chat(context.Background(), ChatParams{Messages: []Message{{Role: RoleUser, Content: Text("hi")}}})
	assert.ErrorIs(t, err, boom)
}
