package ai

import (
	"context"

	"go.uber.org/zap"

	"gwi.com/chatcore/internal/logging"
)

type Message struct {
	Role    Role
	Content Content
}

type CompletionParams struct {
	Prompt Content
	Stream bool
}

type ChatParams struct {
	Messages []Message
	Stream   bool
}

type CompletionResponse struct {
	Text string
	Raw  *Response
}

type ChatResponse struct {
	Message ChatMessage
	Raw     *Response
}

// Adapter binds a Source to one resolved model and a fixed set of
// generation settings.
type Adapter struct {
	source   Source
	settings Settings
	logger   *zap.Logger
}

// NewAdapter pins the model to externalModelID and top-p to 1; the other
// settings are taken from the caller.
func NewAdapter(source Source, externalModelID string, settings Settings, logger *zap.Logger) *Adapter {
	settings.Model = externalModelID
	settings.TopP = 1
	return &Adapter{source: source, settings: settings, logger: logging.OrNop(logger)}
}

func (a *Adapter) Settings() Settings {
	return a.settings
}

func (a *Adapter) Complete(ctx context.Context, params CompletionParams) (*CompletionResponse, error) {
	if params.Stream {
		return nil, ErrStreamingNotImplemented
	}

	resp, err := a.source.Completion(ctx, Flatten(params.Prompt), a.settings)
	if err != nil {
		return nil, err
	}
	return &CompletionResponse{Text: resp.Text, Raw: resp}, nil
}

func (a *Adapter) Chat(ctx context.Context, params ChatParams) (*ChatResponse, error) {
	if params.Stream {
		return nil, ErrStreamingNotImplemented
	}

	messages := make([]ChatMessage, 0, len(params.Messages))
	for _, m := range params.Messages {
		role, err := m.Role.Backend()
		if err != nil {
			return nil, err
		}
		messages = append(messages, ChatMessage{Role: role, Content: Flatten(m.Content)})
	}

	a.logger.Debug("sending chat completion",
		zap.String("model", a.settings.Model),
		zap.Int("messages", len(messages)))

	resp, err := a.source.ChatCompletion(ctx, messages, a.settings)
	if err != nil {
		return nil, err
	}
	return &ChatResponse{
		Message: ChatMessage{Role: BackendAssistant, Content: resp.Text},
		Raw:     resp,
	}, nil
}
