// Package ai talks to text generation and embedding backends.
//
// Backends implement Source. Callers normally go through an Adapter, which
// normalises roles and content and applies the fixed parameter contract
// before a Source is invoked.
package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnsupportedInput is the parent of every caller error the adapter
	// rejects without calling a backend.
	ErrUnsupportedInput        = errors.New("unsupported input")
	ErrUnsupportedRole         = fmt.Errorf("%w: unsupported role provided", ErrUnsupportedInput)
	ErrStreamingNotImplemented = fmt.Errorf("%w: streaming not implemented", ErrUnsupportedInput)

	ErrEmptyResponse       = errors.New("empty completion response")
	ErrAuthentication      = errors.New("invalid api key for provider")
	ErrModelNotFound       = errors.New("invalid model specified for provider")
	ErrRateLimited         = errors.New("rate limit exceeded for provider")
	ErrUnsupportedProvider = errors.New("unsupported provider type")
)

// Role is the caller-facing message role.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	// RoleMemory carries recalled context and is sent as a user message.
	RoleMemory Role = "memory"
)

// BackendRole is the role vocabulary every backend understands.
type BackendRole string

const (
	BackendUser      BackendRole = "user"
	BackendAssistant BackendRole = "assistant"
	BackendSystem    BackendRole = "system"
)

func (r Role) Backend() (BackendRole, error) {
	switch r {
	case RoleUser, RoleMemory:
		return BackendUser, nil
	case RoleAssistant:
		return BackendAssistant, nil
	case RoleSystem:
		return BackendSystem, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedRole, string(r))
	}
}

// Content is either Text or Parts.
type Content interface {
	flatten() string
}

type Text string

func (t Text) flatten() string { return string(t) }

// Parts is multi-part content. Only text parts survive flattening.
type Parts []Part

func (p Parts) flatten() string {
	var b strings.Builder
	for _, part := range p {
		if part != nil {
			b.WriteString(part.text())
		}
	}
	return b.String()
}

type Part interface {
	text() string
}

type TextPart string

func (t TextPart) text() string { return string(t) }

// ImagePart is accepted but contributes nothing to the prompt.
type ImagePart struct {
	URL string
}

func (ImagePart) text() string { return "" }

// Flatten renders content as the plain text a backend receives.
func Flatten(c Content) string {
	if c == nil {
		return ""
	}
	return c.flatten()
}

// Settings are the generation parameters passed to a Source.
type Settings struct {
	Model            string
	Randomness       float32
	TopP             float32
	FrequencyPenalty float32
	PresencePenalty  float32
}

type ChatMessage struct {
	Role    BackendRole
	Content string
}

// Response is what a backend produced, with token usage when reported.
type Response struct {
	Text             string
	InputTokensUsed  int
	OutputTokensUsed int
}

// Source is a generation backend.
type Source interface {
	Completion(ctx context.Context, prompt string, settings Settings) (*Response, error)
	ChatCompletion(ctx context.Context, messages []ChatMessage, settings Settings) (*Response, error)
	CreateEmbeddings(ctx context.Context, texts []string, settings Settings) ([][]float32, error)
	Close() error
}
