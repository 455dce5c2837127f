package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gwi.com/chatcore/internal/ai"
	"gwi.com/chatcore/internal/logging"
	"gwi.com/chatcore/internal/store"
)

// DefaultHistoryLimit is how many prior messages are sent with a turn.
const DefaultHistoryLimit = 24

// DefaultGenerationSettings are the settings used for chat turns.
var DefaultGenerationSettings = ai.Settings{Randomness: 0.2}

type MessageStore interface {
	GetLastNMessagesByChatID(ctx context.Context, chatID string, n int) ([]store.Message, error)
	CreateMessages(ctx context.Context, input store.CreateMessagesInput) ([]store.Message, error)
}

type Assembler interface {
	Assemble(ctx context.Context, in AssembleInput) (*AssembledContext, error)
}

type GeneratorFactory interface {
	Build(ctx context.Context, modelID string) (*ai.BuildResult, error)
}

type ChatServiceOptions struct {
	HistoryLimit      int
	GenerationTimeout time.Duration
	Settings          ai.Settings
}

type AddMessageInput struct {
	ChatID                 string
	Message                string
	KnowledgeBaseIDs       []string
	DocumentLibraryEnabled bool
	// SystemMessage, when set, is sent ahead of the history. It is not
	// persisted.
	SystemMessage string
}

type RetryMessageInput struct {
	ChatID                 string
	KnowledgeBaseIDs       []string
	DocumentLibraryEnabled bool
	CustomInstructions     string
}

type RegenerateMessageInput struct {
	ChatID                 string
	KnowledgeBaseIDs       []string
	DocumentLibraryEnabled bool
}

// TurnResult is what a turn persisted, read back with everything attached.
type TurnResult struct {
	ChatID    string          `json:"chatId"`
	Messages  []store.Message `json:"messages"`
	FailedKbs []string        `json:"failedKbs"`
}

// ChatService runs chat turns: guard, retrieve context, generate, extract
// and persist.
type ChatService struct {
	guard      *Guard
	messages   MessageStore
	assembler  Assembler
	generators GeneratorFactory
	opts       ChatServiceOptions
	logger     *zap.Logger
	now        func() time.Time
}

func NewChatService(guard *Guard, messages MessageStore, assembler Assembler, generators GeneratorFactory, opts ChatServiceOptions, logger *zap.Logger) *ChatService {
	if opts.HistoryLimit < 1 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if opts.Settings == (ai.Settings{}) {
		opts.Settings = DefaultGenerationSettings
	}
	return &ChatService{
		guard:      guard,
		messages:   messages,
		assembler:  assembler,
		generators: generators,
		opts:       opts,
		logger:     logging.OrNop(logger),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// AddMessage sends a new user message and persists it together with the
// assistant's reply. Generation failures are returned as ErrGeneration and
// nothing is persisted.
func (s *ChatService) AddMessage(ctx context.Context, actor Actor, in AddMessageInput) (*TurnResult, error) {
	chat, err := s.guard.Check(ctx, in.ChatID, actor)
	if err != nil {
		turnsTotal.WithLabelValues(modeAdd, outcomeRejected).Inc()
		return nil, err
	}
	userMessageAt := s.now()

	history, err := s.messages.GetLastNMessagesByChatID(ctx, chat.ID, s.opts.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load chat history: %w", err)
	}

	assembled, err := s.assembler.Assemble(ctx, AssembleInput{
		UserID:                 actor.UserID,
		Message:                in.Message,
		KnowledgeBaseIDs:       in.KnowledgeBaseIDs,
		DocumentLibraryEnabled: in.DocumentLibraryEnabled,
	})
	if err != nil {
		turnsTotal.WithLabelValues(modeAdd, outcomeOf(err)).Inc()
		return nil, err
	}

	prompt := make([]ai.Message, 0, len(history)+2)
	if in.SystemMessage != "" {
		prompt = append(prompt, ai.Message{Role: ai.RoleSystem, Content: ai.Text(in.SystemMessage)})
	}
	prompt = append(prompt, toPrompt(history)...)
	prompt = append(prompt, ai.Message{Role: ai.RoleUser, Content: ai.Text(assembled.OutgoingText)})
	prompt[0].Content = ai.Text(AddSystemInstructions(ai.Flatten(prompt[0].Content)))

	// From here on the turn runs to completion even if the caller goes away.
	turnCtx := context.WithoutCancel(ctx)
	reply, err := s.generate(turnCtx, chat, prompt, modeAdd)
	if err != nil {
		s.logger.Error("error generating response", zap.String("chatId", chat.ID), zap.Error(err))
		if isCallerError(err) {
			turnsTotal.WithLabelValues(modeAdd, outcomeRejected).Inc()
			return nil, err
		}
		turnsTotal.WithLabelValues(modeAdd, outcomeGenerationError).Inc()
		return nil, fmt.Errorf("%w: %w", ErrGeneration, err)
	}

	assistant := s.assistantMessage(reply, assembled.Citations)
	created, err := s.messages.CreateMessages(turnCtx, store.CreateMessagesInput{
		ChatID: chat.ID,
		Messages: []store.NewMessage{
			{
				ID:        uuid.NewString(),
				Role:      store.MessageRoleUser,
				Content:   in.Message,
				CreatedAt: userMessageAt,
			},
			assistant,
		},
	})
	if err != nil {
		turnsTotal.WithLabelValues(modeAdd, outcomePersistError).Inc()
		return nil, err
	}

	turnsTotal.WithLabelValues(modeAdd, outcomeOK).Inc()
	return &TurnResult{ChatID: chat.ID, Messages: created, FailedKbs: assembled.FailedKbs}, nil
}

// RetryMessage answers the chat's trailing user message again and persists
// only the new assistant message. A generation failure is logged and
// yields an empty message list.
func (s *ChatService) RetryMessage(ctx context.Context, actor Actor, in RetryMessageInput) (*TurnResult, error) {
	chat, err := s.guard.Check(ctx, in.ChatID, actor)
	if err != nil {
		turnsTotal.WithLabelValues(modeRetry, outcomeRejected).Inc()
		return nil, err
	}

	history, err := s.messages.GetLastNMessagesByChatID(ctx, chat.ID, s.opts.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load chat history: %w", err)
	}

	return s.retry(ctx, actor, chat, history, retryParams{
		mode:                   modeRetry,
		knowledgeBaseIDs:       in.KnowledgeBaseIDs,
		documentLibraryEnabled: in.DocumentLibraryEnabled,
		customInstructions:     in.CustomInstructions,
	})
}

// RegenerateMessage replaces the chat's trailing assistant message with an
// independent answer. The old message is deleted in the same transaction
// that stores the new one, so a failed regenerate leaves the chat as it was.
func (s *ChatService) RegenerateMessage(ctx context.Context, actor Actor, in RegenerateMessageInput) (*TurnResult, error) {
	chat, err := s.guard.Check(ctx, in.ChatID, actor)
	if err != nil {
		turnsTotal.WithLabelValues(modeRegenerate, outcomeRejected).Inc()
		return nil, err
	}

	history, err := s.messages.GetLastNMessagesByChatID(ctx, chat.ID, s.opts.HistoryLimit+1)
	if err != nil {
		return nil, fmt.Errorf("failed to load chat history: %w", err)
	}
	if len(history) == 0 || history[len(history)-1].Role != store.MessageRoleAssistant {
		turnsTotal.WithLabelValues(modeRegenerate, outcomeRejected).Inc()
		return nil, ErrNoAssistantMessage
	}
	previous := history[len(history)-1]

	return s.retry(ctx, actor, chat, history[:len(history)-1], retryParams{
		mode:                   modeRegenerate,
		knowledgeBaseIDs:       in.KnowledgeBaseIDs,
		documentLibraryEnabled: in.DocumentLibraryEnabled,
		customInstructions:     RegenerateInstructions(previous.Content),
		replacesMessageID:      previous.ID,
	})
}

type retryParams struct {
	mode                   string
	knowledgeBaseIDs       []string
	documentLibraryEnabled bool
	customInstructions     string
	replacesMessageID      string
}

func (s *ChatService) retry(ctx context.Context, actor Actor, chat *store.Chat, history []store.Message, p retryParams) (*TurnResult, error) {
	if len(history) == 0 || history[len(history)-1].Role != store.MessageRoleUser {
		turnsTotal.WithLabelValues(p.mode, outcomeRejected).Inc()
		return nil, ErrNoUserMessage
	}
	last := len(history) - 1

	assembled, err := s.assembler.Assemble(ctx, AssembleInput{
		UserID:                 actor.UserID,
		Message:                history[last].Content,
		KnowledgeBaseIDs:       p.knowledgeBaseIDs,
		DocumentLibraryEnabled: p.documentLibraryEnabled,
	})
	if err != nil {
		turnsTotal.WithLabelValues(p.mode, outcomeOf(err)).Inc()
		return nil, err
	}

	prompt := toPrompt(history)
	prompt[last].Content = ai.Text(assembled.OutgoingText + p.customInstructions)
	prompt[0].Content = ai.Text(AddSystemInstructions(ai.Flatten(prompt[0].Content)))

	turnCtx := context.WithoutCancel(ctx)
	reply, err := s.generate(turnCtx, chat, prompt, p.mode)
	if err != nil {
		s.logger.Error("there was an error regenerating response", zap.String("chatId", chat.ID), zap.Error(err))
		if isCallerError(err) {
			turnsTotal.WithLabelValues(p.mode, outcomeRejected).Inc()
			return nil, err
		}
		turnsTotal.WithLabelValues(p.mode, outcomeGenerationError).Inc()
		return &TurnResult{ChatID: chat.ID, Messages: []store.Message{}, FailedKbs: assembled.FailedKbs}, nil
	}

	created, err := s.messages.CreateMessages(turnCtx, store.CreateMessagesInput{
		ChatID:            chat.ID,
		Messages:          []store.NewMessage{s.assistantMessage(reply, assembled.Citations)},
		ReplacesMessageID: p.replacesMessageID,
	})
	if err != nil {
		turnsTotal.WithLabelValues(p.mode, outcomePersistError).Inc()
		return nil, err
	}

	turnsTotal.WithLabelValues(p.mode, outcomeOK).Inc()
	return &TurnResult{ChatID: chat.ID, Messages: created, FailedKbs: assembled.FailedKbs}, nil
}

// generate is bounded by the generation timeout. Callers pass a context
// detached from the request.
func (s *ChatService) generate(ctx context.Context, chat *store.Chat, prompt []ai.Message, mode string) (string, error) {
	genCtx, cancel := withTimeout(ctx, s.opts.GenerationTimeout)
	defer cancel()

	built, err := s.generators.Build(genCtx, chat.ModelID)
	if err != nil {
		if errors.Is(err, ai.ErrModelNotFound) || errors.Is(err, ai.ErrUnsupportedProvider) {
			return "", fmt.Errorf("%w: %w", ErrNotConfigured, err)
		}
		return "", fmt.Errorf("failed to build generation source: %w", err)
	}
	defer built.Source.Close()

	adapter := ai.NewAdapter(built.Source, built.Model.ExternalID, s.opts.Settings, s.logger)

	start := time.Now()
	resp, err := adapter.Chat(genCtx, ai.ChatParams{Messages: prompt})
	generationDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	if err != nil {
		return "", err
	}
	return resp.Message.Content, nil
}

func (s *ChatService) assistantMessage(reply string, citations []store.Citation) store.NewMessage {
	id := uuid.NewString()
	now := s.now()
	content, artifacts, followUps := ExtractResponse(reply)
	return store.NewMessage{
		ID:        id,
		Role:      store.MessageRoleAssistant,
		Content:   content,
		CreatedAt: now,
		Citations: citations,
		Artifacts: StampArtifacts(artifacts, id, now),
		FollowUps: StampFollowUps(followUps, id),
	}
}

func toPrompt(history []store.Message) []ai.Message {
	prompt := make([]ai.Message, 0, len(history))
	for _, m := range history {
		prompt = append(prompt, ai.Message{Role: promptRole(m.Role), Content: ai.Text(m.Content)})
	}
	return prompt
}

func promptRole(role store.MessageRole) ai.Role {
	switch role {
	case store.MessageRoleUser:
		return ai.RoleUser
	case store.MessageRoleAssistant:
		return ai.RoleAssistant
	case store.MessageRoleSystem:
		return ai.RoleSystem
	default:
		return ai.Role(role)
	}
}

// isCallerError reports failures that no retry of the backend would fix.
func isCallerError(err error) bool {
	return errors.Is(err, ErrNotConfigured) || errors.Is(err, ai.ErrUnsupportedInput)
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, ErrUpstreamFatal):
		return outcomeUpstreamError
	default:
		return outcomeRejected
	}
}
