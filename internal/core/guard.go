package core

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"gwi.com/chatcore/internal/logging"
	"gwi.com/chatcore/internal/store"
)

// Actor is the authenticated caller of a chat operation.
type Actor struct {
	UserID string
	Role   store.UserRole
}

func (a Actor) IsAdmin() bool {
	return a.Role == store.RoleAdmin
}

type ChatReader interface {
	GetChatByID(ctx context.Context, chatID string) (*store.Chat, error)
}

// Guard decides whether an actor may run a turn on a chat. It never writes.
type Guard struct {
	chats  ChatReader
	logger *zap.Logger
}

func NewGuard(chats ChatReader, logger *zap.Logger) *Guard {
	return &Guard{chats: chats, logger: logging.OrNop(logger)}
}

// Check returns the chat when the actor owns it (or is an admin) and the
// chat has a model.
func (g *Guard) Check(ctx context.Context, chatID string, actor Actor) (*store.Chat, error) {
	chat, err := g.chats.GetChatByID(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to load chat: %w", err)
	}
	if chat == nil {
		return nil, ErrNotFound
	}

	if chat.UserID != actor.UserID && !actor.IsAdmin() {
		g.logger.Error("you do not have permission to use this chat",
			zap.String("userId", actor.UserID),
			zap.String("chatId", chat.ID))
		return nil, ErrUnauthorized
	}

	if chat.ModelID == "" {
		g.logger.Error("model for chat has not been set", zap.String("chatId", chat.ID))
		return nil, ErrModelNotSet
	}
	return chat, nil
}
