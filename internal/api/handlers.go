package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"gwi.com/chatcore/internal/ai"
	"gwi.com/chatcore/internal/auth"
	"gwi.com/chatcore/internal/core"
	"gwi.com/chatcore/internal/logging"
	"gwi.com/chatcore/internal/store"
)

var validate = validator.New()

type ChatTurns interface {
	AddMessage(ctx context.Context, actor core.Actor, in core.AddMessageInput) (*core.TurnResult, error)
	RetryMessage(ctx context.Context, actor core.Actor, in core.RetryMessageInput) (*core.TurnResult, error)
	RegenerateMessage(ctx context.Context, actor core.Actor, in core.RegenerateMessageInput) (*core.TurnResult, error)
}

type UserReader interface {
	GetUserByID(ctx context.Context, id string) (*store.User, error)
}

type APIHandler struct {
	turns     ChatTurns
	users     UserReader
	jwtSecret []byte
	logger    *zap.Logger
}

func NewAPIHandler(turns ChatTurns, users UserReader, jwtSecret []byte, logger *zap.Logger) *APIHandler {
	return &APIHandler{turns: turns, users: users, jwtSecret: jwtSecret, logger: logging.OrNop(logger)}
}

type actorKey struct{}

func actorFrom(ctx context.Context) (core.Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(core.Actor)
	return actor, ok
}

// JWTAuthMiddleware resolves the bearer token to a user row. The role comes
// from the row, not from the token.
func (h *APIHandler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, http.StatusUnauthorized, "Authorization header is required")
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		claims, err := auth.ValidateJWT(h.jwtSecret, tokenString)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid token")
			return
		}

		user, err := h.users.GetUserByID(r.Context(), claims.Subject)
		if err != nil {
			h.logger.Error("failed to load user for token", zap.String("userId", claims.Subject), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "Failed to process user identity")
			return
		}
		if user == nil {
			writeError(w, http.StatusUnauthorized, "User not found")
			return
		}

		ctx := context.WithValue(r.Context(), actorKey{}, core.Actor{UserID: user.ID, Role: user.Role})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type PostMessageRequest struct {
	Message                string   `json:"message" validate:"required"`
	KnowledgeBaseIDs       []string `json:"knowledgeBaseIds" validate:"dive,uuid"`
	DocumentLibraryEnabled bool     `json:"documentLibraryEnabled"`
	SystemMessage          string   `json:"systemMessage,omitempty"`
}

type RetryMessageRequest struct {
	KnowledgeBaseIDs       []string `json:"knowledgeBaseIds" validate:"dive,uuid"`
	DocumentLibraryEnabled bool     `json:"documentLibraryEnabled"`
	CustomInstructions     string   `json:"customInstructions,omitempty"`
}

type RegenerateMessageRequest struct {
	KnowledgeBaseIDs       []string `json:"knowledgeBaseIds" validate:"dive,uuid"`
	DocumentLibraryEnabled bool     `json:"documentLibraryEnabled"`
}

func (h *APIHandler) PostMessageHandler(w http.ResponseWriter, r *http.Request) {
	actor, chatID, ok := h.turnRequest(w, r)
	if !ok {
		return
	}
	var req PostMessageRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	result, err := h.turns.AddMessage(r.Context(), actor, core.AddMessageInput{
		ChatID:                 chatID,
		Message:                req.Message,
		KnowledgeBaseIDs:       req.KnowledgeBaseIDs,
		DocumentLibraryEnabled: req.DocumentLibraryEnabled,
		SystemMessage:          req.SystemMessage,
	})
	h.respond(w, chatID, actor, result, err)
}

func (h *APIHandler) RetryMessageHandler(w http.ResponseWriter, r *http.Request) {
	actor, chatID, ok := h.turnRequest(w, r)
	if !ok {
		return
	}
	var req RetryMessageRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	result, err := h.turns.RetryMessage(r.Context(), actor, core.RetryMessageInput{
		ChatID:                 chatID,
		KnowledgeBaseIDs:       req.KnowledgeBaseIDs,
		DocumentLibraryEnabled: req.DocumentLibraryEnabled,
		CustomInstructions:     req.CustomInstructions,
	})
	h.respond(w, chatID, actor, result, err)
}

func (h *APIHandler) RegenerateMessageHandler(w http.ResponseWriter, r *http.Request) {
	actor, chatID, ok := h.turnRequest(w, r)
	if !ok {
		return
	}
	var req RegenerateMessageRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	result, err := h.turns.RegenerateMessage(r.Context(), actor, core.RegenerateMessageInput{
		ChatID:                 chatID,
		KnowledgeBaseIDs:       req.KnowledgeBaseIDs,
		DocumentLibraryEnabled: req.DocumentLibraryEnabled,
	})
	h.respond(w, chatID, actor, result, err)
}

func (h *APIHandler) turnRequest(w http.ResponseWriter, r *http.Request) (core.Actor, string, bool) {
	actor, ok := actorFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authorization header is required")
		return core.Actor{}, "", false
	}
	chatID := chi.URLParam(r, "chatID")
	if err := validate.Var(chatID, "required,uuid"); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid chat id")
		return core.Actor{}, "", false
	}
	return actor, chatID, true
}

// decodeRequest accepts an empty body as the zero request.
func decodeRequest(w http.ResponseWriter, r *http.Request, req any) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request: "+err.Error())
		return false
	}
	return true
}

func (h *APIHandler) respond(w http.ResponseWriter, chatID string, actor core.Actor, result *core.TurnResult, err error) {
	if err != nil {
		status, message := statusFor(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("chat turn failed",
				zap.String("chatId", chatID),
				zap.String("userId", actor.UserID),
				zap.Error(err))
		}
		writeError(w, status, message)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, core.ErrUnauthorized):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, core.ErrNotConfigured),
		errors.Is(err, ai.ErrModelNotFound),
		errors.Is(err, ai.ErrUnsupportedProvider):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, core.ErrUnsupportedInput):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, core.ErrUpstreamFatal):
		return http.StatusBadGateway, core.ErrUpstreamFatal.Error()
	case errors.Is(err, core.ErrGeneration):
		return http.StatusBadGateway, core.ErrGeneration.Error()
	case errors.Is(err, core.ErrPersistence):
		return http.StatusInternalServerError, core.ErrPersistence.Error()
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
