package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gwi.com/chatcore/internal/ai"
	"gwi.com/chatcore/internal/auth"
	"gwi.com/chatcore/internal/core"
	"gwi.com/chatcore/internal/store"
)

var testSecret = []byte("test-secret")

type fakeTurns struct {
	err    error
	actor  core.Actor
	add    *core.AddMessageInput
	retry  *core.RetryMessageInput
	regen  *core.RegenerateMessageInput
	result *core.TurnResult
}

func (f *fakeTurns) AddMessage(_ context.Context, actor core.Actor, in core.AddMessageInput) (*core.TurnResult, error) {
	f.actor, f.add = actor, &in
	return f.result, f.err
}

func (f *fakeTurns) RetryMessage(_ context.Context, actor core.Actor, in core.RetryMessageInput) (*core.TurnResult, error) {
	f.actor, f.retry = actor, &in
	return f.result, f.err
}

func (f *fakeTurns) RegenerateMessage(_ context.Context, actor core.Actor, in core.RegenerateMessageInput) (*core.TurnResult, error) {
	f.actor, f.regen = actor, &in
	return f.result, f.err
}

type fakeUsers map[string]*store.User

func (f fakeUsers) GetUserByID(_ context.Context, id string) (*store.User, error) {
	return f[id], nil
}

type apiFixture struct {
	turns  *fakeTurns
	user   *store.User
	router http.Handler
}

func newAPIFixture(t *testing.T) *apiFixture {
	user := &store.User{ID: uuid.NewString(), Role: store.RoleAdmin}
	turns := &fakeTurns{result: &core.TurnResult{Messages: []store.Message{}, FailedKbs: []string{}}}
	handler := NewAPIHandler(turns, fakeUsers{user.ID: user}, testSecret, zaptest.NewLogger(t))
	return &apiFixture{turns: turns, user: user, router: NewRouter(handler)}
}

func (f *apiFixture) token(t *testing.T, userID string) string {
	// The token claims a lesser role than the user row holds.
	token, err := auth.GenerateJWT(testSecret, userID, store.RoleUser, time.Hour)
	require.NoError(t, err)
	return token
}

func (f *apiFixture) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndMetrics(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthMiddleware(t *testing.T) {
	f := newAPIFixture(t)
	path := "/api/chats/" + uuid.NewString() + "/messages"
	body := `{"message":"hi"}`

	rec := f.do(t, http.MethodPost, path, "", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, path, "garbage", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, path, f.token(t, uuid.NewString()), body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	assert.Nil(t, f.turns.add)
}

func TestPostMessage(t *testing.T) {
	f := newAPIFixture(t)
	chatID, kbID := uuid.NewString(), uuid.NewString()
	f.turns.result = &core.TurnResult{
		ChatID:    chatID,
		Messages:  []store.Message{{ID: "m1", Role: store.MessageRoleAssistant, Content: "Sure."}},
		FailedKbs: []string{"Wiki"},
	}

	body := fmt.Sprintf(`{"message":"hi","knowledgeBaseIds":[%q],"documentLibraryEnabled":true,"systemMessage":"be brief"}`, kbID)
	rec := f.do(t, http.MethodPost, "/api/chats/"+chatID+"/messages", f.token(t, f.user.ID), body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	require.NotNil(t, f.turns.add)
	assert.Equal(t, core.AddMessageInput{
		ChatID:                 chatID,
		Message:                "hi",
		KnowledgeBaseIDs:       []string{kbID},
		DocumentLibraryEnabled: true,
		SystemMessage:          "be brief",
	}, *f.turns.add)
	assert.Equal(t, core.Actor{UserID: f.user.ID, Role: store.RoleAdmin}, f.turns.actor)

	var got core.TurnResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, chatID, got.ChatID)
	assert.Equal(t, []string{"Wiki"}, got.FailedKbs)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "Sure.", got.Messages[0].Content)
}

func TestPostMessage_InvalidRequests(t *testing.T) {
	f := newAPIFixture(t)
	token := f.token(t, f.user.ID)
	chatID := uuid.NewString()

	tests := map[string]struct {
		path string
		body string
	}{
		"chat id not a uuid": {"/api/chats/chat-1/messages", `{"message":"hi"}`},
		"empty message":      {"/api/chats/" + chatID + "/messages", `{"message":""}`},
		"kb id not a uuid":   {"/api/chats/" + chatID + "/messages", `{"message":"hi","knowledgeBaseIds":["kb-1"]}`},
		"malformed json":     {"/api/chats/" + chatID + "/messages", `{"message":`},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, tt.path, token, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
	assert.Nil(t, f.turns.add)
}

func TestRetryAndRegenerate(t *testing.T) {
	f := newAPIFixture(t)
	token := f.token(t, f.user.ID)
	chatID := uuid.NewString()

	rec := f.do(t, http.MethodPost, "/api/chats/"+chatID+"/retry", token, `{"customInstructions":"shorter"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, f.turns.retry)
	assert.Equal(t, chatID, f.turns.retry.ChatID)
	assert.Equal(t, "shorter", f.turns.retry.CustomInstructions)

	rec = f.do(t, http.MethodPost, "/api/chats/"+chatID+"/regenerate", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, f.turns.regen)
	assert.Equal(t, chatID, f.turns.regen.ChatID)
	assert.False(t, f.turns.regen.DocumentLibraryEnabled)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{core.ErrNotFound, http.StatusNotFound},
		{core.ErrUnauthorized, http.StatusForbidden},
		{core.ErrModelNotSet, http.StatusBadRequest},
		{core.ErrDocumentLibraryNotConfigured, http.StatusBadRequest},
		{fmt.Errorf("%w: %w", core.ErrGeneration, ai.ErrModelNotFound), http.StatusBadRequest},
		{core.ErrNoUserMessage, http.StatusBadRequest},
		{ai.ErrStreamingNotImplemented, http.StatusBadRequest},
		{fmt.Errorf("%w: quota", core.ErrUpstreamFatal), http.StatusBadGateway},
		{fmt.Errorf("%w: %w", core.ErrGeneration, ai.ErrRateLimited), http.StatusBadGateway},
		{core.ErrPersistence, http.StatusInternalServerError},
		{fmt.Errorf("disk full"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			f := newAPIFixture(t)
			f.turns.err = tt.err

			rec := f.do(t, http.MethodPost, "/api/chats/"+uuid.NewString()+"/retry", f.token(t, f.user.ID), "{}")
			assert.Equal(t, tt.code, rec.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body["error"])
			assert.NotContains(t, body["error"], "disk full")
		})
	}
}
