package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type turnFixture struct {
	store *SQLiteStore
	chat  *Chat
	kb    *KnowledgeBase
	doc   *Document
}

func newTurnFixture(t *testing.T) turnFixture {
	t.Helper()
	s := newTestStore(t)
	ctx := context.Background()
	user := seedUser(t, s, RoleUser)
	chat := seedChat(t, s, user.ID, "model-1")

	provider := &KbProvider{Type: "qdrant", Label: "Qdrant"}
	require.NoError(t, s.CreateKbProvider(ctx, provider))
	kb := &KnowledgeBase{Label: "Handbook", ExternalID: "handbook", KbProviderID: provider.ID}
	require.NoError(t, s.CreateKnowledgeBase(ctx, kb))

	providerID := seedDocumentLibrary(t, s)
	doc := seedDocument(t, s, user.ID, providerID, "notes.md")

	return turnFixture{store: s, chat: chat, kb: kb, doc: doc}
}

func assistantMessage(content string, at time.Time) NewMessage {
	id := uuid.NewString()
	return NewMessage{ID: id, Role: MessageRoleAssistant, Content: content, CreatedAt: at}
}

func TestCreateMessages_RoundTrip(t *testing.T) {
	f := newTurnFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	user := NewMessage{
		ID:        uuid.NewString(),
		Role:      MessageRoleUser,
		Content:   "What is the leave policy?",
		CreatedAt: now,
		Citations: []Citation{
			NewKnowledgeBaseCitation(f.kb.ID, "policy.pdf", "25 days of leave"),
			NewDocumentCitation(f.doc.ID, "notes.md", "I took 5 days in May"),
		},
	}
	assistant := assistantMessage("You have 20 days left.", now.Add(time.Millisecond))
	assistant.Artifacts = []Artifact{{
		ID: uuid.NewString(), ChatMessageID: assistant.ID, FileExtension: ".txt", Label: "Summary",
		Content: "20 days", CreatedAt: now,
	}}
	assistant.FollowUps = []FollowUpQuestion{
		{ID: uuid.NewString(), ChatMessageID: assistant.ID, Content: "Can I carry days over?"},
		{ID: uuid.NewString(), ChatMessageID: assistant.ID, Content: "Who approves leave?"},
	}

	got, err := f.store.CreateMessages(ctx, CreateMessagesInput{
		ChatID:   f.chat.ID,
		Messages: []NewMessage{user, assistant},
	})
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, user.ID, got[0].ID)
	assert.Equal(t, MessageRoleUser, got[0].Role)
	require.Len(t, got[0].Citations, 2)

	kbCitation := got[0].Citations[0]
	assert.Equal(t, ContextKnowledgeBase, kbCitation.ContextType)
	assert.Equal(t, f.kb.ID, kbCitation.KnowledgeBaseID)
	assert.Empty(t, kbCitation.DocumentID)
	assert.Equal(t, "policy.pdf", kbCitation.SourceLabel)
	assert.Equal(t, "Handbook", kbCitation.KnowledgeBaseLabel)
	assert.Equal(t, "25 days of leave", kbCitation.Text)

	docCitation := got[0].Citations[1]
	assert.Equal(t, ContextDocumentLibrary, docCitation.ContextType)
	assert.Equal(t, f.doc.ID, docCitation.DocumentID)
	assert.Empty(t, docCitation.KnowledgeBaseID)
	assert.Equal(t, "notes.md", docCitation.SourceLabel)
	assert.Equal(t, "notes.md", docCitation.DocumentLabel)

	assert.Empty(t, got[0].Artifacts)
	assert.Empty(t, got[0].FollowUps)

	assert.Equal(t, assistant.ID, got[1].ID)
	assert.Empty(t, got[1].Citations)
	require.Len(t, got[1].Artifacts, 1)
	assert.Equal(t, "Summary", got[1].Artifacts[0].Label)
	assert.Equal(t, assistant.ID, got[1].Artifacts[0].ChatMessageID)
	require.Len(t, got[1].FollowUps, 2)
	assert.Equal(t, "Can I carry days over?", got[1].FollowUps[0].Content)
	assert.Equal(t, "Who approves leave?", got[1].FollowUps[1].Content)
}

func TestCreateMessages_InvalidCitationRollsBack(t *testing.T) {
	f := newTurnFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	bad := Citation{
		ContextType:     ContextKnowledgeBase,
		KnowledgeBaseID: f.kb.ID,
		DocumentID:      f.doc.ID,
		SourceLabel:     "both",
		Text:            "x",
	}
	user := NewMessage{ID: uuid.NewString(), Role: MessageRoleUser, Content: "hi", CreatedAt: now, Citations: []Citation{bad}}

	_, err := f.store.CreateMessages(ctx, CreateMessagesInput{ChatID: f.chat.ID, Messages: []NewMessage{user}})
	assert.ErrorIs(t, err, ErrPersistence)

	history, err := f.store.GetLastNMessagesByChatID(ctx, f.chat.ID, 24)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestCreateMessages_FailureLeavesNothingBehind(t *testing.T) {
	f := newTurnFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	user := NewMessage{ID: uuid.NewString(), Role: MessageRoleUser, Content: "hi", CreatedAt: now}
	assistant := assistantMessage("hello", now.Add(time.Millisecond))
	// A duplicate artifact id passes validation but violates the primary key,
	// failing the transaction after messages and citations were inserted.
	assistant.Citations = []Citation{NewKnowledgeBaseCitation(f.kb.ID, "a", "a")}
	dup := uuid.NewString()
	assistant.Artifacts = []Artifact{
		{ID: dup, ChatMessageID: assistant.ID, FileExtension: ".md", Label: "one", Content: "1", CreatedAt: now},
		{ID: dup, ChatMessageID: assistant.ID, FileExtension: ".md", Label: "two", Content: "2", CreatedAt: now},
	}

	_, err := f.store.CreateMessages(ctx, CreateMessagesInput{ChatID: f.chat.ID, Messages: []NewMessage{user, assistant}})
	require.ErrorIs(t, err, ErrPersistence)

	history, err := f.store.GetLastNMessagesByChatID(ctx, f.chat.ID, 24)
	require.NoError(t, err)
	assert.Empty(t, history, "the user message must not survive a failed turn")

	var citations int
	require.NoError(t, f.store.db.QueryRow("SELECT COUNT(*) FROM chat_message_citations").Scan(&citations))
	assert.Zero(t, citations)
}

func TestCreateMessages_RejectsOrphans(t *testing.T) {
	f := newTurnFixture(t)
	now := time.Now().UTC()

	assistant := assistantMessage("hello", now)
	assistant.FollowUps = []FollowUpQuestion{{ID: uuid.NewString(), ChatMessageID: "someone-else", Content: "?"}}
	_, err := f.store.CreateMessages(context.Background(), CreateMessagesInput{ChatID: f.chat.ID, Messages: []NewMessage{assistant}})
	assert.ErrorIs(t, err, ErrPersistence)

	user := NewMessage{ID: uuid.NewString(), Role: MessageRoleUser, Content: "hi", CreatedAt: now}
	user.Artifacts = []Artifact{{ID: uuid.NewString(), ChatMessageID: user.ID, Label: "x", CreatedAt: now}}
	_, err = f.store.CreateMessages(context.Background(), CreateMessagesInput{ChatID: f.chat.ID, Messages: []NewMessage{user}})
	assert.ErrorIs(t, err, ErrPersistence)
}

func TestCreateMessages_UnknownChat(t *testing.T) {
	f := newTurnFixture(t)
	msg := NewMessage{ID: uuid.NewString(), Role: MessageRoleUser, Content: "hi", CreatedAt: time.Now().UTC()}
	_, err := f.store.CreateMessages(context.Background(), CreateMessagesInput{ChatID: uuid.NewString(), Messages: []NewMessage{msg}})
	assert.ErrorIs(t, err, ErrPersistence)
}

func TestCreateMessages_ReplacesMessage(t *testing.T) {
	f := newTurnFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	user := NewMessage{ID: uuid.NewString(), Role: MessageRoleUser, Content: "hi", CreatedAt: now}
	old := assistantMessage("first answer", now.Add(time.Millisecond))
	old.FollowUps = []FollowUpQuestion{{ID: uuid.NewString(), ChatMessageID: old.ID, Content: "more?"}}
	_, err := f.store.CreateMessages(ctx, CreateMessagesInput{ChatID: f.chat.ID, Messages: []NewMessage{user, old}})
	require.NoError(t, err)

	fresh := assistantMessage("second answer", now.Add(2*time.Millisecond))
	got, err := f.store.CreateMessages(ctx, CreateMessagesInput{
		ChatID:            f.chat.ID,
		Messages:          []NewMessage{fresh},
		ReplacesMessageID: old.ID,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "second answer", got[0].Content)

	history, err := f.store.GetLastNMessagesByChatID(ctx, f.chat.ID, 24)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, user.ID, history[0].ID)
	assert.Equal(t, fresh.ID, history[1].ID)

	var followUps int
	require.NoError(t, f.store.db.QueryRow("SELECT COUNT(*) FROM chat_message_follow_ups").Scan(&followUps))
	assert.Zero(t, followUps, "the replaced message's follow-ups cascade away")
}

func TestCreateMessages_ReplacingMissingMessageFails(t *testing.T) {
	f := newTurnFixture(t)
	ctx := context.Background()

	fresh := assistantMessage("answer", time.Now().UTC())
	_, err := f.store.CreateMessages(ctx, CreateMessagesInput{
		ChatID:            f.chat.ID,
		Messages:          []NewMessage{fresh},
		ReplacesMessageID: uuid.NewString(),
	})
	require.ErrorIs(t, err, ErrPersistence)

	history, err := f.store.GetLastNMessagesByChatID(ctx, f.chat.ID, 24)
	require.NoError(t, err)
	assert.Empty(t, history)
}
