package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrPersistence is the only error callers of CreateMessages see; the cause
// is logged together with the chat id.
var ErrPersistence = errors.New("error creating messages")

// NewMessage is a message whose id was minted before persistence so that
// its artifacts and follow-ups can already point at it.
type NewMessage struct {
	ID        string
	Role      MessageRole
	Content   string
	CreatedAt time.Time
	Citations []Citation
	Artifacts []Artifact
	FollowUps []FollowUpQuestion
}

type CreateMessagesInput struct {
	ChatID   string
	Messages []NewMessage
	// ReplacesMessageID, when set, names a trailing assistant message that is
	// deleted in the same transaction (regenerate).
	ReplacesMessageID string
}

// CreateMessages writes a whole turn atomically and returns the stored
// messages hydrated with citations, artifacts and follow-up questions.
func (s *SQLiteStore) CreateMessages(ctx context.Context, input CreateMessagesInput) ([]Message, error) {
	if err := s.createMessages(ctx, input); err != nil {
		s.logger.Error("error creating messages", zap.String("chatId", input.ChatID), zap.Error(err))
		return nil, ErrPersistence
	}

	ids := make([]string, len(input.Messages))
	for i, m := range input.Messages {
		ids[i] = m.ID
	}
	messages, err := s.GetMessagesByIDs(ctx, input.ChatID, ids)
	if err != nil {
		s.logger.Error("error reading back created messages", zap.String("chatId", input.ChatID), zap.Error(err))
		return nil, ErrPersistence
	}
	return messages, nil
}

func (s *SQLiteStore) createMessages(ctx context.Context, input CreateMessagesInput) error {
	if err := validateTurn(input); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if input.ReplacesMessageID != "" {
		res, err := tx.ExecContext(ctx,
			"DELETE FROM messages WHERE id = ? AND chat_id = ? AND role = ?",
			input.ReplacesMessageID, input.ChatID, MessageRoleAssistant)
		if err != nil {
			return fmt.Errorf("failed to delete replaced message: %w", err)
		}
		if affected, _ := res.RowsAffected(); affected != 1 {
			return fmt.Errorf("replaced message %s not found", input.ReplacesMessageID)
		}
	}

	msgArgs := make([]any, 0, len(input.Messages)*5)
	for _, m := range input.Messages {
		msgArgs = append(msgArgs, m.ID, input.ChatID, m.Role, m.Content, m.CreatedAt)
	}
	if err := batchInsert(ctx, tx, "messages", []string{"id", "chat_id", "role", "content", "created_at"}, msgArgs); err != nil {
		return err
	}

	for _, m := range input.Messages {
		if len(m.Citations) == 0 {
			continue
		}
		args := make([]any, 0, len(m.Citations)*5)
		for _, c := range m.Citations {
			var kbID, docID sql.NullString
			switch c.ContextType {
			case ContextKnowledgeBase:
				kbID = nullString(c.KnowledgeBaseID)
			case ContextDocumentLibrary:
				docID = nullString(c.DocumentID)
			}
			args = append(args, m.ID, kbID, docID, c.SourceLabel, c.Text)
		}
		if err := batchInsert(ctx, tx, "chat_message_citations",
			[]string{"chat_message_id", "knowledge_base_id", "document_id", "source_label", "citation"}, args); err != nil {
			return err
		}
	}

	for _, m := range input.Messages {
		if len(m.Artifacts) == 0 {
			continue
		}
		args := make([]any, 0, len(m.Artifacts)*6)
		for _, a := range m.Artifacts {
			args = append(args, a.ID, m.ID, a.FileExtension, a.Label, a.Content, a.CreatedAt)
		}
		if err := batchInsert(ctx, tx, "chat_artifacts",
			[]string{"id", "chat_message_id", "file_extension", "label", "content", "created_at"}, args); err != nil {
			return err
		}
	}

	for _, m := range input.Messages {
		if len(m.FollowUps) == 0 {
			continue
		}
		args := make([]any, 0, len(m.FollowUps)*3)
		for _, f := range m.FollowUps {
			args = append(args, f.ID, m.ID, f.Content)
		}
		if err := batchInsert(ctx, tx, "chat_message_follow_ups",
			[]string{"id", "chat_message_id", "content"}, args); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit messages: %w", err)
	}
	return nil
}

func validateTurn(input CreateMessagesInput) error {
	if input.ChatID == "" {
		return errors.New("chat id is required")
	}
	if len(input.Messages) == 0 {
		return errors.New("no messages to create")
	}
	for _, m := range input.Messages {
		if m.ID == "" {
			return errors.New("message id is required")
		}
		for _, c := range m.Citations {
			if err := c.Validate(); err != nil {
				return fmt.Errorf("message %s: %w", m.ID, err)
			}
		}
		if m.Role != MessageRoleAssistant && (len(m.Artifacts) > 0 || len(m.FollowUps) > 0) {
			return fmt.Errorf("message %s: only assistant messages own artifacts and follow-ups", m.ID)
		}
		for _, a := range m.Artifacts {
			if a.ID == "" || a.ChatMessageID != m.ID {
				return fmt.Errorf("message %s: artifact %q is not stamped with its owner", m.ID, a.ID)
			}
		}
		for _, f := range m.FollowUps {
			if f.ID == "" || f.ChatMessageID != m.ID {
				return fmt.Errorf("message %s: follow-up %q is not stamped with its owner", m.ID, f.ID)
			}
		}
	}
	return nil
}

// batchInsert writes len(args)/len(columns) rows with a single statement.
func batchInsert(ctx context.Context, tx *sql.Tx, table string, columns []string, args []any) error {
	if len(args) == 0 {
		return nil
	}
	row := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ") + ")"
	rows := len(args) / len(columns)
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
		table, strings.Join(columns, ", "), strings.TrimSuffix(strings.Repeat(row+", ", rows), ", "))

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert into %s: %w", table, err)
	}
	return nil
}

// GetMessagesByIDs loads the given messages of a chat with their citations
// (labels resolved), artifacts and follow-up questions.
func (s *SQLiteStore) GetMessagesByIDs(ctx context.Context, chatID string, ids []string) ([]Message, error) {
	if len(ids) == 0 {
		return []Message{}, nil
	}
	in, idArgs := inClause(ids)

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, chat_id, role, content, created_at FROM messages WHERE chat_id = ? AND id IN "+in+
			" ORDER BY created_at ASC, rowid ASC",
		append([]any{chatID}, idArgs...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := make([]Message, 0, len(ids))
	index := make(map[string]int, len(ids))
	for rows.Next() {
		msg := Message{
			Citations: []Citation{},
			Artifacts: []Artifact{},
			FollowUps: []FollowUpQuestion{},
		}
		if err := rows.Scan(&msg.ID, &msg.ChatID, &msg.Role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		index[msg.ID] = len(messages)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	rows.Close()

	if err := s.attachCitations(ctx, in, idArgs, messages, index); err != nil {
		return nil, err
	}
	if err := s.attachArtifacts(ctx, in, idArgs, messages, index); err != nil {
		return nil, err
	}
	if err := s.attachFollowUps(ctx, in, idArgs, messages, index); err != nil {
		return nil, err
	}
	return messages, nil
}

func (s *SQLiteStore) attachCitations(ctx context.Context, in string, args []any, messages []Message, index map[string]int) error {
	rows, err := s.db.QueryContext(ctx, `
        SELECT c.chat_message_id, c.knowledge_base_id, c.document_id, c.source_label, c.citation,
               kb.label, d.filename
        FROM chat_message_citations c
        LEFT JOIN knowledge_bases kb ON kb.id = c.knowledge_base_id
        LEFT JOIN documents d ON d.id = c.document_id
        WHERE c.chat_message_id IN `+in+`
        ORDER BY c.id ASC`, args...)
	if err != nil {
		return fmt.Errorf("failed to query citations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var messageID string
		var kbID, docID, kbLabel, docLabel sql.NullString
		var c Citation
		if err := rows.Scan(&messageID, &kbID, &docID, &c.SourceLabel, &c.Text, &kbLabel, &docLabel); err != nil {
			return fmt.Errorf("failed to scan citation row: %w", err)
		}
		if kbID.Valid {
			c.ContextType = ContextKnowledgeBase
			c.KnowledgeBaseID = kbID.String
			c.KnowledgeBaseLabel = kbLabel.String
		} else {
			c.ContextType = ContextDocumentLibrary
			c.DocumentID = docID.String
			c.DocumentLabel = docLabel.String
		}
		if i, ok := index[messageID]; ok {
			messages[i].Citations = append(messages[i].Citations, c)
		}
	}
	return rows.Err()
}

func (s *SQLiteStore) attachArtifacts(ctx context.Context, in string, args []any, messages []Message, index map[string]int) error {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, chat_message_id, file_extension, label, content, created_at FROM chat_artifacts WHERE chat_message_id IN "+in+
			" ORDER BY rowid ASC", args...)
	if err != nil {
		return fmt.Errorf("failed to query artifacts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var a Artifact
		if err := rows.Scan(&a.ID, &a.ChatMessageID, &a.FileExtension, &a.Label, &a.Content, &a.CreatedAt); err != nil {
			return fmt.Errorf("failed to scan artifact row: %w", err)
		}
		if i, ok := index[a.ChatMessageID]; ok {
			messages[i].Artifacts = append(messages[i].Artifacts, a)
		}
	}
	return rows.Err()
}

func (s *SQLiteStore) attachFollowUps(ctx context.Context, in string, args []any, messages []Message, index map[string]int) error {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, chat_message_id, content FROM chat_message_follow_ups WHERE chat_message_id IN "+in+
			" ORDER BY rowid ASC", args...)
	if err != nil {
		return fmt.Errorf("failed to query follow-ups: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var f FollowUpQuestion
		if err := rows.Scan(&f.ID, &f.ChatMessageID, &f.Content); err != nil {
			return fmt.Errorf("failed to scan follow-up row: %w", err)
		}
		if i, ok := index[f.ChatMessageID]; ok {
			messages[i].FollowUps = append(messages[i].FollowUps, f)
		}
	}
	return rows.Err()
}

func inClause(ids []string) (string, []any) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return "(" + strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ") + ")", args
}
