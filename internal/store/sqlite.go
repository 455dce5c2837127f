package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"go.uber.org/zap"

	"gwi.com/chatcore/internal/logging"
)

type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewSQLiteStore(dataSourceName string, logger *zap.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", withForeignKeys(dataSourceName))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps ":memory:" databases consistent and
	// serialises writers the way SQLite wants anyway.
	db.SetMaxOpenConns(1)
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db, logger: logging.OrNop(logger)}
	if err = store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// withForeignKeys turns on foreign key enforcement for every connection the
// driver opens.
func withForeignKeys(dsn string) string {
	if strings.Contains(dsn, "_foreign_keys=") || strings.Contains(dsn, "_fk=") {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&_foreign_keys=on"
	}
	return dsn + "?_foreign_keys=on"
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS users (
        id TEXT PRIMARY KEY, -- UUID
        role TEXT NOT NULL DEFAULT 'user' CHECK (role IN ('user', 'admin')),
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS ai_providers (
        id TEXT PRIMARY KEY,
        type INTEGER NOT NULL,
        label TEXT NOT NULL,
        api_key TEXT NOT NULL DEFAULT '',
        api_endpoint TEXT NOT NULL DEFAULT '',
        deployment_id TEXT NOT NULL DEFAULT '',
        deleted_at DATETIME
    );

    CREATE TABLE IF NOT EXISTS models (
        id TEXT PRIMARY KEY,
        name TEXT NOT NULL,
        external_id TEXT NOT NULL,
        ai_provider_id TEXT NOT NULL,
        deleted_at DATETIME,
        FOREIGN KEY (ai_provider_id) REFERENCES ai_providers (id)
    );

    CREATE TABLE IF NOT EXISTS chats (
        id TEXT PRIMARY KEY, -- UUID
        user_id TEXT NOT NULL,
        model_id TEXT,
        origin_prompt_id TEXT,
        summary TEXT,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        FOREIGN KEY (user_id) REFERENCES users (id)
    );

    CREATE TABLE IF NOT EXISTS messages (
        id TEXT PRIMARY KEY, -- UUID
        chat_id TEXT NOT NULL,
        role TEXT NOT NULL CHECK (role IN ('user', 'assistant', 'system')),
        content TEXT NOT NULL,
        created_at DATETIME NOT NULL,
        FOREIGN KEY (chat_id) REFERENCES chats (id) ON DELETE CASCADE
    );
    CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages (chat_id, created_at);

    CREATE TABLE IF NOT EXISTS kb_providers (
        id TEXT PRIMARY KEY,
        type TEXT NOT NULL,
        label TEXT NOT NULL,
        config TEXT NOT NULL DEFAULT '{}',
        deleted_at DATETIME
    );

    CREATE TABLE IF NOT EXISTS knowledge_bases (
        id TEXT PRIMARY KEY,
        label TEXT NOT NULL,
        external_id TEXT NOT NULL,
        kb_provider_id TEXT NOT NULL,
        deleted_at DATETIME,
        FOREIGN KEY (kb_provider_id) REFERENCES kb_providers (id)
    );

    CREATE TABLE IF NOT EXISTS user_kb_settings (
        user_id TEXT PRIMARY KEY,
        max_results INTEGER,
        min_score REAL,
        FOREIGN KEY (user_id) REFERENCES users (id)
    );

    CREATE TABLE IF NOT EXISTS document_upload_providers (
        id TEXT PRIMARY KEY,
        label TEXT NOT NULL,
        deleted_at DATETIME
    );

    CREATE TABLE IF NOT EXISTS system_config (
        id INTEGER PRIMARY KEY CHECK (id = 1),
        document_library_provider_id TEXT
    );

    CREATE TABLE IF NOT EXISTS documents (
        id TEXT PRIMARY KEY,
        user_id TEXT NOT NULL,
        document_upload_provider_id TEXT NOT NULL,
        filename TEXT NOT NULL,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        FOREIGN KEY (user_id) REFERENCES users (id),
        FOREIGN KEY (document_upload_provider_id) REFERENCES document_upload_providers (id)
    );

    CREATE TABLE IF NOT EXISTS embeddings (
        id TEXT PRIMARY KEY,
        document_id TEXT NOT NULL,
        content TEXT NOT NULL,
        embedding_json TEXT NOT NULL, -- JSON array of float32
        FOREIGN KEY (document_id) REFERENCES documents (id) ON DELETE CASCADE
    );

    -- Citation, artifact and follow-up rows are never updated; they go away
    -- with their message.
    CREATE TABLE IF NOT EXISTS chat_message_citations (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        chat_message_id TEXT NOT NULL,
        knowledge_base_id TEXT,
        document_id TEXT,
        source_label TEXT NOT NULL,
        citation TEXT NOT NULL,
        FOREIGN KEY (chat_message_id) REFERENCES messages (id) ON DELETE CASCADE,
        CHECK ((knowledge_base_id IS NULL) <> (document_id IS NULL))
    );

    CREATE TABLE IF NOT EXISTS chat_artifacts (
        id TEXT PRIMARY KEY,
        chat_message_id TEXT NOT NULL,
        file_extension TEXT NOT NULL,
        label TEXT NOT NULL,
        content TEXT NOT NULL,
        created_at DATETIME NOT NULL,
        FOREIGN KEY (chat_message_id) REFERENCES messages (id) ON DELETE CASCADE
    );

    CREATE TABLE IF NOT EXISTS chat_message_follow_ups (
        id TEXT PRIMARY KEY,
        chat_message_id TEXT NOT NULL,
        content TEXT NOT NULL,
        FOREIGN KEY (chat_message_id) REFERENCES messages (id) ON DELETE CASCADE
    );
    `
	_, err := s.db.Exec(schema)
	return err
}

// User methods
func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (*User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, "SELECT id, role, created_at FROM users WHERE id = ?", id).
		Scan(&user.ID, &user.Role, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // User not found
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &user, nil
}

func (s *SQLiteStore) CreateUser(ctx context.Context, id string, role UserRole) (*User, error) {
	_, err := s.db.ExecContext(ctx, "INSERT INTO users (id, role) VALUES (?, ?)", id, role)
	if err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	return s.GetUserByID(ctx, id)
}

// Chat methods
func (s *SQLiteStore) CreateChat(ctx context.Context, chat *Chat) error {
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO chats (id, user_id, model_id, origin_prompt_id, summary, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		chat.ID, chat.UserID, nullString(chat.ModelID), chat.OriginPromptID, chat.Summary, chat.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to execute chat insert: %w", err)
	}
	return nil
}

// GetChatByID returns nil, nil when the chat does not exist. Ownership is
// checked by the caller.
func (s *SQLiteStore) GetChatByID(ctx context.Context, chatID string) (*Chat, error) {
	var chat Chat
	var modelID, originPromptID, summary sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT id, user_id, model_id, origin_prompt_id, summary, created_at FROM chats WHERE id = ?", chatID).
		Scan(&chat.ID, &chat.UserID, &modelID, &originPromptID, &summary, &chat.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get chat: %w", err)
	}
	chat.ModelID = modelID.String
	if originPromptID.Valid {
		chat.OriginPromptID = &originPromptID.String
	}
	if summary.Valid {
		chat.Summary = &summary.String
	}
	return &chat, nil
}

// GetLastNMessagesByChatID returns the newest n messages of a chat in
// chronological order. Only the message columns are loaded.
func (s *SQLiteStore) GetLastNMessagesByChatID(ctx context.Context, chatID string, n int) ([]Message, error) {
	query := `
        SELECT id, chat_id, role, content, created_at FROM (
            SELECT id, chat_id, role, content, created_at, rowid AS seq
            FROM messages
            WHERE chat_id = ?
            ORDER BY created_at DESC, seq DESC
            LIMIT ?
        ) ORDER BY created_at ASC, seq ASC
    `

	rows, err := s.db.QueryContext(ctx, query, chatID, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.ChatID, &msg.Role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return messages, nil
}

// Generation backend resolution
func (s *SQLiteStore) GetModel(ctx context.Context, modelID string) (*Model, *AiProvider, error) {
	var m Model
	var p AiProvider
	err := s.db.QueryRowContext(ctx, `
        SELECT m.id, m.name, m.external_id, m.ai_provider_id,
               p.id, p.type, p.label, p.api_key, p.api_endpoint, p.deployment_id
        FROM models m
        INNER JOIN ai_providers p ON p.id = m.ai_provider_id
        WHERE m.id = ? AND m.deleted_at IS NULL AND p.deleted_at IS NULL`, modelID).
		Scan(&m.ID, &m.Name, &m.ExternalID, &m.AiProviderID,
			&p.ID, &p.Type, &p.Label, &p.APIKey, &p.APIEndpoint, &p.DeploymentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("failed to get model: %w", err)
	}
	return &m, &p, nil
}

// Knowledge base resolution
func (s *SQLiteStore) GetKnowledgeBase(ctx context.Context, knowledgeBaseID string) (*KnowledgeBase, *KbProvider, error) {
	var kb KnowledgeBase
	var p KbProvider
	err := s.db.QueryRowContext(ctx, `
        SELECT kb.id, kb.label, kb.external_id, kb.kb_provider_id,
               p.id, p.type, p.label, p.config
        FROM knowledge_bases kb
        INNER JOIN kb_providers p ON p.id = kb.kb_provider_id
        WHERE kb.id = ? AND kb.deleted_at IS NULL AND p.deleted_at IS NULL`, knowledgeBaseID).
		Scan(&kb.ID, &kb.Label, &kb.ExternalID, &kb.KbProviderID, &p.ID, &p.Type, &p.Label, &p.Config)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("failed to get knowledge base: %w", err)
	}
	return &kb, &p, nil
}

func (s *SQLiteStore) GetUserKbSettings(ctx context.Context, userID string) (KbSettings, error) {
	var settings KbSettings
	var maxResults sql.NullInt64
	var minScore sql.NullFloat64
	err := s.db.QueryRowContext(ctx,
		"SELECT max_results, min_score FROM user_kb_settings WHERE user_id = ?", userID).
		Scan(&maxResults, &minScore)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return settings, nil
		}
		return settings, fmt.Errorf("failed to get kb settings: %w", err)
	}
	if maxResults.Valid {
		v := int(maxResults.Int64)
		settings.MaxResults = &v
	}
	if minScore.Valid {
		settings.MinScore = &minScore.Float64
	}
	return settings, nil
}

// DocumentLibraryProviderID returns the system-wide document library
// provider, or "" when none is configured or the configured one has been
// soft-deleted.
func (s *SQLiteStore) DocumentLibraryProviderID(ctx context.Context) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
        SELECT dup.id
        FROM system_config sc
        INNER JOIN document_upload_providers dup ON dup.id = sc.document_library_provider_id
        WHERE sc.id = 1 AND dup.deleted_at IS NULL`).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		s.logger.Error("failed to read system config", zap.Error(err))
		return "", fmt.Errorf("failed to read system config: %w", err)
	}
	return id, nil
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
