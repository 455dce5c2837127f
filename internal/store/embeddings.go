package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gwi.com/chatcore/internal/vector"
)

const (
	DefaultMinThreshold = 0.5
	DefaultMatchCount   = 10
)

// EmbeddingQuery scopes a vector search to one user's documents held by one
// document upload provider.
type EmbeddingQuery struct {
	UserID       string
	Vector       []float32
	MinThreshold float64
	MatchCount   int
	ProviderID   string
}

// DocumentChunk is one embedded passage of a document.
type DocumentChunk struct {
	Content string
	Vector  []float32
}

// QueryEmbeddings ranks the caller's passages by cosine similarity
// (score = 1 - cosine distance), keeping only scores above MinThreshold,
// best first, at most MatchCount of them.
func (s *SQLiteStore) QueryEmbeddings(ctx context.Context, q EmbeddingQuery) ([]EmbeddingMatch, error) {
	if q.UserID == "" || q.ProviderID == "" {
		return nil, fmt.Errorf("embedding query requires a user and a provider")
	}
	if q.MatchCount <= 0 {
		q.MatchCount = DefaultMatchCount
	}

	rows, err := s.db.QueryContext(ctx, `
        SELECT e.id, e.content, e.embedding_json, d.filename, d.id
        FROM embeddings e
        INNER JOIN documents d ON e.document_id = d.id
        INNER JOIN document_upload_providers dup ON d.document_upload_provider_id = dup.id
        WHERE d.user_id = ?
          AND dup.id = ?
          AND dup.deleted_at IS NULL`, q.UserID, q.ProviderID)
	if err != nil {
		s.logger.Error("error retrieving embeddings from the database",
			zap.String("userId", q.UserID),
			zap.Float64("minThreshold", q.MinThreshold),
			zap.Int("matchCount", q.MatchCount),
			zap.Error(err))
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer rows.Close()

	var matches []EmbeddingMatch
	for rows.Next() {
		var id, content, embeddingJSON, filename, documentID string
		if err := rows.Scan(&id, &content, &embeddingJSON, &filename, &documentID); err != nil {
			return nil, fmt.Errorf("failed to scan embedding row: %w", err)
		}

		var stored []float32
		if err := json.Unmarshal([]byte(embeddingJSON), &stored); err != nil {
			s.logger.Warn("skipping embedding with unreadable vector", zap.String("embeddingId", id), zap.Error(err))
			continue
		}
		distance, err := vector.CosineDistance(q.Vector, stored)
		if err != nil {
			s.logger.Warn("skipping embedding", zap.String("embeddingId", id), zap.Error(err))
			continue
		}

		score := 1 - distance
		if score <= q.MinThreshold {
			continue
		}
		matches = append(matches, EmbeddingMatch{
			ID:       id,
			Score:    score,
			Citation: NewDocumentCitation(documentID, filename, content),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate embeddings: %w", err)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > q.MatchCount {
		matches = matches[:q.MatchCount]
	}
	return matches, nil
}

// CreateDocument stores a document and all of its embedded chunks in one
// transaction.
func (s *SQLiteStore) CreateDocument(ctx context.Context, doc *Document, chunks []DocumentChunk) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin document transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"INSERT INTO documents (id, user_id, document_upload_provider_id, filename, created_at) VALUES (?, ?, ?, ?, ?)",
		doc.ID, doc.UserID, doc.DocumentUploadProviderID, doc.Filename, doc.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO embeddings (id, document_id, content, embedding_json) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare embedding insert: %w", err)
	}
	defer stmt.Close()

	for _, chunk := range chunks {
		embeddingBytes, err := json.Marshal(chunk.Vector)
		if err != nil {
			return fmt.Errorf("failed to marshal embedding: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, uuid.NewString(), doc.ID, chunk.Content, string(embeddingBytes)); err != nil {
			return fmt.Errorf("failed to insert embedding: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit document: %w", err)
	}
	return nil
}
