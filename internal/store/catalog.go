package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Catalog rows (providers, models, knowledge bases) are administered
// elsewhere; these writers exist for seeding and tests.

func (s *SQLiteStore) CreateAiProvider(ctx context.Context, p *AiProvider) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO ai_providers (id, type, label, api_key, api_endpoint, deployment_id) VALUES (?, ?, ?, ?, ?, ?)",
		p.ID, p.Type, p.Label, p.APIKey, p.APIEndpoint, p.DeploymentID)
	if err != nil {
		return fmt.Errorf("failed to insert ai provider: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CreateModel(ctx context.Context, m *Model) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO models (id, name, external_id, ai_provider_id) VALUES (?, ?, ?, ?)",
		m.ID, m.Name, m.ExternalID, m.AiProviderID)
	if err != nil {
		return fmt.Errorf("failed to insert model: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CreateKbProvider(ctx context.Context, p *KbProvider) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Config == "" {
		p.Config = "{}"
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO kb_providers (id, type, label, config) VALUES (?, ?, ?, ?)",
		p.ID, p.Type, p.Label, p.Config)
	if err != nil {
		return fmt.Errorf("failed to insert kb provider: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CreateKnowledgeBase(ctx context.Context, kb *KnowledgeBase) error {
	if kb.ID == "" {
		kb.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO knowledge_bases (id, label, external_id, kb_provider_id) VALUES (?, ?, ?, ?)",
		kb.ID, kb.Label, kb.ExternalID, kb.KbProviderID)
	if err != nil {
		return fmt.Errorf("failed to insert knowledge base: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SetUserKbSettings(ctx context.Context, userID string, settings KbSettings) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO user_kb_settings (user_id, max_results, min_score) VALUES (?, ?, ?)
        ON CONFLICT (user_id) DO UPDATE SET max_results = excluded.max_results, min_score = excluded.min_score`,
		userID, settings.MaxResults, settings.MinScore)
	if err != nil {
		return fmt.Errorf("failed to save kb settings: %w", err)
	}
	return nil
}

// CreateDocumentUploadProvider registers a provider and returns its id.
func (s *SQLiteStore) CreateDocumentUploadProvider(ctx context.Context, label string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO document_upload_providers (id, label) VALUES (?, ?)", id, label)
	if err != nil {
		return "", fmt.Errorf("failed to insert document upload provider: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) DeleteDocumentUploadProvider(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE document_upload_providers SET deleted_at = ? WHERE id = ?", time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to delete document upload provider: %w", err)
	}
	return nil
}

// SetDocumentLibraryProvider points the system configuration at a document
// upload provider.
func (s *SQLiteStore) SetDocumentLibraryProvider(ctx context.Context, providerID string) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO system_config (id, document_library_provider_id) VALUES (1, ?)
        ON CONFLICT (id) DO UPDATE SET document_library_provider_id = excluded.document_library_provider_id`,
		providerID)
	if err != nil {
		return fmt.Errorf("failed to save system config: %w", err)
	}
	return nil
}
