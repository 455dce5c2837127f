package store

import (
	"errors"
	"time"
)

type UserRole string

const (
	RoleUser  UserRole = "user"
	RoleAdmin UserRole = "admin"
)

type User struct {
	ID        string    `json:"id"`
	Role      UserRole  `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

type Chat struct {
	ID             string    `json:"id"`
	UserID         string    `json:"userId"`
	ModelID        string    `json:"modelId"` // Empty until a model has been resolved
	OriginPromptID *string   `json:"originPromptId,omitempty"`
	Summary        *string   `json:"summary,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
	MessageRoleSystem    MessageRole = "system"
)

// ContextType discriminates the two citation variants.
type ContextType string

const (
	ContextKnowledgeBase   ContextType = "knowledge_base"
	ContextDocumentLibrary ContextType = "document_library"
)

var ErrInvalidCitation = errors.New("citation must reference exactly one of knowledge base or document")

// Citation points a message at the passage that supports it. Build values
// with NewKnowledgeBaseCitation or NewDocumentCitation.
type Citation struct {
	ContextType     ContextType `json:"contextType"`
	KnowledgeBaseID string      `json:"knowledgeBaseId,omitempty"`
	DocumentID      string      `json:"documentId,omitempty"`
	SourceLabel     string      `json:"sourceLabel"`
	Text            string      `json:"citation"`

	// Resolved on read-back only.
	KnowledgeBaseLabel string `json:"knowledgeBaseLabel,omitempty"`
	DocumentLabel      string `json:"documentLabel,omitempty"`
}

func NewKnowledgeBaseCitation(knowledgeBaseID, sourceLabel, text string) Citation {
	return Citation{
		ContextType:     ContextKnowledgeBase,
		KnowledgeBaseID: knowledgeBaseID,
		SourceLabel:     sourceLabel,
		Text:            text,
	}
}

func NewDocumentCitation(documentID, sourceLabel, text string) Citation {
	return Citation{
		ContextType: ContextDocumentLibrary,
		DocumentID:  documentID,
		SourceLabel: sourceLabel,
		Text:        text,
	}
}

func (c Citation) Validate() error {
	switch c.ContextType {
	case ContextKnowledgeBase:
		if c.KnowledgeBaseID == "" || c.DocumentID != "" {
			return ErrInvalidCitation
		}
	case ContextDocumentLibrary:
		if c.DocumentID == "" || c.KnowledgeBaseID != "" {
			return ErrInvalidCitation
		}
	default:
		return ErrInvalidCitation
	}
	return nil
}

type Artifact struct {
	ID            string    `json:"id"`
	ChatMessageID string    `json:"chatMessageId"`
	FileExtension string    `json:"fileExtension"`
	Label         string    `json:"label"`
	Content       string    `json:"content"`
	CreatedAt     time.Time `json:"createdAt"`
}

type FollowUpQuestion struct {
	ID            string `json:"id"`
	ChatMessageID string `json:"chatMessageId"`
	Content       string `json:"content"`
}

// Message is a chat message hydrated with everything attached to it.
type Message struct {
	ID        string             `json:"id"`
	ChatID    string             `json:"chatId"`
	Role      MessageRole        `json:"role"`
	Content   string             `json:"content"`
	CreatedAt time.Time          `json:"messagedAt"`
	Citations []Citation         `json:"citations"`
	Artifacts []Artifact         `json:"artifacts"`
	FollowUps []FollowUpQuestion `json:"followUpQuestions"`
}

// EmbeddingMatch is one personal-document passage returned by vector search.
type EmbeddingMatch struct {
	ID       string   `json:"id"`
	Score    float64  `json:"score"`
	Citation Citation `json:"citation"`
}

type Document struct {
	ID                       string    `json:"id"`
	UserID                   string    `json:"userId"`
	DocumentUploadProviderID string    `json:"documentUploadProviderId"`
	Filename                 string    `json:"filename"`
	CreatedAt                time.Time `json:"createdAt"`
}

type KnowledgeBase struct {
	ID           string `json:"id"`
	Label        string `json:"label"`
	ExternalID   string `json:"externalId"`
	KbProviderID string `json:"kbProviderId"`
}

type KbProvider struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Label  string `json:"label"`
	Config string `json:"-"` // Provider specific JSON
}

type AiProvider struct {
	ID           string `json:"id"`
	Type         int    `json:"type"`
	Label        string `json:"label"`
	APIKey       string `json:"-"`
	APIEndpoint  string `json:"apiEndpoint,omitempty"`
	DeploymentID string `json:"deploymentId,omitempty"`
}

type Model struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ExternalID   string `json:"externalId"`
	AiProviderID string `json:"aiProviderId"`
}

// KbSettings are a user's advanced knowledge-base search settings. Nil
// fields mean "use the default".
type KbSettings struct {
	MaxResults *int
	MinScore   *float64
}
