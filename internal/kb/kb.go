// Package kb searches external knowledge bases for passages relevant to a
// user message.
package kb

import (
	"context"
	"errors"
)

var (
	ErrKnowledgeBaseNotFound = errors.New("knowledge base not found")
	ErrUnsupportedProvider   = errors.New("unsupported knowledge base provider")
)

// SearchInput addresses one knowledge base by its provider-side id.
type SearchInput struct {
	KnowledgeBaseID string
	Query           string
	MaxResults      int
	MinScore        float64
}

type Citation struct {
	Label string
}

type Result struct {
	Content  string
	Score    float64
	Citation Citation
}

// SearchResponse lists results in the provider's relevance order.
type SearchResponse struct {
	Results []Result
}

type Source interface {
	Search(ctx context.Context, input SearchInput) (*SearchResponse, error)
}
