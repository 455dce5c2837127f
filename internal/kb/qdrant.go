package kb

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"gwi.com/chatcore/internal/ai"
	"gwi.com/chatcore/internal/logging"
)

// QdrantConfig is the JSON stored in kb_providers.config for Qdrant
// providers. Each knowledge base maps to one collection.
type QdrantConfig struct {
	Address     string `json:"address"`
	TextField   string `json:"textField"`
	SourceField string `json:"sourceField"`
}

func ParseQdrantConfig(raw string) (QdrantConfig, error) {
	cfg := QdrantConfig{Address: "localhost:6334", TextField: "text", SourceField: "source"}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
			return cfg, fmt.Errorf("invalid qdrant provider config: %w", err)
		}
	}
	if cfg.Address == "" {
		return cfg, fmt.Errorf("invalid qdrant provider config: address is required")
	}
	return cfg, nil
}

// QdrantSource embeds the query and runs a points search over the
// knowledge base's collection.
type QdrantSource struct {
	points   qdrant.PointsClient
	conn     *grpc.ClientConn
	embedder ai.Embedder
	cfg      QdrantConfig
	logger   *zap.Logger
}

func NewQdrantSource(cfg QdrantConfig, embedder ai.Embedder, logger *zap.Logger) (*QdrantSource, error) {
	conn, err := grpc.NewClient(cfg.Address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Qdrant at %s: %w", cfg.Address, err)
	}
	s := newQdrantSource(qdrant.NewPointsClient(conn), embedder, cfg, logger)
	s.conn = conn
	return s, nil
}

func newQdrantSource(points qdrant.PointsClient, embedder ai.Embedder, cfg QdrantConfig, logger *zap.Logger) *QdrantSource {
	return &QdrantSource{points: points, embedder: embedder, cfg: cfg, logger: logging.OrNop(logger)}
}

func (s *QdrantSource) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

func (s *QdrantSource) Search(ctx context.Context, input SearchInput) (*SearchResponse, error) {
	vectors, err := s.embedder.Embed(ctx, []string{input.Query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed knowledge base query: %w", err)
	}

	scoreThreshold := float32(input.MinScore)
	searchReq := &qdrant.SearchPoints{
		CollectionName: input.KnowledgeBaseID,
		Vector:         vectors[0],
		Limit:          uint64(input.MaxResults),
		ScoreThreshold: &scoreThreshold,
		WithPayload: &qdrant.WithPayloadSelector{
			SelectorOptions: &qdrant.WithPayloadSelector_Include{
				Include: &qdrant.PayloadIncludeSelector{
					Fields: []string{s.cfg.TextField, s.cfg.SourceField},
				},
			},
		},
	}

	searchResp, err := s.points.Search(ctx, searchReq)
	if err != nil {
		return nil, fmt.Errorf("failed to search in Qdrant: %w", err)
	}

	s.logger.Debug("qdrant search finished",
		zap.String("collection", input.KnowledgeBaseID),
		zap.Int("results", len(searchResp.GetResult())))

	results := make([]Result, 0, len(searchResp.GetResult()))
	for _, point := range searchResp.GetResult() {
		var text, source string
		if v, ok := point.GetPayload()[s.cfg.TextField]; ok {
			text = v.GetStringValue()
		}
		if v, ok := point.GetPayload()[s.cfg.SourceField]; ok {
			source = v.GetStringValue()
		}
		if text == "" {
			continue
		}
		results = append(results, Result{
			Content:  text,
			Score:    float64(point.GetScore()),
			Citation: Citation{Label: source},
		})
	}
	return &SearchResponse{Results: results}, nil
}
