// Package ingest seeds a user's document library from a single-column
// markdown table, one passage per row.
package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"gwi.com/chatcore/internal/ai"
	"gwi.com/chatcore/internal/core"
	"gwi.com/chatcore/internal/logging"
	"gwi.com/chatcore/internal/store"
)

// DefaultInterval keeps embedding calls under 1500 per minute.
const DefaultInterval = 40 * time.Millisecond

type DocumentWriter interface {
	DocumentLibraryProviderID(ctx context.Context) (string, error)
	CreateDocument(ctx context.Context, doc *store.Document, chunks []store.DocumentChunk) error
}

type Ingester struct {
	docs     DocumentWriter
	embedder ai.Embedder
	interval time.Duration
	logger   *zap.Logger
}

func NewIngester(docs DocumentWriter, embedder ai.Embedder, logger *zap.Logger) *Ingester {
	return &Ingester{docs: docs, embedder: embedder, interval: DefaultInterval, logger: logging.OrNop(logger)}
}

// ParseTable returns the non-empty cells of a single-column markdown table.
// A leading header row and separator are skipped, as is anything that is
// not a table row.
func (i *Ingester) ParseTable(content string) []string {
	lines := strings.Split(content, "\n")

	var chunks []string
	for n, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		lower := strings.ToLower(trimmed)
		if n == 0 && strings.Contains(trimmed, "|") && (strings.Contains(lower, "text") || strings.Contains(lower, "content")) {
			i.logger.Debug("skipping table header", zap.String("line", trimmed))
			continue
		}
		if n == 1 && strings.Contains(trimmed, "|") && strings.Contains(trimmed, "---") {
			continue
		}

		if !strings.HasPrefix(trimmed, "|") || !strings.HasSuffix(trimmed, "|") || len(trimmed) < 2 {
			i.logger.Debug("skipping line not matching table row format", zap.String("line", trimmed))
			continue
		}
		cell := strings.TrimSpace(strings.Split(trimmed, "|")[1])
		if cell == "" {
			i.logger.Debug("skipping row with empty cell", zap.String("line", trimmed))
			continue
		}
		chunks = append(chunks, cell)
	}
	return chunks
}

// IngestFile stores the file as a document owned by userID under the
// configured document library. label defaults to the file's base name.
func (i *Ingester) IngestFile(ctx context.Context, userID, path, label string) (*store.Document, int, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read data file %s: %w", path, err)
	}
	if label == "" {
		label = filepath.Base(path)
	}
	return i.Ingest(ctx, userID, label, string(content))
}

// Ingest embeds every row of content, one call per tick. Rows that fail to
// embed are skipped. Nothing is stored when no row survives.
func (i *Ingester) Ingest(ctx context.Context, userID, label, content string) (*store.Document, int, error) {
	providerID, err := i.docs.DocumentLibraryProviderID(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to resolve document library: %w", err)
	}
	if providerID == "" {
		return nil, 0, core.ErrDocumentLibraryNotConfigured
	}

	rows := i.ParseTable(content)
	if len(rows) == 0 {
		i.logger.Warn("no chunks found, expected a markdown table with a text column", zap.String("label", label))
		return nil, 0, nil
	}
	i.logger.Info("embedding chunks", zap.Int("chunks", len(rows)), zap.String("label", label))

	ticker := time.NewTicker(i.interval)
	defer ticker.Stop()

	chunks := make([]store.DocumentChunk, 0, len(rows))
	for n, row := range rows {
		select {
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		case <-ticker.C:
		}

		vectors, err := i.embedder.Embed(ctx, []string{row})
		if err != nil {
			i.logger.Warn("failed to embed chunk, skipping", zap.Int("chunk", n+1), zap.Error(err))
			continue
		}
		chunks = append(chunks, store.DocumentChunk{Content: row, Vector: vectors[0]})
		if len(chunks)%10 == 0 {
			i.logger.Info("embedded chunks", zap.Int("done", len(chunks)), zap.Int("total", len(rows)))
		}
	}
	if len(chunks) == 0 {
		return nil, 0, fmt.Errorf("%w: every chunk failed to embed", core.ErrUpstreamFatal)
	}

	doc := &store.Document{UserID: userID, DocumentUploadProviderID: providerID, Filename: label}
	if err := i.docs.CreateDocument(ctx, doc, chunks); err != nil {
		return nil, 0, err
	}
	i.logger.Info("ingested document", zap.String("documentId", doc.ID), zap.Int("chunks", len(chunks)))
	return doc, len(chunks), nil
}
