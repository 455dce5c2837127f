package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"gwi.com/chatcore/internal/ai"
	"gwi.com/chatcore/internal/kb"
	"gwi.com/chatcore/internal/logging"
	"gwi.com/chatcore/internal/store"
)

const (
	DefaultKbMaxResults = 10
	DefaultKbMinScore   = 0.5

	unidentifiedKnowledgeBase = "Unidentified Knowledge Base"
)

type KnowledgeBaseFactory interface {
	Build(ctx context.Context, knowledgeBaseID string) (*kb.Resolved, error)
}

type KbSettingsReader interface {
	GetUserKbSettings(ctx context.Context, userID string) (store.KbSettings, error)
}

// DocumentLibraryResolver returns the configured document library provider
// id, or "" when none is configured.
type DocumentLibraryResolver interface {
	DocumentLibraryProviderID(ctx context.Context) (string, error)
}

type EmbeddingQuerier interface {
	QueryEmbeddings(ctx context.Context, q store.EmbeddingQuery) ([]store.EmbeddingMatch, error)
}

type AssemblerOptions struct {
	KBTimeout        time.Duration
	EmbeddingTimeout time.Duration
	KBMaxConcurrency int
}

type AssembleInput struct {
	UserID                 string
	Message                string
	KnowledgeBaseIDs       []string
	DocumentLibraryEnabled bool
}

type AssembledContext struct {
	OutgoingText string
	// Knowledge base citations first, then personal documents.
	Citations []store.Citation
	// Labels of knowledge bases whose lookup failed.
	FailedKbs []string
}

// ContextAssembler gathers passages from knowledge bases and the user's own
// documents and folds them into the outgoing prompt.
type ContextAssembler struct {
	kbs        KnowledgeBaseFactory
	kbSettings KbSettingsReader
	docLibrary DocumentLibraryResolver
	embeddings EmbeddingQuerier
	embedder   ai.Embedder
	opts       AssemblerOptions
	logger     *zap.Logger
}

func NewContextAssembler(
	kbs KnowledgeBaseFactory,
	kbSettings KbSettingsReader,
	docLibrary DocumentLibraryResolver,
	embeddings EmbeddingQuerier,
	embedder ai.Embedder,
	opts AssemblerOptions,
	logger *zap.Logger,
) *ContextAssembler {
	if opts.KBMaxConcurrency < 1 {
		opts.KBMaxConcurrency = 1
	}
	return &ContextAssembler{
		kbs:        kbs,
		kbSettings: kbSettings,
		docLibrary: docLibrary,
		embeddings: embeddings,
		embedder:   embedder,
		opts:       opts,
		logger:     logging.OrNop(logger),
	}
}

// Assemble fails only when the document library is requested but not
// configured, or when the personal-document track cannot complete.
// Knowledge base failures are reported in FailedKbs.
func (a *ContextAssembler) Assemble(ctx context.Context, in AssembleInput) (*AssembledContext, error) {
	var providerID string
	if in.DocumentLibraryEnabled {
		id, err := a.docLibrary.DocumentLibraryProviderID(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve document library: %w", err)
		}
		if id == "" {
			a.logger.Error("document library requested but not configured", zap.String("userId", in.UserID))
			return nil, ErrDocumentLibraryNotConfigured
		}
		providerID = id
	}

	var kbCitations, docCitations []store.Citation
	var failedKbs []string

	g, gctx := errgroup.WithContext(ctx)
	if len(in.KnowledgeBaseIDs) > 0 {
		g.Go(func() error {
			start := time.Now()
			kbCitations, failedKbs = a.searchKnowledgeBases(gctx, in)
			retrievalDuration.WithLabelValues("knowledge_base").Observe(time.Since(start).Seconds())
			return nil
		})
	}
	if providerID != "" {
		g.Go(func() error {
			start := time.Now()
			citations, err := a.searchDocuments(gctx, in, providerID)
			retrievalDuration.WithLabelValues("document_library").Observe(time.Since(start).Seconds())
			if err != nil {
				return err
			}
			docCitations = citations
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	citations := make([]store.Citation, 0, len(kbCitations)+len(docCitations))
	citations = append(citations, kbCitations...)
	citations = append(citations, docCitations...)

	if failedKbs == nil {
		failedKbs = []string{}
	}
	return &AssembledContext{
		OutgoingText: AddContextToMessage(in.Message, citations),
		Citations:    citations,
		FailedKbs:    failedKbs,
	}, nil
}

func (a *ContextAssembler) kbLimits(ctx context.Context, userID string) (int, float64) {
	maxResults, minScore := DefaultKbMaxResults, DefaultKbMinScore
	settings, err := a.kbSettings.GetUserKbSettings(ctx, userID)
	if err != nil {
		a.logger.Warn("failed to load knowledge base settings, using defaults", zap.String("userId", userID), zap.Error(err))
		return maxResults, minScore
	}
	if settings.MaxResults != nil && *settings.MaxResults > 0 {
		maxResults = *settings.MaxResults
	}
	if settings.MinScore != nil {
		minScore = *settings.MinScore
	}
	return maxResults, minScore
}

// searchKnowledgeBases queries every knowledge base with bounded
// concurrency. Results keep the input order of the knowledge bases and the
// provider's order within each one.
func (a *ContextAssembler) searchKnowledgeBases(ctx context.Context, in AssembleInput) ([]store.Citation, []string) {
	maxResults, minScore := a.kbLimits(ctx, in.UserID)

	perKb := make([][]store.Citation, len(in.KnowledgeBaseIDs))
	failed := make([]string, len(in.KnowledgeBaseIDs))

	var g errgroup.Group
	g.SetLimit(a.opts.KBMaxConcurrency)
	for i, knowledgeBaseID := range in.KnowledgeBaseIDs {
		g.Go(func() error {
			citations, err := a.searchKnowledgeBase(ctx, knowledgeBaseID, in.Message, maxResults, minScore)
			if err != nil {
				failed[i] = unidentifiedKnowledgeBase
				var f *kbFailure
				if errors.As(err, &f) {
					failed[i] = f.label
				}
				return nil
			}
			perKb[i] = citations
			return nil
		})
	}
	g.Wait()

	var citations []store.Citation
	var failedKbs []string
	for i := range in.KnowledgeBaseIDs {
		if failed[i] != "" {
			failedKbs = append(failedKbs, failed[i])
			kbFailuresTotal.Inc()
			continue
		}
		citations = append(citations, perKb[i]...)
	}
	return citations, failedKbs
}

// kbFailure carries the label reported to the caller for a failed lookup.
type kbFailure struct {
	label string
	cause error
}

func (e *kbFailure) Error() string { return e.label }
func (e *kbFailure) Unwrap() error { return e.cause }

func (a *ContextAssembler) searchKnowledgeBase(ctx context.Context, knowledgeBaseID, message string, maxResults int, minScore float64) ([]store.Citation, error) {
	ctx, cancel := withTimeout(ctx, a.opts.KBTimeout)
	defer cancel()

	resolved, err := a.kbs.Build(ctx, knowledgeBaseID)
	if err != nil {
		a.logger.Error("error resolving knowledge base", zap.String("knowledgeBaseId", knowledgeBaseID), zap.Error(err))
		return nil, &kbFailure{label: unidentifiedKnowledgeBase, cause: err}
	}
	label := resolved.KnowledgeBase.Label
	if label == "" {
		label = unidentifiedKnowledgeBase
	}

	resp, err := resolved.Source.Search(ctx, kb.SearchInput{
		KnowledgeBaseID: resolved.KnowledgeBase.ExternalID,
		Query:           message,
		MaxResults:      maxResults,
		MinScore:        minScore,
	})
	if err != nil {
		a.logger.Error("error fetching data for knowledge base", zap.String("knowledgeBaseId", knowledgeBaseID), zap.Error(err))
		return nil, &kbFailure{label: label, cause: err}
	}

	results := resp.Results
	if len(results) > maxResults {
		results = results[:maxResults]
	}
	citations := make([]store.Citation, 0, len(results))
	for _, r := range results {
		sourceLabel := r.Citation.Label
		if sourceLabel == "" {
			sourceLabel = resolved.KnowledgeBase.Label
		}
		citations = append(citations, store.NewKnowledgeBaseCitation(knowledgeBaseID, sourceLabel, r.Content))
	}
	return citations, nil
}

func (a *ContextAssembler) searchDocuments(ctx context.Context, in AssembleInput, providerID string) ([]store.Citation, error) {
	embedCtx, cancel := withTimeout(ctx, a.opts.EmbeddingTimeout)
	vectors, err := a.embedder.Embed(embedCtx, []string{in.Message})
	cancel()
	if err != nil || len(vectors) == 0 || len(vectors[0]) == 0 {
		if err == nil {
			err = errors.New("no vectors returned")
		}
		a.logger.Error("there was a problem embedding the user's query", zap.String("userId", in.UserID), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrUpstreamFatal, err)
	}

	matches, err := a.embeddings.QueryEmbeddings(ctx, store.EmbeddingQuery{
		UserID:       in.UserID,
		Vector:       vectors[0],
		MinThreshold: store.DefaultMinThreshold,
		MatchCount:   store.DefaultMatchCount,
		ProviderID:   providerID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search personal documents: %w", err)
	}

	citations := make([]store.Citation, 0, len(matches))
	for _, m := range matches {
		citations = append(citations, m.Citation)
	}
	return citations, nil
}

// withTimeout bounds ctx by d; a non-positive d leaves it unbounded.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
