package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/winnow/internal/core/domain"
	"github.com/kirillkom/winnow/internal/core/ports"
)

// SearchConfig fixes every retrieval threshold at construction time. Nothing
// here changes per request; callers may only shrink the result size below
// FinalTopN.
type SearchConfig struct {
	TopKDense       int
	TopKLexical     int
	FusionK         int
	FusionTopM      int
	RerankBatchSize int
	MMRLambda       float64
	FinalTopN       int
	QueryTimeout    time.Duration
	BackendTimeout  time.Duration
	RerankTimeout   time.Duration
	Abstention      AbstentionConfig
}

func (c SearchConfig) normalize() SearchConfig {
	if c.TopKDense <= 0 {
		c.TopKDense = 100
	}
	if c.TopKLexical <= 0 {
		c.TopKLexical = 100
	}
	if c.FusionK <= 0 {
		c.FusionK = 60
	}
	if c.FusionTopM <= 0 {
		c.FusionTopM = 50
	}
	if c.RerankBatchSize <= 0 {
		c.RerankBatchSize = 16
	}
	if c.MMRLambda <= 0 || c.MMRLambda > 1 {
		c.MMRLambda = 0.3
	}
	if c.FinalTopN <= 0 {
		c.FinalTopN = 10
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = 8 * time.Second
	}
	if c.BackendTimeout <= 0 {
		c.BackendTimeout = 3 * time.Second
	}
	if c.RerankTimeout <= 0 {
		c.RerankTimeout = 4 * time.Second
	}
	return c
}

// QueryUseCase runs the retrieval pipeline: embed the query, fan out to both
// indexes, fuse, rerank, diversify, package evidence, then gate the answer.
// Stage failures degrade the result where the contract allows instead of
// failing the request.
type QueryUseCase struct {
	embedder   ports.Embedder
	dense      ports.DenseIndex
	lexical    ports.LexicalIndex
	scorer     ports.CrossEncoderScorer
	confidence ports.ConfidenceProvider
	registry   ports.DocumentRegistry
	cfg        SearchConfig
	logger     *slog.Logger
}

func NewQueryUseCase(
	embedder ports.Embedder,
	dense ports.DenseIndex,
	lexical ports.LexicalIndex,
	scorer ports.CrossEncoderScorer,
	confidence ports.ConfidenceProvider,
	registry ports.DocumentRegistry,
	cfg SearchConfig,
	logger *slog.Logger,
) *QueryUseCase {
	return &QueryUseCase{
		embedder:   embedder,
		dense:      dense,
		lexical:    lexical,
		scorer:     scorer,
		confidence: confidence,
		registry:   registry,
		cfg:        cfg.normalize(),
		logger:     logger,
	}
}

func (uc *QueryUseCase) Query(ctx context.Context, text string, filters domain.QueryFilters, topN int) (*domain.QueryResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "query", errors.New("empty query text"))
	}
	if topN <= 0 || topN > uc.cfg.FinalTopN {
		topN = uc.cfg.FinalTopN
	}

	ctx, cancel := context.WithTimeout(ctx, uc.cfg.QueryTimeout)
	defer cancel()

	started := time.Now()
	result := &domain.QueryResult{}
	timings := &result.Timings

	embedStart := time.Now()
	vector, err := uc.embedder.EmbedQuery(ctx, text)
	timings.EmbedMs = stageMs(embedStart)
	if err != nil {
		// Dense retrieval is skipped; the lexical backend still serves.
		uc.logger.Warn("query embedding failed, lexical only", "error", err)
		vector = nil
	}

	candStart := time.Now()
	set := uc.generateCandidates(ctx, text, vector, filters)
	timings.CandidatesMs = stageMs(candStart)
	result.Partial = set.partial
	result.DenseCandidates = len(set.dense)
	result.LexicalCandidates = len(set.lexical)

	fuseStart := time.Now()
	fused := fuseRRF([][]domain.CandidateHit{set.dense, set.lexical}, uc.cfg.FusionK, uc.cfg.FusionTopM)
	timings.FusionMs = stageMs(fuseStart)
	if len(fused) == 0 {
		return uc.abstain(result, domain.AbstainNoEvidence, started), nil
	}
	topFused := fused[0].FusedScore

	fused, chunks, docs, err := uc.hydrateCandidates(ctx, fused)
	if err != nil {
		return nil, fmt.Errorf("hydrate candidates: %w", err)
	}
	if len(fused) == 0 {
		return uc.abstain(result, domain.AbstainNoEvidence, started), nil
	}

	texts := make(map[string]string, len(chunks))
	embeddings := make(map[string][]float32, len(chunks))
	for id, rec := range chunks {
		texts[id] = rec.Text
		if len(rec.Embedding) > 0 {
			embeddings[id] = rec.Embedding
		}
	}

	rerankStart := time.Now()
	reranked, degraded := uc.rerankCandidates(ctx, text, fused, texts)
	timings.RerankMs = stageMs(rerankStart)
	result.RerankDegraded = degraded

	mmrStart := time.Now()
	selected := selectDiverse(ctx, reranked, embeddings, uc.cfg.MMRLambda, topN)
	timings.DiversityMs = stageMs(mmrStart)
	if ctx.Err() != nil {
		result.Partial = true
	}

	packStart := time.Now()
	items, droppedErrs := packageEvidence(selected, chunks, docs)
	timings.PackagingMs = stageMs(packStart)
	result.DroppedEvidence = len(droppedErrs)
	for _, dropErr := range droppedErrs {
		uc.logger.Warn("evidence item dropped", "error", dropErr)
	}

	confidence := uc.confidenceSignal(ctx, text, items)
	sims := pairwiseSimilarities(selected, embeddings)

	if reason := decideAbstention(items, topFused, sims, confidence, uc.cfg.Abstention); reason != "" {
		return uc.abstain(result, reason, started), nil
	}

	result.Items = items
	timings.TotalMs = stageMs(started)
	uc.logger.Info("query answered",
		"items", len(items),
		"partial", result.Partial,
		"rerank_degraded", degraded,
		"total_ms", timings.TotalMs)
	return result, nil
}

// hydrateCandidates loads the stored records behind the fused ids: reranking
// needs the texts, diversity the embeddings, packaging the provenance.
// Candidates whose records vanished between indexing and lookup are pruned.
func (uc *QueryUseCase) hydrateCandidates(ctx context.Context, fused []domain.FusedCandidate) ([]domain.FusedCandidate, map[string]domain.ChunkRecord, map[string]domain.DocumentRecord, error) {
	ids := make([]string, len(fused))
	for i, cand := range fused {
		ids[i] = cand.ChunkID
	}
	records, err := uc.registry.GetChunks(ctx, ids)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load chunks: %w", err)
	}

	chunks := make(map[string]domain.ChunkRecord, len(records))
	docIDs := make([]string, 0, len(records))
	seenDocs := make(map[string]struct{})
	for _, rec := range records {
		chunks[rec.ChunkID] = rec
		if _, ok := seenDocs[rec.DocID]; !ok {
			seenDocs[rec.DocID] = struct{}{}
			docIDs = append(docIDs, rec.DocID)
		}
	}

	kept := make([]domain.FusedCandidate, 0, len(fused))
	for _, cand := range fused {
		if _, ok := chunks[cand.ChunkID]; ok {
			kept = append(kept, cand)
		} else {
			uc.logger.Warn("candidate without stored chunk pruned", "chunk_id", cand.ChunkID)
		}
	}

	docRecords, err := uc.registry.GetDocuments(ctx, docIDs)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load documents: %w", err)
	}
	docs := make(map[string]domain.DocumentRecord, len(docRecords))
	for _, doc := range docRecords {
		docs[doc.DocID] = doc
	}
	return kept, chunks, docs, nil
}

// confidenceSignal asks the optional provider; a missing or failing provider
// yields a neutral signal so only configured gates can trip.
func (uc *QueryUseCase) confidenceSignal(ctx context.Context, query string, items []domain.EvidenceItem) float64 {
	if uc.confidence == nil {
		return 1
	}
	conf, err := uc.confidence.Confidence(ctx, query, items)
	if err != nil {
		uc.logger.Warn("confidence provider unavailable, neutral signal", "error", err)
		return 1
	}
	return conf
}

func (uc *QueryUseCase) abstain(result *domain.QueryResult, reason string, started time.Time) *domain.QueryResult {
	result.Abstained = true
	result.AbstainReason = reason
	result.Items = nil
	result.Timings.TotalMs = stageMs(started)
	uc.logger.Info("query abstained", "reason", reason)
	return result
}

func stageMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
