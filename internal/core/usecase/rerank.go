package usecase

import (
	"context"
	"fmt"
	"sort"

	"github.com/kirillkom/winnow/internal/core/domain"
)

// rerankCandidates scores the fused head against the query with the
// cross-encoder, feeding passages in fixed-size batches so one oversized
// request can never blow the latency budget. Any scorer failure degrades the
// stage instead of failing the query: the fused order is kept and the caller
// is told. Relevance comes back min-max normalized to [0,1] either way.
// Ordering on equal relevance keeps the earlier fused rank.
func (uc *QueryUseCase) rerankCandidates(ctx context.Context, query string, fused []domain.FusedCandidate, texts map[string]string) ([]domain.RerankedCandidate, bool) {
	if len(fused) == 0 {
		return nil, false
	}
	if uc.scorer == nil {
		return fusedOrderCandidates(fused), true
	}

	rerankCtx, cancel := context.WithTimeout(ctx, uc.cfg.RerankTimeout)
	defer cancel()

	passages := make([]string, len(fused))
	for i, cand := range fused {
		passages[i] = texts[cand.ChunkID]
	}

	scores := make([]float64, 0, len(fused))
	for start := 0; start < len(passages); start += uc.cfg.RerankBatchSize {
		end := start + uc.cfg.RerankBatchSize
		if end > len(passages) {
			end = len(passages)
		}
		batch, err := uc.scorer.Score(rerankCtx, query, passages[start:end])
		if err == nil && len(batch) != end-start {
			err = fmt.Errorf("scorer returned %d scores for %d passages", len(batch), end-start)
		}
		if err != nil {
			uc.logger.Warn("rerank degraded, keeping fused order",
				"batch_start", start,
				"error", err)
			return fusedOrderCandidates(fused), true
		}
		scores = append(scores, batch...)
	}

	norm := normalizeScores(scores)
	out := make([]domain.RerankedCandidate, len(fused))
	for i, cand := range fused {
		out[i] = domain.RerankedCandidate{ChunkID: cand.ChunkID, Relevance: norm[i], FusedRank: cand.FusedRank}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Relevance != out[j].Relevance {
			return out[i].Relevance > out[j].Relevance
		}
		return out[i].FusedRank < out[j].FusedRank
	})
	return out, false
}

// fusedOrderCandidates keeps the fusion ranking, normalizing fused scores so
// downstream relevance still lives in [0,1].
func fusedOrderCandidates(fused []domain.FusedCandidate) []domain.RerankedCandidate {
	scores := make([]float64, len(fused))
	for i, cand := range fused {
		scores[i] = cand.FusedScore
	}
	norm := normalizeScores(scores)
	out := make([]domain.RerankedCandidate, len(fused))
	for i, cand := range fused {
		out[i] = domain.RerankedCandidate{ChunkID: cand.ChunkID, Relevance: norm[i], FusedRank: cand.FusedRank}
	}
	return out
}

func normalizeScores(scores []float64) []float64 {
	if len(scores) == 0 {
		return nil
	}
	minScore, maxScore := scores[0], scores[0]
	for _, s := range scores[1:] {
		if s < minScore {
			minScore = s
		}
		if s > maxScore {
			maxScore = s
		}
	}
	out := make([]float64, len(scores))
	rangeScore := maxScore - minScore
	for i, s := range scores {
		if rangeScore <= 0 {
			if s > 0 {
				out[i] = 1
			}
			continue
		}
		out[i] = (s - minScore) / rangeScore
	}
	return out
}
