package usecase

import (
	"sort"

	"github.com/kirillkom/winnow/internal/core/domain"
)

// fuseRRF merges per-backend ranked lists into one ranking via reciprocal
// rank fusion: every list containing a chunk contributes 1/(k+rank). Ties
// break by source-list count, then raw lexical score, then chunk id, so a
// fixed input always produces the same order.
func fuseRRF(lists [][]domain.CandidateHit, k, topM int) []domain.FusedCandidate {
	if k <= 0 {
		k = 60
	}

	acc := make(map[string]*domain.FusedCandidate)
	for _, list := range lists {
		for _, hit := range list {
			if hit.Rank <= 0 {
				continue
			}
			cand, ok := acc[hit.ChunkID]
			if !ok {
				cand = &domain.FusedCandidate{ChunkID: hit.ChunkID}
				acc[hit.ChunkID] = cand
			}
			cand.FusedScore += 1.0 / float64(k+hit.Rank)
			switch hit.Source {
			case domain.SourceDense:
				cand.DenseRank = hit.Rank
			case domain.SourceLexical:
				cand.LexicalRank = hit.Rank
				cand.LexicalScore = hit.RawScore
			}
		}
	}

	out := make([]domain.FusedCandidate, 0, len(acc))
	for _, cand := range acc {
		cand.Sources = 0
		if cand.DenseRank > 0 {
			cand.Sources++
		}
		if cand.LexicalRank > 0 {
			cand.Sources++
		}
		out = append(out, *cand)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].FusedScore != out[j].FusedScore {
			return out[i].FusedScore > out[j].FusedScore
		}
		if out[i].Sources != out[j].Sources {
			return out[i].Sources > out[j].Sources
		}
		if out[i].LexicalScore != out[j].LexicalScore {
			return out[i].LexicalScore > out[j].LexicalScore
		}
		return out[i].ChunkID < out[j].ChunkID
	})

	if topM > 0 && len(out) > topM {
		out = out[:topM]
	}
	for i := range out {
		out[i].FusedRank = i + 1
	}
	return out
}
