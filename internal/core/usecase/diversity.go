package usecase

import (
	"context"
	"math"

	"github.com/kirillkom/winnow/internal/core/domain"
)

// selectDiverse applies maximal marginal relevance over the reranked pool:
// each round picks the candidate maximizing lambda*relevance minus
// (1-lambda)*maxSimilarityToSelected, with similarity measured as cosine over
// chunk embeddings. A candidate without an embedding contributes zero
// similarity. Ties prefer higher relevance, and equal relevance keeps the
// earlier reranked position. Cancellation stops selection and returns what
// has been picked so far.
func selectDiverse(ctx context.Context, pool []domain.RerankedCandidate, embeddings map[string][]float32, lambda float64, limit int) []domain.RerankedCandidate {
	if limit <= 0 || len(pool) == 0 {
		return nil
	}
	if lambda < 0 {
		lambda = 0
	}
	if lambda > 1 {
		lambda = 1
	}

	selected := make([]domain.RerankedCandidate, 0, limit)
	selectedVecs := make([][]float32, 0, limit)
	remaining := make([]domain.RerankedCandidate, len(pool))
	copy(remaining, pool)

	for len(selected) < limit && len(remaining) > 0 {
		if ctx.Err() != nil {
			break
		}
		bestIdx := -1
		bestScore := math.Inf(-1)
		bestRelevance := math.Inf(-1)
		for i, cand := range remaining {
			maxSim := 0.0
			if vec := embeddings[cand.ChunkID]; vec != nil {
				for _, sel := range selectedVecs {
					if sim := cosineSimilarity(vec, sel); sim > maxSim {
						maxSim = sim
					}
				}
			}
			score := lambda*cand.Relevance - (1-lambda)*maxSim
			if score > bestScore || (score == bestScore && cand.Relevance > bestRelevance) {
				bestIdx = i
				bestScore = score
				bestRelevance = cand.Relevance
			}
		}
		if bestIdx < 0 {
			break
		}
		chosen := remaining[bestIdx]
		selected = append(selected, chosen)
		selectedVecs = append(selectedVecs, embeddings[chosen.ChunkID])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return selected
}

// pairwiseSimilarities returns the cosine similarity of every unordered pair
// of selected chunks that both carry embeddings.
func pairwiseSimilarities(selected []domain.RerankedCandidate, embeddings map[string][]float32) []float64 {
	vecs := make([][]float32, 0, len(selected))
	for _, cand := range selected {
		if vec := embeddings[cand.ChunkID]; vec != nil {
			vecs = append(vecs, vec)
		}
	}
	if len(vecs) < 2 {
		return nil
	}
	sims := make([]float64, 0, len(vecs)*(len(vecs)-1)/2)
	for i := 0; i < len(vecs); i++ {
		for j := i + 1; j < len(vecs); j++ {
			sims = append(sims, cosineSimilarity(vecs[i], vecs[j]))
		}
	}
	return sims
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
