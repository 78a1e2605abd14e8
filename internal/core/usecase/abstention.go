package usecase

import "github.com/kirillkom/winnow/internal/core/domain"

// AbstentionConfig holds the thresholds of the answer/abstain gate. All
// values are fixed at construction.
type AbstentionConfig struct {
	// ScoreFloor is the minimum fused score of the best candidate.
	ScoreFloor float64
	// DisagreementFloor is the minimum mean pairwise similarity of the
	// selected evidence; below it the sources are considered to disagree.
	DisagreementFloor float64
	// MinConfidence is the minimum external confidence signal.
	MinConfidence float64
}

// decideAbstention applies the gate over already-computed artifacts and
// returns an abstain reason, or "" to answer. It never re-runs retrieval:
// the decision reads the pipeline outputs and nothing else. Checks run in a
// fixed order so the reported reason is deterministic.
func decideAbstention(items []domain.EvidenceItem, topFusedScore float64, similarities []float64, confidence float64, cfg AbstentionConfig) string {
	if len(items) == 0 {
		return domain.AbstainNoEvidence
	}
	if topFusedScore < cfg.ScoreFloor {
		return domain.AbstainLowScore
	}
	if len(similarities) > 0 && meanFloat(similarities) < cfg.DisagreementFloor {
		return domain.AbstainDisagreement
	}
	if confidence < cfg.MinConfidence {
		return domain.AbstainLowConfidence
	}
	return ""
}

func meanFloat(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
