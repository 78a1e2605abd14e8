package domain

import "time"

// CandidateSource identifies the backend that produced a hit.
type CandidateSource string

const (
	SourceDense   CandidateSource = "dense"
	SourceLexical CandidateSource = "lexical"
)

// QueryFilters is pushed down into both index queries. Zero time bounds are
// unbounded. By default only current, non-archived versions are eligible.
type QueryFilters struct {
	Tags              []string  `json:"tags,omitempty"`
	EffectiveAfter    time.Time `json:"effective_after,omitempty"`
	EffectiveBefore   time.Time `json:"effective_before,omitempty"`
	IncludeArchived   bool      `json:"include_archived,omitempty"`
	IncludeSuperseded bool      `json:"include_superseded,omitempty"`
}

// CandidateHit is one entry of a single backend's ranked list.
type CandidateHit struct {
	ChunkID  string          `json:"chunk_id"`
	Source   CandidateSource `json:"source"`
	RawScore float64         `json:"raw_score"`
	Rank     int             `json:"rank"` // 1-based within its source list
}

// FusedCandidate is the reciprocal-rank-fusion merge of one chunk's hits.
// Absent ranks are zero.
type FusedCandidate struct {
	ChunkID      string  `json:"chunk_id"`
	FusedScore   float64 `json:"fused_score"`
	FusedRank    int     `json:"fused_rank"`
	DenseRank    int     `json:"dense_rank,omitempty"`
	LexicalRank  int     `json:"lexical_rank,omitempty"`
	LexicalScore float64 `json:"lexical_score,omitempty"`
	Sources      int     `json:"sources"`
}

// RerankedCandidate carries the cross-encoder relevance normalized to [0,1]
// and keeps the fused rank for tie-breaks and audit.
type RerankedCandidate struct {
	ChunkID   string  `json:"chunk_id"`
	Relevance float64 `json:"relevance"`
	FusedRank int     `json:"fused_rank"`
}

// EvidenceItem is a citable span: one or more merged chunks from a single
// document with full provenance.
type EvidenceItem struct {
	DocID       string   `json:"doc_id"`
	ChunkIDs    []string `json:"chunk_ids"`
	Title       string   `json:"title,omitempty"`
	SourceFile  string   `json:"source_file"`
	SectionPath string   `json:"section_path,omitempty"`
	PageStart   int      `json:"page_start"`
	PageEnd     int      `json:"page_end"`
	CharStart   int      `json:"char_start"`
	CharEnd     int      `json:"char_end"`
	Snippet     string   `json:"snippet"`
	Relevance   float64  `json:"relevance"`
}

// Abstention reasons reported in QueryResult.
const (
	AbstainNoEvidence    = "no_evidence"
	AbstainLowScore      = "low_top_score"
	AbstainDisagreement  = "source_disagreement"
	AbstainLowConfidence = "low_confidence"
)

// StageTimings records per-stage latency for one query, in milliseconds.
type StageTimings struct {
	EmbedMs      float64 `json:"embed_ms"`
	CandidatesMs float64 `json:"candidates_ms"`
	FusionMs     float64 `json:"fusion_ms"`
	RerankMs     float64 `json:"rerank_ms"`
	DiversityMs  float64 `json:"diversity_ms"`
	PackagingMs  float64 `json:"packaging_ms"`
	TotalMs      float64 `json:"total_ms"`
}

// QueryResult is either ordered evidence or an explicit abstention. Partial
// and RerankDegraded distinguish a degraded answer from a full one.
type QueryResult struct {
	Items             []EvidenceItem `json:"items,omitempty"`
	Abstained         bool           `json:"abstained,omitempty"`
	AbstainReason     string         `json:"abstain_reason,omitempty"`
	Partial           bool           `json:"partial,omitempty"`
	RerankDegraded    bool           `json:"rerank_degraded,omitempty"`
	DenseCandidates   int            `json:"dense_candidates"`
	LexicalCandidates int            `json:"lexical_candidates"`
	DroppedEvidence   int            `json:"dropped_evidence,omitempty"`
	Timings           StageTimings   `json:"timings"`
}
