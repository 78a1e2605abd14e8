package usecase

import (
	"strings"
	"testing"

	"github.com/kirillkom/winnow/internal/core/domain"
)

func chunkRec(docID string, seq int, text string, start, end, pageStart, pageEnd int) domain.ChunkRecord {
	return domain.ChunkRecord{
		ChunkID:     domain.ChunkIDFor(docID, seq),
		DocID:       docID,
		Seq:         seq,
		SectionPath: "body",
		PageStart:   pageStart,
		PageEnd:     pageEnd,
		CharStart:   start,
		CharEnd:     end,
		Text:        text,
	}
}

func evidenceDocs() map[string]domain.DocumentRecord {
	return map[string]domain.DocumentRecord{
		"doc-a": {DocID: "doc-a", Title: "Handbook", SourceFile: "handbook.pdf"},
		"doc-b": {DocID: "doc-b", Title: "Policy", SourceFile: "policy.pdf"},
	}
}

func TestPackageEvidenceMergesOverlappingChunks(t *testing.T) {
	first := chunkRec("doc-a", 0, "the quick brown fox", 0, 19, 1, 1)
	second := chunkRec("doc-a", 1, "fox jumps over", 16, 30, 1, 2)
	chunks := map[string]domain.ChunkRecord{first.ChunkID: first, second.ChunkID: second}

	selected := []domain.RerankedCandidate{
		{ChunkID: first.ChunkID, Relevance: 0.9, FusedRank: 1},
		{ChunkID: second.ChunkID, Relevance: 0.7, FusedRank: 2},
	}

	items, dropped := packageEvidence(selected, chunks, evidenceDocs())
	if len(dropped) != 0 {
		t.Fatalf("expected no drops, got %v", dropped)
	}
	if len(items) != 1 {
		t.Fatalf("expected one merged item, got %d", len(items))
	}

	item := items[0]
	if item.Snippet != "the quick brown fox jumps over" {
		t.Fatalf("unexpected merged snippet %q", item.Snippet)
	}
	if item.CharStart != 0 || item.CharEnd != 30 {
		t.Fatalf("expected range [0,30), got [%d,%d)", item.CharStart, item.CharEnd)
	}
	if item.PageStart != 1 || item.PageEnd != 2 {
		t.Fatalf("expected pages 1-2, got %d-%d", item.PageStart, item.PageEnd)
	}
	if len(item.ChunkIDs) != 2 {
		t.Fatalf("expected both chunk ids, got %v", item.ChunkIDs)
	}
	if item.Relevance != 0.9 {
		t.Fatalf("expected max member relevance, got %f", item.Relevance)
	}
	if item.SourceFile != "handbook.pdf" || item.Title != "Handbook" {
		t.Fatalf("expected document provenance, got %s/%s", item.SourceFile, item.Title)
	}
}

func TestPackageEvidenceMergesContiguousChunks(t *testing.T) {
	first := chunkRec("doc-a", 0, "0123456789", 0, 10, 1, 1)
	second := chunkRec("doc-a", 1, "abcdefghij", 10, 20, 1, 1)
	chunks := map[string]domain.ChunkRecord{first.ChunkID: first, second.ChunkID: second}

	items, _ := packageEvidence([]domain.RerankedCandidate{
		{ChunkID: second.ChunkID, Relevance: 0.5},
		{ChunkID: first.ChunkID, Relevance: 0.6},
	}, chunks, evidenceDocs())

	if len(items) != 1 {
		t.Fatalf("expected one merged item, got %d", len(items))
	}
	if items[0].Snippet != "0123456789abcdefghij" {
		t.Fatalf("unexpected snippet %q", items[0].Snippet)
	}
}

func TestPackageEvidenceKeepsDisjointRangesApart(t *testing.T) {
	first := chunkRec("doc-a", 0, "intro text", 0, 10, 1, 1)
	later := chunkRec("doc-a", 7, "appendix text", 500, 513, 9, 9)
	chunks := map[string]domain.ChunkRecord{first.ChunkID: first, later.ChunkID: later}

	items, _ := packageEvidence([]domain.RerankedCandidate{
		{ChunkID: first.ChunkID, Relevance: 0.8},
		{ChunkID: later.ChunkID, Relevance: 0.6},
	}, chunks, evidenceDocs())

	if len(items) != 2 {
		t.Fatalf("expected two items, got %d", len(items))
	}
}

func TestPackageEvidenceOrdersItemsBySelectionPosition(t *testing.T) {
	fromB := chunkRec("doc-b", 0, "policy statement", 0, 16, 1, 1)
	fromA := chunkRec("doc-a", 3, "handbook detail", 300, 315, 4, 4)
	chunks := map[string]domain.ChunkRecord{fromB.ChunkID: fromB, fromA.ChunkID: fromA}

	items, _ := packageEvidence([]domain.RerankedCandidate{
		{ChunkID: fromB.ChunkID, Relevance: 0.9},
		{ChunkID: fromA.ChunkID, Relevance: 0.8},
	}, chunks, evidenceDocs())

	if len(items) != 2 {
		t.Fatalf("expected two items, got %d", len(items))
	}
	if items[0].DocID != "doc-b" || items[1].DocID != "doc-a" {
		t.Fatalf("expected selection order doc-b then doc-a, got %s then %s", items[0].DocID, items[1].DocID)
	}
}

func TestPackageEvidenceDropsUnattributableChunks(t *testing.T) {
	valid := chunkRec("doc-a", 0, "good chunk", 0, 10, 1, 1)
	orphan := chunkRec("doc-gone", 0, "orphan chunk", 0, 12, 1, 1)
	badOffsets := chunkRec("doc-a", 5, "bad", 40, 40, 2, 2)
	chunks := map[string]domain.ChunkRecord{
		valid.ChunkID:      valid,
		orphan.ChunkID:     orphan,
		badOffsets.ChunkID: badOffsets,
	}

	items, dropped := packageEvidence([]domain.RerankedCandidate{
		{ChunkID: valid.ChunkID, Relevance: 0.9},
		{ChunkID: orphan.ChunkID, Relevance: 0.8},
		{ChunkID: badOffsets.ChunkID, Relevance: 0.7},
		{ChunkID: "doc-a:9999", Relevance: 0.6},
	}, chunks, evidenceDocs())

	if len(items) != 1 {
		t.Fatalf("expected only the valid item, got %d", len(items))
	}
	if len(dropped) != 3 {
		t.Fatalf("expected 3 dropped, got %d", len(dropped))
	}
	for _, err := range dropped {
		if !domain.IsKind(err, domain.ErrPackaging) {
			t.Fatalf("expected packaging error kind, got %v", err)
		}
	}
	if !strings.Contains(dropped[0].Error(), "document doc-gone not found") {
		t.Fatalf("expected missing-document detail, got %v", dropped[0])
	}
}

func TestPackageEvidenceSkipsContainedChunkText(t *testing.T) {
	outer := chunkRec("doc-a", 0, "a longer stretch of text", 0, 24, 1, 1)
	inner := chunkRec("doc-a", 1, "stretch", 9, 16, 1, 1)
	chunks := map[string]domain.ChunkRecord{outer.ChunkID: outer, inner.ChunkID: inner}

	items, _ := packageEvidence([]domain.RerankedCandidate{
		{ChunkID: outer.ChunkID, Relevance: 0.9},
		{ChunkID: inner.ChunkID, Relevance: 0.2},
	}, chunks, evidenceDocs())

	if len(items) != 1 {
		t.Fatalf("expected one item, got %d", len(items))
	}
	if items[0].Snippet != "a longer stretch of text" {
		t.Fatalf("contained chunk must not repeat text, got %q", items[0].Snippet)
	}
	if len(items[0].ChunkIDs) != 2 {
		t.Fatalf("contained chunk still cited, got %v", items[0].ChunkIDs)
	}
}
