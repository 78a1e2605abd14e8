package usecase

import (
	"fmt"
	"sort"

	"github.com/kirillkom/winnow/internal/core/domain"
)

type evidenceMember struct {
	chunk     domain.ChunkRecord
	relevance float64
	position  int
}

// packageEvidence turns the diversity-selected chunks into citable items.
// Chunks of the same document whose character ranges touch or overlap merge
// into one item carrying the union of their provenance. A chunk that cannot
// be fully attributed is dropped with an error instead of shipping with
// partial provenance. Item order follows the earliest selection position of
// any merged member.
func packageEvidence(selected []domain.RerankedCandidate, chunks map[string]domain.ChunkRecord, docs map[string]domain.DocumentRecord) ([]domain.EvidenceItem, []error) {
	var dropped []error
	byDoc := make(map[string][]evidenceMember)
	docOrder := make([]string, 0, len(selected))

	for pos, cand := range selected {
		chunk, ok := chunks[cand.ChunkID]
		if !ok {
			dropped = append(dropped, domain.WrapError(domain.ErrPackaging, "package evidence", fmt.Errorf("chunk %s: no stored record", cand.ChunkID)))
			continue
		}
		if err := validateProvenance(chunk, docs); err != nil {
			dropped = append(dropped, domain.WrapError(domain.ErrPackaging, "package evidence", err))
			continue
		}
		if _, seen := byDoc[chunk.DocID]; !seen {
			docOrder = append(docOrder, chunk.DocID)
		}
		byDoc[chunk.DocID] = append(byDoc[chunk.DocID], evidenceMember{chunk: chunk, relevance: cand.Relevance, position: pos})
	}

	var items []domain.EvidenceItem
	for _, docID := range docOrder {
		members := byDoc[docID]
		sort.SliceStable(members, func(i, j int) bool {
			if members[i].chunk.CharStart != members[j].chunk.CharStart {
				return members[i].chunk.CharStart < members[j].chunk.CharStart
			}
			return members[i].chunk.CharEnd < members[j].chunk.CharEnd
		})
		items = append(items, mergeRuns(members, docs[docID])...)
	}

	sort.SliceStable(items, func(i, j int) bool {
		return itemPosition(items[i], byDoc) < itemPosition(items[j], byDoc)
	})
	return items, dropped
}

func validateProvenance(chunk domain.ChunkRecord, docs map[string]domain.DocumentRecord) error {
	doc, ok := docs[chunk.DocID]
	if !ok {
		return fmt.Errorf("chunk %s: document %s not found", chunk.ChunkID, chunk.DocID)
	}
	if doc.SourceFile == "" {
		return fmt.Errorf("chunk %s: document %s has no source attribution", chunk.ChunkID, chunk.DocID)
	}
	if chunk.Text == "" {
		return fmt.Errorf("chunk %s: empty text", chunk.ChunkID)
	}
	if chunk.CharStart < 0 || chunk.CharEnd <= chunk.CharStart {
		return fmt.Errorf("chunk %s: invalid offsets [%d,%d)", chunk.ChunkID, chunk.CharStart, chunk.CharEnd)
	}
	if chunk.PageStart < 1 || chunk.PageEnd < chunk.PageStart {
		return fmt.Errorf("chunk %s: invalid page range %d-%d", chunk.ChunkID, chunk.PageStart, chunk.PageEnd)
	}
	return nil
}

// mergeRuns folds members sorted by offset into items, starting a new item
// whenever the next chunk no longer touches the current range.
func mergeRuns(members []evidenceMember, doc domain.DocumentRecord) []domain.EvidenceItem {
	var items []domain.EvidenceItem
	for _, mem := range members {
		if len(items) > 0 && mem.chunk.CharStart <= items[len(items)-1].CharEnd {
			extendItem(&items[len(items)-1], mem)
			continue
		}
		items = append(items, domain.EvidenceItem{
			DocID:       mem.chunk.DocID,
			ChunkIDs:    []string{mem.chunk.ChunkID},
			Title:       doc.Title,
			SourceFile:  doc.SourceFile,
			SectionPath: mem.chunk.SectionPath,
			PageStart:   mem.chunk.PageStart,
			PageEnd:     mem.chunk.PageEnd,
			CharStart:   mem.chunk.CharStart,
			CharEnd:     mem.chunk.CharEnd,
			Snippet:     mem.chunk.Text,
			Relevance:   mem.relevance,
		})
	}
	return items
}

func extendItem(item *domain.EvidenceItem, mem evidenceMember) {
	item.ChunkIDs = append(item.ChunkIDs, mem.chunk.ChunkID)
	if mem.relevance > item.Relevance {
		item.Relevance = mem.relevance
	}
	if mem.chunk.PageStart < item.PageStart {
		item.PageStart = mem.chunk.PageStart
	}
	if mem.chunk.PageEnd > item.PageEnd {
		item.PageEnd = mem.chunk.PageEnd
	}
	if mem.chunk.CharEnd > item.CharEnd {
		overlap := item.CharEnd - mem.chunk.CharStart
		if overlap > len(mem.chunk.Text) {
			overlap = len(mem.chunk.Text)
		}
		item.Snippet += mem.chunk.Text[overlap:]
		item.CharEnd = mem.chunk.CharEnd
	}
}

// itemPosition is the earliest selection position among an item's chunks.
func itemPosition(item domain.EvidenceItem, byDoc map[string][]evidenceMember) int {
	best := int(^uint(0) >> 1)
	ids := make(map[string]struct{}, len(item.ChunkIDs))
	for _, id := range item.ChunkIDs {
		ids[id] = struct{}{}
	}
	for _, mem := range byDoc[item.DocID] {
		if _, ok := ids[mem.chunk.ChunkID]; ok && mem.position < best {
			best = mem.position
		}
	}
	return best
}
