package chunking

import (
	"unicode"
	"unicode/utf8"

	"github.com/kirillkom/winnow/internal/core/domain"
)

// Splitter cuts extracted text into overlapping windows that respect the
// document structure: a chunk never crosses a section boundary, window ends
// snap back to whitespace so words stay whole, and every span carries its
// section path, page range, and byte offsets into the extracted text.
type Splitter struct {
	chunkSize int
	overlap   int
}

// NewSplitter sizes windows in runes. overlapFraction is the share of each
// window repeated in the next one; values outside a sane band fall back to a
// quarter.
func NewSplitter(chunkSize int, overlapFraction float64) *Splitter {
	if chunkSize <= 0 {
		chunkSize = 900
	}
	if overlapFraction < 0.05 || overlapFraction > 0.45 {
		overlapFraction = 0.25
	}
	overlap := int(float64(chunkSize) * overlapFraction)
	if overlap < 1 {
		overlap = 1
	}
	return &Splitter{chunkSize: chunkSize, overlap: overlap}
}

func (s *Splitter) Split(doc *domain.ExtractedDocument) []domain.ChunkSpan {
	if doc == nil || doc.Text == "" {
		return nil
	}
	var out []domain.ChunkSpan
	for _, region := range regions(doc) {
		out = append(out, s.splitRegion(doc, region)...)
	}
	return out
}

func regions(doc *domain.ExtractedDocument) []domain.SectionSpan {
	if len(doc.Sections) > 0 {
		return doc.Sections
	}
	return []domain.SectionSpan{{Start: 0, End: len(doc.Text)}}
}

func (s *Splitter) splitRegion(doc *domain.ExtractedDocument, region domain.SectionSpan) []domain.ChunkSpan {
	segment := doc.Text[region.Start:region.End]
	runes := []rune(segment)
	if len(runes) == 0 {
		return nil
	}

	// byte offset of every rune within the segment, plus the segment end
	offsets := make([]int, len(runes)+1)
	pos := 0
	for i, r := range runes {
		offsets[i] = pos
		pos += utf8.RuneLen(r)
	}
	offsets[len(runes)] = pos

	var out []domain.ChunkSpan
	start := 0
	for start < len(runes) {
		end := start + s.chunkSize
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = s.snapToSpace(runes, start, end)
		}

		cs, ce := trimmedRange(runes, start, end)
		if cs < ce {
			charStart := region.Start + offsets[cs]
			charEnd := region.Start + offsets[ce]
			pageStart, pageEnd := doc.PageRange(charStart, charEnd)
			out = append(out, domain.ChunkSpan{
				Text:        string(runes[cs:ce]),
				SectionPath: region.Path,
				PageStart:   pageStart,
				PageEnd:     pageEnd,
				CharStart:   charStart,
				CharEnd:     charEnd,
			})
		}
		if end == len(runes) {
			break
		}
		next := end - s.overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return out
}

// snapToSpace walks the window end back to the nearest whitespace, at most
// overlap runes. A solid run of text keeps the hard cut.
func (s *Splitter) snapToSpace(runes []rune, start, end int) int {
	limit := end - s.overlap
	if limit <= start {
		limit = start + 1
	}
	for i := end; i > limit; i-- {
		if unicode.IsSpace(runes[i-1]) {
			return i
		}
	}
	return end
}

func trimmedRange(runes []rune, start, end int) (int, int) {
	for start < end && unicode.IsSpace(runes[start]) {
		start++
	}
	for end > start && unicode.IsSpace(runes[end-1]) {
		end--
	}
	return start, end
}
