package domain

// SectionSpan marks a section heading's reach in the normalized text.
type SectionSpan struct {
	Path  string `json:"path"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// PageSpan maps a physical page onto the normalized text.
type PageSpan struct {
	Number int `json:"number"`
	Start  int `json:"start"`
	End    int `json:"end"`
}

// ExtractedDocument is the format-independent result of text extraction.
// Sections and Pages are ordered and non-overlapping; offsets index Text.
type ExtractedDocument struct {
	Text      string
	MimeType  string
	Title     string
	PageCount int
	Sections  []SectionSpan
	Pages     []PageSpan
}

// SectionAt returns the section path covering a text offset.
func (d *ExtractedDocument) SectionAt(offset int) string {
	for i := len(d.Sections) - 1; i >= 0; i-- {
		s := d.Sections[i]
		if offset >= s.Start && offset < s.End {
			return s.Path
		}
	}
	return ""
}

// PageRange returns the 1-based page numbers covering [start, end).
// Documents without page structure report page 1.
func (d *ExtractedDocument) PageRange(start, end int) (int, int) {
	if len(d.Pages) == 0 {
		return 1, 1
	}
	first, last := 0, 0
	for _, p := range d.Pages {
		if p.End <= start {
			continue
		}
		if p.Start >= end {
			break
		}
		if first == 0 {
			first = p.Number
		}
		last = p.Number
	}
	if first == 0 {
		first, last = d.Pages[len(d.Pages)-1].Number, d.Pages[len(d.Pages)-1].Number
	}
	return first, last
}

// ChunkSpan is a chunker output: a window of the normalized text with its
// provenance, before identity assignment and embedding.
type ChunkSpan struct {
	Text        string
	SectionPath string
	PageStart   int
	PageEnd     int
	CharStart   int
	CharEnd     int
}
