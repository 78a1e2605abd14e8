package plaintext

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/winnow/internal/core/domain"
)

// Extractor handles UTF-8 text and markdown-style documents. ATX headings
// become section boundaries with hierarchical paths; everything else passes
// through with line endings normalized.
type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

func (e *Extractor) Extract(ctx context.Context, content []byte, sourceFile string) (*domain.ExtractedDocument, error) {
	if !utf8.Valid(content) {
		return nil, domain.WrapError(domain.ErrParse, "extract text",
			fmt.Errorf("%s is not valid UTF-8", sourceFile))
	}

	text := strings.TrimSpace(normalizeNewlines(string(content)))
	doc := &domain.ExtractedDocument{
		Text:     text,
		MimeType: "text/plain; charset=utf-8",
	}
	doc.Sections, doc.Title = scanSections(text)
	return doc, nil
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

// scanSections cuts the text into flat regions at ATX headings. Each region
// carries the hierarchical path of the headings above it, and includes its
// own heading line. The first level-one heading doubles as the title.
func scanSections(text string) ([]domain.SectionSpan, string) {
	var (
		sections []domain.SectionSpan
		stack    []string
		title    string
		path     string
		start    int
	)

	off := 0
	for off < len(text) {
		lineEnd := strings.IndexByte(text[off:], '\n')
		next := len(text)
		if lineEnd >= 0 {
			lineEnd += off
			next = lineEnd + 1
		} else {
			lineEnd = len(text)
		}

		if level, heading := parseHeading(text[off:lineEnd]); level > 0 {
			if strings.TrimSpace(text[start:off]) != "" {
				sections = append(sections, domain.SectionSpan{Path: path, Start: start, End: off})
			}
			for len(stack) < level-1 {
				stack = append(stack, "")
			}
			stack = append(stack[:level-1], heading)
			path = joinPath(stack)
			start = off
			if title == "" && level == 1 {
				title = heading
			}
		}
		off = next
	}

	if strings.TrimSpace(text[start:]) != "" {
		sections = append(sections, domain.SectionSpan{Path: path, Start: start, End: len(text)})
	}
	return sections, title
}

func parseHeading(line string) (int, string) {
	rest := strings.TrimLeft(line, "#")
	level := len(line) - len(rest)
	if level < 1 || level > 6 || !strings.HasPrefix(rest, " ") {
		return 0, ""
	}
	heading := strings.TrimSpace(strings.TrimRight(strings.TrimSpace(rest), "#"))
	if heading == "" {
		return 0, ""
	}
	return level, heading
}

func joinPath(stack []string) string {
	parts := make([]string, 0, len(stack))
	for _, s := range stack {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " > ")
}
