package html

import (
	"bytes"
	"context"
	"strings"

	nethtml "golang.org/x/net/html"

	"github.com/kirillkom/winnow/internal/core/domain"
)

// Extractor renders HTML to plain text. Headings open flat sections with
// hierarchical paths, block elements become paragraph breaks, and script,
// style and similar subtrees are dropped entirely.
type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

func (e *Extractor) Extract(ctx context.Context, content []byte, sourceFile string) (*domain.ExtractedDocument, error) {
	root, err := nethtml.Parse(bytes.NewReader(content))
	if err != nil {
		return nil, domain.WrapError(domain.ErrParse, "parse html", err)
	}

	b := &builder{}
	b.walk(root)
	b.closeRegion()

	return &domain.ExtractedDocument{
		Text:     b.text.String(),
		MimeType: "text/html",
		Title:    b.title,
		Sections: b.sections,
	}, nil
}

var skipElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
	"iframe":   true,
	"svg":      true,
}

var blockElements = map[string]bool{
	"p":          true,
	"div":        true,
	"section":    true,
	"article":    true,
	"header":     true,
	"footer":     true,
	"main":       true,
	"ul":         true,
	"ol":         true,
	"table":      true,
	"blockquote": true,
	"pre":        true,
}

// builder accumulates visible text. Breaks are queued and only written when
// more text follows, so the output never ends in whitespace and blank runs
// never exceed one empty line.
type builder struct {
	text      strings.Builder
	sections  []domain.SectionSpan
	stack     []string
	path      string
	start     int
	title     string
	needSpace bool
	pending   int
}

func (b *builder) walk(n *nethtml.Node) {
	if n.Type == nethtml.TextNode {
		for _, w := range strings.Fields(n.Data) {
			b.word(w)
		}
		return
	}
	if n.Type == nethtml.ElementNode {
		name := n.Data
		if skipElements[name] {
			return
		}
		switch {
		case name == "title":
			if b.title == "" {
				b.title = textContent(n)
			}
			return
		case name == "br":
			b.lineBreak()
			return
		}

		level := headingLevel(name)
		switch {
		case level > 0:
			b.blockBreak()
			b.openSection(level, textContent(n))
		case blockElements[name]:
			b.blockBreak()
		case name == "li" || name == "tr":
			b.lineBreak()
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			b.walk(c)
		}

		switch {
		case level > 0 || blockElements[name]:
			b.blockBreak()
		case name == "li" || name == "tr":
			b.lineBreak()
		}
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.walk(c)
	}
}

func (b *builder) word(w string) {
	b.flushBreaks()
	if b.needSpace {
		b.text.WriteByte(' ')
	}
	b.text.WriteString(w)
	b.needSpace = true
}

func (b *builder) lineBreak() {
	if b.text.Len() > 0 && b.pending < 1 {
		b.pending = 1
	}
}

func (b *builder) blockBreak() {
	if b.text.Len() > 0 {
		b.pending = 2
	}
}

func (b *builder) flushBreaks() {
	if b.pending == 0 {
		return
	}
	for ; b.pending > 0; b.pending-- {
		b.text.WriteByte('\n')
	}
	b.needSpace = false
}

// openSection closes the running region and starts a new one at the heading.
// Queued breaks are flushed first so the heading text sits exactly at the
// region start.
func (b *builder) openSection(level int, heading string) {
	b.flushBreaks()
	b.closeRegion()
	if heading != "" {
		for len(b.stack) < level-1 {
			b.stack = append(b.stack, "")
		}
		b.stack = append(b.stack[:level-1], heading)
		if b.title == "" && level == 1 {
			b.title = heading
		}
	}
	b.path = joinPath(b.stack)
	b.start = b.text.Len()
}

func (b *builder) closeRegion() {
	if b.text.Len() > b.start && strings.TrimSpace(b.text.String()[b.start:]) != "" {
		b.sections = append(b.sections, domain.SectionSpan{
			Path:  b.path,
			Start: b.start,
			End:   b.text.Len(),
		})
	}
}

func headingLevel(name string) int {
	if len(name) == 2 && name[0] == 'h' && name[1] >= '1' && name[1] <= '6' {
		return int(name[1] - '0')
	}
	return 0
}

func textContent(n *nethtml.Node) string {
	var parts []string
	var visit func(*nethtml.Node)
	visit = func(m *nethtml.Node) {
		if m.Type == nethtml.TextNode {
			parts = append(parts, strings.Fields(m.Data)...)
		}
		for c := m.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(n)
	return strings.Join(parts, " ")
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
