package pdf

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	pdflib "github.com/ledongthuc/pdf"

	"github.com/kirillkom/winnow/internal/core/domain"
)

// Extractor pulls plain text out of PDF files page by page, recording where
// each page lands in the combined text.
type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

func (e *Extractor) Extract(ctx context.Context, content []byte, sourceFile string) (doc *domain.ExtractedDocument, err error) {
	// The parser panics on some malformed files instead of returning an
	// error; turn that into a parse failure.
	defer func() {
		if r := recover(); r != nil {
			doc = nil
			err = domain.WrapError(domain.ErrParse, "extract pdf", fmt.Errorf("parser panic: %v", r))
		}
	}()

	reader, err := pdflib.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, domain.WrapError(domain.ErrParse, "open pdf", err)
	}

	var (
		buf   strings.Builder
		pages []domain.PageSpan
	)
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		raw, err := page.GetPlainText(nil)
		if err != nil {
			return nil, domain.WrapError(domain.ErrParse, fmt.Sprintf("extract page %d", i), err)
		}
		text := collapseSpace(raw)
		if text == "" {
			continue
		}
		if buf.Len() > 0 {
			buf.WriteString("\n\n")
		}
		start := buf.Len()
		buf.WriteString(text)
		pages = append(pages, domain.PageSpan{Number: i, Start: start, End: buf.Len()})
	}

	return &domain.ExtractedDocument{
		Text:      buf.String(),
		MimeType:  "application/pdf",
		PageCount: numPages,
		Pages:     pages,
	}, nil
}

// collapseSpace flattens the extractor's erratic whitespace into single
// spaces.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
