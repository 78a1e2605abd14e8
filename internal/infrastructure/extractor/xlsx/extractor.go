package xlsx

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/winnow/internal/core/domain"
)

// Extractor flattens workbooks into text, one section per sheet. Cells in a
// row are tab-joined so tabular neighborhoods survive tokenization.
type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

func (e *Extractor) Extract(ctx context.Context, content []byte, sourceFile string) (*domain.ExtractedDocument, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, domain.WrapError(domain.ErrParse, "open workbook", err)
	}
	defer f.Close()

	var (
		buf      strings.Builder
		sections []domain.SectionSpan
	)
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, domain.WrapError(domain.ErrParse, fmt.Sprintf("read sheet %q", sheet), err)
		}

		var sb strings.Builder
		for _, row := range rows {
			line := strings.TrimSpace(strings.Join(row, "\t"))
			if line == "" {
				continue
			}
			if sb.Len() > 0 {
				sb.WriteByte('\n')
			}
			sb.WriteString(line)
		}
		if sb.Len() == 0 {
			continue
		}

		if buf.Len() > 0 {
			buf.WriteString("\n\n")
		}
		start := buf.Len()
		buf.WriteString(sb.String())
		sections = append(sections, domain.SectionSpan{Path: sheet, Start: start, End: buf.Len()})
	}

	return &domain.ExtractedDocument{
		Text:     buf.String(),
		MimeType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		Sections: sections,
	}, nil
}
