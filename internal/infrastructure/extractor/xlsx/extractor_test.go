package xlsx

import (
	"bytes"
	"context"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/winnow/internal/core/domain"
)

func workbookBytes(t *testing.T, build func(f *excelize.File)) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	build(f)
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	return buf.Bytes()
}

func TestExtractSingleSheet(t *testing.T) {
	content := workbookBytes(t, func(f *excelize.File) {
		f.SetCellValue("Sheet1", "A1", "Quarter")
		f.SetCellValue("Sheet1", "B1", "Revenue")
		f.SetCellValue("Sheet1", "A2", "Q1")
		f.SetCellValue("Sheet1", "B2", "1200")
	})

	doc, err := NewExtractor().Extract(context.Background(), content, "report.xlsx")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	want := "Quarter\tRevenue\nQ1\t1200"
	if doc.Text != want {
		t.Errorf("Text = %q, want %q", doc.Text, want)
	}
	if len(doc.Sections) != 1 || doc.Sections[0].Path != "Sheet1" {
		t.Errorf("Sections = %+v, want one Sheet1 region", doc.Sections)
	}
	if doc.Sections[0].Start != 0 || doc.Sections[0].End != len(doc.Text) {
		t.Errorf("section span = [%d, %d)", doc.Sections[0].Start, doc.Sections[0].End)
	}
}

func TestExtractSheetsBecomeSections(t *testing.T) {
	content := workbookBytes(t, func(f *excelize.File) {
		f.SetCellValue("Sheet1", "A1", "first sheet data")
		if _, err := f.NewSheet("Budget"); err != nil {
			t.Fatalf("NewSheet: %v", err)
		}
		f.SetCellValue("Budget", "A1", "second sheet data")
	})

	doc, err := NewExtractor().Extract(context.Background(), content, "book.xlsx")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	if len(doc.Sections) != 2 {
		t.Fatalf("Sections = %+v, want 2", doc.Sections)
	}
	for _, s := range doc.Sections {
		got := doc.Text[s.Start:s.End]
		switch s.Path {
		case "Sheet1":
			if got != "first sheet data" {
				t.Errorf("Sheet1 text = %q", got)
			}
		case "Budget":
			if got != "second sheet data" {
				t.Errorf("Budget text = %q", got)
			}
		default:
			t.Errorf("unexpected section %q", s.Path)
		}
	}
}

func TestExtractSkipsEmptySheets(t *testing.T) {
	content := workbookBytes(t, func(f *excelize.File) {
		if _, err := f.NewSheet("Empty"); err != nil {
			t.Fatalf("NewSheet: %v", err)
		}
		f.SetCellValue("Sheet1", "A1", "only data")
	})

	doc, err := NewExtractor().Extract(context.Background(), content, "sparse.xlsx")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(doc.Sections) != 1 || doc.Sections[0].Path != "Sheet1" {
		t.Errorf("Sections = %+v, want only Sheet1", doc.Sections)
	}
}

func TestExtractRejectsGarbage(t *testing.T) {
	_, err := NewExtractor().Extract(context.Background(), []byte("not a zip"), "broken.xlsx")
	if err == nil {
		t.Fatal("expected error for non-workbook bytes")
	}
	if !domain.IsKind(err, domain.ErrParse) {
		t.Errorf("err = %v, want parse kind", err)
	}
}
