package processor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"
)

func TestTextProcessor(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "note.txt")
	if err := os.WriteFile(path, []byte("hello\nworld\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	docs, err := NewTextProcessor().Process(context.Background(), path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 document, got %d", len(docs))
	}
	if docs[0].Text != "hello\nworld" {
		t.Errorf("unexpected text: %q", docs[0].Text)
	}
	if docs[0].Name != "note.txt" {
		t.Errorf("unexpected name: %q", docs[0].Name)
	}
}

func TestTextProcessorLatin1Fallback(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "legacy.txt")
	// 0xE9 is é in Latin-1 but invalid as a standalone UTF-8 byte.
	if err := os.WriteFile(path, []byte{'c', 'a', 'f', 0xE9}, 0o644); err != nil {
		t.Fatal(err)
	}

	docs, err := NewTextProcessor().Process(context.Background(), path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if docs[0].Text != "café" {
		t.Errorf("expected latin-1 decode, got %q", docs[0].Text)
	}
}

func TestTextProcessorEmptyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.txt")
	if err := os.WriteFile(path, []byte("   \n"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := NewTextProcessor().Process(context.Background(), path)
	var perr *ProcessingError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ProcessingError, got %v", err)
	}
}

func TestRegistryDispatch(t *testing.T) {
	r := DefaultRegistry(t.TempDir())

	if !r.Supported("a/b/report.PDF") {
		t.Error("pdf should be supported case-insensitively")
	}
	if r.Supported("archive.zip") {
		t.Error("zip should not be supported")
	}

	_, err := r.Process(context.Background(), "archive.zip")
	var uerr *UnsupportedFileTypeError
	if !errors.As(err, &uerr) {
		t.Fatalf("expected UnsupportedFileTypeError, got %v", err)
	}
	if uerr.Extension != ".zip" {
		t.Errorf("unexpected extension: %q", uerr.Extension)
	}
}

func TestXlsxProcessorPerSheetDocuments(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.xlsx")

	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", "People"); err != nil {
		t.Fatal(err)
	}
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(f.SetCellValue("People", "A1", "name"))
	must(f.SetCellValue("People", "B1", "age"))
	must(f.SetCellValue("People", "A2", "ada"))
	must(f.SetCellValue("People", "B2", 36))

	_, err := f.NewSheet("Empty")
	must(err)

	_, err = f.NewSheet("Cities")
	must(err)
	must(f.SetCellValue("Cities", "A1", "city"))
	must(f.SetCellValue("Cities", "A2", "london"))

	must(f.SaveAs(path))
	must(f.Close())

	docs, err := NewXlsxProcessor().Process(context.Background(), path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents (empty sheet skipped), got %d", len(docs))
	}
	if !strings.Contains(docs[0].Name, "[People]") {
		t.Errorf("unexpected name: %q", docs[0].Name)
	}
	if !strings.Contains(docs[0].Text, "| name | age |") {
		t.Errorf("expected markdown header row, got:\n%s", docs[0].Text)
	}
	if docs[0].Metadata["sheet"] != "People" {
		t.Errorf("unexpected sheet metadata: %v", docs[0].Metadata)
	}
}

// writeTestPDF assembles a minimal multi-page PDF by hand, tracking byte
// offsets for the xref table.
func writeTestPDF(t *testing.T, dir string, pages int) string {
	t.Helper()

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")

	var offsets []int
	addObj := func(num int, content string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", num, content)
	}

	kids := make([]string, 0, pages)
	for i := 0; i < pages; i++ {
		kids = append(kids, fmt.Sprintf("%d 0 R", 4+2*i))
	}

	addObj(1, "<< /Type /Catalog /Pages 2 0 R >>")
	addObj(2, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), pages))
	addObj(3, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>")
	for i := 0; i < pages; i++ {
		pageObj, contentObj := 4+2*i, 5+2*i
		addObj(pageObj, fmt.Sprintf(
			"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>",
			contentObj))
		stream := fmt.Sprintf("BT /F1 12 Tf 72 720 Td (Page %d) Tj ET", i+1)
		addObj(contentObj, fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream))
	}

	xrefOffset := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(offsets)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n",
		len(offsets)+1, xrefOffset)

	path := filepath.Join(dir, "doc.pdf")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestPDFProcessorSkipsUnreadablePage(t *testing.T) {
	path := writeTestPDF(t, t.TempDir(), 3)

	p := NewPDFProcessor("")
	var calls int32
	p.textFn = func(pdf.Page) (string, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return "", errors.New("bad content stream")
		}
		return "Recovered page text.", nil
	}

	docs, err := p.Process(context.Background(), path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected the readable pages to survive, got %d documents", len(docs))
	}
	for _, doc := range docs {
		if doc.Metadata["page_number"] == "" {
			t.Errorf("document %q is missing its page number", doc.Name)
		}
	}
}

func TestPDFProcessorFailsWhenNoPageIsReadable(t *testing.T) {
	path := writeTestPDF(t, t.TempDir(), 2)

	p := NewPDFProcessor("")
	p.textFn = func(pdf.Page) (string, error) {
		return "", errors.New("bad content stream")
	}

	_, err := p.Process(context.Background(), path)
	var perr *ProcessingError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ProcessingError, got %v", err)
	}
}

func TestStripDocxXML(t *testing.T) {
	xml := `<w:p><w:r><w:t>First paragraph.</w:t></w:r></w:p><w:p><w:r><w:t>Second &amp; third.</w:t></w:r></w:p>`
	got := stripDocxXML(xml)
	want := "First paragraph.\nSecond & third."
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestTableMarkdown(t *testing.T) {
	table := Table{Rows: [][]string{{"a", "b"}, {"1", "2"}}}
	md := table.Markdown()
	if !strings.Contains(md, "| a | b |") || !strings.Contains(md, "| --- | --- |") {
		t.Errorf("unexpected markdown:\n%s", md)
	}
}

func TestInferGridRejectsProse(t *testing.T) {
	// Single-column rows: prose, not a table.
	rows := [][]positioned{
		{{x: 10, y: 100, s: "This is a sentence."}},
		{{x: 10, y: 80, s: "Another sentence."}},
		{{x: 10, y: 60, s: "More text."}},
	}
	if grid := inferGrid(rows); grid != nil {
		t.Errorf("expected prose to be rejected, got %v", grid)
	}
}

func TestInferGridAcceptsAlignedColumns(t *testing.T) {
	rows := [][]positioned{
		{{x: 10, y: 100, s: "name"}, {x: 120, y: 100, s: "age"}},
		{{x: 10, y: 80, s: "ada"}, {x: 120, y: 80, s: "36"}},
		{{x: 10, y: 60, s: "alan"}, {x: 120, y: 60, s: "41"}},
	}
	grid := inferGrid(rows)
	if grid == nil {
		t.Fatal("expected table to be detected")
	}
	if len(grid) != 3 || len(grid[0]) != 2 {
		t.Fatalf("unexpected grid shape: %v", grid)
	}
	if grid[1][0] != "ada" || grid[1][1] != "36" {
		t.Errorf("unexpected cells: %v", grid[1])
	}
}
