// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package processor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/ledongthuc/pdf"
	"golang.org/x/sync/errgroup"
)

// PDFProcessor extracts one document per page: plain text, tables recovered
// from positioned text, and embedded images written to disk.
type PDFProcessor struct {
	imageDir string

	// textFn extracts a page's plain text; replaced in tests.
	textFn func(page pdf.Page) (string, error)
}

// NewPDFProcessor creates a PDF processor. Extracted images are written
// under imageDir, one subdirectory per source file.
func NewPDFProcessor(imageDir string) *PDFProcessor {
	return &PDFProcessor{
		imageDir: imageDir,
		textFn: func(page pdf.Page) (string, error) {
			return page.GetPlainText(nil)
		},
	}
}

// Extensions returns the handled extensions.
func (p *PDFProcessor) Extensions() []string {
	return []string{".pdf"}
}

// Process extracts all pages, working on pages in parallel bounded by the
// CPU count. Page order is preserved in the returned slice.
func (p *PDFProcessor) Process(ctx context.Context, path string) ([]Document, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, NewProcessingError(path, "pdf", "failed to open file", err)
	}
	defer func() { _ = f.Close() }()

	totalPages := reader.NumPage()
	if totalPages == 0 {
		return nil, NewProcessingError(path, "pdf", "document has no pages", nil)
	}

	meta := p.extractMetadata(reader, totalPages)
	base := filepath.Base(path)

	docs := make([]Document, totalPages)

	workers := runtime.NumCPU()
	if workers > totalPages {
		workers = totalPages
	}

	// seenImages dedupes identical image streams reused across pages.
	seenImages := make(map[string]string)
	var imageMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for pageNum := 1; pageNum <= totalPages; pageNum++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			page := reader.Page(pageNum)
			if page.V.IsNull() {
				return nil
			}

			text, err := p.textFn(page)
			if err != nil {
				// One broken page does not fail the file; sibling pages
				// keep going.
				slog.Warn("Skipping unreadable PDF page",
					"file", base, "page", pageNum, "error", err)
				return nil
			}
			text = strings.TrimSpace(text)

			tables := extractTables(page)
			images := p.extractImages(page, base, seenImages, &imageMu)

			var sb strings.Builder
			sb.WriteString(text)
			for _, table := range tables {
				sb.WriteString("\n\n")
				sb.WriteString(table.Markdown())
			}
			for _, img := range images {
				sb.WriteString("\n")
				sb.WriteString(img.Placeholder())
			}

			pageMeta := make(map[string]string, len(meta)+1)
			for k, v := range meta {
				pageMeta[k] = v
			}
			pageMeta["page_number"] = fmt.Sprintf("%d", pageNum)

			docs[pageNum-1] = Document{
				Name:     fmt.Sprintf("%s (page %d)", base, pageNum),
				Source:   path,
				Text:     strings.TrimSpace(sb.String()),
				Tables:   tables,
				Images:   images,
				Metadata: pageMeta,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Drop pages with no extractable content.
	out := docs[:0]
	for _, d := range docs {
		if d.Text != "" {
			out = append(out, d)
		}
	}
	if len(out) == 0 {
		return nil, NewProcessingError(path, "pdf", "no text could be extracted", nil)
	}
	return out, nil
}

func (p *PDFProcessor) extractMetadata(reader *pdf.Reader, totalPages int) map[string]string {
	meta := map[string]string{
		"format": "pdf",
		"pages":  fmt.Sprintf("%d", totalPages),
	}

	info := reader.Trailer().Key("Info")
	if info.IsNull() {
		return meta
	}
	for _, key := range []string{"Title", "Author", "Subject", "CreationDate"} {
		if v := info.Key(key); !v.IsNull() {
			if s := strings.TrimSpace(v.RawString()); s != "" {
				meta[strings.ToLower(key)] = s
			}
		}
	}
	return meta
}

// extractImages walks the page's XObject resources for image streams,
// dedupes them by content hash, and writes each unique stream to disk.
// Failures here never fail the page; images are best effort.
func (p *PDFProcessor) extractImages(page pdf.Page, base string, seen map[string]string, mu *sync.Mutex) []ImageRef {
	if p.imageDir == "" {
		return nil
	}

	defer func() {
		// Malformed XObject dictionaries can panic inside the pdf package.
		_ = recover()
	}()

	xobjects := page.V.Key("Resources").Key("XObject")
	if xobjects.IsNull() {
		return nil
	}

	var refs []ImageRef
	for _, name := range xobjects.Keys() {
		obj := xobjects.Key(name)
		if obj.IsNull() || obj.Key("Subtype").Name() != "Image" {
			continue
		}

		data, err := io.ReadAll(obj.Reader())
		if err != nil || len(data) == 0 {
			continue
		}

		sum := sha256.Sum256(data)
		hash := hex.EncodeToString(sum[:])

		mu.Lock()
		path, exists := seen[hash]
		if !exists {
			dir := filepath.Join(p.imageDir, strings.TrimSuffix(base, filepath.Ext(base)))
			if err := os.MkdirAll(dir, 0o755); err == nil {
				path = filepath.Join(dir, hash[:16]+".bin")
				if err := os.WriteFile(path, data, 0o644); err == nil {
					seen[hash] = path
				} else {
					path = ""
				}
			}
		}
		mu.Unlock()

		if path != "" {
			refs = append(refs, ImageRef{Path: path, Hash: hash})
		}
	}
	return refs
}

// extractTables recovers tables from positioned page text: fragments are
// clustered into rows by Y coordinate, rows into columns by X gaps, and a
// candidate grid is kept only when it looks like an actual table.
func extractTables(page pdf.Page) []Table {
	defer func() { _ = recover() }()

	texts := page.Content().Text
	if len(texts) < 4 {
		return nil
	}

	rows := clusterRows(texts)
	grid := inferGrid(rows)
	if grid == nil {
		return nil
	}
	return []Table{{Rows: grid}}
}

type positioned struct {
	x, y float64
	s    string
}

// clusterRows groups text fragments whose Y coordinates are within 5 points,
// ordered top to bottom, fragments left to right.
func clusterRows(texts []pdf.Text) [][]positioned {
	const yTolerance = 5.0

	frags := make([]positioned, 0, len(texts))
	for _, t := range texts {
		if strings.TrimSpace(t.S) == "" {
			continue
		}
		frags = append(frags, positioned{x: t.X, y: t.Y, s: t.S})
	}
	if len(frags) == 0 {
		return nil
	}

	// PDF Y grows upward; sort top (large Y) first.
	sort.Slice(frags, func(i, j int) bool { return frags[i].y > frags[j].y })

	var rows [][]positioned
	current := []positioned{frags[0]}
	for _, f := range frags[1:] {
		if current[0].y-f.y <= yTolerance {
			current = append(current, f)
		} else {
			rows = append(rows, current)
			current = []positioned{f}
		}
	}
	rows = append(rows, current)

	for _, row := range rows {
		sort.Slice(row, func(i, j int) bool { return row[i].x < row[j].x })
	}
	return rows
}

// inferGrid turns clustered rows into a cell grid. The candidate is rejected
// unless it has at least 2 columns and 2 rows, a consistent column count,
// and at least a quarter of its cells non-empty.
func inferGrid(rows [][]positioned) [][]string {
	const xTolerance = 10.0

	// Collect candidate column boundaries from the row with the most
	// fragments.
	var widest []positioned
	for _, row := range rows {
		if len(row) > len(widest) {
			widest = row
		}
	}
	if len(widest) < 2 || len(rows) < 2 {
		return nil
	}

	columns := make([]float64, 0, len(widest))
	for _, f := range widest {
		columns = append(columns, f.x)
	}

	grid := make([][]string, 0, len(rows))
	multiCell := 0
	for _, row := range rows {
		cells := make([]string, len(columns))
		used := 0
		for _, f := range row {
			col := nearestColumn(columns, f.x, xTolerance)
			if col < 0 {
				continue
			}
			if cells[col] != "" {
				cells[col] += " "
			}
			cells[col] += strings.TrimSpace(f.s)
			used++
		}
		if used >= 2 {
			multiCell++
		}
		grid = append(grid, cells)
	}

	// Most rows should populate more than one column, otherwise this is
	// running prose, not a table.
	if multiCell*2 < len(grid) {
		return nil
	}

	nonEmpty := 0
	for _, row := range grid {
		for _, c := range row {
			if c != "" {
				nonEmpty++
			}
		}
	}
	if nonEmpty*4 < len(grid)*len(columns) {
		return nil
	}
	return grid
}

func nearestColumn(columns []float64, x, tolerance float64) int {
	best := -1
	bestDist := tolerance
	for i, cx := range columns {
		dist := x - cx
		if dist < 0 {
			dist = -dist
		}
		if dist <= bestDist {
			best = i
			bestDist = dist
		}
	}
	return best
}

var _ Processor = (*PDFProcessor)(nil)
