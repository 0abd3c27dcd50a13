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
	"fmt"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// XlsxProcessor extracts one document per worksheet.
type XlsxProcessor struct{}

// NewXlsxProcessor creates a spreadsheet processor.
func NewXlsxProcessor() *XlsxProcessor {
	return &XlsxProcessor{}
}

// Extensions returns the handled extensions.
func (p *XlsxProcessor) Extensions() []string {
	return []string{".xlsx", ".xlsm"}
}

// Process extracts every non-empty worksheet as its own document; the sheet
// grid is carried both as a Table and rendered into the text as markdown.
func (p *XlsxProcessor) Process(_ context.Context, path string) ([]Document, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, NewProcessingError(path, "xlsx", "failed to open file", err)
	}
	defer func() { _ = f.Close() }()

	base := filepath.Base(path)
	sheets := f.GetSheetList()

	var docs []Document
	for _, sheet := range sheets {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, NewProcessingError(path, "xlsx",
				fmt.Sprintf("failed to read sheet %q", sheet), err)
		}

		table := normalizeSheet(rows)
		if len(table.Rows) == 0 {
			continue
		}

		docs = append(docs, Document{
			Name:   fmt.Sprintf("%s [%s]", base, sheet),
			Source: path,
			Text:   table.Markdown(),
			Tables: []Table{table},
			Metadata: map[string]string{
				"format": "xlsx",
				"sheet":  sheet,
			},
		})
	}

	if len(docs) == 0 {
		return nil, NewProcessingError(path, "xlsx", "workbook contains no data", nil)
	}
	return docs, nil
}

// normalizeSheet pads ragged rows to a uniform width and drops fully empty
// rows.
func normalizeSheet(rows [][]string) Table {
	width := 0
	for _, row := range rows {
		if len(row) > width {
			width = len(row)
		}
	}

	var out [][]string
	for _, row := range rows {
		empty := true
		cells := make([]string, width)
		for i, c := range row {
			c = strings.TrimSpace(c)
			cells[i] = c
			if c != "" {
				empty = false
			}
		}
		if !empty {
			out = append(out, cells)
		}
	}
	return Table{Rows: out}
}

var _ Processor = (*XlsxProcessor)(nil)
