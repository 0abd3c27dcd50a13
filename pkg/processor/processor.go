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

// Package processor extracts text, tables and images from ingestible file
// formats. Each format processor turns one file into one or more documents:
// PDFs yield one document per page, spreadsheets one per worksheet, plain
// text and word-processing files a single document.
package processor

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// Document is one extracted unit of a source file.
type Document struct {
	// Name identifies the unit, e.g. "report.pdf (page 3)" or
	// "data.xlsx [Sheet1]".
	Name string

	// Source is the originating file path.
	Source string

	// Text is the extracted plain text, with tables rendered inline as
	// markdown and images as placeholder lines.
	Text string

	// Tables extracted from the unit.
	Tables []Table

	// Images extracted from the unit.
	Images []ImageRef

	// Metadata carries format-level properties (title, author, page count).
	Metadata map[string]string
}

// Table is a grid of cell values.
type Table struct {
	Rows [][]string
}

// Markdown renders the table as a GitHub-style markdown table.
func (t Table) Markdown() string {
	if len(t.Rows) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, row := range t.Rows {
		sb.WriteString("| ")
		sb.WriteString(strings.Join(row, " | "))
		sb.WriteString(" |\n")
		if i == 0 {
			sb.WriteString("|")
			sb.WriteString(strings.Repeat(" --- |", len(row)))
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// ImageRef points at an image extracted to disk.
type ImageRef struct {
	// Path of the written image file.
	Path string

	// Hash is the sha256 of the raw stream, used for deduplication.
	Hash string
}

// Placeholder returns the text line standing in for the image.
func (r ImageRef) Placeholder() string {
	return "Image: " + r.Path
}

// Processor extracts documents from one file format.
type Processor interface {
	// Extensions returns the lowercase file extensions handled, with dot.
	Extensions() []string

	// Process extracts documents from the file at path.
	Process(ctx context.Context, path string) ([]Document, error)
}

// Registry dispatches files to format processors by extension.
type Registry struct {
	processors map[string]Processor
}

// NewRegistry creates a registry with the given processors.
func NewRegistry(processors ...Processor) *Registry {
	r := &Registry{processors: make(map[string]Processor)}
	for _, p := range processors {
		r.Register(p)
	}
	return r
}

// DefaultRegistry returns a registry covering txt, pdf, docx and xlsx.
// Extracted images land under imageDir.
func DefaultRegistry(imageDir string) *Registry {
	return NewRegistry(
		NewTextProcessor(),
		NewPDFProcessor(imageDir),
		NewDocxProcessor(),
		NewXlsxProcessor(),
	)
}

// Register adds a processor for its extensions.
func (r *Registry) Register(p Processor) {
	for _, ext := range p.Extensions() {
		r.processors[strings.ToLower(ext)] = p
	}
}

// Supported reports whether the path's extension has a processor.
func (r *Registry) Supported(path string) bool {
	_, ok := r.processors[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Process dispatches the file to its format processor.
func (r *Registry) Process(ctx context.Context, path string) ([]Document, error) {
	ext := strings.ToLower(filepath.Ext(path))
	p, ok := r.processors[ext]
	if !ok {
		return nil, NewUnsupportedFileTypeError(ext)
	}
	docs, err := p.Process(ctx, path)
	if err != nil {
		return nil, err
	}
	for i := range docs {
		if docs[i].Source == "" {
			docs[i].Source = path
		}
	}
	return docs, nil
}

// ProcessingError reports an extraction failure.
type ProcessingError struct {
	File    string
	Format  string
	Message string
	Err     error
}

func (e *ProcessingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to process %s file %s: %s: %v", e.Format, e.File, e.Message, e.Err)
	}
	return fmt.Sprintf("failed to process %s file %s: %s", e.Format, e.File, e.Message)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

// NewProcessingError creates a new ProcessingError.
func NewProcessingError(file, format, message string, err error) *ProcessingError {
	return &ProcessingError{File: file, Format: format, Message: message, Err: err}
}

// UnsupportedFileTypeError reports a file extension with no processor.
type UnsupportedFileTypeError struct {
	Extension string
}

func (e *UnsupportedFileTypeError) Error() string {
	return fmt.Sprintf("unsupported file type: %q", e.Extension)
}

// NewUnsupportedFileTypeError creates a new UnsupportedFileTypeError.
func NewUnsupportedFileTypeError(ext string) *UnsupportedFileTypeError {
	return &UnsupportedFileTypeError{Extension: ext}
}
