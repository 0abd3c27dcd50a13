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
	"path/filepath"
	"regexp"
	"strings"

	"github.com/nguyenthenguyen/docx"
)

// DocxProcessor extracts text from Word documents as a single document.
type DocxProcessor struct{}

// NewDocxProcessor creates a DOCX processor.
func NewDocxProcessor() *DocxProcessor {
	return &DocxProcessor{}
}

// Extensions returns the handled extensions.
func (p *DocxProcessor) Extensions() []string {
	return []string{".docx"}
}

// Process extracts the document body text.
func (p *DocxProcessor) Process(_ context.Context, path string) ([]Document, error) {
	r, err := docx.ReadDocxFile(path)
	if err != nil {
		return nil, NewProcessingError(path, "docx", "failed to open file", err)
	}
	defer func() { _ = r.Close() }()

	content := r.Editable().GetContent()
	text := stripDocxXML(content)
	if text == "" {
		return nil, NewProcessingError(path, "docx", "document contains no text", nil)
	}

	return []Document{{
		Name:   filepath.Base(path),
		Source: path,
		Text:   text,
		Metadata: map[string]string{
			"format": "docx",
		},
	}}, nil
}

var (
	docxParagraphEnd = regexp.MustCompile(`</w:p>`)
	docxTags         = regexp.MustCompile(`<[^>]+>`)
	docxBlankLines   = regexp.MustCompile(`\n{3,}`)
)

// stripDocxXML flattens the document XML to plain text, keeping paragraph
// boundaries as newlines.
func stripDocxXML(content string) string {
	text := docxParagraphEnd.ReplaceAllString(content, "\n")
	text = docxTags.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "&amp;", "&")
	text = strings.ReplaceAll(text, "&lt;", "<")
	text = strings.ReplaceAll(text, "&gt;", ">")
	text = strings.ReplaceAll(text, "&quot;", `"`)
	text = strings.ReplaceAll(text, "&apos;", "'")
	text = docxBlankLines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

var _ Processor = (*DocxProcessor)(nil)
