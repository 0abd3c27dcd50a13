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
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// TextProcessor handles plain text and markdown files.
type TextProcessor struct{}

// NewTextProcessor creates a plain text processor.
func NewTextProcessor() *TextProcessor {
	return &TextProcessor{}
}

// Extensions returns the handled extensions.
func (p *TextProcessor) Extensions() []string {
	return []string{".txt", ".md"}
}

// Process reads the file as one document. Invalid UTF-8 bytes are decoded as
// Latin-1 so legacy exports do not fail ingestion.
func (p *TextProcessor) Process(_ context.Context, path string) ([]Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewProcessingError(path, "text", "failed to read file", err)
	}

	text := string(data)
	if !utf8.ValidString(text) {
		text = decodeLatin1(data)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, NewProcessingError(path, "text", "file contains no text", nil)
	}

	return []Document{{
		Name:   filepath.Base(path),
		Source: path,
		Text:   text,
		Metadata: map[string]string{
			"format": "text",
		},
	}}, nil
}

func decodeLatin1(data []byte) string {
	runes := make([]rune, len(data))
	for i, b := range data {
		runes[i] = rune(b)
	}
	return string(runes)
}

var _ Processor = (*TextProcessor)(nil)
