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

package chunker

import (
	"context"
	"strings"
)

// FixedChunker splits text into character windows of at most MaxChunkSize
// with Overlap characters shared between consecutive windows.
type FixedChunker struct {
	config Config
}

// NewFixedChunker creates a fixed-window chunker.
func NewFixedChunker(cfg Config) *FixedChunker {
	cfg.SetDefaults()
	return &FixedChunker{config: cfg}
}

// Strategy returns StrategyFixed.
func (c *FixedChunker) Strategy() Strategy {
	return StrategyFixed
}

// Chunk splits text into overlapping windows. A trailing window shorter than
// MinChunkSize is merged into its predecessor so no undersized chunk is
// emitted.
func (c *FixedChunker) Chunk(_ context.Context, text string) ([]string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return []string{}, nil
	}

	runes := []rune(text)
	if len(runes) <= c.config.MaxChunkSize {
		return []string{text}, nil
	}

	stride := c.config.MaxChunkSize - c.config.Overlap
	if stride <= 0 {
		stride = c.config.MaxChunkSize
	}

	var chunks []string
	for pos := 0; pos < len(runes); pos += stride {
		end := pos + c.config.MaxChunkSize
		if end > len(runes) {
			end = len(runes)
		}

		remaining := end - pos
		if remaining < c.config.MinChunkSize && len(chunks) > 0 {
			// Extend the previous chunk to the end of the text instead of
			// emitting an undersized tail.
			prevStart := (len(chunks) - 1) * stride
			chunks[len(chunks)-1] = string(runes[prevStart:end])
			break
		}

		chunks = append(chunks, string(runes[pos:end]))
		if end == len(runes) {
			break
		}
	}

	return chunks, nil
}

var _ Chunker = (*FixedChunker)(nil)
