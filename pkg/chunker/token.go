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
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// TokenChunker packs whole sentences into chunks of at most MaxChunkSize
// tokens, measured with the tiktoken encoding. Consecutive chunks share an
// Overlap-token suffix.
type TokenChunker struct {
	config   Config
	encoding *tiktoken.Tiktoken
}

// NewTokenChunker creates a token-window chunker.
func NewTokenChunker(cfg Config) (*TokenChunker, error) {
	cfg.SetDefaults()
	enc, err := tiktoken.GetEncoding(cfg.Encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load encoding %q: %w", cfg.Encoding, err)
	}
	return &TokenChunker{config: cfg, encoding: enc}, nil
}

// Strategy returns StrategyToken.
func (c *TokenChunker) Strategy() Strategy {
	return StrategyToken
}

// Chunk splits text into sentences and greedily accumulates them until the
// running token count would exceed MaxChunkSize. The emitted chunk seeds the
// next one with its Overlap-token suffix, so sentences are never cut in half.
func (c *TokenChunker) Chunk(_ context.Context, text string) ([]string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return []string{}, nil
	}
	if c.CountTokens(text) <= c.config.MaxChunkSize {
		return []string{text}, nil
	}

	// A single sentence over the budget cannot be kept whole; pre-split it
	// on token windows so packing sees bounded pieces.
	var pieces []string
	for _, sentence := range splitSentences(text) {
		pieces = append(pieces, c.splitOversized(sentence)...)
	}

	return packSentences(pieces, c.config.MaxChunkSize, c.CountTokens, c.overlapSuffix), nil
}

// packSentences greedily fills chunks with whole sentences up to maxTokens.
// After emitting a chunk, overlap(chunk) seeds the next one; a seed that
// leaves no room for the following sentence is dropped rather than emitted
// on its own.
func packSentences(sentences []string, maxTokens int, count func(string) int, overlap func(chunk string) string) []string {
	var chunks []string
	var current []string
	tokens := 0
	seedOnly := false

	emit := func() {
		chunk := strings.Join(current, " ")
		chunks = append(chunks, chunk)
		current, tokens, seedOnly = nil, 0, false
		if seed := overlap(chunk); seed != "" {
			current = []string{seed}
			tokens = count(seed)
			seedOnly = true
		}
	}

	for _, sentence := range sentences {
		n := count(sentence)
		if len(current) > 0 && tokens+n > maxTokens {
			if seedOnly {
				current, tokens, seedOnly = nil, 0, false
			} else {
				emit()
				if tokens+n > maxTokens {
					current, tokens, seedOnly = nil, 0, false
				}
			}
		}
		current = append(current, sentence)
		tokens += n
		seedOnly = false
	}
	if len(current) > 0 && !seedOnly {
		chunks = append(chunks, strings.Join(current, " "))
	}
	return chunks
}

// splitOversized cuts a sentence longer than MaxChunkSize into token windows.
func (c *TokenChunker) splitOversized(sentence string) []string {
	tokens := c.encoding.Encode(sentence, nil, nil)
	if len(tokens) <= c.config.MaxChunkSize {
		return []string{sentence}
	}

	var parts []string
	for pos := 0; pos < len(tokens); pos += c.config.MaxChunkSize {
		end := pos + c.config.MaxChunkSize
		if end > len(tokens) {
			end = len(tokens)
		}
		if piece := strings.TrimSpace(c.encoding.Decode(tokens[pos:end])); piece != "" {
			parts = append(parts, piece)
		}
	}
	return parts
}

// overlapSuffix returns the last Overlap tokens of chunk, or "" when overlap
// is disabled or the whole chunk would repeat.
func (c *TokenChunker) overlapSuffix(chunk string) string {
	if c.config.Overlap <= 0 {
		return ""
	}
	tokens := c.encoding.Encode(chunk, nil, nil)
	if len(tokens) <= c.config.Overlap {
		return ""
	}
	return strings.TrimSpace(c.encoding.Decode(tokens[len(tokens)-c.config.Overlap:]))
}

// CountTokens returns the token count of text under this chunker's encoding.
func (c *TokenChunker) CountTokens(text string) int {
	return len(c.encoding.Encode(text, nil, nil))
}

var _ Chunker = (*TokenChunker)(nil)
