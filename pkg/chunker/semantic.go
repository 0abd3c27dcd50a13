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
	"math"
	"sort"
	"strings"
)

// SemanticChunker splits text at embedding-distance breakpoints between
// sentence groups. Each sentence is embedded together with its immediate
// neighbors; a split happens where the cosine distance between consecutive
// windows exceeds the configured percentile of all distances.
type SemanticChunker struct {
	config Config
	embed  EmbedFunc

	// fallback handles degenerate inputs: too few sentences, or every
	// candidate group filtered out by the size bounds.
	fallback *FixedChunker
}

// NewSemanticChunker creates a semantic chunker.
func NewSemanticChunker(cfg Config, embed EmbedFunc) *SemanticChunker {
	cfg.SetDefaults()
	return &SemanticChunker{
		config:   cfg,
		embed:    embed,
		fallback: NewFixedChunker(cfg),
	}
}

// Strategy returns StrategySemantic.
func (c *SemanticChunker) Strategy() Strategy {
	return StrategySemantic
}

// Chunk splits text at semantic breakpoints. If the text has fewer than three
// sentences, or the breakpoint grouping yields no usable chunk, it falls back
// to fixed-window chunking rather than returning nothing.
func (c *SemanticChunker) Chunk(ctx context.Context, text string) ([]string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return []string{}, nil
	}

	sentences := splitSentences(text)
	if len(sentences) < 3 {
		return c.fallback.Chunk(ctx, text)
	}

	windows := make([]string, len(sentences))
	for i := range sentences {
		lo := i - 1
		if lo < 0 {
			lo = 0
		}
		hi := i + 2
		if hi > len(sentences) {
			hi = len(sentences)
		}
		windows[i] = strings.Join(sentences[lo:hi], " ")
	}

	vectors, err := c.embed(ctx, windows)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(windows) {
		return c.fallback.Chunk(ctx, text)
	}

	distances := make([]float64, 0, len(vectors)-1)
	for i := 0; i < len(vectors)-1; i++ {
		distances = append(distances, 1-cosineSimilarity(vectors[i], vectors[i+1]))
	}

	threshold := percentile(distances, c.config.ThresholdPercentile)

	var chunks []string
	var current []string
	for i, sentence := range sentences {
		current = append(current, sentence)
		atBreak := i < len(distances) && distances[i] > threshold
		group := strings.Join(current, " ")
		if atBreak || len([]rune(group)) >= c.config.MaxChunkSize {
			chunks = append(chunks, group)
			current = nil
		}
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}

	chunks = c.enforceBounds(ctx, chunks)
	if len(chunks) == 0 {
		return c.fallback.Chunk(ctx, text)
	}

	return chunks, nil
}

// enforceBounds splits oversized groups with the fixed chunker and merges
// undersized tails into their predecessors.
func (c *SemanticChunker) enforceBounds(ctx context.Context, groups []string) []string {
	var out []string
	for _, g := range groups {
		g = strings.TrimSpace(g)
		if g == "" {
			continue
		}
		if len([]rune(g)) > c.config.MaxChunkSize {
			sub, err := c.fallback.Chunk(ctx, g)
			if err == nil {
				out = append(out, sub...)
				continue
			}
		}
		if len([]rune(g)) < c.config.MinChunkSize && len(out) > 0 {
			out[len(out)-1] = out[len(out)-1] + " " + g
			continue
		}
		out = append(out, g)
	}
	return out
}

// splitSentences is a lightweight sentence splitter on terminal punctuation.
func splitSentences(text string) []string {
	var sentences []string
	var sb strings.Builder
	runes := []rune(text)

	for i, r := range runes {
		sb.WriteRune(r)
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			// Avoid splitting decimals like "3.14".
			if r == '.' && i+1 < len(runes) && runes[i+1] >= '0' && runes[i+1] <= '9' {
				continue
			}
			s := strings.TrimSpace(sb.String())
			if s != "" {
				sentences = append(sentences, s)
			}
			sb.Reset()
		}
	}
	if s := strings.TrimSpace(sb.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

var _ Chunker = (*SemanticChunker)(nil)
