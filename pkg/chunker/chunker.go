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

// Package chunker splits document text into retrieval-sized pieces.
//
// Three strategies are available: fixed character windows with overlap,
// semantic splitting on embedding-distance breakpoints, and token windows
// measured with the model tokenizer.
package chunker

import (
	"context"
	"fmt"
)

// Strategy selects a chunking algorithm.
type Strategy string

const (
	StrategyFixed    Strategy = "fixed"
	StrategySemantic Strategy = "semantic"
	StrategyToken    Strategy = "token"
)

// Chunker splits text into ordered chunks.
type Chunker interface {
	// Chunk splits text. Chunks are returned in document order and never
	// empty; empty input yields an empty slice.
	Chunk(ctx context.Context, text string) ([]string, error)

	// Strategy returns the strategy this chunker implements.
	Strategy() Strategy
}

// EmbedFunc produces one embedding per input text. The semantic chunker uses
// it to measure distances between adjacent sentence groups.
type EmbedFunc func(ctx context.Context, texts []string) ([][]float32, error)

// Config configures a chunker.
type Config struct {
	Strategy Strategy

	// MinChunkSize in characters. A trailing chunk shorter than this is
	// merged into its predecessor.
	MinChunkSize int

	// MaxChunkSize in characters (fixed/semantic) or tokens (token).
	MaxChunkSize int

	// Overlap in characters (fixed) or tokens (token).
	Overlap int

	// ThresholdPercentile for semantic breakpoints (default 90).
	ThresholdPercentile float64

	// Encoding names the tiktoken encoding for the token strategy
	// (default cl100k_base).
	Encoding string
}

// SetDefaults applies default values.
func (c *Config) SetDefaults() {
	if c.Strategy == "" {
		c.Strategy = StrategyFixed
	}
	if c.MinChunkSize <= 0 {
		c.MinChunkSize = 100
	}
	if c.MaxChunkSize <= 0 {
		c.MaxChunkSize = 1000
	}
	if c.Overlap < 0 {
		c.Overlap = 0
	}
	if c.ThresholdPercentile <= 0 || c.ThresholdPercentile > 100 {
		c.ThresholdPercentile = 90
	}
	if c.Encoding == "" {
		c.Encoding = "cl100k_base"
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Strategy {
	case StrategyFixed, StrategySemantic, StrategyToken:
	default:
		return NewConfigError("strategy", fmt.Sprintf("unknown strategy %q", c.Strategy))
	}
	if c.MaxChunkSize < c.MinChunkSize {
		return NewConfigError("max_chunk_size",
			fmt.Sprintf("max_chunk_size (%d) must be at least min_chunk_size (%d)", c.MaxChunkSize, c.MinChunkSize))
	}
	if c.Overlap >= c.MaxChunkSize {
		return NewConfigError("overlap",
			fmt.Sprintf("overlap (%d) must be smaller than max_chunk_size (%d)", c.Overlap, c.MaxChunkSize))
	}
	return nil
}

// New creates a chunker for the configured strategy. The embed function is
// required only for the semantic strategy.
func New(cfg Config, embed EmbedFunc) (Chunker, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Strategy {
	case StrategyFixed:
		return NewFixedChunker(cfg), nil
	case StrategySemantic:
		if embed == nil {
			return nil, NewConfigError("strategy", "semantic strategy requires an embed function")
		}
		return NewSemanticChunker(cfg, embed), nil
	case StrategyToken:
		return NewTokenChunker(cfg)
	default:
		return nil, NewConfigError("strategy", fmt.Sprintf("unknown strategy %q", cfg.Strategy))
	}
}

// ConfigError reports an invalid chunker configuration.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("chunker config %s: %s", e.Field, e.Message)
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{Field: field, Message: message}
}
