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

// Package embedder provides batched embedding clients.
package embedder

import (
	"context"
	"fmt"

	"github.com/kadirpekel/corpus/pkg/config"
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates embeddings for a batch of texts, one vector per input,
	// in input order. Large batches are split into provider-sized requests
	// internally.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the embedding dimension.
	Dimension() int

	// Model returns the model identifier.
	Model() string

	// Close releases resources.
	Close() error
}

// New creates an embedder from the deployment configuration.
func New(cfg config.EmbeddingConfig) (Embedder, error) {
	switch cfg.Provider {
	case "", "openai":
		return NewOpenAIEmbedder(cfg)
	case "watsonx":
		return NewWatsonXEmbedder(cfg)
	default:
		return nil, fmt.Errorf("unknown embedding provider: %q", cfg.Provider)
	}
}

// EmbeddingError reports a failure from the embedding provider.
type EmbeddingError struct {
	Provider string
	Message  string
	Err      error
}

func (e *EmbeddingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("embedding error (%s): %s: %v", e.Provider, e.Message, e.Err)
	}
	return fmt.Sprintf("embedding error (%s): %s", e.Provider, e.Message)
}

func (e *EmbeddingError) Unwrap() error {
	return e.Err
}

// NewEmbeddingError creates a new EmbeddingError.
func NewEmbeddingError(provider, message string, err error) *EmbeddingError {
	return &EmbeddingError{Provider: provider, Message: message, Err: err}
}

// DimensionMismatchError reports a vector of unexpected dimension.
type DimensionMismatchError struct {
	Expected int
	Got      int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}

// NewDimensionMismatchError creates a new DimensionMismatchError.
func NewDimensionMismatchError(expected, got int) *DimensionMismatchError {
	return &DimensionMismatchError{Expected: expected, Got: got}
}
