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

package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/corpus/pkg/config"
	"github.com/kadirpekel/corpus/pkg/retry"
)

// OpenAIEmbedder calls any OpenAI-compatible /v1/embeddings endpoint.
type OpenAIEmbedder struct {
	config     config.EmbeddingConfig
	httpClient *http.Client
	retryer    *retry.Retryer
}

type openaiEmbeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type openaiEmbeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// NewOpenAIEmbedder creates an embedder against an OpenAI-compatible API.
func NewOpenAIEmbedder(cfg config.EmbeddingConfig) (*OpenAIEmbedder, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	if cfg.Dimension <= 0 {
		return nil, NewEmbeddingError("openai", "dimension must be positive", nil)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 30
	}

	return &OpenAIEmbedder{
		config: cfg,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
		retryer: retry.New(retry.DefaultConfig()),
	}, nil
}

// Embed generates embeddings for texts, splitting them into subbatches of
// BatchSize issued with at most Concurrency requests in flight. Vectors come
// back in input order.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	type batch struct {
		offset int
		texts  []string
	}

	var batches []batch
	for start := 0; start < len(texts); start += e.config.BatchSize {
		end := start + e.config.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batches = append(batches, batch{offset: start, texts: texts[start:end]})
	}

	vectors := make([][]float32, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.config.Concurrency)
	for _, b := range batches {
		g.Go(func() error {
			batchVectors, err := e.embedBatch(gctx, b.texts)
			if err != nil {
				return err
			}
			copy(vectors[b.offset:], batchVectors)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, v := range vectors {
		if len(v) != e.config.Dimension {
			return nil, NewDimensionMismatchError(e.config.Dimension, len(v))
		}
	}

	return vectors, nil
}

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody := openaiEmbeddingRequest{
		Input: texts,
		Model: e.config.Model,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, NewEmbeddingError("openai", "failed to marshal request", err)
	}

	var result openaiEmbeddingResponse
	err = e.retryer.Do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			e.config.BaseURL+"/embeddings", bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if e.config.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+e.config.APIKey)
		}

		resp, err := e.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("embedding API returned %d: %s", resp.StatusCode, string(body))
		}

		result = openaiEmbeddingResponse{}
		return json.Unmarshal(body, &result)
	})
	if err != nil {
		return nil, NewEmbeddingError("openai", "embedding request failed", err)
	}
	if result.Error != nil {
		return nil, NewEmbeddingError("openai", result.Error.Message, nil)
	}
	if len(result.Data) != len(texts) {
		return nil, NewEmbeddingError("openai",
			fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(result.Data)), nil)
	}

	// The API is allowed to reorder; the index field restores input order.
	sort.Slice(result.Data, func(i, j int) bool {
		return result.Data[i].Index < result.Data[j].Index
	})

	vectors := make([][]float32, len(result.Data))
	for i, d := range result.Data {
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

// Dimension returns the configured embedding dimension.
func (e *OpenAIEmbedder) Dimension() int {
	return e.config.Dimension
}

// Model returns the model identifier.
func (e *OpenAIEmbedder) Model() string {
	return e.config.Model
}

// Close releases resources.
func (e *OpenAIEmbedder) Close() error {
	e.httpClient.CloseIdleConnections()
	return nil
}

var _ Embedder = (*OpenAIEmbedder)(nil)
