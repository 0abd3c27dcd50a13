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

package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kadirpekel/corpus/pkg/config"
)

// ChromaStore talks to a Chroma server over its HTTP API. Chroma reports
// cosine distance; scores are inverted to 1-d so higher is better.
type ChromaStore struct {
	baseURL    string
	httpClient *http.Client
}

// NewChromaStore creates a Chroma-backed store.
func NewChromaStore(cfg config.VectorStoreConfig) (*ChromaStore, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("chroma host is required")
	}
	port := cfg.Port
	if port == 0 {
		port = 8000
	}
	scheme := "http"
	if cfg.UseTLS {
		scheme = "https"
	}

	return &ChromaStore{
		baseURL:    fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, port),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (s *ChromaStore) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("chroma returned %d: %s", resp.StatusCode, string(raw))
	}
	if out != nil {
		return json.Unmarshal(raw, out)
	}
	return nil
}

type chromaCollection struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// collectionID resolves a collection name to its server-side ID.
func (s *ChromaStore) collectionID(ctx context.Context, name string) (string, error) {
	var col chromaCollection
	err := s.do(ctx, http.MethodGet, "/api/v1/collections/"+name, nil, &col)
	if err != nil {
		return "", NewCollectionNotFoundError("chroma", name)
	}
	return col.ID, nil
}

// CreateCollection creates the collection with cosine space and HNSW
// parameters. Idempotent via get_or_create.
func (s *ChromaStore) CreateCollection(ctx context.Context, name string, _ int) error {
	body := map[string]any{
		"name":          name,
		"get_or_create": true,
		"metadata": map[string]any{
			"hnsw:space":           "cosine",
			"hnsw:M":               hnswM,
			"hnsw:construction_ef": hnswEfConstruction,
		},
	}
	if err := s.do(ctx, http.MethodPost, "/api/v1/collections", body, nil); err != nil {
		return NewCollectionError("chroma", name, "failed to create collection", err)
	}
	return nil
}

// DeleteCollection removes the collection.
func (s *ChromaStore) DeleteCollection(ctx context.Context, name string) error {
	if err := s.do(ctx, http.MethodDelete, "/api/v1/collections/"+name, nil, nil); err != nil {
		return NewCollectionError("chroma", name, "failed to delete collection", err)
	}
	return nil
}

// AddChunks upserts chunks.
func (s *ChromaStore) AddChunks(ctx context.Context, collection string, chunks []ChunkRecord) error {
	id, err := s.collectionID(ctx, collection)
	if err != nil {
		return err
	}

	ids := make([]string, len(chunks))
	embeddings := make([][]float32, len(chunks))
	metadatas := make([]map[string]any, len(chunks))
	documents := make([]string, len(chunks))
	for i, chunk := range chunks {
		ids[i] = chunk.ID
		embeddings[i] = chunk.Vector
		meta := chunkMetadata(chunk)
		delete(meta, "text")
		metadatas[i] = meta
		documents[i] = chunk.Text
	}

	body := map[string]any{
		"ids":        ids,
		"embeddings": embeddings,
		"metadatas":  metadatas,
		"documents":  documents,
	}
	if err := s.do(ctx, http.MethodPost, "/api/v1/collections/"+id+"/upsert", body, nil); err != nil {
		return NewStoreError("chroma", "add", "upsert failed", err)
	}
	return nil
}

// Query returns the topK nearest chunks.
func (s *ChromaStore) Query(ctx context.Context, collection string, vector []float32, topK int, filter *Filter) ([]QueryMatch, error) {
	id, err := s.collectionID(ctx, collection)
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"query_embeddings": [][]float32{vector},
		"n_results":        topK,
		"include":          []string{"metadatas", "documents", "distances"},
	}
	if where := buildChromaWhere(filter); where != nil {
		body["where"] = where
	}

	var result struct {
		IDs       [][]string         `json:"ids"`
		Distances [][]float64        `json:"distances"`
		Metadatas [][]map[string]any `json:"metadatas"`
		Documents [][]string         `json:"documents"`
	}
	if err := s.do(ctx, http.MethodPost, "/api/v1/collections/"+id+"/query", body, &result); err != nil {
		return nil, NewStoreError("chroma", "query", "query failed", err)
	}
	if len(result.IDs) == 0 {
		return []QueryMatch{}, nil
	}

	matches := make([]QueryMatch, 0, len(result.IDs[0]))
	for i, hitID := range result.IDs[0] {
		var meta map[string]any
		if len(result.Metadatas) > 0 && i < len(result.Metadatas[0]) {
			meta = result.Metadatas[0][i]
		}
		score := float32(0)
		if len(result.Distances) > 0 && i < len(result.Distances[0]) {
			score = float32(1 - result.Distances[0][i])
		}
		m := matchFromMetadata(hitID, score, meta)
		if m.Text == "" && len(result.Documents) > 0 && i < len(result.Documents[0]) {
			m.Text = result.Documents[0][i]
		}
		matches = append(matches, m)
	}
	return matches, nil
}

// DeleteChunks removes chunks matching the filter.
func (s *ChromaStore) DeleteChunks(ctx context.Context, collection string, filter *Filter) error {
	id, err := s.collectionID(ctx, collection)
	if err != nil {
		return err
	}

	where := buildChromaWhere(filter)
	if where == nil {
		return NewStoreError("chroma", "delete", "refusing to delete without a filter", nil)
	}

	body := map[string]any{"where": where}
	if err := s.do(ctx, http.MethodPost, "/api/v1/collections/"+id+"/delete", body, nil); err != nil {
		return NewStoreError("chroma", "delete", "delete failed", err)
	}
	return nil
}

// Name returns "chroma".
func (s *ChromaStore) Name() string {
	return "chroma"
}

// Close releases resources.
func (s *ChromaStore) Close() error {
	s.httpClient.CloseIdleConnections()
	return nil
}

// buildChromaWhere renders the shared filter as Chroma's operator map.
func buildChromaWhere(filter *Filter) map[string]any {
	if filter == nil || len(filter.Conditions) == 0 {
		return nil
	}

	clauses := make([]map[string]any, 0, len(filter.Conditions))
	for _, cond := range filter.Conditions {
		var op string
		switch cond.Op {
		case OpEq:
			op = "$eq"
		case OpGte:
			op = "$gte"
		case OpLte:
			op = "$lte"
		case OpIn:
			op = "$in"
		default:
			continue
		}
		clauses = append(clauses, map[string]any{cond.Field: map[string]any{op: cond.Value}})
	}

	if len(clauses) == 0 {
		return nil
	}
	if len(clauses) == 1 {
		return clauses[0]
	}
	return map[string]any{"$and": clauses}
}

var _ Store = (*ChromaStore)(nil)
