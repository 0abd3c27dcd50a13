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
	"strings"
	"time"

	"github.com/kadirpekel/corpus/pkg/config"
)

// ElasticStore talks to Elasticsearch 8 over its REST API, using
// dense_vector kNN search. The _score of a cosine kNN query is already a
// similarity, so scores pass through unchanged.
type ElasticStore struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewElasticStore creates an Elasticsearch-backed store.
func NewElasticStore(cfg config.VectorStoreConfig) (*ElasticStore, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("elasticsearch host is required")
	}
	port := cfg.Port
	if port == 0 {
		port = 9200
	}
	scheme := "http"
	if cfg.UseTLS {
		scheme = "https"
	}

	return &ElasticStore{
		baseURL:    fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, port),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (s *ElasticStore) do(ctx context.Context, method, path string, contentType string, body []byte, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return 0, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if s.apiKey != "" {
		req.Header.Set("Authorization", "ApiKey "+s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("elasticsearch returned %d: %s", resp.StatusCode, string(raw))
	}
	if out != nil {
		return resp.StatusCode, json.Unmarshal(raw, out)
	}
	return resp.StatusCode, nil
}

func (s *ElasticStore) doJSON(ctx context.Context, method, path string, body any, out any) (int, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal request: %w", err)
		}
	}
	return s.do(ctx, method, path, "application/json", payload, out)
}

// CreateCollection creates the index with a cosine HNSW dense_vector
// mapping. Idempotent.
func (s *ElasticStore) CreateCollection(ctx context.Context, name string, dimension int) error {
	status, _ := s.do(ctx, http.MethodHead, "/"+name, "", nil, nil)
	if status == http.StatusOK {
		return nil
	}

	body := map[string]any{
		"mappings": map[string]any{
			"properties": map[string]any{
				"vector": map[string]any{
					"type":       "dense_vector",
					"dims":       dimension,
					"index":      true,
					"similarity": "cosine",
					"index_options": map[string]any{
						"type":            "hnsw",
						"m":               hnswM,
						"ef_construction": hnswEfConstruction,
					},
				},
				"text":         map[string]any{"type": "text"},
				"document_id":  map[string]any{"type": "keyword"},
				"chunk_number": map[string]any{"type": "integer"},
				"source":       map[string]any{"type": "keyword"},
			},
		},
	}
	if _, err := s.doJSON(ctx, http.MethodPut, "/"+name, body, nil); err != nil {
		return NewCollectionError("elasticsearch", name, "failed to create index", err)
	}
	return nil
}

// DeleteCollection deletes the index.
func (s *ElasticStore) DeleteCollection(ctx context.Context, name string) error {
	if _, err := s.do(ctx, http.MethodDelete, "/"+name, "", nil, nil); err != nil {
		return NewCollectionError("elasticsearch", name, "failed to delete index", err)
	}
	return nil
}

// AddChunks upserts chunks through the bulk API, refreshing so the documents
// are searchable on return.
func (s *ElasticStore) AddChunks(ctx context.Context, collection string, chunks []ChunkRecord) error {
	var ndjson bytes.Buffer
	enc := json.NewEncoder(&ndjson)
	for _, chunk := range chunks {
		action := map[string]any{
			"index": map[string]any{"_index": collection, "_id": chunk.ID},
		}
		doc := chunkMetadata(chunk)
		doc["vector"] = chunk.Vector
		if err := enc.Encode(action); err != nil {
			return NewStoreError("elasticsearch", "add", "failed to encode bulk action", err)
		}
		if err := enc.Encode(doc); err != nil {
			return NewStoreError("elasticsearch", "add", "failed to encode bulk document", err)
		}
	}

	var result struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			Error *struct {
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"items"`
	}
	_, err := s.do(ctx, http.MethodPost, "/_bulk?refresh=true", "application/x-ndjson", ndjson.Bytes(), &result)
	if err != nil {
		return NewStoreError("elasticsearch", "add", "bulk request failed", err)
	}
	if result.Errors {
		for _, item := range result.Items {
			for _, op := range item {
				if op.Error != nil {
					return NewStoreError("elasticsearch", "add", op.Error.Reason, nil)
				}
			}
		}
		return NewStoreError("elasticsearch", "add", "bulk request reported errors", nil)
	}
	return nil
}

// Query returns the topK nearest chunks via kNN search.
func (s *ElasticStore) Query(ctx context.Context, collection string, vector []float32, topK int, filter *Filter) ([]QueryMatch, error) {
	status, _ := s.do(ctx, http.MethodHead, "/"+collection, "", nil, nil)
	if status == http.StatusNotFound {
		return nil, NewCollectionNotFoundError("elasticsearch", collection)
	}

	knn := map[string]any{
		"field":          "vector",
		"query_vector":   vector,
		"k":              topK,
		"num_candidates": topK * 10,
	}
	if esFilter, err := buildElasticFilter(filter); err != nil {
		return nil, err
	} else if esFilter != nil {
		knn["filter"] = esFilter
	}

	body := map[string]any{
		"knn":     knn,
		"size":    topK,
		"_source": map[string]any{"excludes": []string{"vector"}},
	}

	var result struct {
		Hits struct {
			Hits []struct {
				ID     string         `json:"_id"`
				Score  float32        `json:"_score"`
				Source map[string]any `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if _, err := s.doJSON(ctx, http.MethodPost, "/"+collection+"/_search", body, &result); err != nil {
		return nil, NewStoreError("elasticsearch", "query", "search failed", err)
	}

	matches := make([]QueryMatch, 0, len(result.Hits.Hits))
	for _, hit := range result.Hits.Hits {
		matches = append(matches, matchFromMetadata(hit.ID, hit.Score, hit.Source))
	}
	return matches, nil
}

// DeleteChunks removes chunks matching the filter via delete-by-query.
func (s *ElasticStore) DeleteChunks(ctx context.Context, collection string, filter *Filter) error {
	esFilter, err := buildElasticFilter(filter)
	if err != nil {
		return err
	}
	if esFilter == nil {
		return NewStoreError("elasticsearch", "delete", "refusing to delete without a filter", nil)
	}

	body := map[string]any{"query": esFilter}
	if _, err := s.doJSON(ctx, http.MethodPost, "/"+collection+"/_delete_by_query?refresh=true", body, nil); err != nil {
		return NewStoreError("elasticsearch", "delete", "delete by query failed", err)
	}
	return nil
}

// Name returns "elasticsearch".
func (s *ElasticStore) Name() string {
	return "elasticsearch"
}

// Close releases resources.
func (s *ElasticStore) Close() error {
	s.httpClient.CloseIdleConnections()
	return nil
}

// buildElasticFilter renders the shared filter as a bool query.
func buildElasticFilter(filter *Filter) (map[string]any, error) {
	if filter == nil || len(filter.Conditions) == 0 {
		return nil, nil
	}

	must := make([]map[string]any, 0, len(filter.Conditions))
	for _, cond := range filter.Conditions {
		switch cond.Op {
		case OpEq:
			must = append(must, map[string]any{"term": map[string]any{cond.Field: cond.Value}})
		case OpGte:
			must = append(must, map[string]any{"range": map[string]any{cond.Field: map[string]any{"gte": cond.Value}}})
		case OpLte:
			must = append(must, map[string]any{"range": map[string]any{cond.Field: map[string]any{"lte": cond.Value}}})
		case OpIn:
			values, ok := cond.Value.([]string)
			if !ok {
				return nil, NewStoreError("elasticsearch", "filter",
					fmt.Sprintf("in value for %s must be a string slice", cond.Field), nil)
			}
			must = append(must, map[string]any{"terms": map[string]any{cond.Field: values}})
		default:
			return nil, NewStoreError("elasticsearch", "filter",
				fmt.Sprintf("unsupported operator %q", strings.TrimSpace(string(cond.Op))), nil)
		}
	}
	return map[string]any{"bool": map[string]any{"filter": must}}, nil
}

var _ Store = (*ElasticStore)(nil)
