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

// MilvusStore talks to the Milvus v2 RESTful API. With the COSINE metric
// Milvus reports similarity, so scores pass through unchanged.
type MilvusStore struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewMilvusStore creates a Milvus-backed store.
func NewMilvusStore(cfg config.VectorStoreConfig) (*MilvusStore, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("milvus host is required")
	}
	port := cfg.Port
	if port == 0 {
		port = 19530
	}
	scheme := "http"
	if cfg.UseTLS {
		scheme = "https"
	}

	return &MilvusStore{
		baseURL:    fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, port),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

type milvusResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (s *MilvusStore) post(ctx context.Context, path string, body any) (json.RawMessage, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("milvus returned %d: %s", resp.StatusCode, string(raw))
	}

	var parsed milvusResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse milvus response: %w", err)
	}
	if parsed.Code != 0 {
		return nil, fmt.Errorf("milvus error %d: %s", parsed.Code, parsed.Message)
	}
	return parsed.Data, nil
}

// CreateCollection creates the collection with a varchar primary key, cosine
// metric and HNSW index. Idempotent.
func (s *MilvusStore) CreateCollection(ctx context.Context, name string, dimension int) error {
	exists, err := s.hasCollection(ctx, name)
	if err != nil {
		return NewCollectionError("milvus", name, "failed to check collection", err)
	}
	if exists {
		return nil
	}

	_, err = s.post(ctx, "/v2/vectordb/collections/create", map[string]any{
		"collectionName":   name,
		"dimension":        dimension,
		"metricType":       "COSINE",
		"idType":           "VarChar",
		"autoId":           false,
		"primaryFieldName": "id",
		"vectorFieldName":  "vector",
		"params": map[string]any{
			"max_length": "128",
		},
	})
	if err != nil {
		return NewCollectionError("milvus", name, "failed to create collection", err)
	}

	_, err = s.post(ctx, "/v2/vectordb/indexes/create", map[string]any{
		"collectionName": name,
		"indexParams": []map[string]any{{
			"fieldName":  "vector",
			"indexName":  "vector_hnsw",
			"metricType": "COSINE",
			"indexType":  "HNSW",
			"params": map[string]any{
				"M":              hnswM,
				"efConstruction": hnswEfConstruction,
			},
		}},
	})
	if err != nil {
		// Quick-created collections ship a default index; an "already exists"
		// style failure here is not fatal.
		if !strings.Contains(strings.ToLower(err.Error()), "exist") {
			return NewCollectionError("milvus", name, "failed to create index", err)
		}
	}
	return nil
}

func (s *MilvusStore) hasCollection(ctx context.Context, name string) (bool, error) {
	data, err := s.post(ctx, "/v2/vectordb/collections/has", map[string]any{
		"collectionName": name,
	})
	if err != nil {
		return false, err
	}
	var result struct {
		Has bool `json:"has"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return false, err
	}
	return result.Has, nil
}

// DeleteCollection drops the collection.
func (s *MilvusStore) DeleteCollection(ctx context.Context, name string) error {
	_, err := s.post(ctx, "/v2/vectordb/collections/drop", map[string]any{
		"collectionName": name,
	})
	if err != nil {
		return NewCollectionError("milvus", name, "failed to drop collection", err)
	}
	return nil
}

// AddChunks upserts chunks. Metadata fields ride along as dynamic fields.
func (s *MilvusStore) AddChunks(ctx context.Context, collection string, chunks []ChunkRecord) error {
	rows := make([]map[string]any, 0, len(chunks))
	for _, chunk := range chunks {
		row := chunkMetadata(chunk)
		row["id"] = chunk.ID
		row["vector"] = chunk.Vector
		rows = append(rows, row)
	}

	_, err := s.post(ctx, "/v2/vectordb/entities/upsert", map[string]any{
		"collectionName": collection,
		"data":           rows,
	})
	if err != nil {
		return NewStoreError("milvus", "add", "upsert failed", err)
	}
	return nil
}

// Query returns the topK nearest chunks.
func (s *MilvusStore) Query(ctx context.Context, collection string, vector []float32, topK int, filter *Filter) ([]QueryMatch, error) {
	exists, err := s.hasCollection(ctx, collection)
	if err != nil {
		return nil, NewCollectionError("milvus", collection, "failed to check collection", err)
	}
	if !exists {
		return nil, NewCollectionNotFoundError("milvus", collection)
	}

	expr, err := buildMilvusExpr(filter)
	if err != nil {
		return nil, err
	}

	req := map[string]any{
		"collectionName": collection,
		"data":           [][]float32{vector},
		"annsField":      "vector",
		"limit":          topK,
		"outputFields":   []string{"*"},
	}
	if expr != "" {
		req["filter"] = expr
	}

	data, err := s.post(ctx, "/v2/vectordb/entities/search", req)
	if err != nil {
		return nil, NewStoreError("milvus", "query", "search failed", err)
	}

	var rows []map[string]any
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, NewStoreError("milvus", "query", "failed to parse search results", err)
	}

	matches := make([]QueryMatch, 0, len(rows))
	for _, row := range rows {
		id, _ := row["id"].(string)
		var score float32
		if d, ok := row["distance"].(float64); ok {
			score = float32(d)
		}
		meta := make(map[string]any, len(row))
		for k, v := range row {
			if k == "id" || k == "distance" || k == "vector" {
				continue
			}
			meta[k] = v
		}
		matches = append(matches, matchFromMetadata(id, score, meta))
	}
	return matches, nil
}

// DeleteChunks removes chunks matching the filter.
func (s *MilvusStore) DeleteChunks(ctx context.Context, collection string, filter *Filter) error {
	expr, err := buildMilvusExpr(filter)
	if err != nil {
		return err
	}
	if expr == "" {
		return NewStoreError("milvus", "delete", "refusing to delete without a filter", nil)
	}

	_, err = s.post(ctx, "/v2/vectordb/entities/delete", map[string]any{
		"collectionName": collection,
		"filter":         expr,
	})
	if err != nil {
		return NewStoreError("milvus", "delete", "delete failed", err)
	}
	return nil
}

// Name returns "milvus".
func (s *MilvusStore) Name() string {
	return "milvus"
}

// Close releases resources.
func (s *MilvusStore) Close() error {
	s.httpClient.CloseIdleConnections()
	return nil
}

// buildMilvusExpr renders the shared filter as a Milvus boolean expression.
func buildMilvusExpr(filter *Filter) (string, error) {
	if filter == nil || len(filter.Conditions) == 0 {
		return "", nil
	}

	parts := make([]string, 0, len(filter.Conditions))
	for _, cond := range filter.Conditions {
		switch cond.Op {
		case OpEq:
			parts = append(parts, fmt.Sprintf("%s == %s", cond.Field, milvusLiteral(cond.Value)))
		case OpGte:
			parts = append(parts, fmt.Sprintf("%s >= %s", cond.Field, milvusLiteral(cond.Value)))
		case OpLte:
			parts = append(parts, fmt.Sprintf("%s <= %s", cond.Field, milvusLiteral(cond.Value)))
		case OpIn:
			values, ok := cond.Value.([]string)
			if !ok {
				return "", NewStoreError("milvus", "filter",
					fmt.Sprintf("in value for %s must be a string slice", cond.Field), nil)
			}
			quoted := make([]string, len(values))
			for i, v := range values {
				quoted[i] = milvusLiteral(v)
			}
			parts = append(parts, fmt.Sprintf("%s in [%s]", cond.Field, strings.Join(quoted, ", ")))
		default:
			return "", NewStoreError("milvus", "filter",
				fmt.Sprintf("unsupported operator %q", cond.Op), nil)
		}
	}
	return strings.Join(parts, " and "), nil
}

func milvusLiteral(v any) string {
	switch val := v.(type) {
	case string:
		return fmt.Sprintf("%q", strings.ReplaceAll(val, `"`, ``))
	default:
		return fmt.Sprintf("%v", val)
	}
}

var _ Store = (*MilvusStore)(nil)
