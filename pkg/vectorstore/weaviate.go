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
	"unicode"

	"github.com/kadirpekel/corpus/pkg/config"
)

// WeaviateStore talks to Weaviate over its REST and GraphQL APIs. Weaviate
// reports distance; scores are inverted to 1-d so higher is better.
type WeaviateStore struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewWeaviateStore creates a Weaviate-backed store.
func NewWeaviateStore(cfg config.VectorStoreConfig) (*WeaviateStore, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("weaviate host is required")
	}
	port := cfg.Port
	if port == 0 {
		port = 8080
	}
	scheme := "http"
	if cfg.UseTLS {
		scheme = "https"
	}

	return &WeaviateStore{
		baseURL:    fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, port),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// className maps a collection name onto a valid Weaviate class name, which
// must start with an upper-case letter and contain only alphanumerics.
func className(collection string) string {
	var sb strings.Builder
	upperNext := true
	for _, r := range collection {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			upperNext = true
			continue
		}
		if upperNext {
			sb.WriteRune(unicode.ToUpper(r))
			upperNext = false
		} else {
			sb.WriteRune(r)
		}
	}
	if sb.Len() == 0 {
		return "Collection"
	}
	return sb.String()
}

func (s *WeaviateStore) do(ctx context.Context, method, path string, body any, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
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
		return resp.StatusCode, fmt.Errorf("weaviate returned %d: %s", resp.StatusCode, string(raw))
	}
	if out != nil {
		return resp.StatusCode, json.Unmarshal(raw, out)
	}
	return resp.StatusCode, nil
}

// CreateCollection creates the class with external vectors, cosine distance
// and HNSW parameters. Idempotent.
func (s *WeaviateStore) CreateCollection(ctx context.Context, name string, _ int) error {
	class := className(name)

	status, _ := s.do(ctx, http.MethodGet, "/v1/schema/"+class, nil, nil)
	if status == http.StatusOK {
		return nil
	}

	body := map[string]any{
		"class":      class,
		"vectorizer": "none",
		"vectorIndexConfig": map[string]any{
			"distance":       "cosine",
			"maxConnections": hnswM,
			"efConstruction": hnswEfConstruction,
		},
		"properties": []map[string]any{
			{"name": "text", "dataType": []string{"text"}},
			{"name": "document_id", "dataType": []string{"text"}},
			{"name": "chunk_number", "dataType": []string{"int"}},
			{"name": "source", "dataType": []string{"text"}},
		},
	}
	if _, err := s.do(ctx, http.MethodPost, "/v1/schema", body, nil); err != nil {
		return NewCollectionError("weaviate", name, "failed to create class", err)
	}
	return nil
}

// DeleteCollection removes the class and its objects.
func (s *WeaviateStore) DeleteCollection(ctx context.Context, name string) error {
	if _, err := s.do(ctx, http.MethodDelete, "/v1/schema/"+className(name), nil, nil); err != nil {
		return NewCollectionError("weaviate", name, "failed to delete class", err)
	}
	return nil
}

func (s *WeaviateStore) classExists(ctx context.Context, name string) bool {
	status, _ := s.do(ctx, http.MethodGet, "/v1/schema/"+className(name), nil, nil)
	return status == http.StatusOK
}

// AddChunks upserts chunks via the batch objects endpoint.
func (s *WeaviateStore) AddChunks(ctx context.Context, collection string, chunks []ChunkRecord) error {
	class := className(collection)

	objects := make([]map[string]any, 0, len(chunks))
	for _, chunk := range chunks {
		properties := map[string]any{
			"text":         chunk.Text,
			"document_id":  chunk.DocumentID,
			"chunk_number": chunk.ChunkNumber,
			"source":       chunk.Source,
		}
		objects = append(objects, map[string]any{
			"class":      class,
			"id":         chunk.ID,
			"vector":     chunk.Vector,
			"properties": properties,
		})
	}

	body := map[string]any{"objects": objects}
	if _, err := s.do(ctx, http.MethodPost, "/v1/batch/objects", body, nil); err != nil {
		return NewStoreError("weaviate", "add", "batch insert failed", err)
	}
	return nil
}

// Query returns the topK nearest chunks via GraphQL nearVector.
func (s *WeaviateStore) Query(ctx context.Context, collection string, vector []float32, topK int, filter *Filter) ([]QueryMatch, error) {
	if !s.classExists(ctx, collection) {
		return nil, NewCollectionNotFoundError("weaviate", collection)
	}
	class := className(collection)

	vectorJSON, err := json.Marshal(vector)
	if err != nil {
		return nil, NewStoreError("weaviate", "query", "failed to marshal vector", err)
	}

	whereClause, err := buildWeaviateWhere(filter)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`{
		Get {
			%s(nearVector: {vector: %s}, limit: %d%s) {
				text
				document_id
				chunk_number
				source
				_additional { id distance }
			}
		}
	}`, class, string(vectorJSON), topK, whereClause)

	var result struct {
		Data   map[string]map[string][]map[string]any `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if _, err := s.do(ctx, http.MethodPost, "/v1/graphql", map[string]string{"query": query}, &result); err != nil {
		return nil, NewStoreError("weaviate", "query", "graphql query failed", err)
	}
	if len(result.Errors) > 0 {
		return nil, NewStoreError("weaviate", "query", result.Errors[0].Message, nil)
	}

	hits := result.Data["Get"][class]
	matches := make([]QueryMatch, 0, len(hits))
	for _, hit := range hits {
		m := QueryMatch{Metadata: map[string]any{}}
		if additional, ok := hit["_additional"].(map[string]any); ok {
			if id, ok := additional["id"].(string); ok {
				m.ID = id
			}
			if dist, ok := additional["distance"].(float64); ok {
				m.Score = float32(1 - dist)
			}
		}
		if text, ok := hit["text"].(string); ok {
			m.Text = text
		}
		if docID, ok := hit["document_id"].(string); ok {
			m.DocumentID = docID
		}
		if n, ok := hit["chunk_number"].(float64); ok {
			m.ChunkNumber = int(n)
		}
		if src, ok := hit["source"].(string); ok {
			m.Source = src
		}
		matches = append(matches, m)
	}
	return matches, nil
}

// DeleteChunks removes objects matching the filter via the batch delete API.
func (s *WeaviateStore) DeleteChunks(ctx context.Context, collection string, filter *Filter) error {
	if filter == nil || len(filter.Conditions) == 0 {
		return NewStoreError("weaviate", "delete", "refusing to delete without a filter", nil)
	}

	where, err := buildWeaviateWhereJSON(filter)
	if err != nil {
		return err
	}

	body := map[string]any{
		"match": map[string]any{
			"class": className(collection),
			"where": where,
		},
	}
	if _, err := s.do(ctx, http.MethodDelete, "/v1/batch/objects", body, nil); err != nil {
		return NewStoreError("weaviate", "delete", "batch delete failed", err)
	}
	return nil
}

// Name returns "weaviate".
func (s *WeaviateStore) Name() string {
	return "weaviate"
}

// Close releases resources.
func (s *WeaviateStore) Close() error {
	s.httpClient.CloseIdleConnections()
	return nil
}

// buildWeaviateWhere renders the filter as a GraphQL where argument.
func buildWeaviateWhere(filter *Filter) (string, error) {
	if filter == nil || len(filter.Conditions) == 0 {
		return "", nil
	}

	operands := make([]string, 0, len(filter.Conditions))
	for _, cond := range filter.Conditions {
		switch cond.Op {
		case OpEq:
			operands = append(operands, fmt.Sprintf(
				`{path: [%q], operator: Equal, valueText: %q}`, cond.Field, fmt.Sprintf("%v", cond.Value)))
		case OpGte:
			v, ok := toFloat(cond.Value)
			if !ok {
				return "", NewStoreError("weaviate", "filter",
					fmt.Sprintf("gte value for %s is not numeric", cond.Field), nil)
			}
			operands = append(operands, fmt.Sprintf(
				`{path: [%q], operator: GreaterThanEqual, valueNumber: %g}`, cond.Field, v))
		case OpLte:
			v, ok := toFloat(cond.Value)
			if !ok {
				return "", NewStoreError("weaviate", "filter",
					fmt.Sprintf("lte value for %s is not numeric", cond.Field), nil)
			}
			operands = append(operands, fmt.Sprintf(
				`{path: [%q], operator: LessThanEqual, valueNumber: %g}`, cond.Field, v))
		case OpIn:
			values, ok := cond.Value.([]string)
			if !ok {
				return "", NewStoreError("weaviate", "filter",
					fmt.Sprintf("in value for %s must be a string slice", cond.Field), nil)
			}
			// Weaviate has no In; expand into an Or of equalities.
			ors := make([]string, len(values))
			for i, v := range values {
				ors[i] = fmt.Sprintf(`{path: [%q], operator: Equal, valueText: %q}`, cond.Field, v)
			}
			operands = append(operands, fmt.Sprintf(`{operator: Or, operands: [%s]}`, strings.Join(ors, ", ")))
		default:
			return "", NewStoreError("weaviate", "filter",
				fmt.Sprintf("unsupported operator %q", cond.Op), nil)
		}
	}

	if len(operands) == 1 {
		return ", where: " + operands[0], nil
	}
	return fmt.Sprintf(`, where: {operator: And, operands: [%s]}`, strings.Join(operands, ", ")), nil
}

// buildWeaviateWhereJSON renders the filter as the REST where object used by
// batch delete.
func buildWeaviateWhereJSON(filter *Filter) (map[string]any, error) {
	operands := make([]map[string]any, 0, len(filter.Conditions))
	for _, cond := range filter.Conditions {
		switch cond.Op {
		case OpEq:
			operands = append(operands, map[string]any{
				"path":      []string{cond.Field},
				"operator":  "Equal",
				"valueText": fmt.Sprintf("%v", cond.Value),
			})
		case OpGte, OpLte:
			v, ok := toFloat(cond.Value)
			if !ok {
				return nil, NewStoreError("weaviate", "filter",
					fmt.Sprintf("range value for %s is not numeric", cond.Field), nil)
			}
			op := "GreaterThanEqual"
			if cond.Op == OpLte {
				op = "LessThanEqual"
			}
			operands = append(operands, map[string]any{
				"path":        []string{cond.Field},
				"operator":    op,
				"valueNumber": v,
			})
		default:
			return nil, NewStoreError("weaviate", "filter",
				fmt.Sprintf("unsupported delete operator %q", cond.Op), nil)
		}
	}

	if len(operands) == 1 {
		return operands[0], nil
	}
	return map[string]any{"operator": "And", "operands": operands}, nil
}

var _ Store = (*WeaviateStore)(nil)
