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
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"

	"github.com/kadirpekel/corpus/pkg/config"
)

// ChromemStore is the embedded, zero-dependency backend. In-memory by
// default, persistent when a path is configured. Intended for development
// and tests.
type ChromemStore struct {
	db *chromem.DB

	mu         sync.RWMutex
	dimensions map[string]int
}

// NewChromemStore creates an embedded store.
func NewChromemStore(cfg config.VectorStoreConfig) (*ChromemStore, error) {
	var db *chromem.DB
	var err error
	if cfg.PersistPath != "" {
		db, err = chromem.NewPersistentDB(cfg.PersistPath, false)
		if err != nil {
			return nil, fmt.Errorf("failed to open chromem db at %s: %w", cfg.PersistPath, err)
		}
	} else {
		db = chromem.NewDB()
	}
	return &ChromemStore{
		db:         db,
		dimensions: make(map[string]int),
	}, nil
}

// noEmbed guards against chromem ever being asked to embed; vectors are
// always supplied by the caller.
func noEmbed(_ context.Context, _ string) ([]float32, error) {
	return nil, fmt.Errorf("embeddings must be precomputed")
}

// CreateCollection creates the collection. Idempotent.
func (s *ChromemStore) CreateCollection(_ context.Context, name string, dimension int) error {
	if _, err := s.db.GetOrCreateCollection(name, nil, noEmbed); err != nil {
		return NewCollectionError("chromem", name, "failed to create collection", err)
	}
	s.mu.Lock()
	s.dimensions[name] = dimension
	s.mu.Unlock()
	return nil
}

// DeleteCollection removes the collection.
func (s *ChromemStore) DeleteCollection(_ context.Context, name string) error {
	if err := s.db.DeleteCollection(name); err != nil {
		return NewCollectionError("chromem", name, "failed to delete collection", err)
	}
	s.mu.Lock()
	delete(s.dimensions, name)
	s.mu.Unlock()
	return nil
}

func (s *ChromemStore) collection(name string) (*chromem.Collection, error) {
	c := s.db.GetCollection(name, noEmbed)
	if c == nil {
		return nil, NewCollectionNotFoundError("chromem", name)
	}
	return c, nil
}

// AddChunks upserts chunks.
func (s *ChromemStore) AddChunks(ctx context.Context, collection string, chunks []ChunkRecord) error {
	c, err := s.collection(collection)
	if err != nil {
		return err
	}

	s.mu.RLock()
	dim := s.dimensions[collection]
	s.mu.RUnlock()

	docs := make([]chromem.Document, 0, len(chunks))
	for _, chunk := range chunks {
		if dim > 0 && len(chunk.Vector) != dim {
			return NewStoreError("chromem", "add",
				fmt.Sprintf("chunk %s has dimension %d, collection expects %d", chunk.ID, len(chunk.Vector), dim), nil)
		}
		docs = append(docs, chromem.Document{
			ID:        chunk.ID,
			Content:   chunk.Text,
			Embedding: chunk.Vector,
			Metadata:  stringifyMetadata(chunkMetadata(chunk)),
		})
	}

	if err := c.AddDocuments(ctx, docs, 1); err != nil {
		return NewStoreError("chromem", "add", "failed to add documents", err)
	}
	return nil
}

// Query returns the topK nearest chunks. chromem only filters on string
// equality natively; range and set conditions are applied after retrieval.
func (s *ChromemStore) Query(ctx context.Context, collection string, vector []float32, topK int, filter *Filter) ([]QueryMatch, error) {
	c, err := s.collection(collection)
	if err != nil {
		return nil, err
	}

	count := c.Count()
	if count == 0 {
		return []QueryMatch{}, nil
	}

	where, residual := splitChromemFilter(filter)

	// Over-fetch when conditions must be applied client side.
	fetch := topK
	if len(residual) > 0 {
		fetch = topK * 4
	}
	if fetch > count {
		fetch = count
	}

	results, err := c.QueryEmbedding(ctx, vector, fetch, where, nil)
	if err != nil {
		return nil, NewStoreError("chromem", "query", "query failed", err)
	}

	matches := make([]QueryMatch, 0, len(results))
	for _, r := range results {
		meta := make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			meta[k] = v
		}
		m := matchFromMetadata(r.ID, r.Similarity, meta)
		if m.Text == "" {
			m.Text = r.Content
		}
		if !residualMatch(residual, r.Metadata) {
			continue
		}
		matches = append(matches, m)
		if len(matches) == topK {
			break
		}
	}
	return matches, nil
}

// DeleteChunks removes chunks matching the filter.
func (s *ChromemStore) DeleteChunks(ctx context.Context, collection string, filter *Filter) error {
	c, err := s.collection(collection)
	if err != nil {
		return err
	}

	where, residual := splitChromemFilter(filter)
	if len(residual) > 0 {
		return NewStoreError("chromem", "delete", "only equality filters are supported for deletion", nil)
	}

	if err := c.Delete(ctx, where, nil); err != nil {
		return NewStoreError("chromem", "delete", "failed to delete documents", err)
	}
	return nil
}

// Name returns "chromem".
func (s *ChromemStore) Name() string {
	return "chromem"
}

// Close releases resources.
func (s *ChromemStore) Close() error {
	return nil
}

// splitChromemFilter separates natively supported equality conditions from
// the rest.
func splitChromemFilter(filter *Filter) (where map[string]string, residual []Condition) {
	if filter == nil {
		return nil, nil
	}
	for _, cond := range filter.Conditions {
		if cond.Op == OpEq {
			if where == nil {
				where = make(map[string]string)
			}
			where[cond.Field] = fmt.Sprintf("%v", cond.Value)
			continue
		}
		residual = append(residual, cond)
	}
	return where, residual
}

func residualMatch(conditions []Condition, meta map[string]string) bool {
	for _, cond := range conditions {
		raw, ok := meta[cond.Field]
		if !ok {
			return false
		}
		switch cond.Op {
		case OpGte, OpLte:
			have, err1 := strconv.ParseFloat(raw, 64)
			want, err2 := toFloat(cond.Value)
			if err1 != nil || !err2 {
				return false
			}
			if cond.Op == OpGte && have < want {
				return false
			}
			if cond.Op == OpLte && have > want {
				return false
			}
		case OpIn:
			values, ok := cond.Value.([]string)
			if !ok {
				return false
			}
			found := false
			for _, v := range values {
				if v == raw {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
	}
	return true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func stringifyMetadata(meta map[string]any) map[string]string {
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		out[k] = fmt.Sprintf("%v", v)
	}
	return out
}

var _ Store = (*ChromemStore)(nil)
