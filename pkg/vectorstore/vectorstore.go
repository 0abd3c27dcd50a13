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

// Package vectorstore abstracts vector databases behind one contract.
//
// Every adapter normalizes scores so that higher is always better,
// regardless of whether the backend reports similarity or distance, and
// translates the shared Filter type into its native filter form.
package vectorstore

import (
	"context"
	"fmt"

	"github.com/kadirpekel/corpus/pkg/config"
)

// ChunkRecord is one stored chunk with its vector and provenance.
type ChunkRecord struct {
	ID          string
	DocumentID  string
	Text        string
	ChunkNumber int
	Source      string
	Vector      []float32
	Metadata    map[string]any
}

// QueryMatch is one retrieval hit. Score is normalized so higher is better.
type QueryMatch struct {
	ID          string
	Score       float32
	Text        string
	DocumentID  string
	ChunkNumber int
	Source      string
	Metadata    map[string]any
}

// Operator of a filter condition.
type Operator string

const (
	OpEq  Operator = "eq"
	OpGte Operator = "gte"
	OpLte Operator = "lte"
	OpIn  Operator = "in"
)

// Condition constrains one metadata field.
type Condition struct {
	Field string
	Op    Operator
	Value any
}

// Filter is a conjunction of conditions. A nil filter matches everything.
type Filter struct {
	Conditions []Condition
}

// Eq builds a single-equality filter, the common case.
func Eq(field string, value any) *Filter {
	return &Filter{Conditions: []Condition{{Field: field, Op: OpEq, Value: value}}}
}

// And appends a condition.
func (f *Filter) And(field string, op Operator, value any) *Filter {
	f.Conditions = append(f.Conditions, Condition{Field: field, Op: op, Value: value})
	return f
}

// Store is the vector database contract.
type Store interface {
	// CreateCollection creates a collection with the given vector dimension.
	// Creating an existing collection is a no-op.
	CreateCollection(ctx context.Context, name string, dimension int) error

	// DeleteCollection removes a collection and all its chunks.
	DeleteCollection(ctx context.Context, name string) error

	// AddChunks upserts chunks into a collection. Every chunk must carry a
	// vector of the collection's dimension.
	AddChunks(ctx context.Context, collection string, chunks []ChunkRecord) error

	// Query returns the topK most similar chunks, best first. Querying a
	// collection that does not exist returns a CollectionError.
	Query(ctx context.Context, collection string, vector []float32, topK int, filter *Filter) ([]QueryMatch, error)

	// DeleteChunks removes all chunks matching the filter.
	DeleteChunks(ctx context.Context, collection string, filter *Filter) error

	// Name returns the backend name.
	Name() string

	// Close releases resources.
	Close() error
}

// HNSW index parameters applied on collection creation where the backend
// exposes them.
const (
	hnswM              = 8
	hnswEfConstruction = 64
)

// New creates a store from the deployment configuration.
func New(cfg config.VectorStoreConfig) (Store, error) {
	switch cfg.Type {
	case "", "chromem":
		return NewChromemStore(cfg)
	case "qdrant":
		return NewQdrantStore(cfg)
	case "pinecone":
		return NewPineconeStore(cfg)
	case "milvus":
		return NewMilvusStore(cfg)
	case "chroma":
		return NewChromaStore(cfg)
	case "weaviate":
		return NewWeaviateStore(cfg)
	case "elasticsearch":
		return NewElasticStore(cfg)
	default:
		return nil, fmt.Errorf("unknown vector store type: %q", cfg.Type)
	}
}

// CollectionError reports a collection-level failure.
type CollectionError struct {
	Backend    string
	Collection string
	Message    string
	NotFound   bool
	Err        error
}

func (e *CollectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s collection %q: %s: %v", e.Backend, e.Collection, e.Message, e.Err)
	}
	return fmt.Sprintf("%s collection %q: %s", e.Backend, e.Collection, e.Message)
}

func (e *CollectionError) Unwrap() error {
	return e.Err
}

// NewCollectionError creates a new CollectionError.
func NewCollectionError(backend, collection, message string, err error) *CollectionError {
	return &CollectionError{Backend: backend, Collection: collection, Message: message, Err: err}
}

// NewCollectionNotFoundError creates a CollectionError marking a missing
// collection.
func NewCollectionNotFoundError(backend, collection string) *CollectionError {
	return &CollectionError{
		Backend:    backend,
		Collection: collection,
		Message:    "collection does not exist",
		NotFound:   true,
	}
}

// StoreError reports a chunk-level failure.
type StoreError struct {
	Backend string
	Op      string
	Message string
	Err     error
}

func (e *StoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %s: %v", e.Backend, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s %s: %s", e.Backend, e.Op, e.Message)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a new StoreError.
func NewStoreError(backend, op, message string, err error) *StoreError {
	return &StoreError{Backend: backend, Op: op, Message: message, Err: err}
}

// chunkMetadata flattens a chunk's fields into the metadata payload stored
// with the vector, so any backend can reconstruct the chunk on query.
func chunkMetadata(c ChunkRecord) map[string]any {
	meta := make(map[string]any, len(c.Metadata)+4)
	for k, v := range c.Metadata {
		meta[k] = v
	}
	meta["text"] = c.Text
	meta["document_id"] = c.DocumentID
	meta["chunk_number"] = c.ChunkNumber
	meta["source"] = c.Source
	return meta
}

// matchFromMetadata rebuilds a QueryMatch from stored metadata.
func matchFromMetadata(id string, score float32, meta map[string]any) QueryMatch {
	m := QueryMatch{ID: id, Score: score, Metadata: make(map[string]any)}
	for k, v := range meta {
		switch k {
		case "text":
			if s, ok := v.(string); ok {
				m.Text = s
			}
		case "document_id":
			if s, ok := v.(string); ok {
				m.DocumentID = s
			}
		case "chunk_number":
			switch n := v.(type) {
			case int:
				m.ChunkNumber = n
			case int64:
				m.ChunkNumber = int(n)
			case float64:
				m.ChunkNumber = int(n)
			}
		case "source":
			if s, ok := v.(string); ok {
				m.Source = s
			}
		default:
			m.Metadata[k] = v
		}
	}
	return m
}
