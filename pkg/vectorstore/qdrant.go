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

	"github.com/qdrant/go-client/qdrant"

	"github.com/kadirpekel/corpus/pkg/config"
)

// QdrantStore talks to Qdrant over gRPC. Qdrant reports cosine similarity
// directly, so scores pass through unchanged.
type QdrantStore struct {
	client *qdrant.Client
}

// NewQdrantStore creates a Qdrant-backed store.
func NewQdrantStore(cfg config.VectorStoreConfig) (*QdrantStore, error) {
	port := cfg.Port
	if port == 0 {
		port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}
	return &QdrantStore{client: client}, nil
}

// CreateCollection creates the collection with cosine distance and the HNSW
// index parameters. Idempotent.
func (s *QdrantStore) CreateCollection(ctx context.Context, name string, dimension int) error {
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return NewCollectionError("qdrant", name, "failed to check collection", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimension),
			Distance: qdrant.Distance_Cosine,
		}),
		HnswConfig: &qdrant.HnswConfigDiff{
			M:           qdrant.PtrOf(uint64(hnswM)),
			EfConstruct: qdrant.PtrOf(uint64(hnswEfConstruction)),
		},
	})
	if err != nil {
		return NewCollectionError("qdrant", name, "failed to create collection", err)
	}
	return nil
}

// DeleteCollection removes the collection.
func (s *QdrantStore) DeleteCollection(ctx context.Context, name string) error {
	if err := s.client.DeleteCollection(ctx, name); err != nil {
		return NewCollectionError("qdrant", name, "failed to delete collection", err)
	}
	return nil
}

// AddChunks upserts chunks, waiting for the write to be applied.
func (s *QdrantStore) AddChunks(ctx context.Context, collection string, chunks []ChunkRecord) error {
	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for _, chunk := range chunks {
		payload, err := qdrant.TryValueMap(chunkMetadata(chunk))
		if err != nil {
			return NewStoreError("qdrant", "add",
				fmt.Sprintf("failed to convert metadata for chunk %s", chunk.ID), err)
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(chunk.ID),
			Vectors: qdrant.NewVectors(chunk.Vector...),
			Payload: payload,
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points:         points,
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return NewStoreError("qdrant", "add", "upsert failed", err)
	}
	return nil
}

// Query returns the topK nearest chunks.
func (s *QdrantStore) Query(ctx context.Context, collection string, vector []float32, topK int, filter *Filter) ([]QueryMatch, error) {
	exists, err := s.client.CollectionExists(ctx, collection)
	if err != nil {
		return nil, NewCollectionError("qdrant", collection, "failed to check collection", err)
	}
	if !exists {
		return nil, NewCollectionNotFoundError("qdrant", collection)
	}

	qf, err := buildQdrantFilter(filter)
	if err != nil {
		return nil, err
	}

	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(topK)),
		Filter:         qf,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, NewStoreError("qdrant", "query", "query failed", err)
	}

	matches := make([]QueryMatch, 0, len(points))
	for _, p := range points {
		meta := make(map[string]any, len(p.Payload))
		for k, v := range p.Payload {
			meta[k] = qdrantValueToAny(v)
		}
		id := p.Id.GetUuid()
		if id == "" {
			id = fmt.Sprintf("%d", p.Id.GetNum())
		}
		matches = append(matches, matchFromMetadata(id, p.Score, meta))
	}
	return matches, nil
}

// DeleteChunks removes chunks matching the filter.
func (s *QdrantStore) DeleteChunks(ctx context.Context, collection string, filter *Filter) error {
	qf, err := buildQdrantFilter(filter)
	if err != nil {
		return err
	}
	if qf == nil {
		return NewStoreError("qdrant", "delete", "refusing to delete without a filter", nil)
	}

	_, err = s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points:         qdrant.NewPointsSelectorFilter(qf),
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return NewStoreError("qdrant", "delete", "delete failed", err)
	}
	return nil
}

// Name returns "qdrant".
func (s *QdrantStore) Name() string {
	return "qdrant"
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

func buildQdrantFilter(filter *Filter) (*qdrant.Filter, error) {
	if filter == nil || len(filter.Conditions) == 0 {
		return nil, nil
	}

	must := make([]*qdrant.Condition, 0, len(filter.Conditions))
	for _, cond := range filter.Conditions {
		switch cond.Op {
		case OpEq:
			must = append(must, qdrant.NewMatch(cond.Field, fmt.Sprintf("%v", cond.Value)))
		case OpGte:
			v, ok := toFloat(cond.Value)
			if !ok {
				return nil, NewStoreError("qdrant", "filter",
					fmt.Sprintf("gte value for %s is not numeric", cond.Field), nil)
			}
			must = append(must, qdrant.NewRange(cond.Field, &qdrant.Range{Gte: qdrant.PtrOf(v)}))
		case OpLte:
			v, ok := toFloat(cond.Value)
			if !ok {
				return nil, NewStoreError("qdrant", "filter",
					fmt.Sprintf("lte value for %s is not numeric", cond.Field), nil)
			}
			must = append(must, qdrant.NewRange(cond.Field, &qdrant.Range{Lte: qdrant.PtrOf(v)}))
		case OpIn:
			values, ok := cond.Value.([]string)
			if !ok {
				return nil, NewStoreError("qdrant", "filter",
					fmt.Sprintf("in value for %s must be a string slice", cond.Field), nil)
			}
			must = append(must, qdrant.NewMatchKeywords(cond.Field, values...))
		default:
			return nil, NewStoreError("qdrant", "filter",
				fmt.Sprintf("unsupported operator %q", cond.Op), nil)
		}
	}
	return &qdrant.Filter{Must: must}, nil
}

func qdrantValueToAny(v *qdrant.Value) any {
	switch kind := v.Kind.(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	default:
		return v.String()
	}
}

var _ Store = (*QdrantStore)(nil)
