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
	"strings"

	"github.com/pinecone-io/go-pinecone/pinecone"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/kadirpekel/corpus/pkg/config"
)

// PineconeStore maps collections onto Pinecone serverless indexes. Pinecone
// reports cosine similarity directly, so scores pass through unchanged.
type PineconeStore struct {
	client *pinecone.Client
	cloud  pinecone.Cloud
	region string
}

// NewPineconeStore creates a Pinecone-backed store.
func NewPineconeStore(cfg config.VectorStoreConfig) (*PineconeStore, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("pinecone api key is required")
	}

	client, err := pinecone.NewClient(pinecone.NewClientParams{ApiKey: cfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create pinecone client: %w", err)
	}

	cloud := pinecone.Aws
	if cfg.Cloud != "" {
		cloud = pinecone.Cloud(cfg.Cloud)
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	return &PineconeStore{client: client, cloud: cloud, region: region}, nil
}

func (s *PineconeStore) connect(ctx context.Context, collection string) (*pinecone.IndexConnection, error) {
	index, err := s.client.DescribeIndex(ctx, collection)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "not found") {
			return nil, NewCollectionNotFoundError("pinecone", collection)
		}
		return nil, NewCollectionError("pinecone", collection, "failed to describe index", err)
	}

	conn, err := s.client.Index(pinecone.NewIndexConnParams{Host: index.Host})
	if err != nil {
		return nil, NewCollectionError("pinecone", collection, "failed to connect to index", err)
	}
	return conn, nil
}

// CreateCollection creates a serverless index. Idempotent.
func (s *PineconeStore) CreateCollection(ctx context.Context, name string, dimension int) error {
	indexes, err := s.client.ListIndexes(ctx)
	if err != nil {
		return NewCollectionError("pinecone", name, "failed to list indexes", err)
	}
	for _, idx := range indexes {
		if idx.Name == name {
			return nil
		}
	}

	_, err = s.client.CreateServerlessIndex(ctx, &pinecone.CreateServerlessIndexRequest{
		Name:      name,
		Dimension: int32(dimension),
		Metric:    pinecone.Cosine,
		Cloud:     s.cloud,
		Region:    s.region,
	})
	if err != nil {
		return NewCollectionError("pinecone", name, "failed to create index", err)
	}
	return nil
}

// DeleteCollection deletes the index.
func (s *PineconeStore) DeleteCollection(ctx context.Context, name string) error {
	if err := s.client.DeleteIndex(ctx, name); err != nil {
		return NewCollectionError("pinecone", name, "failed to delete index", err)
	}
	return nil
}

// AddChunks upserts chunks.
func (s *PineconeStore) AddChunks(ctx context.Context, collection string, chunks []ChunkRecord) error {
	conn, err := s.connect(ctx, collection)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	vectors := make([]*pinecone.Vector, 0, len(chunks))
	for _, chunk := range chunks {
		meta, err := structpb.NewStruct(chunkMetadata(chunk))
		if err != nil {
			return NewStoreError("pinecone", "add",
				fmt.Sprintf("failed to convert metadata for chunk %s", chunk.ID), err)
		}
		vectors = append(vectors, &pinecone.Vector{
			Id:       chunk.ID,
			Values:   chunk.Vector,
			Metadata: meta,
		})
	}

	if _, err := conn.UpsertVectors(ctx, vectors); err != nil {
		return NewStoreError("pinecone", "add", "upsert failed", err)
	}
	return nil
}

// Query returns the topK nearest chunks.
func (s *PineconeStore) Query(ctx context.Context, collection string, vector []float32, topK int, filter *Filter) ([]QueryMatch, error) {
	conn, err := s.connect(ctx, collection)
	if err != nil {
		return nil, err
	}
	defer func() { _ = conn.Close() }()

	metaFilter, err := buildPineconeFilter(filter)
	if err != nil {
		return nil, err
	}

	resp, err := conn.QueryByVectorValues(ctx, &pinecone.QueryByVectorValuesRequest{
		Vector:          vector,
		TopK:            uint32(topK),
		MetadataFilter:  metaFilter,
		IncludeMetadata: true,
	})
	if err != nil {
		return nil, NewStoreError("pinecone", "query", "query failed", err)
	}

	matches := make([]QueryMatch, 0, len(resp.Matches))
	for _, scored := range resp.Matches {
		if scored.Vector == nil {
			continue
		}
		meta := map[string]any{}
		if scored.Vector.Metadata != nil {
			meta = scored.Vector.Metadata.AsMap()
		}
		matches = append(matches, matchFromMetadata(scored.Vector.Id, scored.Score, meta))
	}
	return matches, nil
}

// DeleteChunks removes chunks matching the filter.
func (s *PineconeStore) DeleteChunks(ctx context.Context, collection string, filter *Filter) error {
	conn, err := s.connect(ctx, collection)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	metaFilter, err := buildPineconeFilter(filter)
	if err != nil {
		return err
	}
	if metaFilter == nil {
		return NewStoreError("pinecone", "delete", "refusing to delete without a filter", nil)
	}

	if err := conn.DeleteVectorsByFilter(ctx, metaFilter); err != nil {
		return NewStoreError("pinecone", "delete", "delete failed", err)
	}
	return nil
}

// Name returns "pinecone".
func (s *PineconeStore) Name() string {
	return "pinecone"
}

// Close releases resources.
func (s *PineconeStore) Close() error {
	return nil
}

// buildPineconeFilter translates the shared filter into Pinecone's
// MongoDB-style operators.
func buildPineconeFilter(filter *Filter) (*pinecone.MetadataFilter, error) {
	if filter == nil || len(filter.Conditions) == 0 {
		return nil, nil
	}

	clauses := make(map[string]any, len(filter.Conditions))
	for _, cond := range filter.Conditions {
		switch cond.Op {
		case OpEq:
			clauses[cond.Field] = map[string]any{"$eq": cond.Value}
		case OpGte:
			clauses[cond.Field] = map[string]any{"$gte": cond.Value}
		case OpLte:
			clauses[cond.Field] = map[string]any{"$lte": cond.Value}
		case OpIn:
			values, ok := cond.Value.([]string)
			if !ok {
				return nil, NewStoreError("pinecone", "filter",
					fmt.Sprintf("in value for %s must be a string slice", cond.Field), nil)
			}
			anyValues := make([]any, len(values))
			for i, v := range values {
				anyValues[i] = v
			}
			clauses[cond.Field] = map[string]any{"$in": anyValues}
		default:
			return nil, NewStoreError("pinecone", "filter",
				fmt.Sprintf("unsupported operator %q", cond.Op), nil)
		}
	}

	mf, err := structpb.NewStruct(clauses)
	if err != nil {
		return nil, NewStoreError("pinecone", "filter", "failed to convert filter", err)
	}
	return mf, nil
}

var _ Store = (*PineconeStore)(nil)
