package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/corpus/pkg/config"
)

func newTestChromem(t *testing.T) *ChromemStore {
	t.Helper()
	s, err := NewChromemStore(config.VectorStoreConfig{})
	require.NoError(t, err)
	return s
}

func chunk(id string, docID string, n int, text string, vec []float32) ChunkRecord {
	return ChunkRecord{
		ID:          id,
		DocumentID:  docID,
		ChunkNumber: n,
		Text:        text,
		Source:      "test.txt",
		Vector:      vec,
	}
}

func TestChromemRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestChromem(t)

	require.NoError(t, s.CreateCollection(ctx, "docs", 3))
	// Idempotent.
	require.NoError(t, s.CreateCollection(ctx, "docs", 3))

	chunks := []ChunkRecord{
		chunk("c1", "d1", 0, "about cats", []float32{1, 0, 0}),
		chunk("c2", "d1", 1, "about dogs", []float32{0.9, 0.1, 0}),
		chunk("c3", "d2", 0, "about stars", []float32{0, 0, 1}),
	}
	require.NoError(t, s.AddChunks(ctx, "docs", chunks))

	matches, err := s.Query(ctx, "docs", []float32{1, 0, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, matches, 2)

	assert.Equal(t, "c1", matches[0].ID)
	assert.Equal(t, "about cats", matches[0].Text)
	assert.Equal(t, "d1", matches[0].DocumentID)
	assert.Equal(t, 0, matches[0].ChunkNumber)
	assert.Equal(t, "test.txt", matches[0].Source)
	assert.GreaterOrEqual(t, matches[0].Score, matches[1].Score, "results must be best first")
}

func TestChromemQueryMissingCollection(t *testing.T) {
	s := newTestChromem(t)

	_, err := s.Query(context.Background(), "nope", []float32{1, 0, 0}, 3, nil)
	require.Error(t, err)

	var cerr *CollectionError
	require.True(t, errors.As(err, &cerr))
	assert.True(t, cerr.NotFound)
}

func TestChromemDimensionCheck(t *testing.T) {
	ctx := context.Background()
	s := newTestChromem(t)
	require.NoError(t, s.CreateCollection(ctx, "docs", 3))

	err := s.AddChunks(ctx, "docs", []ChunkRecord{
		chunk("bad", "d1", 0, "wrong dims", []float32{1, 0}),
	})
	require.Error(t, err)
}

func TestChromemEqualityFilter(t *testing.T) {
	ctx := context.Background()
	s := newTestChromem(t)
	require.NoError(t, s.CreateCollection(ctx, "docs", 3))

	require.NoError(t, s.AddChunks(ctx, "docs", []ChunkRecord{
		chunk("c1", "d1", 0, "one", []float32{1, 0, 0}),
		chunk("c2", "d2", 0, "two", []float32{1, 0, 0}),
	}))

	matches, err := s.Query(ctx, "docs", []float32{1, 0, 0}, 5, Eq("document_id", "d2"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "c2", matches[0].ID)
}

func TestChromemRangeFilterClientSide(t *testing.T) {
	ctx := context.Background()
	s := newTestChromem(t)
	require.NoError(t, s.CreateCollection(ctx, "docs", 3))

	require.NoError(t, s.AddChunks(ctx, "docs", []ChunkRecord{
		chunk("c1", "d1", 0, "zero", []float32{1, 0, 0}),
		chunk("c2", "d1", 5, "five", []float32{1, 0, 0}),
	}))

	filter := &Filter{}
	filter.And("chunk_number", OpGte, 3)
	matches, err := s.Query(ctx, "docs", []float32{1, 0, 0}, 5, filter)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "c2", matches[0].ID)
}

func TestChromemDeleteChunks(t *testing.T) {
	ctx := context.Background()
	s := newTestChromem(t)
	require.NoError(t, s.CreateCollection(ctx, "docs", 3))

	require.NoError(t, s.AddChunks(ctx, "docs", []ChunkRecord{
		chunk("c1", "d1", 0, "keep", []float32{1, 0, 0}),
		chunk("c2", "d2", 0, "drop", []float32{0, 1, 0}),
	}))

	require.NoError(t, s.DeleteChunks(ctx, "docs", Eq("document_id", "d2")))

	matches, err := s.Query(ctx, "docs", []float32{0, 1, 0}, 5, nil)
	require.NoError(t, err)
	for _, m := range matches {
		assert.NotEqual(t, "c2", m.ID)
	}
}

func TestChromemDeleteCollection(t *testing.T) {
	ctx := context.Background()
	s := newTestChromem(t)
	require.NoError(t, s.CreateCollection(ctx, "docs", 3))
	require.NoError(t, s.DeleteCollection(ctx, "docs"))

	_, err := s.Query(ctx, "docs", []float32{1, 0, 0}, 1, nil)
	require.Error(t, err)
}

func TestFactoryRejectsUnknownType(t *testing.T) {
	_, err := New(config.VectorStoreConfig{Type: "faiss"})
	require.Error(t, err)
}

func TestBuildMilvusExpr(t *testing.T) {
	filter := Eq("document_id", "d1").And("chunk_number", OpGte, 2)
	expr, err := buildMilvusExpr(filter)
	require.NoError(t, err)
	assert.Equal(t, `document_id == "d1" and chunk_number >= 2`, expr)

	filter = &Filter{Conditions: []Condition{{Field: "source", Op: OpIn, Value: []string{"a.txt", "b.txt"}}}}
	expr, err = buildMilvusExpr(filter)
	require.NoError(t, err)
	assert.Equal(t, `source in ["a.txt", "b.txt"]`, expr)
}

func TestBuildChromaWhere(t *testing.T) {
	where := buildChromaWhere(Eq("document_id", "d1"))
	assert.Equal(t, map[string]any{"document_id": map[string]any{"$eq": "d1"}}, where)

	where = buildChromaWhere(Eq("a", 1).And("b", OpLte, 2))
	assert.Contains(t, where, "$and")

	assert.Nil(t, buildChromaWhere(nil))
}

func TestBuildElasticFilter(t *testing.T) {
	esFilter, err := buildElasticFilter(Eq("document_id", "d1").And("chunk_number", OpLte, 4))
	require.NoError(t, err)

	boolQ := esFilter["bool"].(map[string]any)
	clauses := boolQ["filter"].([]map[string]any)
	require.Len(t, clauses, 2)
	assert.Contains(t, clauses[0], "term")
	assert.Contains(t, clauses[1], "range")
}

func TestBuildWeaviateWhere(t *testing.T) {
	where, err := buildWeaviateWhere(Eq("document_id", "d1"))
	require.NoError(t, err)
	assert.Contains(t, where, `operator: Equal`)
	assert.Contains(t, where, `"document_id"`)

	where, err = buildWeaviateWhere(&Filter{Conditions: []Condition{
		{Field: "source", Op: OpIn, Value: []string{"x", "y"}},
	}})
	require.NoError(t, err)
	assert.Contains(t, where, "operator: Or")
}

func TestClassName(t *testing.T) {
	assert.Equal(t, "MyDocs", className("my-docs"))
	assert.Equal(t, "Docs2024", className("docs 2024"))
	assert.Equal(t, "Collection", className("---"))
}

func TestMatchFromMetadataCoercesChunkNumber(t *testing.T) {
	for _, v := range []any{5, int64(5), float64(5)} {
		m := matchFromMetadata("id", 1, map[string]any{"chunk_number": v, "extra": "kept"})
		assert.Equal(t, 5, m.ChunkNumber, fmt.Sprintf("type %T", v))
		assert.Equal(t, "kept", m.Metadata["extra"])
	}
}
