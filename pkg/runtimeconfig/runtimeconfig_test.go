package runtimeconfig

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store, err := NewSQLStore(db, "sqlite3")
	require.NoError(t, err)
	return store
}

func mustTyped(t *testing.T, v any) TypedValue {
	t.Helper()
	tv, err := NewTypedValue(v)
	require.NoError(t, err)
	return tv
}

func TestTypedValueRoundTrip(t *testing.T) {
	tests := []struct {
		in       any
		wantType ValueType
		want     any
	}{
		{"hello", TypeString, "hello"},
		{42, TypeInt, 42},
		{3.5, TypeFloat, 3.5},
		{true, TypeBool, true},
		{[]string{"a", "b"}, TypeList, []any{"a", "b"}},
		{map[string]any{"k": "v"}, TypeDict, map[string]any{"k": "v"}},
	}
	for _, tt := range tests {
		tv, err := NewTypedValue(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.wantType, tv.Type)
		got, err := tv.Coerce()
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestTypedValueListDictShapeChecked(t *testing.T) {
	// A dict stored under a declared list type is a type error, and the
	// other way around.
	_, err := TypedValue{Raw: `{"k":"v"}`, Type: TypeList}.Coerce()
	var terr *ConfigTypeError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, TypeList, terr.Type)

	_, err = TypedValue{Raw: `["a","b"]`, Type: TypeDict}.Coerce()
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, TypeDict, terr.Type)
}

func TestTypedValueCoerceRejectsGarbage(t *testing.T) {
	tv := TypedValue{Raw: "not-a-number", Type: TypeInt}
	_, err := tv.Coerce()

	var terr *ConfigTypeError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, TypeInt, terr.Type)
}

func TestEntryScopeValidation(t *testing.T) {
	value := mustTyped(t, 5)

	valid := Entry{Scope: ScopeGlobal, Category: CategoryRetrieval, Key: "top_k", Value: value}
	require.NoError(t, valid.Validate())

	bad := Entry{Scope: ScopeGlobal, Category: CategoryRetrieval, Key: "top_k", Value: value, UserID: "u1"}
	require.Error(t, bad.Validate())

	bad = Entry{Scope: ScopeUser, Category: CategoryRetrieval, Key: "top_k", Value: value}
	require.Error(t, bad.Validate())

	bad = Entry{Scope: ScopeCollection, Category: CategoryRetrieval, Key: "top_k", Value: value, UserID: "u1"}
	require.Error(t, bad.Validate())

	bad = Entry{Scope: ScopeCollection, Category: CategoryRetrieval, Key: "top_k", Value: value, CollectionID: "c1"}
	require.Error(t, bad.Validate())

	ok := Entry{Scope: ScopeCollection, Category: CategoryRetrieval, Key: "top_k", Value: value, UserID: "u1", CollectionID: "c1"}
	require.NoError(t, ok.Validate())
}

func TestSetUpserts(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	e := Entry{Scope: ScopeGlobal, Category: CategoryRetrieval, Key: "top_k", Value: mustTyped(t, 5)}
	require.NoError(t, store.Set(ctx, e))

	e.Value = mustTyped(t, 8)
	require.NoError(t, store.Set(ctx, e))

	entries, err := store.List(ctx, ScopeGlobal, "", "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	got, err := entries[0].Value.Coerce()
	require.NoError(t, err)
	assert.Equal(t, 8, got)
}

func TestResolverPrecedence(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	set := func(scope Scope, key string, v any, userID, collectionID string) {
		t.Helper()
		require.NoError(t, store.Set(ctx, Entry{
			Scope: scope, Category: CategoryRetrieval, Key: key,
			Value: mustTyped(t, v), UserID: userID, CollectionID: collectionID,
		}))
	}

	set(ScopeGlobal, "top_k", 10, "", "")
	set(ScopeUser, "top_k", 15, "u1", "")
	set(ScopeCollection, "top_k", 20, "u1", "c1")
	set(ScopeGlobal, "rerank_enabled", true, "", "")
	set(ScopeUser, "temperature", 0.2, "u1", "")

	resolver := NewResolver(store, map[string]any{
		"top_k":       5,
		"temperature": 0.7,
		"max_tokens":  1024,
	})

	// Full chain: collection wins.
	resolved, err := resolver.Effective(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.Equal(t, 20, resolved["top_k"].Value)
	assert.Equal(t, string(ScopeCollection), resolved["top_k"].Source)
	assert.Equal(t, 0.2, resolved["temperature"].Value)
	assert.Equal(t, string(ScopeUser), resolved["temperature"].Source)
	assert.Equal(t, true, resolved["rerank_enabled"].Value)
	assert.Equal(t, 1024, resolved["max_tokens"].Value)
	assert.Equal(t, SourceStatic, resolved["max_tokens"].Source)

	// No collection: user wins.
	resolved, err = resolver.Effective(ctx, "u1", "")
	require.NoError(t, err)
	assert.Equal(t, 15, resolved["top_k"].Value)

	// Anonymous: global wins.
	resolved, err = resolver.Effective(ctx, "", "")
	require.NoError(t, err)
	assert.Equal(t, 10, resolved["top_k"].Value)

	// Other user's overrides do not leak.
	resolved, err = resolver.Effective(ctx, "u2", "")
	require.NoError(t, err)
	assert.Equal(t, 10, resolved["top_k"].Value)
}

func TestResolverFallsThroughCorruptOverride(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Set(ctx, Entry{
		Scope: ScopeGlobal, Category: CategoryRetrieval, Key: "top_k", Value: mustTyped(t, 5),
	}))
	// A corrupt row slipped past validation (hand-edited database).
	_, err := store.db.Exec(`
		INSERT INTO runtime_config
			(scope, category, config_key, config_value, value_type, user_id, collection_id, updated_at)
		VALUES ('USER', 'retrieval', 'top_k', 'not-a-number', 'int', 'u1', '', CURRENT_TIMESTAMP)`)
	require.NoError(t, err)

	resolver := NewResolver(store, map[string]any{"top_k": 3})

	// The unreadable USER row falls through to the GLOBAL value.
	resolved, err := resolver.Effective(ctx, "u1", "")
	require.NoError(t, err)
	assert.Equal(t, 5, resolved["top_k"].Value)
	assert.Equal(t, string(ScopeGlobal), resolved["top_k"].Source)
}

func TestResolverAccessors(t *testing.T) {
	resolved := map[string]ResolvedValue{
		"top_k":   {Value: 7},
		"temp":    {Value: 0.3},
		"enabled": {Value: true},
		"name":    {Value: "x"},
	}
	assert.Equal(t, 7, Int(resolved, "top_k", 5))
	assert.Equal(t, 5, Int(resolved, "missing", 5))
	assert.Equal(t, 0.3, Float(resolved, "temp", 0.7))
	assert.True(t, Bool(resolved, "enabled", false))
	assert.Equal(t, "x", String(resolved, "name", "y"))
}

func TestDeleteEntry(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	e := Entry{Scope: ScopeUser, Category: CategoryRetrieval, Key: "top_k", Value: mustTyped(t, 3), UserID: "u1"}
	require.NoError(t, store.Set(ctx, e))
	require.NoError(t, store.Delete(ctx, ScopeUser, CategoryRetrieval, "top_k", "u1", ""))

	entries, err := store.List(ctx, ScopeUser, "u1", "")
	require.NoError(t, err)
	assert.Empty(t, entries)
}
