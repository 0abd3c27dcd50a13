package system

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/corpus/pkg/config"
)

func newInitializer(t *testing.T) *Initializer {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	init, err := NewInitializer(db, "sqlite3")
	require.NoError(t, err)
	return init
}

func watsonxConfig(model, embeddingModel string) config.ProvidersConfig {
	return config.ProvidersConfig{
		WatsonX: &config.ProviderConfig{
			BaseURL:        "https://us-south.ml.cloud.ibm.com",
			Model:          model,
			EmbeddingModel: embeddingModel,
		},
		OpenAI: &config.ProviderConfig{APIKey: "sk-test"},
	}
}

func TestReconcileCreatesProvidersAndModels(t *testing.T) {
	ctx := context.Background()
	init := newInitializer(t)

	cfg := watsonxConfig("ibm/granite-13b-chat-v2", "ibm/slate-125m-english-rtrvr")
	require.NoError(t, init.Reconcile(ctx, cfg))

	providers, err := init.Providers(ctx)
	require.NoError(t, err)
	require.Len(t, providers, 2)
	assert.Equal(t, "openai", providers[0].Name)
	assert.Equal(t, "watsonx", providers[1].Name)
	assert.True(t, providers[1].Active)

	gen, err := init.DefaultModel(ctx, "watsonx", KindGeneration)
	require.NoError(t, err)
	assert.Equal(t, "ibm/granite-13b-chat-v2", gen.ModelID)

	emb, err := init.DefaultModel(ctx, "watsonx", KindEmbedding)
	require.NoError(t, err)
	assert.Equal(t, "ibm/slate-125m-english-rtrvr", emb.ModelID)
}

func TestReconcileIsIdempotent(t *testing.T) {
	ctx := context.Background()
	init := newInitializer(t)

	cfg := watsonxConfig("ibm/granite-13b-chat-v2", "ibm/slate-125m-english-rtrvr")
	require.NoError(t, init.Reconcile(ctx, cfg))
	require.NoError(t, init.Reconcile(ctx, cfg))

	providers, err := init.Providers(ctx)
	require.NoError(t, err)
	assert.Len(t, providers, 2)
}

func TestReconcileUpdatesDriftedDefaultModel(t *testing.T) {
	ctx := context.Background()
	init := newInitializer(t)

	require.NoError(t, init.Reconcile(ctx, watsonxConfig("ibm/granite-13b-chat-v2", "ibm/slate-125m-english-rtrvr")))
	require.NoError(t, init.Reconcile(ctx, watsonxConfig("ibm/granite-3-8b-instruct", "ibm/slate-125m-english-rtrvr")))

	gen, err := init.DefaultModel(ctx, "watsonx", KindGeneration)
	require.NoError(t, err)
	assert.Equal(t, "ibm/granite-3-8b-instruct", gen.ModelID)
}

func TestReconcileSkipsUnconfiguredProviders(t *testing.T) {
	ctx := context.Background()
	init := newInitializer(t)

	require.NoError(t, init.Reconcile(ctx, config.ProvidersConfig{}))

	providers, err := init.Providers(ctx)
	require.NoError(t, err)
	assert.Empty(t, providers)
}
