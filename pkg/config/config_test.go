package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetDefaults(t *testing.T) {
	s := &Settings{}
	s.SetDefaults()

	assert.Equal(t, 8080, s.Server.Port)
	assert.Equal(t, "chromem", s.VectorStore.Type)
	assert.Equal(t, "fixed", s.Chunking.Strategy)
	assert.Equal(t, 100, s.Chunking.MinChunkSize)
	assert.Equal(t, 1000, s.Chunking.MaxChunkSize)
	assert.Equal(t, 384, s.Embedding.Dimension)
	assert.Equal(t, "sqlite", s.Database.Driver)
}

func TestValidateRejectsBadStrategy(t *testing.T) {
	s := &Settings{}
	s.SetDefaults()
	s.Chunking.Strategy = "magic"

	err := s.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chunking strategy")
}

func TestValidateRejectsInvertedChunkSizes(t *testing.T) {
	s := &Settings{}
	s.SetDefaults()
	s.Chunking.MinChunkSize = 500
	s.Chunking.MaxChunkSize = 100

	err := s.Validate()
	require.Error(t, err)
}

func TestValidateRequiresHostForNetworkStores(t *testing.T) {
	s := &Settings{}
	s.SetDefaults()
	s.VectorStore.Type = "qdrant"

	require.Error(t, s.Validate())

	s.VectorStore.Host = "localhost"
	require.NoError(t, s.Validate())
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte(`
server:
  port: 9090
chunking:
  strategy: token
  max_chunk_size: 512
vector_store:
  type: chromem
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, s.Server.Port)
	assert.Equal(t, "token", s.Chunking.Strategy)
	assert.Equal(t, 512, s.Chunking.MaxChunkSize)
	assert.Equal(t, 100, s.Chunking.MinChunkSize)
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("CORPUS_SERVER_PORT", "7070")
	t.Setenv("CORPUS_VECTOR_STORE", "chromem")

	s, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7070, s.Server.Port)
}

func TestSQLConnectionString(t *testing.T) {
	pg := SQLConfig{Driver: "postgres", Host: "db", Port: 5432, Username: "u", Password: "p", Database: "corpus", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=corpus sslmode=disable", pg.ConnectionString())

	my := SQLConfig{Driver: "mysql", Host: "db", Port: 3306, Username: "u", Password: "p", Database: "corpus"}
	assert.Equal(t, "u:p@tcp(db:3306)/corpus?parseTime=true", my.ConnectionString())

	lite := SQLConfig{Driver: "sqlite", Path: "/tmp/x.db"}
	assert.Equal(t, "/tmp/x.db", lite.ConnectionString())
	assert.Equal(t, "sqlite3", lite.DriverName())
}

func TestStaticDefaultsCarriesChunkingKeys(t *testing.T) {
	s := &Settings{}
	s.SetDefaults()

	defaults := s.StaticDefaults()
	assert.Equal(t, "fixed", defaults["chunking_strategy"])
	assert.Equal(t, 1000, defaults["max_chunk_size"])
	assert.Equal(t, 5, defaults["top_k"])
}
