package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 5, cfg.Retrieval.TopK)
	assert.Equal(t, 0.8, cfg.Retrieval.FuzzyThreshold)
	assert.Equal(t, 1200, cfg.Answer.PerDocChars)
	assert.Equal(t, 3500, cfg.Answer.TotalChars)
	assert.Equal(t, "medrag-data", cfg.Store.Path)
}

func TestLoad_PartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "medrag.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store:
  path: /var/lib/medrag
  dimension: 768
model:
  embedding_host: http://embed:8000
  api_key_env: TEST_MEDRAG_KEY
retrieval:
  top_k: 8
index:
  synonyms:
    crocin: paracetamol
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/medrag", cfg.Store.Path)
	assert.Equal(t, 768, cfg.Store.Dimension)
	assert.Equal(t, 8, cfg.Retrieval.TopK)
	assert.Equal(t, map[string]string{"crocin": "paracetamol"}, cfg.Index.Synonyms)
	assert.Equal(t, 0.2, cfg.Retrieval.MinRelevance, "unset fields keep defaults")
	assert.Equal(t, 500*time.Millisecond, cfg.RetryDelay())

	t.Setenv("TEST_MEDRAG_KEY", "secret")
	aiCfg := cfg.AIConfig()
	assert.Equal(t, "secret", aiCfg.APIKey)
	assert.Equal(t, "http://embed:8000", aiCfg.EmbeddingHost)
	assert.Equal(t, 30*time.Second, aiCfg.Timeout)
	require.NoError(t, aiCfg.Validate())
	assert.Equal(t, "http://embed:8000/v1", aiCfg.EmbeddingHost)
}

func TestLoad_Invalid(t *testing.T) {
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("store: [unterminated"), 0o644))
	_, err := Load(bad)
	assert.Error(t, err)

	outOfRange := filepath.Join(dir, "range.yaml")
	require.NoError(t, os.WriteFile(outOfRange, []byte("retrieval:\n  top_k: 50\n"), 0o644))
	_, err = Load(outOfRange)
	assert.ErrorContains(t, err, "top_k")
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "medrag.yaml")
	cfg := Default()
	cfg.Server.Addr = ":9999"
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
