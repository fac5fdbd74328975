package reembed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/medrag/ai/mock"
	"github.com/poiesic/medrag/core"
	"github.com/poiesic/medrag/index"
	"github.com/poiesic/medrag/normalize"
	"github.com/poiesic/medrag/storage"
	"github.com/poiesic/medrag/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedStore(t *testing.T, n, dim int) storage.VectorStore {
	t.Helper()
	store, err := badger.NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ix, err := index.New(store, mock.NewMockEmbedder().WithDimension(dim))
	require.NoError(t, err)
	defer ix.Release()

	for i := 0; i < n; i++ {
		_, err := ix.IndexDocument(context.Background(), &normalize.RawDocument{
			ID:          fmt.Sprintf("note-%02d", i),
			Patient:     normalize.RawPatient{Name: fmt.Sprintf("P%d", i)},
			Diagnosis:   normalize.StringList{"Viral Fever"},
			CleanedText: fmt.Sprintf("fever note number %d", i),
		})
		require.NoError(t, err)
	}
	return store
}

func testConfig() *Config {
	return &Config{BatchSize: 2, ReportInterval: 1, MaxRetries: 2, RetryDelay: time.Millisecond}
}

func vectorNorm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func TestNewReembedder(t *testing.T) {
	store := seedStore(t, 0, 8)

	_, err := NewReembedder(store, mock.NewMockEmbedder(), &Config{BatchSize: 0, MaxRetries: 1}, nil)
	assert.ErrorIs(t, err, ErrInvalidBatchSize)

	_, err = NewReembedder(store, mock.NewMockEmbedder(), &Config{BatchSize: 1, MaxRetries: 0}, nil)
	assert.ErrorIs(t, err, index.ErrInvalidMaxAttempts)

	r, err := NewReembedder(store, mock.NewMockEmbedder(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), r.config)
}

func TestReembedder_EmptyIndex(t *testing.T) {
	store := seedStore(t, 0, 8)
	var out bytes.Buffer
	r, err := NewReembedder(store, mock.NewMockEmbedder(), testConfig(), &out)
	require.NoError(t, err)

	result, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Reembedded)
	assert.Contains(t, out.String(), "No entries found")
}

func TestReembedder_SameDimension(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t, 5, 32)
	before, err := store.CurrentGeneration(ctx)
	require.NoError(t, err)

	embedder := mock.NewMockEmbedder().WithDimension(32)
	var out bytes.Buffer
	r, err := NewReembedder(store, embedder, testConfig(), &out)
	require.NoError(t, err)

	result, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, result.Reembedded)
	assert.False(t, result.Reset)
	assert.Equal(t, 32, result.Dimension)
	assert.Equal(t, before+1, result.Generation)
	assert.Equal(t, 5, embedder.CallCount())
	assert.Contains(t, out.String(), "Reembedding complete")

	entry, err := store.Get(ctx, "note-03")
	require.NoError(t, err)
	assert.Equal(t, result.Generation, entry.Generation)
	assert.Equal(t, "P3", entry.Metadata.Patient)
	assert.InDelta(t, 1.0, vectorNorm(entry.Vector), 1e-5)
}

func TestReembedder_DimensionChange(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t, 3, 16)
	before, err := store.CurrentGeneration(ctx)
	require.NoError(t, err)

	r, err := NewReembedder(store, mock.NewMockEmbedder().WithDimension(64), testConfig(), nil)
	require.NoError(t, err)

	result, err := r.Run(ctx)
	require.NoError(t, err)
	assert.True(t, result.Reset)
	assert.Equal(t, 64, store.Dimension())
	// the old entries are replaced in the same commit that drops them
	assert.Equal(t, before+1, result.Generation)

	entries, err := store.GetByFilter(ctx, &core.Filter{DiagnosisKey: "viral fever"})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for _, e := range entries {
		assert.Len(t, e.Vector, 64)
	}
}

// hookedEmbedder embeds at dim and runs during once, before the first batch
// is embedded.
func hookedEmbedder(dim int, during func()) *mock.MockEmbedder {
	embedder := mock.NewMockEmbedder().WithDimension(dim)
	var once sync.Once
	embedder.EmbedTextsFunc = func(_ context.Context, texts []string) ([][]float32, error) {
		once.Do(during)
		out := make([][]float32, len(texts))
		for i, text := range texts {
			out[i] = mock.HashVector(text, dim)
		}
		return out, nil
	}
	return embedder
}

func TestReembedder_KeepsRecordIndexedDuringRun(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t, 3, 16)

	ix, err := index.New(store, mock.NewMockEmbedder().WithDimension(16))
	require.NoError(t, err)
	defer ix.Release()

	var concurrentGen core.Generation
	embedder := hookedEmbedder(16, func() {
		var err error
		concurrentGen, err = ix.IndexDocument(ctx, &normalize.RawDocument{
			ID:          "note-01",
			Patient:     normalize.RawPatient{Name: "P1"},
			Diagnosis:   normalize.StringList{"Dengue"},
			CleanedText: "platelets low, dengue confirmed",
		})
		require.NoError(t, err)
	})

	r, err := NewReembedder(store, embedder, testConfig(), nil)
	require.NoError(t, err)
	result, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"note-01"}, result.Skipped)
	assert.Equal(t, 2, result.Reembedded)
	assert.Greater(t, result.Generation, concurrentGen)

	entry, err := store.Get(ctx, "note-01")
	require.NoError(t, err)
	assert.Equal(t, concurrentGen, entry.Generation)
	assert.Equal(t, []string{"dengue"}, entry.Metadata.DiagnosisKeys)
	assert.Contains(t, entry.Metadata.Narrative, "dengue confirmed")

	other, err := store.Get(ctx, "note-00")
	require.NoError(t, err)
	assert.Equal(t, result.Generation, other.Generation)
}

func TestReembedder_DimensionChangeRefusesStaleSnapshot(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t, 3, 16)

	embedder := hookedEmbedder(64, func() {
		_, err := store.Delete(ctx, "note-02")
		require.NoError(t, err)
	})

	r, err := NewReembedder(store, embedder, testConfig(), nil)
	require.NoError(t, err)
	_, err = r.Run(ctx)
	require.ErrorIs(t, err, storage.ErrConflict)

	// the index is left as the delete made it
	assert.Equal(t, 16, store.Dimension())
	entries, err := store.GetByFilter(ctx, &core.Filter{DiagnosisKey: "viral fever"})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Len(t, e.Vector, 16)
	}
	_, err = store.Get(ctx, "note-02")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestReembedder_FailureLeavesIndexUntouched(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t, 3, 16)
	before, err := store.CurrentGeneration(ctx)
	require.NoError(t, err)

	embedder := mock.NewMockEmbedder().WithDimension(64)
	calls := 0
	embedder.EmbedTextsFunc = func(_ context.Context, texts []string) ([][]float32, error) {
		calls++
		if calls > 1 {
			return nil, errors.New("model unavailable")
		}
		out := make([][]float32, len(texts))
		for i, text := range texts {
			out[i] = mock.HashVector(text, 64)
		}
		return out, nil
	}

	r, err := NewReembedder(store, embedder, testConfig(), nil)
	require.NoError(t, err)

	_, err = r.Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model unavailable")

	after, err := store.CurrentGeneration(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, 16, store.Dimension())
}

func TestBatchProcessor(t *testing.T) {
	ctx := context.Background()
	entries := []*core.IndexEntry{
		{RecordID: "a", Metadata: core.Metadata{Narrative: "first"}},
		{RecordID: "b", Metadata: core.Metadata{Narrative: "second"}},
	}

	t.Run("normalizes vectors", func(t *testing.T) {
		bp := NewBatchProcessor(mock.NewMockEmbedder().WithDimension(8), 1, 0)
		vectors, err := bp.Process(ctx, entries)
		require.NoError(t, err)
		require.Len(t, vectors, 2)
		assert.InDelta(t, 1.0, vectorNorm(vectors[0]), 1e-5)
		assert.Nil(t, entries[0].Vector)
	})

	t.Run("empty batch", func(t *testing.T) {
		bp := NewBatchProcessor(mock.NewMockEmbedder(), 1, 0)
		vectors, err := bp.Process(ctx, nil)
		require.NoError(t, err)
		assert.Nil(t, vectors)
	})

	t.Run("count mismatch", func(t *testing.T) {
		embedder := mock.NewMockEmbedder()
		embedder.EmbedTextsFunc = func(context.Context, []string) ([][]float32, error) {
			return [][]float32{{1, 0}}, nil
		}
		_, err := NewBatchProcessor(embedder, 1, 0).Process(ctx, entries)
		assert.ErrorIs(t, err, ErrEmbeddingCount)
	})

	t.Run("zero vector", func(t *testing.T) {
		embedder := mock.NewMockEmbedder()
		embedder.EmbedTextsFunc = func(context.Context, []string) ([][]float32, error) {
			return [][]float32{{1, 0}, {0, 0}}, nil
		}
		_, err := NewBatchProcessor(embedder, 1, 0).Process(ctx, entries)
		assert.ErrorIs(t, err, index.ErrZeroVector)
	})

	t.Run("retries", func(t *testing.T) {
		embedder := mock.NewMockEmbedder()
		attempts := 0
		embedder.EmbedTextsFunc = func(_ context.Context, texts []string) ([][]float32, error) {
			attempts++
			if attempts == 1 {
				return nil, errors.New("transient")
			}
			return [][]float32{{1, 0}, {0, 1}}, nil
		}
		_, err := NewBatchProcessor(embedder, 3, time.Millisecond).Process(ctx, entries)
		require.NoError(t, err)
		assert.Equal(t, 2, attempts)
	})
}
