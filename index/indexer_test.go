package index

import (
	"bytes"
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/poiesic/medrag/ai/mock"
	"github.com/poiesic/medrag/core"
	"github.com/poiesic/medrag/normalize"
	"github.com/poiesic/medrag/storage"
	"github.com/poiesic/medrag/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupIndexer(t *testing.T, embedder *mock.MockEmbedder, opts ...Option) (*Indexer, storage.VectorStore) {
	t.Helper()
	store, err := badger.NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ix, err := New(store, embedder, append([]Option{WithRetry(1, 0)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(ix.Release)
	return ix, store
}

func note(id, patient, diagnosis, prescription, text string) *normalize.RawDocument {
	doc := &normalize.RawDocument{
		ID:          id,
		Patient:     normalize.RawPatient{Name: patient},
		CleanedText: text,
	}
	if diagnosis != "" {
		doc.Diagnosis = normalize.StringList{diagnosis}
	}
	if prescription != "" {
		doc.Prescriptions = []normalize.RawMention{{Drug: prescription}}
	}
	return doc
}

func TestNew_Validation(t *testing.T) {
	store, err := badger.NewMemoryStore()
	require.NoError(t, err)
	defer store.Close()

	_, err = New(nil, mock.NewMockEmbedder())
	assert.ErrorIs(t, err, ErrStoreRequired)

	_, err = New(store, nil)
	assert.ErrorIs(t, err, ErrEmbedderRequired)

	_, err = New(store, mock.NewMockEmbedder(), WithRetry(0, time.Second))
	assert.ErrorIs(t, err, ErrInvalidMaxAttempts)
}

func TestIndexDocument(t *testing.T) {
	ctx := context.Background()
	ix, store := setupIndexer(t, mock.NewMockEmbedder().WithDimension(32))

	gen, err := ix.IndexDocument(ctx, note("n1", "Asha  Rao", "Viral Fever", "Paracetamol 650mg", "fever for two days"))
	require.NoError(t, err)
	assert.Equal(t, core.Generation(1), gen)

	entry, err := store.Get(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, gen, entry.Generation)
	assert.Equal(t, "Asha Rao", entry.Metadata.Patient)
	assert.Equal(t, "asha rao", entry.Metadata.PatientKey)
	assert.Equal(t, []string{"viral fever"}, entry.Metadata.DiagnosisKeys)
	assert.Equal(t, []string{"Viral Fever"}, entry.Metadata.Diagnoses)
	assert.Equal(t, []string{"paracetamol 650mg"}, entry.Metadata.Treatments)
	assert.Equal(t, "fever for two days", entry.Metadata.Narrative)

	var sum float64
	for _, v := range entry.Vector {
		sum += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-5)
}

func TestIndex_Idempotent(t *testing.T) {
	ctx := context.Background()
	ix, store := setupIndexer(t, mock.NewMockEmbedder().WithDimension(16))

	doc := note("n1", "Asha", "Viral Fever", "", "fever")
	_, err := ix.IndexDocument(ctx, doc)
	require.NoError(t, err)
	gen, err := ix.IndexDocument(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, core.Generation(2), gen)

	entries, err := store.GetByFilter(ctx, nil)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, gen, entries[0].Generation)
}

func TestIndex_InvalidRecord(t *testing.T) {
	ix, _ := setupIndexer(t, mock.NewMockEmbedder())

	_, err := ix.Index(context.Background(), &core.ClinicalRecord{ID: "x"})
	assert.ErrorIs(t, err, core.ErrNormalization)

	_, err = ix.IndexDocument(context.Background(), &normalize.RawDocument{ID: "y"})
	assert.ErrorIs(t, err, core.ErrNormalization)
}

func TestIndexBatch_PartialFailure(t *testing.T) {
	ctx := context.Background()
	ix, store := setupIndexer(t, mock.NewMockEmbedder().WithDimension(16))

	report := ix.IndexBatch(ctx, []*normalize.RawDocument{
		note("a", "A", "Viral Fever", "Paracetamol 650mg", "fever"),
		note("broken", "B", "", "", ""),
		note("c", "C", "Dengue", "", "platelets low"),
	})

	assert.Equal(t, 2, report.Indexed)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Outcomes, 3)
	assert.Equal(t, "a", report.Outcomes[0].SourceID)
	assert.NoError(t, report.Outcomes[0].Err)
	assert.Equal(t, "broken", report.Outcomes[1].SourceID)
	assert.ErrorIs(t, report.Outcomes[1].Err, core.ErrNormalization)
	assert.NoError(t, report.Outcomes[2].Err)

	failures := report.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, "broken", failures[0].SourceID)

	current, err := store.CurrentGeneration(ctx)
	require.NoError(t, err)
	assert.Equal(t, current, report.Generation)

	count, err := store.GetByFilter(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, count, 2)
}

func TestIndexBatch_DuplicateIDsLastWins(t *testing.T) {
	ctx := context.Background()
	ix, store := setupIndexer(t, mock.NewMockEmbedder().WithDimension(16), WithPoolSize(4))

	report := ix.IndexBatch(ctx, []*normalize.RawDocument{
		note("same", "A", "", "", "first version"),
		note("other", "B", "", "", "unrelated"),
		note("same", "A", "", "", "second version"),
	})
	require.Equal(t, 3, report.Indexed)
	assert.Greater(t, report.Outcomes[2].Generation, report.Outcomes[0].Generation)

	entry, err := store.Get(ctx, "same")
	require.NoError(t, err)
	assert.Equal(t, "second version", entry.Metadata.Narrative)
}

func TestIndexBatch_Empty(t *testing.T) {
	ix, _ := setupIndexer(t, mock.NewMockEmbedder())
	report := ix.IndexBatch(context.Background(), nil)
	assert.Equal(t, 0, report.Indexed)
	assert.Empty(t, report.Outcomes)
}

func TestIndexBatch_Progress(t *testing.T) {
	var buf bytes.Buffer
	ix, _ := setupIndexer(t, mock.NewMockEmbedder().WithDimension(8), WithProgress(&buf, 1))

	ix.IndexBatch(context.Background(), []*normalize.RawDocument{
		note("a", "A", "", "", "one"),
		note("b", "B", "", "", "two"),
	})
	assert.Contains(t, buf.String(), "Indexed: 2/2 (100.0%), 0 failed")
}

func TestIndex_DimensionMismatchHalts(t *testing.T) {
	ctx := context.Background()
	embedder := mock.NewMockEmbedder().WithDimension(16)
	ix, store := setupIndexer(t, embedder)

	_, err := ix.IndexDocument(ctx, note("a", "A", "", "", "first"))
	require.NoError(t, err)
	assert.Equal(t, 16, store.Dimension())

	embedder.WithDimension(8)
	_, err = ix.IndexDocument(ctx, note("b", "B", "", "", "second"))
	assert.ErrorIs(t, err, core.ErrIndex)
	assert.ErrorIs(t, err, core.ErrDimensionMismatch)
	require.Error(t, ix.Halted())

	_, err = ix.IndexDocument(ctx, note("c", "C", "", "", "third"))
	assert.ErrorIs(t, err, core.ErrIndexerHalted)
	assert.ErrorIs(t, err, core.ErrDimensionMismatch)

	report, err := ix.Reindex(ctx, []*normalize.RawDocument{
		note("a", "A", "", "", "first"),
		note("b", "B", "", "", "second"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Indexed)
	assert.NoError(t, ix.Halted())
	assert.Equal(t, 8, store.Dimension())
}

func TestIndex_RetriesEmbedding(t *testing.T) {
	var calls atomic.Int32
	embedder := mock.NewMockEmbedder().WithEmbedTextFunc(func(ctx context.Context, text string) ([]float32, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("temporarily unavailable")
		}
		return []float32{3, 4}, nil
	})
	ix, store := setupIndexer(t, embedder, WithRetry(3, time.Millisecond))

	_, err := ix.IndexDocument(context.Background(), note("a", "A", "", "", "text"))
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())

	entry, err := store.Get(context.Background(), "a")
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{0.6, 0.8}, entry.Vector, 1e-6)
}

func TestIndex_RetriesExhausted(t *testing.T) {
	boom := errors.New("embedding service down")
	embedder := mock.NewMockEmbedder().WithEmbedTextFunc(func(ctx context.Context, text string) ([]float32, error) {
		return nil, boom
	})
	ix, store := setupIndexer(t, embedder, WithRetry(2, time.Millisecond))

	_, err := ix.IndexDocument(context.Background(), note("a", "A", "", "", "text"))
	assert.ErrorIs(t, err, core.ErrIndex)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, embedder.CallCount())

	_, err = store.Get(context.Background(), "a")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.NoError(t, ix.Halted())
}

func TestIndex_EmbedTimeout(t *testing.T) {
	embedder := mock.NewMockEmbedder().WithEmbedTextFunc(func(ctx context.Context, text string) ([]float32, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	ix, _ := setupIndexer(t, embedder, WithEmbedTimeout(10*time.Millisecond))

	_, err := ix.IndexDocument(context.Background(), note("a", "A", "", "", "text"))
	assert.ErrorIs(t, err, core.ErrIndex)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestIndex_ZeroVector(t *testing.T) {
	embedder := mock.NewMockEmbedder().WithEmbedTextFunc(func(ctx context.Context, text string) ([]float32, error) {
		return []float32{0, 0, 0}, nil
	})
	ix, _ := setupIndexer(t, embedder)

	_, err := ix.IndexDocument(context.Background(), note("a", "A", "", "", "text"))
	assert.ErrorIs(t, err, core.ErrIndex)
	assert.ErrorIs(t, err, ErrZeroVector)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	ix, store := setupIndexer(t, mock.NewMockEmbedder().WithDimension(8))

	gen, err := ix.IndexDocument(ctx, note("a", "A", "", "", "text"))
	require.NoError(t, err)

	deleted, err := ix.Delete(ctx, "a", "a", "missing")
	require.NoError(t, err)
	assert.Greater(t, deleted, gen)

	_, err = store.Get(ctx, "a")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
