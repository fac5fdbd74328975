package mock

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/poiesic/medrag/ai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestHashVector(t *testing.T) {
	a := HashVector("fever and headache for two days", 64)
	b := HashVector("Fever, headache: two days!", 64)
	c := HashVector("fractured wrist after fall", 64)

	require.Len(t, a, 64)
	assert.InDelta(t, 1.0, cosine(a, a), 1e-6)
	assert.InDelta(t, 1.0, cosine(a, b), 1e-6)
	assert.Greater(t, cosine(a, b), cosine(a, c))

	empty := HashVector("the and of", 8)
	assert.Equal(t, float32(1), empty[0])
	assert.Empty(t, HashVector("anything", 0))
}

func TestMockEmbedder(t *testing.T) {
	ctx := context.Background()
	m := NewMockEmbedder().WithDimension(16)

	vectors, err := m.EmbedTexts(ctx, []string{"one note", "two notes"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Len(t, vectors[0], 16)
	assert.Equal(t, 2, m.CallCount())

	boom := errors.New("boom")
	m.WithEmbedTextFunc(func(ctx context.Context, text string) ([]float32, error) {
		return nil, boom
	})
	_, err = m.EmbedText(ctx, "x")
	assert.ErrorIs(t, err, boom)

	m.Reset()
	assert.Equal(t, 0, m.CallCount())

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = m.EmbedText(cancelled, "x")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMockGenerator_Extractive(t *testing.T) {
	ctx := context.Background()
	g := NewMockGenerator()

	notes := "---DOC ID: n1 | patient: Asha | diagnosis: viral fever---\n" +
		"Patient reports fever for two days. Paracetamol 650 mg was given.\n" +
		"---DOC ID: n2 | patient: Ravi | diagnosis: fracture---\n" +
		"Wrist fracture after a fall. Cast applied."

	got, err := g.Generate(ctx, ai.GenerationRequest{Question: "How was the wrist fracture caused?", Context: notes})
	require.NoError(t, err)
	require.NotNil(t, got.Answer)
	assert.Equal(t, "Wrist fracture after a fall.", *got.Answer)
	assert.Equal(t, []string{"n2"}, got.UsedDocuments)

	got, err = g.Generate(ctx, ai.GenerationRequest{Question: "What is the blood pressure?", Context: notes})
	require.NoError(t, err)
	assert.Nil(t, got.Answer)

	assert.Equal(t, 2, g.CallCount())
	require.NotNil(t, g.LastRequest())
	assert.Equal(t, "What is the blood pressure?", g.LastRequest().Question)
}

func TestMockGenerator_Injected(t *testing.T) {
	g := NewMockGenerator().WithAnswer("canned", "n1")
	got, err := g.Generate(context.Background(), ai.GenerationRequest{Question: "q"})
	require.NoError(t, err)
	require.NotNil(t, got.Answer)
	assert.Equal(t, "canned", *got.Answer)
	assert.Equal(t, []string{"n1"}, got.UsedDocuments)

	g.Reset()
	assert.Equal(t, 0, g.CallCount())
	assert.Nil(t, g.LastRequest())
}

func TestMockProvider(t *testing.T) {
	p := NewMockProvider().(*MockProvider)
	assert.Same(t, p.GetMockEmbedder(), p.Embedder())
	assert.Same(t, p.GetMockGenerator(), p.Generator())
	assert.NoError(t, p.Close())

	e := NewMockEmbedder()
	g := NewMockGenerator()
	custom := NewMockProviderWithServices(e, g).(*MockProvider)
	assert.Same(t, e, custom.GetMockEmbedder())
	assert.Same(t, g, custom.GetMockGenerator())
}
