package openai

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/poiesic/medrag/ai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

func TestRepairJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"valid json untouched", `{"answer": "x", "used_documents": ["a"]}`, `{"answer": "x", "used_documents": ["a"]}`},
		{"missing opening quote", `{"answer": "x", used_documents": ["a"]}`, `{"answer": "x", "used_documents": ["a"]}`},
		{"missing quote after brace", `{answer": null}`, `{"answer": null}`},
		{"trailing comma in array", `{"used_documents": ["a", "b",]}`, `{"used_documents": ["a", "b"]}`},
		{"trailing comma in object", "{\"answer\": null,\n}", "{\"answer\": null\n}"},
		{"commas inside strings kept", `{"answer": "one, } two"}`, `{"answer": "one, } two"}`},
		{"escaped quote inside string", `{"answer": "say \"hi\", ok"}`, `{"answer": "say \"hi\", ok"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := repairJSON(tt.input)
			assert.Equal(t, tt.want, got)
			assert.True(t, json.Valid([]byte(got)))
		})
	}
}

func TestParseAnswer(t *testing.T) {
	t.Run("fenced response", func(t *testing.T) {
		payload, err := parseAnswer("```json\n{\"answer\": \"Paracetamol 650mg\", \"used_documents\": [\"n1\"], \"confidence\": \"high\"}\n```")
		require.NoError(t, err)
		require.NotNil(t, payload.Answer)
		assert.Equal(t, "Paracetamol 650mg", *payload.Answer)
		assert.Equal(t, []string{"n1"}, payload.UsedDocuments)
		assert.Equal(t, "high", payload.Confidence)
	})

	t.Run("null and blank answers", func(t *testing.T) {
		for _, body := range []string{`{"answer": null}`, `{"answer": "  "}`, `{"answer": "null"}`} {
			payload, err := parseAnswer(body)
			require.NoError(t, err)
			assert.Nil(t, payload.Answer, body)
		}
	})

	t.Run("preamble around object", func(t *testing.T) {
		payload, err := parseAnswer(`Sure! {"answer": "yes", "used_documents": []} Hope that helps.`)
		require.NoError(t, err)
		require.NotNil(t, payload.Answer)
		assert.Equal(t, "yes", *payload.Answer)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := parseAnswer("I cannot answer that")
		assert.Error(t, err)
	})
}

// fakeModel replays canned responses.
type fakeModel struct {
	responses []string
	err       error
	calls     int
	messages  []llms.MessageContent
}

func (m *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.messages = messages
	if m.err != nil {
		return nil, m.err
	}
	i := min(m.calls, len(m.responses)-1)
	m.calls++
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: m.responses[i]}}}, nil
}

func (m *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return "", errors.New("not implemented")
}

func newTestGenerator(model llms.Model) *Generator {
	g, err := newGenerator(ai.DefaultConfig())
	if err != nil {
		panic(err)
	}
	g.client = model
	return g
}

func TestGenerator_Generate(t *testing.T) {
	model := &fakeModel{responses: []string{`{"answer": "Fever for two days.", "used_documents": ["n1"], "confidence": "medium"}`}}
	g := newTestGenerator(model)

	got, err := g.Generate(context.Background(), ai.GenerationRequest{
		Question: "How long has the patient had fever?",
		Context:  "---DOC ID: n1 | patient: A | diagnosis: viral fever---\nFever for two days.",
	})
	require.NoError(t, err)
	require.NotNil(t, got.Answer)
	assert.Equal(t, "Fever for two days.", *got.Answer)
	assert.Equal(t, []string{"n1"}, got.UsedDocuments)

	require.Len(t, model.messages, 2)
	user := model.messages[1].Parts[0].(llms.TextContent).Text
	assert.True(t, strings.Contains(user, "DOC ID: n1"))
	assert.True(t, strings.HasSuffix(user, "How long has the patient had fever?"))
}

func TestGenerator_RetriesMalformedJSON(t *testing.T) {
	model := &fakeModel{responses: []string{"not json", `{"answer": null, "used_documents": []}`}}
	g := newTestGenerator(model)

	got, err := g.Generate(context.Background(), ai.GenerationRequest{Question: "q", Context: "c"})
	require.NoError(t, err)
	assert.Nil(t, got.Answer)
	assert.Equal(t, 2, model.calls)
}

func TestGenerator_GivesUpAfterRetries(t *testing.T) {
	model := &fakeModel{responses: []string{"still not json"}}
	g := newTestGenerator(model)

	_, err := g.Generate(context.Background(), ai.GenerationRequest{Question: "q", Context: "c"})
	assert.Error(t, err)
	assert.Equal(t, maxParseAttempts, model.calls)
}

func TestGenerator_ModelError(t *testing.T) {
	boom := errors.New("connection refused")
	g := newTestGenerator(&fakeModel{err: boom})

	_, err := g.Generate(context.Background(), ai.GenerationRequest{Question: "q", Context: "c"})
	assert.ErrorIs(t, err, boom)
}

func TestLimiter(t *testing.T) {
	assert.Nil(t, newLimiter(0))
	var unlimited *limiter
	assert.NoError(t, unlimited.wait(context.Background()))

	l := newLimiter(1)
	require.NotNil(t, l)
	assert.NoError(t, l.wait(context.Background()))

	// the single token is spent, so a cancelled context fails immediately
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, l.wait(ctx))
}

func TestNewProvider(t *testing.T) {
	provider, err := NewProvider(ai.NewConfig(ai.WithHost("http://localhost:11434")))
	require.NoError(t, err)
	defer provider.Close()

	assert.NotNil(t, provider.Embedder())
	assert.NotNil(t, provider.Generator())

	_, err = NewProvider(&ai.Config{})
	assert.Error(t, err)
}
