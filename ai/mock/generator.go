package mock

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/poiesic/medrag/ai"
	"github.com/poiesic/medrag/normalize"
)

const docHeaderPrefix = "---DOC ID:"

// MockGenerator is a test double for ai.Generator.
// By default it answers extractively: it returns the context sentence sharing
// the most content words with the question, or a nil answer when no sentence
// shares at least two (one for single-word questions).
type MockGenerator struct {
	// GenerateFunc is called by Generate if set.
	GenerateFunc func(ctx context.Context, req ai.GenerationRequest) (*ai.GeneratedAnswer, error)

	callCount atomic.Int64
	mu        sync.Mutex
	last      *ai.GenerationRequest
}

// NewMockGenerator creates a mock generator with default extractive behavior.
func NewMockGenerator() *MockGenerator {
	return &MockGenerator{}
}

// WithGenerateFunc injects custom behavior.
func (m *MockGenerator) WithGenerateFunc(fn func(ctx context.Context, req ai.GenerationRequest) (*ai.GeneratedAnswer, error)) *MockGenerator {
	m.GenerateFunc = fn
	return m
}

// WithAnswer makes every call return answer citing docs.
func (m *MockGenerator) WithAnswer(answer string, docs ...string) *MockGenerator {
	return m.WithGenerateFunc(func(ctx context.Context, req ai.GenerationRequest) (*ai.GeneratedAnswer, error) {
		return &ai.GeneratedAnswer{Answer: &answer, UsedDocuments: docs, Confidence: "high"}, nil
	})
}

// Generate answers from req.Context.
func (m *MockGenerator) Generate(ctx context.Context, req ai.GenerationRequest) (*ai.GeneratedAnswer, error) {
	m.callCount.Add(1)
	m.mu.Lock()
	m.last = &req
	m.mu.Unlock()

	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, req)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return extract(req), nil
}

// CallCount returns the number of times Generate was called.
func (m *MockGenerator) CallCount() int {
	return int(m.callCount.Load())
}

// LastRequest returns the most recent request, or nil.
func (m *MockGenerator) LastRequest() *ai.GenerationRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Reset clears the call count and injected behavior.
func (m *MockGenerator) Reset() {
	m.callCount.Store(0)
	m.GenerateFunc = nil
	m.mu.Lock()
	m.last = nil
	m.mu.Unlock()
}

func extract(req ai.GenerationRequest) *ai.GeneratedAnswer {
	question := make(map[string]bool)
	for _, w := range normalize.ContentWords(req.Question) {
		question[w] = true
	}
	need := min(2, len(question))
	if need == 0 {
		return &ai.GeneratedAnswer{}
	}

	var (
		best      string
		bestDoc   string
		bestScore int
		doc       string
	)
	for _, line := range strings.Split(req.Context, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, docHeaderPrefix) {
			doc = headerID(line)
			continue
		}
		for _, sentence := range splitSentences(line) {
			score := 0
			seen := make(map[string]bool)
			for _, w := range normalize.ContentWords(sentence) {
				if question[w] && !seen[w] {
					seen[w] = true
					score++
				}
			}
			if score > bestScore {
				best, bestDoc, bestScore = sentence, doc, score
			}
		}
	}

	if bestScore < need {
		return &ai.GeneratedAnswer{Confidence: "low"}
	}
	var used []string
	if bestDoc != "" {
		used = []string{bestDoc}
	}
	return &ai.GeneratedAnswer{Answer: &best, UsedDocuments: used, Confidence: "medium"}
}

// headerID extracts the id from "---DOC ID: <id> | patient: ... ---".
func headerID(line string) string {
	rest := strings.TrimPrefix(line, docHeaderPrefix)
	if i := strings.Index(rest, "|"); i >= 0 {
		rest = rest[:i]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(rest), "---"))
}

func splitSentences(text string) []string {
	var out []string
	start := 0
	for i := 0; i < len(text); i++ {
		if text[i] != '.' && text[i] != '!' && text[i] != '?' {
			continue
		}
		// keep decimal points ("6.5") inside the sentence
		if text[i] == '.' && i+1 < len(text) && text[i+1] != ' ' {
			continue
		}
		if s := strings.TrimSpace(text[start : i+1]); s != "" {
			out = append(out, s)
		}
		start = i + 1
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}
