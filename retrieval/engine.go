// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/poiesic/medrag/ai"
	"github.com/poiesic/medrag/core"
	"github.com/poiesic/medrag/normalize"
	"github.com/poiesic/medrag/staleness"
	"github.com/poiesic/medrag/storage"
)

// Retrieval defaults.
const (
	DefaultTopK           = 5
	MaxTopK               = 20
	DefaultMinRelevance   = 0.2
	DefaultFuzzyThreshold = 0.8
	defaultEmbedTimeout   = 30 * time.Second
)

// Engine retrieves index entries for questions.
type Engine struct {
	store          storage.VectorStore
	embedder       ai.Embedder
	guard          *staleness.Guard
	topK           int
	minRelevance   float32
	fuzzyThreshold float64
	embedTimeout   time.Duration
	logger         *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine) error

// WithTopK sets the default FreeFormQA result count, capped at MaxTopK.
func WithTopK(k int) Option {
	return func(e *Engine) error {
		if k > 0 {
			e.topK = min(k, MaxTopK)
		}
		return nil
	}
}

// WithMinRelevance sets the similarity floor below which FreeFormQA reports
// insufficient context.
func WithMinRelevance(score float32) Option {
	return func(e *Engine) error {
		e.minRelevance = score
		return nil
	}
}

// WithFuzzyThreshold sets the minimum normalized similarity for fuzzy
// diagnosis matching. It must be in (0, 1].
func WithFuzzyThreshold(threshold float64) Option {
	return func(e *Engine) error {
		if threshold <= 0 || threshold > 1 {
			return fmt.Errorf("fuzzy threshold must be in (0, 1], got %v", threshold)
		}
		e.fuzzyThreshold = threshold
		return nil
	}
}

// WithEmbedTimeout bounds query embedding. Default is 30s.
func WithEmbedTimeout(timeout time.Duration) Option {
	return func(e *Engine) error {
		if timeout > 0 {
			e.embedTimeout = timeout
		}
		return nil
	}
}

// WithGuard sets the staleness guard used for MinGeneration waits.
func WithGuard(guard *staleness.Guard) Option {
	return func(e *Engine) error {
		if guard != nil {
			e.guard = guard
		}
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) error {
		if logger == nil {
			logger = slog.Default()
		}
		e.logger = logger.With("component", "retrieval")
		return nil
	}
}

// New creates a retrieval engine over store.
func New(store storage.VectorStore, embedder ai.Embedder, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	e := &Engine{
		store:          store,
		embedder:       embedder,
		topK:           DefaultTopK,
		minRelevance:   DefaultMinRelevance,
		fuzzyThreshold: DefaultFuzzyThreshold,
		embedTimeout:   defaultEmbedTimeout,
		logger:         slog.Default().With("component", "retrieval"),
	}

	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}

	if e.guard == nil {
		guard, err := staleness.New(store)
		if err != nil {
			return nil, err
		}
		e.guard = guard
	}

	return e, nil
}

// Retrieve selects the entries that answer q.
func (e *Engine) Retrieve(ctx context.Context, q Query) (*Result, error) {
	return e.RetrieveWithMonitor(ctx, q, nil)
}

// RetrieveWithMonitor is Retrieve with stage callbacks.
//
// A FreeFormQA retrieval whose best score is below the relevance floor fails
// with an *InsufficientContextError wrapping core.ErrInsufficientContext.
func (e *Engine) RetrieveWithMonitor(ctx context.Context, q Query, monitor Monitor) (*Result, error) {
	if monitor == nil {
		monitor = &noopMonitor{}
	}
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" && q.Diagnosis == "" {
		return nil, core.ErrEmptyQuery
	}

	monitor.Start(q)

	class := q.Class
	if class == core.QueryClassUnknown {
		class = Classify(q.Text)
		if q.Text == "" {
			class = core.DiagnosisLookup
		}
	}
	monitor.Classified(class)
	if class == core.FreeFormQA && q.Text == "" {
		return nil, core.ErrEmptyQuery
	}

	if q.MinGeneration > 0 {
		if _, err := e.guard.WaitFor(ctx, q.MinGeneration); err != nil {
			return nil, err
		}
	}

	snap, err := e.store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	defer snap.Release()

	result := &Result{Class: class, Generation: snap.Generation()}

	switch class {
	case core.DiagnosisLookup:
		err = e.diagnosisLookup(ctx, snap, q, result, monitor)
	case core.TreatmentFrequency:
		err = e.treatmentFrequency(ctx, snap, q, result, monitor)
	case core.FreeFormQA:
		err = e.freeForm(ctx, snap, q, result, monitor)
	default:
		err = core.ErrInvalidQueryClass
	}
	if err != nil {
		return nil, err
	}

	e.logger.Debug("retrieved", "class", class, "candidates", len(result.Candidates), "generation", result.Generation)
	monitor.Finish(result)
	return result, nil
}

func (e *Engine) resolveDiagnoses(ctx context.Context, snap storage.Reader, q Query, monitor Monitor) ([]string, error) {
	if q.Diagnosis != "" {
		keys := []string{normalize.CanonicalizeDiagnosis(q.Diagnosis)}
		monitor.DiagnosisResolved(keys, false)
		return keys, nil
	}

	known, err := snap.DiagnosisKeys(ctx)
	if err != nil {
		return nil, err
	}
	keys, fuzzy := matchDiagnoses(q.Text, known, e.fuzzyThreshold)
	if fuzzy {
		e.logger.Debug("diagnosis resolved by fuzzy match", "keys", keys)
	}
	monitor.DiagnosisResolved(keys, fuzzy)
	return keys, nil
}

func (e *Engine) diagnosisLookup(ctx context.Context, snap storage.Reader, q Query, result *Result, monitor Monitor) error {
	keys, err := e.resolveDiagnoses(ctx, snap, q, monitor)
	if err != nil {
		return err
	}
	result.DiagnosisKeys = keys
	if len(keys) == 0 {
		result.Candidates = []*core.Candidate{}
		monitor.AfterCandidateSearch(result.Candidates)
		return nil
	}

	result.Candidates, err = e.byDiagnoses(ctx, snap, keys)
	if err != nil {
		return err
	}
	monitor.AfterCandidateSearch(result.Candidates)
	return nil
}

func (e *Engine) treatmentFrequency(ctx context.Context, snap storage.Reader, q Query, result *Result, monitor Monitor) error {
	keys, err := e.resolveDiagnoses(ctx, snap, q, monitor)
	if err != nil {
		return err
	}
	result.DiagnosisKeys = keys

	if len(keys) > 0 {
		result.Candidates, err = e.byDiagnoses(ctx, snap, keys)
	} else {
		var entries []*core.IndexEntry
		entries, err = snap.GetByFilter(ctx, nil)
		result.Candidates = asCandidates(entries)
	}
	if err != nil {
		return err
	}
	monitor.AfterCandidateSearch(result.Candidates)
	return nil
}

func (e *Engine) freeForm(ctx context.Context, snap storage.Reader, q Query, result *Result, monitor Monitor) error {
	vector, err := e.embedQuery(ctx, q.Text)
	if err != nil {
		return err
	}

	k := q.TopK
	if k <= 0 {
		k = e.topK
	}
	k = min(k, MaxTopK)

	candidates, err := snap.Query(ctx, vector, k, nil)
	if err != nil {
		return err
	}
	monitor.AfterCandidateSearch(candidates)

	var best float32
	if len(candidates) > 0 {
		best = candidates[0].Score
	}
	if len(candidates) == 0 || best < e.minRelevance {
		return &InsufficientContextError{
			Generation: result.Generation,
			BestScore:  best,
			Candidates: len(candidates),
		}
	}
	result.Candidates = candidates
	return nil
}

// Search runs a raw similarity search. Unlike FreeFormQA it applies no
// relevance floor. k is capped at MaxTopK.
func (e *Engine) Search(ctx context.Context, text string, k int, filter SearchFilter) (*Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, core.ErrEmptyQuery
	}
	if k <= 0 {
		k = e.topK
	}
	k = min(k, MaxTopK)

	vector, err := e.embedQuery(ctx, text)
	if err != nil {
		return nil, err
	}

	snap, err := e.store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	defer snap.Release()

	var indexFilter *core.Filter
	if filter.Diagnosis != "" {
		indexFilter = &core.Filter{DiagnosisKey: normalize.CanonicalizeDiagnosis(filter.Diagnosis)}
	}

	// substring filters run after ranking, so rank everything first
	limit := k
	if filter.Patient != "" || filter.Doctor != "" {
		count, err := snap.Count(ctx)
		if err != nil {
			return nil, err
		}
		limit = max(count, 1)
	}

	candidates, err := snap.Query(ctx, vector, limit, indexFilter)
	if err != nil {
		return nil, err
	}

	patient := strings.ToLower(strings.TrimSpace(filter.Patient))
	doctor := strings.ToLower(strings.TrimSpace(filter.Doctor))
	filtered := make([]*core.Candidate, 0, min(len(candidates), k))
	for _, c := range candidates {
		if patient != "" && !strings.Contains(strings.ToLower(c.Entry.Metadata.Patient), patient) {
			continue
		}
		if doctor != "" && !strings.Contains(strings.ToLower(c.Entry.Metadata.Doctor), doctor) {
			continue
		}
		filtered = append(filtered, c)
		if len(filtered) == k {
			break
		}
	}

	return &Result{
		Class:      core.FreeFormQA,
		Generation: snap.Generation(),
		Candidates: filtered,
	}, nil
}

func (e *Engine) embedQuery(ctx context.Context, text string) ([]float32, error) {
	embedCtx, cancel := context.WithTimeout(ctx, e.embedTimeout)
	defer cancel()

	vector, err := e.embedder.EmbedText(embedCtx, text)
	if err != nil {
		e.logger.Error("error generating embedding for query", "err", err)
		return nil, fmt.Errorf("%w: embedding query: %w", core.ErrGenerationUnavailable, err)
	}
	return vector, nil
}

// byDiagnoses returns the union of entries carrying any of keys, ordered by record id.
func (e *Engine) byDiagnoses(ctx context.Context, snap storage.Reader, keys []string) ([]*core.Candidate, error) {
	seen := make(map[string]bool)
	var entries []*core.IndexEntry
	for _, key := range keys {
		matched, err := snap.GetByFilter(ctx, &core.Filter{DiagnosisKey: key})
		if err != nil {
			return nil, err
		}
		for _, entry := range matched {
			if !seen[entry.RecordID] {
				seen[entry.RecordID] = true
				entries = append(entries, entry)
			}
		}
	}
	slices.SortFunc(entries, func(a, b *core.IndexEntry) int {
		return strings.Compare(a.RecordID, b.RecordID)
	})
	return asCandidates(entries), nil
}

func asCandidates(entries []*core.IndexEntry) []*core.Candidate {
	candidates := make([]*core.Candidate, len(entries))
	for i, entry := range entries {
		candidates[i] = &core.Candidate{Entry: entry, Score: 1}
	}
	return candidates
}
