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

package index

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/medrag/ai"
	"github.com/poiesic/medrag/core"
	"github.com/poiesic/medrag/normalize"
	"github.com/poiesic/medrag/storage"
)

const (
	defaultEmbedTimeout   = 30 * time.Second
	defaultMaxAttempts    = 3
	defaultRetryDelay     = 500 * time.Millisecond
	defaultReportInterval = 10
)

// Indexer embeds clinical records and writes them to a vector store.
type Indexer struct {
	store          storage.VectorStore
	embedder       ai.Embedder
	normalizer     *normalize.Normalizer
	pool           *ants.Pool
	locks          *keyedMutex
	embedTimeout   time.Duration
	maxAttempts    int
	retryDelay     time.Duration
	progress       io.Writer
	reportInterval int
	logger         *slog.Logger

	haltMu  sync.RWMutex
	haltErr error
}

// Option configures an Indexer.
type Option func(*Indexer) error

// WithPoolSize sets the worker pool size for concurrent indexing.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(ix *Indexer) error {
		if size < 1 {
			size = 1
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		if ix.pool != nil {
			ix.pool.Release()
		}
		ix.pool = pool
		return nil
	}
}

// WithEmbedTimeout bounds each embedding attempt. Default is 30s.
func WithEmbedTimeout(timeout time.Duration) Option {
	return func(ix *Indexer) error {
		if timeout > 0 {
			ix.embedTimeout = timeout
		}
		return nil
	}
}

// WithRetry sets the embedding retry policy. Default is 3 attempts with a
// 500ms base delay.
func WithRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(ix *Indexer) error {
		if maxAttempts <= 0 {
			return ErrInvalidMaxAttempts
		}
		ix.maxAttempts = maxAttempts
		ix.retryDelay = baseDelay
		return nil
	}
}

// WithNormalizer sets the normalizer used by IndexBatch.
func WithNormalizer(n *normalize.Normalizer) Option {
	return func(ix *Indexer) error {
		if n != nil {
			ix.normalizer = n
		}
		return nil
	}
}

// WithProgress reports batch progress to w every interval notes.
func WithProgress(w io.Writer, interval int) Option {
	return func(ix *Indexer) error {
		ix.progress = w
		if interval > 0 {
			ix.reportInterval = interval
		}
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(ix *Indexer) error {
		if logger == nil {
			logger = slog.Default()
		}
		ix.logger = logger.With("component", "indexer")
		return nil
	}
}

// New creates an indexer writing to store.
func New(store storage.VectorStore, embedder ai.Embedder, opts ...Option) (*Indexer, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	poolSize := max(runtime.NumCPU()/2, 1)
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}

	ix := &Indexer{
		store:          store,
		embedder:       embedder,
		pool:           pool,
		locks:          newKeyedMutex(),
		embedTimeout:   defaultEmbedTimeout,
		maxAttempts:    defaultMaxAttempts,
		retryDelay:     defaultRetryDelay,
		reportInterval: defaultReportInterval,
		logger:         slog.Default().With("component", "indexer"),
	}

	for _, opt := range opts {
		if optErr := opt(ix); optErr != nil {
			ix.Release()
			return nil, optErr
		}
	}

	if ix.normalizer == nil {
		n, err := normalize.New(normalize.WithLogger(ix.logger))
		if err != nil {
			ix.Release()
			return nil, err
		}
		ix.normalizer = n
	}

	return ix, nil
}

// Normalizer returns the normalizer used for raw documents.
func (ix *Indexer) Normalizer() *normalize.Normalizer {
	return ix.normalizer
}

// Halted returns the error that halted the indexer, or nil.
func (ix *Indexer) Halted() error {
	ix.haltMu.RLock()
	defer ix.haltMu.RUnlock()
	return ix.haltErr
}

// Resume clears a halt. Call it after the index was rebuilt for the
// current embedder by other means, such as reembed.
func (ix *Indexer) Resume() {
	ix.haltMu.Lock()
	defer ix.haltMu.Unlock()
	ix.haltErr = nil
}

func (ix *Indexer) halt(err error) {
	ix.haltMu.Lock()
	defer ix.haltMu.Unlock()
	if ix.haltErr == nil {
		ix.haltErr = err
		ix.logger.Error("indexer halted, reindex required", "err", err)
	}
}

func (ix *Indexer) checkHalted() error {
	if err := ix.Halted(); err != nil {
		return fmt.Errorf("%w: %w", core.ErrIndexerHalted, err)
	}
	return nil
}

// Index embeds record and upserts it, replacing any entry with the same id.
// It returns the generation at which the entry became visible.
func (ix *Indexer) Index(ctx context.Context, record *core.ClinicalRecord) (core.Generation, error) {
	if err := core.ValidateRecord(record); err != nil {
		return 0, err
	}
	if err := ix.checkHalted(); err != nil {
		return 0, err
	}

	unlock := ix.locks.Lock(record.ID)
	defer unlock()

	vector, err := ix.embed(ctx, record.Narrative)
	if err != nil {
		return 0, fmt.Errorf("%w: embedding %s: %w", core.ErrIndex, record.ID, err)
	}

	// recheck after the slow step; another worker may have halted us
	if err := ix.checkHalted(); err != nil {
		return 0, err
	}

	gen, err := ix.store.Upsert(ctx, newEntry(record, vector))
	if err != nil {
		if errors.Is(err, core.ErrDimensionMismatch) {
			ix.halt(err)
		}
		return 0, fmt.Errorf("%w: storing %s: %w", core.ErrIndex, record.ID, err)
	}

	ix.logger.Debug("indexed record", "id", record.ID, "generation", gen)
	return gen, nil
}

// IndexDocument normalizes raw and indexes the resulting record.
func (ix *Indexer) IndexDocument(ctx context.Context, raw *normalize.RawDocument) (core.Generation, error) {
	record, err := ix.normalizer.Normalize(raw)
	if err != nil {
		return 0, err
	}
	return ix.Index(ctx, record)
}

// IndexBatch indexes every document concurrently and reports one outcome per
// input. A failing document does not affect the others. Documents sharing an
// id are indexed in input order, so the last one wins.
func (ix *Indexer) IndexBatch(ctx context.Context, raws []*normalize.RawDocument) *BatchReport {
	report := &BatchReport{Outcomes: make([]Outcome, len(raws))}
	if len(raws) == 0 {
		return report
	}

	var tracker *ProgressTracker
	if ix.progress != nil {
		tracker = NewProgressTracker(ix.progress, len(raws), ix.reportInterval)
		tracker.Start()
		defer tracker.Finish()
	}

	// group positions by id so same-id documents run sequentially
	var order []string
	groups := make(map[string][]int)
	for i, raw := range raws {
		id := ""
		if raw != nil {
			id = raw.ID
		}
		report.Outcomes[i].SourceID = id
		if _, ok := groups[id]; !ok {
			order = append(order, id)
		}
		groups[id] = append(groups[id], i)
	}

	var wg sync.WaitGroup
	for _, id := range order {
		positions := groups[id]
		task := func() {
			defer wg.Done()
			for _, i := range positions {
				gen, err := ix.IndexDocument(ctx, raws[i])
				report.Outcomes[i].Generation = gen
				report.Outcomes[i].Err = err
				if err != nil {
					ix.logger.Warn("failed to index document", "id", report.Outcomes[i].SourceID, "err", err)
				}
				if tracker != nil {
					tracker.Done(err != nil)
				}
			}
		}

		wg.Add(1)
		if err := ix.pool.Submit(task); err != nil {
			wg.Done()
			for _, i := range positions {
				report.Outcomes[i].Err = fmt.Errorf("%w: %w", core.ErrIndex, err)
				if tracker != nil {
					tracker.Done(true)
				}
			}
		}
	}
	wg.Wait()

	report.tally()
	ix.logger.Info("indexed batch", "indexed", report.Indexed, "failed", report.Failed, "generation", report.Generation)
	return report
}

// Delete removes records from the index and returns the resulting generation.
func (ix *Indexer) Delete(ctx context.Context, recordIDs ...string) (core.Generation, error) {
	// lock in sorted order so concurrent deletes cannot deadlock
	ids := slices.Clone(recordIDs)
	slices.Sort(ids)
	for _, id := range slices.Compact(ids) {
		unlock := ix.locks.Lock(id)
		defer unlock()
	}
	return ix.store.Delete(ctx, recordIDs...)
}

// Reindex drops every entry, clears the halt, and indexes raws from scratch.
// It is the recovery path for corruption and dimension changes.
func (ix *Indexer) Reindex(ctx context.Context, raws []*normalize.RawDocument) (*BatchReport, error) {
	if _, err := ix.store.Reset(ctx); err != nil {
		return nil, fmt.Errorf("%w: resetting store: %w", core.ErrIndex, err)
	}

	ix.Resume()
	ix.logger.Info("store reset, reindexing", "documents", len(raws))
	return ix.IndexBatch(ctx, raws), nil
}

// Release releases the worker pool.
// The indexer should not be used after calling Release.
func (ix *Indexer) Release() {
	if ix.pool != nil {
		ix.pool.Release()
	}
}

func (ix *Indexer) embed(ctx context.Context, text string) ([]float32, error) {
	var vector []float32
	err := RetryWithBackoff(ctx, func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, ix.embedTimeout)
		defer cancel()

		v, err := ix.embedder.EmbedText(attemptCtx, text)
		if err != nil {
			return err
		}
		if len(v) == 0 {
			return errors.New("embedder returned an empty vector")
		}
		vector = v
		return nil
	}, ix.maxAttempts, ix.retryDelay)
	if err != nil {
		return nil, err
	}

	normalized, ok := NormalizeVector(vector)
	if !ok {
		return nil, ErrZeroVector
	}
	return normalized, nil
}

func newEntry(record *core.ClinicalRecord, vector []float32) *core.IndexEntry {
	diagnoses := make([]string, 0, len(record.Diagnoses))
	for _, d := range record.Diagnoses {
		diagnoses = append(diagnoses, d.Display)
	}
	return &core.IndexEntry{
		RecordID: record.ID,
		Vector:   vector,
		Metadata: core.Metadata{
			Diagnoses:     diagnoses,
			DiagnosisKeys: record.DiagnosisKeys(),
			Patient:       record.Patient,
			PatientKey:    normalize.CanonicalizePatient(record.Patient),
			Doctor:        record.Doctor,
			Treatments:    record.TreatmentKeys(),
			Narrative:     record.Narrative,
			FollowUp:      record.FollowUp,
		},
	}
}
