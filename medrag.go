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

// Package medrag answers questions over indexed clinical notes.
//
// A System wires the vector store, the model provider, the indexer, the
// retrieval engine, the answer composer and the staleness guard from one
// configuration.
package medrag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/poiesic/medrag/ai"
	"github.com/poiesic/medrag/ai/openai"
	"github.com/poiesic/medrag/answer"
	"github.com/poiesic/medrag/config"
	"github.com/poiesic/medrag/core"
	"github.com/poiesic/medrag/index"
	"github.com/poiesic/medrag/normalize"
	"github.com/poiesic/medrag/reembed"
	"github.com/poiesic/medrag/retrieval"
	"github.com/poiesic/medrag/staleness"
	"github.com/poiesic/medrag/storage"
	"github.com/poiesic/medrag/storage/badger"
	"github.com/poiesic/medrag/watcher"
)

type System struct {
	cfg      *config.Config
	store    storage.VectorStore
	provider ai.AIProvider
	indexer  *index.Indexer
	engine   *retrieval.Engine
	composer *answer.Composer
	guard    *staleness.Guard
	logger   *slog.Logger
}

// Status describes the index.
type Status struct {
	Generation core.Generation `json:"generation"`
	Count      int             `json:"count"`
	Dimension  int             `json:"dimension"`
}

// Option configures a System.
type Option func(*systemOptions)

type systemOptions struct {
	cfg      *config.Config
	store    storage.VectorStore
	provider ai.AIProvider
	progress io.Writer
	logger   *slog.Logger
}

// WithConfig sets the configuration. Default is config.Default().
func WithConfig(cfg *config.Config) Option {
	return func(o *systemOptions) {
		o.cfg = cfg
	}
}

// WithStore uses an already opened store instead of opening one from the
// configuration. The System takes ownership and closes it.
func WithStore(store storage.VectorStore) Option {
	return func(o *systemOptions) {
		o.store = store
	}
}

// WithProvider uses the given model provider instead of the OpenAI-compatible
// one. The System takes ownership and closes it.
func WithProvider(provider ai.AIProvider) Option {
	return func(o *systemOptions) {
		o.provider = provider
	}
}

// WithProgress reports batch indexing progress to w.
func WithProgress(w io.Writer) Option {
	return func(o *systemOptions) {
		o.progress = w
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *systemOptions) {
		o.logger = logger
	}
}

// Open builds a System.
func Open(opts ...Option) (*System, error) {
	options := &systemOptions{}
	for _, opt := range opts {
		opt(options)
	}
	cfg := options.cfg
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := options.logger
	if logger == nil {
		logger = slog.Default()
	}

	store := options.store
	if store == nil {
		var err error
		store, err = openStore(cfg, logger)
		if err != nil {
			return nil, err
		}
	}

	provider := options.provider
	if provider == nil {
		var err error
		provider, err = openai.NewProvider(cfg.AIConfig())
		if err != nil {
			store.Close()
			return nil, err
		}
	}

	sys := &System{
		cfg:      cfg,
		store:    store,
		provider: provider,
		logger:   logger.With("component", "medrag"),
	}
	if err := sys.wire(options, logger); err != nil {
		sys.Close()
		return nil, err
	}
	return sys, nil
}

func openStore(cfg *config.Config, logger *slog.Logger) (storage.VectorStore, error) {
	opts := []badger.Option{
		badger.WithDimension(cfg.Store.Dimension),
		badger.WithLogger(logger),
	}
	if cfg.Store.InMemory {
		return badger.NewMemoryStore(opts...)
	}
	return badger.NewStore(cfg.Store.Path, opts...)
}

func (s *System) wire(options *systemOptions, logger *slog.Logger) error {
	cfg := s.cfg

	normalizer, err := normalize.New(
		normalize.WithSynonyms(cfg.Index.Synonyms),
		normalize.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	indexOpts := []index.Option{
		index.WithNormalizer(normalizer),
		index.WithEmbedTimeout(cfg.EmbedTimeout()),
		index.WithRetry(cfg.Index.MaxAttempts, cfg.RetryDelay()),
		index.WithLogger(logger),
	}
	if cfg.Index.Workers > 0 {
		indexOpts = append(indexOpts, index.WithPoolSize(cfg.Index.Workers))
	}
	if options.progress != nil {
		indexOpts = append(indexOpts, index.WithProgress(options.progress, 0))
	}
	s.indexer, err = index.New(s.store, s.provider.Embedder(), indexOpts...)
	if err != nil {
		return err
	}

	s.guard, err = staleness.New(s.store, staleness.WithLogger(logger))
	if err != nil {
		return err
	}

	s.engine, err = retrieval.New(s.store, s.provider.Embedder(),
		retrieval.WithTopK(cfg.Retrieval.TopK),
		retrieval.WithMinRelevance(float32(cfg.Retrieval.MinRelevance)),
		retrieval.WithFuzzyThreshold(cfg.Retrieval.FuzzyThreshold),
		retrieval.WithEmbedTimeout(cfg.EmbedTimeout()),
		retrieval.WithGuard(s.guard),
		retrieval.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	s.composer, err = answer.New(s.provider.Generator(),
		answer.WithContextLimits(cfg.Answer.PerDocChars, cfg.Answer.TotalChars),
		answer.WithGroundingRatio(cfg.Answer.GroundingRatio),
		answer.WithGenerateTimeout(cfg.GenerateTimeout()),
		answer.WithLogger(logger),
	)
	return err
}

// Close releases the indexer pool, the provider and the store.
func (s *System) Close() error {
	if s.indexer != nil {
		s.indexer.Release()
	}
	if err := s.provider.Close(); err != nil {
		s.logger.Error("error closing AI provider", "err", err)
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error("error closing vector store", "err", err)
		return err
	}
	return nil
}

// Ask answers one question. Outcomes in the core.ErrNoAnswer family come back
// as NoAnswer answers; other errors are returned.
func (s *System) Ask(ctx context.Context, q retrieval.Query) (*answer.Answer, error) {
	result, err := s.engine.Retrieve(ctx, q)
	if err != nil {
		if !errors.Is(err, core.ErrNoAnswer) {
			return nil, err
		}
		gen, genErr := s.store.CurrentGeneration(ctx)
		if genErr != nil {
			return nil, genErr
		}
		class := q.Class
		if class == core.QueryClassUnknown {
			class = retrieval.Classify(q.Text)
		}
		return answer.NoAnswer(err, class, gen)
	}
	return s.composer.Compose(ctx, q.Text, result)
}

// Search ranks records by similarity without composing an answer.
func (s *System) Search(ctx context.Context, text string, k int, filter retrieval.SearchFilter) (*retrieval.Result, error) {
	return s.engine.Search(ctx, text, k, filter)
}

// IndexDocument normalizes and indexes one note.
func (s *System) IndexDocument(ctx context.Context, raw *normalize.RawDocument) (core.Generation, error) {
	return s.indexer.IndexDocument(ctx, raw)
}

// Index indexes a batch of notes. Each note succeeds or fails on its own.
func (s *System) Index(ctx context.Context, raws []*normalize.RawDocument) *index.BatchReport {
	return s.indexer.IndexBatch(ctx, raws)
}

// IndexFolder loads and indexes every note in dir. Files that cannot be
// loaded are returned as failures alongside the report.
func (s *System) IndexFolder(ctx context.Context, dir string) (*index.BatchReport, []error, error) {
	docs, failures, err := normalize.LoadFolder(dir)
	if err != nil {
		return nil, nil, err
	}
	for _, f := range failures {
		s.logger.Warn("skipping unreadable note", "err", f)
	}
	return s.indexer.IndexBatch(ctx, docs), failures, nil
}

// Reindex clears the index and rebuilds it from dir. This is the recovery
// path after a dimension mismatch halted indexing.
func (s *System) Reindex(ctx context.Context, dir string) (*index.BatchReport, []error, error) {
	docs, failures, err := normalize.LoadFolder(dir)
	if err != nil {
		return nil, nil, err
	}
	report, err := s.indexer.Reindex(ctx, docs)
	if err != nil {
		return nil, failures, err
	}
	return report, failures, nil
}

// Reembed recomputes every vector from the stored narratives with the current
// embedder, then clears any indexer halt. Use it after switching embedding
// models when the source notes are not at hand.
func (s *System) Reembed(ctx context.Context, progress io.Writer) (*reembed.Result, error) {
	cfg := reembed.DefaultConfig()
	cfg.MaxRetries = s.cfg.Index.MaxAttempts
	cfg.RetryDelay = s.cfg.RetryDelay()

	r, err := reembed.NewReembedder(s.store, s.provider.Embedder(), cfg, progress)
	if err != nil {
		return nil, err
	}
	result, err := r.Run(ctx)
	if err != nil {
		return nil, err
	}
	s.indexer.Resume()
	return result, nil
}

// Delete removes records by id.
func (s *System) Delete(ctx context.Context, recordIDs ...string) (core.Generation, error) {
	return s.indexer.Delete(ctx, recordIDs...)
}

// Status reports the index generation, size and vector dimension.
func (s *System) Status(ctx context.Context) (*Status, error) {
	snap, err := s.store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	defer snap.Release()

	count, err := snap.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting entries: %w", err)
	}
	return &Status{
		Generation: snap.Generation(),
		Count:      count,
		Dimension:  s.store.Dimension(),
	}, nil
}

// Watcher creates a folder watcher feeding this system's indexer. An empty
// dir uses the configured watch folder.
func (s *System) Watcher(dir string, opts ...watcher.Option) (*watcher.Watcher, error) {
	if dir == "" {
		dir = s.cfg.Watch.Folder
	}
	opts = append([]watcher.Option{watcher.WithDebounce(s.cfg.Debounce())}, opts...)
	return watcher.New(dir, s.indexer, opts...)
}

func (s *System) Config() *config.Config {
	return s.cfg
}

func (s *System) Guard() *staleness.Guard {
	return s.guard
}

func (s *System) Engine() *retrieval.Engine {
	return s.engine
}

func (s *System) Indexer() *index.Indexer {
	return s.indexer
}
