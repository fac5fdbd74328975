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

package reembed

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/poiesic/medrag/ai"
	"github.com/poiesic/medrag/core"
	"github.com/poiesic/medrag/index"
	"github.com/poiesic/medrag/storage"
)

// Config holds configuration for the reembedding operation.
type Config struct {
	// BatchSize is the number of entries embedded per call
	BatchSize int

	// ReportInterval is how often to report progress (number of entries)
	ReportInterval int

	// MaxRetries is the maximum number of attempts for each embedding call
	MaxRetries int

	// RetryDelay is the base delay for exponential backoff
	RetryDelay time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      64,
		ReportInterval: 100,
		MaxRetries:     3,
		RetryDelay:     1 * time.Second,
	}
}

// Result summarizes a reembedding run.
type Result struct {
	Reembedded int
	Dimension  int
	Generation core.Generation
	// Reset is true when the dimension changed and the index was rebuilt.
	Reset bool
	// Skipped lists records re-indexed or deleted while the run was
	// embedding. They keep their newer contents.
	Skipped []string
}

// Reembedder re-embeds every entry in a vector store.
type Reembedder struct {
	store     storage.VectorStore
	config    *Config
	progress  io.Writer
	processor *BatchProcessor
}

// NewReembedder creates a new reembedder.
// progress: where to write progress output (typically os.Stderr); nil disables it
func NewReembedder(store storage.VectorStore, embedder ai.Embedder, config *Config, progress io.Writer) (*Reembedder, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.BatchSize <= 0 {
		return nil, ErrInvalidBatchSize
	}
	if config.MaxRetries <= 0 {
		return nil, index.ErrInvalidMaxAttempts
	}
	if progress == nil {
		progress = io.Discard
	}
	return &Reembedder{
		store:     store,
		config:    config,
		progress:  progress,
		processor: NewBatchProcessor(embedder, config.MaxRetries, config.RetryDelay),
	}, nil
}

// Run re-embeds every entry. Vectors are computed for the whole index first,
// then written in one commit conditioned on the snapshot they were read from.
// If the dimension changed, the same commit also drops the old entries;
// it fails with storage.ErrConflict if the index moved on in the meantime.
func (r *Reembedder) Run(ctx context.Context) (*Result, error) {
	since, entries, err := r.snapshotEntries(ctx)
	if err != nil {
		return nil, err
	}

	total := len(entries)
	if total == 0 {
		fmt.Fprintf(r.progress, "No entries found in index (0 entries)\n")
		gen, err := r.store.CurrentGeneration(ctx)
		if err != nil {
			return nil, err
		}
		return &Result{Dimension: r.store.Dimension(), Generation: gen}, nil
	}

	fmt.Fprintf(r.progress, "Starting reembedding of %d entries (batch size: %d)\n", total, r.config.BatchSize)
	tracker := index.NewProgressTracker(r.progress, total, r.config.ReportInterval)
	tracker.Start()

	updated := make([]*core.IndexEntry, 0, total)
	dimension := 0
	for start := 0; start < total; start += r.config.BatchSize {
		batch := entries[start:min(start+r.config.BatchSize, total)]
		vectors, err := r.processor.Process(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("failed to process batch: %w", err)
		}
		if dimension == 0 {
			dimension = len(vectors[0])
		} else if len(vectors[0]) != dimension {
			return nil, fmt.Errorf("%w: batch has %d dimensions, index has %d", core.ErrDimensionMismatch, len(vectors[0]), dimension)
		}
		for i, entry := range batch {
			clone := *entry
			clone.Vector = vectors[i]
			updated = append(updated, &clone)
			tracker.Done(false)
		}
	}
	tracker.Finish()

	result := &Result{Dimension: dimension}
	if current := r.store.Dimension(); current != 0 && current != dimension {
		fmt.Fprintf(r.progress, "Dimension changes from %d to %d, rebuilding index\n", current, dimension)
		result.Reset = true
	}

	result.Generation, result.Skipped, err = r.store.Rewrite(ctx, since, updated, result.Reset)
	if err != nil {
		return nil, fmt.Errorf("failed to store entries: %w", err)
	}
	result.Reembedded = total - len(result.Skipped)
	if len(result.Skipped) > 0 {
		fmt.Fprintf(r.progress, "Kept %d entries indexed during the run\n", len(result.Skipped))
	}

	elapsed := tracker.Elapsed()
	fmt.Fprintf(r.progress, "Reembedding complete. Processed %d entries in %v (%.1f entries/sec)\n",
		total, elapsed.Round(time.Second), float64(total)/elapsed.Seconds())
	return result, nil
}

func (r *Reembedder) snapshotEntries(ctx context.Context) (core.Generation, []*core.IndexEntry, error) {
	snap, err := r.store.Snapshot(ctx)
	if err != nil {
		return 0, nil, err
	}
	defer snap.Release()

	entries, err := snap.GetByFilter(ctx, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read entries: %w", err)
	}
	return snap.Generation(), entries, nil
}
