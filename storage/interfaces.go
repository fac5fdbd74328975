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

package storage

import (
	"context"

	"github.com/poiesic/medrag/core"
)

// Reader provides read operations over one consistent view of the index.
type Reader interface {
	// Generation returns the index generation this view was taken at.
	Generation() core.Generation

	// Get retrieves a single entry by source-document id.
	// Returns ErrNotFound if the entry doesn't exist.
	Get(ctx context.Context, recordID string) (*core.IndexEntry, error)

	// Query returns up to k entries matching filter, ordered by cosine similarity
	// to vector (highest first). Ties are broken by higher generation, then
	// ascending record id. A nil filter matches every entry.
	Query(ctx context.Context, vector []float32, k int, filter *core.Filter) ([]*core.Candidate, error)

	// GetByFilter returns every entry matching filter, ordered by record id.
	// The result is exhaustive; no similarity cutoff is applied.
	GetByFilter(ctx context.Context, filter *core.Filter) ([]*core.IndexEntry, error)

	// Count returns the number of entries in the view.
	Count(ctx context.Context) (int, error)

	// DiagnosisKeys returns every distinct canonical diagnosis key in the
	// view, in ascending order.
	DiagnosisKeys(ctx context.Context) ([]string, error)
}

// Snapshot is a read-only view that never observes writes committed after it
// was taken. Release must be called when done.
type Snapshot interface {
	Reader
	Release()
}

// VectorStore owns IndexEntries and the index generation counter.
// Implementations must be thread-safe and support concurrent access.
type VectorStore interface {
	// Upsert inserts or replaces entries by record id in one atomic commit and
	// increments the generation once. Every entry is stamped with the new
	// generation, which is returned. Readers never see a partially applied upsert.
	Upsert(ctx context.Context, entries ...*core.IndexEntry) (core.Generation, error)

	// Delete removes entries by record id in one atomic commit and increments
	// the generation once. Missing ids are ignored.
	Delete(ctx context.Context, recordIDs ...string) (core.Generation, error)

	// Snapshot opens a consistent read-only view of the index.
	Snapshot(ctx context.Context) (Snapshot, error)

	// Get, Query and GetByFilter behave as on Reader, each against a fresh
	// snapshot released before returning.
	Get(ctx context.Context, recordID string) (*core.IndexEntry, error)
	Query(ctx context.Context, vector []float32, k int, filter *core.Filter) ([]*core.Candidate, error)
	GetByFilter(ctx context.Context, filter *core.Filter) ([]*core.IndexEntry, error)

	// CurrentGeneration returns the generation of the latest committed write.
	CurrentGeneration(ctx context.Context) (core.Generation, error)

	// Dimension returns the fixed vector dimension, or 0 if not yet fixed.
	Dimension() int

	// Rewrite replaces entries read from a snapshot taken at generation since,
	// in one atomic commit that increments the generation once. An entry that
	// was re-indexed or deleted after since is left as it is, and its id is
	// returned in skipped. With reset set, every other entry is removed in the
	// same commit and the dimension is refixed from the new vectors; a reset
	// rewrite fails with ErrConflict if anything was committed after since.
	Rewrite(ctx context.Context, since core.Generation, entries []*core.IndexEntry, reset bool) (gen core.Generation, skipped []string, err error)

	// Reset removes every entry and clears the fixed dimension. The generation
	// keeps increasing so readers can observe the reset.
	Reset(ctx context.Context) (core.Generation, error)

	// Close closes the storage backend and releases resources.
	Close() error
}
