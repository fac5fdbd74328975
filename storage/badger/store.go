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

package badger

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/medrag/core"
	"github.com/poiesic/medrag/storage"
)

// Store implements storage.VectorStore on BadgerDB.
type Store struct {
	backend   *Backend
	writeMu   sync.Mutex // serializes commits so generations are strictly ordered
	dimension atomic.Int64
	configDim int
	corrupted atomic.Bool
	logger    *slog.Logger
}

var _ storage.VectorStore = (*Store)(nil)

// Option configures a Store.
type Option func(*storeConfig) error

type storeConfig struct {
	inMemory  bool
	dimension int
	logger    *slog.Logger
}

// WithInMemory keeps all data in memory. Intended for tests.
func WithInMemory() Option {
	return func(c *storeConfig) error {
		c.inMemory = true
		return nil
	}
}

// WithDimension fixes the vector dimension of an empty index.
// Default is 0: the first upserted vector fixes it.
func WithDimension(dimension int) Option {
	return func(c *storeConfig) error {
		if dimension < 0 {
			return fmt.Errorf("%w: negative dimension %d", storage.ErrInvalidQuery, dimension)
		}
		c.dimension = dimension
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *storeConfig) error {
		if logger == nil {
			logger = slog.Default()
		}
		c.logger = logger
		return nil
	}
}

// NewStore opens or creates a vector store at path.
func NewStore(path string, opts ...Option) (storage.VectorStore, error) {
	return openStore(path, opts...)
}

func openStore(path string, opts ...Option) (*Store, error) {
	cfg := &storeConfig{logger: slog.Default()}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	backend, err := OpenBackend(path, cfg.inMemory, cfg.logger)
	if err != nil {
		return nil, err
	}

	s := &Store{
		backend:   backend,
		configDim: cfg.dimension,
		logger:    cfg.logger.With("component", "vector-store"),
	}
	if err := s.init(); err != nil {
		backend.Close()
		return nil, err
	}
	return s, nil
}

// init checks the stored schema and loads the fixed dimension.
// A schema mismatch does not fail the open: the store reports ErrCorrupted
// on every operation until Reset.
func (s *Store) init() error {
	return s.backend.WithTx(func(tx *badger.Txn) error {
		schema, ok, err := readMeta(tx, schemaKey)
		if err != nil {
			s.markCorrupted(err)
			return nil
		}
		if ok && schema != storage.SchemaVersion {
			s.markCorrupted(fmt.Errorf("schema version %d, want %d", schema, storage.SchemaVersion))
			return nil
		}

		dim, ok, err := readMeta(tx, dimensionKey)
		if err != nil {
			s.markCorrupted(err)
			return nil
		}
		if ok {
			if s.configDim > 0 && int(dim) != s.configDim {
				s.logger.Warn("configured dimension ignored for existing index",
					"configured", s.configDim, "stored", dim)
			}
			s.dimension.Store(int64(dim))
			return nil
		}

		s.dimension.Store(int64(s.configDim))
		if err := writeMeta(tx, schemaKey, storage.SchemaVersion); err != nil {
			return err
		}
		if s.configDim > 0 {
			if err := writeMeta(tx, dimensionKey, uint64(s.configDim)); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)
}

func (s *Store) markCorrupted(err error) {
	s.logger.Error("index is corrupted, reindex required", "err", err)
	s.corrupted.Store(true)
}

func (s *Store) checkUsable() error {
	if s.backend.IsClosed() {
		return storage.ErrStorageClosed
	}
	if s.corrupted.Load() {
		return fmt.Errorf("%w: reindex required", storage.ErrCorrupted)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.backend.Close()
}

// Dimension returns the fixed vector dimension, or 0 if not yet fixed.
func (s *Store) Dimension() int {
	return int(s.dimension.Load())
}

// CurrentGeneration returns the generation of the latest committed write.
func (s *Store) CurrentGeneration(ctx context.Context) (core.Generation, error) {
	if err := s.checkUsable(); err != nil {
		return 0, err
	}
	var gen core.Generation
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		gen, err = readGeneration(tx)
		return err
	}, false)
	return gen, err
}

// Upsert inserts or replaces entries in one transaction.
// Entries are stamped in place with the new generation.
func (s *Store) Upsert(ctx context.Context, entries ...*core.IndexEntry) (core.Generation, error) {
	if err := s.checkUsable(); err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return s.CurrentGeneration(ctx)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	dim := s.Dimension()
	newDim := dim
	for _, entry := range entries {
		if entry == nil || entry.RecordID == "" {
			return 0, fmt.Errorf("%w: entry without record id", storage.ErrInvalidQuery)
		}
		if err := core.ValidateVector(entry.Vector, newDim); err != nil {
			return 0, err
		}
		newDim = len(entry.Vector)
	}

	var gen core.Generation
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		current, err := readGeneration(tx)
		if err != nil {
			return err
		}
		gen = current + 1

		for _, entry := range entries {
			if err := s.putEntry(tx, entry, gen); err != nil {
				return err
			}
		}
		if err := writeMeta(tx, generationKey, uint64(gen)); err != nil {
			return err
		}
		if dim == 0 {
			if err := writeMeta(tx, dimensionKey, uint64(newDim)); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)
	if err != nil {
		return 0, s.wrapWriteErr(err)
	}

	if dim == 0 {
		s.dimension.Store(int64(newDim))
		s.logger.Info("index dimension fixed", "dimension", newDim)
	}
	for _, entry := range entries {
		entry.Generation = gen
	}
	s.logger.Debug("upserted entries", "count", len(entries), "generation", gen)
	return gen, nil
}

// putEntry replaces the stored entry and its index keys within tx.
func (s *Store) putEntry(tx *badger.Txn, entry *core.IndexEntry, gen core.Generation) error {
	key := makeEntryKey(entry.RecordID)
	old, err := readEntry(tx, key)
	if err != nil {
		return err
	}
	if old != nil {
		if old.RecordID != entry.RecordID {
			return fmt.Errorf("%w: record ids %q and %q hash to the same key",
				storage.ErrTransactionFailed, old.RecordID, entry.RecordID)
		}
		for _, k := range indexKeys(old) {
			if err := tx.Delete(k); err != nil {
				return err
			}
		}
	}

	stored := *entry
	stored.Generation = gen
	if err := tx.Set(key, storage.MarshalIndexEntry(&stored)); err != nil {
		return err
	}
	for _, k := range indexKeys(&stored) {
		if err := tx.Set(k, nil); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes entries and their index keys in one transaction.
// The generation is incremented only when at least one entry was removed.
func (s *Store) Delete(ctx context.Context, recordIDs ...string) (core.Generation, error) {
	if err := s.checkUsable(); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var gen core.Generation
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		current, err := readGeneration(tx)
		if err != nil {
			return err
		}
		gen = current

		removed := 0
		for _, id := range recordIDs {
			key := makeEntryKey(id)
			old, err := readEntry(tx, key)
			if err != nil {
				return err
			}
			if old == nil || old.RecordID != id {
				continue
			}
			for _, k := range indexKeys(old) {
				if err := tx.Delete(k); err != nil {
					return err
				}
			}
			if err := tx.Delete(key); err != nil {
				return err
			}
			removed++
		}
		if removed == 0 {
			return nil
		}

		gen = current + 1
		if err := writeMeta(tx, generationKey, uint64(gen)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
	if err != nil {
		return 0, s.wrapWriteErr(err)
	}
	return gen, nil
}

// Rewrite implements storage.VectorStore.
func (s *Store) Rewrite(ctx context.Context, since core.Generation, entries []*core.IndexEntry, reset bool) (core.Generation, []string, error) {
	if err := s.checkUsable(); err != nil {
		return 0, nil, err
	}
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	dim := s.Dimension()
	if reset {
		dim = 0
	}
	newDim := dim
	for _, entry := range entries {
		if entry == nil || entry.RecordID == "" {
			return 0, nil, fmt.Errorf("%w: entry without record id", storage.ErrInvalidQuery)
		}
		if err := core.ValidateVector(entry.Vector, newDim); err != nil {
			return 0, nil, err
		}
		newDim = len(entry.Vector)
	}

	var (
		gen     core.Generation
		skipped []string
		kept    []*core.IndexEntry
	)
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		current, err := readGeneration(tx)
		if err != nil {
			return err
		}
		gen = current

		if reset {
			if current != since {
				return fmt.Errorf("%w: at generation %d, re-embedded from %d", storage.ErrConflict, current, since)
			}
			if err := deletePrefixes(tx, entryPrefix, diagnosisPrefix, patientPrefix); err != nil {
				return err
			}
			kept = entries
		} else {
			for _, entry := range entries {
				stored, err := readEntry(tx, makeEntryKey(entry.RecordID))
				if err != nil {
					return err
				}
				if stored == nil || stored.RecordID != entry.RecordID || stored.Generation > since {
					skipped = append(skipped, entry.RecordID)
					continue
				}
				kept = append(kept, entry)
			}
			if len(kept) == 0 {
				return nil
			}
		}

		gen = current + 1
		for _, entry := range kept {
			if err := s.putEntry(tx, entry, gen); err != nil {
				return err
			}
		}
		if err := writeMeta(tx, generationKey, uint64(gen)); err != nil {
			return err
		}
		if dim == 0 {
			if newDim > 0 {
				err = writeMeta(tx, dimensionKey, uint64(newDim))
			} else {
				err = tx.Delete([]byte(dimensionKey))
			}
			if err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)
	if err != nil {
		return 0, nil, s.wrapWriteErr(err)
	}

	if dim == 0 && len(kept) > 0 {
		s.dimension.Store(int64(newDim))
		s.logger.Info("index dimension fixed", "dimension", newDim)
	}
	for _, entry := range kept {
		entry.Generation = gen
	}
	if len(skipped) > 0 {
		s.logger.Warn("entries changed since snapshot, left unchanged", "count", len(skipped), "since", since)
	}
	s.logger.Debug("rewrote entries", "count", len(kept), "generation", gen, "reset", reset)
	return gen, skipped, nil
}

// deletePrefixes removes every key under the given prefixes within tx.
func deletePrefixes(tx *badger.Txn, prefixes ...string) error {
	var keys [][]byte
	for _, prefix := range prefixes {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)
		iter := tx.NewIterator(opts)
		for iter.Rewind(); iter.Valid(); iter.Next() {
			keys = append(keys, iter.Item().KeyCopy(nil))
		}
		iter.Close()
	}
	for _, k := range keys {
		if err := tx.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// Reset drops every entry and clears the fixed dimension, keeping the
// generation counter monotonic. It also clears a corrupted state.
func (s *Store) Reset(ctx context.Context) (core.Generation, error) {
	if s.backend.IsClosed() {
		return 0, storage.ErrStorageClosed
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	// The generation is read before dropping so it survives a corrupted schema.
	var current core.Generation
	_ = s.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		current, err = readGeneration(tx)
		return err
	}, false)

	if err := s.backend.DropAll(); err != nil {
		return 0, err
	}

	gen := current + 1
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		if err := writeMeta(tx, schemaKey, storage.SchemaVersion); err != nil {
			return err
		}
		if err := writeMeta(tx, generationKey, uint64(gen)); err != nil {
			return err
		}
		if s.configDim > 0 {
			if err := writeMeta(tx, dimensionKey, uint64(s.configDim)); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)
	if err != nil {
		return 0, err
	}

	s.dimension.Store(int64(s.configDim))
	s.corrupted.Store(false)
	s.logger.Info("index reset", "generation", gen)
	return gen, nil
}

func (s *Store) wrapWriteErr(err error) error {
	if s.backend.IsClosed() {
		return storage.ErrStorageClosed
	}
	return err
}

// Snapshot opens a read-only view pinned to the current generation.
func (s *Store) Snapshot(ctx context.Context) (storage.Snapshot, error) {
	if err := s.checkUsable(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tx, err := s.backend.NewReadTx()
	if err != nil {
		return nil, err
	}
	gen, err := readGeneration(tx)
	if err != nil {
		tx.Discard()
		return nil, err
	}
	return &snapshot{tx: tx, generation: gen, dimension: s.Dimension()}, nil
}

// Get reads one entry from a fresh snapshot.
func (s *Store) Get(ctx context.Context, recordID string) (*core.IndexEntry, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	defer snap.Release()
	return snap.Get(ctx, recordID)
}

// Query ranks entries from a fresh snapshot.
func (s *Store) Query(ctx context.Context, vector []float32, k int, filter *core.Filter) ([]*core.Candidate, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	defer snap.Release()
	return snap.Query(ctx, vector, k, filter)
}

// GetByFilter lists matching entries from a fresh snapshot.
func (s *Store) GetByFilter(ctx context.Context, filter *core.Filter) ([]*core.IndexEntry, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	defer snap.Release()
	return snap.GetByFilter(ctx, filter)
}

// sortCandidates orders by score desc, then generation desc, then record id asc.
func sortCandidates(candidates []*core.Candidate) {
	slices.SortFunc(candidates, func(a, b *core.Candidate) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		case a.Entry.Generation > b.Entry.Generation:
			return -1
		case a.Entry.Generation < b.Entry.Generation:
			return 1
		}
		return cmp.Compare(a.Entry.RecordID, b.Entry.RecordID)
	})
}
