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
	"math"
	"slices"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/medrag/core"
	"github.com/poiesic/medrag/storage"
)

// snapshot is a read-only BadgerDB transaction. Badger transactions are not
// safe for concurrent use, so every read holds mu.
type snapshot struct {
	mu         sync.Mutex
	tx         *badger.Txn
	generation core.Generation
	dimension  int
	released   bool
}

var _ storage.Snapshot = (*snapshot)(nil)

func (s *snapshot) Generation() core.Generation {
	return s.generation
}

// Release discards the underlying transaction. It is safe to call more than once.
func (s *snapshot) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.released {
		s.released = true
		s.tx.Discard()
	}
}

func (s *snapshot) read(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return fmt.Errorf("%w: snapshot released", storage.ErrStorageClosed)
	}
	return fn()
}

func (s *snapshot) Get(ctx context.Context, recordID string) (*core.IndexEntry, error) {
	var entry *core.IndexEntry
	err := s.read(func() error {
		var err error
		entry, err = readEntry(s.tx, makeEntryKey(recordID))
		if err != nil {
			return err
		}
		if entry == nil || entry.RecordID != recordID {
			return storage.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *snapshot) Query(ctx context.Context, vector []float32, k int, filter *core.Filter) ([]*core.Candidate, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", storage.ErrInvalidQuery, k)
	}
	if err := core.ValidateVector(vector, s.dimension); err != nil {
		return nil, err
	}

	var candidates []*core.Candidate
	err := s.read(func() error {
		entries, err := s.collect(ctx, filter)
		if err != nil {
			return err
		}
		candidates = make([]*core.Candidate, 0, len(entries))
		for _, entry := range entries {
			candidates = append(candidates, &core.Candidate{
				Entry: entry,
				Score: cosineSimilarity(vector, entry.Vector),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sortCandidates(candidates)
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates, nil
}

func (s *snapshot) GetByFilter(ctx context.Context, filter *core.Filter) ([]*core.IndexEntry, error) {
	var entries []*core.IndexEntry
	err := s.read(func() error {
		var err error
		entries, err = s.collect(ctx, filter)
		return err
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(entries, func(a, b *core.IndexEntry) int {
		return cmp.Compare(a.RecordID, b.RecordID)
	})
	return entries, nil
}

func (s *snapshot) Count(ctx context.Context) (int, error) {
	count := 0
	err := s.read(func() error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(entryPrefix)
		opts.PrefetchValues = false
		iter := s.tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			count++
		}
		return ctx.Err()
	})
	return count, err
}

func (s *snapshot) DiagnosisKeys(ctx context.Context) ([]string, error) {
	var keys []string
	err := s.read(func() error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(diagnosisPrefix)
		opts.PrefetchValues = false
		iter := s.tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			key := iter.Item().Key()
			// prefix + value + 0x00 + 8-byte id
			if len(key) < len(diagnosisPrefix)+9 {
				continue
			}
			value := string(key[len(diagnosisPrefix) : len(key)-9])
			if n := len(keys); n == 0 || keys[n-1] != value {
				keys = append(keys, value)
			}
		}
		return ctx.Err()
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// collect returns the entries matching filter. Must be called with mu held.
func (s *snapshot) collect(ctx context.Context, filter *core.Filter) ([]*core.IndexEntry, error) {
	if filter.IsEmpty() {
		return s.scanEntries(ctx)
	}

	var ids map[core.ID]bool
	if filter.DiagnosisKey != "" {
		ids = s.scanIndex(makePartialIndexKey(diagnosisPrefix, filter.DiagnosisKey), nil)
	}
	if filter.PatientKey != "" {
		ids = s.scanIndex(makePartialIndexKey(patientPrefix, filter.PatientKey), ids)
	}

	entries := make([]*core.IndexEntry, 0, len(ids))
	for id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entry, err := readEntry(s.tx, makeEntryKeyFromID(id))
		if err != nil {
			return nil, err
		}
		// index keys are hashed, so confirm against the decoded metadata
		if entry == nil || !filter.Matches(entry) {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// scanIndex collects ids under prefix. When within is non-nil the result is
// intersected with it.
func (s *snapshot) scanIndex(prefix []byte, within map[core.ID]bool) map[core.ID]bool {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false
	iter := s.tx.NewIterator(opts)
	defer iter.Close()

	ids := make(map[core.ID]bool)
	for iter.Rewind(); iter.Valid(); iter.Next() {
		key := iter.Item().Key()
		if len(key) != len(prefix)+8 {
			continue
		}
		id := idFromIndexKey(key)
		if within == nil || within[id] {
			ids[id] = true
		}
	}
	return ids
}

func (s *snapshot) scanEntries(ctx context.Context) ([]*core.IndexEntry, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(entryPrefix)
	iter := s.tx.NewIterator(opts)
	defer iter.Close()

	var entries []*core.IndexEntry
	for iter.Rewind(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var entry *core.IndexEntry
		err := iter.Item().Value(func(val []byte) error {
			var err error
			entry, err = storage.UnmarshalIndexEntry(val)
			return err
		})
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// cosineSimilarity returns the cosine of the angle between a and b,
// or 0 when either vector has zero norm.
func cosineSimilarity(a, b []float32) float32 {
	var dot, normA, normB float64
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
