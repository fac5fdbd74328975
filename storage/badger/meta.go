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
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/medrag/core"
	"github.com/poiesic/medrag/storage"
)

// readMeta retrieves a counter stored under key.
// Returns 0, false if the key does not exist.
func readMeta(tx *badger.Txn, key string) (uint64, bool, error) {
	item, err := tx.Get([]byte(key))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}

	var v uint64
	err = item.Value(func(val []byte) error {
		var unmarshalErr error
		v, unmarshalErr = storage.UnmarshalUint64(val)
		return unmarshalErr
	})
	if err != nil {
		return 0, false, fmt.Errorf("%w: %s: %w", storage.ErrCorrupted, key, err)
	}
	return v, true, nil
}

// writeMeta persists a counter under key.
func writeMeta(tx *badger.Txn, key string, v uint64) error {
	return tx.Set([]byte(key), storage.MarshalUint64(v))
}

// readGeneration returns the generation visible to tx.
func readGeneration(tx *badger.Txn) (core.Generation, error) {
	v, _, err := readMeta(tx, generationKey)
	return core.Generation(v), err
}

// readEntry reads and decodes the entry stored under key.
// Returns nil, nil if the entry does not exist.
func readEntry(tx *badger.Txn, key []byte) (*core.IndexEntry, error) {
	item, err := tx.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var entry *core.IndexEntry
	err = item.Value(func(val []byte) error {
		var unmarshalErr error
		entry, unmarshalErr = storage.UnmarshalIndexEntry(val)
		return unmarshalErr
	})
	return entry, err
}
