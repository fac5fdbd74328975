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

// Package storage provides the storage abstraction layer for medrag.
//
// This package defines the vector store interface that decouples the index
// implementation from indexing and retrieval. The BadgerDB backend lives in
// storage/badger.
//
// # Constructor Return Type Pattern
//
// Public constructors return the interface to keep callers decoupled from
// BadgerDB specifics:
//
//	store, err := badger.NewStore(path)  // returns storage.VectorStore
//
// # Consistency
//
// Every write is a single transaction that updates the entry, its secondary
// index keys and the generation counter together. Reads go through a Snapshot,
// a read-only view pinned to one generation:
//
//	snap, err := store.Snapshot(ctx)
//	if err != nil {
//	    return err
//	}
//	defer snap.Release()
//	hits, err := snap.Query(ctx, vector, 5, nil)
//
// # Thread Safety
//
// All store implementations must be thread-safe and support
// concurrent access from multiple goroutines.
package storage
