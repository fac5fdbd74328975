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


package core

import (
	"errors"
	"fmt"
)

// Domain errors
var (
	// ErrNormalization indicates a raw document could not be turned into a ClinicalRecord.
	// The record is skipped and reported; sibling records are unaffected.
	ErrNormalization = errors.New("normalization failed")

	// ErrEmptyNarrative indicates a record has no cleaned narrative text.
	ErrEmptyNarrative = errors.New("narrative text cannot be empty")

	// ErrEmptyRecordID indicates a record has no source-document id.
	ErrEmptyRecordID = errors.New("record id cannot be empty")

	// ErrIndex indicates an embedding or store failure while indexing a record.
	// It is retryable; the record remains unindexed.
	ErrIndex = errors.New("index failed")

	// ErrDimensionMismatch indicates a vector whose length differs from the
	// dimension fixed at index creation. It is fatal until a full reindex.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrIndexerHalted is returned by an indexer that stopped after a fatal error.
	ErrIndexerHalted = errors.New("indexer halted")

	// ErrGenerationUnavailable indicates the answer generator could not be reached.
	ErrGenerationUnavailable = errors.New("answer generation unavailable")

	// ErrNoAnswer is a valid empty result, distinct from a failure.
	ErrNoAnswer = errors.New("no answer")

	// ErrInsufficientContext indicates no retrieved record was relevant enough to answer.
	ErrInsufficientContext = fmt.Errorf("%w: cannot answer from available records", ErrNoAnswer)

	// ErrUngrounded indicates a generated answer asserted facts missing from its context.
	ErrUngrounded = fmt.Errorf("%w: generated answer is not supported by retrieved records", ErrNoAnswer)

	// ErrInvalidQueryClass indicates an unknown query class name.
	ErrInvalidQueryClass = errors.New("invalid query class")

	// ErrEmptyQuery indicates a query with no text.
	ErrEmptyQuery = errors.New("query cannot be empty")
)

// DimensionError carries the expected and actual vector sizes.
type DimensionError struct {
	Expected int
	Actual   int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("%v: expected %d, got %d", ErrDimensionMismatch, e.Expected, e.Actual)
}

func (e *DimensionError) Unwrap() error {
	return ErrDimensionMismatch
}
