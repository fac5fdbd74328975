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
	"time"

	"github.com/poiesic/medrag/ai"
	"github.com/poiesic/medrag/core"
	"github.com/poiesic/medrag/index"
)

// BatchProcessor computes new vectors for batches of index entries.
type BatchProcessor struct {
	embedder       ai.Embedder
	maxRetries     int
	retryBaseDelay time.Duration
}

// NewBatchProcessor creates a new batch processor.
// maxRetries: maximum number of attempts for each embedding call
// retryBaseDelay: base delay for exponential backoff
func NewBatchProcessor(embedder ai.Embedder, maxRetries int, retryBaseDelay time.Duration) *BatchProcessor {
	return &BatchProcessor{
		embedder:       embedder,
		maxRetries:     maxRetries,
		retryBaseDelay: retryBaseDelay,
	}
}

// Process embeds the narrative of every entry and returns the normalized
// vectors in entry order. Entries are not modified.
func (bp *BatchProcessor) Process(ctx context.Context, entries []*core.IndexEntry) ([][]float32, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	texts := make([]string, len(entries))
	for i, entry := range entries {
		texts[i] = entry.Metadata.Narrative
	}

	var embeddings [][]float32
	err := index.RetryWithBackoff(ctx, func() error {
		var err error
		embeddings, err = bp.embedder.EmbedTexts(ctx, texts)
		return err
	}, bp.maxRetries, bp.retryBaseDelay)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embeddings after %d attempts: %w", bp.maxRetries, err)
	}

	if len(embeddings) != len(entries) {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrEmbeddingCount, len(entries), len(embeddings))
	}

	vectors := make([][]float32, len(entries))
	dimension := len(embeddings[0])
	for i, embedding := range embeddings {
		if len(embedding) != dimension {
			return nil, fmt.Errorf("%w: %s has %d dimensions, batch has %d",
				core.ErrDimensionMismatch, entries[i].RecordID, len(embedding), dimension)
		}
		v, ok := index.NormalizeVector(embedding)
		if !ok {
			return nil, fmt.Errorf("%s: %w", entries[i].RecordID, index.ErrZeroVector)
		}
		vectors[i] = v
	}
	return vectors, nil
}
