package reembed

import "errors"

var (
	// ErrInvalidBatchSize is returned when BatchSize is <= 0
	ErrInvalidBatchSize = errors.New("batch size must be greater than 0")

	// ErrEmbeddingCount is returned when the embedder returns a different
	// number of vectors than texts
	ErrEmbeddingCount = errors.New("embedding count mismatch")
)
