// Package mock provides deterministic test doubles for the ai interfaces.
//
// # Usage
//
//	mockEmbedder := mock.NewMockEmbedder().
//	    WithEmbedTextFunc(func(ctx context.Context, text string) ([]float32, error) {
//	        return []float32{0.1, 0.2, 0.3}, nil
//	    })
//
//	// Check call counts
//	count := mockEmbedder.CallCount()
//
// # Default Behavior
//
// The mock implementations provide sensible defaults:
//
//   - MockEmbedder: Feature-hashes content words into a unit vector, so related
//     texts are similar and identical texts embed identically
//   - MockGenerator: Quotes the best-matching context sentence, or declines
//   - MockProvider: Aggregates mock embedder and generator
package mock
