package index

import "math"

// NormalizeVector scales v to unit length so cosine similarity reduces to a
// dot product. The second result is false for a zero vector, which cannot be
// normalized.
func NormalizeVector(v []float32) ([]float32, bool) {
	var sum float64
	for _, val := range v {
		sum += float64(val) * float64(val)
	}
	if sum == 0 {
		return make([]float32, len(v)), false
	}

	magnitude := math.Sqrt(sum)
	result := make([]float32, len(v))
	for i, val := range v {
		result[i] = float32(float64(val) / magnitude)
	}
	return result, true
}
