package retrieval

import (
	"slices"
	"strings"

	"github.com/poiesic/medrag/normalize"
	"github.com/xrash/smetrics"
)

// matchDiagnoses finds the known diagnosis keys named in text.
//
// Keys whose tokens appear contiguously in the text match exactly; a key
// contained in a longer matching key is dropped. When nothing matches
// exactly, each key is compared with every same-length token window of the
// text and the best-scoring keys at or above threshold are returned.
// The second result reports whether the fuzzy pass was used.
func matchDiagnoses(text string, known []string, threshold float64) ([]string, bool) {
	tokens := normalize.Tokenize(text)
	if len(tokens) == 0 || len(known) == 0 {
		return nil, false
	}

	keyTokens := make(map[string][]string, len(known))
	var exact []string
	for _, key := range known {
		kt := normalize.Tokenize(key)
		if len(kt) == 0 {
			continue
		}
		keyTokens[key] = kt
		if containsSequence(tokens, kt) {
			exact = append(exact, key)
		}
	}

	if len(exact) > 0 {
		var maximal []string
		for _, key := range exact {
			dominated := false
			for _, other := range exact {
				if len(keyTokens[other]) > len(keyTokens[key]) && containsSequence(keyTokens[other], keyTokens[key]) {
					dominated = true
					break
				}
			}
			if !dominated {
				maximal = append(maximal, key)
			}
		}
		slices.Sort(maximal)
		return maximal, false
	}

	var (
		best    float64
		matches []string
	)
	for key, kt := range keyTokens {
		n := len(kt)
		if n > len(tokens) {
			continue
		}
		target := strings.Join(kt, " ")
		score := 0.0
		for i := 0; i+n <= len(tokens); i++ {
			score = max(score, similarity(strings.Join(tokens[i:i+n], " "), target))
		}
		switch {
		case score < threshold || score < best:
		case score > best:
			best = score
			matches = []string{key}
		default:
			matches = append(matches, key)
		}
	}
	slices.Sort(matches)
	return matches, len(matches) > 0
}

// similarity is the normalized Levenshtein similarity of a and b in [0, 1].
func similarity(a, b string) float64 {
	longest := max(len(a), len(b))
	if longest == 0 {
		return 1
	}
	distance := smetrics.WagnerFischer(a, b, 1, 1, 1)
	return 1 - float64(distance)/float64(longest)
}

func containsSequence(haystack, needle []string) bool {
	if len(needle) == 0 || len(needle) > len(haystack) {
		return false
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if slices.Equal(haystack[i:i+len(needle)], needle) {
			return true
		}
	}
	return false
}
