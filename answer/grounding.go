package answer

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/poiesic/medrag/normalize"
)

// DefaultGroundingRatio is the share of an answer's content words that must
// appear in its context. At 1.0 a single unsupported word rejects the answer.
const DefaultGroundingRatio = 1.0

// inflectionPrefix is the shared prefix length at which two words count as
// forms of the same word ("prescribed", "prescription").
const inflectionPrefix = 6

var numberPattern = regexp.MustCompile(`\d+(?:\.\d+)?`)

// Verify checks that answer is supported by context: every number in the
// answer must occur in the context, and at least minRatio of its content
// words must too. Words from the question get no exemption; an answer that
// repeats a diagnosis the user asked about still needs the records to say it.
// It returns a reason when the check fails.
func Verify(answer, context string, minRatio float64) (bool, string) {
	contextNumbers := make(map[string]bool)
	for _, n := range numberPattern.FindAllString(context, -1) {
		contextNumbers[n] = true
	}
	for _, n := range numberPattern.FindAllString(answer, -1) {
		if !contextNumbers[n] {
			return false, fmt.Sprintf("number %q does not appear in the records", n)
		}
	}

	contextWords := make(map[string]bool)
	for _, w := range normalize.ContentWords(context) {
		contextWords[w] = true
	}

	var (
		total   int
		missing []string
	)
	for _, w := range normalize.ContentWords(answer) {
		if numberPattern.MatchString(w) {
			continue
		}
		total++
		if !contextWords[w] && !hasInflection(w, contextWords) {
			missing = append(missing, w)
		}
	}
	if total == 0 || len(missing) == 0 {
		return true, ""
	}

	ratio := float64(total-len(missing)) / float64(total)
	if ratio < minRatio {
		return false, fmt.Sprintf("%q does not appear in the records (%.0f%% of the answer's words do)",
			missing[0], ratio*100)
	}
	return true, ""
}

func hasInflection(word string, words map[string]bool) bool {
	if len(word) < inflectionPrefix {
		return false
	}
	prefix := word[:inflectionPrefix]
	for w := range words {
		if strings.HasPrefix(w, prefix) {
			return true
		}
	}
	return false
}
