package normalize

import (
	"strings"
	"unicode"
)

// Stop words to filter out when comparing content words
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "be": true, "is": true, "are": true,
	"was": true, "were": true, "to": true, "of": true, "and": true, "in": true,
	"that": true, "have": true, "has": true, "had": true, "it": true, "for": true,
	"not": true, "on": true, "with": true, "as": true, "you": true, "do": true,
	"at": true, "this": true, "but": true, "by": true, "from": true, "or": true,
	"what": true, "which": true, "who": true, "whom": true, "when": true,
	"how": true, "did": true, "does": true, "any": true, "all": true,
	"their": true, "his": true, "her": true, "they": true, "he": true, "she": true,
}

// Tokenize splits text into lower-cased words with surrounding punctuation
// trimmed. Decimal points and glued units survive ("6.5", "650mg").
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return unicode.IsSpace(r) || strings.ContainsRune(",;:!?\"()[]{}|/", r)
	})
	words := make([]string, 0, len(fields))
	for _, f := range fields {
		if cleaned := strings.ToLower(strings.Trim(f, ".'-*_")); cleaned != "" {
			words = append(words, cleaned)
		}
	}
	return words
}

// ContentWords tokenizes text and removes stop words.
func ContentWords(text string) []string {
	words := Tokenize(text)
	filtered := words[:0]
	for _, w := range words {
		if !stopWords[w] {
			filtered = append(filtered, w)
		}
	}
	return filtered
}

// IsStopWord reports whether w carries no content on its own.
func IsStopWord(w string) bool {
	return stopWords[w]
}
