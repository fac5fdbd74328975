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


package normalize

import (
	"maps"
	"regexp"
	"strings"
	"unicode"

	"github.com/poiesic/medrag/core"
)

var (
	ivPattern     = regexp.MustCompile(`\bi\.\s?v\b\.?`)
	dosagePattern = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(mcg|mg|ml|iu|units|unit|gm|g|%)`)

	unitAliases = map[string]string{
		"gm":   "g",
		"unit": "units",
	}

	// Dosage-form prefixes dropped from treatment names ("Tab. Paracetamol").
	formWords = map[string]bool{
		"tab": true, "tabs": true, "tablet": true, "tablets": true,
		"cap": true, "caps": true, "capsule": true, "capsules": true,
		"syp": true, "syr": true, "syrup": true,
	}

	frequencyWords = map[string]bool{
		"once": true, "twice": true, "thrice": true, "daily": true, "weekly": true,
		"od": true, "bd": true, "bid": true, "tds": true, "tid": true,
		"qid": true, "qds": true, "sos": true, "prn": true, "hs": true, "stat": true,
		"x": true, "for": true, "after": true, "before": true, "every": true,
	}
)

// DefaultSynonyms returns the synonym table used when none is configured.
func DefaultSynonyms() map[string]string {
	return map[string]string{
		"acetaminophen":             "paracetamol",
		"pcm":                       "paracetamol",
		"amoxycillin":               "amoxicillin",
		"oral rehydration salts":    "ors",
		"oral rehydration solution": "ors",
	}
}

// Canonicalizer turns free-text mentions into stable comparison keys.
// It has no mutable state after construction and is safe for concurrent use.
type Canonicalizer struct {
	synonyms map[string]string
}

// NewCanonicalizer creates a canonicalizer with the given synonym table.
// Keys and values are themselves canonicalized so configuration may use any casing.
// A nil table uses DefaultSynonyms.
func NewCanonicalizer(synonyms map[string]string) *Canonicalizer {
	if synonyms == nil {
		synonyms = DefaultSynonyms()
	}
	table := make(map[string]string, len(synonyms))
	for from, to := range synonyms {
		from = cleanName(from)
		to = cleanName(to)
		if from != "" && to != "" {
			table[from] = to
		}
	}
	return &Canonicalizer{synonyms: table}
}

// Synonyms returns a copy of the effective synonym table.
func (c *Canonicalizer) Synonyms() map[string]string {
	return maps.Clone(c.synonyms)
}

// CanonicalizeDiagnosis trims, case-folds and collapses whitespace.
func CanonicalizeDiagnosis(s string) string {
	s = strings.ToLower(strings.Trim(strings.TrimSpace(s), ".,;:"))
	return collapse(s)
}

// CanonicalizePatient returns the filter key for a patient name.
func CanonicalizePatient(name string) string {
	return strings.ToLower(collapse(name))
}

// SplitDiagnoses splits multi-diagnosis strings on ';', ',' and newlines.
func SplitDiagnoses(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.FieldsFunc(v, isDiagnosisSeparator) {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func isDiagnosisSeparator(r rune) bool {
	return r == ';' || r == ',' || r == '\n'
}

// CanonicalizeTreatment converts a prescription mention into a CanonicalTreatment.
// The result depends only on the mention and the synonym table.
func (c *Canonicalizer) CanonicalizeTreatment(mention string) core.CanonicalTreatment {
	text := strings.ToLower(strings.TrimSpace(mention))
	text = ivPattern.ReplaceAllString(text, "iv")

	var name, dosage, rest string
	if loc := findDosage(text); loc != nil {
		number := text[loc[2]:loc[3]]
		unit := text[loc[4]:loc[5]]
		if alias, ok := unitAliases[unit]; ok {
			unit = alias
		}
		dosage = number + unit
		name = text[:loc[0]]
		rest = text[loc[1]:]
		if cleanName(name) == "" {
			// dosage written first: "650mg paracetamol tds"
			name, rest = splitFrequency(rest)
		}
	} else {
		name, rest = splitFrequency(text)
	}

	name = c.applySynonyms(stripForms(cleanName(name)))
	return core.CanonicalTreatment{
		Name:      name,
		Dosage:    dosage,
		Frequency: cleanName(rest),
	}
}

// CanonicalizeTreatment canonicalizes a mention using DefaultSynonyms.
func CanonicalizeTreatment(mention string) core.CanonicalTreatment {
	return defaultCanonicalizer.CanonicalizeTreatment(mention)
}

var defaultCanonicalizer = NewCanonicalizer(nil)

func (c *Canonicalizer) applySynonyms(name string) string {
	if to, ok := c.synonyms[name]; ok {
		return to
	}
	return name
}

// findDosage returns the submatch indices of the first dosage that is not
// glued to a following letter ("5 mgs" still matches, "2 gloves" does not).
func findDosage(text string) []int {
	for _, loc := range dosagePattern.FindAllStringSubmatchIndex(text, -1) {
		end := loc[1]
		if end < len(text) {
			next := rune(text[end])
			if unicode.IsLetter(next) && !(text[loc[4]:loc[5]] == "mg" && next == 's') {
				continue
			}
			if next == 's' {
				loc = append([]int(nil), loc...)
				loc[1]++
			}
		}
		// the number must start a token
		if loc[2] > 0 && unicode.IsLetter(rune(text[loc[2]-1])) {
			continue
		}
		return loc
	}
	return nil
}

// splitFrequency cuts a dosage-less mention at its first frequency word.
func splitFrequency(text string) (name, rest string) {
	words := strings.Fields(cleanName(text))
	for i, w := range words {
		if frequencyWords[w] && i > 0 {
			return strings.Join(words[:i], " "), strings.Join(words[i:], " ")
		}
	}
	return strings.Join(words, " "), ""
}

func stripForms(name string) string {
	words := strings.Fields(name)
	for len(words) > 1 && formWords[words[0]] {
		words = words[1:]
	}
	return strings.Join(words, " ")
}

// cleanName replaces punctuation with spaces and collapses whitespace.
func cleanName(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, s)
	return collapse(s)
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
