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

package openai

import (
	"encoding/json"
	"strings"
)

// answerPayload is the wrapper structure for the LLM's JSON response.
type answerPayload struct {
	Answer        *string  `json:"answer"`
	UsedDocuments []string `json:"used_documents"`
	Confidence    string   `json:"confidence"`
}

// parseAnswer decodes a model response, tolerating code fences and the
// formatting slips small local models commonly make.
func parseAnswer(text string) (*answerPayload, error) {
	text = repairJSON(stripCodeFences(text))
	var payload answerPayload
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return nil, err
	}
	if payload.Answer != nil {
		trimmed := strings.TrimSpace(*payload.Answer)
		if trimmed == "" || strings.EqualFold(trimmed, "null") {
			payload.Answer = nil
		} else {
			payload.Answer = &trimmed
		}
	}
	return &payload, nil
}

// stripCodeFences removes surrounding markdown fences and any text outside
// the outermost JSON object.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)
	if start, end := strings.IndexByte(s, '{'), strings.LastIndexByte(s, '}'); start >= 0 && end > start {
		s = s[start : end+1]
	}
	return s
}

// repairJSON fixes two common LLM formatting issues outside string literals:
// a missing opening quote before an object key (`, type":` becomes `, "type":`)
// and trailing commas before a closing brace or bracket.
func repairJSON(s string) string {
	in := []rune(s)
	out := make([]rune, 0, len(in)+16)
	inString := false

	for i := 0; i < len(in); i++ {
		ch := in[i]

		if inString {
			out = append(out, ch)
			switch ch {
			case '\\':
				if i+1 < len(in) {
					i++
					out = append(out, in[i])
				}
			case '"':
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			inString = true
			out = append(out, ch)
		case ',':
			j := skipSpace(in, i+1)
			if j < len(in) && (in[j] == '}' || in[j] == ']') {
				continue
			}
			out = append(out, ch)
			out, i = quoteKey(in, out, i+1)
		case '{':
			out = append(out, ch)
			out, i = quoteKey(in, out, i+1)
		default:
			out = append(out, ch)
		}
	}
	return string(out)
}

// quoteKey copies whitespace starting at i and, when it is followed by a bare
// word ending in `":`, emits the missing opening quote. It returns the new
// output and the index of the last consumed rune.
func quoteKey(in, out []rune, i int) ([]rune, int) {
	j := skipSpace(in, i)
	out = append(out, in[i:j]...)

	k := j
	for k < len(in) && (isLetter(in[k]) || in[k] == '_') {
		k++
	}
	if k > j && k+1 < len(in) && in[k] == '"' && in[k+1] == ':' {
		out = append(out, '"')
		out = append(out, in[j:k]...)
		// consume the existing closing quote too
		out = append(out, '"')
		return out, k
	}
	return out, j - 1
}

func skipSpace(in []rune, i int) int {
	for i < len(in) && (in[i] == ' ' || in[i] == '\n' || in[i] == '\t' || in[i] == '\r') {
		i++
	}
	return i
}

// isLetter returns true if the rune is an ASCII letter.
func isLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}
