package answer

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/poiesic/medrag/core"
)

// Context window limits, in characters.
const (
	DefaultPerDocChars = 1200
	DefaultTotalChars  = 3500
)

// Window is the generator context assembled from ranked candidates.
type Window struct {
	Text     string
	Included []*core.Candidate
}

// DocumentIDs returns the record ids in the window, in order.
func (w *Window) DocumentIDs() []string {
	ids := make([]string, len(w.Included))
	for i, c := range w.Included {
		ids[i] = c.RecordID()
	}
	return ids
}

// BuildWindow concatenates candidate narratives, each under a
// "---DOC ID: id | patient: p | diagnosis: d---" header. Each narrative is
// cut to perDoc characters, and blocks stop once the next one would push the
// window past total. The first block is always kept, cut to fit if needed.
func BuildWindow(candidates []*core.Candidate, perDoc, total int) *Window {
	w := &Window{}
	var (
		b    strings.Builder
		used int
	)
	for _, c := range candidates {
		block := formatBlock(c.Entry, perDoc)
		length := utf8.RuneCountInString(block)
		if used+length > total {
			if len(w.Included) > 0 {
				break
			}
			block = truncate(block, total)
			length = total
		}
		b.WriteString(block)
		used += length
		w.Included = append(w.Included, c)
	}
	w.Text = strings.TrimRight(b.String(), "\n")
	return w
}

func formatBlock(entry *core.IndexEntry, perDoc int) string {
	patient := entry.Metadata.Patient
	if patient == "" {
		patient = "unknown"
	}
	diagnosis := strings.Join(entry.Metadata.Diagnoses, "; ")
	if diagnosis == "" {
		diagnosis = "unknown"
	}
	snippet := strings.Join(strings.Fields(entry.Metadata.Narrative), " ")
	snippet = truncate(snippet, perDoc)
	return fmt.Sprintf("---DOC ID: %s | patient: %s | diagnosis: %s---\n%s\n\n",
		entry.RecordID, patient, diagnosis, snippet)
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
