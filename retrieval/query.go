package retrieval

import "github.com/poiesic/medrag/core"

// Query is a retrieval request.
type Query struct {
	Text string

	// Class skips classification when set.
	Class core.QueryClass

	// TopK bounds FreeFormQA results. Zero means the engine default.
	TopK int

	// Diagnosis names the diagnosis explicitly instead of extracting it from Text.
	Diagnosis string

	// MinGeneration makes retrieval wait until the index reaches this generation.
	MinGeneration core.Generation
}

// Result is the outcome of a retrieval.
type Result struct {
	Class      core.QueryClass
	Generation core.Generation

	// Candidates are ranked by score for FreeFormQA and ordered by record id
	// otherwise.
	Candidates []*core.Candidate

	// DiagnosisKeys are the canonical diagnoses the query resolved to.
	DiagnosisKeys []string
}

// Entries returns the entries behind the candidates, in order.
func (r *Result) Entries() []*core.IndexEntry {
	entries := make([]*core.IndexEntry, len(r.Candidates))
	for i, c := range r.Candidates {
		entries[i] = c.Entry
	}
	return entries
}

// SearchFilter narrows a raw similarity search. Patient and Doctor match
// case-insensitively by substring, Diagnosis matches a canonical key exactly.
type SearchFilter struct {
	Patient   string
	Doctor    string
	Diagnosis string
}
