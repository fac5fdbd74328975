package core

import (
	"encoding/binary"

	"github.com/go-crypt/x/blake2b"
)

// ID is the storage key derived from a record's source-document id.
type ID uint64

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
// This ensures that identical content produces identical IDs.
func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// Generation is the monotonically increasing counter that marks a consistent
// snapshot of the searchable index.
type Generation uint64

// Diagnosis keeps the original diagnosis text next to its canonical lookup key.
type Diagnosis struct {
	Display string // as written in the note
	Key     string // trimmed, case-folded, whitespace-collapsed
}

// CanonicalTreatment is the normalized form of a prescription mention.
type CanonicalTreatment struct {
	Name      string
	Dosage    string // e.g. "650mg"; empty when the mention carries no dosage
	Frequency string // display only, never part of the key
}

// Key returns the string used to group treatments for frequency counting.
func (t CanonicalTreatment) Key() string {
	if t.Dosage == "" {
		return t.Name
	}
	return t.Name + " " + t.Dosage
}

// Prescription is a single treatment mention as it appeared in the note.
type Prescription struct {
	Mention   string
	Canonical CanonicalTreatment
}

// ClinicalRecord is one normalized medical note.
type ClinicalRecord struct {
	ID            string // source-document id, stable per note
	Patient       string
	Doctor        string
	Hospital      string
	Date          string
	Diagnoses     []Diagnosis
	Prescriptions []Prescription
	Narrative     string // cleaned narrative text, never empty for a valid record
	FollowUp      string
}

// DiagnosisKeys returns the canonical diagnosis keys in note order, without duplicates.
func (r *ClinicalRecord) DiagnosisKeys() []string {
	keys := make([]string, 0, len(r.Diagnoses))
	seen := make(map[string]bool, len(r.Diagnoses))
	for _, d := range r.Diagnoses {
		if d.Key == "" || seen[d.Key] {
			continue
		}
		seen[d.Key] = true
		keys = append(keys, d.Key)
	}
	return keys
}

// TreatmentKeys returns the canonical treatment keys in mention order.
// Repeated mentions are kept so counts reflect every prescription.
func (r *ClinicalRecord) TreatmentKeys() []string {
	keys := make([]string, 0, len(r.Prescriptions))
	for _, p := range r.Prescriptions {
		if k := p.Canonical.Key(); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// Metadata is the filterable and displayable data stored alongside a vector.
type Metadata struct {
	Diagnoses     []string // display forms
	DiagnosisKeys []string
	Patient       string
	PatientKey    string
	Doctor        string
	Treatments    []string // canonical treatment keys
	Narrative     string
	FollowUp      string
}

// IndexEntry is the unit owned by the vector store.
type IndexEntry struct {
	RecordID   string
	Vector     []float32
	Metadata   Metadata
	Generation Generation // generation at which this entry was last written
}

// Filter holds exact-match predicates over indexed metadata.
// Empty fields match everything.
type Filter struct {
	DiagnosisKey string
	PatientKey   string
}

// IsEmpty reports whether the filter matches every entry.
func (f *Filter) IsEmpty() bool {
	return f == nil || (f.DiagnosisKey == "" && f.PatientKey == "")
}

// Matches reports whether the entry satisfies every predicate in the filter.
func (f *Filter) Matches(entry *IndexEntry) bool {
	if f.IsEmpty() {
		return true
	}
	if f.PatientKey != "" && entry.Metadata.PatientKey != f.PatientKey {
		return false
	}
	if f.DiagnosisKey != "" {
		for _, k := range entry.Metadata.DiagnosisKeys {
			if k == f.DiagnosisKey {
				return true
			}
		}
		return false
	}
	return true
}

// Candidate is a ranked retrieval hit.
type Candidate struct {
	Entry *IndexEntry
	Score float32
}

// RecordID is shorthand for c.Entry.RecordID.
func (c *Candidate) RecordID() string {
	return c.Entry.RecordID
}

// QueryClass selects how a question is retrieved and answered.
type QueryClass int

const (
	// QueryClassUnknown lets the retrieval engine classify the question.
	QueryClassUnknown QueryClass = iota
	// DiagnosisLookup returns every patient whose record carries a diagnosis.
	DiagnosisLookup
	// TreatmentFrequency returns the most frequently prescribed treatment.
	TreatmentFrequency
	// FreeFormQA answers from the top-k most similar records.
	FreeFormQA
)

var queryClassNames = map[QueryClass]string{
	QueryClassUnknown:  "unknown",
	DiagnosisLookup:    "diagnosis_query",
	TreatmentFrequency: "treatment_frequency",
	FreeFormQA:         "normal",
}

// String returns the wire name of the class.
func (c QueryClass) String() string {
	if name, ok := queryClassNames[c]; ok {
		return name
	}
	return "unknown"
}

// ParseQueryClass maps a wire name or short alias to a QueryClass.
func ParseQueryClass(s string) (QueryClass, error) {
	switch s {
	case "", "auto", "unknown":
		return QueryClassUnknown, nil
	case "diagnosis", "diagnosis_query", "diagnosis_lookup":
		return DiagnosisLookup, nil
	case "treatment", "frequency", "treatment_frequency":
		return TreatmentFrequency, nil
	case "qa", "normal", "freeform", "free_form_qa":
		return FreeFormQA, nil
	}
	return QueryClassUnknown, ErrInvalidQueryClass
}
