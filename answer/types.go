package answer

import "github.com/poiesic/medrag/core"

// Confidence levels reported on answers.
const (
	ConfidenceLow    = "low"
	ConfidenceMedium = "medium"
	ConfidenceHigh   = "high"
)

// PatientRef names one patient matched by a diagnosis lookup.
type PatientRef struct {
	Patient  string `json:"patient"`
	RecordID string `json:"record_id"`
}

// TreatmentStats is a canonical treatment and how often it was prescribed.
type TreatmentStats struct {
	Treatment string `json:"treatment"`
	Count     int    `json:"count"`
}

// Provenance describes a record an answer was built from.
type Provenance struct {
	RecordID  string   `json:"id"`
	Patient   string   `json:"patient"`
	Doctor    string   `json:"doctor,omitempty"`
	Diagnosis []string `json:"diagnosis"`
	Score     float32  `json:"score"`
}

// Answer is the response to one question. Slices are never nil so the JSON
// shape is stable.
type Answer struct {
	QueryID        string          `json:"query_id"`
	Type           string          `json:"type"`
	Text           *string         `json:"answer"`
	Patients       []PatientRef    `json:"patients"`
	TreatmentStats *TreatmentStats `json:"treatment_stats"`
	UsedDocuments  []string        `json:"used_documents"`
	Provenance     []Provenance    `json:"provenance"`
	Confidence     string          `json:"confidence,omitempty"`
	Generation     core.Generation `json:"generation"`
	NoAnswer       bool            `json:"no_answer"`
	Reason         string          `json:"reason,omitempty"`

	Class core.QueryClass `json:"-"`
}
