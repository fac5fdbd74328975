package normalize

import (
	"strings"

	"github.com/poiesic/medrag/core"
)

// Summary is the four-field note summary. Missing values encode as null,
// never as an omitted key.
type Summary struct {
	Patient   *string `json:"Patient"`
	Diagnosis *string `json:"Diagnosis"`
	Treatment *string `json:"Treatment"`
	FollowUp  *string `json:"Follow-up"`
}

// Summarize builds a Summary from a normalized record.
func Summarize(record *core.ClinicalRecord) Summary {
	if record == nil {
		return Summary{}
	}
	diagnoses := make([]string, 0, len(record.Diagnoses))
	for _, d := range record.Diagnoses {
		diagnoses = append(diagnoses, d.Display)
	}
	treatments := make([]string, 0, len(record.Prescriptions))
	for _, p := range record.Prescriptions {
		treatments = append(treatments, p.Mention)
	}
	return Summary{
		Patient:   optional(record.Patient),
		Diagnosis: optional(strings.Join(diagnoses, "; ")),
		Treatment: optional(strings.Join(treatments, "; ")),
		FollowUp:  optional(record.FollowUp),
	}
}

// SummarizeDocument builds a Summary straight from the OCR output, keeping the
// structured prescription layout "drug dose, frequency".
func SummarizeDocument(raw *RawDocument) Summary {
	if raw == nil {
		return Summary{}
	}
	var treatments []string
	for _, p := range raw.Prescriptions {
		drug := strings.TrimSpace(p.Drug)
		if drug == "" {
			continue
		}
		if dose := strings.TrimSpace(p.Dose); dose != "" {
			drug += " " + dose
		}
		if freq := strings.TrimSpace(p.Frequency); freq != "" {
			drug += ", " + freq
		}
		treatments = append(treatments, drug)
	}
	return Summary{
		Patient:   optional(raw.Patient.Name),
		Diagnosis: optional(strings.Join(SplitDiagnoses(raw.Diagnosis), "; ")),
		Treatment: optional(strings.Join(treatments, "; ")),
		FollowUp:  optional(raw.FollowUp),
	}
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
