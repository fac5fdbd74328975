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
	"fmt"
	"log/slog"
	"strings"

	"github.com/poiesic/medrag/core"
)

// Normalizer converts raw OCR documents into ClinicalRecords.
// It holds no persisted state and is safe for concurrent use.
type Normalizer struct {
	canon  *Canonicalizer
	logger *slog.Logger
}

// Option configures a Normalizer.
type Option func(*Normalizer) error

// WithSynonyms replaces the treatment synonym table.
// Default is DefaultSynonyms().
func WithSynonyms(synonyms map[string]string) Option {
	return func(n *Normalizer) error {
		n.canon = NewCanonicalizer(synonyms)
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(n *Normalizer) error {
		if logger == nil {
			logger = slog.Default()
		}
		n.logger = logger
		return nil
	}
}

// New creates a Normalizer.
func New(opts ...Option) (*Normalizer, error) {
	n := &Normalizer{
		canon:  defaultCanonicalizer,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(n); err != nil {
			return nil, err
		}
	}
	n.logger = n.logger.With("component", "normalizer")
	return n, nil
}

// Canonicalizer returns the canonicalizer used for treatments.
func (n *Normalizer) Canonicalizer() *Canonicalizer {
	return n.canon
}

// Normalize converts a raw document into a validated ClinicalRecord.
// Any failure wraps core.ErrNormalization.
func (n *Normalizer) Normalize(raw *RawDocument) (*core.ClinicalRecord, error) {
	if raw == nil {
		return nil, fmt.Errorf("%w: document is nil", core.ErrNormalization)
	}

	record := &core.ClinicalRecord{
		ID:       strings.TrimSpace(raw.ID),
		Patient:  collapse(raw.Patient.Name),
		Doctor:   collapse(raw.Doctor),
		Hospital: collapse(raw.Hospital),
		Date:     strings.TrimSpace(raw.Date),
		FollowUp: strings.TrimSpace(raw.FollowUp),
	}

	for _, d := range SplitDiagnoses(raw.Diagnosis) {
		key := CanonicalizeDiagnosis(d)
		if key == "" {
			continue
		}
		record.Diagnoses = append(record.Diagnoses, core.Diagnosis{Display: collapse(d), Key: key})
	}

	for _, m := range raw.Prescriptions {
		mention := m.Text()
		if mention == "" {
			continue
		}
		record.Prescriptions = append(record.Prescriptions, core.Prescription{
			Mention:   mention,
			Canonical: n.canon.CanonicalizeTreatment(mention),
		})
	}

	record.Narrative = strings.TrimSpace(raw.CleanedText)
	if record.Narrative == "" {
		record.Narrative = strings.TrimSpace(raw.RawText)
	}
	if record.Narrative == "" && len(record.Diagnoses) > 0 {
		record.Narrative = synthesizeNarrative(record)
		n.logger.Debug("synthesized narrative", "id", record.ID)
	}

	if err := core.ValidateRecord(record); err != nil {
		return nil, err
	}
	return record, nil
}

// synthesizeNarrative builds searchable text for notes that carry structured
// fields but no narrative.
func synthesizeNarrative(r *core.ClinicalRecord) string {
	var b strings.Builder
	if r.Patient != "" {
		fmt.Fprintf(&b, "Patient: %s. ", r.Patient)
	}
	diagnoses := make([]string, len(r.Diagnoses))
	for i, d := range r.Diagnoses {
		diagnoses[i] = d.Display
	}
	fmt.Fprintf(&b, "Diagnosis: %s.", strings.Join(diagnoses, "; "))
	if len(r.Prescriptions) > 0 {
		mentions := make([]string, len(r.Prescriptions))
		for i, p := range r.Prescriptions {
			mentions[i] = p.Mention
		}
		fmt.Fprintf(&b, " Prescriptions: %s.", strings.Join(mentions, "; "))
	}
	return b.String()
}
