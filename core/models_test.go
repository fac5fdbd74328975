package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIDFromContent(t *testing.T) {
	assert.Equal(t, IDFromContent("note_001"), IDFromContent("note_001"))
	assert.NotEqual(t, IDFromContent("note_001"), IDFromContent("note_002"))
}

func TestCanonicalTreatment_Key(t *testing.T) {
	tests := []struct {
		name      string
		treatment CanonicalTreatment
		want      string
	}{
		{"name only", CanonicalTreatment{Name: "ors"}, "ors"},
		{"name and dosage", CanonicalTreatment{Name: "paracetamol", Dosage: "650mg"}, "paracetamol 650mg"},
		{"frequency ignored", CanonicalTreatment{Name: "paracetamol", Dosage: "650mg", Frequency: "tds"}, "paracetamol 650mg"},
		{"empty", CanonicalTreatment{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.treatment.Key())
		})
	}
}

func TestClinicalRecord_Keys(t *testing.T) {
	record := &ClinicalRecord{
		Diagnoses: []Diagnosis{
			{Display: "Viral Fever", Key: "viral fever"},
			{Display: "viral  fever", Key: "viral fever"},
			{Display: "Dehydration", Key: "dehydration"},
		},
		Prescriptions: []Prescription{
			{Canonical: CanonicalTreatment{Name: "paracetamol", Dosage: "650mg"}},
			{Canonical: CanonicalTreatment{Name: "paracetamol", Dosage: "650mg"}},
			{Canonical: CanonicalTreatment{}},
		},
	}

	assert.Equal(t, []string{"viral fever", "dehydration"}, record.DiagnosisKeys())
	assert.Equal(t, []string{"paracetamol 650mg", "paracetamol 650mg"}, record.TreatmentKeys())
}

func TestFilter_Matches(t *testing.T) {
	entry := &IndexEntry{
		RecordID: "n1",
		Metadata: Metadata{DiagnosisKeys: []string{"viral fever", "cough"}, PatientKey: "ravi kumar"},
	}

	var nilFilter *Filter
	assert.True(t, nilFilter.Matches(entry))
	assert.True(t, (&Filter{}).Matches(entry))
	assert.True(t, (&Filter{DiagnosisKey: "cough"}).Matches(entry))
	assert.True(t, (&Filter{DiagnosisKey: "cough", PatientKey: "ravi kumar"}).Matches(entry))
	assert.False(t, (&Filter{DiagnosisKey: "malaria"}).Matches(entry))
	assert.False(t, (&Filter{DiagnosisKey: "cough", PatientKey: "someone else"}).Matches(entry))
}

func TestParseQueryClass(t *testing.T) {
	for _, name := range []string{"diagnosis", "diagnosis_query"} {
		c, err := ParseQueryClass(name)
		assert.NoError(t, err)
		assert.Equal(t, DiagnosisLookup, c)
	}

	c, err := ParseQueryClass("treatment_frequency")
	assert.NoError(t, err)
	assert.Equal(t, TreatmentFrequency, c)

	c, err = ParseQueryClass("")
	assert.NoError(t, err)
	assert.Equal(t, QueryClassUnknown, c)

	_, err = ParseQueryClass("astrology")
	assert.ErrorIs(t, err, ErrInvalidQueryClass)

	assert.Equal(t, "normal", FreeFormQA.String())
}
