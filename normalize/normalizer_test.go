package normalize

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/poiesic/medrag/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ocrNote = `{
	"patient": {"name": "Asha Rao", "age": 34, "gender": "F"},
	"doctor": "Dr. Mehta",
	"diagnosis": ["Viral Fever"],
	"prescriptions": [
		{"drug": "Paracetamol", "dose": "650 mg", "frequency": "TDS", "duration": "3 days"},
		"ORS sachets"
	],
	"cleaned_text": "Patient presents with fever for two days. Advised rest and fluids."
}`

func TestParseDocument(t *testing.T) {
	doc, err := ParseDocument([]byte(ocrNote))
	require.NoError(t, err)

	assert.Equal(t, "Asha Rao", doc.Patient.Name)
	assert.Equal(t, "34", doc.Patient.Age)
	assert.Equal(t, StringList{"Viral Fever"}, doc.Diagnosis)
	require.Len(t, doc.Prescriptions, 2)
	assert.Equal(t, "Paracetamol 650 mg TDS", doc.Prescriptions[0].Text())
	assert.Equal(t, "3 days", doc.Prescriptions[0].Duration)
	assert.Equal(t, "ORS sachets", doc.Prescriptions[1].Text())
}

func TestParseDocument_LooseShapes(t *testing.T) {
	doc, err := ParseDocument([]byte(`{
		"patient": "Ravi",
		"diagnosis": "Dengue",
		"prescriptions": null,
		"cleaned_text": "note"
	}`))
	require.NoError(t, err)
	assert.Equal(t, "Ravi", doc.Patient.Name)
	assert.Equal(t, StringList{"Dengue"}, doc.Diagnosis)
	assert.Empty(t, doc.Prescriptions)

	doc, err = ParseDocument([]byte(`{"patient": {"name": "Meena", "age": "45 yrs"}, "diagnosis": null}`))
	require.NoError(t, err)
	assert.Equal(t, "Meena", doc.Patient.Name)
	assert.Equal(t, "45 yrs", doc.Patient.Age)
	assert.Nil(t, doc.Diagnosis)

	_, err = ParseDocument([]byte(`{"patient": [1, 2]}`))
	assert.Error(t, err)
}

func TestNormalize(t *testing.T) {
	n, err := New()
	require.NoError(t, err)

	doc, err := ParseDocument([]byte(ocrNote))
	require.NoError(t, err)
	doc.ID = "note-001"

	record, err := n.Normalize(doc)
	require.NoError(t, err)

	assert.Equal(t, "note-001", record.ID)
	assert.Equal(t, "Asha Rao", record.Patient)
	assert.Equal(t, "Dr. Mehta", record.Doctor)
	assert.Equal(t, []core.Diagnosis{{Display: "Viral Fever", Key: "viral fever"}}, record.Diagnoses)
	assert.Equal(t, []string{"paracetamol 650mg", "ors sachets"}, record.TreatmentKeys())
	assert.Equal(t, "tds", record.Prescriptions[0].Canonical.Frequency)
	assert.Contains(t, record.Narrative, "fever for two days")
}

func TestNormalize_NarrativeFallbacks(t *testing.T) {
	n, err := New()
	require.NoError(t, err)

	t.Run("raw text", func(t *testing.T) {
		record, err := n.Normalize(&RawDocument{ID: "a", RawText: "  raw ocr text  "})
		require.NoError(t, err)
		assert.Equal(t, "raw ocr text", record.Narrative)
	})

	t.Run("synthesized from structured fields", func(t *testing.T) {
		record, err := n.Normalize(&RawDocument{
			ID:            "b",
			Patient:       RawPatient{Name: "Ravi"},
			Diagnosis:     StringList{"Dengue"},
			Prescriptions: []RawMention{{Drug: "Paracetamol", Dose: "500mg"}},
		})
		require.NoError(t, err)
		assert.Equal(t, "Patient: Ravi. Diagnosis: Dengue. Prescriptions: Paracetamol 500mg.", record.Narrative)
	})

	t.Run("no text at all", func(t *testing.T) {
		_, err := n.Normalize(&RawDocument{ID: "c", Patient: RawPatient{Name: "Ravi"}})
		assert.ErrorIs(t, err, core.ErrNormalization)
		assert.ErrorIs(t, err, core.ErrEmptyNarrative)
	})

	t.Run("missing id", func(t *testing.T) {
		_, err := n.Normalize(&RawDocument{CleanedText: "text"})
		assert.ErrorIs(t, err, core.ErrNormalization)
	})

	t.Run("nil document", func(t *testing.T) {
		_, err := n.Normalize(nil)
		assert.ErrorIs(t, err, core.ErrNormalization)
	})
}

func TestNormalize_WithSynonyms(t *testing.T) {
	n, err := New(WithSynonyms(map[string]string{"crocin": "paracetamol"}))
	require.NoError(t, err)

	record, err := n.Normalize(&RawDocument{
		ID:            "x",
		CleanedText:   "text",
		Prescriptions: []RawMention{{Drug: "Crocin 650mg"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"paracetamol 650mg"}, record.TreatmentKeys())
}

func TestSummary(t *testing.T) {
	t.Run("empty summary keeps all keys", func(t *testing.T) {
		data, err := json.Marshal(Summarize(&core.ClinicalRecord{ID: "x", Narrative: "n"}))
		require.NoError(t, err)
		assert.JSONEq(t, `{"Patient":null,"Diagnosis":null,"Treatment":null,"Follow-up":null}`, string(data))
	})

	t.Run("from document", func(t *testing.T) {
		doc, err := ParseDocument([]byte(ocrNote))
		require.NoError(t, err)

		data, err := json.Marshal(SummarizeDocument(doc))
		require.NoError(t, err)
		assert.JSONEq(t, `{
			"Patient": "Asha Rao",
			"Diagnosis": "Viral Fever",
			"Treatment": "Paracetamol 650 mg, TDS; ORS sachets",
			"Follow-up": null
		}`, string(data))
	})

	t.Run("from record", func(t *testing.T) {
		s := Summarize(&core.ClinicalRecord{
			Patient:  "Ravi",
			FollowUp: "Review in 1 week",
			Diagnoses: []core.Diagnosis{
				{Display: "Dengue", Key: "dengue"},
				{Display: "Dehydration", Key: "dehydration"},
			},
		})
		require.NotNil(t, s.Diagnosis)
		assert.Equal(t, "Dengue; Dehydration", *s.Diagnosis)
		assert.Nil(t, s.Treatment)
		require.NotNil(t, s.FollowUp)
		assert.Equal(t, "Review in 1 week", *s.FollowUp)
	})
}

func TestLoadFolder(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	write("b_note.json", `{"patient": "B", "cleaned_text": "second"}`)
	write("a_note.json", `{"id": "ignored", "patient": "A", "cleaned_text": "first"}`)
	write("broken.json", `{"patient": `)
	write("readme.txt", `not a note`)

	docs, failures, err := LoadFolder(dir)
	require.NoError(t, err)

	require.Len(t, docs, 2)
	assert.Equal(t, "a_note", docs[0].ID)
	assert.Equal(t, "b_note", docs[1].ID)

	require.Len(t, failures, 1)
	assert.ErrorIs(t, failures[0], core.ErrNormalization)
	var fileErr *FileError
	require.ErrorAs(t, failures[0], &fileErr)
	assert.Equal(t, "broken.json", filepath.Base(fileErr.Path))

	_, _, err = LoadFolder(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}
