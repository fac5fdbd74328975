package normalize

import (
	"bytes"
	"encoding/json"
	"strings"
)

// RawDocument is one structured note as produced by the OCR collaborator.
// Absent fields decode to their zero value.
type RawDocument struct {
	ID            string       `json:"id,omitempty"`
	Patient       RawPatient   `json:"patient"`
	Doctor        string       `json:"doctor"`
	Hospital      string       `json:"hospital,omitempty"`
	Date          string       `json:"date,omitempty"`
	Diagnosis     StringList   `json:"diagnosis"`
	Prescriptions []RawMention `json:"prescriptions"`
	CleanedText   string       `json:"cleaned_text"`
	RawText       string       `json:"raw_text,omitempty"`
	FollowUp      string       `json:"follow_up,omitempty"`
}

// RawPatient accepts either a bare name or the {name, age, gender} object form.
type RawPatient struct {
	Name   string `json:"name"`
	Age    string `json:"age,omitempty"`
	Gender string `json:"gender,omitempty"`
}

func (p *RawPatient) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if isNull(data) {
		*p = RawPatient{}
		return nil
	}
	if data[0] == '"' {
		return json.Unmarshal(data, &p.Name)
	}
	var obj struct {
		Name   *string     `json:"name"`
		Age    json.Number `json:"age"`
		Gender *string     `json:"gender"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&obj); err != nil {
		// age is sometimes written as a bare string like "45 yrs"
		var loose struct {
			Name   *string `json:"name"`
			Age    *string `json:"age"`
			Gender *string `json:"gender"`
		}
		if err := json.Unmarshal(data, &loose); err != nil {
			return err
		}
		*p = RawPatient{Name: deref(loose.Name), Age: deref(loose.Age), Gender: deref(loose.Gender)}
		return nil
	}
	*p = RawPatient{Name: deref(obj.Name), Age: obj.Age.String(), Gender: deref(obj.Gender)}
	return nil
}

// StringList accepts a string, an array of strings, or null.
type StringList []string

func (l *StringList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if isNull(data) {
		*l = nil
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*l = StringList{s}
		return nil
	}
	var items []*string
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	out := make(StringList, 0, len(items))
	for _, item := range items {
		if item != nil {
			out = append(out, *item)
		}
	}
	*l = out
	return nil
}

// RawMention is one prescription, either as free text or as the structured
// {drug, dose, frequency, duration} object form.
type RawMention struct {
	Drug      string `json:"drug,omitempty"`
	Dose      string `json:"dose,omitempty"`
	Frequency string `json:"frequency,omitempty"`
	Duration  string `json:"duration,omitempty"`
}

func (m *RawMention) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if isNull(data) {
		*m = RawMention{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*m = RawMention{Drug: s}
		return nil
	}
	var obj struct {
		Drug      *string `json:"drug"`
		Dose      *string `json:"dose"`
		Frequency *string `json:"frequency"`
		Duration  *string `json:"duration"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*m = RawMention{Drug: deref(obj.Drug), Dose: deref(obj.Dose), Frequency: deref(obj.Frequency), Duration: deref(obj.Duration)}
	return nil
}

// Text renders the mention as one free-text string, e.g. "Paracetamol 650mg twice daily".
func (m RawMention) Text() string {
	parts := make([]string, 0, 3)
	for _, s := range []string{m.Drug, m.Dose, m.Frequency} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

// ParseDocument decodes a single JSON note.
func ParseDocument(data []byte) (*RawDocument, error) {
	var doc RawDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func isNull(data []byte) bool {
	return len(data) == 0 || bytes.Equal(data, []byte("null"))
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
