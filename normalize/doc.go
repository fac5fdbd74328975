// Package normalize turns structured OCR output into ClinicalRecords.
//
// A raw document carries the patient, doctor, diagnosis, prescriptions and
// cleaned narrative of one medical note. Normalization:
//   - canonicalizes diagnoses (trim, case-fold, collapse whitespace)
//   - canonicalizes each prescription mention into name, dosage and frequency
//   - validates that the record has narrative text to embed
//
// Canonicalization is a pure function of the mention and the synonym table,
// so the same mention always maps to the same treatment key.
package normalize
