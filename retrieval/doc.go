// Package retrieval selects the index entries that answer a question.
//
// Questions fall into three classes:
//
//   - DiagnosisLookup: every entry carrying the diagnosis named in the
//     question. The result is exhaustive, not top-k.
//   - TreatmentFrequency: every entry, or every entry with the named
//     diagnosis, for counting prescriptions.
//   - FreeFormQA: the top-k entries by cosine similarity to the embedded
//     question.
//
// Each retrieval reads one store snapshot, and the result carries that
// snapshot's generation.
package retrieval
