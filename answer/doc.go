// Package answer turns retrieval results into answers.
//
// DiagnosisLookup and TreatmentFrequency answers are computed from index
// metadata alone. FreeFormQA answers come from a generator that sees only a
// bounded context window of retrieved narratives, and are kept only when a
// grounding check finds their facts in that window.
package answer
