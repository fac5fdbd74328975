package answer

import (
	"cmp"
	"slices"

	"github.com/poiesic/medrag/core"
)

// CountTreatments counts every canonical treatment mention across entries.
// The result is ordered by count, highest first, then alphabetically.
func CountTreatments(entries []*core.IndexEntry) []TreatmentStats {
	counts := make(map[string]int)
	for _, entry := range entries {
		for _, t := range entry.Metadata.Treatments {
			if t != "" {
				counts[t]++
			}
		}
	}

	stats := make([]TreatmentStats, 0, len(counts))
	for treatment, count := range counts {
		stats = append(stats, TreatmentStats{Treatment: treatment, Count: count})
	}
	slices.SortFunc(stats, func(a, b TreatmentStats) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Treatment, b.Treatment)
	})
	return stats
}

// MostFrequent returns the most prescribed treatment. Ties go to the
// alphabetically first treatment. ok is false when no entry has treatments.
func MostFrequent(entries []*core.IndexEntry) (stats TreatmentStats, ok bool) {
	all := CountTreatments(entries)
	if len(all) == 0 {
		return TreatmentStats{}, false
	}
	return all[0], true
}

// CollectPatients returns one PatientRef per distinct record, ordered by
// patient name and then record id.
func CollectPatients(entries []*core.IndexEntry) []PatientRef {
	seen := make(map[string]bool, len(entries))
	refs := make([]PatientRef, 0, len(entries))
	for _, entry := range entries {
		if seen[entry.RecordID] {
			continue
		}
		seen[entry.RecordID] = true
		refs = append(refs, PatientRef{Patient: entry.Metadata.Patient, RecordID: entry.RecordID})
	}
	slices.SortFunc(refs, func(a, b PatientRef) int {
		if c := cmp.Compare(a.Patient, b.Patient); c != 0 {
			return c
		}
		return cmp.Compare(a.RecordID, b.RecordID)
	})
	return refs
}
