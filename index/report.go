package index

import "github.com/poiesic/medrag/core"

// Outcome is the result of indexing one source document.
type Outcome struct {
	SourceID   string
	Generation core.Generation // zero when Err is set
	Err        error
}

// BatchReport summarizes an IndexBatch call. Outcomes are in input order.
type BatchReport struct {
	Outcomes   []Outcome
	Indexed    int
	Failed     int
	Generation core.Generation // highest generation reached by the batch
}

// Failures returns the outcomes that carry an error.
func (r *BatchReport) Failures() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Err != nil {
			out = append(out, o)
		}
	}
	return out
}

func (r *BatchReport) tally() {
	r.Indexed, r.Failed = 0, 0
	for _, o := range r.Outcomes {
		if o.Err != nil {
			r.Failed++
			continue
		}
		r.Indexed++
		if o.Generation > r.Generation {
			r.Generation = o.Generation
		}
	}
}
