package ingest

type Outcome string

const (
	OutcomeStored  Outcome = "stored"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// UnitResult is the outcome of one unit. Reason is set for failures only.
type UnitResult struct {
	Index   int
	Outcome Outcome
	Reason  string
}

type UnitFailure struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

type Report struct {
	SourceID string        `json:"video_id"`
	Total    int           `json:"total"`
	Stored   int           `json:"stored"`
	Skipped  int           `json:"skipped"`
	Failed   []UnitFailure `json:"failed"`
}

func newReport(sourceID string) *Report {
	return &Report{SourceID: sourceID, Failed: []UnitFailure{}}
}

func (r *Report) add(res UnitResult) {
	r.Total++
	switch res.Outcome {
	case OutcomeStored:
		r.Stored++
	case OutcomeSkipped:
		r.Skipped++
	case OutcomeFailed:
		r.Failed = append(r.Failed, UnitFailure{Index: res.Index, Reason: res.Reason})
	}
}

// Complete reports whether every unit is now stored.
func (r *Report) Complete() bool {
	return len(r.Failed) == 0
}
