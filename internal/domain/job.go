package domain

// Mode selects which enrichment pipeline a job runs.
type Mode string

const (
	ModeFull      Mode = "full"
	ModeEmailOnly Mode = "email_only"
)

// ValidMode reports whether s names a known enrichment mode.
func ValidMode(s string) bool {
	switch Mode(s) {
	case ModeFull, ModeEmailOnly:
		return true
	}
	return false
}

// Outcome classifies the result of processing a single channel within a job.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeError
	OutcomeSkipped
)

// JobSummary is a point-in-time snapshot of an enrichment job's counters.
// Pending is always Total - Completed - Errored - Skipped, floored at zero.
type JobSummary struct {
	JobID           string  `json:"jobId"`
	Mode            Mode    `json:"mode"`
	Total           int     `json:"total"`
	Completed       int     `json:"completed"`
	Errored         int     `json:"errors"`
	Skipped         int     `json:"skipped"`
	Requested       int     `json:"requested"`
	Pending         int     `json:"pending"`
	Done            bool    `json:"done"`
	DurationSeconds float64 `json:"durationSeconds"`
}
