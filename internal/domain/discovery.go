package domain

// Loop completion reasons recorded in LoopSnapshot.LastReason.
const (
	LoopReasonStopped   = "stopped"
	LoopReasonCompleted = "completed"
	LoopReasonError     = "error"
)

// LoopSnapshot is an immutable view of the discovery loop lifecycle.
// Version increases on every state mutation so pollers can tell a new
// completion from one they already handled.
type LoopSnapshot struct {
	Running         bool   `json:"running"`
	StopRequested   bool   `json:"stop_requested"`
	Runs            int    `json:"runs"`
	Discovered      int    `json:"discovered"`
	LastStartedAt   string `json:"last_started_at,omitempty"`
	LastCompletedAt string `json:"last_completed_at,omitempty"`
	UpdatedAt       string `json:"updated_at,omitempty"`
	Version         int64  `json:"version"`
	LastReason      string `json:"last_reason,omitempty"`
	LastError       string `json:"last_error,omitempty"`
}

// DiscoverySettings parameterizes one-shot discovery runs and the loop.
// The dashboard persists these across sessions.
type DiscoverySettings struct {
	Keywords       []string `json:"keywords" mapstructure:"keywords" yaml:"keywords"`
	PerKeyword     int      `json:"per_keyword" mapstructure:"per_keyword" yaml:"per_keyword"`
	MaxAgeDays     int      `json:"max_age_days" mapstructure:"max_age_days" yaml:"max_age_days"`
	DenyLanguages  []string `json:"deny_languages" mapstructure:"deny_languages" yaml:"deny_languages"`
	AutoEnrich     bool     `json:"auto_enrich" mapstructure:"auto_enrich" yaml:"auto_enrich"`
	AutoEnrichMode Mode     `json:"auto_enrich_mode" mapstructure:"auto_enrich_mode" yaml:"auto_enrich_mode"`
	EnrichLimit    int      `json:"enrich_limit" mapstructure:"enrich_limit" yaml:"enrich_limit"`
	RunUntilStop   bool     `json:"run_until_stopped" mapstructure:"run_until_stopped" yaml:"run_until_stopped"`
}

// DiscoveryResult reports one discovery run against the search backend.
type DiscoveryResult struct {
	FoundCount       int      `json:"found"`
	BlacklistedCount int      `json:"blacklisted"`
	NewChannelIDs    []string `json:"new_channel_ids,omitempty"`
}

// ImportRowIssue describes a blacklist import row that could not be resolved.
// The orchestration core relays these without interpreting them.
type ImportRowIssue struct {
	Row    int    `json:"row"`
	Column string `json:"column"`
	Input  string `json:"input"`
	Reason string `json:"reason"`
}

// ImportResult is the outcome of a CSV blacklist import.
type ImportResult struct {
	Created    int              `json:"created"`
	Updated    int              `json:"updated"`
	Skipped    int              `json:"skipped"`
	Unresolved []ImportRowIssue `json:"unresolved"`
}
