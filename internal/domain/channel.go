// Package domain defines the core types shared across the harvester service.
package domain

import "time"

// Category partitions channels into mutually exclusive curation buckets.
type Category string

const (
	CategoryActive      Category = "active"
	CategoryArchived    Category = "archived"
	CategoryBlacklisted Category = "blacklisted"
)

// ValidCategory reports whether s names a known category.
func ValidCategory(s string) bool {
	switch Category(s) {
	case CategoryActive, CategoryArchived, CategoryBlacklisted:
		return true
	}
	return false
}

// Status tracks per-channel enrichment progress. It evolves independently of
// Category: moving a channel between categories never resets its status.
type Status string

const (
	StatusNew        Status = "new"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Enrichment result markers stored in last_enriched_result.
const (
	ResultEmailsFound = "emails_found"
	ResultNoEmails    = "no_emails"
	ResultError       = "error"
)

// Channel is a discovered video-sharing channel under curation.
type Channel struct {
	ChannelID string   `db:"channel_id" json:"channel_id"`
	Title     string   `db:"title" json:"title"`
	URL       string   `db:"url" json:"url"`
	Category  Category `db:"category" json:"category"`

	Status           Status     `db:"status" json:"status"`
	StatusReason     *string    `db:"status_reason" json:"status_reason,omitempty"`
	LastStatusChange *time.Time `db:"last_status_change" json:"last_status_change,omitempty"`
	ArchivedAt       *time.Time `db:"archived_at" json:"archived_at,omitempty"`

	// Enrichment payload, relayed verbatim from the enrichment backend.
	Subscribers        *int64   `db:"subscribers" json:"subscribers,omitempty"`
	Language           *string  `db:"language" json:"language,omitempty"`
	LanguageConfidence *float64 `db:"language_confidence" json:"language_confidence,omitempty"`
	Emails             *string  `db:"emails" json:"emails,omitempty"`
	EmailGatePresent   *bool    `db:"email_gate_present" json:"email_gate_present,omitempty"`

	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	LastUpdated        *time.Time `db:"last_updated" json:"last_updated,omitempty"`
	LastAttempted      *time.Time `db:"last_attempted" json:"last_attempted,omitempty"`
	LastEnrichedAt     *time.Time `db:"last_enriched_at" json:"last_enriched_at,omitempty"`
	LastEnrichedResult *string    `db:"last_enriched_result" json:"last_enriched_result,omitempty"`
	LastError          *string    `db:"last_error" json:"last_error,omitempty"`
}

// ChannelURL returns the canonical channel URL, deriving it from the id when
// no explicit URL was recorded.
func ChannelURL(channelID, url string) string {
	if url != "" {
		return url
	}
	if channelID == "" {
		return ""
	}
	return "https://www.youtube.com/channel/" + channelID
}

// EnrichmentFields is the opaque payload produced by the enrichment backend
// for one channel. The orchestration core writes these as blind fields.
type EnrichmentFields struct {
	Title              string   `json:"title,omitempty"`
	Subscribers        *int64   `json:"subscribers,omitempty"`
	Language           *string  `json:"language,omitempty"`
	LanguageConfidence *float64 `json:"language_confidence,omitempty"`
	Emails             []string `json:"emails,omitempty"`
	EmailGatePresent   *bool    `json:"email_gate_present,omitempty"`
}
