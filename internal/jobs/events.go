// Package jobs provides the in-memory enrichment job tracker.
package jobs

import "github.com/jonesrussell/harvester/internal/domain"

// ChannelUpdate is a fine-grained per-channel patch event. Only fields that
// actually changed are populated; subscribers patch their view in place
// instead of re-fetching.
type ChannelUpdate struct {
	ChannelID          string      `json:"channelId"`
	Status             string      `json:"status,omitempty"`
	StatusReason       *string     `json:"statusReason,omitempty"`
	LastStatusChange   string      `json:"lastStatusChange,omitempty"`
	Subscribers        *int64      `json:"subscribers,omitempty"`
	Language           *string     `json:"language,omitempty"`
	LanguageConfidence *float64    `json:"languageConfidence,omitempty"`
	Emails             []string    `json:"emails,omitempty"`
	EmailGatePresent   *bool       `json:"emailGatePresent,omitempty"`
	LastUpdated        string      `json:"lastUpdated,omitempty"`
	Mode               domain.Mode `json:"mode,omitempty"`
}
