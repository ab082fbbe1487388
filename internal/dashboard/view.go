package dashboard

import "github.com/jonesrussell/harvester/internal/jobs"

// ChannelView is the dashboard's local picture of one channel, built up
// incrementally from stream patches instead of refetched.
type ChannelView struct {
	ChannelID          string
	Status             string
	StatusReason       string
	LastStatusChange   string
	Subscribers        *int64
	Language           string
	LanguageConfidence *float64
	Emails             []string
	EmailGatePresent   *bool
	LastUpdated        string
}

// Merge applies a patch to a view and returns the result. Only fields the
// patch carries overwrite the view; absent fields keep their current value.
// The inputs are not mutated, so callers can reconcile optimistic local
// state against authoritative patches without transport in the way.
func Merge(view ChannelView, patch jobs.ChannelUpdate) ChannelView {
	if patch.ChannelID != "" {
		view.ChannelID = patch.ChannelID
	}
	if patch.Status != "" {
		view.Status = patch.Status
		// A status change without a reason clears any stale one.
		if patch.StatusReason != nil {
			view.StatusReason = *patch.StatusReason
		} else {
			view.StatusReason = ""
		}
	}
	if patch.LastStatusChange != "" {
		view.LastStatusChange = patch.LastStatusChange
	}
	if patch.Subscribers != nil {
		value := *patch.Subscribers
		view.Subscribers = &value
	}
	if patch.Language != nil {
		view.Language = *patch.Language
	}
	if patch.LanguageConfidence != nil {
		value := *patch.LanguageConfidence
		view.LanguageConfidence = &value
	}
	if len(patch.Emails) > 0 {
		view.Emails = append([]string(nil), patch.Emails...)
	}
	if patch.EmailGatePresent != nil {
		value := *patch.EmailGatePresent
		view.EmailGatePresent = &value
	}
	if patch.LastUpdated != "" {
		view.LastUpdated = patch.LastUpdated
	}
	return view
}
