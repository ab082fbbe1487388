package enrich

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jonesrussell/harvester/internal/database"
	"github.com/jonesrussell/harvester/internal/domain"
	"github.com/jonesrussell/harvester/internal/jobs"
	"github.com/jonesrussell/harvester/internal/logger"
)

const (
	// DefaultLimit caps job size when the caller sends no limit.
	DefaultLimit = 500
	// DefaultWorkers is the number of channels enriched concurrently.
	DefaultWorkers = 4

	// recentCompletionWindow suppresses re-enriching channels that
	// completed recently, unless the caller forces a run.
	recentCompletionWindow = 24 * time.Hour
	// noEmailRetryWindow suppresses retrying channels whose last run found
	// no emails, when the caller opts out of re-enrichment.
	noEmailRetryWindow = 30 * 24 * time.Hour
)

var (
	// ErrInvalidMode is returned for an unknown enrichment mode.
	ErrInvalidMode = errors.New("invalid enrichment mode")
	// ErrInvalidLimit is returned for a negative limit.
	ErrInvalidLimit = errors.New("limit must be positive")
)

// StartRequest parameterizes one enrichment job.
type StartRequest struct {
	Mode  domain.Mode `json:"mode"`
	Limit int         `json:"limit"`
	// ChannelIDs restricts the job to specific channels instead of
	// selecting from the backlog. Used by discovery auto-enrichment.
	ChannelIDs    []string `json:"channel_ids,omitempty"`
	ForceRun      bool     `json:"force_run"`
	NeverReenrich bool     `json:"never_reenrich"`
}

// StartResult reports what a job start actually enqueued. A zero Total with
// an empty JobID means nothing was eligible; that is a no-op, not an error.
type StartResult struct {
	JobID     string `json:"job_id"`
	Total     int    `json:"total"`
	Requested int    `json:"requested"`
	Skipped   int    `json:"skipped"`
}

// Coordinator selects eligible channels, claims them, and runs them through
// the enrichment backend on a bounded worker pool, reporting per-channel
// outcomes to the job tracker.
type Coordinator struct {
	channels database.ChannelRepositoryInterface
	emails   database.EmailRepositoryInterface
	tracker  *jobs.Tracker
	enricher Enricher
	logger   logger.Interface
	workers  int
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithWorkers sets the worker pool size.
func WithWorkers(n int) CoordinatorOption {
	return func(c *Coordinator) {
		if n > 0 {
			c.workers = n
		}
	}
}

// NewCoordinator creates an enrichment coordinator.
func NewCoordinator(
	channels database.ChannelRepositoryInterface,
	emails database.EmailRepositoryInterface,
	tracker *jobs.Tracker,
	enricher Enricher,
	log logger.Interface,
	opts ...CoordinatorOption,
) *Coordinator {
	c := &Coordinator{
		channels: channels,
		emails:   emails,
		tracker:  tracker,
		enricher: enricher,
		logger:   log.WithComponent("enrich"),
		workers:  DefaultWorkers,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Start validates the request, selects and claims targets, creates the job,
// and returns immediately. Processing continues in the background. When no
// channel is eligible the result carries an empty JobID and zero Total.
func (c *Coordinator) Start(ctx context.Context, req StartRequest) (*StartResult, error) {
	if !domain.ValidMode(string(req.Mode)) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, req.Mode)
	}
	if req.Limit < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLimit, req.Limit)
	}

	limit := req.Limit
	if limit == 0 || limit > DefaultLimit {
		limit = DefaultLimit
	}

	candidates, err := c.selectCandidates(ctx, req, limit)
	if err != nil {
		return nil, err
	}

	eligible, skipped := c.applyPolicy(candidates, req)

	claimed, err := c.channels.Claim(ctx, eligible)
	if err != nil {
		return nil, fmt.Errorf("failed to claim channels: %w", err)
	}

	targets := make([]string, 0, len(claimed)+len(skipped))
	targets = append(targets, claimed...)
	targets = append(targets, skipped...)
	if len(targets) == 0 {
		c.logger.Info("No channels eligible for enrichment", "mode", req.Mode)
		return &StartResult{Requested: limit}, nil
	}

	jobID, err := c.tracker.Create(targets, req.Mode, limit)
	if err != nil {
		// Claimed rows must not stay stuck when job creation fails.
		if _, resetErr := c.channels.ResetProcessing(ctx, claimed, "job creation failed"); resetErr != nil {
			c.logger.Error("Failed to reset claimed channels", "error", resetErr)
		}
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	for _, id := range skipped {
		if recordErr := c.tracker.RecordOutcome(jobID, id, domain.OutcomeSkipped); recordErr != nil {
			c.logger.Warn("Failed to record skipped channel", "job_id", jobID, "channel_id", id, "error", recordErr)
		}
	}

	c.logger.Info("Enrichment job started",
		"job_id", jobID,
		"mode", req.Mode,
		"claimed", len(claimed),
		"skipped", len(skipped))

	byID := make(map[string]domain.Channel, len(candidates))
	for _, ch := range candidates {
		byID[ch.ChannelID] = *ch
	}

	go c.runJob(context.WithoutCancel(ctx), jobID, req.Mode, claimed, byID)

	return &StartResult{
		JobID:     jobID,
		Total:     len(targets),
		Requested: limit,
		Skipped:   len(skipped),
	}, nil
}

// RequestEnrich starts a job restricted to the given channels. It satisfies
// the discovery controller's auto-enrichment hook.
func (c *Coordinator) RequestEnrich(ctx context.Context, channelIDs []string, mode domain.Mode, limit int) error {
	_, err := c.Start(ctx, StartRequest{
		Mode:       mode,
		Limit:      limit,
		ChannelIDs: channelIDs,
	})
	return err
}

func (c *Coordinator) selectCandidates(ctx context.Context, req StartRequest, limit int) ([]*domain.Channel, error) {
	if len(req.ChannelIDs) == 0 {
		candidates, err := c.channels.SelectCandidates(ctx, req.Mode, limit)
		if err != nil {
			return nil, fmt.Errorf("failed to select candidates: %w", err)
		}
		return candidates, nil
	}

	ids := req.ChannelIDs
	if len(ids) > limit {
		ids = ids[:limit]
	}
	candidates := make([]*domain.Channel, 0, len(ids))
	for _, id := range ids {
		ch, err := c.channels.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, database.ErrChannelNotFound) {
				continue
			}
			return nil, fmt.Errorf("failed to load channel %s: %w", id, err)
		}
		candidates = append(candidates, ch)
	}
	return candidates, nil
}

// applyPolicy splits candidates into channels to claim and channels skipped
// by the retry policy. Skipped channels still belong to the job's target set
// so progress accounting stays exact.
func (c *Coordinator) applyPolicy(candidates []*domain.Channel, req StartRequest) (eligible, skipped []string) {
	now := time.Now().UTC()
	for _, ch := range candidates {
		if c.skipReason(ch, req, now) != "" {
			skipped = append(skipped, ch.ChannelID)
			continue
		}
		eligible = append(eligible, ch.ChannelID)
	}
	return eligible, skipped
}

func (c *Coordinator) skipReason(ch *domain.Channel, req StartRequest, now time.Time) string {
	if req.NeverReenrich &&
		ch.LastEnrichedResult != nil && *ch.LastEnrichedResult == domain.ResultNoEmails &&
		ch.LastEnrichedAt != nil && now.Sub(*ch.LastEnrichedAt) < noEmailRetryWindow {
		return "no emails found recently"
	}
	if !req.ForceRun &&
		ch.Status == domain.StatusCompleted &&
		ch.LastEnrichedAt != nil && now.Sub(*ch.LastEnrichedAt) < recentCompletionWindow {
		return "enriched recently"
	}
	return ""
}

// runJob drains the claimed channels through the worker pool, then resets
// anything still marked processing so no channel outlives its job stuck.
func (c *Coordinator) runJob(ctx context.Context, jobID string, mode domain.Mode, claimed []string, byID map[string]domain.Channel) {
	work := make(chan string)
	var wg sync.WaitGroup

	for range c.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range work {
				c.processChannel(ctx, jobID, byID[id], mode)
			}
		}()
	}

	for _, id := range claimed {
		work <- id
	}
	close(work)
	wg.Wait()

	reset, err := c.channels.ResetProcessing(ctx, claimed, "job finished while still processing")
	if err != nil {
		c.logger.Error("Failed to reset processing channels", "job_id", jobID, "error", err)
	} else if reset > 0 {
		c.logger.Warn("Reset stuck channels after job", "job_id", jobID, "count", reset)
	}
}

func (c *Coordinator) processChannel(ctx context.Context, jobID string, ch domain.Channel, mode domain.Mode) {
	if mode == domain.ModeEmailOnly && c.completeWithKnownEmails(ctx, jobID, ch) {
		return
	}

	fields, err := c.enricher.Enrich(ctx, ch, mode)
	if err != nil {
		c.recordFailure(ctx, jobID, ch.ChannelID, mode, err)
		return
	}

	now := time.Now().UTC()
	result := domain.ResultNoEmails
	if len(fields.Emails) > 0 {
		result = domain.ResultEmailsFound
	}

	switch mode {
	case domain.ModeFull:
		err = c.channels.MarkEnriched(ctx, ch.ChannelID, *fields, result, now)
	case domain.ModeEmailOnly:
		err = c.channels.UpdateEmailFields(ctx, ch.ChannelID, fields.Emails, fields.EmailGatePresent, result, now)
	}
	if err != nil {
		c.recordFailure(ctx, jobID, ch.ChannelID, mode, fmt.Errorf("failed to store enrichment: %w", err))
		return
	}

	if len(fields.Emails) > 0 {
		if emailErr := c.emails.RecordEmails(ctx, ch.ChannelID, fields.Emails, now); emailErr != nil {
			c.logger.Warn("Failed to record emails", "channel_id", ch.ChannelID, "error", emailErr)
		}
	}

	update := jobs.ChannelUpdate{
		ChannelID:        ch.ChannelID,
		Status:           string(domain.StatusCompleted),
		LastStatusChange: now.Format(time.RFC3339),
		LastUpdated:      now.Format(time.RFC3339),
		Emails:           fields.Emails,
		EmailGatePresent: fields.EmailGatePresent,
		Mode:             mode,
	}
	if mode == domain.ModeFull {
		update.Subscribers = fields.Subscribers
		update.Language = fields.Language
		update.LanguageConfidence = fields.LanguageConfidence
	}
	if updateErr := c.tracker.RecordChannelUpdate(jobID, update); updateErr != nil {
		c.logger.Warn("Failed to record channel update", "job_id", jobID, "error", updateErr)
	}

	if recordErr := c.tracker.RecordOutcome(jobID, ch.ChannelID, domain.OutcomeSuccess); recordErr != nil {
		c.logger.Warn("Failed to record outcome", "job_id", jobID, "error", recordErr)
	}
}

// completeWithKnownEmails short-circuits email-only enrichment when the
// channel's emails are already on record: stored emails exist for the
// channel, or every email on the row is known from some other channel. The
// channel counts as completed with reason "emails unchanged" and the backend
// is never called. Returns false when the backend still has to run.
func (c *Coordinator) completeWithKnownEmails(ctx context.Context, jobID string, ch domain.Channel) bool {
	display := parseEmails(ch.Emails)
	stored, err := c.emails.KnownEmails(ctx, ch.ChannelID)
	if err != nil {
		c.logger.Warn("Failed to load known emails", "channel_id", ch.ChannelID, "error", err)
		return false
	}
	if len(display) == 0 {
		display = stored
	}

	skip := len(stored) > 0
	if !skip && len(display) > 0 {
		skip, err = c.emails.AllKnown(ctx, display)
		if err != nil {
			c.logger.Warn("Failed to check known emails", "channel_id", ch.ChannelID, "error", err)
			return false
		}
	}
	if !skip {
		return false
	}

	now := time.Now().UTC()
	if recordErr := c.emails.RecordEmails(ctx, ch.ChannelID, display, now); recordErr != nil {
		c.logger.Warn("Failed to record emails", "channel_id", ch.ChannelID, "error", recordErr)
	}

	gatePresent := false
	if updateErr := c.channels.UpdateEmailFields(ctx, ch.ChannelID, display, &gatePresent, domain.ResultEmailsFound, now); updateErr != nil {
		c.recordFailure(ctx, jobID, ch.ChannelID, domain.ModeEmailOnly, fmt.Errorf("failed to store enrichment: %w", updateErr))
		return true
	}

	reason := "emails unchanged"
	update := jobs.ChannelUpdate{
		ChannelID:        ch.ChannelID,
		Status:           string(domain.StatusCompleted),
		StatusReason:     &reason,
		LastStatusChange: now.Format(time.RFC3339),
		LastUpdated:      now.Format(time.RFC3339),
		Emails:           display,
		EmailGatePresent: &gatePresent,
		Mode:             domain.ModeEmailOnly,
	}
	if updateErr := c.tracker.RecordChannelUpdate(jobID, update); updateErr != nil {
		c.logger.Warn("Failed to record channel update", "job_id", jobID, "error", updateErr)
	}
	if recordErr := c.tracker.RecordOutcome(jobID, ch.ChannelID, domain.OutcomeSuccess); recordErr != nil {
		c.logger.Warn("Failed to record outcome", "job_id", jobID, "error", recordErr)
	}

	return true
}

// parseEmails splits the denormalized emails column back into a clean list.
func parseEmails(value *string) []string {
	if value == nil || *value == "" {
		return nil
	}
	return database.NormalizeEmails(strings.Split(*value, ","))
}

func (c *Coordinator) recordFailure(ctx context.Context, jobID, channelID string, mode domain.Mode, cause error) {
	now := time.Now().UTC()
	reason := cause.Error()

	c.logger.Warn("Channel enrichment failed", "job_id", jobID, "channel_id", channelID, "error", cause)

	if err := c.channels.MarkEnrichFailed(ctx, channelID, reason, now); err != nil {
		c.logger.Error("Failed to mark channel errored", "channel_id", channelID, "error", err)
	}

	update := jobs.ChannelUpdate{
		ChannelID:        channelID,
		Status:           string(domain.StatusError),
		StatusReason:     &reason,
		LastStatusChange: now.Format(time.RFC3339),
		LastUpdated:      now.Format(time.RFC3339),
		Mode:             mode,
	}
	if updateErr := c.tracker.RecordChannelUpdate(jobID, update); updateErr != nil {
		c.logger.Warn("Failed to record channel update", "job_id", jobID, "error", updateErr)
	}

	if recordErr := c.tracker.RecordOutcome(jobID, channelID, domain.OutcomeError); recordErr != nil {
		c.logger.Warn("Failed to record outcome", "job_id", jobID, "error", recordErr)
	}
}
