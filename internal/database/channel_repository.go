package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jonesrussell/harvester/internal/domain"
)

const channelColumns = `channel_id, title, url, category, status, status_reason,
	last_status_change, archived_at, subscribers, language, language_confidence,
	emails, email_gate_present, created_at, last_updated, last_attempted,
	last_enriched_at, last_enriched_result, last_error`

// sortColumns whitelists user-facing sort keys for the list view.
var sortColumns = map[string]string{
	"title":          "title",
	"created_at":     "created_at",
	"last_updated":   "last_updated",
	"subscribers":    "subscribers",
	"status":         "status",
	"last_attempted": "last_attempted",
}

// ErrChannelNotFound is returned when a channel id does not exist.
var ErrChannelNotFound = errors.New("channel not found")

// ChannelRepository handles database operations for channels.
type ChannelRepository struct {
	db *sqlx.DB
}

// NewChannelRepository creates a new channel repository.
func NewChannelRepository(db *sqlx.DB) *ChannelRepository {
	return &ChannelRepository{db: db}
}

// UpsertDiscovered inserts newly discovered channels, refreshing the title
// and last_updated timestamp of already-known ones. Blacklisted channels are
// never resurrected. Returns the ids that were actually new and the number
// of hits dropped because they matched a blacklisted row.
func (r *ChannelRepository) UpsertDiscovered(ctx context.Context, channels []domain.Channel) ([]string, int, error) {
	if len(channels) == 0 {
		return nil, 0, nil
	}

	query := `
		INSERT INTO channels (channel_id, title, url, category, status, created_at, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (channel_id) DO UPDATE
		SET title = COALESCE(NULLIF(EXCLUDED.title, ''), channels.title),
		    last_updated = EXCLUDED.last_updated
		WHERE channels.category <> 'blacklisted'
		RETURNING (xmax = 0) AS inserted
	`

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	var inserted []string
	var blacklisted int
	for i := range channels {
		ch := channels[i]
		if ch.Category == "" {
			ch.Category = domain.CategoryActive
		}
		if ch.Status == "" {
			ch.Status = domain.StatusNew
		}
		var isNew bool
		err = tx.QueryRowContext(ctx, query,
			ch.ChannelID,
			ch.Title,
			domain.ChannelURL(ch.ChannelID, ch.URL),
			ch.Category,
			ch.Status,
			now,
		).Scan(&isNew)
		if errors.Is(err, sql.ErrNoRows) {
			// Conflict with a blacklisted row.
			blacklisted++
			continue
		}
		if err != nil {
			return nil, 0, fmt.Errorf("failed to upsert channel %s: %w", ch.ChannelID, err)
		}
		if isNew {
			inserted = append(inserted, ch.ChannelID)
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, 0, fmt.Errorf("failed to commit upsert: %w", err)
	}

	return inserted, blacklisted, nil
}

// GetByID retrieves a channel by its id.
func (r *ChannelRepository) GetByID(ctx context.Context, channelID string) (*domain.Channel, error) {
	var ch domain.Channel
	query := fmt.Sprintf(`SELECT %s FROM channels WHERE channel_id = $1`, channelColumns)

	err := r.db.GetContext(ctx, &ch, query, channelID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrChannelNotFound, channelID)
		}
		return nil, fmt.Errorf("failed to get channel: %w", err)
	}

	return &ch, nil
}

// List retrieves channels with filtering, sorting and pagination.
func (r *ChannelRepository) List(ctx context.Context, params ListChannelsParams) ([]*domain.Channel, int, error) {
	where := make([]string, 0, 2)
	args := make([]any, 0, 4)

	if params.Category != "" {
		args = append(args, params.Category)
		where = append(where, fmt.Sprintf("category = $%d", len(args)))
	}
	if params.Search != "" {
		args = append(args, "%"+params.Search+"%")
		where = append(where, fmt.Sprintf("(title ILIKE $%d OR emails ILIKE $%d)", len(args), len(args)))
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, " AND ")
	}

	sortColumn, ok := sortColumns[params.Sort]
	if !ok {
		sortColumn = "created_at"
	}
	order := "DESC"
	if strings.EqualFold(params.Order, "asc") {
		order = "ASC"
	}

	limit := params.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := params.Offset
	if offset < 0 {
		offset = 0
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM channels " + whereClause
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count channels: %w", err)
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf(
		"SELECT %s FROM channels %s ORDER BY %s %s, channel_id LIMIT $%d OFFSET $%d",
		channelColumns, whereClause, sortColumn, order, len(args)-1, len(args),
	)

	var channels []*domain.Channel
	if err := r.db.SelectContext(ctx, &channels, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list channels: %w", err)
	}
	if channels == nil {
		channels = []*domain.Channel{}
	}

	return channels, total, nil
}

// SelectCandidates returns enrichment candidates for the given mode, oldest
// work first with channel_id as a stable tie-break so repeated calls walk
// the backlog instead of re-selecting the same head. In-flight (processing)
// channels are never selected.
func (r *ChannelRepository) SelectCandidates(ctx context.Context, mode domain.Mode, limit int) ([]*domain.Channel, error) {
	var query string
	switch mode {
	case domain.ModeEmailOnly:
		query = fmt.Sprintf(`
			SELECT %s FROM channels
			WHERE category = 'active' AND status <> 'processing'
			ORDER BY last_updated ASC NULLS FIRST, channel_id
			LIMIT $1
		`, channelColumns)
	default:
		query = fmt.Sprintf(`
			SELECT %s FROM channels
			WHERE category = 'active' AND status IN ('new', 'error')
			ORDER BY last_attempted ASC NULLS FIRST, channel_id
			LIMIT $1
		`, channelColumns)
	}

	var channels []*domain.Channel
	if err := r.db.SelectContext(ctx, &channels, query, limit); err != nil {
		return nil, fmt.Errorf("failed to select candidates: %w", err)
	}

	return channels, nil
}

// Claim atomically flips still-eligible channels to processing and returns
// the ids it won. Two concurrent claims can never take the same channel:
// the status guard makes the update conditional and Postgres serializes the
// row updates.
func (r *ChannelRepository) Claim(ctx context.Context, channelIDs []string) ([]string, error) {
	if len(channelIDs) == 0 {
		return nil, nil
	}

	query := `
		UPDATE channels
		SET status = 'processing', status_reason = NULL,
		    last_status_change = $2, last_attempted = $2, last_error = NULL
		WHERE channel_id = ANY($1) AND category = 'active' AND status <> 'processing'
		RETURNING channel_id
	`

	var claimed []string
	if err := r.db.SelectContext(ctx, &claimed, query, pq.Array(channelIDs), time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("failed to claim channels: %w", err)
	}

	return claimed, nil
}

// MarkEnriched writes a successful enrichment result. Category is never
// touched here; enrichment status and curation category evolve independently.
func (r *ChannelRepository) MarkEnriched(ctx context.Context, channelID string, fields domain.EnrichmentFields, result string, at time.Time) error {
	emails := joinEmails(fields.Emails)

	query := `
		UPDATE channels
		SET title = COALESCE(NULLIF($2, ''), title),
		    subscribers = COALESCE($3, subscribers),
		    language = COALESCE($4, language),
		    language_confidence = COALESCE($5, language_confidence),
		    emails = COALESCE($6, emails),
		    email_gate_present = COALESCE($7, email_gate_present),
		    status = 'completed', status_reason = NULL, last_error = NULL,
		    last_status_change = $8, last_updated = $8, last_attempted = $8,
		    last_enriched_at = $8, last_enriched_result = $9
		WHERE channel_id = $1
	`

	res, err := r.db.ExecContext(ctx, query,
		channelID, fields.Title, fields.Subscribers, fields.Language,
		fields.LanguageConfidence, emails, fields.EmailGatePresent, at, result)
	if err != nil {
		return fmt.Errorf("failed to mark channel enriched: %w", err)
	}
	return requireRow(res, channelID)
}

// MarkEnrichFailed records a failed enrichment attempt. The reason lands in
// both status_reason and last_error; it clears when the status leaves error.
func (r *ChannelRepository) MarkEnrichFailed(ctx context.Context, channelID, reason string, at time.Time) error {
	query := `
		UPDATE channels
		SET status = 'error', status_reason = $2, last_error = $2,
		    last_status_change = $3, last_attempted = $3,
		    last_enriched_at = $3, last_enriched_result = 'error'
		WHERE channel_id = $1
	`

	res, err := r.db.ExecContext(ctx, query, channelID, reason, at)
	if err != nil {
		return fmt.Errorf("failed to mark channel errored: %w", err)
	}
	return requireRow(res, channelID)
}

// UpdateEmailFields writes the email-only enrichment result without touching
// the full enrichment payload.
func (r *ChannelRepository) UpdateEmailFields(ctx context.Context, channelID string, emails []string, gatePresent *bool, result string, at time.Time) error {
	query := `
		UPDATE channels
		SET emails = COALESCE($2, emails),
		    email_gate_present = COALESCE($3, email_gate_present),
		    status = 'completed', status_reason = NULL,
		    last_status_change = $4, last_updated = $4,
		    last_enriched_at = $4, last_enriched_result = $5
		WHERE channel_id = $1
	`

	res, err := r.db.ExecContext(ctx, query, channelID, joinEmails(emails), gatePresent, at, result)
	if err != nil {
		return fmt.Errorf("failed to update email fields: %w", err)
	}
	return requireRow(res, channelID)
}

// ResetProcessing forces any of the given channels still marked processing
// to error. Failsafe so a finished job can never strand a channel in
// processing. Returns the number of rows repaired.
func (r *ChannelRepository) ResetProcessing(ctx context.Context, channelIDs []string, reason string) (int, error) {
	if len(channelIDs) == 0 {
		return 0, nil
	}

	query := `
		UPDATE channels
		SET status = 'error', status_reason = $2, last_error = $2, last_status_change = $3
		WHERE channel_id = ANY($1) AND status = 'processing'
	`

	res, err := r.db.ExecContext(ctx, query, pq.Array(channelIDs), reason, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to reset processing channels: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return int(affected), nil
}

// MoveCategory moves channels into the given category and returns the ids
// actually moved. Channels already in the category are untouched, which
// makes re-archiving a no-op rather than an error. Enrichment status is
// deliberately left alone.
func (r *ChannelRepository) MoveCategory(ctx context.Context, channelIDs []string, category domain.Category) ([]string, error) {
	if len(channelIDs) == 0 {
		return nil, nil
	}

	query := `
		UPDATE channels
		SET category = $2,
		    archived_at = CASE WHEN $2 = 'archived' THEN $3 ELSE archived_at END
		WHERE channel_id = ANY($1) AND category <> $2
		RETURNING channel_id
	`

	var moved []string
	if err := r.db.SelectContext(ctx, &moved, query, pq.Array(channelIDs), category, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("failed to move channels to %s: %w", category, err)
	}

	return moved, nil
}

// CategoryTotals counts channels per category.
func (r *ChannelRepository) CategoryTotals(ctx context.Context) (map[domain.Category]int, error) {
	rows := []struct {
		Category domain.Category `db:"category"`
		Count    int             `db:"count"`
	}{}

	if err := r.db.SelectContext(ctx, &rows,
		`SELECT category, COUNT(*) AS count FROM channels GROUP BY category`); err != nil {
		return nil, fmt.Errorf("failed to count categories: %w", err)
	}

	totals := map[domain.Category]int{
		domain.CategoryActive:      0,
		domain.CategoryArchived:    0,
		domain.CategoryBlacklisted: 0,
	}
	for _, row := range rows {
		totals[row.Category] = row.Count
	}
	return totals, nil
}

// StatusTotals counts active channels per enrichment status.
func (r *ChannelRepository) StatusTotals(ctx context.Context) (map[domain.Status]int, error) {
	rows := []struct {
		Status domain.Status `db:"status"`
		Count  int           `db:"count"`
	}{}

	if err := r.db.SelectContext(ctx, &rows,
		`SELECT status, COUNT(*) AS count FROM channels WHERE category = 'active' GROUP BY status`); err != nil {
		return nil, fmt.Errorf("failed to count statuses: %w", err)
	}

	totals := map[domain.Status]int{
		domain.StatusNew:        0,
		domain.StatusProcessing: 0,
		domain.StatusCompleted:  0,
		domain.StatusError:      0,
	}
	for _, row := range rows {
		totals[row.Status] = row.Count
	}
	return totals, nil
}

// joinEmails renders an email list for the denormalized channels.emails
// column. Returns nil (SQL NULL) for an empty list so COALESCE keeps the
// previous value.
func joinEmails(emails []string) *string {
	if len(emails) == 0 {
		return nil
	}
	joined := strings.Join(emails, ", ")
	return &joined
}

// requireRow converts a zero-row update into ErrChannelNotFound.
func requireRow(res sql.Result, channelID string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrChannelNotFound, channelID)
	}
	return nil
}
