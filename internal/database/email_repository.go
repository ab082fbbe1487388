package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// EmailRepository handles the normalized channel_emails table backing the
// unique-email count and the already-known-email checks.
type EmailRepository struct {
	db *sqlx.DB
}

// NewEmailRepository creates a new email repository.
func NewEmailRepository(db *sqlx.DB) *EmailRepository {
	return &EmailRepository{db: db}
}

// RecordEmails stores normalized emails for a channel. Duplicates are
// ignored so repeated enrichment runs are idempotent.
func (r *EmailRepository) RecordEmails(ctx context.Context, channelID string, emails []string, at time.Time) error {
	normalized := NormalizeEmails(emails)
	if len(normalized) == 0 {
		return nil
	}

	query := `
		INSERT INTO channel_emails (email, channel_id, first_seen)
		VALUES ($1, $2, $3)
		ON CONFLICT (email, channel_id) DO NOTHING
	`

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, email := range normalized {
		if _, execErr := tx.ExecContext(ctx, query, email, channelID, at); execErr != nil {
			return fmt.Errorf("failed to record email for %s: %w", channelID, execErr)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit emails: %w", err)
	}
	return nil
}

// KnownEmails returns the stored emails for one channel, sorted.
func (r *EmailRepository) KnownEmails(ctx context.Context, channelID string) ([]string, error) {
	var emails []string
	query := `SELECT email FROM channel_emails WHERE channel_id = $1 ORDER BY email`

	if err := r.db.SelectContext(ctx, &emails, query, channelID); err != nil {
		return nil, fmt.Errorf("failed to get known emails: %w", err)
	}
	return emails, nil
}

// AllKnown reports whether every email in the list is already stored for
// some channel. Used by email-only enrichment to skip channels whose emails
// are unchanged.
func (r *EmailRepository) AllKnown(ctx context.Context, emails []string) (bool, error) {
	normalized := NormalizeEmails(emails)
	if len(normalized) == 0 {
		return false, nil
	}

	var known int
	query := `SELECT COUNT(DISTINCT email) FROM channel_emails WHERE email = ANY($1)`

	if err := r.db.GetContext(ctx, &known, query, pq.Array(normalized)); err != nil {
		return false, fmt.Errorf("failed to check known emails: %w", err)
	}
	return known == len(normalized), nil
}

// UniqueEmailCount counts distinct emails across all channels.
func (r *EmailRepository) UniqueEmailCount(ctx context.Context) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(DISTINCT email) FROM channel_emails`); err != nil {
		return 0, fmt.Errorf("failed to count unique emails: %w", err)
	}
	return count, nil
}

// NormalizeEmails lowercases, trims and de-duplicates an email list,
// preserving first-seen order.
func NormalizeEmails(emails []string) []string {
	seen := make(map[string]struct{}, len(emails))
	normalized := make([]string, 0, len(emails))
	for _, email := range emails {
		e := strings.ToLower(strings.TrimSpace(email))
		if e == "" || !strings.Contains(e, "@") {
			continue
		}
		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}
		normalized = append(normalized, e)
	}
	return normalized
}
