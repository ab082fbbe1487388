// Package blacklist imports CSV blacklist exports into the channel store.
package blacklist

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/jonesrussell/harvester/internal/database"
	"github.com/jonesrussell/harvester/internal/domain"
	"github.com/jonesrussell/harvester/internal/logger"
)

const channelIDLength = 24

// ChannelStore is the slice of the channel repository the importer needs.
type ChannelStore interface {
	GetByID(ctx context.Context, channelID string) (*domain.Channel, error)
	UpsertDiscovered(ctx context.Context, channels []domain.Channel) (inserted []string, blacklisted int, err error)
	MoveCategory(ctx context.Context, channelIDs []string, category domain.Category) ([]string, error)
}

// Importer reads a CSV export and blacklists every channel it can resolve.
// Rows it cannot resolve are reported back, not dropped silently.
type Importer struct {
	repo   ChannelStore
	logger logger.Interface
}

// NewImporter creates a blacklist importer.
func NewImporter(repo ChannelStore, log logger.Interface) *Importer {
	return &Importer{
		repo:   repo,
		logger: log.WithComponent("blacklist"),
	}
}

// Import parses CSV rows and moves each resolved channel to the blacklist.
// Unknown channels are created directly in the blacklist so rediscovery
// cannot resurrect them. Returns per-row accounting; a malformed CSV aborts
// with an error before any accounting is returned.
func (i *Importer) Import(ctx context.Context, r io.Reader) (*domain.ImportResult, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	result := &domain.ImportResult{}
	row := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse CSV: %w", err)
		}
		row++

		if row == 1 && looksLikeHeader(record) {
			continue
		}
		if isEmptyRecord(record) {
			continue
		}

		channelID, title, column, resolveErr := resolveRecord(record)
		if resolveErr != nil {
			result.Unresolved = append(result.Unresolved, domain.ImportRowIssue{
				Row:    row,
				Column: column,
				Input:  strings.Join(record, ","),
				Reason: resolveErr.Error(),
			})
			continue
		}

		if err = i.blacklistChannel(ctx, channelID, title, result); err != nil {
			return nil, err
		}
	}

	i.logger.Info("Blacklist import finished",
		"created", result.Created,
		"updated", result.Updated,
		"skipped", result.Skipped,
		"unresolved", len(result.Unresolved))

	return result, nil
}

func (i *Importer) blacklistChannel(ctx context.Context, channelID, title string, result *domain.ImportResult) error {
	existing, err := i.repo.GetByID(ctx, channelID)
	switch {
	case errors.Is(err, database.ErrChannelNotFound):
		_, _, upsertErr := i.repo.UpsertDiscovered(ctx, []domain.Channel{{
			ChannelID: channelID,
			Title:     title,
			Category:  domain.CategoryBlacklisted,
		}})
		if upsertErr != nil {
			return fmt.Errorf("failed to create channel %s: %w", channelID, upsertErr)
		}
		result.Created++
	case err != nil:
		return fmt.Errorf("failed to look up channel %s: %w", channelID, err)
	case existing.Category == domain.CategoryBlacklisted:
		result.Skipped++
	default:
		if _, moveErr := i.repo.MoveCategory(ctx, []string{channelID}, domain.CategoryBlacklisted); moveErr != nil {
			return fmt.Errorf("failed to blacklist channel %s: %w", channelID, moveErr)
		}
		result.Updated++
	}
	return nil
}

// resolveRecord extracts a channel id from the first field that carries one,
// either as a bare id or inside a channel URL. The first non-id field is
// treated as the title.
func resolveRecord(record []string) (channelID, title, column string, err error) {
	for idx, field := range record {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		if id, ok := parseChannelID(field); ok {
			col := fmt.Sprintf("column %d", idx+1)
			return id, titleFrom(record, idx), col, nil
		}
	}
	return "", "", "column 1", errors.New("no channel id or channel URL found")
}

func titleFrom(record []string, idColumn int) string {
	for idx, field := range record {
		if idx == idColumn {
			continue
		}
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		if _, isID := parseChannelID(field); isID {
			continue
		}
		return field
	}
	return ""
}

// parseChannelID accepts bare UC-prefixed ids and channel URLs.
func parseChannelID(s string) (string, bool) {
	if isChannelID(s) {
		return s, true
	}

	if !strings.Contains(s, "/") {
		return "", false
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", false
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for idx, part := range parts {
		if part == "channel" && idx+1 < len(parts) && isChannelID(parts[idx+1]) {
			return parts[idx+1], true
		}
	}
	return "", false
}

func isChannelID(s string) bool {
	return len(s) == channelIDLength && strings.HasPrefix(s, "UC")
}

func looksLikeHeader(record []string) bool {
	for _, field := range record {
		switch strings.ToLower(strings.TrimSpace(field)) {
		case "channel_id", "channelid", "url", "channel_url", "title", "name":
			return true
		}
	}
	return false
}

func isEmptyRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
