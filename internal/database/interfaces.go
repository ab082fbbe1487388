package database

import (
	"context"
	"time"

	"github.com/jonesrussell/harvester/internal/domain"
)

// ListChannelsParams filters and pages the channel list view.
type ListChannelsParams struct {
	Search   string
	Category domain.Category
	Sort     string
	Order    string
	Limit    int
	Offset   int
}

// ChannelRepositoryInterface defines channel storage operations.
type ChannelRepositoryInterface interface {
	UpsertDiscovered(ctx context.Context, channels []domain.Channel) (inserted []string, blacklisted int, err error)
	GetByID(ctx context.Context, channelID string) (*domain.Channel, error)
	List(ctx context.Context, params ListChannelsParams) ([]*domain.Channel, int, error)

	SelectCandidates(ctx context.Context, mode domain.Mode, limit int) ([]*domain.Channel, error)
	Claim(ctx context.Context, channelIDs []string) ([]string, error)
	MarkEnriched(ctx context.Context, channelID string, fields domain.EnrichmentFields, result string, at time.Time) error
	MarkEnrichFailed(ctx context.Context, channelID, reason string, at time.Time) error
	UpdateEmailFields(ctx context.Context, channelID string, emails []string, gatePresent *bool, result string, at time.Time) error
	ResetProcessing(ctx context.Context, channelIDs []string, reason string) (int, error)

	MoveCategory(ctx context.Context, channelIDs []string, category domain.Category) ([]string, error)
	CategoryTotals(ctx context.Context) (map[domain.Category]int, error)
	StatusTotals(ctx context.Context) (map[domain.Status]int, error)
}

// EmailRepositoryInterface defines normalized email storage operations.
type EmailRepositoryInterface interface {
	RecordEmails(ctx context.Context, channelID string, emails []string, at time.Time) error
	KnownEmails(ctx context.Context, channelID string) ([]string, error)
	AllKnown(ctx context.Context, emails []string) (bool, error)
	UniqueEmailCount(ctx context.Context) (int, error)
}
