package scheduler

import (
	"context"

	"github.com/vucciaro/dealsbot/internal/keepa"
	"github.com/vucciaro/dealsbot/internal/models"
)

// DealSource abstracts the deals-API collaborator.
type DealSource interface {
	FetchDeals(ctx context.Context, strategy models.Strategy, q keepa.Query) ([]models.Deal, error)
}

// Publisher abstracts the messaging-channel collaborator.
type Publisher interface {
	PublishDeal(ctx context.Context, channelID string, deal models.Deal, emoji []string) error
}
