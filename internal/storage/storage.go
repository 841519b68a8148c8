// Package storage provides the dedup and channel-state stores behind the
// posting scheduler. Three backends are available: in-memory (tests,
// throwaway deployments), sqlite (default, survives restarts) and
// Firestore (shared state across instances).
package storage

import (
	"context"
	"time"

	"github.com/vucciaro/dealsbot/internal/models"
)

// DefaultDedupTTL is the window during which a posted product is
// suppressed from re-selection.
const DefaultDedupTTL = 48 * time.Hour

// DedupStore records which products were recently posted.
type DedupStore interface {
	// IsRecentlyPosted reports whether asin was posted within the dedup window.
	IsRecentlyPosted(ctx context.Context, asin string) (bool, error)
	// MarkPosted upserts the posted-at timestamp for asin. Repeated marking
	// is idempotent.
	MarkPosted(ctx context.Context, asin string, at time.Time) error
	// PruneExpired removes records older than the cutoff.
	PruneExpired(ctx context.Context, before time.Time) error
}

// ChannelStateStore persists per-channel posting history.
type ChannelStateStore interface {
	// LoadChannelState returns the stored state for channelID, or nil if none exists.
	LoadChannelState(ctx context.Context, channelID string) (*models.ChannelState, error)
	// SaveChannelState upserts the state.
	SaveChannelState(ctx context.Context, state *models.ChannelState) error
}

// Store combines both stores with lifecycle management.
type Store interface {
	DedupStore
	ChannelStateStore
	Close() error
}
