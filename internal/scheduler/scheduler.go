// Package scheduler drives the posting loop: on every tick it finds the
// channels whose posting interval has elapsed and, for each, walks one
// deal from strategy selection through fetching, filtering, dedup and
// publishing, recording the outcome.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vucciaro/dealsbot/internal/cache"
	"github.com/vucciaro/dealsbot/internal/config"
	"github.com/vucciaro/dealsbot/internal/filter"
	"github.com/vucciaro/dealsbot/internal/keepa"
	"github.com/vucciaro/dealsbot/internal/models"
	"github.com/vucciaro/dealsbot/internal/picker"
	"github.com/vucciaro/dealsbot/internal/storage"
)

// channelRunTimeout bounds one channel's fetch-filter-publish pipeline.
const channelRunTimeout = 2 * time.Minute

type Scheduler struct {
	cfg       *config.Config
	source    DealSource
	publisher Publisher
	cache     *cache.Cache
	store     storage.Store

	// states holds the working copy of per-channel state. Each entry is
	// only mutated by its own channel's run.
	states map[string]*models.ChannelState

	now func() time.Time
}

// New builds a Scheduler and loads (or initializes) the state of every
// configured channel from the store.
func New(ctx context.Context, cfg *config.Config, source DealSource, publisher Publisher, c *cache.Cache, store storage.Store) (*Scheduler, error) {
	s := &Scheduler{
		cfg:       cfg,
		source:    source,
		publisher: publisher,
		cache:     c,
		store:     store,
		states:    make(map[string]*models.ChannelState),
		now:       time.Now,
	}

	for _, ch := range cfg.Channels {
		state, err := store.LoadChannelState(ctx, ch.ID)
		if err != nil {
			return nil, fmt.Errorf("loading state for channel %s: %w", ch.ID, err)
		}
		if state == nil {
			state = models.NewChannelState(ch.ID, ch.Category)
		}
		state.Category = ch.Category
		s.states[ch.ID] = state
		slog.Info("Channel ready", "channel", ch.ID, "category", ch.Category,
			"posts", state.TotalPosts(), "last_post", state.LastPostAt)
	}
	return s, nil
}

// Run blocks, ticking at the configured interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	slog.Info("Scheduler started", "tick_interval", s.cfg.TickInterval)
	s.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Scheduler stopping", "reason", ctx.Err())
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick processes every due channel once. Due channels run concurrently;
// a channel failure only costs that channel its post this tick.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now()
	if !s.withinActiveHours(now) {
		slog.Debug("Outside active posting hours", "hour", now.Hour())
		return
	}

	due := s.dueChannels(now)
	if len(due) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, ch := range due {
		g.Go(func() error {
			runCtx, cancel := context.WithTimeout(gctx, channelRunTimeout)
			defer cancel()
			s.runChannel(runCtx, ch, now)
			return nil
		})
	}
	_ = g.Wait()
}

// dueChannels is the rotation controller: each channel is due when its
// own interval has elapsed since its last post, so channels drift in and
// out of phase independently.
func (s *Scheduler) dueChannels(now time.Time) []config.Channel {
	var due []config.Channel
	for _, ch := range s.cfg.Channels {
		state := s.states[ch.ID]
		if state.LastPostAt.IsZero() || now.Sub(state.LastPostAt) >= ch.PostInterval(s.cfg.PostInterval) {
			due = append(due, ch)
		}
	}
	return due
}

func (s *Scheduler) withinActiveHours(now time.Time) bool {
	h := now.Hour()
	return h >= s.cfg.ActiveHoursStart && h < s.cfg.ActiveHoursEnd
}

// runChannel walks one channel through a full posting attempt. Every
// failure path is recoverable: the channel simply posts nothing this tick
// and, because its timer is only advanced on success, retries next tick.
func (s *Scheduler) runChannel(ctx context.Context, ch config.Channel, now time.Time) {
	state := s.states[ch.ID]
	profile := s.cfg.Profiles[ch.Category]
	strategy := picker.Next(state)

	q := keepa.Query{
		Category:    ch.Category,
		Nodes:       ch.CategoryNodes,
		MinDiscount: int(profile.MinDiscount),
	}
	batch, err := s.cache.GetOrFetch(ctx, strategy, ch.Category,
		func(fctx context.Context, st models.Strategy, _ models.Category) ([]models.Deal, error) {
			return s.source.FetchDeals(fctx, st, q)
		})
	if err != nil {
		slog.Warn("Fetch failed, no post this tick", "channel", ch.ID, "strategy", strategy, "error", err)
		return
	}
	if batch.Stale {
		slog.Info("Serving stale batch", "channel", ch.ID, "strategy", strategy, "fetched_at", batch.FetchedAt)
	}

	best, ok := s.selectCandidate(ctx, batch.Deals, profile)
	if !ok {
		slog.Info("No eligible deal this tick", "channel", ch.ID, "strategy", strategy, "batch_size", len(batch.Deals))
		return
	}

	if err := s.publisher.PublishDeal(ctx, ch.ID, best, ch.Emoji); err != nil {
		slog.Warn("Publish failed, will retry next tick", "channel", ch.ID, "asin", best.ASIN, "error", err)
		return
	}
	slog.Info("Published deal", "channel", ch.ID, "asin", best.ASIN,
		"strategy", strategy, "discount", best.DiscountPercent, "price", best.CurrentPrice)

	s.record(ctx, state, strategy, best, now)
}

// selectCandidate filters the batch down to quality-passing, not recently
// posted deals and returns the best by (discount, rating, reviews),
// preserving batch order on full ties.
func (s *Scheduler) selectCandidate(ctx context.Context, deals []models.Deal, profile models.CategoryProfile) (models.Deal, bool) {
	var best models.Deal
	found := false
	for _, d := range deals {
		if !filter.Accepts(d, profile) {
			continue
		}
		recent, err := s.store.IsRecentlyPosted(ctx, d.ASIN)
		if err != nil {
			// Fail closed: skipping a maybe-posted deal beats reposting it.
			slog.Warn("Dedup check failed, skipping candidate", "asin", d.ASIN, "error", err)
			continue
		}
		if recent {
			continue
		}
		if !found || betterCandidate(d, best) {
			best = d
			found = true
		}
	}
	return best, found
}

func betterCandidate(a, b models.Deal) bool {
	if a.DiscountPercent != b.DiscountPercent {
		return a.DiscountPercent > b.DiscountPercent
	}
	if a.Rating != b.Rating {
		return a.Rating > b.Rating
	}
	return a.ReviewCount > b.ReviewCount
}

// record runs the Recording transition after a successful publish.
func (s *Scheduler) record(ctx context.Context, state *models.ChannelState, strategy models.Strategy, deal models.Deal, now time.Time) {
	if err := s.store.MarkPosted(ctx, deal.ASIN, now); err != nil {
		slog.Error("Failed to mark deal posted", "asin", deal.ASIN, "error", err)
	}

	state.RecordPost(strategy, now)
	if err := s.store.SaveChannelState(ctx, state); err != nil {
		slog.Warn("Failed to persist channel state", "channel", state.ChannelID, "error", err)
	}

	if err := s.store.PruneExpired(ctx, now.Add(-s.cfg.DedupTTL)); err != nil {
		slog.Warn("Failed to prune expired dedup records", "error", err)
	}
}
