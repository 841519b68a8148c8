package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vucciaro/dealsbot/internal/models"
)

const (
	dedupCollection   = "published_products"
	channelCollection = "channel_states"
)

// FirestoreStore backs the dedup and channel-state stores with Firestore,
// for deployments where multiple instances share posting state.
type FirestoreStore struct {
	client *firestore.Client
	ttl    time.Duration
	now    func() time.Time
}

type dedupDoc struct {
	PostedAt time.Time `firestore:"postedAt"`
}

type channelStateDoc struct {
	Category        string    `firestore:"category"`
	LastPostAt      time.Time `firestore:"lastPostAt"`
	LightningPosts  int       `firestore:"lightningPosts"`
	BrowsingPosts   int       `firestore:"browsingPosts"`
	BestSellerPosts int       `firestore:"bestSellerPosts"`
}

// NewFirestoreStore connects to Firestore in the given project.
func NewFirestoreStore(ctx context.Context, projectID string, ttl time.Duration) (*FirestoreStore, error) {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("firestore.NewClient: %w", err)
	}
	return &FirestoreStore{client: client, ttl: ttl, now: time.Now}, nil
}

func (f *FirestoreStore) IsRecentlyPosted(ctx context.Context, asin string) (bool, error) {
	doc, err := f.client.Collection(dedupCollection).Doc(asin).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return false, nil
		}
		return false, fmt.Errorf("failed to get dedup record %s: %w", asin, err)
	}

	var record dedupDoc
	if err := doc.DataTo(&record); err != nil {
		return false, fmt.Errorf("failed to unmarshal dedup record %s: %w", asin, err)
	}
	return f.now().Sub(record.PostedAt) < f.ttl, nil
}

func (f *FirestoreStore) MarkPosted(ctx context.Context, asin string, at time.Time) error {
	// Set is an upsert, so repeated marking overwrites the stale timestamp.
	_, err := f.client.Collection(dedupCollection).Doc(asin).Set(ctx, dedupDoc{PostedAt: at})
	if err != nil {
		return fmt.Errorf("failed to mark %s posted: %w", asin, err)
	}
	return nil
}

// PruneExpired bulk-deletes dedup records older than the cutoff.
func (f *FirestoreStore) PruneExpired(ctx context.Context, before time.Time) error {
	iter := f.client.Collection(dedupCollection).
		Where("postedAt", "<", before).
		Documents(ctx)
	defer iter.Stop()

	bulkWriter := f.client.BulkWriter(ctx)
	defer bulkWriter.End()

	deleted := 0
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to iterate expired dedup records: %w", err)
		}
		if _, delErr := bulkWriter.Delete(doc.Ref); delErr != nil {
			slog.Warn("Failed to queue dedup record delete", "id", doc.Ref.ID, "error", delErr)
			continue
		}
		deleted++
	}

	if deleted > 0 {
		bulkWriter.Flush()
		slog.Info("Pruned expired dedup records", "count", deleted)
	}
	return nil
}

func (f *FirestoreStore) LoadChannelState(ctx context.Context, channelID string) (*models.ChannelState, error) {
	doc, err := f.client.Collection(channelCollection).Doc(docID(channelID)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load channel state %s: %w", channelID, err)
	}

	var stored channelStateDoc
	if err := doc.DataTo(&stored); err != nil {
		return nil, fmt.Errorf("failed to unmarshal channel state %s: %w", channelID, err)
	}

	state := models.NewChannelState(channelID, models.Category(stored.Category))
	state.LastPostAt = stored.LastPostAt
	state.StrategyCounts[models.StrategyLightning] = stored.LightningPosts
	state.StrategyCounts[models.StrategyBrowsing] = stored.BrowsingPosts
	state.StrategyCounts[models.StrategyBestSeller] = stored.BestSellerPosts
	return state, nil
}

func (f *FirestoreStore) SaveChannelState(ctx context.Context, state *models.ChannelState) error {
	stored := channelStateDoc{
		Category:        string(state.Category),
		LastPostAt:      state.LastPostAt,
		LightningPosts:  state.StrategyCounts[models.StrategyLightning],
		BrowsingPosts:   state.StrategyCounts[models.StrategyBrowsing],
		BestSellerPosts: state.StrategyCounts[models.StrategyBestSeller],
	}
	_, err := f.client.Collection(channelCollection).Doc(docID(state.ChannelID)).Set(ctx, stored)
	if err != nil {
		return fmt.Errorf("failed to save channel state %s: %w", state.ChannelID, err)
	}
	return nil
}

func (f *FirestoreStore) Close() error {
	return f.client.Close()
}

// docID strips the leading @ from Telegram channel IDs; Firestore document
// IDs must not start with one in our naming scheme.
func docID(channelID string) string {
	if len(channelID) > 0 && channelID[0] == '@' {
		return channelID[1:]
	}
	return channelID
}
