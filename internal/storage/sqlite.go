package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vucciaro/dealsbot/internal/models"
)

// SQLiteStore persists dedup records and channel state in a local sqlite
// database so they survive process restarts.
type SQLiteStore struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

// NewSQLiteStore opens (creating if needed) the database at dbPath and
// initializes the schema.
func NewSQLiteStore(dbPath string, ttl time.Duration) (*SQLiteStore, error) {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}

	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &SQLiteStore{db: db, ttl: ttl, now: time.Now}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS published_products (
			asin TEXT PRIMARY KEY,
			posted_at TIMESTAMP NOT NULL
		);

		CREATE TABLE IF NOT EXISTS channel_states (
			channel_id TEXT PRIMARY KEY,
			category TEXT NOT NULL,
			last_post_at TIMESTAMP,
			lightning_posts INTEGER NOT NULL DEFAULT 0,
			browsing_posts INTEGER NOT NULL DEFAULT 0,
			bestseller_posts INTEGER NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_published_products_posted_at ON published_products(posted_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) IsRecentlyPosted(ctx context.Context, asin string) (bool, error) {
	cutoff := s.now().Add(-s.ttl)
	var found int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM published_products WHERE asin = ? AND posted_at > ?",
		asin, cutoff.UTC()).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("querying published product %s: %w", asin, err)
	}
	return true, nil
}

func (s *SQLiteStore) MarkPosted(ctx context.Context, asin string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO published_products (asin, posted_at) VALUES (?, ?)
		 ON CONFLICT(asin) DO UPDATE SET posted_at = excluded.posted_at`,
		asin, at.UTC())
	if err != nil {
		return fmt.Errorf("marking product %s posted: %w", asin, err)
	}
	return nil
}

func (s *SQLiteStore) PruneExpired(ctx context.Context, before time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM published_products WHERE posted_at < ?", before.UTC())
	if err != nil {
		return fmt.Errorf("pruning expired dedup records: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LoadChannelState(ctx context.Context, channelID string) (*models.ChannelState, error) {
	var (
		category   string
		lastPostAt sql.NullTime
		lightning  int
		browsing   int
		bestseller int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT category, last_post_at, lightning_posts, browsing_posts, bestseller_posts
		 FROM channel_states WHERE channel_id = ?`, channelID).
		Scan(&category, &lastPostAt, &lightning, &browsing, &bestseller)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading channel state %s: %w", channelID, err)
	}

	state := models.NewChannelState(channelID, models.Category(category))
	if lastPostAt.Valid {
		state.LastPostAt = lastPostAt.Time
	}
	state.StrategyCounts[models.StrategyLightning] = lightning
	state.StrategyCounts[models.StrategyBrowsing] = browsing
	state.StrategyCounts[models.StrategyBestSeller] = bestseller
	return state, nil
}

func (s *SQLiteStore) SaveChannelState(ctx context.Context, state *models.ChannelState) error {
	var lastPostAt interface{}
	if !state.LastPostAt.IsZero() {
		lastPostAt = state.LastPostAt.UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO channel_states
			(channel_id, category, last_post_at, lightning_posts, browsing_posts, bestseller_posts)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(channel_id) DO UPDATE SET
			category = excluded.category,
			last_post_at = excluded.last_post_at,
			lightning_posts = excluded.lightning_posts,
			browsing_posts = excluded.browsing_posts,
			bestseller_posts = excluded.bestseller_posts`,
		state.ChannelID, string(state.Category), lastPostAt,
		state.StrategyCounts[models.StrategyLightning],
		state.StrategyCounts[models.StrategyBrowsing],
		state.StrategyCounts[models.StrategyBestSeller])
	if err != nil {
		return fmt.Errorf("saving channel state %s: %w", state.ChannelID, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
