package models

import (
	"math"
	"time"
)

// Strategy identifies which upstream Keepa query produced a deal.
type Strategy string

const (
	StrategyLightning  Strategy = "lightning"
	StrategyBrowsing   Strategy = "browsing"
	StrategyBestSeller Strategy = "bestseller"
)

// Strategies lists all sourcing strategies in mix-priority order.
var Strategies = []Strategy{StrategyLightning, StrategyBrowsing, StrategyBestSeller}

// Category is the channel-level topic a deal belongs to.
type Category string

const (
	CategoryTech Category = "tech"
	CategoryModa Category = "moda"
)

// Deal represents one candidate offer fetched from the deals API.
// Prices are in euros and Rating is on the 0-5 scale; the keepa package
// converts from the wire encoding (cents, rating*10) at the boundary.
type Deal struct {
	ASIN            string `validate:"required"`
	Title           string
	ImageID         string
	CurrentPrice    float64 `validate:"gt=0"`
	OriginalPrice   float64 `validate:"gte=0"`
	DiscountPercent float64 `validate:"gte=0"`
	Rating          float64 `validate:"gte=0,lte=5"`
	ReviewCount     int     `validate:"gte=0"`
	Category        Category
	Strategy        Strategy
	RawURL          string `validate:"omitempty,url"`
}

// Valid reports whether the deal carries the minimum data needed to
// evaluate and post it. Non-finite numbers fail closed.
func (d Deal) Valid() bool {
	if d.ASIN == "" {
		return false
	}
	for _, v := range []float64{d.CurrentPrice, d.OriginalPrice, d.DiscountPercent, d.Rating} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return d.CurrentPrice > 0 && d.DiscountPercent >= 0 &&
		d.Rating >= 0 && d.Rating <= 5 && d.ReviewCount >= 0
}

// CategoryProfile holds the per-category quality thresholds and price
// bounds. Loaded once at startup and immutable for the process lifetime.
type CategoryProfile struct {
	MinDiscount float64 `yaml:"min_discount" validate:"gte=0,lte=100"`
	MinRating   float64 `yaml:"min_rating" validate:"gte=0,lte=5"`
	MinReviews  int     `yaml:"min_reviews" validate:"gte=0"`
	MinPrice    float64 `yaml:"min_price" validate:"gte=0"`
	MaxPrice    float64 `yaml:"max_price" validate:"gt=0"`
}

// ChannelState tracks per-channel posting history: when the channel last
// posted and how many posts each sourcing strategy has produced. The
// strategy counters drive the 60/30/10 mix selection.
type ChannelState struct {
	ChannelID      string
	Category       Category
	LastPostAt     time.Time
	StrategyCounts map[Strategy]int
}

// NewChannelState returns a zeroed state for a channel that has never posted.
func NewChannelState(channelID string, category Category) *ChannelState {
	return &ChannelState{
		ChannelID:      channelID,
		Category:       category,
		StrategyCounts: make(map[Strategy]int),
	}
}

// TotalPosts returns the number of posts recorded across all strategies.
func (s *ChannelState) TotalPosts() int {
	total := 0
	for _, n := range s.StrategyCounts {
		total += n
	}
	return total
}

// RecordPost updates the state after a successful publish.
func (s *ChannelState) RecordPost(strategy Strategy, at time.Time) {
	if s.StrategyCounts == nil {
		s.StrategyCounts = make(map[Strategy]int)
	}
	s.StrategyCounts[strategy]++
	s.LastPostAt = at
}

// DedupRecord maps a posted product to the time it was last published.
type DedupRecord struct {
	ASIN         string
	LastPostedAt time.Time
}
