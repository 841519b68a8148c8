// Package keepa implements the deals-API collaborator: a thin client for
// the Keepa HTTP API covering the three sourcing strategies (lightning
// deals, category browsing, best sellers). Wire-format quirks — prices in
// cents, ratings multiplied by ten — are normalized here so the rest of
// the system works in euros and 0-5 stars.
package keepa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/vucciaro/dealsbot/internal/models"
	"github.com/vucciaro/dealsbot/internal/util"
)

const (
	defaultBaseURL = "https://api.keepa.com"
	domainItaly    = 8

	// Keepa stats array indices (see the product stats documentation).
	statsIndexAmazonPrice = 0
	statsIndexRating      = 16
	statsIndexReviewCount = 17

	maxBestSellerProducts = 20
	maxRetries            = 3
)

// Query carries the channel-specific parameters of a fetch.
type Query struct {
	Category    models.Category
	Nodes       []int
	MinDiscount int
}

type Client struct {
	apiKey           string
	baseURL          string
	httpClient       *http.Client
	limiter          *rate.Limiter
	rateLimitBackoff time.Duration
}

// New creates a Keepa client. Outbound calls are throttled to keep well
// inside the daily token budget even if every cache lookup misses.
func New(apiKey string) *Client {
	return &Client{
		apiKey:           apiKey,
		baseURL:          defaultBaseURL,
		httpClient:       &http.Client{Timeout: 30 * time.Second},
		limiter:          rate.NewLimiter(rate.Every(10*time.Second), 2),
		rateLimitBackoff: time.Minute,
	}
}

// FetchDeals queries the endpoint for the given strategy and returns the
// normalized, ordered deal batch.
func (c *Client) FetchDeals(ctx context.Context, strategy models.Strategy, q Query) ([]models.Deal, error) {
	switch strategy {
	case models.StrategyLightning:
		return c.lightningDeals(ctx, q)
	case models.StrategyBrowsing:
		return c.browsingDeals(ctx, q)
	case models.StrategyBestSeller:
		return c.bestSellerDeals(ctx, q)
	default:
		return nil, fmt.Errorf("unknown strategy %q", strategy)
	}
}

type lightningDeal struct {
	ASIN         string `json:"asin"`
	Title        string `json:"title"`
	Image        string `json:"image"`
	DealPrice    int    `json:"dealPrice"`
	CurrentPrice int    `json:"currentPrice"`
	Rating       int    `json:"rating"`
	TotalReviews int    `json:"totalReviews"`
	PercentOff   int    `json:"percentOff"`
	DealState    string `json:"dealState"`
}

type lightningResponse struct {
	Deals []lightningDeal `json:"deals"`
}

func (c *Client) lightningDeals(ctx context.Context, q Query) ([]models.Deal, error) {
	var resp lightningResponse
	path := fmt.Sprintf("/lightningdeal?key=%s&domainId=%d", c.apiKey, domainItaly)
	if err := c.call(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("lightning deals: %w", err)
	}

	deals := make([]models.Deal, 0, len(resp.Deals))
	for _, d := range resp.Deals {
		if d.DealState != "AVAILABLE" || d.ASIN == "" {
			continue
		}
		deals = append(deals, models.Deal{
			ASIN:            d.ASIN,
			Title:           titleOrDefault(d.Title),
			ImageID:         d.Image,
			CurrentPrice:    centsToEuro(d.DealPrice),
			OriginalPrice:   centsToEuro(d.CurrentPrice),
			DiscountPercent: float64(d.PercentOff),
			Rating:          float64(d.Rating) / 10,
			ReviewCount:     d.TotalReviews,
			Category:        q.Category,
			Strategy:        models.StrategyLightning,
			RawURL:          productURL(d.ASIN),
		})
	}
	slog.Info("Fetched lightning deals", "total", len(resp.Deals), "available", len(deals))
	return deals, nil
}

type browsingDeal struct {
	ASIN        string `json:"asin"`
	Title       string `json:"title"`
	ImagesCSV   string `json:"imagesCSV"`
	Current     []int  `json:"current"`
	Avg90       []int  `json:"avg90"`
	Rating      int    `json:"rating"`
	ReviewCount int    `json:"reviewCount"`
}

type browsingResponse struct {
	DealResults []browsingDeal `json:"dr"`
}

func (c *Client) browsingDeals(ctx context.Context, q Query) ([]models.Deal, error) {
	query := map[string]interface{}{
		"key":               c.apiKey,
		"domainId":          domainItaly,
		"page":              0,
		"includeCategories": q.Nodes,
		"excludeCategories": []int{},
		"priceTypes":        []int{0},
		"deltaRange":        []int{500, 100000},
		"deltaPercentRange": []int{q.MinDiscount, 100},
		"currentRange":      []int{500, 100000},
		"salesRankRange":    []int{0, 50000},
		"minRating":         35,
		"isLowest":          false,
		"isLowest90":        false,
		"isLowestOffer":     false,
		"isOutOfStock":      false,
		"isRangeEnabled":    true,
		"isFilterEnabled":   false,
		"filterErotic":      true,
		"singleVariation":   true,
		"hasReviews":        true,
		"sortType":          4,
		"dateRange":         1,
	}

	var resp browsingResponse
	if err := c.call(ctx, http.MethodPost, "/deal", query, &resp); err != nil {
		return nil, fmt.Errorf("browsing deals: %w", err)
	}

	deals := make([]models.Deal, 0, len(resp.DealResults))
	for _, d := range resp.DealResults {
		if d.ASIN == "" {
			continue
		}
		current, ok := firstPrice(d.Current)
		if !ok {
			continue
		}
		original, ok := firstPrice(d.Avg90)
		if !ok || original <= current {
			continue
		}
		deals = append(deals, models.Deal{
			ASIN:            d.ASIN,
			Title:           titleOrDefault(d.Title),
			ImageID:         firstImage(d.ImagesCSV),
			CurrentPrice:    current,
			OriginalPrice:   original,
			DiscountPercent: discountPercent(original, current),
			Rating:          float64(d.Rating) / 10,
			ReviewCount:     d.ReviewCount,
			Category:        q.Category,
			Strategy:        models.StrategyBrowsing,
			RawURL:          productURL(d.ASIN),
		})
	}
	slog.Info("Fetched browsing deals", "total", len(resp.DealResults), "usable", len(deals))
	return deals, nil
}

type bestSellersResponse struct {
	BestSellersList struct {
		ASINList []string `json:"asinList"`
	} `json:"bestSellersList"`
}

type productStats struct {
	Current []int `json:"current"`
	Avg90   []int `json:"avg90"`
}

type product struct {
	ASIN      string       `json:"asin"`
	Title     string       `json:"title"`
	ImagesCSV string       `json:"imagesCSV"`
	Stats     productStats `json:"stats"`
}

type productResponse struct {
	Products []product `json:"products"`
}

// bestSellerDeals resolves the category's best-seller list and looks up
// current pricing for the top entries. Two API calls per cache miss.
func (c *Client) bestSellerDeals(ctx context.Context, q Query) ([]models.Deal, error) {
	if len(q.Nodes) == 0 {
		return nil, fmt.Errorf("best sellers: no category nodes configured")
	}

	var listResp bestSellersResponse
	path := fmt.Sprintf("/bestsellers?key=%s&domainId=%d&category=%d", c.apiKey, domainItaly, q.Nodes[0])
	if err := c.call(ctx, http.MethodGet, path, nil, &listResp); err != nil {
		return nil, fmt.Errorf("best sellers: %w", err)
	}

	asins := listResp.BestSellersList.ASINList
	if len(asins) == 0 {
		return nil, nil
	}
	if len(asins) > maxBestSellerProducts {
		asins = asins[:maxBestSellerProducts]
	}

	var prodResp productResponse
	path = fmt.Sprintf("/product?key=%s&domainId=%d&asin=%s&stats=90",
		c.apiKey, domainItaly, strings.Join(asins, ","))
	if err := c.call(ctx, http.MethodGet, path, nil, &prodResp); err != nil {
		return nil, fmt.Errorf("best sellers product lookup: %w", err)
	}

	deals := make([]models.Deal, 0, len(prodResp.Products))
	for _, p := range prodResp.Products {
		if p.ASIN == "" {
			continue
		}
		current, ok := statsPrice(p.Stats.Current, statsIndexAmazonPrice)
		if !ok {
			continue
		}
		original, ok := statsPrice(p.Stats.Avg90, statsIndexAmazonPrice)
		if !ok || original < current {
			original = current
		}
		rating := 0.0
		if v, ok := statsValue(p.Stats.Current, statsIndexRating); ok {
			rating = float64(v) / 10
		}
		reviews := 0
		if v, ok := statsValue(p.Stats.Current, statsIndexReviewCount); ok {
			reviews = v
		}
		deals = append(deals, models.Deal{
			ASIN:            p.ASIN,
			Title:           titleOrDefault(p.Title),
			ImageID:         firstImage(p.ImagesCSV),
			CurrentPrice:    current,
			OriginalPrice:   original,
			DiscountPercent: discountPercent(original, current),
			Rating:          rating,
			ReviewCount:     reviews,
			Category:        q.Category,
			Strategy:        models.StrategyBestSeller,
			RawURL:          productURL(p.ASIN),
		})
	}
	slog.Info("Fetched best sellers", "asins", len(asins), "usable", len(deals))
	return deals, nil
}

// call performs one API request with rate limiting and retry. A 429
// answer waits out the rate-limit window before the next attempt.
func (c *Client) call(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	return util.RetryWithBackoff(ctx, maxRetries, func(attempt int) error {
		var reqBody io.Reader
		if body != nil {
			payload, err := json.Marshal(body)
			if err != nil {
				return err
			}
			reqBody = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "VucciaroBot/1.0")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			slog.Warn("Keepa rate limit hit, backing off", "wait", c.rateLimitBackoff)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.rateLimitBackoff):
			}
			return fmt.Errorf("keepa rate limited (429)")
		}
		if resp.StatusCode != http.StatusOK {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
			return fmt.Errorf("keepa status %d: %s", resp.StatusCode, string(snippet))
		}
		return json.NewDecoder(resp.Body).Decode(out)
	})
}

func centsToEuro(cents int) float64 {
	return float64(cents) / 100
}

// firstPrice returns the head of a Keepa price array in euros. Keepa uses
// -1 for "no data".
func firstPrice(prices []int) (float64, bool) {
	if len(prices) == 0 || prices[0] <= 0 {
		return 0, false
	}
	return centsToEuro(prices[0]), true
}

func statsValue(stats []int, index int) (int, bool) {
	if index >= len(stats) || stats[index] < 0 {
		return 0, false
	}
	return stats[index], true
}

func statsPrice(stats []int, index int) (float64, bool) {
	v, ok := statsValue(stats, index)
	if !ok || v == 0 {
		return 0, false
	}
	return centsToEuro(v), true
}

func discountPercent(original, current float64) float64 {
	if original <= 0 {
		return 0
	}
	return math.Round((original - current) / original * 100)
}

func firstImage(imagesCSV string) string {
	if imagesCSV == "" {
		return ""
	}
	if i := strings.IndexByte(imagesCSV, ','); i >= 0 {
		return imagesCSV[:i]
	}
	return imagesCSV
}

func titleOrDefault(title string) string {
	if title == "" {
		return "Prodotto in offerta"
	}
	return title
}

func productURL(asin string) string {
	return "https://www.amazon.it/dp/" + asin
}
