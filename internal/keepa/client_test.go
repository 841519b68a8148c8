package keepa

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/vucciaro/dealsbot/internal/models"
)

func newTestClient(serverURL string) *Client {
	return &Client{
		apiKey:           "test-key",
		baseURL:          serverURL,
		httpClient:       &http.Client{Timeout: 5 * time.Second},
		limiter:          rate.NewLimiter(rate.Inf, 1),
		rateLimitBackoff: 10 * time.Millisecond,
	}
}

func TestFetchDeals_Lightning(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/lightningdeal" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "test-key" {
			t.Error("Missing API key in query")
		}
		if r.URL.Query().Get("domainId") != "8" {
			t.Errorf("domainId = %s, want 8", r.URL.Query().Get("domainId"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"deals":[
			{"asin":"B0AVAIL001","title":"Cuffie Bluetooth","image":"img1.jpg","dealPrice":2999,"currentPrice":4999,"rating":43,"totalReviews":215,"percentOff":40,"dealState":"AVAILABLE"},
			{"asin":"B0GONE0001","title":"Sold Out","dealPrice":1000,"currentPrice":2000,"dealState":"EXPIRED"}
		]}`))
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	deals, err := c.FetchDeals(context.Background(), models.StrategyLightning, Query{Category: models.CategoryTech})
	if err != nil {
		t.Fatalf("FetchDeals() error = %v", err)
	}

	if len(deals) != 1 {
		t.Fatalf("Expected 1 available deal, got %d", len(deals))
	}
	d := deals[0]
	if d.ASIN != "B0AVAIL001" {
		t.Errorf("ASIN = %s", d.ASIN)
	}
	if d.CurrentPrice != 29.99 {
		t.Errorf("CurrentPrice = %v, want 29.99", d.CurrentPrice)
	}
	if d.OriginalPrice != 49.99 {
		t.Errorf("OriginalPrice = %v, want 49.99", d.OriginalPrice)
	}
	if d.Rating != 4.3 {
		t.Errorf("Rating = %v, want 4.3", d.Rating)
	}
	if d.DiscountPercent != 40 {
		t.Errorf("DiscountPercent = %v, want 40", d.DiscountPercent)
	}
	if d.Strategy != models.StrategyLightning {
		t.Errorf("Strategy = %s", d.Strategy)
	}
	if d.RawURL != "https://www.amazon.it/dp/B0AVAIL001" {
		t.Errorf("RawURL = %s", d.RawURL)
	}
}

func TestFetchDeals_Browsing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/deal" || r.Method != http.MethodPost {
			t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
		}
		var query map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
			t.Fatalf("Decoding query body: %v", err)
		}
		if query["domainId"].(float64) != 8 {
			t.Errorf("domainId = %v, want 8", query["domainId"])
		}
		if query["deltaPercentRange"].([]interface{})[0].(float64) != 25 {
			t.Errorf("Expected min discount 25 in deltaPercentRange")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"dr":[
			{"asin":"B0BROWSE01","title":"Scarpe Running","imagesCSV":"a.jpg,b.jpg","current":[6000],"avg90":[10000],"rating":41,"reviewCount":88},
			{"asin":"B0NODATA01","title":"No price","current":[-1],"avg90":[5000]}
		]}`))
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	deals, err := c.FetchDeals(context.Background(), models.StrategyBrowsing, Query{
		Category:    models.CategoryModa,
		Nodes:       []int{1571275031},
		MinDiscount: 25,
	})
	if err != nil {
		t.Fatalf("FetchDeals() error = %v", err)
	}

	if len(deals) != 1 {
		t.Fatalf("Expected 1 usable deal, got %d", len(deals))
	}
	d := deals[0]
	if d.CurrentPrice != 60 || d.OriginalPrice != 100 {
		t.Errorf("Prices = %v/%v, want 60/100", d.CurrentPrice, d.OriginalPrice)
	}
	if d.DiscountPercent != 40 {
		t.Errorf("DiscountPercent = %v, want 40", d.DiscountPercent)
	}
	if d.ImageID != "a.jpg" {
		t.Errorf("ImageID = %s, want a.jpg", d.ImageID)
	}
	if d.Strategy != models.StrategyBrowsing {
		t.Errorf("Strategy = %s", d.Strategy)
	}
}

func TestFetchDeals_BestSellers(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/bestsellers":
			if r.URL.Query().Get("category") != "560798" {
				t.Errorf("category = %s, want 560798", r.URL.Query().Get("category"))
			}
			w.Write([]byte(`{"bestSellersList":{"asinList":["B0BEST0001","B0BEST0002"]}}`))
		case "/product":
			if r.URL.Query().Get("asin") != "B0BEST0001,B0BEST0002" {
				t.Errorf("asin = %s", r.URL.Query().Get("asin"))
			}
			stats1 := make([]int, 18)
			stats1[0] = 4500
			stats1[16] = 45
			stats1[17] = 320
			avg1 := make([]int, 1)
			avg1[0] = 6000
			resp := map[string]interface{}{
				"products": []map[string]interface{}{
					{"asin": "B0BEST0001", "title": "Mouse Wireless", "imagesCSV": "m.jpg",
						"stats": map[string]interface{}{"current": stats1, "avg90": avg1}},
					{"asin": "B0BEST0002", "title": "No price data",
						"stats": map[string]interface{}{"current": []int{-1}, "avg90": []int{-1}}},
				},
			}
			json.NewEncoder(w).Encode(resp)
		default:
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	deals, err := c.FetchDeals(context.Background(), models.StrategyBestSeller, Query{
		Category: models.CategoryTech,
		Nodes:    []int{560798},
	})
	if err != nil {
		t.Fatalf("FetchDeals() error = %v", err)
	}

	if len(deals) != 1 {
		t.Fatalf("Expected 1 usable deal, got %d", len(deals))
	}
	d := deals[0]
	if d.CurrentPrice != 45 || d.OriginalPrice != 60 {
		t.Errorf("Prices = %v/%v, want 45/60", d.CurrentPrice, d.OriginalPrice)
	}
	if d.DiscountPercent != 25 {
		t.Errorf("DiscountPercent = %v, want 25", d.DiscountPercent)
	}
	if d.Rating != 4.5 {
		t.Errorf("Rating = %v, want 4.5", d.Rating)
	}
	if d.ReviewCount != 320 {
		t.Errorf("ReviewCount = %d, want 320", d.ReviewCount)
	}
}

func TestFetchDeals_RetriesOnServerError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"deals":[]}`))
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	_, err := c.FetchDeals(context.Background(), models.StrategyLightning, Query{Category: models.CategoryTech})
	if err != nil {
		t.Fatalf("Expected retries to recover, got %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("Expected 3 attempts, got %d", calls.Load())
	}
}

func TestFetchDeals_RateLimitRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"deals":[]}`))
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	_, err := c.FetchDeals(context.Background(), models.StrategyLightning, Query{Category: models.CategoryTech})
	if err != nil {
		t.Fatalf("Expected 429 to be retried, got %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("Expected 2 attempts, got %d", calls.Load())
	}
}

func TestFetchDeals_UnknownStrategy(t *testing.T) {
	c := newTestClient("http://localhost:0")
	if _, err := c.FetchDeals(context.Background(), models.Strategy("flash"), Query{}); err == nil {
		t.Error("Expected error for unknown strategy")
	}
}
