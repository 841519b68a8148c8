package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/vucciaro/dealsbot/internal/models"
)

func testDeal() models.Deal {
	return models.Deal{
		ASIN:            "B0TEST1234",
		Title:           "Cuffie Bluetooth Premium",
		ImageID:         "61abc123.jpg",
		CurrentPrice:    29.99,
		OriginalPrice:   49.99,
		DiscountPercent: 40,
		Rating:          4.3,
		ReviewCount:     215,
		Category:        models.CategoryTech,
		Strategy:        models.StrategyLightning,
		RawURL:          "https://www.amazon.it/dp/B0TEST1234",
	}
}

func newTestClient(serverURL string) *Client {
	return &Client{
		token:        "123456:test-token",
		affiliateTag: "vucciaro-21",
		baseURL:      serverURL,
		httpClient:   &http.Client{Timeout: 5 * time.Second},
	}
}

func TestPublishDeal_SendsPhotoForDealWithImage(t *testing.T) {
	var gotPath string
	var payload sendPhotoRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("Decoding payload: %v", err)
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	if err := c.PublishDeal(context.Background(), "@VucciaroTech", testDeal(), []string{"⚡"}); err != nil {
		t.Fatalf("PublishDeal() error = %v", err)
	}

	if gotPath != "/bot123456:test-token/sendPhoto" {
		t.Errorf("Unexpected path %s", gotPath)
	}
	if payload.ChatID != "@VucciaroTech" {
		t.Errorf("ChatID = %s", payload.ChatID)
	}
	if payload.Photo != "https://images-na.ssl-images-amazon.com/images/I/61abc123.jpg" {
		t.Errorf("Photo = %s", payload.Photo)
	}
	if payload.ParseMode != "Markdown" {
		t.Errorf("ParseMode = %s", payload.ParseMode)
	}
	if !strings.Contains(payload.Caption, "Cuffie Bluetooth Premium") {
		t.Error("Caption missing deal title")
	}
}

func TestPublishDeal_SendsMessageWithoutImage(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	deal := testDeal()
	deal.ImageID = ""

	c := newTestClient(server.URL)
	if err := c.PublishDeal(context.Background(), "@VucciaroTech", deal, nil); err != nil {
		t.Fatalf("PublishDeal() error = %v", err)
	}
	if !strings.HasSuffix(gotPath, "/sendMessage") {
		t.Errorf("Expected sendMessage, got %s", gotPath)
	}
}

func TestPublishDeal_APIRejectionIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	err := c.PublishDeal(context.Background(), "@Missing", testDeal(), nil)
	if err == nil {
		t.Fatal("Expected error for ok=false response")
	}
	if !strings.Contains(err.Error(), "chat not found") {
		t.Errorf("Expected API description in error, got %v", err)
	}
}

func TestPublishDeal_HTTPErrorIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	if err := c.PublishDeal(context.Background(), "@VucciaroTech", testDeal(), nil); err == nil {
		t.Fatal("Expected error for HTTP 502")
	}
}

func TestFormatMessage(t *testing.T) {
	c := New("token", "vucciaro-21")
	msg := c.FormatMessage(testDeal(), []string{"⚡"})

	for _, want := range []string{
		"-40% | Cuffie Bluetooth Premium",
		"~~49.99€~~ → **29.99€**",
		"4.3/5 (215 recensioni)",
		"OFFERTA LAMPO",
		"[Acquista Ora](https://www.amazon.it/dp/B0TEST1234?tag=vucciaro-21)",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("Message missing %q:\n%s", want, msg)
		}
	}
}

func TestFormatMessage_HotBannerAtFiftyPercent(t *testing.T) {
	c := New("token", "vucciaro-21")

	deal := testDeal()
	deal.DiscountPercent = 55
	if msg := c.FormatMessage(deal, nil); !strings.Contains(msg, "🔥") {
		t.Error("Expected fire banner for discount >= 50%")
	}
	deal.DiscountPercent = 40
	if msg := c.FormatMessage(deal, nil); strings.Contains(msg, "🔥") {
		t.Error("Expected lightning banner for discount < 50%")
	}
}

func TestFormatMessage_TruncatesLongTitle(t *testing.T) {
	c := New("token", "vucciaro-21")
	deal := testDeal()
	deal.Title = strings.Repeat("a", 200)

	msg := c.FormatMessage(deal, nil)
	if !strings.Contains(msg, strings.Repeat("a", 120)+"...") {
		t.Error("Expected title truncated at 120 runes")
	}
	if strings.Contains(msg, strings.Repeat("a", 121)) {
		t.Error("Title not truncated")
	}
}

func TestFormatMessage_OmitsRatingRowWhenUnrated(t *testing.T) {
	c := New("token", "vucciaro-21")
	deal := testDeal()
	deal.Rating = 0
	deal.ReviewCount = 0

	if msg := c.FormatMessage(deal, nil); strings.Contains(msg, "/5") {
		t.Error("Expected no rating row for unrated deal")
	}
}

func TestFormatMessage_NoLightningBannerForBrowsing(t *testing.T) {
	c := New("token", "vucciaro-21")
	deal := testDeal()
	deal.Strategy = models.StrategyBrowsing

	if msg := c.FormatMessage(deal, nil); strings.Contains(msg, "OFFERTA LAMPO") {
		t.Error("Expected no lightning banner for browsing deal")
	}
}

func TestPickEmoji_DeterministicPerASIN(t *testing.T) {
	emoji := []string{"⚡", "💻", "📱"}
	first := pickEmoji(emoji, "B0TEST1234")
	for i := 0; i < 5; i++ {
		if got := pickEmoji(emoji, "B0TEST1234"); got != first {
			t.Fatal("pickEmoji not deterministic")
		}
	}
	if pickEmoji(nil, "B0TEST1234") != "🛒" {
		t.Error("Expected fallback emoji for empty set")
	}
}
