// Package telegram implements the messaging-channel collaborator: a
// client for the Telegram Bot API that publishes formatted deal posts to
// the configured channels.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vucciaro/dealsbot/internal/models"
	"github.com/vucciaro/dealsbot/internal/util"
)

const (
	defaultBaseURL = "https://api.telegram.org"
	imageBaseURL   = "https://images-na.ssl-images-amazon.com/images/I/"

	maxTitleLength   = 120
	hotDealThreshold = 50
)

type Client struct {
	token        string
	affiliateTag string
	baseURL      string
	httpClient   *http.Client
}

// New creates a Telegram Bot API client. The affiliate tag is injected
// into every product link the client publishes.
func New(token, affiliateTag string) *Client {
	return &Client{
		token:        token,
		affiliateTag: affiliateTag,
		baseURL:      defaultBaseURL,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
	}
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview,omitempty"`
}

type sendPhotoRequest struct {
	ChatID    string `json:"chat_id"`
	Photo     string `json:"photo"`
	Caption   string `json:"caption"`
	ParseMode string `json:"parse_mode"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// PublishDeal formats and posts the deal to the channel. Deals with an
// image go out as a photo with caption, the rest as a plain message.
func (c *Client) PublishDeal(ctx context.Context, channelID string, deal models.Deal, emoji []string) error {
	text := c.FormatMessage(deal, emoji)

	var (
		method  string
		payload interface{}
	)
	if deal.ImageID != "" {
		method = "sendPhoto"
		payload = sendPhotoRequest{
			ChatID:    channelID,
			Photo:     photoURL(deal.ImageID),
			Caption:   text,
			ParseMode: "Markdown",
		}
	} else {
		method = "sendMessage"
		payload = sendMessageRequest{
			ChatID:    channelID,
			Text:      text,
			ParseMode: "Markdown",
		}
	}

	if err := c.post(ctx, method, payload); err != nil {
		return fmt.Errorf("publishing %s to %s: %w", deal.ASIN, channelID, err)
	}
	return nil
}

// FormatMessage renders the Telegram Markdown post for a deal.
func (c *Client) FormatMessage(deal models.Deal, emoji []string) string {
	title := deal.Title
	if len([]rune(title)) > maxTitleLength {
		title = string([]rune(title)[:maxTitleLength]) + "..."
	}

	banner := "⚡"
	if deal.DiscountPercent >= hotDealThreshold {
		banner = "🔥"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s **%s -%.0f%% | %s**\n\n", pickEmoji(emoji, deal.ASIN), banner, deal.DiscountPercent, title)
	fmt.Fprintf(&b, "💰 **Prezzo:** ~~%.2f€~~ → **%.2f€**\n", deal.OriginalPrice, deal.CurrentPrice)

	if deal.Rating > 0 {
		fmt.Fprintf(&b, "%s %.1f/5", strings.Repeat("⭐", int(deal.Rating)), deal.Rating)
		if deal.ReviewCount > 0 {
			fmt.Fprintf(&b, " (%d recensioni)", deal.ReviewCount)
		}
		b.WriteString("\n")
	}

	if deal.Strategy == models.StrategyLightning {
		b.WriteString("\n⚡ **OFFERTA LAMPO** - Scade tra poco!\n")
	}

	fmt.Fprintf(&b, "\n👉 [Acquista Ora](%s)", util.AffiliateLink(deal.RawURL, c.affiliateTag))
	return b.String()
}

func (c *Client) post(ctx context.Context, method string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram status %s: %s", resp.Status, string(respBody))
	}

	var apiResp apiResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return fmt.Errorf("decoding telegram response: %w", err)
	}
	if !apiResp.OK {
		return fmt.Errorf("telegram rejected %s: %s", method, apiResp.Description)
	}
	return nil
}

// pickEmoji chooses a decoration deterministically per product so a
// retried publish renders the identical message.
func pickEmoji(emoji []string, asin string) string {
	if len(emoji) == 0 {
		return "🛒"
	}
	h := fnv.New32a()
	h.Write([]byte(asin))
	return emoji[h.Sum32()%uint32(len(emoji))]
}

func photoURL(imageID string) string {
	if strings.HasPrefix(imageID, "http") {
		return imageID
	}
	return imageBaseURL + imageID
}
