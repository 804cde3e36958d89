// Package quotefeed provides reference prices for the engine: an HTTP
// client for on-demand quotes and a streaming websocket cache, composed as
// a cache-first QuoteSource.
package quotefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/kagaztrade/kagaz/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Client fetches quotes from the feed's HTTP endpoint
type Client struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a new quote feed HTTP client
func NewClient(baseURL string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     log.With().Str("client", "quotefeed").Logger(),
	}
}

// quoteResponse is the feed's JSON quote payload
type quoteResponse struct {
	Symbol    string `json:"symbol"`
	Segment   string `json:"segment"`
	LTP       string `json:"ltp"`
	Timestamp int64  `json:"timestamp"`
}

// GetQuote fetches the last traded price for a symbol
func (c *Client) GetQuote(ctx context.Context, symbol string, segment domain.Segment) (*domain.Quote, error) {
	endpoint := fmt.Sprintf("%s/quote?symbol=%s&segment=%s",
		c.baseURL, url.QueryEscape(symbol), url.QueryEscape(string(segment)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build quote request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("quote request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("no quote for %s: %w", symbol, domain.ErrPriceUnavailable)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("quote feed returned status %d", resp.StatusCode)
	}

	var body quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode quote response: %w", err)
	}

	ltp, err := decimal.NewFromString(body.LTP)
	if err != nil {
		return nil, fmt.Errorf("invalid ltp %q from feed: %w", body.LTP, err)
	}
	if !ltp.IsPositive() {
		return nil, fmt.Errorf("non-positive ltp for %s: %w", symbol, domain.ErrPriceUnavailable)
	}

	c.log.Debug().
		Str("symbol", symbol).
		Str("ltp", ltp.String()).
		Msg("Quote fetched")

	return &domain.Quote{
		Symbol:    body.Symbol,
		Segment:   domain.Segment(body.Segment),
		LTP:       ltp,
		Timestamp: time.Unix(body.Timestamp, 0).UTC(),
	}, nil
}
