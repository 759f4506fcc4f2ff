package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mkarlsen/updown/internal/domain"
)

// minValidPrice is the smallest midpoint treated as real data. Values at or
// below it are indistinguishable from an empty book and surface as ErrNoData.
const minValidPrice = 0.001

// ClobClient is the REST client for the Polymarket CLOB API, reduced to the
// unauthenticated midpoint lookup used as the pull-side quote source.
type ClobClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewClobClient creates a new CLOB REST client.
//
// baseURL is the CLOB API root, e.g. "https://clob.polymarket.com".
func NewClobClient(baseURL string) *ClobClient {
	return &ClobClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Midpoint returns the current midpoint price for a token. The response
// shape varies across API versions: a "mid" field, a value keyed by the
// token ID, or a bid/ask pair requiring midpoint computation. All three are
// accepted. Invalid or missing values surface as domain.ErrNoData, never as
// zero.
func (c *ClobClient) Midpoint(ctx context.Context, tokenID string) (float64, error) {
	if tokenID == "" {
		return 0, fmt.Errorf("polymarket/clob: %w: empty token id", domain.ErrNoData)
	}

	params := url.Values{}
	params.Set("token_id", tokenID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/midpoint?"+params.Encode(), nil)
	if err != nil {
		return 0, fmt.Errorf("polymarket/clob: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("polymarket/clob: midpoint %s: %w", tokenID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("polymarket/clob: read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return 0, fmt.Errorf("polymarket/clob: midpoint %s: %w", tokenID, err)
	}

	price, ok := extractPrice(body, tokenID)
	if !ok {
		return 0, fmt.Errorf("polymarket/clob: midpoint %s: %w", tokenID, domain.ErrNoData)
	}
	return price, nil
}

// extractPrice digs a usable price out of the response body, trying the
// known field layouts in order.
func extractPrice(body []byte, tokenID string) (float64, bool) {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, false
	}

	if p, ok := parsePriceField(payload["mid"]); ok {
		return p, true
	}
	if p, ok := parsePriceField(payload[tokenID]); ok {
		return p, true
	}

	bid, bidOK := parsePriceField(payload["bid"])
	ask, askOK := parsePriceField(payload["ask"])
	if bidOK && askOK {
		if mid := (bid + ask) / 2; validPrice(mid) {
			return mid, true
		}
	}

	return 0, false
}

// parsePriceField accepts a JSON number or a numeric string and validates it.
func parsePriceField(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, validPrice(f)
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, validPrice(f)
}

func validPrice(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0) && f > minValidPrice
}
