// Package polymarket provides REST and WebSocket clients for the Polymarket
// Gamma and CLOB APIs, reduced to the read-only surface the tracker needs.
package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/mkarlsen/updown/internal/domain"
)

// GammaClient is the REST client for the Polymarket Gamma API, which
// provides market metadata lookups.
type GammaClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewGammaClient creates a new Gamma API client.
//
// baseURL is the Gamma API root, e.g. "https://gamma-api.polymarket.com".
func NewGammaClient(baseURL string) *GammaClient {
	return &GammaClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// GetMarketBySlug returns the market metadata for a slug. The Gamma API
// returns either a single object or a one-element array depending on the
// endpoint version; both shapes are accepted. Returns domain.ErrNotFound
// when no market exists for the slug.
func (g *GammaClient) GetMarketBySlug(ctx context.Context, slug string) (domain.MarketInfo, error) {
	params := url.Values{}
	params.Set("slug", slug)

	body, err := g.doGet(ctx, "/markets?"+params.Encode())
	if err != nil {
		return domain.MarketInfo{}, fmt.Errorf("polymarket/gamma: get market by slug %s: %w", slug, err)
	}

	apiMarket, err := decodeMarket(body)
	if err != nil {
		return domain.MarketInfo{}, fmt.Errorf("polymarket/gamma: decode market %s: %w", slug, err)
	}
	if apiMarket == nil {
		return domain.MarketInfo{}, fmt.Errorf("polymarket/gamma: %w: slug=%s", domain.ErrNotFound, slug)
	}

	info := apiMarket.ToMarketInfo()
	if info.Slug == "" {
		info.Slug = slug
	}
	return info, nil
}

// decodeMarket accepts a bare object, an array of objects, or an empty
// response and returns the first market, or nil when the payload holds none.
func decodeMarket(body []byte) (*APIMarket, error) {
	var list []APIMarket
	if err := json.Unmarshal(body, &list); err == nil {
		if len(list) == 0 {
			return nil, nil
		}
		return &list[0], nil
	}

	var single APIMarket
	if err := json.Unmarshal(body, &single); err != nil {
		return nil, err
	}
	if single.ID == "" && single.Slug == "" && len(single.Tokens) == 0 && single.ClobTokenIDs == "" {
		return nil, nil
	}
	return &single, nil
}

// doGet sends an unauthenticated GET request to the Gamma API.
func (g *GammaClient) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}

	return body, nil
}

// checkHTTPStatus maps non-2xx status codes to appropriate domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	if statusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	}
	return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
}
