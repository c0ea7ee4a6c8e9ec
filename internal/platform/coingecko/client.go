// Package coingecko is the REST client for the public CoinGecko v3 API. All
// requests go through a fetch.Fetcher so they share its timeout and retry
// policy.
package coingecko

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/blockclass/marketview/internal/domain"
	"github.com/blockclass/marketview/internal/fetch"
)

// DefaultBaseURL is the public API root.
const DefaultBaseURL = "https://api.coingecko.com/api/v3"

// vsCurrency is the quote currency for every price the client reads.
const vsCurrency = "usd"

// Client is the CoinGecko REST client.
type Client struct {
	baseURL string
	apiKey  string
	fetcher *fetch.Fetcher
}

// NewClient creates a client for baseURL. apiKey is the optional demo-tier
// key; leave it empty for anonymous access.
func NewClient(baseURL, apiKey string, fetcher *fetch.Fetcher) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		fetcher: fetcher,
	}
}

// MarketsQuery selects rows of the /coins/markets listing.
type MarketsQuery struct {
	PerPage int
	Page    int
	IDs     []string
}

// Markets returns summary records ordered by market capitalisation.
func (c *Client) Markets(ctx context.Context, q MarketsQuery) ([]domain.SummaryRecord, error) {
	params := url.Values{}
	params.Set("vs_currency", vsCurrency)
	params.Set("order", "market_cap_desc")
	perPage := q.PerPage
	if perPage <= 0 {
		perPage = 30
	}
	page := q.Page
	if page <= 0 {
		page = 1
	}
	params.Set("per_page", strconv.Itoa(perPage))
	params.Set("page", strconv.Itoa(page))
	params.Set("sparkline", "false")
	if len(q.IDs) > 0 {
		params.Set("ids", strings.Join(q.IDs, ","))
	}

	body, err := c.doGet(ctx, "/coins/markets", params)
	if err != nil {
		return nil, fmt.Errorf("coingecko: get markets: %w", err)
	}

	var rows []APICoinMarket
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("coingecko: decode markets: %w: %w: %v", domain.ErrPermanent, domain.ErrMalformed, err)
	}

	out := make([]domain.SummaryRecord, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].ToDomain())
	}
	return out, nil
}

// Top returns the n largest assets by market capitalisation.
func (c *Client) Top(ctx context.Context, n int) ([]domain.SummaryRecord, error) {
	return c.Markets(ctx, MarketsQuery{PerPage: n, Page: 1})
}

// Summary returns the listing row of a single asset. It is the lightweight
// fallback when the detail endpoint is unavailable.
func (c *Client) Summary(ctx context.Context, id string) (domain.SummaryRecord, error) {
	if err := ValidateID(id); err != nil {
		return domain.SummaryRecord{}, err
	}

	rows, err := c.Markets(ctx, MarketsQuery{PerPage: 1, Page: 1, IDs: []string{id}})
	if err != nil {
		return domain.SummaryRecord{}, fmt.Errorf("coingecko: get summary %s: %w", id, err)
	}
	if len(rows) == 0 {
		return domain.SummaryRecord{}, fmt.Errorf("coingecko: get summary %s: %w: %w", id, domain.ErrPermanent, domain.ErrNotFound)
	}
	return rows[0], nil
}

// Coin returns the detailed record of a single asset.
func (c *Client) Coin(ctx context.Context, id string) (domain.DetailedRecord, error) {
	if err := ValidateID(id); err != nil {
		return domain.DetailedRecord{}, err
	}

	params := url.Values{}
	params.Set("localization", "true")
	params.Set("tickers", "false")
	params.Set("market_data", "true")
	params.Set("community_data", "false")
	params.Set("developer_data", "false")
	params.Set("sparkline", "false")

	body, err := c.doGet(ctx, "/coins/"+url.PathEscape(id), params)
	if err != nil {
		return domain.DetailedRecord{}, fmt.Errorf("coingecko: get coin %s: %w", id, err)
	}

	var detail APICoinDetail
	if err := json.Unmarshal(body, &detail); err != nil {
		return domain.DetailedRecord{}, fmt.Errorf("coingecko: decode coin %s: %w: %w: %v", id, domain.ErrPermanent, domain.ErrMalformed, err)
	}

	rec := detail.ToDomain()
	if rec.ID == "" {
		rec.ID = id
	}
	return rec, nil
}

// History returns the USD price series of an asset over the last days days.
func (c *Client) History(ctx context.Context, id string, days int) ([]domain.PricePoint, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	if days <= 0 {
		days = 7
	}

	params := url.Values{}
	params.Set("vs_currency", vsCurrency)
	params.Set("days", strconv.Itoa(days))

	body, err := c.doGet(ctx, "/coins/"+url.PathEscape(id)+"/market_chart", params)
	if err != nil {
		return nil, fmt.Errorf("coingecko: get history %s: %w", id, err)
	}

	var chart APIMarketChart
	if err := json.Unmarshal(body, &chart); err != nil {
		return nil, fmt.Errorf("coingecko: decode history %s: %w: %w: %v", id, domain.ErrPermanent, domain.ErrMalformed, err)
	}
	return chart.ToDomain(), nil
}

// doGet performs a resilient GET and returns the body of a successful
// response.
func (c *Client) doGet(ctx context.Context, path string, params url.Values) ([]byte, error) {
	if c.apiKey != "" {
		params.Set("x_cg_demo_api_key", c.apiKey)
	}

	out := c.fetcher.Fetch(ctx, c.baseURL+path+"?"+params.Encode())
	if !out.OK() {
		return nil, out.Err
	}
	return out.Body, nil
}

// ValidateID rejects ids that are not CoinGecko-style slugs.
func ValidateID(id string) error {
	if id == "" || len(id) > 128 || strings.Trim(id, ".") == "" {
		return fmt.Errorf("coingecko: %w: %q", domain.ErrInvalidID, id)
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
		default:
			return fmt.Errorf("coingecko: %w: %q", domain.ErrInvalidID, id)
		}
	}
	return nil
}
