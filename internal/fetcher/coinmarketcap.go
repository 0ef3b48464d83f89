package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const quotesLatestPath = "/v2/cryptocurrency/quotes/latest"

// CoinMarketCapOptions parameterise the quote fetcher.
type CoinMarketCapOptions struct {
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	UserAgent string
}

// CoinMarketCap fetches latest USD quotes by slug.
type CoinMarketCap struct {
	opts    CoinMarketCapOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
	now     func() time.Time
}

// NewCoinMarketCap constructs a quote fetcher.
func NewCoinMarketCap(opts CoinMarketCapOptions, logger zerolog.Logger) *CoinMarketCap {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://pro-api.coinmarketcap.com"
	}

	return &CoinMarketCap{
		opts:    opts,
		logger:  logger.With().Str("component", "quote_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		now:     time.Now,
	}
}

// FetchQuotes requests all slugs in one call. Entries are returned in slug order.
func (c *CoinMarketCap) FetchQuotes(ctx context.Context, slugs []string) ([]Quote, error) {
	if len(slugs) == 0 {
		return nil, nil
	}

	query := url.Values{}
	query.Set("slug", strings.Join(slugs, ","))
	endpoint := c.baseURL + quotesLatestPath + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-CMC_PRO_API_KEY", c.opts.APIKey)
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "pricewatch/1.0")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request quotes: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read quotes: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseHTTPError(resp.StatusCode, payload)
	}

	var body quotesResponse
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if len(body.Data) == 0 {
		return nil, fmt.Errorf("%w: no data", ErrMalformedResponse)
	}

	observedAt := c.now().UTC()
	quotes := make([]Quote, 0, len(body.Data))
	for key, entry := range body.Data {
		slug := entry.Slug
		if slug == "" {
			slug = key
		}
		quote := Quote{Slug: slug, ObservedAt: observedAt}
		usd, ok := entry.Quote["USD"]
		if !ok || usd.Price == nil {
			quote.Err = fmt.Errorf("%s: %w", slug, ErrMissingQuote)
		} else {
			quote.Price = *usd.Price
		}
		quotes = append(quotes, quote)
	}
	sort.Slice(quotes, func(i, j int) bool { return quotes[i].Slug < quotes[j].Slug })

	c.logger.Debug().Int("quotes", len(quotes)).Msg("quotes fetched")
	return quotes, nil
}

type quotesResponse struct {
	Data map[string]quoteEntry `json:"data"`
}

type quoteEntry struct {
	Slug  string                  `json:"slug"`
	Quote map[string]currencyQuote `json:"quote"`
}

type currencyQuote struct {
	Price *decimal.Decimal `json:"price"`
}

type errorResponse struct {
	Status struct {
		ErrorCode    int    `json:"error_code"`
		ErrorMessage string `json:"error_message"`
	} `json:"status"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil && apiErr.Status.ErrorMessage != "" {
		return fmt.Errorf("%w (%d): %s", ErrUpstream, status, apiErr.Status.ErrorMessage)
	}
	if len(payload) > 0 {
		return fmt.Errorf("%w (%d): %s", ErrUpstream, status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("%w (%d)", ErrUpstream, status)
}

var _ QuoteSource = (*CoinMarketCap)(nil)
