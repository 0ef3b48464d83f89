package fetcher

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrUpstream marks a non-success response from the quote API.
	ErrUpstream = errors.New("quote api error")
	// ErrMalformedResponse marks a response without a usable data section.
	ErrMalformedResponse = errors.New("quote api response malformed")
	// ErrMissingQuote marks an asset entry without a USD price.
	ErrMissingQuote = errors.New("usd quote missing")
)

// Quote is one asset price observed during a cycle. Err is set when the
// entry for Slug was present but unusable; the rest of the batch is still valid.
type Quote struct {
	Slug       string
	Price      decimal.Decimal
	ObservedAt time.Time
	Err        error
}

// QuoteSource retrieves current USD prices for a set of asset slugs.
type QuoteSource interface {
	FetchQuotes(ctx context.Context, slugs []string) ([]Quote, error)
}
