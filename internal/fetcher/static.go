package fetcher

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// StaticSource serves fixed prices; slugs without a price are omitted.
type StaticSource struct {
	Prices map[string]decimal.Decimal
	Now    func() time.Time
}

// FetchQuotes returns the configured prices for the requested slugs.
func (s *StaticSource) FetchQuotes(ctx context.Context, slugs []string) ([]Quote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	observedAt := now().UTC()

	quotes := make([]Quote, 0, len(slugs))
	for _, slug := range slugs {
		price, ok := s.Prices[slug]
		if !ok {
			continue
		}
		quotes = append(quotes, Quote{Slug: slug, Price: price, ObservedAt: observedAt})
	}
	return quotes, nil
}

var _ QuoteSource = (*StaticSource)(nil)
