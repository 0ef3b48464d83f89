package threshold

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Band is a (Min, Max] price interval that raises an alert when a quote lands inside it.
type Band struct {
	Min   decimal.Decimal
	Max   decimal.Decimal
	Label string
}

// Contains reports whether price is inside the band: min exclusive, max inclusive.
func (b Band) Contains(price decimal.Decimal) bool {
	return price.GreaterThan(b.Min) && price.LessThanOrEqual(b.Max)
}

// Validate checks Min < Max.
func (b Band) Validate() error {
	if !b.Min.LessThan(b.Max) {
		return fmt.Errorf("band %q: min %s must be below max %s", b.Label, b.Min.String(), b.Max.String())
	}
	return nil
}

func (b Band) String() string {
	return fmt.Sprintf("%s (%s, %s]", b.Label, b.Min.String(), b.Max.String())
}

// Match returns every band containing price, in configured order.
// Overlapping bands all match; callers act on each of them.
func Match(price decimal.Decimal, bands []Band) []Band {
	var matched []Band
	for _, band := range bands {
		if band.Contains(price) {
			matched = append(matched, band)
		}
	}
	return matched
}

// Table maps an asset slug to its ordered band list.
type Table map[string][]Band

// Bands returns the bands configured for asset.
func (t Table) Bands(asset string) ([]Band, bool) {
	bands, ok := t[asset]
	if !ok || len(bands) == 0 {
		return nil, false
	}
	return bands, true
}

// Assets lists configured slugs in sorted order.
func (t Table) Assets() []string {
	assets := make([]string, 0, len(t))
	for asset := range t {
		assets = append(assets, asset)
	}
	sort.Strings(assets)
	return assets
}

// Validate reports the first band violating Min < Max.
func (t Table) Validate() error {
	for _, asset := range t.Assets() {
		for _, band := range t[asset] {
			if err := band.Validate(); err != nil {
				return fmt.Errorf("%s: %w", asset, err)
			}
		}
	}
	return nil
}
