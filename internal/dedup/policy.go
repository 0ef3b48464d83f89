// Package dedup decides which price samples are novel enough to keep.
package dedup

import (
	"github.com/shopspring/decimal"

	"pricewatch/internal/storage"
)

// DefaultDropPct is the relative difference a drop must exceed to be recorded.
const DefaultDropPct = 10

var (
	hundred = decimal.NewFromInt(100)
	two     = decimal.NewFromInt(2)
)

// PercentDiff is the symmetric relative difference of a and b in percent,
// using their mean as the base, rounded to two places.
func PercentDiff(a, b decimal.Decimal) decimal.Decimal {
	sum := a.Add(b)
	if sum.IsZero() {
		return decimal.Zero
	}
	return a.Sub(b).Abs().Div(sum.Div(two)).Mul(hundred).Round(2)
}

// Policy keeps the first observation of an asset and afterwards only drops
// whose relative difference from the stored price exceeds DropPct.
// Rises never move the baseline.
type Policy struct {
	DropPct decimal.Decimal
}

// NewPolicy builds a policy; a non-positive pct falls back to DefaultDropPct.
func NewPolicy(pct float64) Policy {
	if pct <= 0 {
		return Policy{DropPct: decimal.NewFromInt(DefaultDropPct)}
	}
	return Policy{DropPct: decimal.NewFromFloat(pct)}
}

// ShouldRecord applies the policy against the previous record.
func (p Policy) ShouldRecord(previous *storage.PriceRecord, price decimal.Decimal) bool {
	if previous == nil {
		return true
	}
	if !price.LessThan(previous.Price) {
		return false
	}
	return PercentDiff(price, previous.Price).GreaterThan(p.DropPct)
}

// ShouldRecord applies the default policy.
func ShouldRecord(previous *storage.PriceRecord, price decimal.Decimal) bool {
	return NewPolicy(0).ShouldRecord(previous, price)
}

var _ storage.DecideFunc = ShouldRecord
