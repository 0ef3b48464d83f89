package threshold

import "github.com/shopspring/decimal"

// DefaultTable is the compiled-in alert configuration.
func DefaultTable() Table {
	return Table{
		"solana": {
			band("150", "170", "Dipping"),
			band("100", "130", "Interesting"),
			band("50", "100", "Buy it now"),
		},
		"sui": {
			band("3", "3.2", "Dipping"),
			band("2.75", "3", "Interesting"),
			band("2.5", "2.75", "Buy it now"),
		},
	}
}

func band(min, max, label string) Band {
	return Band{
		Min:   decimal.RequireFromString(min),
		Max:   decimal.RequireFromString(max),
		Label: label,
	}
}
