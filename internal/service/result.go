package service

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status classifies how one asset fared in a cycle.
type Status string

const (
	StatusNoMatch Status = "no_match"
	StatusAlerted Status = "alerted"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// AssetOutcome reports what a cycle did for one asset.
type AssetOutcome struct {
	Asset    string          `json:"asset"`
	Status   Status          `json:"status"`
	Price    decimal.Decimal `json:"price"`
	Matched  []string        `json:"matched,omitempty"`
	Notified int             `json:"notified"`
	Recorded int             `json:"recorded"`
	Reason   string          `json:"reason,omitempty"`
	Err      error           `json:"-"`
}

// CycleResult aggregates per-asset outcomes of one cycle.
type CycleResult struct {
	At      time.Time      `json:"at"`
	Skipped bool           `json:"skipped,omitempty"`
	Assets  []AssetOutcome `json:"assets"`
}

// Failed lists assets with at least one failed side effect or unusable quote.
func (r CycleResult) Failed() []AssetOutcome {
	return r.filter(StatusFailed)
}

// Alerted lists assets that matched at least one band without failures.
func (r CycleResult) Alerted() []AssetOutcome {
	return r.filter(StatusAlerted)
}

func (r CycleResult) filter(status Status) []AssetOutcome {
	var out []AssetOutcome
	for _, a := range r.Assets {
		if a.Status == status {
			out = append(out, a)
		}
	}
	return out
}

// Totals sums notifications and history writes across assets.
func (r CycleResult) Totals() (alerts, notified, recorded int) {
	for _, a := range r.Assets {
		alerts += len(a.Matched)
		notified += a.Notified
		recorded += a.Recorded
	}
	return alerts, notified, recorded
}

// Response is what a single invocation returns to its trigger.
type Response struct {
	Data   string       `json:"data,omitempty"`
	Result *CycleResult `json:"result,omitempty"`
	Error  string       `json:"error,omitempty"`
}
