package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"pricewatch/internal/fetcher"
	"pricewatch/internal/service"
	"pricewatch/internal/storage"
	"pricewatch/internal/threshold"
)

// SimulateAlert 以给定价格走一遍完整的告警流程。除非指定 Record，否则不写入真实历史。
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) (service.CycleResult, error) {
	price, err := decimal.NewFromString(opts.Price)
	if err != nil {
		return service.CycleResult{}, fmt.Errorf("invalid price %q: %w", opts.Price, err)
	}
	if !price.IsPositive() {
		return service.CycleResult{}, errors.New("price 必须大于 0")
	}

	sinks, err := a.newSinks(ctx)
	if err != nil {
		return service.CycleResult{}, err
	}
	if sinks.Email == nil && sinks.SMS == nil && len(sinks.Extra) == 0 {
		return service.CycleResult{}, errors.New("未配置任何告警通道")
	}

	var store storage.HistoryStore = storage.NewMemoryStore()
	if opts.Record {
		persistent, closeStore, err := a.openStore(ctx)
		if err != nil {
			return service.CycleResult{}, err
		}
		defer closeStore()
		store = persistent
	}

	bands, ok := threshold.DefaultTable().Bands(opts.Asset)
	if !ok {
		return service.CycleResult{}, fmt.Errorf("asset %q has no configured bands", opts.Asset)
	}
	table := threshold.Table{opts.Asset: bands}

	quotes := &fetcher.StaticSource{Prices: map[string]decimal.Decimal{opts.Asset: price}}
	svc := service.New(a.Config, nil, table, quotes, store, sinks, a.Logger)

	return svc.ProcessCycle(ctx, time.Now().UTC())
}
