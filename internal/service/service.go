package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"pricewatch/internal/alerting"
	"pricewatch/internal/config"
	"pricewatch/internal/dedup"
	"pricewatch/internal/fetcher"
	"pricewatch/internal/scheduler"
	"pricewatch/internal/storage"
	"pricewatch/internal/threshold"
)

// Sinks groups the notification channels. SMS is only used when the SMS gate is open.
type Sinks struct {
	Email alerting.Notifier
	SMS   alerting.Notifier
	Extra []alerting.Notifier
}

// Service orchestrates quote evaluation, notification and history dedup.
type Service struct {
	scheduler *scheduler.Scheduler
	quotes    fetcher.QuoteSource
	table     threshold.Table
	store     storage.HistoryStore
	sinks     Sinks
	smsOn     bool
	policy    dedup.Policy
	logger    zerolog.Logger

	locker  storage.AdvisoryLocker
	lockKey int64
	cycleMu sync.Mutex
	now     func() time.Time
}

// New constructs the alert service.
func New(cfg *config.Config, sched *scheduler.Scheduler, table threshold.Table, quotes fetcher.QuoteSource, store storage.HistoryStore, sinks Sinks, logger zerolog.Logger) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := store.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		scheduler: sched,
		quotes:    quotes,
		table:     table,
		store:     store,
		sinks:     sinks,
		smsOn:     cfg.SMS.Enabled() && sinks.SMS != nil,
		policy:    dedup.NewPolicy(cfg.Alerting.DedupDropPct),
		logger:    logger.With().Str("component", "service").Logger(),
		locker:    locker,
		lockKey:   cfg.Scheduler.AdvisoryLockKey,
		now:       time.Now,
	}
}

// Run begins the scheduled cycle loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, func(ctx context.Context, at time.Time) error {
		_, err := s.ProcessCycle(ctx, at)
		return err
	})
}

// Invoke runs one cycle for an external trigger. The event payload is opaque.
// Upstream failures are logged here and reported without a result.
func (s *Service) Invoke(ctx context.Context, event json.RawMessage) Response {
	s.logger.Debug().Int("event_bytes", len(event)).Msg("invocation received")

	result, err := s.ProcessCycle(ctx, s.now().UTC())
	if err != nil {
		s.logger.Error().Err(err).Msg("cycle aborted")
		return Response{Error: err.Error()}
	}
	if result.Skipped {
		return Response{Data: "skipped", Result: &result}
	}
	return Response{Data: "success", Result: &result}
}

// ProcessCycle evaluates every configured asset once. Only a failed quote
// fetch aborts the cycle; per-asset problems are reported in the result.
func (s *Service) ProcessCycle(ctx context.Context, at time.Time) (CycleResult, error) {
	result := CycleResult{At: at}

	if !s.cycleMu.TryLock() {
		s.logger.Warn().Time("cycle", at).Msg("skip cycle because another cycle is running")
		result.Skipped = true
		return result, nil
	}
	defer s.cycleMu.Unlock()

	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return result, err
	}
	if !proceed {
		s.logger.Debug().Time("cycle", at).Msg("skip cycle because advisory lock held elsewhere")
		result.Skipped = true
		return result, nil
	}
	if unlock != nil {
		defer unlock()
	}

	assets := s.table.Assets()
	quotes, err := s.quotes.FetchQuotes(ctx, assets)
	if err != nil {
		return result, fmt.Errorf("fetch quotes: %w", err)
	}

	seen := make(map[string]bool, len(quotes))
	for _, quote := range quotes {
		seen[quote.Slug] = true
		result.Assets = append(result.Assets, s.processQuote(ctx, quote))
	}
	for _, asset := range assets {
		if !seen[asset] {
			s.logger.Warn().Str("asset", asset).Msg("no quote returned; skipping asset")
			result.Assets = append(result.Assets, AssetOutcome{Asset: asset, Status: StatusSkipped, Reason: "no quote returned"})
		}
	}

	alerts, notified, recorded := result.Totals()
	s.logger.Info().Time("cycle", at).
		Int("assets", len(result.Assets)).
		Int("alerts", alerts).
		Int("notified", notified).
		Int("recorded", recorded).
		Int("failed", len(result.Failed())).
		Msg("cycle complete")

	return result, nil
}

func (s *Service) processQuote(ctx context.Context, quote fetcher.Quote) AssetOutcome {
	outcome := AssetOutcome{Asset: quote.Slug, Price: quote.Price}
	logger := s.logger.With().Str("asset", quote.Slug).Logger()

	if quote.Err != nil {
		logger.Warn().Err(quote.Err).Msg("unusable quote; skipping asset")
		outcome.Status = StatusFailed
		outcome.Err = quote.Err
		outcome.Reason = quote.Err.Error()
		return outcome
	}

	bands, ok := s.table.Bands(quote.Slug)
	if !ok {
		logger.Info().Msg("asset not configured; skipping")
		outcome.Status = StatusSkipped
		outcome.Reason = "asset not configured"
		return outcome
	}

	matched := threshold.Match(quote.Price, bands)
	if len(matched) == 0 {
		logger.Debug().Str("price", quote.Price.String()).Msg("price outside all bands")
		outcome.Status = StatusNoMatch
		return outcome
	}

	var errs []error
	for _, band := range matched {
		event := alerting.AlertEvent{Asset: quote.Slug, Band: band, Price: quote.Price, ObservedAt: quote.ObservedAt}
		outcome.Matched = append(outcome.Matched, band.Label)

		logger.Info().Str("label", band.Label).Str("price", quote.Price.String()).Msg("band matched")

		sent, dispatchErrs := s.dispatch(ctx, event)
		outcome.Notified += sent
		errs = append(errs, dispatchErrs...)

		wrote, err := s.record(ctx, event)
		if err != nil {
			errs = append(errs, err)
		}
		if wrote {
			outcome.Recorded++
		}
	}

	outcome.Status = StatusAlerted
	if len(errs) > 0 {
		outcome.Status = StatusFailed
		outcome.Err = errors.Join(errs...)
		outcome.Reason = outcome.Err.Error()
	}
	return outcome
}

// dispatch sends the event on every enabled channel; one channel failing does not stop the others.
func (s *Service) dispatch(ctx context.Context, event alerting.AlertEvent) (int, []error) {
	channels := make([]alerting.Notifier, 0, 2+len(s.sinks.Extra))
	if s.sinks.Email != nil {
		channels = append(channels, s.sinks.Email)
	}
	if s.smsOn {
		channels = append(channels, s.sinks.SMS)
	}
	channels = append(channels, s.sinks.Extra...)

	sent := 0
	var errs []error
	for _, channel := range channels {
		if err := channel.Notify(ctx, event); err != nil {
			s.logger.Error().Err(err).
				Str("asset", event.Asset).
				Str("label", event.Band.Label).
				Str("channel", channel.Name()).
				Msg("failed to dispatch alert")
			errs = append(errs, fmt.Errorf("%s: %w", channel.Name(), err))
			continue
		}
		sent++
	}
	return sent, errs
}

func (s *Service) record(ctx context.Context, event alerting.AlertEvent) (bool, error) {
	if s.store == nil {
		return false, nil
	}
	rec, wrote, err := s.store.RecordIf(ctx, event.Asset, event.Price, s.policy.ShouldRecord)
	if err != nil {
		s.logger.Error().Err(err).Str("asset", event.Asset).Msg("failed to update price history")
		return false, fmt.Errorf("history: %w", err)
	}
	if wrote {
		s.logger.Info().Str("asset", event.Asset).
			Str("price", rec.Price.String()).
			Str("record_id", rec.ID.String()).
			Msg("price history recorded")
	}
	return wrote, nil
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
