package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"pricewatch/internal/alerting"
	"pricewatch/internal/config"
	"pricewatch/internal/fetcher"
	"pricewatch/internal/scheduler"
	"pricewatch/internal/service"
	"pricewatch/internal/storage"
	"pricewatch/internal/threshold"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newQuoteSource() fetcher.QuoteSource {
	return fetcher.NewCoinMarketCap(fetcher.CoinMarketCapOptions{
		BaseURL:   a.Config.Quotes.BaseURL,
		APIKey:    a.Config.Quotes.APIKey,
		Timeout:   a.Config.Quotes.RequestTimeout,
		UserAgent: a.Config.Quotes.UserAgent,
	}, a.Logger)
}

// newSinks builds every enabled channel. AWS clients are only loaded when email or SMS needs them.
func (a *App) newSinks(ctx context.Context) (service.Sinks, error) {
	var sinks service.Sinks

	if a.Config.Email.Enabled || a.Config.SMS.Enabled() {
		clients, err := alerting.NewAWSClients(ctx, a.Config.AWS.Region, a.Config.AWS.Endpoint)
		if err != nil {
			return sinks, err
		}
		if a.Config.Email.Enabled {
			sinks.Email = alerting.NewSESNotifier(clients.SES, alerting.EmailOptions{
				TemplateName:      a.Config.Email.TemplateName,
				Sender:            a.Config.Email.Sender,
				Recipient:         a.Config.Email.Recipient,
				SenderIdentityARN: a.Config.Email.SenderIdentityARN,
			}, a.Logger)
		}
		if a.Config.SMS.Enabled() {
			sinks.SMS = alerting.NewSNSNotifier(clients.SNS, a.Config.SMS.PhoneNumber, a.Logger)
		}
	}

	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		sinks.Extra = append(sinks.Extra, alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger))
	}

	return sinks, nil
}

func (a *App) openStore(ctx context.Context) (storage.HistoryStore, func(), error) {
	store, err := storage.Open(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}
	if _, ok := store.(*storage.MemoryStore); ok {
		a.Logger.Warn().Msg("database.driver is memory; price history is lost on exit")
	}

	closer := func() {
		if err := store.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("failed to close history store")
		}
	}
	return store, closer, nil
}

// newService wires store, quotes and sinks. The returned closer releases the store.
func (a *App) newService(ctx context.Context, sched *scheduler.Scheduler) (*service.Service, func(), error) {
	if err := a.Config.RequireDelivery(); err != nil {
		return nil, nil, err
	}

	sinks, err := a.newSinks(ctx)
	if err != nil {
		return nil, nil, err
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}

	svc := service.New(a.Config, sched, threshold.DefaultTable(), a.newQuoteSource(), store, sinks, a.Logger)
	return svc, closeStore, nil
}

// Run executes the long-running monitoring service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sched := scheduler.New(scheduler.Options{
		Interval:       a.Config.Scheduler.Interval,
		AlignToStart:   a.Config.Scheduler.AlignToBucket,
		StartupDelay:   a.Config.Scheduler.StartupDelay,
		RunImmediately: a.Config.Scheduler.RunImmediately,
	}, a.Logger)

	svc, closeStore, err := a.newService(ctx, sched)
	if err != nil {
		return err
	}
	defer closeStore()

	a.Logger.Info().Dur("interval", a.Config.Scheduler.Interval).Msg("starting monitoring service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// Invoke runs exactly one cycle, as an external trigger would.
func (a *App) Invoke(ctx context.Context, event json.RawMessage) (service.Response, error) {
	svc, closeStore, err := a.newService(ctx, nil)
	if err != nil {
		return service.Response{}, fmt.Errorf("prepare cycle: %w", err)
	}
	defer closeStore()

	return svc.Invoke(ctx, event), nil
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Bands bool
}

// SimulateOptions describe a synthetic quote pushed through the orchestrator.
type SimulateOptions struct {
	Asset  string
	Price  string
	Record bool
}
