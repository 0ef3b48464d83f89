package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricewatch/internal/alerting"
	"pricewatch/internal/config"
	"pricewatch/internal/fetcher"
	"pricewatch/internal/storage"
	"pricewatch/internal/threshold"
)

type recordingNotifier struct {
	name   string
	mu     sync.Mutex
	events []alerting.AlertEvent
	err    error
}

func (r *recordingNotifier) Name() string { return r.name }

func (r *recordingNotifier) Notify(_ context.Context, event alerting.AlertEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, event)
	return nil
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type fixture struct {
	svc   *Service
	quote *fetcher.StaticSource
	store *storage.MemoryStore
	email *recordingNotifier
	sms   *recordingNotifier
}

func testConfig(smsMode string) *config.Config {
	return &config.Config{
		SMS:      config.SMSConfig{Mode: smsMode, PhoneNumber: "+15550100"},
		Alerting: config.AlertingConfig{DedupDropPct: 10},
	}
}

func newFixture(t *testing.T, cfg *config.Config, quotes fetcher.QuoteSource) fixture {
	t.Helper()
	f := fixture{
		store: storage.NewMemoryStore(),
		email: &recordingNotifier{name: "email"},
		sms:   &recordingNotifier{name: "sms"},
	}
	if quotes == nil {
		f.quote = &fetcher.StaticSource{Prices: map[string]decimal.Decimal{}}
		quotes = f.quote
	}
	f.svc = New(cfg, nil, threshold.DefaultTable(), quotes, f.store, Sinks{Email: f.email, SMS: f.sms}, zerolog.Nop())
	return f
}

func (f fixture) setPrice(asset, price string) {
	f.quote.Prices[asset] = decimal.RequireFromString(price)
}

func outcomeFor(t *testing.T, result CycleResult, asset string) AssetOutcome {
	t.Helper()
	for _, a := range result.Assets {
		if a.Asset == asset {
			return a
		}
	}
	t.Fatalf("no outcome for %s in %+v", asset, result.Assets)
	return AssetOutcome{}
}

func TestSolanaDippingNotifiesEmailAndSMS(t *testing.T) {
	f := newFixture(t, testConfig("on"), nil)
	f.setPrice("solana", "160")

	result, err := f.svc.ProcessCycle(context.Background(), time.Now())
	require.NoError(t, err)

	require.Equal(t, 1, f.email.count())
	require.Equal(t, 1, f.sms.count())

	event := f.email.events[0]
	assert.Equal(t, "solana", event.Asset)
	assert.Equal(t, "Dipping", event.Band.Label)
	assert.True(t, event.Band.Min.Equal(decimal.NewFromInt(150)))
	assert.True(t, event.Band.Max.Equal(decimal.NewFromInt(170)))
	assert.Equal(t, "Dipping", f.sms.events[0].Band.Label)

	outcome := outcomeFor(t, result, "solana")
	assert.Equal(t, StatusAlerted, outcome.Status)
	assert.Equal(t, []string{"Dipping"}, outcome.Matched)
	assert.Equal(t, 2, outcome.Notified)
	assert.Equal(t, 1, outcome.Recorded)
	assert.Equal(t, 1, f.store.Count("solana"))
}

func TestSuiBoundaryMatchesInteresting(t *testing.T) {
	f := newFixture(t, testConfig("on"), nil)
	f.setPrice("sui", "3.0")

	_, err := f.svc.ProcessCycle(context.Background(), time.Now())
	require.NoError(t, err)

	require.Equal(t, 1, f.email.count())
	assert.Equal(t, "Interesting", f.email.events[0].Band.Label)
}

func TestSMSGateClosed(t *testing.T) {
	f := newFixture(t, testConfig("off"), nil)
	f.setPrice("solana", "160")

	_, err := f.svc.ProcessCycle(context.Background(), time.Now())
	require.NoError(t, err)

	assert.Equal(t, 1, f.email.count())
	assert.Equal(t, 0, f.sms.count())

	cfg := testConfig("on")
	cfg.SMS.PhoneNumber = ""
	f = newFixture(t, cfg, nil)
	f.setPrice("solana", "160")
	_, err = f.svc.ProcessCycle(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, f.sms.count(), "no phone number means no sms")
}

func TestUnconfiguredAssetIsSkipped(t *testing.T) {
	f := newFixture(t, testConfig("on"), &fetcher.StaticSource{Prices: map[string]decimal.Decimal{}})
	f.svc.quotes = quoteFunc(func(ctx context.Context, slugs []string) ([]fetcher.Quote, error) {
		return []fetcher.Quote{{Slug: "ethereum", Price: decimal.NewFromInt(3000)}}, nil
	})

	result, err := f.svc.ProcessCycle(context.Background(), time.Now())
	require.NoError(t, err)

	assert.Equal(t, 0, f.email.count())
	assert.Equal(t, 0, f.sms.count())
	assert.Equal(t, 0, f.store.Count("ethereum"))
	assert.Equal(t, StatusSkipped, outcomeFor(t, result, "ethereum").Status)
	assert.Equal(t, StatusSkipped, outcomeFor(t, result, "solana").Status, "configured asset without quote is reported")
}

func TestUpstreamFailureAbortsCycle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	source := fetcher.NewCoinMarketCap(fetcher.CoinMarketCapOptions{BaseURL: srv.URL, APIKey: "k", Timeout: time.Second}, zerolog.Nop())
	f := newFixture(t, testConfig("on"), source)

	_, err := f.svc.ProcessCycle(context.Background(), time.Now())
	require.Error(t, err)
	assert.ErrorIs(t, err, fetcher.ErrUpstream)

	resp := f.svc.Invoke(context.Background(), json.RawMessage(`{}`))
	assert.Empty(t, resp.Data)
	assert.Nil(t, resp.Result)
	assert.NotEmpty(t, resp.Error)

	assert.Equal(t, 0, f.email.count())
	assert.Equal(t, 0, f.sms.count())
	assert.Equal(t, 0, f.store.Count("solana"))
}

func TestInvokeSuccess(t *testing.T) {
	f := newFixture(t, testConfig("off"), nil)
	f.setPrice("solana", "120")

	resp := f.svc.Invoke(context.Background(), nil)
	assert.Equal(t, "success", resp.Data)
	require.NotNil(t, resp.Result)
	assert.Equal(t, []string{"Interesting"}, outcomeFor(t, *resp.Result, "solana").Matched)
}

func TestEmailFailureDoesNotBlockOtherSideEffects(t *testing.T) {
	f := newFixture(t, testConfig("on"), nil)
	f.email.err = errors.New("ses down")
	f.setPrice("solana", "160")
	f.setPrice("sui", "2.6")

	result, err := f.svc.ProcessCycle(context.Background(), time.Now())
	require.NoError(t, err)

	assert.Equal(t, 2, f.sms.count(), "sms still sent for both assets")
	assert.Equal(t, 1, f.store.Count("solana"))
	assert.Equal(t, 1, f.store.Count("sui"))

	solana := outcomeFor(t, result, "solana")
	assert.Equal(t, StatusFailed, solana.Status)
	assert.Contains(t, solana.Reason, "ses down")
	assert.Equal(t, 1, solana.Notified)
	assert.Len(t, result.Failed(), 2)
}

func TestMissingUSDQuoteOnlyFailsThatAsset(t *testing.T) {
	f := newFixture(t, testConfig("off"), nil)
	f.svc.quotes = quoteFunc(func(ctx context.Context, slugs []string) ([]fetcher.Quote, error) {
		return []fetcher.Quote{
			{Slug: "solana", Err: fetcher.ErrMissingQuote},
			{Slug: "sui", Price: decimal.RequireFromString("3.1")},
		}, nil
	})

	result, err := f.svc.ProcessCycle(context.Background(), time.Now())
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, outcomeFor(t, result, "solana").Status)
	assert.Equal(t, StatusAlerted, outcomeFor(t, result, "sui").Status)
	assert.Equal(t, 1, f.email.count())
}

func TestHistoryDedupAcrossCycles(t *testing.T) {
	f := newFixture(t, testConfig("off"), nil)
	ctx := context.Background()

	steps := []struct {
		price     string
		recorded  int
		wantPrice string
	}{
		{"160", 1, "160"}, // first observation
		{"165", 0, "160"}, // rise
		{"155", 0, "160"}, // drop of 3.17%
		{"120", 1, "120"}, // drop of 28.57%
		{"125", 0, "120"}, // rise
		{"110", 0, "120"}, // drop of 8.70%
		{"99", 1, "99"},   // drop of 19.18%
	}
	for i, step := range steps {
		f.setPrice("solana", step.price)
		result, err := f.svc.ProcessCycle(ctx, time.Now())
		require.NoError(t, err)

		outcome := outcomeFor(t, result, "solana")
		assert.Equal(t, StatusAlerted, outcome.Status, "step %d", i)
		assert.Equal(t, step.recorded, outcome.Recorded, "step %d price %s", i, step.price)

		rec, err := f.store.MostRecent(ctx, "solana")
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.True(t, rec.Price.Equal(decimal.RequireFromString(step.wantPrice)), "step %d baseline %s", i, rec.Price)
	}
}

func TestOverlappingBandsAllNotify(t *testing.T) {
	f := newFixture(t, testConfig("on"), nil)
	f.svc.table = threshold.Table{
		"solana": {
			{Min: decimal.NewFromInt(100), Max: decimal.NewFromInt(200), Label: "wide"},
			{Min: decimal.NewFromInt(150), Max: decimal.NewFromInt(170), Label: "narrow"},
		},
	}
	f.setPrice("solana", "160")

	result, err := f.svc.ProcessCycle(context.Background(), time.Now())
	require.NoError(t, err)

	require.Equal(t, 2, f.email.count())
	require.Equal(t, 2, f.sms.count())
	assert.Equal(t, "wide", f.email.events[0].Band.Label)
	assert.Equal(t, "narrow", f.email.events[1].Band.Label)
	assert.Equal(t, "wide", f.sms.events[0].Band.Label)
	assert.Equal(t, "narrow", f.sms.events[1].Band.Label)
	assert.Equal(t, 1, outcomeFor(t, result, "solana").Recorded, "second band sees the first write as baseline")
}

func TestOverlappingCycleIsSkipped(t *testing.T) {
	f := newFixture(t, testConfig("off"), nil)

	entered := make(chan struct{})
	release := make(chan struct{})
	f.svc.quotes = quoteFunc(func(ctx context.Context, slugs []string) ([]fetcher.Quote, error) {
		close(entered)
		<-release
		return nil, nil
	})

	done := make(chan CycleResult)
	go func() {
		result, _ := f.svc.ProcessCycle(context.Background(), time.Now())
		done <- result
	}()

	<-entered
	second, err := f.svc.ProcessCycle(context.Background(), time.Now())
	require.NoError(t, err)
	assert.True(t, second.Skipped)

	close(release)
	first := <-done
	assert.False(t, first.Skipped)
}

type lockedStore struct {
	*storage.MemoryStore
	acquired bool
	calls    int
}

func (l *lockedStore) TryAdvisoryLock(_ context.Context, _ int64) (func(), bool, error) {
	l.calls++
	if !l.acquired {
		return nil, false, nil
	}
	return func() {}, true, nil
}

func TestAdvisoryLockHeldElsewhere(t *testing.T) {
	cfg := testConfig("off")
	cfg.Scheduler.AdvisoryLockKey = 42
	store := &lockedStore{MemoryStore: storage.NewMemoryStore()}
	source := &fetcher.StaticSource{Prices: map[string]decimal.Decimal{"solana": decimal.NewFromInt(160)}}
	email := &recordingNotifier{name: "email"}

	svc := New(cfg, nil, threshold.DefaultTable(), source, store, Sinks{Email: email}, zerolog.Nop())

	result, err := svc.ProcessCycle(context.Background(), time.Now())
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Equal(t, 0, email.count())
	assert.Equal(t, 1, store.calls)

	store.acquired = true
	result, err = svc.ProcessCycle(context.Background(), time.Now())
	require.NoError(t, err)
	assert.False(t, result.Skipped)
	assert.Equal(t, 1, email.count())
}

type quoteFunc func(ctx context.Context, slugs []string) ([]fetcher.Quote, error)

func (f quoteFunc) FetchQuotes(ctx context.Context, slugs []string) ([]fetcher.Quote, error) {
	return f(ctx, slugs)
}
