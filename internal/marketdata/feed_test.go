package marketdata

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalyst-bot/internal/types"
)

// countingProvider wraps a StaticProvider and counts upstream calls.
type countingProvider struct {
	*StaticProvider
	batchCalls  atomic.Int64
	singleCalls atomic.Int64
	failBatch   bool
	failAll     bool
}

func (p *countingProvider) Quote(ctx context.Context, ticker string) (types.PriceQuote, error) {
	p.singleCalls.Add(1)
	if p.failAll {
		return types.PriceQuote{}, ErrProviderUnavailable
	}
	return p.StaticProvider.Quote(ctx, ticker)
}

func (p *countingProvider) QuoteBatch(ctx context.Context, tickers []string) (map[string]types.PriceQuote, error) {
	p.batchCalls.Add(1)
	if p.failBatch || p.failAll {
		return nil, ErrProviderUnavailable
	}
	return p.StaticProvider.QuoteBatch(ctx, tickers)
}

// singleOnly exposes a counting provider without its batch method so the
// feed treats it as a plain fallback provider.
type singleOnly struct {
	p *countingProvider
}

func (s singleOnly) Name() string { return s.p.Name() }

func (s singleOnly) Quote(ctx context.Context, ticker string) (types.PriceQuote, error) {
	return s.p.Quote(ctx, ticker)
}

func prices(ps map[string]string) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(ps))
	for k, v := range ps {
		out[k] = decimal.RequireFromString(v)
	}
	return out
}

func newTestFeed(providers ...Provider) *Feed {
	return NewFeed(providers, 30*time.Second, 10*time.Second, NewMetrics(nil))
}

func TestGetPricesCacheTTL(t *testing.T) {
	primary := &countingProvider{StaticProvider: NewStaticProvider("primary", prices(map[string]string{"AAPL": "187.23"}))}
	feed := newTestFeed(primary)

	base := time.Now()
	clock := base
	feed.now = func() time.Time { return clock }

	ctx := context.Background()
	got := feed.GetPrices(ctx, []string{"AAPL"})
	require.Contains(t, got, "AAPL")
	assert.Equal(t, "187.23", got["AAPL"].Price.String())
	assert.Equal(t, int64(1), primary.batchCalls.Load())

	// +10s: still fresh, zero provider calls.
	clock = base.Add(10 * time.Second)
	got = feed.GetPrices(ctx, []string{"AAPL"})
	require.Contains(t, got, "AAPL")
	assert.Equal(t, int64(1), primary.batchCalls.Load())

	// +40s: past TTL, a fresh fetch goes out.
	clock = base.Add(40 * time.Second)
	got = feed.GetPrices(ctx, []string{"AAPL"})
	require.Contains(t, got, "AAPL")
	assert.Equal(t, int64(2), primary.batchCalls.Load())

	stats := feed.Stats()
	assert.Equal(t, uint64(1), stats.CacheHits)
	assert.Equal(t, uint64(2), stats.CacheMisses)
}

func TestGetPricesBatchFallbackToSingles(t *testing.T) {
	primary := &countingProvider{
		StaticProvider: NewStaticProvider("primary", nil),
		failBatch:      true,
	}
	secondary := singleOnly{p: &countingProvider{
		StaticProvider: NewStaticProvider("secondary", prices(map[string]string{"AAPL": "187.23", "TSLA": "244.10"})),
	}}

	feed := newTestFeed(primary, secondary)
	got := feed.GetPrices(context.Background(), []string{"AAPL", "TSLA"})

	require.Len(t, got, 2)
	assert.Equal(t, "secondary", got["AAPL"].Provider)
	assert.Equal(t, int64(1), primary.batchCalls.Load(), "one batch attempt for the whole miss set")
	assert.Equal(t, int64(2), secondary.p.singleCalls.Load())
}

func TestGetPricesChainOrder(t *testing.T) {
	primary := &countingProvider{StaticProvider: NewStaticProvider("primary", nil), failBatch: true}
	secondary := singleOnly{p: &countingProvider{StaticProvider: NewStaticProvider("secondary", nil), failAll: true}}
	tertiary := singleOnly{p: &countingProvider{
		StaticProvider: NewStaticProvider("tertiary", prices(map[string]string{"NVDA": "455.00"})),
	}}

	feed := newTestFeed(primary, secondary, tertiary)
	got := feed.GetPrices(context.Background(), []string{"NVDA"})

	require.Contains(t, got, "NVDA")
	assert.Equal(t, "tertiary", got["NVDA"].Provider)
	assert.Equal(t, int64(1), secondary.p.singleCalls.Load(), "secondary tried before tertiary")
}

func TestGetPricesUnavailableNotStale(t *testing.T) {
	primary := &countingProvider{StaticProvider: NewStaticProvider("primary", prices(map[string]string{"AAPL": "187.23"}))}
	feed := newTestFeed(primary)

	base := time.Now()
	clock := base
	feed.now = func() time.Time { return clock }

	ctx := context.Background()
	got := feed.GetPrices(ctx, []string{"AAPL"})
	require.Contains(t, got, "AAPL")

	// Provider dies and the cache expires: the expired quote must not be
	// served.
	primary.failAll = true
	clock = base.Add(40 * time.Second)
	got = feed.GetPrices(ctx, []string{"AAPL"})
	assert.NotContains(t, got, "AAPL")
}

func TestGetPricesPartialResult(t *testing.T) {
	primary := &countingProvider{StaticProvider: NewStaticProvider("primary", prices(map[string]string{"AAPL": "187.23"}))}
	feed := newTestFeed(primary)

	got := feed.GetPrices(context.Background(), []string{"AAPL", "GHOST"})
	assert.Contains(t, got, "AAPL")
	assert.NotContains(t, got, "GHOST", "unresolvable ticker degrades alone")
}

func TestGetPricesDropsNonPositiveQuotes(t *testing.T) {
	primary := &countingProvider{StaticProvider: NewStaticProvider("primary", prices(map[string]string{
		"AAPL": "187.23",
		"HALT": "0",
	}))}
	feed := newTestFeed(primary)

	got := feed.GetPrices(context.Background(), []string{"AAPL", "HALT"})
	assert.Contains(t, got, "AAPL")
	assert.NotContains(t, got, "HALT", "a zero-price row is no quote at all")
}

// slowProvider blocks the first fetch until released, exposing in-flight
// dedup behavior.
type slowProvider struct {
	*StaticProvider
	calls   atomic.Int64
	release chan struct{}
}

func (p *slowProvider) QuoteBatch(ctx context.Context, tickers []string) (map[string]types.PriceQuote, error) {
	p.calls.Add(1)
	<-p.release
	return p.StaticProvider.QuoteBatch(ctx, tickers)
}

func TestGetPricesDedupsInflightFetches(t *testing.T) {
	p := &slowProvider{
		StaticProvider: NewStaticProvider("slow", prices(map[string]string{"AAPL": "187.23"})),
		release:        make(chan struct{}),
	}
	feed := newTestFeed(p)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]map[string]types.PriceQuote, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = feed.GetPrices(ctx, []string{"AAPL"})
		}(i)
	}

	// Let both callers reach the feed before the provider answers.
	time.Sleep(50 * time.Millisecond)
	close(p.release)
	wg.Wait()

	assert.Equal(t, int64(1), p.calls.Load(), "concurrent callers share one upstream fetch")
	for _, r := range results {
		assert.Contains(t, r, "AAPL")
	}
}

func TestStaticProviderUnknownTicker(t *testing.T) {
	p := NewStaticProvider("static", nil)
	_, err := p.Quote(context.Background(), "AAPL")
	assert.True(t, errors.Is(err, ErrUnknownTicker))
}
