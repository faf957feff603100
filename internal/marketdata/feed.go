package marketdata

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"catalyst-bot/internal/logger"
	"catalyst-bot/internal/types"
)

// Metrics holds the feed's Prometheus instruments.
type Metrics struct {
	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter
	ProviderCalls  *prometheus.CounterVec
	ProviderErrors *prometheus.CounterVec
	ProviderUp     *prometheus.GaugeVec
}

// NewMetrics registers the feed instruments on reg. Pass a fresh registry
// in tests to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketdata_cache_hits_total",
			Help: "Price requests served from the quote cache.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketdata_cache_misses_total",
			Help: "Price requests that required a provider fetch.",
		}),
		ProviderCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketdata_provider_calls_total",
			Help: "Upstream provider calls by provider.",
		}, []string{"provider"}),
		ProviderErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketdata_provider_errors_total",
			Help: "Failed upstream provider calls by provider.",
		}, []string{"provider"}),
		ProviderUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "marketdata_provider_last_success_timestamp_seconds",
			Help: "Unix time of each provider's last successful call.",
		}, []string{"provider"}),
	}
	if reg != nil {
		reg.MustRegister(m.CacheHits, m.CacheMisses, m.ProviderCalls, m.ProviderErrors, m.ProviderUp)
	}
	return m
}

// Stats is a read-only snapshot of feed health. It is a side channel for
// the status API, not part of the pricing contract.
type Stats struct {
	CacheHits        uint64               `json:"cache_hits"`
	CacheMisses      uint64               `json:"cache_misses"`
	ProviderLastGood map[string]time.Time `json:"provider_last_good"`
}

type cacheEntry struct {
	quote     types.PriceQuote
	expiresAt time.Time
}

// Feed serves batch price lookups from a TTL cache, resolving misses
// through an ordered provider chain. A quote past its TTL is treated as
// absent, never returned stale.
type Feed struct {
	providers    []Provider
	ttl          time.Duration
	batchTimeout time.Duration
	metrics      *Metrics
	now          func() time.Time

	mu       sync.Mutex
	cache    map[string]cacheEntry
	inflight map[string]chan struct{}
	hits     uint64
	misses   uint64
	lastGood map[string]time.Time
}

// NewFeed builds a feed over providers in fallback priority order. The
// first provider is preferred and, when it implements BatchProvider, the
// whole miss set goes out as one call.
func NewFeed(providers []Provider, ttl, batchTimeout time.Duration, metrics *Metrics) *Feed {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Feed{
		providers:    providers,
		ttl:          ttl,
		batchTimeout: batchTimeout,
		metrics:      metrics,
		now:          time.Now,
		cache:        make(map[string]cacheEntry),
		inflight:     make(map[string]chan struct{}),
		lastGood:     make(map[string]time.Time),
	}
}

// GetPrices resolves quotes for the given tickers. Tickers the whole chain
// failed on are absent from the result. Concurrent callers asking for the
// same expired ticker share one upstream fetch.
func (f *Feed) GetPrices(ctx context.Context, tickers []string) map[string]types.PriceQuote {
	ctx, span := logger.StartSpan(ctx, "marketdata-get-prices")
	defer span.End()

	result := make(map[string]types.PriceQuote, len(tickers))
	var claimed []string
	waiting := make(map[string]chan struct{})

	f.mu.Lock()
	now := f.now()
	for _, t := range tickers {
		if entry, ok := f.cache[t]; ok && now.Before(entry.expiresAt) {
			result[t] = entry.quote
			f.hits++
			f.metrics.CacheHits.Inc()
			continue
		}
		f.misses++
		f.metrics.CacheMisses.Inc()
		if ch, ok := f.inflight[t]; ok {
			// Someone else is already fetching this ticker.
			waiting[t] = ch
			continue
		}
		ch := make(chan struct{})
		f.inflight[t] = ch
		claimed = append(claimed, t)
	}
	f.mu.Unlock()

	if len(claimed) > 0 {
		f.fetchAndStore(ctx, claimed)
	}

	for t, ch := range waiting {
		select {
		case <-ch:
		case <-ctx.Done():
			continue
		}
		f.mu.Lock()
		if entry, ok := f.cache[t]; ok && f.now().Before(entry.expiresAt) {
			result[t] = entry.quote
		}
		f.mu.Unlock()
	}

	f.mu.Lock()
	for _, t := range claimed {
		if entry, ok := f.cache[t]; ok && f.now().Before(entry.expiresAt) {
			result[t] = entry.quote
		}
	}
	f.mu.Unlock()

	return result
}

// fetchAndStore resolves the claimed tickers through the chain, writes the
// cache, and releases the in-flight markers no matter what happened.
func (f *Feed) fetchAndStore(ctx context.Context, claimed []string) {
	defer func() {
		f.mu.Lock()
		for _, t := range claimed {
			if ch, ok := f.inflight[t]; ok {
				close(ch)
				delete(f.inflight, t)
			}
		}
		f.mu.Unlock()
	}()

	fetchCtx, cancel := context.WithTimeout(ctx, f.batchTimeout)
	defer cancel()

	quotes := f.fetchChain(fetchCtx, claimed)
	for t, q := range quotes {
		if !q.Price.IsPositive() {
			// Halted symbols and bad provider rows come back as zero.
			// Caching them would poison every downstream price consumer.
			logger.Warn(ctx, "Dropping non-positive quote",
				"ticker", t, "provider", q.Provider, "price", q.Price.String())
			delete(quotes, t)
		}
	}
	if len(quotes) == 0 {
		return
	}

	f.mu.Lock()
	expiry := f.now().Add(f.ttl)
	for t, q := range quotes {
		f.cache[t] = cacheEntry{quote: q, expiresAt: expiry}
	}
	f.mu.Unlock()
}

// fetchChain tries the primary batch call first, then walks each still
// unresolved ticker down the chain one provider at a time. A provider
// timeout aborts only that call.
func (f *Feed) fetchChain(ctx context.Context, tickers []string) map[string]types.PriceQuote {
	resolved := make(map[string]types.PriceQuote, len(tickers))

	rest := tickers
	if len(f.providers) > 0 {
		if bulk, ok := f.providers[0].(BatchProvider); ok {
			f.metrics.ProviderCalls.WithLabelValues(bulk.Name()).Inc()
			quotes, err := bulk.QuoteBatch(ctx, tickers)
			if err != nil {
				f.metrics.ProviderErrors.WithLabelValues(bulk.Name()).Inc()
				logger.Warn(ctx, "Batch provider failed, falling back",
					"provider", bulk.Name(), "tickers", len(tickers), "error", err)
			} else {
				f.markGood(bulk.Name())
				rest = rest[:0:0]
				for _, t := range tickers {
					if q, ok := quotes[t]; ok {
						resolved[t] = q
					} else {
						rest = append(rest, t)
					}
				}
			}
		}
	}

	for _, t := range rest {
		for i, p := range f.providers {
			if i == 0 {
				if _, isBulk := p.(BatchProvider); isBulk {
					// Already tried above for everything in rest.
					continue
				}
			}
			f.metrics.ProviderCalls.WithLabelValues(p.Name()).Inc()
			q, err := p.Quote(ctx, t)
			if err != nil {
				f.metrics.ProviderErrors.WithLabelValues(p.Name()).Inc()
				logger.Debug(ctx, "Provider miss", "provider", p.Name(), "ticker", t, "error", err)
				continue
			}
			f.markGood(p.Name())
			resolved[t] = q
			break
		}
	}
	return resolved
}

func (f *Feed) markGood(provider string) {
	now := f.now()
	f.metrics.ProviderUp.WithLabelValues(provider).Set(float64(now.Unix()))
	f.mu.Lock()
	f.lastGood[provider] = now
	f.mu.Unlock()
}

// Stats returns a snapshot of hit/miss counters and provider health.
func (f *Feed) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	lastGood := make(map[string]time.Time, len(f.lastGood))
	for k, v := range f.lastGood {
		lastGood[k] = v
	}
	return Stats{CacheHits: f.hits, CacheMisses: f.misses, ProviderLastGood: lastGood}
}
