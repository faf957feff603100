// Package marketdata serves batch price quotes through a TTL cache backed
// by an ordered provider fallback chain.
package marketdata

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"catalyst-bot/internal/types"
)

// ErrProviderUnavailable is returned by providers that could not answer.
// The feed absorbs it by walking the fallback chain; it never reaches the
// feed's callers.
var ErrProviderUnavailable = errors.New("marketdata: provider unavailable")

// ErrUnknownTicker is returned by providers for tickers they do not carry.
var ErrUnknownTicker = errors.New("marketdata: unknown ticker")

// Provider answers single-ticker quote requests.
type Provider interface {
	Name() string
	Quote(ctx context.Context, ticker string) (types.PriceQuote, error)
}

// BatchProvider additionally answers one call for many tickers. The feed
// uses this for the primary provider so a monitoring cycle costs one
// upstream request, not N.
type BatchProvider interface {
	Provider
	QuoteBatch(ctx context.Context, tickers []string) (map[string]types.PriceQuote, error)
}

// StaticProvider serves fixed prices from memory. Used in DRY_RUN mode and
// as the terminal chain entry in tests.
type StaticProvider struct {
	name string

	mu     sync.RWMutex
	prices map[string]decimal.Decimal
}

func NewStaticProvider(name string, prices map[string]decimal.Decimal) *StaticProvider {
	if prices == nil {
		prices = map[string]decimal.Decimal{}
	}
	return &StaticProvider{name: name, prices: prices}
}

func (p *StaticProvider) Name() string { return p.name }

// SetPrice updates a ticker's price, for replaying scenarios.
func (p *StaticProvider) SetPrice(ticker string, price decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[ticker] = price
}

// RemovePrice drops a ticker, simulating a symbol the provider stopped
// carrying.
func (p *StaticProvider) RemovePrice(ticker string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.prices, ticker)
}

func (p *StaticProvider) Quote(ctx context.Context, ticker string) (types.PriceQuote, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	price, ok := p.prices[ticker]
	if !ok {
		return types.PriceQuote{}, ErrUnknownTicker
	}
	return types.PriceQuote{
		Ticker:   ticker,
		Price:    price,
		AsOf:     time.Now(),
		Provider: p.name,
	}, nil
}

func (p *StaticProvider) QuoteBatch(ctx context.Context, tickers []string) (map[string]types.PriceQuote, error) {
	out := make(map[string]types.PriceQuote, len(tickers))
	for _, t := range tickers {
		q, err := p.Quote(ctx, t)
		if err != nil {
			continue
		}
		out[t] = q
	}
	return out, nil
}
