package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"catalyst-bot/internal/logger"
	"catalyst-bot/internal/types"
)

// TiingoProvider serves quotes from the Tiingo IEX endpoint. It is the
// bulk-capable primary of the chain: one request covers a whole miss set.
type TiingoProvider struct {
	baseURL string
	http    *http.Client
}

func NewTiingoProvider(timeout time.Duration) *TiingoProvider {
	base := "https://api.tiingo.com"
	if v := os.Getenv("TIINGO_BASE_URL"); v != "" {
		base = v
	}
	return &TiingoProvider{
		baseURL: base,
		http:    &http.Client{Timeout: timeout},
	}
}

func (p *TiingoProvider) Name() string { return "tiingo" }

func (p *TiingoProvider) Quote(ctx context.Context, ticker string) (types.PriceQuote, error) {
	quotes, err := p.QuoteBatch(ctx, []string{ticker})
	if err != nil {
		return types.PriceQuote{}, err
	}
	q, ok := quotes[ticker]
	if !ok {
		return types.PriceQuote{}, ErrUnknownTicker
	}
	return q, nil
}

func (p *TiingoProvider) QuoteBatch(ctx context.Context, tickers []string) (map[string]types.PriceQuote, error) {
	token := os.Getenv("TIINGO_API_KEY")
	if token == "" {
		return nil, fmt.Errorf("%w: TIINGO_API_KEY missing", ErrProviderUnavailable)
	}

	u := fmt.Sprintf("%s/iex/?tickers=%s&token=%s",
		p.baseURL, url.QueryEscape(strings.Join(tickers, ",")), url.QueryEscape(token))
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: tiingo http %d", ErrProviderUnavailable, resp.StatusCode)
	}

	// Decode via json.Number so prices never round-trip through a float64.
	var rows []struct {
		Ticker    string      `json:"ticker"`
		Last      json.Number `json:"tngoLast"`
		Timestamp string      `json:"timestamp"`
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&rows); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	out := make(map[string]types.PriceQuote, len(rows))
	for _, row := range rows {
		price, err := decimal.NewFromString(row.Last.String())
		if err != nil {
			logger.Warn(ctx, "Skipping unparseable tiingo price", "ticker", row.Ticker, "value", row.Last.String())
			continue
		}
		asOf := time.Now()
		if ts, err := time.Parse(time.RFC3339, row.Timestamp); err == nil {
			asOf = ts
		}
		t := strings.ToUpper(row.Ticker)
		out[t] = types.PriceQuote{Ticker: t, Price: price, AsOf: asOf, Provider: p.Name()}
	}
	return out, nil
}
