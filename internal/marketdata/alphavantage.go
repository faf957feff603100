package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"catalyst-bot/internal/types"
)

// AlphaVantageProvider serves single-ticker quotes from the Alpha Vantage
// GLOBAL_QUOTE endpoint. It sits behind the bulk provider in the chain;
// it has no batch call and a tight free-tier rate limit.
type AlphaVantageProvider struct {
	baseURL string
	http    *http.Client
}

func NewAlphaVantageProvider(timeout time.Duration) *AlphaVantageProvider {
	base := "https://www.alphavantage.co"
	if v := os.Getenv("ALPHAVANTAGE_BASE_URL"); v != "" {
		base = v
	}
	return &AlphaVantageProvider{
		baseURL: base,
		http:    &http.Client{Timeout: timeout},
	}
}

func (p *AlphaVantageProvider) Name() string { return "alphavantage" }

func (p *AlphaVantageProvider) Quote(ctx context.Context, ticker string) (types.PriceQuote, error) {
	key := os.Getenv("ALPHAVANTAGE_API_KEY")
	if key == "" {
		return types.PriceQuote{}, fmt.Errorf("%w: ALPHAVANTAGE_API_KEY missing", ErrProviderUnavailable)
	}

	u := fmt.Sprintf("%s/query?function=GLOBAL_QUOTE&symbol=%s&apikey=%s",
		p.baseURL, url.QueryEscape(ticker), url.QueryEscape(key))
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return types.PriceQuote{}, err
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return types.PriceQuote{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return types.PriceQuote{}, fmt.Errorf("%w: alphavantage http %d", ErrProviderUnavailable, resp.StatusCode)
	}

	// The quote arrives as strings, which suits the decimal contract.
	var body struct {
		GlobalQuote struct {
			Symbol string `json:"01. symbol"`
			Price  string `json:"05. price"`
		} `json:"Global Quote"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return types.PriceQuote{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if body.GlobalQuote.Price == "" {
		return types.PriceQuote{}, ErrUnknownTicker
	}
	price, err := decimal.NewFromString(body.GlobalQuote.Price)
	if err != nil {
		return types.PriceQuote{}, fmt.Errorf("%w: bad price %q", ErrProviderUnavailable, body.GlobalQuote.Price)
	}

	return types.PriceQuote{
		Ticker:   ticker,
		Price:    price,
		AsOf:     time.Now(),
		Provider: p.Name(),
	}, nil
}
