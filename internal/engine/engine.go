// Package engine turns fused signals into sized positions and runs the
// periodic monitoring cycle that closes them.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"catalyst-bot/internal/interfaces"
	"catalyst-bot/internal/logger"
	"catalyst-bot/internal/marketdata"
	"catalyst-bot/internal/store"
	"catalyst-bot/internal/tradelog"
	"catalyst-bot/internal/types"
)

// ErrSignalTooWeak means the signal did not clear the confidence or score
// thresholds. Not a risk breach; the signal simply is not tradeable.
var ErrSignalTooWeak = errors.New("engine: signal below trade thresholds")

// ErrPriceUnavailable means the feed could not produce a quote for the
// ticker, so no entry price exists to open against.
var ErrPriceUnavailable = errors.New("engine: no price available")

// nominalAccountValue sizes paper positions. A live deployment would pull
// the real account value from the broker instead.
var nominalAccountValue = decimal.NewFromInt(100_000)

// Engine is the position state machine. Positions are owned exclusively
// here; status transitions are the only mutation path.
type Engine struct {
	cfg       *store.Config
	feed      *marketdata.Feed
	brk       interfaces.Broker
	alerter   interfaces.Alerter
	portfolio *portfolio

	mu            sync.Mutex
	closeRequests map[string]bool
}

func New(cfg *store.Config, feed *marketdata.Feed, brk interfaces.Broker, alerter interfaces.Alerter) *Engine {
	return &Engine{
		cfg:     cfg,
		feed:    feed,
		brk:     brk,
		alerter: alerter,
		portfolio: newPortfolio(
			cfg.Risk.MaxPortfolioExposurePct,
			cfg.Risk.MaxPositionPct,
			cfg.Risk.MaxDailyLossPct,
		),
		closeRequests: make(map[string]bool),
	}
}

// Evaluate runs a fused signal through the trade gates and, when every
// gate passes, opens and begins monitoring a position. The returned
// position is a copy; errors wrap ErrRiskLimitBreached or ErrSignalTooWeak.
func (e *Engine) Evaluate(ctx context.Context, sig types.FusedSignal) (*types.Position, error) {
	ctx, span := logger.StartSpan(ctx, "engine-evaluate")
	defer span.End()

	if !e.cfg.Features.TradingEnabled {
		return nil, nil
	}
	if sig.Confidence < e.cfg.Fusion.MinConfidence || absf(sig.Score) < e.cfg.Fusion.MinScore {
		return nil, ErrSignalTooWeak
	}
	// Long-only loop: negative conviction closes coverage, it does not short.
	if sig.Score < 0 {
		return nil, ErrSignalTooWeak
	}
	if e.cfg.Risk.MinRiskReward > 0 &&
		e.cfg.Risk.TakeProfitPct/e.cfg.Risk.StopLossPct < e.cfg.Risk.MinRiskReward {
		return nil, fmt.Errorf("%w: risk/reward below minimum", ErrRiskLimitBreached)
	}

	quotes := e.feed.GetPrices(ctx, []string{sig.Ticker})
	quote, ok := quotes[sig.Ticker]
	if !ok || !quote.Price.IsPositive() {
		// A zero price (halted symbol, bad provider row) is no entry
		// price at all.
		return nil, ErrPriceUnavailable
	}

	sizePct := e.positionSize(sig.Confidence)

	// Check-and-reserve is atomic with respect to other opens.
	if err := e.portfolio.reserve(sig.Ticker, sizePct); err != nil {
		logger.Risk(ctx, sig.Ticker, "OPEN_REJECTED", "reason", err.Error(),
			"size_pct", sizePct.String())
		return nil, err
	}

	qty := int(nominalAccountValue.Mul(sizePct).Div(hundred).Div(quote.Price).IntPart())
	if qty < 1 {
		qty = 1
	}

	logger.Transition(ctx, sig.Ticker, "", string(types.StatusProposed),
		"score", sig.Score, "confidence", sig.Confidence)

	resp, err := e.brk.Submit(ctx, types.OrderReq{
		Ticker:   sig.Ticker,
		Side:     "BUY",
		Qty:      qty,
		RefPrice: quote.Price,
		Tag:      "SIGNAL",
	})
	if err != nil {
		e.portfolio.rollback(sig.Ticker)
		logger.ErrorWithErr(ctx, "Broker submit failed", err, "ticker", sig.Ticker)
		return nil, err
	}

	entry := resp.FillPrice
	if entry.IsZero() {
		entry = quote.Price
	}
	stopPct := decimal.NewFromFloat(e.cfg.Risk.StopLossPct).Div(hundred)
	takePct := decimal.NewFromFloat(e.cfg.Risk.TakeProfitPct).Div(hundred)

	pos := &types.Position{
		Ticker:      sig.Ticker,
		Qty:         qty,
		SizePct:     sizePct,
		EntryPrice:  entry,
		StopPrice:   entry.Mul(decimal.NewFromInt(1).Sub(stopPct)),
		TargetPrice: entry.Mul(decimal.NewFromInt(1).Add(takePct)),
		OpenedAt:    time.Now(),
		Status:      types.StatusMonitoring,
	}
	e.portfolio.commit(pos)

	logger.Transition(ctx, pos.Ticker, string(types.StatusProposed), string(types.StatusOpen),
		"entry", entry.String(), "stop", pos.StopPrice.String(), "target", pos.TargetPrice.String(),
		"qty", qty, "order_id", resp.OrderID)
	logger.Transition(ctx, pos.Ticker, string(types.StatusOpen), string(types.StatusMonitoring))
	_ = tradelog.AppendTransition(tradelog.TransitionEntry{
		Ticker: pos.Ticker,
		From:   string(types.StatusProposed),
		To:     string(types.StatusOpen),
		Price:  entry.String(),
	})
	e.alerter.Notify(ctx, "position_opened", *pos)

	cp := *pos
	return &cp, nil
}

// positionSize scales from the base size toward the max as confidence
// rises above the trade threshold.
func (e *Engine) positionSize(confidence float64) decimal.Decimal {
	base := e.cfg.Risk.BasePositionPct
	max := e.cfg.Risk.MaxPositionPct
	min := e.cfg.Fusion.MinConfidence

	scale := 0.0
	if confidence > min && min < 1 {
		scale = (confidence - min) / (1 - min)
	}
	size := base + (max-base)*scale
	if size > max {
		size = max
	}
	return decimal.NewFromFloat(size)
}

// RequestClose flags a position for MANUALLY_CLOSED on the next cycle.
// External collaborators (end-of-day policy, an operator) use this.
func (e *Engine) RequestClose(ticker string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closeRequests[ticker] = true
}

func (e *Engine) takeCloseRequest(ticker string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closeRequests[ticker] {
		delete(e.closeRequests, ticker)
		return true
	}
	return false
}

// MonitorCycle fetches one batch of prices for every open position and
// applies the exit rules. A missing quote or broker error for one ticker
// degrades that ticker only; the rest of the cycle completes.
func (e *Engine) MonitorCycle(ctx context.Context) {
	ctx, span := logger.StartSpan(ctx, "engine-monitor-cycle")
	defer span.End()

	tickers := e.portfolio.openTickers()
	if len(tickers) == 0 {
		return
	}

	quotes := e.feed.GetPrices(ctx, tickers)

	for _, ticker := range tickers {
		pos, ok := e.portfolio.get(ticker)
		if !ok {
			continue
		}
		quote, ok := quotes[ticker]
		if !ok {
			if e.takeCloseRequest(ticker) {
				// An operator close must not wait out a provider outage.
				// The entry price stands in as the close reference.
				e.closePosition(ctx, pos, pos.EntryPrice, types.StatusManuallyClosed)
				continue
			}
			logger.Warn(ctx, "No price this cycle, holding", "ticker", ticker)
			continue
		}
		e.applyExitRules(ctx, pos, quote)
	}
}

// applyExitRules checks one position against one price sample. Stop-loss
// is evaluated before take-profit: on a gapped sample that satisfies both,
// capital preservation wins.
func (e *Engine) applyExitRules(ctx context.Context, pos *types.Position, quote types.PriceQuote) {
	var terminal types.PositionStatus
	switch {
	case quote.Price.LessThanOrEqual(pos.StopPrice):
		terminal = types.StatusStoppedOut
	case quote.Price.GreaterThanOrEqual(pos.TargetPrice):
		terminal = types.StatusTookProfit
	case e.takeCloseRequest(pos.Ticker):
		terminal = types.StatusManuallyClosed
	default:
		return
	}
	e.closePosition(ctx, pos, quote.Price, terminal)
}

// closePosition sells out pos at refPrice and settles it into CLOSED.
func (e *Engine) closePosition(ctx context.Context, pos *types.Position, refPrice decimal.Decimal, terminal types.PositionStatus) {
	resp, err := e.brk.Close(ctx, types.OrderReq{
		Ticker:   pos.Ticker,
		Side:     "SELL",
		Qty:      pos.Qty,
		RefPrice: refPrice,
		Tag:      string(terminal),
	})
	if err != nil {
		// Position stays in MONITORING; the next cycle retries the exit.
		if terminal == types.StatusManuallyClosed {
			e.RequestClose(pos.Ticker)
		}
		logger.ErrorWithErr(ctx, "Broker close failed", err,
			"ticker", pos.Ticker, "exit", string(terminal))
		return
	}

	exit := resp.FillPrice
	if exit.IsZero() {
		exit = refPrice
	}

	contribution := e.portfolio.close(pos.Ticker, exit)
	pos.Status = types.StatusClosed
	pos.ExitPrice = exit
	pos.ClosedAt = time.Now()
	if pos.EntryPrice.IsPositive() {
		pos.PnlPct = exit.Sub(pos.EntryPrice).Div(pos.EntryPrice).Mul(hundred)
	}

	logger.Transition(ctx, pos.Ticker, string(types.StatusMonitoring), string(terminal),
		"price", exit.String())
	logger.Transition(ctx, pos.Ticker, string(terminal), string(types.StatusClosed),
		"pnl_pct", pos.PnlPct.String(), "daily_contribution_pct", contribution.String())
	_ = tradelog.AppendTransition(tradelog.TransitionEntry{
		Ticker: pos.Ticker,
		From:   string(types.StatusMonitoring),
		To:     string(terminal),
		Price:  exit.String(),
		PnlPct: pos.PnlPct.String(),
	})
	e.alerter.Notify(ctx, "position_closed", *pos)

	snap := e.portfolio.snapshot()
	if snap.BreakerTripped {
		logger.Risk(ctx, pos.Ticker, "DAILY_LOSS_BREAKER_TRIPPED",
			"daily_pnl_pct", snap.DailyPnlPct.String())
	}
}

// Snapshot returns the current portfolio state.
func (e *Engine) Snapshot() types.PortfolioSnapshot {
	return e.portfolio.snapshot()
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
