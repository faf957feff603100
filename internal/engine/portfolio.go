package engine

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"catalyst-bot/internal/types"
)

// ErrRiskLimitBreached is the base of every rejected transition; the
// wrapped specifics say which limit fired. A breach blocks one transition,
// never the cycle.
var (
	ErrRiskLimitBreached = errors.New("engine: risk limit breached")
	ErrPositionExists    = fmt.Errorf("%w: position already open for ticker", ErrRiskLimitBreached)
	ErrExposureCap       = fmt.Errorf("%w: portfolio exposure cap", ErrRiskLimitBreached)
	ErrDailyLossBreaker  = fmt.Errorf("%w: daily loss breaker tripped", ErrRiskLimitBreached)
	ErrPositionTooLarge  = fmt.Errorf("%w: position size above per-position max", ErrRiskLimitBreached)
)

var hundred = decimal.NewFromInt(100)

// portfolio owns process-wide exposure and P&L state. The exposure check
// and the reservation that backs an open are one critical section, so
// concurrent opens can never push past the cap between check and commit.
type portfolio struct {
	maxExposurePct  decimal.Decimal
	maxPositionPct  decimal.Decimal
	maxDailyLossPct decimal.Decimal

	mu          sync.Mutex
	positions   map[string]*types.Position
	reserved    map[string]decimal.Decimal // pending opens, ticker -> size
	exposurePct decimal.Decimal
	dailyPnlPct decimal.Decimal
	dayStart    time.Time
	now         func() time.Time
}

func newPortfolio(maxExposurePct, maxPositionPct, maxDailyLossPct float64) *portfolio {
	p := &portfolio{
		maxExposurePct:  decimal.NewFromFloat(maxExposurePct),
		maxPositionPct:  decimal.NewFromFloat(maxPositionPct),
		maxDailyLossPct: decimal.NewFromFloat(maxDailyLossPct),
		positions:       make(map[string]*types.Position),
		reserved:        make(map[string]decimal.Decimal),
		now:             time.Now,
	}
	p.dayStart = midnightUTC(p.now())
	return p
}

func midnightUTC(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// rolloverLocked resets daily counters when the UTC day has changed.
// Caller holds p.mu.
func (p *portfolio) rolloverLocked() {
	day := midnightUTC(p.now())
	if day.After(p.dayStart) {
		p.dayStart = day
		p.dailyPnlPct = decimal.Zero
	}
}

func (p *portfolio) breakerTrippedLocked() bool {
	return p.dailyPnlPct.LessThanOrEqual(p.maxDailyLossPct.Neg())
}

// reserve atomically validates and claims exposure for a new position.
// The claim must be either committed or rolled back.
func (p *portfolio) reserve(ticker string, sizePct decimal.Decimal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rolloverLocked()

	if p.breakerTrippedLocked() {
		return ErrDailyLossBreaker
	}
	if _, open := p.positions[ticker]; open {
		return ErrPositionExists
	}
	if _, pending := p.reserved[ticker]; pending {
		return ErrPositionExists
	}
	if sizePct.GreaterThan(p.maxPositionPct) {
		return ErrPositionTooLarge
	}
	if p.exposurePct.Add(sizePct).GreaterThan(p.maxExposurePct) {
		return ErrExposureCap
	}

	p.reserved[ticker] = sizePct
	p.exposurePct = p.exposurePct.Add(sizePct)
	return nil
}

// commit converts a reservation into an open position.
func (p *portfolio) commit(pos *types.Position) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.reserved, pos.Ticker)
	p.positions[pos.Ticker] = pos
}

// rollback releases a reservation whose broker submit failed.
func (p *portfolio) rollback(ticker string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if sizePct, ok := p.reserved[ticker]; ok {
		delete(p.reserved, ticker)
		p.exposurePct = p.exposurePct.Sub(sizePct)
	}
}

// close finalizes a position at exitPrice: releases its exposure slot and
// folds its realized return into the daily P&L. Returns the portfolio-level
// P&L contribution in percentage points.
func (p *portfolio) close(ticker string, exitPrice decimal.Decimal) decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rolloverLocked()

	pos, ok := p.positions[ticker]
	if !ok {
		return decimal.Zero
	}
	delete(p.positions, ticker)
	p.exposurePct = p.exposurePct.Sub(pos.SizePct)

	// Entry prices are validated positive at open. A corrupted row still
	// must not take the decimal division down with it.
	if !pos.EntryPrice.IsPositive() {
		return decimal.Zero
	}

	// Position return, then weighted by its share of the portfolio.
	ret := exitPrice.Sub(pos.EntryPrice).Div(pos.EntryPrice)
	contribution := pos.SizePct.Mul(ret)
	p.dailyPnlPct = p.dailyPnlPct.Add(contribution)
	return contribution
}

// openTickers returns the tickers with currently open positions.
func (p *portfolio) openTickers() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.positions))
	for t := range p.positions {
		out = append(out, t)
	}
	return out
}

func (p *portfolio) get(ticker string) (*types.Position, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, ok := p.positions[ticker]
	return pos, ok
}

// snapshot returns a read-only copy of portfolio state.
func (p *portfolio) snapshot() types.PortfolioSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rolloverLocked()

	open := make([]types.Position, 0, len(p.positions))
	for _, pos := range p.positions {
		open = append(open, *pos)
	}
	return types.PortfolioSnapshot{
		OpenPositions:  open,
		ExposurePct:    p.exposurePct,
		DailyPnlPct:    p.dailyPnlPct,
		BreakerTripped: p.breakerTrippedLocked(),
		DayStart:       p.dayStart,
	}
}
