package engine

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalyst-bot/internal/types"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func openAt(p *portfolio, ticker string, sizePct, entry decimal.Decimal) error {
	if err := p.reserve(ticker, sizePct); err != nil {
		return err
	}
	p.commit(&types.Position{
		Ticker:     ticker,
		SizePct:    sizePct,
		EntryPrice: entry,
		Status:     types.StatusMonitoring,
		OpenedAt:   time.Now(),
	})
	return nil
}

func TestReserveExposureCap(t *testing.T) {
	p := newPortfolio(50, 10, 3)

	// Fill to 48% in 10% and 8% slots.
	for i, tk := range []string{"AAPL", "TSLA", "NVDA", "AMD"} {
		require.NoError(t, openAt(p, tk, dec("10"), dec("100")), "slot %d", i)
	}
	require.NoError(t, openAt(p, "PLTR", dec("8"), dec("100")))
	assert.True(t, p.snapshot().ExposurePct.Equal(dec("48")))

	// 48 + 5 = 53 breaches the 50% cap.
	err := p.reserve("MSFT", dec("5"))
	require.ErrorIs(t, err, ErrExposureCap)
	require.ErrorIs(t, err, ErrRiskLimitBreached)
	assert.True(t, p.snapshot().ExposurePct.Equal(dec("48")), "failed reserve must not claim exposure")

	// 48 + 2 = 50 lands exactly on the cap and is allowed.
	require.NoError(t, p.reserve("MSFT", dec("2")))
	p.rollback("MSFT")
	assert.True(t, p.snapshot().ExposurePct.Equal(dec("48")))
}

func TestReserveRejectsDuplicateAndOversized(t *testing.T) {
	p := newPortfolio(50, 10, 3)

	require.NoError(t, openAt(p, "AAPL", dec("5"), dec("100")))
	assert.ErrorIs(t, p.reserve("AAPL", dec("5")), ErrPositionExists)

	// A pending reservation blocks a second open for the same ticker too.
	require.NoError(t, p.reserve("TSLA", dec("5")))
	assert.ErrorIs(t, p.reserve("TSLA", dec("5")), ErrPositionExists)
	p.rollback("TSLA")

	assert.ErrorIs(t, p.reserve("NVDA", dec("10.5")), ErrPositionTooLarge)
}

func TestRollbackReleasesExposure(t *testing.T) {
	p := newPortfolio(50, 10, 3)

	require.NoError(t, p.reserve("AAPL", dec("10")))
	assert.True(t, p.snapshot().ExposurePct.Equal(dec("10")))

	p.rollback("AAPL")
	assert.True(t, p.snapshot().ExposurePct.IsZero())

	// Rolling back a ticker with no reservation is a no-op.
	p.rollback("AAPL")
	assert.True(t, p.snapshot().ExposurePct.IsZero())
}

func TestCloseRealizesDailyPnl(t *testing.T) {
	p := newPortfolio(50, 10, 3)

	// 10% position, entry 100, exit 95: -5% return, -0.5pp contribution.
	require.NoError(t, openAt(p, "AAPL", dec("10"), dec("100")))
	contribution := p.close("AAPL", dec("95"))
	assert.True(t, contribution.Equal(dec("-0.5")), "got %s", contribution)

	snap := p.snapshot()
	assert.True(t, snap.ExposurePct.IsZero())
	assert.True(t, snap.DailyPnlPct.Equal(dec("-0.5")))
	assert.False(t, snap.BreakerTripped)
	assert.Empty(t, snap.OpenPositions)

	// Closing an unknown ticker contributes nothing.
	assert.True(t, p.close("TSLA", dec("100")).IsZero())
}

func TestCloseZeroEntryContributesNothing(t *testing.T) {
	p := newPortfolio(50, 10, 3)

	require.NoError(t, openAt(p, "HALT", dec("10"), decimal.Zero))
	contribution := p.close("HALT", dec("10"))
	assert.True(t, contribution.IsZero())

	snap := p.snapshot()
	assert.True(t, snap.ExposurePct.IsZero(), "exposure slot still released")
	assert.True(t, snap.DailyPnlPct.IsZero())
}

func TestDailyLossBreakerBlocksOpens(t *testing.T) {
	p := newPortfolio(50, 10, 3)

	// Two 10% positions each losing 15% push daily P&L to -3.0pp,
	// exactly the breaker threshold.
	require.NoError(t, openAt(p, "AAPL", dec("10"), dec("100")))
	require.NoError(t, openAt(p, "TSLA", dec("10"), dec("100")))
	p.close("AAPL", dec("85"))
	p.close("TSLA", dec("85"))

	snap := p.snapshot()
	assert.True(t, snap.DailyPnlPct.Equal(dec("-3")))
	assert.True(t, snap.BreakerTripped)

	err := p.reserve("NVDA", dec("5"))
	assert.ErrorIs(t, err, ErrDailyLossBreaker)
	assert.ErrorIs(t, err, ErrRiskLimitBreached)
}

func TestBreakerResetsAtMidnightUTC(t *testing.T) {
	p := newPortfolio(50, 10, 3)
	clock := time.Date(2025, 6, 2, 21, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return clock }
	p.dayStart = midnightUTC(clock)

	require.NoError(t, openAt(p, "AAPL", dec("10"), dec("100")))
	p.close("AAPL", dec("60"))
	assert.True(t, p.snapshot().BreakerTripped)
	assert.ErrorIs(t, p.reserve("TSLA", dec("5")), ErrDailyLossBreaker)

	// Cross the UTC day boundary: counters reset, trading resumes.
	clock = time.Date(2025, 6, 3, 0, 5, 0, 0, time.UTC)
	snap := p.snapshot()
	assert.True(t, snap.DailyPnlPct.IsZero())
	assert.False(t, snap.BreakerTripped)
	require.NoError(t, p.reserve("TSLA", dec("5")))
	p.rollback("TSLA")
}

func TestMidnightUTC(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// 2025-06-02 21:30 New York is already 2025-06-03 in UTC.
	got := midnightUTC(time.Date(2025, 6, 2, 21, 30, 0, 0, ny))
	assert.Equal(t, time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC), got)
}
