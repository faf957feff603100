package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// SentimentReading is one source's contribution to a fused signal.
// Score is in [-1,1], Confidence in [0,1]. A reading with Available=false
// carries no weight in fusion.
type SentimentReading struct {
	Source     string  `json:"source"`
	Score      float64 `json:"score"`
	Confidence float64 `json:"confidence"`
	Available  bool    `json:"available"`
}

// SignalAux carries optional velocity metadata alongside a fused signal.
// It has a declared shape instead of an ad hoc key/value bag so consumers
// can rely on the fields existing.
type SignalAux struct {
	HasVelocity   bool    `json:"has_velocity"`
	VelocityScore float64 `json:"velocity_score,omitempty"`
	Spike         bool    `json:"spike,omitempty"`
	Articles24h   int     `json:"articles_24h,omitempty"`
}

// FusedSignal is the confidence-weighted combination of all available
// sentiment sources for one ticker.
type FusedSignal struct {
	Ticker     string    `json:"ticker"`
	Score      float64   `json:"score"`
	Confidence float64   `json:"confidence"`
	Sources    []string  `json:"sources"`
	Timestamp  time.Time `json:"timestamp"`
	Aux        SignalAux `json:"aux"`
}

// VelocityReading summarizes article arrival for a ticker over trailing
// windows. Derived on demand from stored events, never persisted.
type VelocityReading struct {
	Ticker     string  `json:"ticker"`
	Count1h    int     `json:"count_1h"`
	Count4h    int     `json:"count_4h"`
	Count24h   int     `json:"count_24h"`
	Rate1h     float64 `json:"rate_1h"`
	Rate4h     float64 `json:"rate_4h"`
	Rate24h    float64 `json:"rate_24h"`
	Spike      bool    `json:"spike"`
	Score      float64 `json:"score"`
	Confidence float64 `json:"confidence"`
}

// PriceQuote is one provider's price for a ticker. Price is exact decimal;
// quotes never pass through binary floats.
type PriceQuote struct {
	Ticker   string          `json:"ticker"`
	Price    decimal.Decimal `json:"price"`
	AsOf     time.Time       `json:"as_of"`
	Provider string          `json:"provider"`
}

// PositionStatus is the lifecycle state of a position.
type PositionStatus string

const (
	StatusProposed       PositionStatus = "PROPOSED"
	StatusOpen           PositionStatus = "OPEN"
	StatusMonitoring     PositionStatus = "MONITORING"
	StatusStoppedOut     PositionStatus = "STOPPED_OUT"
	StatusTookProfit     PositionStatus = "TOOK_PROFIT"
	StatusManuallyClosed PositionStatus = "MANUALLY_CLOSED"
	StatusClosed         PositionStatus = "CLOSED"
)

// Terminal reports whether the status is one of the exit branches that
// precede CLOSED.
func (s PositionStatus) Terminal() bool {
	switch s {
	case StatusStoppedOut, StatusTookProfit, StatusManuallyClosed, StatusClosed:
		return true
	}
	return false
}

// Position is a sized holding for one ticker. Entry, stop and target are
// fixed at the OPEN transition and never change afterwards; Status is the
// only field mutated post-open, and only by the engine.
type Position struct {
	Ticker      string          `json:"ticker"`
	Qty         int             `json:"qty"`
	SizePct     decimal.Decimal `json:"size_pct"`
	EntryPrice  decimal.Decimal `json:"entry_price"`
	StopPrice   decimal.Decimal `json:"stop_price"`
	TargetPrice decimal.Decimal `json:"target_price"`
	OpenedAt    time.Time       `json:"opened_at"`
	Status      PositionStatus  `json:"status"`
	ExitPrice   decimal.Decimal `json:"exit_price,omitempty"`
	ClosedAt    time.Time       `json:"closed_at,omitempty"`
	PnlPct      decimal.Decimal `json:"pnl_pct,omitempty"`
}

// OrderReq is a broker order request.
type OrderReq struct {
	Ticker string
	Side   string // BUY or SELL
	Qty    int
	// RefPrice is the price the decision was made at; paper brokers fill
	// at this price, live brokers ignore it.
	RefPrice decimal.Decimal
	Tag      string
}

// OrderResp is the broker's acknowledgment.
type OrderResp struct {
	OrderID   string          `json:"order_id"`
	Status    string          `json:"status"`
	FillPrice decimal.Decimal `json:"fill_price"`
	Message   string          `json:"message,omitempty"`
}

// PortfolioSnapshot is a read-only view of portfolio-level state.
type PortfolioSnapshot struct {
	OpenPositions  []Position      `json:"open_positions"`
	ExposurePct    decimal.Decimal `json:"exposure_pct"`
	DailyPnlPct    decimal.Decimal `json:"daily_pnl_pct"`
	BreakerTripped bool            `json:"breaker_tripped"`
	DayStart       time.Time       `json:"day_start"`
}
