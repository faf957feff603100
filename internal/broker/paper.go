// Package broker provides broker implementations behind the
// interfaces.Broker abstraction.
package broker

import (
	"context"
	"fmt"
	"sync"

	"catalyst-bot/internal/logger"
	"catalyst-bot/internal/types"
)

// Paper fills every order instantly at the request's reference price.
// It backs DRY_RUN mode so the full position lifecycle runs without a
// live brokerage account.
type Paper struct {
	mu      sync.Mutex
	nextID  int
	holding map[string]types.OrderReq
}

func NewPaper() *Paper {
	return &Paper{holding: make(map[string]types.OrderReq)}
}

func (b *Paper) Submit(ctx context.Context, req types.OrderReq) (types.OrderResp, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.holding[req.Ticker] = req
	resp := types.OrderResp{
		OrderID:   fmt.Sprintf("paper-%d", b.nextID),
		Status:    "FILLED",
		FillPrice: req.RefPrice,
	}
	logger.Debug(ctx, "Paper order filled", "ticker", req.Ticker, "side", req.Side, "qty", req.Qty, "order_id", resp.OrderID)
	return resp, nil
}

func (b *Paper) QueryPosition(ctx context.Context, ticker string) (types.OrderResp, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if req, ok := b.holding[ticker]; ok {
		return types.OrderResp{Status: "OPEN", FillPrice: req.RefPrice}, nil
	}
	return types.OrderResp{Status: "NONE"}, nil
}

func (b *Paper) Close(ctx context.Context, req types.OrderReq) (types.OrderResp, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	delete(b.holding, req.Ticker)
	resp := types.OrderResp{
		OrderID:   fmt.Sprintf("paper-%d", b.nextID),
		Status:    "FILLED",
		FillPrice: req.RefPrice,
	}
	logger.Debug(ctx, "Paper position closed", "ticker", req.Ticker, "order_id", resp.OrderID)
	return resp, nil
}
