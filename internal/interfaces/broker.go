package interfaces

import (
	"context"

	"catalyst-bot/internal/types"
)

// Broker is the order-placement collaborator. The engine only needs to
// submit, query and close; everything else about order mechanics lives
// behind this interface.
type Broker interface {
	Submit(ctx context.Context, req types.OrderReq) (types.OrderResp, error)
	QueryPosition(ctx context.Context, ticker string) (types.OrderResp, error)
	Close(ctx context.Context, req types.OrderReq) (types.OrderResp, error)
}
