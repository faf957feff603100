package interfaces

import "context"

// Alerter receives signal and position events as opaque payloads. Delivery
// is fire-and-forget: implementations must not block the trading cycle and
// the engine never inspects a response.
type Alerter interface {
	Notify(ctx context.Context, event string, payload any)
}
