package llm

import (
	"context"

	"catalyst-bot/internal/logger"
)

// NoopClient is used when no inference backend is configured. Every
// completion reads neutral, so scheduled items score 0 instead of failing.
type NoopClient struct{}

func NewNoopClient() *NoopClient {
	return &NoopClient{}
}

func (c *NoopClient) Complete(ctx context.Context, prompt string) (string, error) {
	logger.Debug(ctx, "Noop inference backend called")
	return "0", nil
}
