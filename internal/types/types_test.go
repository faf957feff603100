package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPositionStatusTerminal(t *testing.T) {
	for _, s := range []PositionStatus{StatusStoppedOut, StatusTookProfit, StatusManuallyClosed, StatusClosed} {
		assert.True(t, s.Terminal(), string(s))
	}
	for _, s := range []PositionStatus{StatusProposed, StatusOpen, StatusMonitoring} {
		assert.False(t, s.Terminal(), string(s))
	}
}
