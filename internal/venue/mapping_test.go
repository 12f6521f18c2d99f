package venue

import (
	"testing"

	"p2pmaker/internal/core"

	"github.com/stretchr/testify/assert"
)

func TestSearchSideInversion(t *testing.T) {
	// Competitors for our SELL ad are found on the venue's BUY tab and
	// vice versa. Getting this backwards prices against the wrong book.
	tests := []struct {
		ownSide  core.Side
		expected core.Side
	}{
		{core.SideSell, core.SideBuy},
		{core.SideBuy, core.SideSell},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, SearchSide(tt.ownSide),
			"own side %s must search the %s tab", tt.ownSide, tt.expected)
	}
}

func TestSearchSideIsInvolution(t *testing.T) {
	for _, side := range []core.Side{core.SideBuy, core.SideSell} {
		assert.Equal(t, side, SearchSide(SearchSide(side)))
	}
}

func TestOrderStatusFromCode(t *testing.T) {
	tests := []struct {
		code     int
		expected core.OrderStatus
	}{
		{10, core.OrderStatusCreated},
		{20, core.OrderStatusPaid},
		{30, core.OrderStatusAppealed},
		{40, core.OrderStatusCompleted},
		{50, core.OrderStatusCancelled},
		{60, core.OrderStatusCancelledSystem},
		{70, core.OrderStatusCancelledTimeout},
	}
	for _, tt := range tests {
		got, ok := OrderStatusFromCode(tt.code)
		assert.True(t, ok, "code %d must map", tt.code)
		assert.Equal(t, tt.expected, got)
	}
}

func TestOrderStatusFromCodeUnknown(t *testing.T) {
	_, ok := OrderStatusFromCode(99)
	assert.False(t, ok)
}
