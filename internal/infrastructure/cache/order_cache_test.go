package cache

import (
	"context"
	"testing"
	"time"

	"polyfinance/internal/model"

	"github.com/stretchr/testify/assert"
)

func TestOrderBookKey(t *testing.T) {
	assert.Equal(t, "p2p:orders:ALL", orderBookKey(""))
	assert.Equal(t, "p2p:orders:BUY", orderBookKey(model.SideBuy))
}

func TestNilClientIsNoop(t *testing.T) {
	ctx := context.Background()
	c := NewOrderBookCache(nil, time.Minute)

	assert.NoError(t, c.Set(ctx, "", []*model.P2POrder{{ID: 1}}))
	_, ok := c.Get(ctx, "")
	assert.False(t, ok)
	assert.NoError(t, c.Invalidate(ctx))
}
