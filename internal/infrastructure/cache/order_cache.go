package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"polyfinance/internal/model"

	"github.com/go-redis/redis/v8"
)

const orderBookKeyPrefix = "p2p:orders:"

// OrderBookCache 缓存 P2P 挂单列表
// 挂单只有运营会改，读多写少；写操作后整体失效
type OrderBookCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewOrderBookCache client 为 nil 时所有操作都是空操作
func NewOrderBookCache(client *redis.Client, ttl time.Duration) *OrderBookCache {
	return &OrderBookCache{client: client, ttl: ttl}
}

func orderBookKey(side string) string {
	if side == "" {
		side = "ALL"
	}
	return orderBookKeyPrefix + side
}

// Get 命中返回 (orders, true)
func (c *OrderBookCache) Get(ctx context.Context, side string) ([]*model.P2POrder, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	raw, err := c.client.Get(ctx, orderBookKey(side)).Bytes()
	if err != nil {
		return nil, false
	}
	var orders []*model.P2POrder
	if err := json.Unmarshal(raw, &orders); err != nil {
		return nil, false
	}
	return orders, true
}

func (c *OrderBookCache) Set(ctx context.Context, side string, orders []*model.P2POrder) error {
	if c == nil || c.client == nil {
		return nil
	}
	raw, err := json.Marshal(orders)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, orderBookKey(side), raw, c.ttl).Err()
}

// Invalidate 删除所有方向的缓存
func (c *OrderBookCache) Invalidate(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	err := c.client.Del(ctx,
		orderBookKey(""),
		orderBookKey(model.SideBuy),
		orderBookKey(model.SideSell),
	).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}
