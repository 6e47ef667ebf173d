// Package readmodel maintains a Redis-backed read-only view of order status
// so callers can poll fill state without contending with the facade's
// command mutex. It is written from orderstore.Order records by its caller;
// it never feeds back into matching decisions.
package readmodel

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/terminal-bench/tradeengine/internal/orderstore"
)

const keyPrefix = "tradeengine:order:"

// Cache is a thin wrapper over a redis client scoped to order read-models.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// New wraps an already-configured redis client. ttl is applied to every
// written key so abandoned orders (e.g. from a crashed shard) eventually
// fall out of the cache instead of accumulating forever.
func New(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// View is the externally-visible projection of an order.
type View struct {
	OrderID   string               `json:"order_id"`
	Owner     string               `json:"owner"`
	PairID    uint64               `json:"pair_id"`
	Side      orderstore.Side      `json:"side"`
	Quantity  uint64               `json:"quantity"`
	Filled    uint64               `json:"filled"`
	Status    orderstore.Status    `json:"status"`
	UpdatedAt time.Time            `json:"updated_at"`
}

func key(orderID string) string {
	return keyPrefix + orderID
}

// Put writes the current projection of an order, overwriting any prior
// entry. The core does not call it itself, so a projection is only as
// fresh as its caller's last Put.
func (c *Cache) Put(ctx context.Context, o orderstore.Order) error {
	view := View{
		OrderID:   o.OrderID,
		Owner:     o.Owner,
		PairID:    o.PairID,
		Side:      o.Side,
		Quantity:  o.Quantity,
		Filled:    o.Filled,
		Status:    o.Status,
		UpdatedAt: time.Now(),
	}
	data, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("readmodel: marshal: %w", err)
	}
	if err := c.client.Set(ctx, key(o.OrderID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("readmodel: set: %w", err)
	}
	return nil
}

// Get returns the last-known projection of an order, or redis.Nil wrapped
// in an error if no projection has ever been written or it has expired.
func (c *Cache) Get(ctx context.Context, orderID string) (View, error) {
	data, err := c.client.Get(ctx, key(orderID)).Bytes()
	if err != nil {
		return View{}, fmt.Errorf("readmodel: get %s: %w", orderID, err)
	}
	var view View
	if err := json.Unmarshal(data, &view); err != nil {
		return View{}, fmt.Errorf("readmodel: unmarshal: %w", err)
	}
	return view, nil
}

// Evict removes an order's projection, used once a terminal order (filled
// or cancelled) has aged past the point callers still poll it.
func (c *Cache) Evict(ctx context.Context, orderID string) error {
	if err := c.client.Del(ctx, key(orderID)).Err(); err != nil {
		return fmt.Errorf("readmodel: del %s: %w", orderID, err)
	}
	return nil
}
