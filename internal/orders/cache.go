package orders

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-checkout-saga/internal/redisx"
)

// Cache holds derived state: checkout idempotency keys, the status projection and saga
// snapshots. Losing it never loses an order.
type Cache interface {
	IdempotentOrder(ctx context.Context, userID, key string) (string, bool, error)
	RememberOrder(ctx context.Context, userID, key, orderID string) error
	Status(ctx context.Context, orderID string) (StatusView, bool, error)
	SetStatus(ctx context.Context, v StatusView) error
	InvalidateStatus(ctx context.Context, orderID string) error
	SaveSaga(ctx context.Context, s *Saga) error
	LoadSaga(ctx context.Context, orderID string) (Saga, bool, error)
}

type RedisCache struct{ rdb redis.Cmdable }

func NewRedisCache(rdb redis.Cmdable) *RedisCache { return &RedisCache{rdb: rdb} }

func (c *RedisCache) IdempotentOrder(ctx context.Context, userID, key string) (string, bool, error) {
	id, err := c.rdb.Get(ctx, redisx.IdemOrderCreate(userID, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

func (c *RedisCache) RememberOrder(ctx context.Context, userID, key, orderID string) error {
	return c.rdb.Set(ctx, redisx.IdemOrderCreate(userID, key), orderID, redisx.TTLIdempotency).Err()
}

func (c *RedisCache) Status(ctx context.Context, orderID string) (StatusView, bool, error) {
	raw, err := c.rdb.Get(ctx, redisx.OrderStatus(orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return StatusView{}, false, nil
	}
	if err != nil {
		return StatusView{}, false, err
	}
	var v StatusView
	if err := json.Unmarshal(raw, &v); err != nil {
		return StatusView{}, false, err
	}
	return v, true, nil
}

func (c *RedisCache) SetStatus(ctx context.Context, v StatusView) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, redisx.OrderStatus(v.OrderID), b, redisx.TTLStatusCache).Err()
}

func (c *RedisCache) InvalidateStatus(ctx context.Context, orderID string) error {
	return c.rdb.Del(ctx, redisx.OrderStatus(orderID)).Err()
}

// SaveSaga writes the snapshot as a hash: step, updated_at and lines (JSON).
func (c *RedisCache) SaveSaga(ctx context.Context, s *Saga) error {
	lines, err := json.Marshal(s.Lines)
	if err != nil {
		return err
	}
	key := redisx.Saga(s.OrderID)
	_, err = c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key,
			"step", string(s.Step),
			"updated_at", s.UpdatedAt.Format(time.RFC3339Nano),
			"lines", lines,
		)
		p.Expire(ctx, key, redisx.TTLSaga)
		return nil
	})
	return err
}

func (c *RedisCache) LoadSaga(ctx context.Context, orderID string) (Saga, bool, error) {
	m, err := c.rdb.HGetAll(ctx, redisx.Saga(orderID)).Result()
	if err != nil {
		return Saga{}, false, err
	}
	if len(m) == 0 {
		return Saga{}, false, nil
	}
	s := Saga{OrderID: orderID, Step: SagaStep(m["step"])}
	if ts, err := time.Parse(time.RFC3339Nano, m["updated_at"]); err == nil {
		s.UpdatedAt = ts
	}
	if err := json.Unmarshal([]byte(m["lines"]), &s.Lines); err != nil {
		return Saga{}, false, err
	}
	return s, true, nil
}

// NopCache disables every cached feature.
type NopCache struct{}

func (NopCache) IdempotentOrder(context.Context, string, string) (string, bool, error) {
	return "", false, nil
}
func (NopCache) RememberOrder(context.Context, string, string, string) error { return nil }
func (NopCache) Status(context.Context, string) (StatusView, bool, error) {
	return StatusView{}, false, nil
}
func (NopCache) SetStatus(context.Context, StatusView) error          { return nil }
func (NopCache) InvalidateStatus(context.Context, string) error       { return nil }
func (NopCache) SaveSaga(context.Context, *Saga) error                { return nil }
func (NopCache) LoadSaga(context.Context, string) (Saga, bool, error) { return Saga{}, false, nil }
