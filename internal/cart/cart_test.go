package cart

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-checkout-saga/internal/apperr"
	"github.com/ariefcatur/go-checkout-saga/internal/catalog"
	"github.com/ariefcatur/go-checkout-saga/internal/redisx"
)

type stubCatalog struct {
	mu       sync.Mutex
	products map[string]catalog.Product
}

func (c *stubCatalog) Product(_ context.Context, id string) (catalog.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.products[id]
	if !ok {
		return catalog.Product{}, apperr.NotFound("product " + id)
	}
	return p, nil
}

func (c *stubCatalog) setPrice(id, price string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.products[id]
	p.Price = decimal.RequireFromString(price)
	c.products[id] = p
}

func newTestService(t *testing.T) (*Service, *miniredis.Miniredis, *stubCatalog) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	cat := &stubCatalog{products: map[string]catalog.Product{
		"p1": {ID: "p1", Name: "Kettle", Price: decimal.RequireFromString("1000"), Stock: 3, Images: []string{"k.jpg"}},
		"p2": {ID: "p2", Name: "Mug", Price: decimal.RequireFromString("125.50"), Stock: 10},
	}}
	return NewService(rdb, cat, time.Hour), mr, cat
}

func TestAddBuildsCart(t *testing.T) {
	s, mr, cat := newTestService(t)
	ctx := context.Background()

	v, err := s.Add(ctx, "u1", "p1", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, v.ItemCount)

	cat.setPrice("p1", "900")
	_, err = s.Add(ctx, "u1", "p2", 2)
	require.NoError(t, err)
	v, err = s.Add(ctx, "u1", "p1", 1)
	require.NoError(t, err)

	require.Len(t, v.Items, 2)
	assert.Equal(t, "p1", v.Items[0].ProductID)
	assert.Equal(t, 2, v.Items[0].Quantity)
	assert.True(t, decimal.RequireFromString("900").Equal(v.Items[0].Price), v.Items[0].Price.String())
	assert.Equal(t, "k.jpg", v.Items[0].Image)
	assert.Equal(t, 4, v.ItemCount)
	assert.True(t, decimal.RequireFromString("2051").Equal(v.Total), v.Total.String())
	assert.Equal(t, "₺2.051,00", v.FormattedTotal)

	assert.Equal(t, time.Hour, mr.TTL(redisx.Cart("u1")))

	got, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, v, got)
}

func TestAddValidatesAgainstCatalog(t *testing.T) {
	s, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := s.Add(ctx, "u1", "nope", 1)
	assert.ErrorIs(t, err, apperr.ErrProductNotFound)

	_, err = s.Add(ctx, "u1", "p1", 4)
	assert.ErrorIs(t, err, apperr.ErrInsufficientStock)

	_, err = s.Add(ctx, "u1", "p1", 2)
	require.NoError(t, err)
	_, err = s.Add(ctx, "u1", "p1", 2)
	assert.ErrorIs(t, err, apperr.ErrInsufficientStock)

	_, err = s.Add(ctx, "u1", "p1", 0)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestRemoveSetAndClear(t *testing.T) {
	s, mr, _ := newTestService(t)
	ctx := context.Background()

	_, err := s.Remove(ctx, "u1", "p1")
	assert.ErrorIs(t, err, apperr.ErrEmptyCart)

	_, err = s.Add(ctx, "u1", "p1", 1)
	require.NoError(t, err)
	v, err := s.SetQuantity(ctx, "u1", "p1", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, v.ItemCount)

	_, err = s.SetQuantity(ctx, "u1", "p2", 1)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	_, err = s.Remove(ctx, "u1", "p2")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	v, err = s.Remove(ctx, "u1", "p1")
	require.NoError(t, err)
	assert.Empty(t, v.Items)
	assert.False(t, mr.Exists(redisx.Cart("u1")))

	_, err = s.Add(ctx, "u1", "p2", 1)
	require.NoError(t, err)
	require.NoError(t, s.Clear(ctx, "u1"))
	v, err = s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, View{Items: []Line{}, FormattedTotal: "₺0,00"}, v)
}

func TestConcurrentAddsKeepEveryUnit(t *testing.T) {
	s, _, _ := newTestService(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Add(ctx, "u1", "p2", 1)
		}()
	}
	wg.Wait()

	v, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 5, v.ItemCount)
}
