package svcclient

import (
	"context"
	"net/http"

	"github.com/ariefcatur/go-checkout-saga/internal/orders"
)

type Cart struct{ c *Client }

func NewCart(baseURL string, opts ...Option) *Cart {
	return &Cart{c: New("cart", baseURL, "", opts...)}
}

// Items reads the shopper's cart with their own token.
func (c *Cart) Items(ctx context.Context, token string) ([]orders.CartLine, error) {
	var out struct {
		Items []orders.CartLine `json:"items"`
	}
	err := c.c.do(ctx, call{
		name:   "cart.get",
		method: http.MethodGet,
		path:   "/cart",
		token:  token,
		out:    &out,
		retry:  true,
	})
	return out.Items, err
}

func (c *Cart) Clear(ctx context.Context, token string) error {
	return c.c.do(ctx, call{
		name:   "cart.clear",
		method: http.MethodDelete,
		path:   "/cart",
		token:  token,
		retry:  true,
	})
}
