package svcclient

import (
	"context"
	"net/http"
	"net/url"

	"github.com/ariefcatur/go-checkout-saga/internal/payment"
)

type Orders struct{ c *Client }

func NewOrders(baseURL, serviceKey string, opts ...Option) *Orders {
	return &Orders{c: New("order", baseURL, serviceKey, opts...)}
}

// UpdatePaymentStatus reports a payment outcome. The order service acknowledges repeats, so
// transport failures are retried.
func (o *Orders) UpdatePaymentStatus(ctx context.Context, orderID string, u payment.StatusUpdate) error {
	return o.c.do(ctx, call{
		name:   "order.payment_status",
		method: http.MethodPut,
		path:   "/orders/" + url.PathEscape(orderID) + "/payment-status",
		body:   u,
		retry:  true,
	})
}
