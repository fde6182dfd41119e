package svcclient

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ariefcatur/go-checkout-saga/internal/apperr"
	"github.com/ariefcatur/go-checkout-saga/internal/payment"
	"github.com/ariefcatur/go-checkout-saga/internal/timeouts"
)

type Payments struct{ c *Client }

func NewPayments(baseURL, serviceKey string, opts ...Option) *Payments {
	return &Payments{c: New("payment", baseURL, serviceKey, opts...)}
}

// Process returns declined payments as a FAILED payment with a nil error; the decline is an
// outcome, not a transport problem.
func (p *Payments) Process(ctx context.Context, req payment.ProcessRequest) (payment.Payment, error) {
	var out payment.Payment
	err := p.c.do(ctx, call{
		name:        "payment.process",
		method:      http.MethodPost,
		path:        "/payments/process",
		body:        req,
		out:         &out,
		timeout:     timeouts.PaymentRequest,
		dataOnError: true,
	})
	if apperr.KindOf(err) == apperr.KindPaymentDeclined && out.ID != "" {
		return out, nil
	}
	return out, err
}

func (p *Payments) PendingCallbacks(ctx context.Context, olderThan time.Duration, limit int) ([]payment.Payment, error) {
	q := url.Values{}
	q.Set("olderThan", olderThan.String())
	q.Set("limit", strconv.Itoa(limit))
	var out []payment.Payment
	err := p.c.do(ctx, call{
		name:   "payment.pending_callbacks",
		method: http.MethodGet,
		path:   "/payments/pending-callbacks?" + q.Encode(),
		out:    &out,
		retry:  true,
	})
	return out, err
}

// Redeliver asks the payment service to retry the callbacks of one payment. The payment is
// returned alongside the error when some callback is still failing.
func (p *Payments) Redeliver(ctx context.Context, id string) (payment.Payment, error) {
	var out payment.Payment
	err := p.c.do(ctx, call{
		name:        "payment.redeliver",
		method:      http.MethodPost,
		path:        "/payments/" + url.PathEscape(id) + "/redeliver",
		out:         &out,
		timeout:     timeouts.Handler,
		dataOnError: true,
	})
	return out, err
}
