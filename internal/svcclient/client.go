// Package svcclient holds the HTTP clients services use to call each other.
package svcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/ariefcatur/go-checkout-saga/internal/apperr"
	"github.com/ariefcatur/go-checkout-saga/internal/httpx"
	"github.com/ariefcatur/go-checkout-saga/internal/metrics"
	"github.com/ariefcatur/go-checkout-saga/internal/timeouts"
)

const (
	maxResponseBytes = 4 << 20
	readRetries      = 3
)

// Client speaks the {success, message, data, error} envelope to one peer.
type Client struct {
	peer       string
	baseURL    string
	serviceKey string
	hc         *http.Client
	metrics    *metrics.Metrics
	backoff    func() backoff.BackOff
}

type Option func(*Client)

func WithMetrics(m *metrics.Metrics) Option { return func(c *Client) { c.metrics = m } }

// WithBackOff replaces the retry schedule for idempotent reads.
func WithBackOff(f func() backoff.BackOff) Option { return func(c *Client) { c.backoff = f } }

func New(peer, baseURL, serviceKey string, opts ...Option) *Client {
	c := &Client{
		peer:       peer,
		baseURL:    strings.TrimRight(baseURL, "/"),
		serviceKey: serviceKey,
		hc:         &http.Client{},
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 100 * time.Millisecond
			b.MaxInterval = time.Second
			return b
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type call struct {
	// name labels metrics, e.g. "inventory.reserve".
	name   string
	method string
	path   string
	// token is the end user's bearer token. Empty means the call is made as a service.
	token   string
	public  bool
	body    any
	out     any
	timeout time.Duration
	// retry marks the call safe to repeat on transport errors and 5xx.
	retry bool
	// dataOnError decodes data into out even when the peer reports failure.
	dataOnError bool
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   json.RawMessage `json:"error"`
}

// err rebuilds the peer's error. The error field is either {code, message} or a bare string.
func (e envelope) err(status int) *apperr.Error {
	code, msg := "", e.Message
	if len(e.Error) > 0 {
		var body httpx.ErrorBody
		var s string
		switch {
		case json.Unmarshal(e.Error, &body) == nil:
			code = body.Code
			if body.Message != "" {
				msg = body.Message
			}
		case json.Unmarshal(e.Error, &s) == nil:
			msg = s
		}
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return apperr.FromCode(code, msg, status)
}

func (c *Client) do(ctx context.Context, cl call) error {
	tries := uint(1)
	if cl.retry {
		tries = readRetries
	}
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := c.once(ctx, cl)
		if err == nil {
			return struct{}{}, nil
		}
		if cl.retry && apperr.KindOf(err) == apperr.KindUpstreamUnavailable {
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	}, backoff.WithBackOff(c.backoff()), backoff.WithMaxTries(tries))
	if err == nil {
		return nil
	}
	if _, ok := apperr.As(err); ok {
		return err
	}
	return apperr.Upstream(c.peer, err)
}

func (c *Client) once(ctx context.Context, cl call) (err error) {
	timeout := cl.timeout
	if timeout == 0 {
		timeout = timeouts.PeerRequest
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	defer func() { c.metrics.ObserveExternal(c.peer, cl.name, apperr.Outcome(err), time.Since(start)) }()

	var body io.Reader
	if cl.body != nil {
		b, err := json.Marshal(cl.body)
		if err != nil {
			return apperr.Internal("encode request", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, cl.method, c.baseURL+cl.path, body)
	if err != nil {
		return apperr.Internal("build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch {
	case cl.public:
	case cl.token != "":
		req.Header.Set("Authorization", "Bearer "+cl.token)
	default:
		req.Header.Set(httpx.HeaderServiceKey, c.serviceKey)
	}
	if id := middleware.GetReqID(ctx); id != "" {
		req.Header.Set(middleware.RequestIDHeader, id)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.hc.Do(req)
	if err != nil {
		return apperr.Upstream(c.peer, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return apperr.Upstream(c.peer, err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= http.StatusInternalServerError {
			return apperr.Upstream(c.peer, fmt.Errorf("status %d", resp.StatusCode))
		}
		return apperr.Internal(fmt.Sprintf("decode %s response", c.peer), err)
	}

	ok := resp.StatusCode < http.StatusBadRequest && env.Success
	if (ok || cl.dataOnError) && cl.out != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, cl.out); err != nil {
			return apperr.Internal(fmt.Sprintf("decode %s data", c.peer), err)
		}
	}
	if ok {
		return nil
	}
	perr := env.err(resp.StatusCode)
	if resp.StatusCode >= http.StatusInternalServerError {
		return apperr.Upstream(c.peer, perr)
	}
	return perr
}
