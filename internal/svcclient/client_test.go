package svcclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-checkout-saga/internal/apperr"
	"github.com/ariefcatur/go-checkout-saga/internal/httpx"
	"github.com/ariefcatur/go-checkout-saga/internal/inventory"
	"github.com/ariefcatur/go-checkout-saga/internal/money"
	"github.com/ariefcatur/go-checkout-saga/internal/payment"
)

const testKey = "svc-key"

func fastRetry() Option {
	return WithBackOff(func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) })
}

func writeEnvelope(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func TestReserveSendsServiceKeyAndDecodesData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/inventory/reserve", r.URL.Path)
		assert.Equal(t, testKey, r.Header.Get(httpx.HeaderServiceKey))
		assert.Empty(t, r.Header.Get("Authorization"))

		var req inventory.Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "o1", req.OrderID)

		writeEnvelope(w, http.StatusOK, `{"success":true,"data":{"productId":"p1","quantity":10,"reservedQuantity":2,"availableStock":8}}`)
	}))
	t.Cleanup(srv.Close)

	inv := NewInventory(srv.URL, testKey)
	res, err := inv.Reserve(context.Background(), inventory.Request{ProductID: "p1", Quantity: 2, OrderID: "o1"})
	require.NoError(t, err)
	assert.Equal(t, 8, res.Available)
	assert.Equal(t, 2, res.Reserved)
}

func TestPeerErrorsKeepTheirCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusBadRequest,
			`{"success":false,"message":"insufficient stock for p1","error":{"code":"INSUFFICIENT_STOCK","message":"insufficient stock for p1"}}`)
	}))
	t.Cleanup(srv.Close)

	_, err := NewInventory(srv.URL, testKey).Reserve(context.Background(), inventory.Request{ProductID: "p1", Quantity: 20, OrderID: "o1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrInsufficientStock)
	e, _ := apperr.As(err)
	assert.Equal(t, "insufficient stock for p1", e.Message)
}

func TestRetriesOnlyKeyedCalls(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			writeEnvelope(w, http.StatusServiceUnavailable, `{"success":false,"error":{"code":"INTERNAL_ERROR","message":"internal error"}}`)
			return
		}
		writeEnvelope(w, http.StatusOK, `{"success":true,"data":{"productId":"p1"}}`)
	}))
	t.Cleanup(srv.Close)
	inv := NewInventory(srv.URL, testKey, fastRetry())

	_, err := inv.Release(context.Background(), inventory.Request{ProductID: "p1", Quantity: 1, OrderID: "o1"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load())

	calls.Store(0)
	_, err = inv.Release(context.Background(), inventory.Request{ProductID: "p1", Quantity: 1})
	assert.Equal(t, apperr.KindUpstreamUnavailable, apperr.KindOf(err))
	assert.EqualValues(t, 1, calls.Load())
}

func TestTransportFailureIsUpstream(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewInventory(url, testKey, fastRetry()).BatchCheck(context.Background(), []inventory.BatchItem{{ProductID: "p1", Quantity: 1}})
	assert.Equal(t, apperr.KindUpstreamUnavailable, apperr.KindOf(err))
}

func TestProcessReturnsDeclinedPayment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusPaymentRequired,
			`{"success":false,"message":"declined","data":{"id":"pay-1","transactionId":"TXN-1-ABCDEF12","status":"FAILED","errorCode":"PAYMENT_DECLINED"},"error":{"code":"PAYMENT_DECLINED","message":"declined"}}`)
	}))
	t.Cleanup(srv.Close)

	p, err := NewPayments(srv.URL, testKey).Process(context.Background(), payment.ProcessRequest{OrderID: "o1", TotalAmount: 100, UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, payment.StatusFailed, p.Status)
	assert.Equal(t, "TXN-1-ABCDEF12", p.TransactionID)
}

func TestCatalogReadsDocumentIDAndStringErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get(httpx.HeaderServiceKey))
		if r.URL.Path == "/api/products/missing" {
			writeEnvelope(w, http.StatusNotFound, `{"success":false,"error":"Product not found"}`)
			return
		}
		writeEnvelope(w, http.StatusOK, `{"success":true,"data":{"_id":"64ab","name":"Kettle","price":1299.9,"stock":4,"images":["k.jpg"]}}`)
	}))
	t.Cleanup(srv.Close)
	c := NewCatalog(srv.URL, fastRetry())

	p, err := c.Product(context.Background(), "64ab")
	require.NoError(t, err)
	assert.Equal(t, "64ab", p.ID)
	assert.Equal(t, int64(129990), p.PriceMinor())
	assert.Equal(t, 4, p.Stock)

	_, err = c.Product(context.Background(), "missing")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	e, _ := apperr.As(err)
	assert.Equal(t, "Product not found", e.Message)
}

func TestCartForwardsUserToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer user-token", r.Header.Get("Authorization"))
		if r.Method == http.MethodDelete {
			writeEnvelope(w, http.StatusOK, `{"success":true,"message":"cart cleared"}`)
			return
		}
		writeEnvelope(w, http.StatusOK, `{"success":true,"data":{"items":[{"productId":"p1","name":"Kettle","price":99.90,"quantity":2},{"productId":"p2","name":"Mug","price":"125.5","quantity":1}],"itemCount":3,"total":325.3}}`)
	}))
	t.Cleanup(srv.Close)
	c := NewCart(srv.URL)

	lines, err := c.Items(context.Background(), "user-token")
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, int64(9990), money.FromLira(lines[0].Price))
	assert.Equal(t, 2, lines[0].Quantity)
	assert.Equal(t, int64(12550), money.FromLira(lines[1].Price))
	require.NoError(t, c.Clear(context.Background(), "user-token"))
}

// The inventory handler and this client must agree on the wire, auth included.
func TestInventoryRoundTripThroughHandler(t *testing.T) {
	ledger := inventory.NewLedger(inventory.NewMemoryStore(), nil, nil)
	_, err := ledger.Init(context.Background(), "p1", 5, "admin")
	require.NoError(t, err)

	r := chi.NewRouter()
	(&httpx.InventoryHandler{Ledger: ledger, Auth: httpx.NewAuthenticator("secret", testKey)}).Register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	inv := NewInventory(srv.URL, testKey)
	ctx := context.Background()

	check, err := inv.BatchCheck(ctx, []inventory.BatchItem{{ProductID: "p1", Quantity: 6}})
	require.NoError(t, err)
	assert.False(t, check.AllAvailable)

	_, err = inv.Reserve(ctx, inventory.Request{ProductID: "p1", Quantity: 3, OrderID: "o1", UserID: "u1"})
	require.NoError(t, err)
	_, err = inv.Reserve(ctx, inventory.Request{ProductID: "p1", Quantity: 3, OrderID: "o2", UserID: "u1"})
	assert.ErrorIs(t, err, apperr.ErrInsufficientStock)

	cb := inv.ForPayments()
	require.NoError(t, cb.Confirm(ctx, "p1", 3, "o1", "u1"))
	require.NoError(t, cb.Confirm(ctx, "p1", 3, "o1", "u1"))

	v, err := ledger.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 2, v.Quantity)
	assert.Equal(t, 0, v.Reserved)

	_, err = NewInventory(srv.URL, "wrong").Reserve(ctx, inventory.Request{ProductID: "p1", Quantity: 1})
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}
