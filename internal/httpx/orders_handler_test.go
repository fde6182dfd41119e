package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-checkout-saga/internal/orders"
)

const (
	testSecret = "jwt-secret"
	testKey    = "svc-key"
)

type ordersFixture struct {
	srv   *httptest.Server
	auth  *Authenticator
	store *orders.MemoryStore
}

func newOrdersFixture(t *testing.T) ordersFixture {
	t.Helper()
	store := orders.NewMemoryStore()
	auth := NewAuthenticator(testSecret, testKey)
	r := chi.NewRouter()
	(&OrdersHandler{Service: orders.NewService(orders.Deps{Store: store}), Auth: auth}).Register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return ordersFixture{srv: srv, auth: auth, store: store}
}

func (f ordersFixture) token(t *testing.T, userID string, roles ...string) string {
	t.Helper()
	tok, err := f.auth.SignToken(userID, roles, time.Hour)
	require.NoError(t, err)
	return tok
}

func (f ordersFixture) seed(t *testing.T, id, userID string) {
	t.Helper()
	_, err := f.store.Create(context.Background(), orders.Order{
		ID: id, UserID: userID, Status: orders.StatusPendingPayment, TotalPrice: 12550,
		Items: []orders.Item{{ProductID: "p1", Quantity: 1, Price: 12550}},
	})
	require.NoError(t, err)
}

type call struct {
	method, path, body string
	bearer, serviceKey string
}

func (f ordersFixture) do(t *testing.T, c call) (int, Envelope) {
	t.Helper()
	req, err := http.NewRequest(c.method, f.srv.URL+c.path, strings.NewReader(c.body))
	require.NoError(t, err)
	if c.body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearer)
	}
	if c.serviceKey != "" {
		req.Header.Set(HeaderServiceKey, c.serviceKey)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env Envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func TestOrdersRoutesRequireAuth(t *testing.T) {
	f := newOrdersFixture(t)
	f.seed(t, "o1", "u1")

	expired, err := f.auth.SignToken("u1", []string{RoleUser}, -time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name   string
		call   call
		status int
		code   string
	}{
		{"no credentials", call{method: http.MethodGet, path: "/orders/o1"}, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"expired token", call{method: http.MethodGet, path: "/orders/o1", bearer: expired}, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"wrong service key", call{method: http.MethodGet, path: "/orders/o1", serviceKey: "nope"}, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"user on payment callback", call{method: http.MethodPut, path: "/orders/o1/payment-status",
			body: `{"status":"PAID"}`, bearer: f.token(t, "u1", RoleUser)}, http.StatusForbidden, "FORBIDDEN"},
		{"user on admin listing", call{method: http.MethodGet, path: "/orders/admin/all",
			bearer: f.token(t, "u1", RoleUser)}, http.StatusForbidden, "FORBIDDEN"},
		{"other user's order", call{method: http.MethodGet, path: "/orders/o1",
			bearer: f.token(t, "u2", RoleUser)}, http.StatusForbidden, "FORBIDDEN"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, env := f.do(t, tt.call)
			assert.Equal(t, tt.status, status)
			assert.False(t, env.Success)
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.code, env.Error.Code)
		})
	}
}

func TestPaymentCallbackOverHTTP(t *testing.T) {
	f := newOrdersFixture(t)
	f.seed(t, "o1", "u1")
	cb := call{method: http.MethodPut, path: "/orders/o1/payment-status",
		body: `{"status":"PAID","transactionId":"TXN-1-ABCDEF12","paymentId":"pay-1"}`, serviceKey: testKey}

	status, env := f.do(t, cb)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "payment status applied", env.Message)

	status, env = f.do(t, cb)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "payment status already applied", env.Message)

	status, env = f.do(t, call{method: http.MethodGet, path: "/orders/o1", bearer: f.token(t, "u1", RoleUser)})
	require.Equal(t, http.StatusOK, status)
	var o orders.Order
	require.NoError(t, json.Unmarshal(env.Data, &o))
	assert.Equal(t, orders.StatusPaid, o.Status)
	assert.Equal(t, "TXN-1-ABCDEF12", o.PaymentTransactionID)
	assert.Equal(t, "₺125,50", o.FormattedTotal)
}

func TestCancelAndAdminStatusOverHTTP(t *testing.T) {
	f := newOrdersFixture(t)
	f.seed(t, "o1", "u1")
	user := f.token(t, "u1", RoleUser)
	admin := f.token(t, "admin", RoleAdmin)

	status, env := f.do(t, call{method: http.MethodPut, path: "/orders/o1/status", body: `{"status":"BOGUS"}`, bearer: admin})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)

	status, _ = f.do(t, call{method: http.MethodDelete, path: "/orders/o1", body: `{"reason":"changed my mind"}`, bearer: user})
	require.Equal(t, http.StatusOK, status)

	status, env = f.do(t, call{method: http.MethodDelete, path: "/orders/o1", bearer: user})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVALID_TRANSITION", env.Error.Code)
}
