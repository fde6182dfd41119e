package httpx

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/go-checkout-saga/internal/orders"
	"github.com/ariefcatur/go-checkout-saga/internal/timeouts"
)

const HeaderIdempotencyKey = "Idempotency-Key"

type OrdersHandler struct {
	Service *orders.Service
	Auth    *Authenticator
}

type checkoutReq struct {
	ShippingAddress string `json:"shippingAddress"`
	BillingAddress  string `json:"billingAddress"`
	Notes           string `json:"notes"`
	CardLastFour    string `json:"cardLastFour"`
}

type updateStatusReq struct {
	Status orders.Status `json:"status"`
	Notes  string        `json:"notes"`
}

type cancelReq struct {
	Reason string `json:"reason"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Use(h.Auth.Authenticate)

		r.With(RequireRoles(RoleUser, RoleAdmin, RoleSeller)).Post("/", h.checkout)
		r.With(RequireRoles(RoleUser, RoleAdmin, RoleSeller)).Get("/", h.list)
		r.With(RequireRoles(RoleAdmin, RoleSeller)).Get("/admin/all", h.listAll)

		r.Get("/{id}", h.get)
		r.Get("/{id}/status", h.status)
		r.With(RequireRoles(RoleAdmin)).Get("/{id}/saga", h.saga)
		r.With(RequireRoles(RoleAdmin, RoleSeller)).Put("/{id}/status", h.updateStatus)
		r.With(RequireRoles(RoleService)).Put("/{id}/payment-status", h.paymentStatus)
		r.Delete("/{id}", h.cancel)
	})
}

func actorOf(r *http.Request) orders.Actor {
	p, _ := PrincipalFrom(r.Context())
	return orders.Actor{UserID: p.UserID, Admin: p.IsAdmin(), Seller: p.HasRole(RoleSeller)}
}

func (h *OrdersHandler) checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutReq
	if r.ContentLength > 0 {
		if err := DecodeJSON(r, &req); err != nil {
			Fail(w, r, err)
			return
		}
	}
	p, _ := PrincipalFrom(r.Context())

	res, err := h.Service.Checkout(r.Context(), orders.CheckoutRequest{
		UserID:          p.UserID,
		Token:           p.Token,
		IdempotencyKey:  r.Header.Get(HeaderIdempotencyKey),
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  req.BillingAddress,
		Notes:           req.Notes,
		CardLastFour:    req.CardLastFour,
	})
	if err != nil {
		Fail(w, r, err)
		return
	}
	switch {
	case res.Idempotent:
		OK(w, http.StatusOK, "order already created for this idempotency key", res)
	case res.PaymentError != "":
		OK(w, http.StatusCreated, "order created, "+res.PaymentError, res)
	default:
		OK(w, http.StatusCreated, "order created", res)
	}
}

func listFilter(r *http.Request) orders.ListFilter {
	q := r.URL.Query()
	return orders.ListFilter{
		UserID: q.Get("userId"),
		Status: orders.Status(q.Get("status")),
		Page:   QueryInt(r, "page", 1),
		Limit:  QueryInt(r, "limit", 0),
	}
}

func (h *OrdersHandler) list(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Store)
	defer cancel()

	page, err := h.Service.List(ctx, actorOf(r), listFilter(r))
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, "", page)
}

func (h *OrdersHandler) listAll(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Store)
	defer cancel()

	page, err := h.Service.ListAll(ctx, actorOf(r), listFilter(r))
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, "", page)
}

func (h *OrdersHandler) get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Store)
	defer cancel()

	o, err := h.Service.Get(ctx, actorOf(r), chi.URLParam(r, "id"))
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, "", o)
}

func (h *OrdersHandler) status(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Store)
	defer cancel()

	v, err := h.Service.Status(ctx, actorOf(r), chi.URLParam(r, "id"))
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, "", v)
}

func (h *OrdersHandler) saga(w http.ResponseWriter, r *http.Request) {
	s, err := h.Service.Saga(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, "", s)
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusReq
	if err := DecodeJSON(r, &req); err != nil {
		Fail(w, r, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Store)
	defer cancel()

	o, err := h.Service.UpdateStatus(ctx, actorOf(r), chi.URLParam(r, "id"), req.Status, req.Notes)
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, "order status updated", o)
}

func (h *OrdersHandler) paymentStatus(w http.ResponseWriter, r *http.Request) {
	var req orders.PaymentUpdate
	if err := DecodeJSON(r, &req); err != nil {
		Fail(w, r, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Store)
	defer cancel()

	res, err := h.Service.ApplyPaymentStatus(ctx, chi.URLParam(r, "id"), req)
	if err != nil {
		Fail(w, r, err)
		return
	}
	msg := "payment status applied"
	switch {
	case res.Duplicate:
		msg = "payment status already applied"
	case !res.Applied:
		msg = "payment status recorded, order status unchanged"
	}
	OK(w, http.StatusOK, msg, res)
}

func (h *OrdersHandler) cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelReq
	if r.ContentLength > 0 {
		if err := DecodeJSON(r, &req); err != nil {
			Fail(w, r, err)
			return
		}
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Store)
	defer cancel()

	o, err := h.Service.Cancel(ctx, actorOf(r), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, "order cancelled", o)
}
