package httpx

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/go-checkout-saga/internal/cart"
	"github.com/ariefcatur/go-checkout-saga/internal/timeouts"
)

type CartHandler struct {
	Cart *cart.Service
	Auth *Authenticator
}

type addToCartReq struct {
	ProductID string `json:"productId"`
	Quantity  *int   `json:"quantity"`
}

type setQuantityReq struct {
	Quantity int `json:"quantity"`
}

func (h *CartHandler) Register(r chi.Router) {
	r.Route("/cart", func(r chi.Router) {
		r.Use(h.Auth.Authenticate)

		r.Get("/", h.get)
		r.Delete("/", h.clear)
		r.Post("/add", h.add)
		r.Put("/{productId}", h.setQuantity)
		r.Delete("/{productId}", h.remove)
	})
}

func (h *CartHandler) get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Store)
	defer cancel()

	v, err := h.Cart.Get(ctx, callerID(r))
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, "", v)
}

func (h *CartHandler) add(w http.ResponseWriter, r *http.Request) {
	var req addToCartReq
	if err := DecodeJSON(r, &req); err != nil {
		Fail(w, r, err)
		return
	}
	qty := 1
	if req.Quantity != nil {
		qty = *req.Quantity
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.PeerRequest)
	defer cancel()

	v, err := h.Cart.Add(ctx, callerID(r), req.ProductID, qty)
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, "product added to cart", v)
}

func (h *CartHandler) setQuantity(w http.ResponseWriter, r *http.Request) {
	var req setQuantityReq
	if err := DecodeJSON(r, &req); err != nil {
		Fail(w, r, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.PeerRequest)
	defer cancel()

	v, err := h.Cart.SetQuantity(ctx, callerID(r), chi.URLParam(r, "productId"), req.Quantity)
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, "cart updated", v)
}

func (h *CartHandler) remove(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Store)
	defer cancel()

	v, err := h.Cart.Remove(ctx, callerID(r), chi.URLParam(r, "productId"))
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, "product removed from cart", v)
}

func (h *CartHandler) clear(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Store)
	defer cancel()

	if err := h.Cart.Clear(ctx, callerID(r)); err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, "cart cleared", nil)
}
