package httpx

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/go-checkout-saga/internal/apperr"
	"github.com/ariefcatur/go-checkout-saga/internal/inventory"
	"github.com/ariefcatur/go-checkout-saga/internal/timeouts"
)

type InventoryHandler struct {
	Ledger *inventory.Ledger
	Auth   *Authenticator
}

type initStockReq struct {
	ProductID    string `json:"productId"`
	InitialStock int    `json:"initialStock"`
}

type adjustStockReq struct {
	Quantity  *int   `json:"quantity"`
	Operation string `json:"operation"`
}

type batchCheckReq struct {
	Items []inventory.BatchItem `json:"items"`
}

func (h *InventoryHandler) Register(r chi.Router) {
	r.Route("/inventory", func(r chi.Router) {
		r.Get("/{productId}", h.get)

		r.Group(func(r chi.Router) {
			r.Use(h.Auth.Authenticate)

			r.With(RequireRoles(RoleService, RoleAdmin)).Post("/init", h.init)
			r.With(RequireRoles(RoleService)).Post("/reserve", h.reserve)
			r.With(RequireRoles(RoleService)).Post("/confirm", h.confirm)
			r.With(RequireRoles(RoleService)).Post("/release", h.release)
			r.With(RequireRoles(RoleService)).Post("/batch/check", h.batchCheck)

			r.With(RequireRoles(RoleAdmin, RoleSeller)).Get("/", h.list)
			r.With(RequireRoles(RoleAdmin, RoleSeller)).Put("/{productId}", h.adjust)
			r.With(RequireRoles(RoleAdmin, RoleSeller)).Get("/{productId}/transactions", h.transactions)
		})
	})
}

func (h *InventoryHandler) init(w http.ResponseWriter, r *http.Request) {
	var req initStockReq
	if err := DecodeJSON(r, &req); err != nil {
		Fail(w, r, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Store)
	defer cancel()

	v, err := h.Ledger.Init(ctx, req.ProductID, req.InitialStock, callerID(r))
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusCreated, "stock record created", v)
}

func (h *InventoryHandler) get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Store)
	defer cancel()

	v, err := h.Ledger.Get(ctx, chi.URLParam(r, "productId"))
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, "", v)
}

func (h *InventoryHandler) reserve(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "stock reserved", h.Ledger.Reserve)
}

func (h *InventoryHandler) confirm(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "reservation confirmed", h.Ledger.Confirm)
}

func (h *InventoryHandler) release(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "reservation released", h.Ledger.Release)
}

func (h *InventoryHandler) mutate(w http.ResponseWriter, r *http.Request, msg string,
	op func(context.Context, inventory.Request) (inventory.Result, error)) {
	var req inventory.Request
	if err := DecodeJSON(r, &req); err != nil {
		Fail(w, r, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Store)
	defer cancel()

	res, err := op(ctx, req)
	if err != nil {
		Fail(w, r, err)
		return
	}
	if res.Duplicate {
		msg = "reservation already settled"
	}
	OK(w, http.StatusOK, msg, res)
}

func (h *InventoryHandler) adjust(w http.ResponseWriter, r *http.Request) {
	var req adjustStockReq
	if err := DecodeJSON(r, &req); err != nil {
		Fail(w, r, err)
		return
	}
	if req.Quantity == nil {
		Fail(w, r, apperr.Validation("quantity is required"))
		return
	}
	op := inventory.AdjustOp(req.Operation)
	if op == "" {
		op = inventory.AdjustSet
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Store)
	defer cancel()

	res, err := h.Ledger.Adjust(ctx, chi.URLParam(r, "productId"), *req.Quantity, op, callerID(r))
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, "stock adjusted", res)
}

func (h *InventoryHandler) batchCheck(w http.ResponseWriter, r *http.Request) {
	var req batchCheckReq
	if err := DecodeJSON(r, &req); err != nil {
		Fail(w, r, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Store)
	defer cancel()

	res, err := h.Ledger.BatchCheck(ctx, req.Items)
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, "", res)
}

func (h *InventoryHandler) list(w http.ResponseWriter, r *http.Request) {
	f := inventory.ListFilter{Page: QueryInt(r, "page", 1), Limit: QueryInt(r, "limit", 20)}
	if v := r.URL.Query().Get("lowStock"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			Fail(w, r, apperr.Validation("lowStock must be an integer"))
			return
		}
		f.LowStock = &n
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Store)
	defer cancel()

	page, err := h.Ledger.List(ctx, f)
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, "", page)
}

func (h *InventoryHandler) transactions(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Store)
	defer cancel()

	txs, err := h.Ledger.Transactions(ctx, chi.URLParam(r, "productId"), QueryInt(r, "limit", 50))
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, "", txs)
}

func callerID(r *http.Request) string {
	if p, ok := PrincipalFrom(r.Context()); ok {
		return p.UserID
	}
	return ""
}
