package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/go-checkout-saga/internal/apperr"
	"github.com/ariefcatur/go-checkout-saga/internal/payment"
	"github.com/ariefcatur/go-checkout-saga/internal/timeouts"
)

type PaymentHandler struct {
	Simulator *payment.Simulator
	Auth      *Authenticator
}

type refundResp struct {
	Payment payment.Payment `json:"payment"`
	Refund  payment.Refund  `json:"refund"`
}

func (h *PaymentHandler) Register(r chi.Router) {
	r.Route("/payments", func(r chi.Router) {
		r.Use(h.Auth.Authenticate)

		r.With(RequireRoles(RoleService)).Post("/process", h.process)
		r.With(RequireRoles(RoleService, RoleAdmin)).Post("/refund", h.refund)
		r.With(RequireRoles(RoleService)).Get("/pending-callbacks", h.pendingCallbacks)
		r.With(RequireRoles(RoleService)).Post("/{id}/redeliver", h.redeliver)

		r.Get("/order/{orderId}", h.listByOrder)
		r.Get("/{id}", h.get)
	})
}

func (h *PaymentHandler) process(w http.ResponseWriter, r *http.Request) {
	var req payment.ProcessRequest
	if err := DecodeJSON(r, &req); err != nil {
		Fail(w, r, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.PaymentRequest)
	defer cancel()

	p, err := h.Simulator.Process(ctx, req)
	if err != nil {
		Fail(w, r, err)
		return
	}
	if p.Status == payment.StatusFailed {
		failWith(w, r, http.StatusPaymentRequired,
			apperr.New(apperr.KindPaymentDeclined, p.ErrorCode, p.ErrorMessage), p)
		return
	}
	OK(w, http.StatusOK, "payment completed", p)
}

func (h *PaymentHandler) refund(w http.ResponseWriter, r *http.Request) {
	var req payment.RefundRequest
	if err := DecodeJSON(r, &req); err != nil {
		Fail(w, r, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Store)
	defer cancel()

	p, rf, err := h.Simulator.Refund(ctx, req)
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, "refund completed", refundResp{Payment: p, Refund: rf})
}

func (h *PaymentHandler) get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Store)
	defer cancel()

	p, err := h.Simulator.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		Fail(w, r, err)
		return
	}
	if !canSee(r, p.UserID) {
		Fail(w, r, apperr.ErrForbidden)
		return
	}
	OK(w, http.StatusOK, "", p)
}

func (h *PaymentHandler) listByOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Store)
	defer cancel()

	ps, err := h.Simulator.ListByOrder(ctx, chi.URLParam(r, "orderId"))
	if err != nil {
		Fail(w, r, err)
		return
	}
	visible := make([]payment.Payment, 0, len(ps))
	for _, p := range ps {
		if canSee(r, p.UserID) {
			visible = append(visible, p)
		}
	}
	OK(w, http.StatusOK, "", visible)
}

func (h *PaymentHandler) pendingCallbacks(w http.ResponseWriter, r *http.Request) {
	grace := time.Minute
	if v := r.URL.Query().Get("olderThan"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			Fail(w, r, apperr.Validation("olderThan must be a duration"))
			return
		}
		grace = d
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Store)
	defer cancel()

	ps, err := h.Simulator.PendingCallbacks(ctx, time.Now().Add(-grace), QueryInt(r, "limit", 100))
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, "", ps)
}

func (h *PaymentHandler) redeliver(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Handler)
	defer cancel()

	p, err := h.Simulator.Redeliver(ctx, chi.URLParam(r, "id"))
	if err != nil && p.ID == "" {
		Fail(w, r, err)
		return
	}
	if err != nil {
		// Report the flags that did get set so the caller knows what is still pending.
		failWith(w, r, http.StatusServiceUnavailable, apperr.Upstream("callback target", err), p)
		return
	}
	OK(w, http.StatusOK, "callbacks delivered", p)
}

// canSee allows the owner, admins and internal services.
func canSee(r *http.Request, ownerID string) bool {
	p, ok := PrincipalFrom(r.Context())
	if !ok {
		return false
	}
	return p.UserID == ownerID || p.HasRole(RoleAdmin, RoleService)
}
