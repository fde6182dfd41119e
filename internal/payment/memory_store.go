package payment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/go-checkout-saga/internal/apperr"
)

type MemoryStore struct {
	mu       sync.Mutex
	payments map[string]Payment
	byTxn    map[string]string
	refunds  []Refund
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{payments: map[string]Payment{}, byTxn: map[string]string{}}
}

func (s *MemoryStore) Create(_ context.Context, p Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byTxn[p.TransactionID]; ok {
		return apperr.WithMessage(apperr.ErrAlreadyExists, "transaction id already used")
	}
	s.payments[p.ID] = clonePayment(p)
	s.byTxn[p.TransactionID] = p.ID
	return nil
}

func (s *MemoryStore) lookup(idOrTxn string) (Payment, bool) {
	if p, ok := s.payments[idOrTxn]; ok {
		return p, true
	}
	if id, ok := s.byTxn[idOrTxn]; ok {
		return s.payments[id], true
	}
	return Payment{}, false
}

func (s *MemoryStore) Get(_ context.Context, idOrTxn string) (Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.lookup(idOrTxn)
	if !ok {
		return Payment{}, apperr.NotFound("payment not found")
	}
	return clonePayment(p), nil
}

func (s *MemoryStore) ListByOrder(_ context.Context, orderID string) ([]Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []Payment{}
	for _, p := range s.payments {
		if p.OrderID == orderID {
			out = append(out, clonePayment(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) MarkCallbackSent(_ context.Context, paymentID string, target CallbackTarget) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[paymentID]
	if !ok {
		return apperr.NotFound("payment not found")
	}
	switch target {
	case TargetInventory:
		p.InventoryCallbackSent = true
	case TargetOrder:
		p.OrderCallbackSent = true
	}
	p.UpdatedAt = time.Now().UTC()
	s.payments[paymentID] = p
	return nil
}

func (s *MemoryStore) Refund(_ context.Context, paymentID string, decide func(Payment) (Refund, error)) (Payment, Refund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.lookup(paymentID)
	if !ok {
		return Payment{}, Refund{}, apperr.NotFound("payment not found")
	}
	r, err := decide(clonePayment(p))
	if err != nil {
		return Payment{}, Refund{}, err
	}
	p.Status = StatusRefunded
	p.UpdatedAt = r.CreatedAt
	s.payments[p.ID] = p
	s.refunds = append(s.refunds, r)
	return clonePayment(p), r, nil
}

func (s *MemoryStore) PendingCallbacks(_ context.Context, olderThan time.Time, limit int) ([]Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []Payment{}
	for _, p := range s.payments {
		if p.CallbacksPending() && p.CreatedAt.Before(olderThan) {
			out = append(out, clonePayment(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Refunds returns every refund recorded so far.
func (s *MemoryStore) Refunds() []Refund {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Refund(nil), s.refunds...)
}

func clonePayment(p Payment) Payment {
	p.Items = append([]Item(nil), p.Items...)
	return p
}
