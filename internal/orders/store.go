package orders

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/go-checkout-saga/internal/apperr"
)

// Store persists orders. UpdateStatus must compare the version and write the history row in
// the same transaction, returning ErrVersionConflict when the fence is lost.
type Store interface {
	Create(ctx context.Context, o Order) (Order, error)
	Get(ctx context.Context, id string) (Order, error)
	List(ctx context.Context, f ListFilter) ([]Order, int, error)
	UpdateStatus(ctx context.Context, c StatusChange) (Order, error)
	AppendHistory(ctx context.Context, orderID string, h HistoryEntry) error
}

func orderNotFound(id string) error {
	return apperr.NotFound("order not found: " + id)
}

// MemoryStore is a single-instance Store used by tests and the memory driver.
type MemoryStore struct {
	mu     sync.RWMutex
	orders map[string]*Order
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{orders: map[string]*Order{}, now: time.Now}
}

func (s *MemoryStore) Create(_ context.Context, o Order) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.ID]; ok {
		return Order{}, apperr.WithMessage(apperr.ErrAlreadyExists, "order already exists: "+o.ID)
	}
	now := s.now().UTC()
	o.Version = 1
	o.CreatedAt, o.UpdatedAt = now, now
	o.Items = slices.Clone(o.Items)
	o.History = []HistoryEntry{{
		NewStatus: o.Status,
		ChangedBy: o.UserID,
		Notes:     "order created",
		CreatedAt: now,
	}}
	cp := o
	s.orders[o.ID] = &cp
	return clone(cp), nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return Order{}, orderNotFound(id)
	}
	return clone(*o), nil
}

func (s *MemoryStore) List(_ context.Context, f ListFilter) ([]Order, int, error) {
	s.mu.RLock()
	var all []Order
	for _, o := range s.orders {
		if f.UserID != "" && o.UserID != f.UserID {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		cp := clone(*o)
		cp.History = nil
		all = append(all, cp)
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	total := len(all)
	start := (f.Page - 1) * f.Limit
	if start >= total {
		return []Order{}, total, nil
	}
	end := min(start+f.Limit, total)
	return all[start:end], total, nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, c StatusChange) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[c.OrderID]
	if !ok {
		return Order{}, orderNotFound(c.OrderID)
	}
	if o.Version != c.ExpectedVersion || o.Status != c.From {
		return Order{}, apperr.ErrVersionConflict
	}
	now := s.now().UTC()
	o.Status = c.To
	o.Version++
	o.UpdatedAt = now
	if c.PaymentTransactionID != "" {
		o.PaymentTransactionID = c.PaymentTransactionID
	}
	o.History = append(o.History, HistoryEntry{
		OldStatus: c.From,
		NewStatus: c.To,
		ChangedBy: c.ChangedBy,
		Notes:     c.Notes,
		CreatedAt: now,
	})
	return clone(*o), nil
}

func (s *MemoryStore) AppendHistory(_ context.Context, orderID string, h HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return orderNotFound(orderID)
	}
	h.CreatedAt = s.now().UTC()
	o.History = append(o.History, h)
	return nil
}

func clone(o Order) Order {
	o.Items = slices.Clone(o.Items)
	o.History = slices.Clone(o.History)
	return o
}
