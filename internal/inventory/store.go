package inventory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/go-checkout-saga/internal/apperr"
)

// Store persists stock records, the ledger and reservations. Apply must lock the record,
// call decide, and write the deltas with a check that rejects a broken invariant.
type Store interface {
	Create(ctx context.Context, productID string, quantity int, userID string) (Stock, *Transaction, error)
	Get(ctx context.Context, productID string) (Stock, error)
	Apply(ctx context.Context, m Mutation) (Change, error)
	List(ctx context.Context, f ListFilter) ([]Stock, int, error)
	Transactions(ctx context.Context, productID string, limit int) ([]Transaction, error)
}

type resKey struct{ orderID, productID string }

type memRecord struct {
	mu    sync.Mutex
	stock Stock
}

// MemoryStore is a single-instance Store. Each product has its own mutex.
type MemoryStore struct {
	mu           sync.RWMutex
	records      map[string]*memRecord
	transactions map[string][]Transaction
	reservations map[resKey]Reservation
	now          func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:      map[string]*memRecord{},
		transactions: map[string][]Transaction{},
		reservations: map[resKey]Reservation{},
		now:          time.Now,
	}
}

func (s *MemoryStore) Create(_ context.Context, productID string, quantity int, userID string) (Stock, *Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[productID]; ok {
		return Stock{}, nil, apperr.WithMessage(apperr.ErrAlreadyExists, "stock record already exists for "+productID)
	}
	now := s.now().UTC()
	st := Stock{ProductID: productID, Quantity: quantity, CreatedAt: now, UpdatedAt: now}
	tx := initTransaction(productID, quantity, userID, st)
	s.records[productID] = &memRecord{stock: st}
	s.transactions[productID] = append(s.transactions[productID], *tx)
	return st, tx, nil
}

func (s *MemoryStore) record(productID string) (*memRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[productID]
	return r, ok
}

func (s *MemoryStore) Get(_ context.Context, productID string) (Stock, error) {
	r, ok := s.record(productID)
	if !ok {
		return Stock{}, apperr.NotFound("stock record not found for " + productID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stock, nil
}

func (s *MemoryStore) Apply(_ context.Context, m Mutation) (Change, error) {
	r, ok := s.record(m.ProductID)
	if !ok {
		return Change{}, apperr.NotFound("stock record not found for " + m.ProductID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	before := r.stock
	var res *Reservation
	if m.OrderID != "" {
		s.mu.RLock()
		if cur, ok := s.reservations[resKey{m.OrderID, m.ProductID}]; ok {
			res = &cur
		}
		s.mu.RUnlock()
	}

	p, err := decide(m, before, res)
	if err != nil {
		return Change{}, err
	}
	if p.noop {
		return Change{Before: before, After: before, Duplicate: true}, nil
	}
	if !withinInvariant(before, p.deltaQuantity, p.deltaReserved) {
		return Change{}, apperr.ErrReservationRaceLost
	}

	now := s.now().UTC()
	after := before
	after.Quantity += p.deltaQuantity
	after.Reserved += p.deltaReserved
	after.UpdatedAt = now
	tx := newTransaction(m, p, before, after)

	s.mu.Lock()
	r.stock = after
	s.transactions[m.ProductID] = append(s.transactions[m.ProductID], *tx)
	if p.reservation != nil {
		next := *p.reservation
		if res == nil {
			next.CreatedAt = now
		}
		next.UpdatedAt = now
		s.reservations[resKey{m.OrderID, m.ProductID}] = next
	}
	s.mu.Unlock()

	return Change{Before: before, After: after, Transaction: tx}, nil
}

func (s *MemoryStore) List(_ context.Context, f ListFilter) ([]Stock, int, error) {
	s.mu.RLock()
	recs := make([]*memRecord, 0, len(s.records))
	for _, r := range s.records {
		recs = append(recs, r)
	}
	s.mu.RUnlock()

	all := make([]Stock, 0, len(recs))
	for _, r := range recs {
		r.mu.Lock()
		st := r.stock
		r.mu.Unlock()
		if f.LowStock != nil && st.Available() > *f.LowStock {
			continue
		}
		all = append(all, st)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].UpdatedAt.Equal(all[j].UpdatedAt) {
			return all[i].ProductID < all[j].ProductID
		}
		return all[i].UpdatedAt.After(all[j].UpdatedAt)
	})

	total := len(all)
	from := (f.Page - 1) * f.Limit
	if from >= total {
		return []Stock{}, total, nil
	}
	to := min(from+f.Limit, total)
	return all[from:to], total, nil
}

func (s *MemoryStore) Transactions(_ context.Context, productID string, limit int) ([]Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	txs := s.transactions[productID]
	out := make([]Transaction, 0, min(limit, len(txs)))
	for i := len(txs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, txs[i])
	}
	return out, nil
}
