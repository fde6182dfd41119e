package inventory

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/ariefcatur/go-checkout-saga/internal/apperr"
)

// plan is the decision both stores apply: counter deltas, the ledger entry type and the next
// reservation state. Stores apply the deltas with a write that re-checks the invariant.
type plan struct {
	noop          bool
	deltaQuantity int
	deltaReserved int
	txType        TxType
	notes         string
	reservation   *Reservation
}

// decide evaluates m against the locked record s and the order's reservation, if any.
func decide(m Mutation, s Stock, res *Reservation) (plan, error) {
	switch m.Type {
	case TxReserve:
		return planReserve(m, s, res)
	case TxConfirm:
		return planConfirm(m, s, res)
	case TxRelease:
		return planRelease(m, s, res)
	case txAdjust:
		return planAdjust(m, s)
	default:
		return plan{}, fmt.Errorf("unsupported mutation %q", m.Type)
	}
}

func planReserve(m Mutation, s Stock, res *Reservation) (plan, error) {
	if res != nil {
		return plan{noop: true}, nil
	}
	if s.Available() < m.Quantity {
		return plan{}, apperr.WithMessage(apperr.ErrInsufficientStock,
			fmt.Sprintf("insufficient stock for %s: requested %d, available %d", s.ProductID, m.Quantity, s.Available()))
	}
	p := plan{deltaReserved: m.Quantity, txType: TxReserve, notes: notesOr(m.Notes, "stock reserved")}
	if m.OrderID != "" {
		p.reservation = &Reservation{OrderID: m.OrderID, ProductID: s.ProductID, Quantity: m.Quantity, Status: ReservationReserved}
	}
	return p, nil
}

func planConfirm(m Mutation, s Stock, res *Reservation) (plan, error) {
	if res != nil && res.Status != ReservationReserved {
		return plan{noop: true}, nil
	}
	if err := settlesWhole(m, s, res, "confirm"); err != nil {
		return plan{}, err
	}
	if s.Reserved < m.Quantity {
		return plan{}, apperr.WithMessage(apperr.ErrInsufficientReservation,
			fmt.Sprintf("insufficient reservation for %s: requested %d, reserved %d", s.ProductID, m.Quantity, s.Reserved))
	}
	p := plan{deltaQuantity: -m.Quantity, deltaReserved: -m.Quantity, txType: TxConfirm, notes: notesOr(m.Notes, "reservation confirmed")}
	if res != nil {
		next := *res
		next.Status = ReservationConfirmed
		p.reservation = &next
	}
	return p, nil
}

func planRelease(m Mutation, s Stock, res *Reservation) (plan, error) {
	if res != nil && res.Status != ReservationReserved {
		return plan{noop: true}, nil
	}
	// Nothing is held for this order yet. Counters stay as they are and a released marker is
	// written so a reserve still in flight for the same order lands as a no-op.
	if res == nil && m.OrderID != "" {
		return plan{
			txType:      TxRelease,
			notes:       notesOr(m.Notes, "release recorded before any reservation"),
			reservation: &Reservation{OrderID: m.OrderID, ProductID: s.ProductID, Quantity: m.Quantity, Status: ReservationReleased},
		}, nil
	}
	if err := settlesWhole(m, s, res, "release"); err != nil {
		return plan{}, err
	}
	if s.Reserved < m.Quantity {
		return plan{}, apperr.WithMessage(apperr.ErrInsufficientReservation,
			fmt.Sprintf("insufficient reservation for %s: requested %d, reserved %d", s.ProductID, m.Quantity, s.Reserved))
	}
	p := plan{deltaReserved: -m.Quantity, txType: TxRelease, notes: notesOr(m.Notes, "reservation released")}
	if res != nil {
		next := *res
		next.Status = ReservationReleased
		p.reservation = &next
	}
	return p, nil
}

// settlesWhole requires a keyed confirm or release to cover the order's whole reservation,
// since the reservation settles in one step.
func settlesWhole(m Mutation, s Stock, res *Reservation, op string) error {
	switch {
	case res == nil || m.Quantity == res.Quantity:
		return nil
	case m.Quantity > res.Quantity:
		return apperr.WithMessage(apperr.ErrInsufficientReservation,
			fmt.Sprintf("order %s holds %d of %s, cannot %s %d", m.OrderID, res.Quantity, s.ProductID, op, m.Quantity))
	default:
		return apperr.Validation(fmt.Sprintf("order %s holds %d of %s, %s must cover all of it, got %d",
			m.OrderID, res.Quantity, s.ProductID, op, m.Quantity))
	}
}

// planAdjust never lets quantity drop below what is already reserved.
func planAdjust(m Mutation, s Stock) (plan, error) {
	var target int
	txType := TxAdd
	switch m.Adjust {
	case AdjustSet:
		target = m.Quantity
		if m.Quantity < s.Quantity {
			txType = TxRemove
		}
	case AdjustAdd:
		target = s.Quantity + m.Quantity
	case AdjustRemove:
		target = s.Quantity - m.Quantity
		txType = TxRemove
	default:
		return plan{}, apperr.Validation("operation must be SET, ADD or REMOVE")
	}
	if target < s.Reserved {
		target = s.Reserved
	}
	return plan{
		deltaQuantity: target - s.Quantity,
		txType:        txType,
		notes:         notesOr(m.Notes, fmt.Sprintf("stock adjusted (%s %d)", m.Adjust, m.Quantity)),
	}, nil
}

// withinInvariant reports whether applying the deltas to s keeps 0 <= reserved <= quantity.
func withinInvariant(s Stock, dq, dr int) bool {
	q, r := s.Quantity+dq, s.Reserved+dr
	return r >= 0 && q >= r
}

func newTransaction(m Mutation, p plan, before, after Stock) *Transaction {
	return &Transaction{
		ID:               uuid.NewString(),
		ProductID:        before.ProductID,
		Type:             p.txType,
		QuantityChange:   quantityChange(p),
		PreviousQuantity: before.Quantity,
		PreviousReserved: before.Reserved,
		NewQuantity:      after.Quantity,
		NewReserved:      after.Reserved,
		OrderID:          m.OrderID,
		UserID:           m.UserID,
		Notes:            p.notes,
		CreatedAt:        after.UpdatedAt,
	}
}

// RESERVE and RELEASE log the size of the hold as a positive number; the others log the
// change in quantity.
func quantityChange(p plan) int {
	switch p.txType {
	case TxReserve:
		return p.deltaReserved
	case TxRelease:
		return -p.deltaReserved
	default:
		return p.deltaQuantity
	}
}

func initTransaction(productID string, qty int, userID string, at Stock) *Transaction {
	return &Transaction{
		ID:             uuid.NewString(),
		ProductID:      productID,
		Type:           TxInit,
		QuantityChange: qty,
		NewQuantity:    qty,
		UserID:         userID,
		Notes:          "stock record created",
		CreatedAt:      at.CreatedAt,
	}
}

func notesOr(notes, def string) string {
	if notes != "" {
		return notes
	}
	return def
}
