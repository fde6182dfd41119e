package inventory

import "time"

type TxType string

const (
	TxInit    TxType = "INIT"
	TxReserve TxType = "RESERVE"
	TxConfirm TxType = "CONFIRM"
	TxRelease TxType = "RELEASE"
	TxAdd     TxType = "ADD"
	TxRemove  TxType = "REMOVE"

	// txAdjust is a Mutation kind only; the ledger records ADD or REMOVE.
	txAdjust TxType = "ADJUST"
)

type AdjustOp string

const (
	AdjustSet    AdjustOp = "SET"
	AdjustAdd    AdjustOp = "ADD"
	AdjustRemove AdjustOp = "REMOVE"
)

func (o AdjustOp) Valid() bool {
	switch o {
	case AdjustSet, AdjustAdd, AdjustRemove:
		return true
	}
	return false
}

type ReservationStatus string

const (
	ReservationReserved  ReservationStatus = "RESERVED"
	ReservationConfirmed ReservationStatus = "CONFIRMED"
	ReservationReleased  ReservationStatus = "RELEASED"
)

// Stock is the per-product counter pair. Invariant: 0 <= Reserved <= Quantity.
type Stock struct {
	ProductID string    `json:"productId"`
	Quantity  int       `json:"quantity"`
	Reserved  int       `json:"reservedQuantity"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (s Stock) Available() int { return s.Quantity - s.Reserved }

// Transaction is one append-only ledger entry.
type Transaction struct {
	ID               string    `json:"id"`
	ProductID        string    `json:"productId"`
	Type             TxType    `json:"type"`
	QuantityChange   int       `json:"quantityChange"`
	PreviousQuantity int       `json:"previousQuantity"`
	PreviousReserved int       `json:"previousReserved"`
	NewQuantity      int       `json:"newQuantity"`
	NewReserved      int       `json:"newReserved"`
	OrderID          string    `json:"orderId,omitempty"`
	UserID           string    `json:"userId,omitempty"`
	Notes            string    `json:"notes"`
	CreatedAt        time.Time `json:"createdAt"`
}

// Reservation tracks the hold of one order on one product.
type Reservation struct {
	OrderID   string            `json:"orderId"`
	ProductID string            `json:"productId"`
	Quantity  int               `json:"quantity"`
	Status    ReservationStatus `json:"status"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// Mutation is one requested change to a stock record.
type Mutation struct {
	Type      TxType
	ProductID string
	Quantity  int
	Adjust    AdjustOp
	OrderID   string
	UserID    string
	Notes     string
}

// Change is what a store reports after applying a Mutation.
type Change struct {
	Before      Stock
	After       Stock
	Transaction *Transaction
	// Duplicate is set when the order's reservation was already settled and nothing changed.
	Duplicate bool
}

type ListFilter struct {
	Page  int
	Limit int
	// LowStock, when set, keeps records whose available stock is at most this value.
	LowStock *int
}

type StockView struct {
	Stock
	Available int  `json:"availableStock"`
	InStock   bool `json:"inStock"`
}

func viewOf(s Stock) StockView {
	return StockView{Stock: s, Available: s.Available(), InStock: s.Available() > 0}
}

type StockPage struct {
	Items []StockView `json:"items"`
	Page  int         `json:"page"`
	Limit int         `json:"limit"`
	Total int         `json:"total"`
	Pages int         `json:"pages"`
}

type Request struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	OrderID   string `json:"orderId,omitempty"`
	UserID    string `json:"userId,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

type Result struct {
	ProductID     string `json:"productId"`
	Quantity      int    `json:"quantity"`
	Reserved      int    `json:"reservedQuantity"`
	Available     int    `json:"availableStock"`
	Duplicate     bool   `json:"duplicate,omitempty"`
	TransactionID string `json:"transactionId,omitempty"`
}

type BatchItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type BatchLine struct {
	ProductID   string `json:"productId"`
	Requested   int    `json:"requested"`
	Available   int    `json:"available"`
	IsAvailable bool   `json:"isAvailable"`
	Error       string `json:"error,omitempty"`
}

type BatchResult struct {
	AllAvailable bool        `json:"allAvailable"`
	Items        []BatchLine `json:"items"`
}
