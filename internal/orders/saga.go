package orders

import (
	"fmt"
	"time"
)

// LineOutcome is where one order line stands in the reservation saga.
type LineOutcome string

const (
	LinePending   LineOutcome = "PENDING"
	LineReserved  LineOutcome = "RESERVED"
	LineConfirmed LineOutcome = "CONFIRMED"
	LineReleased  LineOutcome = "RELEASED"
	LineFailed    LineOutcome = "FAILED"
)

var lineNext = map[LineOutcome]map[LineOutcome]bool{
	LinePending:  {LineReserved: true, LineFailed: true},
	LineReserved: {LineConfirmed: true, LineReleased: true},
}

type SagaStep string

const (
	StepValidated  SagaStep = "VALIDATED"
	StepReserving  SagaStep = "RESERVING"
	StepReserved   SagaStep = "RESERVED"
	StepPayment    SagaStep = "PAYMENT"
	StepCompleted  SagaStep = "COMPLETED"
	StepCompensate SagaStep = "COMPENSATED"
)

type SagaLine struct {
	ProductID string      `json:"productId"`
	Quantity  int         `json:"quantity"`
	Outcome   LineOutcome `json:"outcome"`
	Error     string      `json:"error,omitempty"`
}

// Saga tracks one checkout. Lines keep cart order.
type Saga struct {
	OrderID   string     `json:"orderId"`
	Step      SagaStep   `json:"step"`
	Lines     []SagaLine `json:"lines"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

func newSaga(orderID string, items []Item) *Saga {
	lines := make([]SagaLine, len(items))
	for i, it := range items {
		lines[i] = SagaLine{ProductID: it.ProductID, Quantity: it.Quantity, Outcome: LinePending}
	}
	return &Saga{OrderID: orderID, Step: StepValidated, Lines: lines, UpdatedAt: time.Now().UTC()}
}

func (s *Saga) mark(i int, to LineOutcome, cause error) error {
	from := s.Lines[i].Outcome
	if !lineNext[from][to] {
		return fmt.Errorf("saga line %s: %s -> %s not allowed", s.Lines[i].ProductID, from, to)
	}
	s.Lines[i].Outcome = to
	if cause != nil {
		s.Lines[i].Error = cause.Error()
	}
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// markAll moves every line currently in from to to.
func (s *Saga) markAll(from, to LineOutcome) {
	for i := range s.Lines {
		if s.Lines[i].Outcome == from {
			_ = s.mark(i, to, nil)
		}
	}
}

// reserved returns the indexes that still hold stock and need compensation on failure.
func (s *Saga) reserved() []int {
	var out []int
	for i, l := range s.Lines {
		if l.Outcome == LineReserved {
			out = append(out, i)
		}
	}
	return out
}

func (s *Saga) step(st SagaStep) {
	s.Step = st
	s.UpdatedAt = time.Now().UTC()
}
