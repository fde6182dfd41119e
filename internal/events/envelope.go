package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	kafkax "github.com/ariefcatur/go-checkout-saga/internal/kafka"
	"github.com/ariefcatur/go-checkout-saga/internal/logging"
)

const envelopeVersion = 1

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

func Decode(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.EventID == "" || env.EventType == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing event id or type")
	}
	return env, nil
}

// Publisher is implemented by *kafka.Producer.
type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

// Emitter wraps payloads in an Envelope and hands them to a Publisher. A nil Emitter drops events.
type Emitter struct {
	pub      Publisher
	producer string
}

// NewEmitter returns nil when pub is nil so callers can keep publishing optional.
func NewEmitter(pub Publisher, producer string) *Emitter {
	if pub == nil {
		return nil
	}
	return &Emitter{pub: pub, producer: producer}
}

func (e *Emitter) Emit(ctx context.Context, eventType, key, correlationID string, payload any) {
	if e == nil {
		return
	}
	raw, err := kafkax.Encode(payload)
	if err != nil {
		logging.FromContext(ctx).Error("marshal event payload", zap.String("event_type", eventType), zap.Error(err))
		return
	}
	env := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  envelopeVersion,
		OccurredAt:    time.Now().UTC(),
		Producer:      e.producer,
		CorrelationID: correlationID,
		Payload:       raw,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		env.TraceID = sc.TraceID().String()
	}
	value, err := kafkax.Encode(env)
	if err != nil {
		logging.FromContext(ctx).Error("encode event", zap.String("event_type", eventType), zap.Error(err))
		return
	}
	e.pub.Publish(PartitionKey(key), value,
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte(strconv.Itoa(envelopeVersion))},
	)
}
