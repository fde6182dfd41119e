package redisx

import (
	"fmt"
	"time"
)

const (
	// Checkout idempotency: idem:order:create:{user_id}:{idempotency_key} -> order_id
	KeyIdemOrderCreate = "idem:order:create:%s:%s"

	// Cached order view: order_status:{order_id} -> {"status": "...", "version": n}
	KeyOrderStatus = "order_status:%s"

	// Event dedup: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"

	// Saga snapshot per order: hash saga:{order_id}
	KeySaga = "saga:%s"

	// Cart per user: cart:user_{user_id}
	KeyCart = "cart:user_%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
	TTLSaga        = 48 * time.Hour
	TTLCart        = 7 * 24 * time.Hour
)

func IdemOrderCreate(userID, key string) string { return fmt.Sprintf(KeyIdemOrderCreate, userID, key) }
func OrderStatus(orderID string) string         { return fmt.Sprintf(KeyOrderStatus, orderID) }
func Dedup(service, id string) string           { return fmt.Sprintf(KeyDedup, service, id) }
func Saga(orderID string) string                { return fmt.Sprintf(KeySaga, orderID) }
func Cart(userID string) string                 { return fmt.Sprintf(KeyCart, userID) }
