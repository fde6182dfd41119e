package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindBusinessRule
	KindUnauthorized
	KindForbidden
	KindPaymentDeclined
	KindUpstreamUnavailable
)

// Stable codes. Clients rebuild typed errors from these after a hop over HTTP.
const (
	CodeInternal                = "INTERNAL_ERROR"
	CodeValidation              = "VALIDATION_ERROR"
	CodeNotFound                = "NOT_FOUND"
	CodeProductNotFound         = "PRODUCT_NOT_FOUND"
	CodeAlreadyExists           = "ALREADY_EXISTS"
	CodeReservationRaceLost     = "RESERVATION_RACE_LOST"
	CodeVersionConflict         = "VERSION_CONFLICT"
	CodeInsufficientStock       = "INSUFFICIENT_STOCK"
	CodeInsufficientReservation = "INSUFFICIENT_RESERVATION"
	CodeEmptyCart               = "EMPTY_CART"
	CodeNoStatusChange          = "NO_STATUS_CHANGE"
	CodeInvalidTransition       = "INVALID_TRANSITION"
	CodeNotRefundable           = "NOT_REFUNDABLE"
	CodeUnauthorized            = "UNAUTHORIZED"
	CodeForbidden               = "FORBIDDEN"
	CodePaymentDeclined         = "PAYMENT_DECLINED"
	CodeUpstreamUnavailable     = "UPSTREAM_UNAVAILABLE"
)

type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Code so sentinel values work with errors.Is across wrapping.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func New(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

func Wrap(kind Kind, code, msg string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: msg, Err: err}
}

var (
	ErrEmptyCart               = New(KindBusinessRule, CodeEmptyCart, "cart is empty")
	ErrInsufficientStock       = New(KindBusinessRule, CodeInsufficientStock, "insufficient stock")
	ErrInsufficientReservation = New(KindBusinessRule, CodeInsufficientReservation, "insufficient reservation")
	ErrReservationRaceLost     = New(KindConflict, CodeReservationRaceLost, "reservation lost a concurrent update")
	ErrAlreadyExists           = New(KindConflict, CodeAlreadyExists, "already exists")
	ErrVersionConflict         = New(KindConflict, CodeVersionConflict, "record was modified concurrently")
	ErrNoStatusChange          = New(KindBusinessRule, CodeNoStatusChange, "status is unchanged")
	ErrInvalidTransition       = New(KindBusinessRule, CodeInvalidTransition, "status transition is not allowed")
	ErrNotRefundable           = New(KindBusinessRule, CodeNotRefundable, "only successful payments can be refunded")
	ErrNotFound                = New(KindNotFound, CodeNotFound, "not found")
	ErrProductNotFound         = New(KindNotFound, CodeProductNotFound, "product not found")
	ErrUnauthorized            = New(KindUnauthorized, CodeUnauthorized, "authentication required")
	ErrForbidden               = New(KindForbidden, CodeForbidden, "insufficient permissions")
)

func Validation(msg string) *Error { return New(KindValidation, CodeValidation, msg) }

func NotFound(msg string) *Error { return New(KindNotFound, CodeNotFound, msg) }

func Internal(msg string, err error) *Error { return Wrap(KindInternal, CodeInternal, msg, err) }

func Upstream(service string, err error) *Error {
	return Wrap(KindUpstreamUnavailable, CodeUpstreamUnavailable, service+" unavailable", err)
}

// WithMessage keeps kind and code of a sentinel but replaces the human message.
func WithMessage(base *Error, msg string) *Error {
	return &Error{Kind: base.Kind, Code: base.Code, Message: msg, Err: base.Err}
}

func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

func CodeOf(err error) string {
	if e, ok := As(err); ok {
		return e.Code
	}
	return CodeInternal
}

func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation, KindBusinessRule:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindPaymentDeclined:
		return http.StatusPaymentRequired
	case KindUpstreamUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// FromCode rebuilds an error received from a peer service.
func FromCode(code, msg string, status int) *Error {
	kind := KindInternal
	switch code {
	case CodeValidation:
		kind = KindValidation
	case CodeNotFound, CodeProductNotFound:
		kind = KindNotFound
	case CodeAlreadyExists, CodeReservationRaceLost, CodeVersionConflict:
		kind = KindConflict
	case CodeInsufficientStock, CodeInsufficientReservation, CodeEmptyCart,
		CodeNoStatusChange, CodeInvalidTransition, CodeNotRefundable:
		kind = KindBusinessRule
	case CodeUnauthorized:
		kind = KindUnauthorized
	case CodeForbidden:
		kind = KindForbidden
	case CodePaymentDeclined:
		kind = KindPaymentDeclined
	case CodeUpstreamUnavailable:
		kind = KindUpstreamUnavailable
	default:
		switch {
		case status == http.StatusNotFound:
			kind, code = KindNotFound, CodeNotFound
		case status == http.StatusBadRequest:
			kind, code = KindValidation, CodeValidation
		case status >= 500:
			kind, code = KindUpstreamUnavailable, CodeUpstreamUnavailable
		}
	}
	if code == "" {
		code = CodeInternal
	}
	return &Error{Kind: kind, Code: code, Message: msg}
}

// Outcome labels err for metrics: success, rejected (a client or business error) or error.
func Outcome(err error) string {
	if err == nil {
		return "success"
	}
	switch KindOf(err) {
	case KindInternal, KindUpstreamUnavailable:
		return "error"
	default:
		return "rejected"
	}
}
