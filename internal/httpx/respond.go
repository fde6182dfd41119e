package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-checkout-saga/internal/apperr"
	"github.com/ariefcatur/go-checkout-saga/internal/logging"
)

// Envelope is the body shape of every response.
type Envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *ErrorBody      `json:"error,omitempty"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type envelopeOut struct {
	Success bool       `json:"success"`
	Message string     `json:"message,omitempty"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
}

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func OK(w http.ResponseWriter, code int, msg string, data any) {
	writeJSON(w, code, envelopeOut{Success: true, Message: msg, Data: data})
}

// Fail maps err to its HTTP status and writes the error envelope. Internal errors are logged
// and their detail is not exposed.
func Fail(w http.ResponseWriter, r *http.Request, err error) {
	failWith(w, r, apperr.HTTPStatus(err), err, nil)
}

func failWith(w http.ResponseWriter, r *http.Request, code int, err error, data any) {
	e, ok := apperr.As(err)
	if !ok {
		e = apperr.Internal("internal error", err)
	}
	if e.Kind == apperr.KindInternal || e.Kind == apperr.KindUpstreamUnavailable {
		logging.FromContext(r.Context()).Error("request failed",
			zap.String("code", e.Code), zap.Error(err))
	}
	msg := e.Message
	if e.Kind == apperr.KindInternal {
		msg = "internal error"
	}
	writeJSON(w, code, envelopeOut{
		Success: false,
		Message: msg,
		Data:    data,
		Error:   &ErrorBody{Code: e.Code, Message: msg},
	})
}

// DecodeJSON reads a bounded JSON body into dst, rejecting unknown trailing data.
func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Validation("request body is empty")
		}
		return apperr.Validation("invalid json")
	}
	return nil
}

// QueryInt parses an integer query parameter, falling back to def when absent or malformed.
func QueryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func contextWithLogger(ctx context.Context, l *zap.Logger) context.Context {
	return logging.ContextWithLogger(ctx, l)
}
