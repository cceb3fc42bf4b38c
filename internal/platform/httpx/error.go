package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	domain "github.com/tealshop/storefront/internal/domain"
	"github.com/tealshop/storefront/internal/platform/requestctx"
)

// Error codes shared by the API and its clients.
const (
	CodeValidation   = "validation_failed"
	CodeOutOfStock   = "out_of_stock"
	CodeUnavailable  = "upstream_unavailable"
	CodeUnauthorized = "unauthenticated"
	CodeNotFound     = "not_found"
	CodeInternal     = "internal_error"
)

// Error is the JSON error envelope returned by the API.
type Error struct {
	Code      string
	Message   string
	Status    int
	RequestID string
	TraceID   string
	Details   map[string]any
}

// NewError constructs an Error. A zero status means 500.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    sanitize(code, 80),
		Message: sanitize(message, 512),
		Status:  status,
	}
}

// WithDetails attaches extra top level fields to the envelope.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) == 0 {
		return e
	}
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	e.Details = merged
	return e
}

// FromDomain maps the storefront error kinds onto the envelope. ok is false for unknown errors.
func FromDomain(err error) (Error, bool) {
	var (
		validation *domain.ValidationError
		stock      *domain.OutOfStockError
		network    *domain.NetworkError
		auth       *domain.AuthRequiredError
	)
	switch {
	case errors.As(err, &validation):
		return NewError(CodeValidation, validation.Error(), http.StatusBadRequest).
			WithDetails(map[string]any{"fields": validation.Fields}), true
	case errors.As(err, &stock):
		return NewError(CodeOutOfStock, stock.Error(), http.StatusConflict).
			WithDetails(map[string]any{"items": stock.Items}), true
	case errors.As(err, &network):
		return NewError(CodeUnavailable, "upstream service unavailable", http.StatusServiceUnavailable), true
	case errors.As(err, &auth):
		return NewError(CodeUnauthorized, auth.Error(), http.StatusUnauthorized).
			WithDetails(map[string]any{"redirect": auth.Redirect}), true
	}
	return Error{}, false
}

// WriteError writes the envelope as JSON.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	status := err.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	requestID := err.RequestID
	if requestID == "" {
		requestID = sanitize(middleware.GetReqID(ctx), 80)
	}
	traceID := err.TraceID
	if traceID == "" {
		traceID = sanitize(requestctx.TraceID(ctx), 64)
	}

	payload := map[string]any{
		"error":   err.Code,
		"message": err.Message,
		"status":  status,
	}
	if requestID != "" {
		payload["request_id"] = requestID
	}
	if traceID != "" {
		payload["trace_id"] = traceID
	}
	for k, v := range err.Details {
		payload[k] = v
	}
	WriteJSON(w, status, payload)
}

// WriteJSON encodes payload with the given status.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func sanitize(value string, limit int) string {
	if limit <= 0 {
		limit = 256
	}
	value = strings.NewReplacer("\n", " ", "\r", " ").Replace(value)
	value = strings.TrimSpace(value)
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
