package domain

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// ValidationError reports malformed input keyed by field name.
type ValidationError struct {
	Fields map[string]string
}

// NewValidationError builds a ValidationError for a single field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: message}}
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return "validation failed"
	}
	keys := make([]string, 0, len(e.Fields))
	for key := range e.Fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s %s", key, e.Fields[key]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// StockShortage identifies a line item whose requested quantity exceeds live stock.
type StockShortage struct {
	ProductID string `json:"productId"`
	Slug      string `json:"slug,omitempty"`
	Name      string `json:"name,omitempty"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

// OutOfStockError is returned when add-to-cart or placement cannot be satisfied from live stock.
type OutOfStockError struct {
	Items []StockShortage
}

// Error implements the error interface.
func (e *OutOfStockError) Error() string {
	if e == nil || len(e.Items) == 0 {
		return "product is out of stock"
	}
	names := make([]string, 0, len(e.Items))
	for _, item := range e.Items {
		label := item.Name
		if label == "" {
			label = item.ProductID
		}
		names = append(names, fmt.Sprintf("%s (requested %d, available %d)", label, item.Requested, item.Available))
	}
	return "out of stock: " + strings.Join(names, ", ")
}

// NetworkError wraps a failed or timed out collaborator call.
type NetworkError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *NetworkError) Error() string {
	if e == nil {
		return "network error"
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: network error", e.Op)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap exposes the transport error.
func (e *NetworkError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// AuthRequiredError signals navigation to a protected step without a session.
type AuthRequiredError struct {
	Redirect string
}

// Error implements the error interface.
func (e *AuthRequiredError) Error() string {
	return "authentication required"
}

// LoginURL returns the login path carrying the redirect target.
func (e *AuthRequiredError) LoginURL(loginPath string) string {
	if loginPath == "" {
		loginPath = "/login"
	}
	if e == nil || strings.TrimSpace(e.Redirect) == "" {
		return loginPath
	}
	return loginPath + "?redirect=" + url.QueryEscape(e.Redirect)
}

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsOutOfStock reports whether err carries an OutOfStockError.
func IsOutOfStock(err error) bool {
	var target *OutOfStockError
	return errors.As(err, &target)
}

// IsNetwork reports whether err carries a NetworkError.
func IsNetwork(err error) bool {
	var target *NetworkError
	return errors.As(err, &target)
}
