package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	domain "github.com/tealshop/storefront/internal/domain"
)

func TestFromDomainOutOfStock(t *testing.T) {
	err := &domain.OutOfStockError{Items: []domain.StockShortage{{ProductID: "p1", Requested: 5, Available: 3}}}
	mapped, ok := FromDomain(err)
	if !ok {
		t.Fatalf("expected mapping")
	}
	if mapped.Status != http.StatusConflict || mapped.Code != CodeOutOfStock {
		t.Fatalf("unexpected mapping %+v", mapped)
	}

	rec := httptest.NewRecorder()
	WriteError(context.Background(), rec, mapped)
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	items, _ := body["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("expected items in envelope, got %v", body)
	}
	if body["error"] != CodeOutOfStock {
		t.Fatalf("unexpected code %v", body["error"])
	}
}

func TestFromDomainValidation(t *testing.T) {
	mapped, ok := FromDomain(domain.NewValidationError("email", "is invalid"))
	if !ok || mapped.Status != http.StatusBadRequest {
		t.Fatalf("unexpected mapping %+v", mapped)
	}
	fields, _ := mapped.Details["fields"].(map[string]string)
	if fields["email"] != "is invalid" {
		t.Fatalf("expected field details, got %v", mapped.Details)
	}
}

func TestFromDomainUnknown(t *testing.T) {
	if _, ok := FromDomain(errors.New("boom")); ok {
		t.Fatalf("expected unknown error to be unmapped")
	}
}

func TestSanitizeStripsNewlines(t *testing.T) {
	err := NewError("bad\ncode", "line1\r\nline2", 0)
	if err.Code != "bad code" || err.Status != http.StatusInternalServerError {
		t.Fatalf("unexpected error %+v", err)
	}
}
