package firestore

import (
	"testing"
	"time"

	domain "github.com/tealshop/storefront/internal/domain"
	"github.com/tealshop/storefront/internal/platform/pagination"
	"github.com/tealshop/storefront/internal/repositories"
)

func TestOrderDocumentPreservesSnapshot(t *testing.T) {
	paidAt := time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC)
	order := domain.Order{
		ID:              "o-1",
		UserID:          "u-1",
		Items:           []domain.OrderItem{{ProductID: "p-1", Slug: "shirt", Name: "Shirt", Price: 100, Quantity: 2}},
		ShippingAddress: domain.Address{FullName: "Ada", Address: "1 Way", City: "London", PostalCode: "N1", Country: "UK"},
		PaymentMethod:   domain.PaymentMethodStripe,
		PaymentResult:   &domain.PaymentResult{Provider: "stripe", Reference: "cs_1", Status: "paid"},
		ItemsPrice:      200,
		ShippingPrice:   15,
		TaxPrice:        30,
		TotalPrice:      245,
		IsPaid:          true,
		PaidAt:          &paidAt,
	}

	got := orderDocumentFrom(order).toDomain("o-1")
	if got.TotalPrice != 245 || got.Items[0].Quantity != 2 || got.ShippingAddress.City != "London" {
		t.Fatalf("unexpected order %+v", got)
	}
	if got.PaymentResult == nil || got.PaymentResult.Reference != "cs_1" {
		t.Fatalf("payment result lost: %+v", got.PaymentResult)
	}
}

func TestMergeLinesFoldsDuplicates(t *testing.T) {
	lines, err := mergeLines([]repositories.PlacementLine{
		{ProductID: "p-1", Quantity: 1},
		{ProductID: "p-2", Quantity: 2},
		{ProductID: " p-1 ", Quantity: 3},
	})
	if err != nil {
		t.Fatalf("mergeLines: %v", err)
	}
	if len(lines) != 2 || lines[0].Quantity != 4 || lines[1].ProductID != "p-2" {
		t.Fatalf("unexpected lines %+v", lines)
	}

	if _, err := mergeLines(nil); err == nil {
		t.Fatal("expected error for empty lines")
	}
	if _, err := mergeLines([]repositories.PlacementLine{{ProductID: "p-1"}}); err == nil {
		t.Fatal("expected error for zero quantity")
	}
}

func TestOrderCursorParsesToken(t *testing.T) {
	at := time.Date(2025, 1, 2, 3, 4, 5, 6, time.UTC)
	values, err := orderCursor(pagination.Cursor{StartAfter: []any{at.Format(time.RFC3339Nano), "o-9"}})
	if err != nil {
		t.Fatalf("orderCursor: %v", err)
	}
	if !values[0].(time.Time).Equal(at) || values[1] != "o-9" {
		t.Fatalf("unexpected cursor %v", values)
	}
	if _, err := orderCursor(pagination.Cursor{StartAfter: []any{"yesterday", "o-9"}}); err == nil {
		t.Fatal("expected error for malformed time")
	}
}
