package payments

import (
	"context"
	"errors"
	"math"
	"time"
)

// Status enumerates the normalised payment states shared across providers.
type Status string

const (
	// StatusPending indicates the payment is awaiting customer action or PSP confirmation.
	StatusPending Status = "pending"
	// StatusSucceeded indicates the PSP reports the payment as captured.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the session expired or was abandoned.
	StatusFailed Status = "failed"
)

// ErrSessionNotFound is returned when the PSP does not know the session id.
var ErrSessionNotFound = errors.New("payments: checkout session not found")

// CheckoutLineItem describes a single line item to include in a checkout session.
type CheckoutLineItem struct {
	Name     string
	SKU      string
	Quantity int64
	Amount   int64
}

// CheckoutSessionRequest captures the payload required to create a checkout session.
type CheckoutSessionRequest struct {
	OrderID        string
	CustomerEmail  string
	Currency       string
	SuccessURL     string
	CancelURL      string
	IdempotencyKey string
	Items          []CheckoutLineItem
	// ShippingAmount and TaxAmount are added as separate lines so the session total
	// matches the order total.
	ShippingAmount int64
	TaxAmount      int64
}

// CheckoutSession represents the PSP session returned to the client.
type CheckoutSession struct {
	ID          string
	Provider    string
	RedirectURL string
	ExpiresAt   time.Time
}

// PaymentDetails normalises a PSP session for the order record.
type PaymentDetails struct {
	Provider  string
	SessionID string
	OrderID   string
	Status    Status
	Amount    int64
	Currency  string
	Email     string
}

// Provider defines the contract for PSP adapters to implement.
type Provider interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error)
	LookupSession(ctx context.Context, sessionID string) (PaymentDetails, error)
}

// MinorUnits converts a two-decimal amount to the PSP's integer minor units.
func MinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}
