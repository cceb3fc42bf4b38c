package domain

import (
	"strings"
	"time"
)

// PaymentMethod enumerates the payment options offered at checkout.
type PaymentMethod string

const (
	// PaymentMethodPayPal settles the order through PayPal.
	PaymentMethodPayPal PaymentMethod = "PayPal"
	// PaymentMethodStripe settles the order through a Stripe Checkout session.
	PaymentMethodStripe PaymentMethod = "Stripe"
	// PaymentMethodCashOnDelivery collects payment when the parcel is handed over.
	PaymentMethodCashOnDelivery PaymentMethod = "CashOnDelivery"
)

var paymentMethods = []PaymentMethod{
	PaymentMethodPayPal,
	PaymentMethodStripe,
	PaymentMethodCashOnDelivery,
}

// PaymentMethods lists the supported payment methods in display order.
func PaymentMethods() []PaymentMethod {
	out := make([]PaymentMethod, len(paymentMethods))
	copy(out, paymentMethods)
	return out
}

// ParsePaymentMethod resolves a payment method case-insensitively.
func ParsePaymentMethod(raw string) (PaymentMethod, bool) {
	trimmed := strings.TrimSpace(raw)
	for _, method := range paymentMethods {
		if strings.EqualFold(string(method), trimmed) {
			return method, true
		}
	}
	return "", false
}

// Valid reports whether the method is one of the supported values.
func (m PaymentMethod) Valid() bool {
	for _, method := range paymentMethods {
		if m == method {
			return true
		}
	}
	return false
}

// Product is a catalogue entry together with its live stock level.
type Product struct {
	ID          string    `json:"_id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	Category    string    `json:"category"`
	Brand       string    `json:"brand"`
	Image       string    `json:"image"`
	Price       float64   `json:"price"`
	Stock       int       `json:"stock"`
	Rating      float64   `json:"rating"`
	NumReviews  int       `json:"numReviews"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// InStock reports whether at least one unit is available.
func (p Product) InStock() bool {
	return p.Stock > 0
}

// LineItem is one product entry in a cart with its chosen quantity and the stock known when it was added.
type LineItem struct {
	ProductID string  `json:"productId"`
	Slug      string  `json:"slug"`
	Name      string  `json:"name"`
	Image     string  `json:"image,omitempty"`
	Price     float64 `json:"price"`
	Quantity  int     `json:"quantity"`
	Stock     int     `json:"stock"`
}

// LineItemFromProduct builds a line item snapshot for the given product and quantity.
func LineItemFromProduct(p Product, quantity int) LineItem {
	return LineItem{
		ProductID: p.ID,
		Slug:      p.Slug,
		Name:      p.Name,
		Image:     p.Image,
		Price:     p.Price,
		Quantity:  quantity,
		Stock:     p.Stock,
	}
}

// Address is the shipping destination captured during the shipping step.
type Address struct {
	FullName   string `json:"fullName"`
	Address    string `json:"address"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

// Validate reports every missing field keyed by its JSON name.
func (a Address) Validate() error {
	fields := map[string]string{}
	check := func(name, value string) {
		if strings.TrimSpace(value) == "" {
			fields[name] = "is required"
		}
	}
	check("fullName", a.FullName)
	check("address", a.Address)
	check("city", a.City)
	check("postalCode", a.PostalCode)
	check("country", a.Country)
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// Cart is the client-held shopping state: ordered line items plus the checkout selections.
type Cart struct {
	Items           []LineItem    `json:"cartItems"`
	ShippingAddress *Address      `json:"shippingAddress,omitempty"`
	PaymentMethod   PaymentMethod `json:"paymentMethod,omitempty"`
	// CheckoutNonce scopes order submissions of this cart; it is reset when the cart is cleared.
	CheckoutNonce string `json:"checkoutNonce,omitempty"`
}

// Clone returns a deep copy of the cart.
func (c Cart) Clone() Cart {
	out := Cart{PaymentMethod: c.PaymentMethod, CheckoutNonce: c.CheckoutNonce}
	if c.Items != nil {
		out.Items = make([]LineItem, len(c.Items))
		copy(out.Items, c.Items)
	}
	if c.ShippingAddress != nil {
		addr := *c.ShippingAddress
		out.ShippingAddress = &addr
	}
	return out
}

// Find returns the index of the line item with the given slug, or -1.
func (c Cart) Find(slug string) int {
	for i, item := range c.Items {
		if item.Slug == slug {
			return i
		}
	}
	return -1
}

// OrderItem is a frozen line of a committed order.
type OrderItem struct {
	ProductID string  `json:"productId"`
	Slug      string  `json:"slug"`
	Name      string  `json:"name"`
	Image     string  `json:"image,omitempty"`
	Price     float64 `json:"price"`
	Quantity  int     `json:"quantity"`
}

// PaymentResult records the PSP confirmation that marked an order as paid.
type PaymentResult struct {
	Provider  string `json:"provider"`
	Reference string `json:"reference"`
	Status    string `json:"status"`
	Email     string `json:"email,omitempty"`
}

// Order is the immutable snapshot created by a successful placement.
type Order struct {
	ID              string         `json:"_id"`
	UserID          string         `json:"user"`
	Items           []OrderItem    `json:"orderItems"`
	ShippingAddress Address        `json:"shippingAddress"`
	PaymentMethod   PaymentMethod  `json:"paymentMethod"`
	PaymentResult   *PaymentResult `json:"paymentResult,omitempty"`
	ItemsPrice      float64        `json:"itemsPrice"`
	ShippingPrice   float64        `json:"shippingPrice"`
	TaxPrice        float64        `json:"taxPrice"`
	TotalPrice      float64        `json:"totalPrice"`
	IsPaid          bool           `json:"isPaid"`
	PaidAt          *time.Time     `json:"paidAt,omitempty"`
	IsDelivered     bool           `json:"isDelivered"`
	DeliveredAt     *time.Time     `json:"deliveredAt,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

// Breakdown returns the stored price breakdown of the order.
func (o Order) Breakdown() PriceBreakdown {
	return PriceBreakdown{
		ItemsPrice:    o.ItemsPrice,
		ShippingPrice: o.ShippingPrice,
		TaxPrice:      o.TaxPrice,
		TotalPrice:    o.TotalPrice,
	}
}

// OrderRequest is the payload submitted to create an order. Prices are advisory; the server
// recomputes them.
type OrderRequest struct {
	OrderItems      []LineItem    `json:"orderItems"`
	ShippingAddress Address       `json:"shippingAddress"`
	PaymentMethod   PaymentMethod `json:"paymentMethod"`
	PriceBreakdown
}

// User is a storefront customer account.
type User struct {
	ID           string    `json:"_id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	IsAdmin      bool      `json:"isAdmin"`
	CreatedAt    time.Time `json:"createdAt"`
}

// CursorPage represents a paginated result set using cursor-based tokens.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// Pagination captures cursor pagination input.
type Pagination struct {
	PageSize  int
	PageToken string
}
