package checkout

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tealshop/storefront/internal/cart"
	domain "github.com/tealshop/storefront/internal/domain"
)

// OrderGateway submits orders to the authoritative order service. Submissions sharing an
// idempotency key create at most one order.
type OrderGateway interface {
	CreateOrder(ctx context.Context, req domain.OrderRequest, idempotencyKey string) (domain.Order, error)
}

// ProductLookup fetches live product data, including stock.
type ProductLookup interface {
	GetProduct(ctx context.Context, productID string) (domain.Product, error)
}

// PlacerDeps configures a Placer.
type PlacerDeps struct {
	Orders   OrderGateway
	Products ProductLookup
	Pricing  domain.PricingPolicy
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

// Placer commits the session cart as an order and drives add-to-cart stock checks.
type Placer struct {
	orders   OrderGateway
	products ProductLookup
	pricing  domain.PricingPolicy
	logger   func(ctx context.Context, event string, fields map[string]any)
}

// NewPlacer validates dependencies and constructs a Placer.
func NewPlacer(deps PlacerDeps) (*Placer, error) {
	if deps.Orders == nil {
		return nil, errors.New("checkout placer: order gateway is required")
	}
	if deps.Products == nil {
		return nil, errors.New("checkout placer: product lookup is required")
	}
	pricing := deps.Pricing
	if pricing == (domain.PricingPolicy{}) {
		pricing = domain.DefaultPricingPolicy()
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &Placer{orders: deps.Orders, products: deps.Products, pricing: pricing, logger: logger}, nil
}

// Breakdown prices the current cart contents.
func (p *Placer) Breakdown(c domain.Cart) domain.PriceBreakdown {
	return p.pricing.Compute(c.Items)
}

// AddToCart checks live stock for the product and sets its quantity in the store. A quantity of
// zero means "one more than already in the cart".
func (p *Placer) AddToCart(ctx context.Context, store *cart.Store, productID string, quantity int) (domain.Cart, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return store.Snapshot(), domain.NewValidationError("productId", "is required")
	}

	product, err := p.products.GetProduct(ctx, productID)
	if err != nil {
		return store.Snapshot(), err
	}

	if quantity <= 0 {
		quantity = 1
		snapshot := store.Snapshot()
		if idx := snapshot.Find(product.Slug); idx >= 0 {
			quantity = snapshot.Items[idx].Quantity + 1
		}
	}
	if product.Stock < quantity {
		p.logger(ctx, "cart.add_out_of_stock", map[string]any{
			"productId": product.ID,
			"requested": quantity,
			"available": product.Stock,
		})
		return store.Snapshot(), &domain.OutOfStockError{Items: []domain.StockShortage{{
			ProductID: product.ID,
			Slug:      product.Slug,
			Name:      product.Name,
			Requested: quantity,
			Available: product.Stock,
		}}}
	}
	return store.AddItem(ctx, domain.LineItemFromProduct(product, quantity), quantity)
}

// PlaceOrder submits the cart. On success the cart items are cleared and persisted; on any
// failure the cart is left untouched.
func (p *Placer) PlaceOrder(ctx context.Context, store *cart.Store) (domain.Order, error) {
	snapshot := store.Snapshot()
	if err := checkPreconditions(snapshot); err != nil {
		return domain.Order{}, err
	}

	req := domain.OrderRequest{
		OrderItems:      snapshot.Items,
		ShippingAddress: *snapshot.ShippingAddress,
		PaymentMethod:   snapshot.PaymentMethod,
		PriceBreakdown:  p.pricing.Compute(snapshot.Items),
	}

	key, err := OrderKey(store.CheckoutNonce(ctx), req)
	if err != nil {
		return domain.Order{}, err
	}

	order, err := p.orders.CreateOrder(ctx, req, key)
	if err != nil {
		p.logger(ctx, "checkout.place_failed", map[string]any{
			"idempotencyKey": key,
			"error":          err.Error(),
			"outOfStock":     domain.IsOutOfStock(err),
			"network":        domain.IsNetwork(err),
		})
		return domain.Order{}, err
	}

	if _, err := store.Clear(ctx); err != nil {
		return order, err
	}
	p.logger(ctx, "checkout.placed", map[string]any{
		"orderId": order.ID,
		"total":   order.TotalPrice,
	})
	return order, nil
}

// OrderKey derives the idempotency key of an order submission from the cart's checkout nonce and
// the request body. Resubmitting an unchanged cart reuses the key; editing it yields a new one.
func OrderKey(nonce string, req domain.OrderRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("checkout: order key: %w", err)
	}
	sum := sha256.New()
	sum.Write([]byte(nonce))
	sum.Write([]byte{0})
	sum.Write(body)
	return "order-" + hex.EncodeToString(sum.Sum(nil)), nil
}

func checkPreconditions(c domain.Cart) error {
	fields := map[string]string{}
	if len(c.Items) == 0 {
		fields["cartItems"] = "cart is empty"
	}
	if c.ShippingAddress == nil {
		fields["shippingAddress"] = "is required"
	} else if err := c.ShippingAddress.Validate(); err != nil {
		fields["shippingAddress"] = "is incomplete"
	}
	if c.PaymentMethod == "" {
		fields["paymentMethod"] = "is required"
	}
	if len(fields) > 0 {
		return &domain.ValidationError{Fields: fields}
	}
	return nil
}
