package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	domain "github.com/tealshop/storefront/internal/domain"
	"github.com/tealshop/storefront/internal/platform/textutil"
	"github.com/tealshop/storefront/internal/repositories"
)

const (
	orderIDPrefix = "ord_"

	maxLineQuantity = 1000
	maxOrderLines   = 100
)

var (
	// ErrOrderInvalidInput indicates the caller omitted data the service cannot default.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order does not exist.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderForbidden indicates the caller neither owns the order nor is an admin.
	ErrOrderForbidden = errors.New("order: forbidden")
	// ErrOrderConflict indicates the order changed underneath the caller.
	ErrOrderConflict = errors.New("order: conflict")
)

// OrderEventPublisher emits order lifecycle events after commit.
type OrderEventPublisher interface {
	PublishOrderPlaced(ctx context.Context, order domain.Order) (string, error)
}

// OrderMetricsRecorder counts placement outcomes.
type OrderMetricsRecorder interface {
	Placed(ctx context.Context, paymentMethod string, total float64, units int)
	Rejected(ctx context.Context, reason string)
}

// OrderServiceDeps bundles constructor inputs for the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Products    repositories.ProductRepository
	Pricing     domain.PricingPolicy
	Clock       func() time.Time
	IDGenerator func() string
	Events      OrderEventPublisher
	Metrics     OrderMetricsRecorder
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders   repositories.OrderRepository
	products repositories.ProductRepository
	pricing  domain.PricingPolicy
	clock    func() time.Time
	newID    func() string
	events   OrderEventPublisher
	metrics  OrderMetricsRecorder
	logger   func(ctx context.Context, event string, fields map[string]any)
}

// NewOrderService constructs an OrderService backed by the provided repositories.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("order service: product repository is required")
	}

	pricing := deps.Pricing
	if pricing == (domain.PricingPolicy{}) {
		pricing = domain.DefaultPricingPolicy()
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return strings.ToLower(ulid.Make().String())
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:   deps.Orders,
		products: deps.Products,
		pricing:  pricing,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:   idGen,
		events:  deps.Events,
		metrics: deps.Metrics,
		logger:  logger,
	}, nil
}

func (s *orderService) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (Order, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Order{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}

	req := cmd.Request
	address := textutil.CleanAddress(req.ShippingAddress)
	method, err := validateOrderRequest(req, address)
	if err != nil {
		s.recordRejected(ctx, "validation")
		return Order{}, err
	}

	products, err := s.loadProducts(ctx, req.OrderItems)
	if err != nil {
		return Order{}, err
	}

	items := make([]domain.OrderItem, 0, len(req.OrderItems))
	lines := make([]repositories.PlacementLine, 0, len(req.OrderItems))
	var shortages []domain.StockShortage
	units := 0
	for _, line := range req.OrderItems {
		product, ok := products[line.ProductID]
		if !ok {
			shortages = append(shortages, domain.StockShortage{
				ProductID: line.ProductID,
				Slug:      line.Slug,
				Name:      line.Name,
				Requested: line.Quantity,
			})
			continue
		}
		items = append(items, domain.OrderItem{
			ProductID: product.ID,
			Slug:      product.Slug,
			Name:      product.Name,
			Image:     product.Image,
			Price:     product.Price,
			Quantity:  line.Quantity,
		})
		lines = append(lines, repositories.PlacementLine{ProductID: product.ID, Quantity: line.Quantity})
		units += line.Quantity
	}
	if len(shortages) > 0 {
		s.recordRejected(ctx, "out_of_stock")
		return Order{}, &domain.OutOfStockError{Items: shortages}
	}

	breakdown := s.pricing.ComputeOrderItems(items)
	if req.TotalPrice != 0 && !breakdown.Equal(req.PriceBreakdown) {
		s.logger(ctx, "order.price_mismatch", map[string]any{
			"userId":      userID,
			"clientTotal": req.TotalPrice,
			"serverTotal": breakdown.TotalPrice,
		})
	}

	now := s.clock()
	order := domain.Order{
		ID:              orderIDPrefix + s.newID(),
		UserID:          userID,
		Items:           items,
		ShippingAddress: address,
		PaymentMethod:   method,
		ItemsPrice:      breakdown.ItemsPrice,
		ShippingPrice:   breakdown.ShippingPrice,
		TaxPrice:        breakdown.TaxPrice,
		TotalPrice:      breakdown.TotalPrice,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	placed, err := s.orders.Place(ctx, repositories.PlacementRequest{Order: order, Lines: lines})
	if err != nil {
		if domain.IsOutOfStock(err) {
			s.recordRejected(ctx, "out_of_stock")
			return Order{}, err
		}
		s.recordRejected(ctx, "error")
		return Order{}, s.mapRepositoryError("orders.place", err)
	}

	if s.metrics != nil {
		s.metrics.Placed(ctx, string(placed.PaymentMethod), placed.TotalPrice, units)
	}
	s.logger(ctx, "order.placed", map[string]any{
		"orderId": placed.ID,
		"userId":  placed.UserID,
		"total":   placed.TotalPrice,
		"lines":   len(placed.Items),
	})
	s.publishPlaced(ctx, placed)
	return placed, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string, actor Actor) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError("orders.get", err)
	}
	if !actor.IsAdmin && order.UserID != actor.UserID {
		return Order{}, ErrOrderForbidden
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	userID := strings.TrimSpace(filter.UserID)
	if userID == "" {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	page, err := s.orders.List(ctx, repositories.OrderListFilter{UserID: userID, Pagination: filter.Pagination})
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError("orders.list", err)
	}
	return page, nil
}

func (s *orderService) MarkPaid(ctx context.Context, cmd MarkPaidCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(cmd.Result.Provider) == "" {
		return Order{}, fmt.Errorf("%w: payment provider is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.MarkPaid(ctx, orderID, cmd.Result, s.clock())
	if err != nil {
		return Order{}, s.mapRepositoryError("orders.mark_paid", err)
	}
	s.logger(ctx, "order.paid", map[string]any{
		"orderId":   order.ID,
		"provider":  cmd.Result.Provider,
		"reference": cmd.Result.Reference,
	})
	return order, nil
}

func (s *orderService) MarkDelivered(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.MarkDelivered(ctx, orderID, s.clock())
	if err != nil {
		return Order{}, s.mapRepositoryError("orders.mark_delivered", err)
	}
	s.logger(ctx, "order.delivered", map[string]any{"orderId": order.ID})
	return order, nil
}

// loadProducts reads every distinct product concurrently. Missing products are left out of the
// result so the caller can report them as unavailable.
func (s *orderService) loadProducts(ctx context.Context, lines []domain.LineItem) (map[string]domain.Product, error) {
	var (
		mu       sync.Mutex
		products = make(map[string]domain.Product, len(lines))
		seen     = make(map[string]struct{}, len(lines))
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(8)
	for _, line := range lines {
		if _, ok := seen[line.ProductID]; ok {
			continue
		}
		seen[line.ProductID] = struct{}{}
		productID := line.ProductID
		group.Go(func() error {
			product, err := s.products.FindByID(groupCtx, productID)
			if err != nil {
				var repoErr repositories.RepositoryError
				if errors.As(err, &repoErr) && repoErr.IsNotFound() {
					return nil
				}
				return err
			}
			mu.Lock()
			products[productID] = product
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, s.mapRepositoryError("orders.load_products", err)
	}
	return products, nil
}

func (s *orderService) publishPlaced(ctx context.Context, order domain.Order) {
	if s.events == nil {
		return
	}
	if _, err := s.events.PublishOrderPlaced(ctx, order); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
	}
}

func (s *orderService) recordRejected(ctx context.Context, reason string) {
	if s.metrics != nil {
		s.metrics.Rejected(ctx, reason)
	}
}

func (s *orderService) mapRepositoryError(op string, err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return &domain.NetworkError{Op: op, Err: err}
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &domain.NetworkError{Op: op, Err: err}
	}
	return err
}

// validateOrderRequest collects every field problem so the client can show them together.
func validateOrderRequest(req domain.OrderRequest, address domain.Address) (domain.PaymentMethod, error) {
	fields := map[string]string{}
	if len(req.OrderItems) == 0 {
		fields["orderItems"] = "must contain at least one item"
	}
	if len(req.OrderItems) > maxOrderLines {
		fields["orderItems"] = fmt.Sprintf("must contain at most %d items", maxOrderLines)
	}
	for i, item := range req.OrderItems {
		if strings.TrimSpace(item.ProductID) == "" {
			fields[fmt.Sprintf("orderItems[%d].productId", i)] = "is required"
		}
		if item.Quantity < 1 || item.Quantity > maxLineQuantity {
			fields[fmt.Sprintf("orderItems[%d].quantity", i)] = fmt.Sprintf("must be between 1 and %d", maxLineQuantity)
		}
	}

	var addrErr *domain.ValidationError
	if err := address.Validate(); errors.As(err, &addrErr) {
		for name, message := range addrErr.Fields {
			fields["shippingAddress."+name] = message
		}
	}

	method, ok := domain.ParsePaymentMethod(string(req.PaymentMethod))
	if !ok {
		fields["paymentMethod"] = "must be one of PayPal, Stripe, CashOnDelivery"
	}

	if len(fields) > 0 {
		return "", &domain.ValidationError{Fields: fields}
	}
	return method, nil
}
