package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	domain "github.com/tealshop/storefront/internal/domain"
	"github.com/tealshop/storefront/internal/repositories"
)

type stubOrderRepo struct {
	mu        sync.Mutex
	placed    []repositories.PlacementRequest
	placeFn   func(context.Context, repositories.PlacementRequest) (domain.Order, error)
	orders    map[string]domain.Order
	listed    repositories.OrderListFilter
	paidAt    time.Time
	paid      domain.PaymentResult
	delivered string
}

func (s *stubOrderRepo) Place(ctx context.Context, req repositories.PlacementRequest) (domain.Order, error) {
	s.mu.Lock()
	s.placed = append(s.placed, req)
	s.mu.Unlock()
	if s.placeFn != nil {
		return s.placeFn(ctx, req)
	}
	return req.Order, nil
}

func (s *stubOrderRepo) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	order, ok := s.orders[orderID]
	if !ok {
		return domain.Order{}, repoError{notFound: true}
	}
	return order, nil
}

func (s *stubOrderRepo) List(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	s.listed = filter
	return domain.CursorPage[domain.Order]{Items: []domain.Order{{ID: "ord_1"}}}, nil
}

func (s *stubOrderRepo) MarkPaid(_ context.Context, orderID string, result domain.PaymentResult, paidAt time.Time) (domain.Order, error) {
	order, ok := s.orders[orderID]
	if !ok {
		return domain.Order{}, repoError{notFound: true}
	}
	s.paid, s.paidAt = result, paidAt
	order.IsPaid = true
	order.PaidAt = &paidAt
	order.PaymentResult = &result
	s.orders[orderID] = order
	return order, nil
}

func (s *stubOrderRepo) MarkDelivered(_ context.Context, orderID string, at time.Time) (domain.Order, error) {
	order, ok := s.orders[orderID]
	if !ok {
		return domain.Order{}, repoError{notFound: true}
	}
	s.delivered = orderID
	order.IsDelivered = true
	order.DeliveredAt = &at
	return order, nil
}

type stubPublisher struct {
	orders []domain.Order
	err    error
}

func (s *stubPublisher) PublishOrderPlaced(_ context.Context, order domain.Order) (string, error) {
	s.orders = append(s.orders, order)
	return "msg-1", s.err
}

type stubMetrics struct {
	placed   int
	units    int
	rejected []string
}

func (s *stubMetrics) Placed(_ context.Context, _ string, _ float64, units int) {
	s.placed++
	s.units += units
}

func (s *stubMetrics) Rejected(_ context.Context, reason string) {
	s.rejected = append(s.rejected, reason)
}

type logEntry struct {
	event  string
	fields map[string]any
}

type orderFixture struct {
	svc       OrderService
	orders    *stubOrderRepo
	publisher *stubPublisher
	metrics   *stubMetrics
	logs      *[]logEntry
}

var orderNow = time.Date(2024, time.March, 1, 9, 30, 0, 0, time.UTC)

func newOrderFixture(t *testing.T) orderFixture {
	t.Helper()
	products := &stubProductRepo{products: map[string]domain.Product{
		"p-lamp":  {ID: "p-lamp", Slug: "lamp", Name: "Lamp", Price: 49.99, Stock: 5, Image: "lamp.jpg"},
		"p-chair": {ID: "p-chair", Slug: "chair", Name: "Chair", Price: 120, Stock: 1},
	}}
	orders := &stubOrderRepo{orders: map[string]domain.Order{}}
	publisher := &stubPublisher{}
	metrics := &stubMetrics{}
	logs := &[]logEntry{}
	var mu sync.Mutex

	svc, err := NewOrderService(OrderServiceDeps{
		Orders:      orders,
		Products:    products,
		Clock:       func() time.Time { return orderNow },
		IDGenerator: func() string { return "01test" },
		Events:      publisher,
		Metrics:     metrics,
		Logger: func(_ context.Context, event string, fields map[string]any) {
			mu.Lock()
			defer mu.Unlock()
			*logs = append(*logs, logEntry{event: event, fields: fields})
		},
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	return orderFixture{svc: svc, orders: orders, publisher: publisher, metrics: metrics, logs: logs}
}

func validOrderRequest() domain.OrderRequest {
	return domain.OrderRequest{
		OrderItems: []domain.LineItem{
			{ProductID: "p-lamp", Slug: "lamp", Name: "Lamp", Price: 49.99, Quantity: 2},
		},
		ShippingAddress: domain.Address{FullName: "Ada Lovelace", Address: "1 Analytical St", City: "London", PostalCode: "N1", Country: "UK"},
		PaymentMethod:   domain.PaymentMethodPayPal,
		PriceBreakdown:  domain.PriceBreakdown{ItemsPrice: 99.98, ShippingPrice: 15, TaxPrice: 15, TotalPrice: 129.98},
	}
}

func TestOrderServicePlaceOrderPricesFromCatalogue(t *testing.T) {
	fx := newOrderFixture(t)

	order, err := fx.svc.PlaceOrder(context.Background(), PlaceOrderCommand{UserID: "u-1", Request: validOrderRequest()})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if order.ID != "ord_01test" || order.UserID != "u-1" {
		t.Fatalf("unexpected identity %s/%s", order.ID, order.UserID)
	}
	if order.ItemsPrice != 99.98 || order.ShippingPrice != 15 || order.TaxPrice != 15 || order.TotalPrice != 129.98 {
		t.Fatalf("unexpected breakdown %+v", order.Breakdown())
	}
	if order.Items[0].Image != "lamp.jpg" || order.CreatedAt != orderNow {
		t.Fatalf("expected catalogue snapshot, got %+v", order.Items[0])
	}

	if len(fx.orders.placed) != 1 {
		t.Fatalf("expected one placement, got %d", len(fx.orders.placed))
	}
	lines := fx.orders.placed[0].Lines
	if len(lines) != 1 || lines[0].ProductID != "p-lamp" || lines[0].Quantity != 2 {
		t.Fatalf("unexpected lines %+v", lines)
	}
	if len(fx.publisher.orders) != 1 || fx.publisher.orders[0].ID != order.ID {
		t.Fatal("expected order.placed event")
	}
	if fx.metrics.placed != 1 || fx.metrics.units != 2 {
		t.Fatalf("unexpected metrics %+v", fx.metrics)
	}
}

func TestOrderServiceIgnoresClientPrices(t *testing.T) {
	fx := newOrderFixture(t)
	req := validOrderRequest()
	req.OrderItems[0].Price = 0.01
	req.PriceBreakdown = domain.PriceBreakdown{ItemsPrice: 0.02, ShippingPrice: 15, TaxPrice: 0, TotalPrice: 15.02}

	order, err := fx.svc.PlaceOrder(context.Background(), PlaceOrderCommand{UserID: "u-1", Request: req})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if order.Items[0].Price != 49.99 || order.TotalPrice != 129.98 {
		t.Fatalf("expected server prices, got %+v", order)
	}

	found := false
	for _, entry := range *fx.logs {
		if entry.event == "order.price_mismatch" {
			found = true
			if entry.fields["clientTotal"] != 15.02 || entry.fields["serverTotal"] != 129.98 {
				t.Fatalf("unexpected mismatch fields %+v", entry.fields)
			}
		}
	}
	if !found {
		t.Fatal("expected price mismatch log")
	}
}

func TestOrderServiceValidatesRequest(t *testing.T) {
	fx := newOrderFixture(t)
	req := domain.OrderRequest{
		OrderItems:      []domain.LineItem{{ProductID: "p-lamp", Quantity: 0}},
		ShippingAddress: domain.Address{FullName: "<b></b>", City: "Paris"},
		PaymentMethod:   "Bitcoin",
	}

	_, err := fx.svc.PlaceOrder(context.Background(), PlaceOrderCommand{UserID: "u-1", Request: req})
	var validation *domain.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	for _, field := range []string{"orderItems[0].quantity", "shippingAddress.fullName", "shippingAddress.address", "paymentMethod"} {
		if _, ok := validation.Fields[field]; !ok {
			t.Fatalf("expected field %s in %+v", field, validation.Fields)
		}
	}
	if len(fx.orders.placed) != 0 {
		t.Fatal("placement must not run for invalid input")
	}
	if len(fx.metrics.rejected) != 1 || fx.metrics.rejected[0] != "validation" {
		t.Fatalf("unexpected rejections %v", fx.metrics.rejected)
	}
}

func TestOrderServiceRequiresUser(t *testing.T) {
	fx := newOrderFixture(t)
	_, err := fx.svc.PlaceOrder(context.Background(), PlaceOrderCommand{Request: validOrderRequest()})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput, got %v", err)
	}
}

func TestOrderServiceUnknownProductIsOutOfStock(t *testing.T) {
	fx := newOrderFixture(t)
	req := validOrderRequest()
	req.OrderItems = append(req.OrderItems, domain.LineItem{ProductID: "p-gone", Name: "Gone", Quantity: 1})

	_, err := fx.svc.PlaceOrder(context.Background(), PlaceOrderCommand{UserID: "u-1", Request: req})
	var stock *domain.OutOfStockError
	if !errors.As(err, &stock) {
		t.Fatalf("expected out of stock, got %v", err)
	}
	if len(stock.Items) != 1 || stock.Items[0].ProductID != "p-gone" || stock.Items[0].Available != 0 {
		t.Fatalf("unexpected shortages %+v", stock.Items)
	}
	if len(fx.orders.placed) != 0 {
		t.Fatal("placement must not run when a product is missing")
	}
}

func TestOrderServicePropagatesStockShortage(t *testing.T) {
	fx := newOrderFixture(t)
	shortage := &domain.OutOfStockError{Items: []domain.StockShortage{{ProductID: "p-lamp", Requested: 2, Available: 1}}}
	fx.orders.placeFn = func(context.Context, repositories.PlacementRequest) (domain.Order, error) {
		return domain.Order{}, shortage
	}

	_, err := fx.svc.PlaceOrder(context.Background(), PlaceOrderCommand{UserID: "u-1", Request: validOrderRequest()})
	if !errors.Is(err, shortage) {
		t.Fatalf("expected shortage error, got %v", err)
	}
	if len(fx.publisher.orders) != 0 {
		t.Fatal("no event should be published for a failed placement")
	}
	if len(fx.metrics.rejected) != 1 || fx.metrics.rejected[0] != "out_of_stock" {
		t.Fatalf("unexpected rejections %v", fx.metrics.rejected)
	}
}

func TestOrderServiceMapsUnavailableRepository(t *testing.T) {
	fx := newOrderFixture(t)
	fx.orders.placeFn = func(context.Context, repositories.PlacementRequest) (domain.Order, error) {
		return domain.Order{}, repoError{unavailable: true}
	}
	_, err := fx.svc.PlaceOrder(context.Background(), PlaceOrderCommand{UserID: "u-1", Request: validOrderRequest()})
	if !domain.IsNetwork(err) {
		t.Fatalf("expected network error, got %v", err)
	}
}

func TestOrderServicePublishFailureDoesNotFailPlacement(t *testing.T) {
	fx := newOrderFixture(t)
	fx.publisher.err = errors.New("pubsub down")

	if _, err := fx.svc.PlaceOrder(context.Background(), PlaceOrderCommand{UserID: "u-1", Request: validOrderRequest()}); err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	found := false
	for _, entry := range *fx.logs {
		if entry.event == "order.event.publish.failed" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected publish failure to be logged")
	}
}

func TestOrderServiceGetOrderChecksOwnership(t *testing.T) {
	fx := newOrderFixture(t)
	fx.orders.orders["ord_1"] = domain.Order{ID: "ord_1", UserID: "u-1"}

	if _, err := fx.svc.GetOrder(context.Background(), "ord_1", Actor{UserID: "u-1"}); err != nil {
		t.Fatalf("owner should read order: %v", err)
	}
	if _, err := fx.svc.GetOrder(context.Background(), "ord_1", Actor{UserID: "admin", IsAdmin: true}); err != nil {
		t.Fatalf("admin should read order: %v", err)
	}
	if _, err := fx.svc.GetOrder(context.Background(), "ord_1", Actor{UserID: "u-2"}); !errors.Is(err, ErrOrderForbidden) {
		t.Fatalf("expected ErrOrderForbidden, got %v", err)
	}
	if _, err := fx.svc.GetOrder(context.Background(), "ord_x", Actor{UserID: "u-1"}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestOrderServiceListOrdersScopesToUser(t *testing.T) {
	fx := newOrderFixture(t)
	if _, err := fx.svc.ListOrders(context.Background(), OrderListFilter{}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput, got %v", err)
	}
	page, err := fx.svc.ListOrders(context.Background(), OrderListFilter{UserID: "u-1", Pagination: Pagination{PageSize: 5}})
	if err != nil {
		t.Fatalf("ListOrders: %v", err)
	}
	if fx.orders.listed.UserID != "u-1" || fx.orders.listed.Pagination.PageSize != 5 || len(page.Items) != 1 {
		t.Fatalf("unexpected list call %+v", fx.orders.listed)
	}
}

func TestOrderServiceMarkPaidAndDelivered(t *testing.T) {
	fx := newOrderFixture(t)
	fx.orders.orders["ord_1"] = domain.Order{ID: "ord_1", UserID: "u-1"}

	if _, err := fx.svc.MarkPaid(context.Background(), MarkPaidCommand{OrderID: "ord_1"}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected provider to be required, got %v", err)
	}
	order, err := fx.svc.MarkPaid(context.Background(), MarkPaidCommand{
		OrderID: "ord_1",
		Result:  domain.PaymentResult{Provider: "stripe", Reference: "cs_1", Status: "succeeded"},
	})
	if err != nil {
		t.Fatalf("MarkPaid: %v", err)
	}
	if !order.IsPaid || fx.orders.paidAt != orderNow || fx.orders.paid.Reference != "cs_1" {
		t.Fatalf("unexpected paid order %+v", order)
	}

	delivered, err := fx.svc.MarkDelivered(context.Background(), "ord_1")
	if err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}
	if !delivered.IsDelivered || fx.orders.delivered != "ord_1" {
		t.Fatalf("unexpected delivered order %+v", delivered)
	}
}

func TestNewOrderServiceRequiresRepositories(t *testing.T) {
	if _, err := NewOrderService(OrderServiceDeps{}); err == nil {
		t.Fatal("expected error without repositories")
	}
	if _, err := NewOrderService(OrderServiceDeps{Orders: &stubOrderRepo{}}); err == nil {
		t.Fatal("expected error without product repository")
	}
}
