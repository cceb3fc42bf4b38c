package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/tealshop/storefront"

// OrderMetrics records order placement outcomes.
type OrderMetrics struct {
	placed     metric.Int64Counter
	rejected   metric.Int64Counter
	revenue    metric.Float64Counter
	unitsMoved metric.Int64Counter
}

// NewOrderMetrics registers the order instruments on the global meter provider.
func NewOrderMetrics() (*OrderMetrics, error) {
	meter := otel.Meter(meterName)
	placed, err := meter.Int64Counter("storefront.orders.placed", metric.WithDescription("Orders committed"))
	if err != nil {
		return nil, err
	}
	rejected, err := meter.Int64Counter("storefront.orders.rejected", metric.WithDescription("Placements refused, by reason"))
	if err != nil {
		return nil, err
	}
	revenue, err := meter.Float64Counter("storefront.orders.revenue", metric.WithDescription("Sum of order totals"))
	if err != nil {
		return nil, err
	}
	units, err := meter.Int64Counter("storefront.stock.units_decremented", metric.WithDescription("Units removed from stock by placements"))
	if err != nil {
		return nil, err
	}
	return &OrderMetrics{placed: placed, rejected: rejected, revenue: revenue, unitsMoved: units}, nil
}

// Placed records a committed order.
func (m *OrderMetrics) Placed(ctx context.Context, paymentMethod string, total float64, units int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("payment_method", paymentMethod))
	m.placed.Add(ctx, 1, attrs)
	m.revenue.Add(ctx, total, attrs)
	m.unitsMoved.Add(ctx, int64(units))
}

// Rejected records a refused placement.
func (m *OrderMetrics) Rejected(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
