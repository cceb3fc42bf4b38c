package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	domain "github.com/tealshop/storefront/internal/domain"
)

// EventOrderPlaced is the type attribute of placement events.
const EventOrderPlaced = "order.placed"

// OrderPlacedEvent is the payload published after an order commits.
type OrderPlacedEvent struct {
	Type          string                 `json:"type"`
	OrderID       string                 `json:"orderId"`
	UserID        string                 `json:"userId"`
	PaymentMethod domain.PaymentMethod   `json:"paymentMethod"`
	Items         []OrderPlacedEventItem `json:"items"`
	TotalPrice    float64                `json:"totalPrice"`
	PlacedAt      time.Time              `json:"placedAt"`
}

// OrderPlacedEventItem is one decremented stock line.
type OrderPlacedEventItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// PubSubOrderPublisher publishes order lifecycle events to a Pub/Sub topic.
type PubSubOrderPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubOrderPublisher wraps topic.
func NewPubSubOrderPublisher(topic *pubsub.Topic) (*PubSubOrderPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub order publisher: topic is required")
	}
	return &PubSubOrderPublisher{topic: topic, marshal: json.Marshal}, nil
}

// PublishOrderPlaced publishes an order.placed event keyed by order id and waits for the server ack.
func (p *PubSubOrderPublisher) PublishOrderPlaced(ctx context.Context, order domain.Order) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub order publisher: not initialised")
	}

	event := OrderPlacedEvent{
		Type:          EventOrderPlaced,
		OrderID:       order.ID,
		UserID:        order.UserID,
		PaymentMethod: order.PaymentMethod,
		TotalPrice:    order.TotalPrice,
		PlacedAt:      order.CreatedAt.UTC(),
	}
	for _, item := range order.Items {
		event.Items = append(event.Items, OrderPlacedEventItem{ProductID: item.ProductID, Quantity: item.Quantity})
	}

	data, err := p.marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal order event: %w", err)
	}

	attrs := map[string]string{"type": EventOrderPlaced}
	setAttr(attrs, "orderId", order.ID)
	setAttr(attrs, "userId", order.UserID)
	setAttr(attrs, "paymentMethod", string(order.PaymentMethod))
	attrs["total"] = strconv.FormatFloat(order.TotalPrice, 'f', 2, 64)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		Attributes:  attrs,
		OrderingKey: order.ID,
	})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish order event: %w", err)
	}
	return id, nil
}

// Stop flushes pending messages.
func (p *PubSubOrderPublisher) Stop() {
	if p != nil && p.topic != nil {
		p.topic.Stop()
	}
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
