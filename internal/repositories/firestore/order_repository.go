package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/tealshop/storefront/internal/domain"
	pfirestore "github.com/tealshop/storefront/internal/platform/firestore"
	"github.com/tealshop/storefront/internal/platform/pagination"
	"github.com/tealshop/storefront/internal/repositories"
)

const (
	orderCollection      = "orders"
	defaultOrderPageSize = 20
)

type orderItemDocument struct {
	ProductID string  `firestore:"productId"`
	Slug      string  `firestore:"slug"`
	Name      string  `firestore:"name"`
	Image     string  `firestore:"image,omitempty"`
	Price     float64 `firestore:"price"`
	Quantity  int     `firestore:"quantity"`
}

type addressDocument struct {
	FullName   string `firestore:"fullName"`
	Address    string `firestore:"address"`
	City       string `firestore:"city"`
	PostalCode string `firestore:"postalCode"`
	Country    string `firestore:"country"`
}

type paymentResultDocument struct {
	Provider  string `firestore:"provider"`
	Reference string `firestore:"reference"`
	Status    string `firestore:"status"`
	Email     string `firestore:"email,omitempty"`
}

type orderDocument struct {
	UserID          string                 `firestore:"user"`
	Items           []orderItemDocument    `firestore:"orderItems"`
	ShippingAddress addressDocument        `firestore:"shippingAddress"`
	PaymentMethod   string                 `firestore:"paymentMethod"`
	PaymentResult   *paymentResultDocument `firestore:"paymentResult,omitempty"`
	ItemsPrice      float64                `firestore:"itemsPrice"`
	ShippingPrice   float64                `firestore:"shippingPrice"`
	TaxPrice        float64                `firestore:"taxPrice"`
	TotalPrice      float64                `firestore:"totalPrice"`
	IsPaid          bool                   `firestore:"isPaid"`
	PaidAt          *time.Time             `firestore:"paidAt,omitempty"`
	IsDelivered     bool                   `firestore:"isDelivered"`
	DeliveredAt     *time.Time             `firestore:"deliveredAt,omitempty"`
	CreatedAt       time.Time              `firestore:"createdAt"`
	UpdatedAt       time.Time              `firestore:"updatedAt"`
}

func orderDocumentFrom(o domain.Order) orderDocument {
	doc := orderDocument{
		UserID: o.UserID,
		ShippingAddress: addressDocument{
			FullName:   o.ShippingAddress.FullName,
			Address:    o.ShippingAddress.Address,
			City:       o.ShippingAddress.City,
			PostalCode: o.ShippingAddress.PostalCode,
			Country:    o.ShippingAddress.Country,
		},
		PaymentMethod: string(o.PaymentMethod),
		ItemsPrice:    o.ItemsPrice,
		ShippingPrice: o.ShippingPrice,
		TaxPrice:      o.TaxPrice,
		TotalPrice:    o.TotalPrice,
		IsPaid:        o.IsPaid,
		PaidAt:        o.PaidAt,
		IsDelivered:   o.IsDelivered,
		DeliveredAt:   o.DeliveredAt,
		CreatedAt:     o.CreatedAt.UTC(),
		UpdatedAt:     o.UpdatedAt.UTC(),
	}
	for _, item := range o.Items {
		doc.Items = append(doc.Items, orderItemDocument(item))
	}
	if o.PaymentResult != nil {
		result := paymentResultDocument(*o.PaymentResult)
		doc.PaymentResult = &result
	}
	return doc
}

func (d orderDocument) toDomain(id string) domain.Order {
	order := domain.Order{
		ID:              id,
		UserID:          d.UserID,
		ShippingAddress: domain.Address(d.ShippingAddress),
		PaymentMethod:   domain.PaymentMethod(d.PaymentMethod),
		ItemsPrice:      d.ItemsPrice,
		ShippingPrice:   d.ShippingPrice,
		TaxPrice:        d.TaxPrice,
		TotalPrice:      d.TotalPrice,
		IsPaid:          d.IsPaid,
		PaidAt:          d.PaidAt,
		IsDelivered:     d.IsDelivered,
		DeliveredAt:     d.DeliveredAt,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
	for _, item := range d.Items {
		order.Items = append(order.Items, domain.OrderItem(item))
	}
	if d.PaymentResult != nil {
		result := domain.PaymentResult(*d.PaymentResult)
		order.PaymentResult = &result
	}
	return order
}

// OrderRepository stores orders and owns the stock decrement that commits them.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.BaseRepository[orderDocument]
	products *pfirestore.BaseRepository[productDocument]
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository binds the repository to provider.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		orders:   pfirestore.NewBaseRepository[orderDocument](provider, orderCollection),
		products: pfirestore.NewBaseRepository[productDocument](provider, productCollection),
	}, nil
}

// Place implements repositories.OrderRepository. Every product is read before anything is
// written, so a shortage on any line leaves stock and orders untouched. Firestore retries the
// transaction on contention, and the retry sees the stock left by the winning writer.
func (r *OrderRepository) Place(ctx context.Context, req repositories.PlacementRequest) (domain.Order, error) {
	order := req.Order
	if strings.TrimSpace(order.ID) == "" {
		return domain.Order{}, errors.New("order place: order id is required")
	}
	lines, err := mergeLines(req.Lines)
	if err != nil {
		return domain.Order{}, err
	}
	now := time.Now().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = order.CreatedAt
	}

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		refs := make([]*firestore.DocumentRef, len(lines))
		for i, line := range lines {
			ref, err := r.products.DocumentRef(ctx, line.ProductID)
			if err != nil {
				return err
			}
			refs[i] = ref
		}
		snaps, err := tx.GetAll(refs)
		if err != nil {
			return err
		}

		docs := make([]productDocument, len(lines))
		var shortages []domain.StockShortage
		for i, snap := range snaps {
			line := lines[i]
			if !snap.Exists() {
				shortages = append(shortages, domain.StockShortage{ProductID: line.ProductID, Requested: line.Quantity})
				continue
			}
			if err := snap.DataTo(&docs[i]); err != nil {
				return fmt.Errorf("decode product %s: %w", line.ProductID, err)
			}
			if docs[i].Stock < line.Quantity {
				shortages = append(shortages, domain.StockShortage{
					ProductID: line.ProductID,
					Slug:      docs[i].Slug,
					Name:      docs[i].Name,
					Requested: line.Quantity,
					Available: docs[i].Stock,
				})
			}
		}
		if len(shortages) > 0 {
			return &domain.OutOfStockError{Items: shortages}
		}

		for i, line := range lines {
			if err := tx.Update(refs[i], []firestore.Update{
				{Path: "stock", Value: docs[i].Stock - line.Quantity},
				{Path: "updatedAt", Value: now},
			}); err != nil {
				return err
			}
		}
		orderRef, err := r.orders.DocumentRef(ctx, order.ID)
		if err != nil {
			return err
		}
		return tx.Create(orderRef, orderDocumentFrom(order))
	})
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.place", err)
	}
	return order, nil
}

// FindByID loads one order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.orders.Get(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// List returns orders newest first, optionally for one user.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	size := filter.Pagination.PageSize
	if size <= 0 {
		size = defaultOrderPageSize
	}
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	startAfter, err := orderCursor(cursor)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		if userID := strings.TrimSpace(filter.UserID); userID != "" {
			q = q.Where("user", "==", userID)
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if startAfter != nil {
			q = q.StartAfter(startAfter...)
		}
		return q.Limit(size + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	page := domain.CursorPage[domain.Order]{}
	for i, doc := range docs {
		if i == size {
			break
		}
		page.Items = append(page.Items, doc.Data.toDomain(doc.ID))
	}
	if len(docs) > size {
		last := page.Items[len(page.Items)-1]
		token, err := pagination.EncodeToken(pagination.Cursor{StartAfter: []any{last.CreatedAt.UTC().Format(time.RFC3339Nano), last.ID}})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		page.NextPageToken = token
	}
	return page, nil
}

// MarkPaid records the payment. Marking an already paid order returns it unchanged.
func (r *OrderRepository) MarkPaid(ctx context.Context, orderID string, result domain.PaymentResult, paidAt time.Time) (domain.Order, error) {
	paidAt = paidAt.UTC()
	return r.mutate(ctx, "orders.markPaid", orderID, func(doc *orderDocument) bool {
		if doc.IsPaid {
			return false
		}
		payment := paymentResultDocument(result)
		doc.IsPaid = true
		doc.PaidAt = &paidAt
		doc.PaymentResult = &payment
		doc.UpdatedAt = paidAt
		return true
	})
}

// MarkDelivered records delivery. Marking an already delivered order returns it unchanged.
func (r *OrderRepository) MarkDelivered(ctx context.Context, orderID string, deliveredAt time.Time) (domain.Order, error) {
	deliveredAt = deliveredAt.UTC()
	return r.mutate(ctx, "orders.markDelivered", orderID, func(doc *orderDocument) bool {
		if doc.IsDelivered {
			return false
		}
		doc.IsDelivered = true
		doc.DeliveredAt = &deliveredAt
		doc.UpdatedAt = deliveredAt
		return true
	})
}

func (r *OrderRepository) mutate(ctx context.Context, op, orderID string, apply func(*orderDocument) bool) (domain.Order, error) {
	ref, err := r.orders.DocumentRef(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	var order domain.Order
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode order %s: %w", ref.ID, err)
		}
		if apply(&doc) {
			if err := tx.Set(ref, doc); err != nil {
				return err
			}
		}
		order = doc.toDomain(ref.ID)
		return nil
	})
	if err != nil {
		return domain.Order{}, pfirestore.WrapError(op, err)
	}
	return order, nil
}

// mergeLines folds duplicate products so each document is read and written once.
func mergeLines(lines []repositories.PlacementLine) ([]repositories.PlacementLine, error) {
	if len(lines) == 0 {
		return nil, errors.New("order place: at least one line is required")
	}
	index := make(map[string]int, len(lines))
	merged := make([]repositories.PlacementLine, 0, len(lines))
	for _, line := range lines {
		id := strings.TrimSpace(line.ProductID)
		if id == "" || line.Quantity <= 0 {
			return nil, fmt.Errorf("order place: invalid line %+v", line)
		}
		if i, ok := index[id]; ok {
			merged[i].Quantity += line.Quantity
			continue
		}
		index[id] = len(merged)
		merged = append(merged, repositories.PlacementLine{ProductID: id, Quantity: line.Quantity})
	}
	return merged, nil
}

func orderCursor(cursor pagination.Cursor) ([]any, error) {
	if len(cursor.StartAfter) == 0 {
		return nil, nil
	}
	if len(cursor.StartAfter) != 2 {
		return nil, pagination.ErrInvalidPageToken
	}
	raw, _ := cursor.StartAfter[0].(string)
	id, _ := cursor.StartAfter[1].(string)
	createdAt, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil || id == "" {
		return nil, pagination.ErrInvalidPageToken
	}
	return []any{createdAt, id}, nil
}

// notFound builds the repository error returned for missing documents found by query.
func notFound(op, format string, args ...any) error {
	return pfirestore.WrapError(op, status.Errorf(codes.NotFound, format, args...))
}
