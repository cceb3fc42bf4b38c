package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/tealshop/storefront/internal/domain"
	pfirestore "github.com/tealshop/storefront/internal/platform/firestore"
	"github.com/tealshop/storefront/internal/platform/pagination"
	"github.com/tealshop/storefront/internal/repositories"
)

const (
	productCollection      = "products"
	defaultProductPageSize = 24
)

// ProductSortFields are the fields a listing may be ordered by.
var ProductSortFields = []string{"name", "price", "rating"}

type productDocument struct {
	Name        string    `firestore:"name"`
	Slug        string    `firestore:"slug"`
	Category    string    `firestore:"category"`
	Brand       string    `firestore:"brand"`
	Image       string    `firestore:"image"`
	Price       float64   `firestore:"price"`
	Stock       int       `firestore:"stock"`
	Rating      float64   `firestore:"rating"`
	NumReviews  int       `firestore:"numReviews"`
	Description string    `firestore:"description"`
	CreatedAt   time.Time `firestore:"createdAt"`
	UpdatedAt   time.Time `firestore:"updatedAt"`
}

func (d productDocument) toDomain(id string) domain.Product {
	return domain.Product{
		ID:          id,
		Name:        d.Name,
		Slug:        d.Slug,
		Category:    d.Category,
		Brand:       d.Brand,
		Image:       d.Image,
		Price:       d.Price,
		Stock:       d.Stock,
		Rating:      d.Rating,
		NumReviews:  d.NumReviews,
		Description: d.Description,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

func productDocumentFrom(p domain.Product) productDocument {
	return productDocument{
		Name:        p.Name,
		Slug:        p.Slug,
		Category:    p.Category,
		Brand:       p.Brand,
		Image:       p.Image,
		Price:       p.Price,
		Stock:       p.Stock,
		Rating:      p.Rating,
		NumReviews:  p.NumReviews,
		Description: p.Description,
		CreatedAt:   p.CreatedAt.UTC(),
		UpdatedAt:   p.UpdatedAt.UTC(),
	}
}

// ProductRepository reads the catalogue from the products collection.
type ProductRepository struct {
	base *pfirestore.BaseRepository[productDocument]
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

// NewProductRepository binds the repository to provider.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	return &ProductRepository{base: pfirestore.NewBaseRepository[productDocument](provider, productCollection)}, nil
}

// FindByID loads one product including its live stock.
func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, errors.New("product id is required")
	}
	doc, err := r.base.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindBySlug loads the product with the given slug.
func (r *ProductRepository) FindBySlug(ctx context.Context, slug string) (domain.Product, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return domain.Product{}, errors.New("product slug is required")
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("slug", "==", slug).Limit(1)
	})
	if err != nil {
		return domain.Product{}, err
	}
	if len(docs) == 0 {
		return domain.Product{}, notFound("products.findBySlug", "product %q not found", slug)
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

// List pages through the catalogue ordered by filter.OrderBy then document id.
func (r *ProductRepository) List(ctx context.Context, filter repositories.ProductFilter) (domain.CursorPage[domain.Product], error) {
	orderBy := filter.OrderBy
	if orderBy == "" {
		orderBy = "name"
	}
	if !contains(ProductSortFields, orderBy) {
		return domain.CursorPage[domain.Product]{}, fmt.Errorf("products: cannot order by %q", orderBy)
	}
	direction := firestore.Asc
	if filter.Desc {
		direction = firestore.Desc
	}
	size := filter.PageSize
	if size <= 0 {
		size = defaultProductPageSize
	}
	cursor, err := pagination.DecodeToken(filter.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Product]{}, err
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if category := strings.TrimSpace(filter.Category); category != "" {
			q = q.Where("category", "==", category)
		}
		q = q.OrderBy(orderBy, direction).OrderBy(firestore.DocumentID, direction)
		if len(cursor.StartAfter) == 2 {
			q = q.StartAfter(cursor.StartAfter...)
		}
		return q.Limit(size + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Product]{}, err
	}

	page := domain.CursorPage[domain.Product]{Items: make([]domain.Product, 0, min(len(docs), size))}
	for i, doc := range docs {
		if i == size {
			break
		}
		page.Items = append(page.Items, doc.Data.toDomain(doc.ID))
	}
	if len(docs) > size {
		last := page.Items[len(page.Items)-1]
		token, err := pagination.EncodeToken(pagination.Cursor{StartAfter: []any{sortValue(last, orderBy), last.ID}})
		if err != nil {
			return domain.CursorPage[domain.Product]{}, err
		}
		page.NextPageToken = token
	}
	return page, nil
}

// Save upserts a product. Used by seeding and tests.
func (r *ProductRepository) Save(ctx context.Context, product domain.Product) error {
	if strings.TrimSpace(product.ID) == "" {
		return errors.New("product id is required")
	}
	return r.base.Set(ctx, product.ID, productDocumentFrom(product))
}

func sortValue(p domain.Product, field string) any {
	switch field {
	case "price":
		return p.Price
	case "rating":
		return p.Rating
	default:
		return p.Name
	}
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
