package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/singleflight"

	domain "github.com/tealshop/storefront/internal/domain"
	"github.com/tealshop/storefront/internal/repositories"
)

var (
	// ErrCatalogInvalidInput indicates the caller supplied an empty id or slug.
	ErrCatalogInvalidInput = errors.New("catalog service: invalid input")
	// ErrProductNotFound indicates the product does not exist.
	ErrProductNotFound = errors.New("catalog service: product not found")
)

// ImageResolver turns a stored image reference into a URL the browser can load.
type ImageResolver interface {
	ImageURL(ctx context.Context, image string) (string, error)
}

// CatalogServiceDeps bundles constructor inputs for the catalog service.
type CatalogServiceDeps struct {
	Products repositories.ProductRepository
	Images   ImageResolver
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type catalogService struct {
	products repositories.ProductRepository
	images   ImageResolver
	logger   func(ctx context.Context, event string, fields map[string]any)
	lookups  singleflight.Group
}

// NewCatalogService constructs the catalog service with the supplied dependencies.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Products == nil {
		return nil, fmt.Errorf("catalog service: product repository is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &catalogService{
		products: deps.Products,
		images:   deps.Images,
		logger:   logger,
	}, nil
}

// GetProduct returns the product with live stock. Concurrent lookups of the same id share
// one repository read.
func (s *catalogService) GetProduct(ctx context.Context, productID string) (Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}
	return s.lookup(ctx, "id:"+productID, func(ctx context.Context) (domain.Product, error) {
		return s.products.FindByID(ctx, productID)
	})
}

func (s *catalogService) GetProductBySlug(ctx context.Context, slug string) (Product, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return Product{}, fmt.Errorf("%w: slug is required", ErrCatalogInvalidInput)
	}
	return s.lookup(ctx, "slug:"+slug, func(ctx context.Context) (domain.Product, error) {
		return s.products.FindBySlug(ctx, slug)
	})
}

func (s *catalogService) ListProducts(ctx context.Context, filter ProductListFilter) (domain.CursorPage[Product], error) {
	page, err := s.products.List(ctx, repositories.ProductFilter{
		Category:  strings.TrimSpace(filter.Category),
		OrderBy:   filter.OrderBy,
		Desc:      filter.Desc,
		PageSize:  filter.Pagination.PageSize,
		PageToken: filter.Pagination.PageToken,
	})
	if err != nil {
		return domain.CursorPage[Product]{}, mapCatalogError("catalog.list", err)
	}
	for i := range page.Items {
		page.Items[i] = s.withImageURL(ctx, page.Items[i])
	}
	return page, nil
}

func (s *catalogService) lookup(ctx context.Context, key string, load func(context.Context) (domain.Product, error)) (Product, error) {
	value, err, _ := s.lookups.Do(key, func() (any, error) {
		return load(ctx)
	})
	if err != nil {
		return Product{}, mapCatalogError("catalog.get", err)
	}
	return s.withImageURL(ctx, value.(domain.Product)), nil
}

// withImageURL keeps the stored reference when signing fails; a missing image is not worth
// failing the page for.
func (s *catalogService) withImageURL(ctx context.Context, product Product) Product {
	if s.images == nil || product.Image == "" {
		return product
	}
	url, err := s.images.ImageURL(ctx, product.Image)
	if err != nil {
		s.logger(ctx, "catalog.image.sign_failed", map[string]any{
			"productId": product.ID,
			"error":     err.Error(),
		})
		return product
	}
	product.Image = url
	return product
}

func mapCatalogError(op string, err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrProductNotFound, err)
		case repoErr.IsUnavailable():
			return &domain.NetworkError{Op: op, Err: err}
		}
	}
	return err
}
