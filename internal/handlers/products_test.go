package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/tealshop/storefront/internal/domain"
	"github.com/tealshop/storefront/internal/services"
)

type stubCatalogService struct {
	products map[string]domain.Product
	filter   services.ProductListFilter
	listErr  error
}

func (s *stubCatalogService) GetProduct(_ context.Context, productID string) (services.Product, error) {
	if p, ok := s.products[productID]; ok {
		return p, nil
	}
	return services.Product{}, services.ErrProductNotFound
}

func (s *stubCatalogService) GetProductBySlug(_ context.Context, slug string) (services.Product, error) {
	for _, p := range s.products {
		if p.Slug == slug {
			return p, nil
		}
	}
	return services.Product{}, services.ErrProductNotFound
}

func (s *stubCatalogService) ListProducts(_ context.Context, filter services.ProductListFilter) (domain.CursorPage[services.Product], error) {
	s.filter = filter
	if s.listErr != nil {
		return domain.CursorPage[services.Product]{}, s.listErr
	}
	return domain.CursorPage[services.Product]{}, nil
}

func newProductRouter(catalog services.CatalogService) http.Handler {
	r := chi.NewRouter()
	r.Route("/api/v1/products", NewProductHandlers(catalog).Routes)
	return r
}

func TestListProductsParsesQuery(t *testing.T) {
	catalog := &stubCatalogService{}
	router := newProductRouter(catalog)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products?category=Lighting&orderBy=price%20desc&pageSize=10", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if catalog.filter.Category != "Lighting" || catalog.filter.OrderBy != "price" || !catalog.filter.Desc {
		t.Fatalf("unexpected filter %+v", catalog.filter)
	}
	if catalog.filter.Pagination.PageSize != 10 {
		t.Fatalf("expected page size 10, got %d", catalog.filter.Pagination.PageSize)
	}
	var body productListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Items == nil || len(body.Items) != 0 {
		t.Fatalf("expected empty items array, got %v", body.Items)
	}
}

func TestListProductsRejectsUnknownOrder(t *testing.T) {
	router := newProductRouter(&stubCatalogService{})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/products?orderBy=stock", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestListProductsUpstreamFailure(t *testing.T) {
	router := newProductRouter(&stubCatalogService{listErr: &domain.NetworkError{Op: "products.list"}})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/products", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestGetProduct(t *testing.T) {
	catalog := &stubCatalogService{products: map[string]domain.Product{
		"p-lamp": {ID: "p-lamp", Slug: "desk-lamp", Name: "Desk Lamp", Price: 49.99, Stock: 3},
	}}
	router := newProductRouter(catalog)

	cases := []struct {
		name string
		path string
		want int
	}{
		{"by id", "/api/v1/products/p-lamp", http.StatusOK},
		{"by slug", "/api/v1/products/slug/desk-lamp", http.StatusOK},
		{"missing id", "/api/v1/products/p-none", http.StatusNotFound},
		{"missing slug", "/api/v1/products/slug/none", http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, tc.path, nil))
			if rr.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rr.Code)
			}
			if tc.want == http.StatusOK {
				var product domain.Product
				if err := json.Unmarshal(rr.Body.Bytes(), &product); err != nil {
					t.Fatalf("decode: %v", err)
				}
				if product.ID != "p-lamp" || product.Stock != 3 {
					t.Fatalf("unexpected product %+v", product)
				}
			}
		})
	}
}

func TestProductsWithoutCatalog(t *testing.T) {
	router := newProductRouter(nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/products", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}
