package web

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tealshop/storefront/internal/apiclient"
)

const productPageSize = 24

func (s *Server) listProducts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	page, err := s.api.ListProducts(r.Context(), apiclient.ProductQuery{
		Category:  strings.TrimSpace(query.Get("category")),
		PageSize:  productPageSize,
		PageToken: strings.TrimSpace(query.Get("pageToken")),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	view := productListView{Items: make([]productView, 0, len(page.Items)), NextPageToken: page.NextPageToken}
	for _, product := range page.Items {
		view.Items = append(view.Items, s.productView(product))
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) getProduct(w http.ResponseWriter, r *http.Request) {
	product, err := s.api.GetProductBySlug(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.productView(product))
}
