package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tealshop/storefront/internal/checkout"
)

type addItemRequest struct {
	ProductID string `json:"productId"`
	// Quantity zero adds one more unit than the cart already holds.
	Quantity int `json:"quantity"`
}

type updateItemRequest struct {
	Quantity int `json:"quantity"`
}

func (s *Server) showCart(w http.ResponseWriter, r *http.Request) {
	store, err := s.openCart(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	state := s.checkoutState(r, store)
	writeJSON(w, http.StatusOK, s.cartView(state.Cart, state.Authenticated))
}

// addCartItem checks live stock before touching the cart and then moves on to the cart page.
func (s *Server) addCartItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, r, err.Error())
		return
	}
	store, err := s.openCart(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := s.placer.AddToCart(r.Context(), store, req.ProductID, req.Quantity); err != nil {
		s.writeError(w, r, err)
		return
	}
	http.Redirect(w, r, checkout.StepCart.Path(), http.StatusSeeOther)
}

func (s *Server) updateCartItem(w http.ResponseWriter, r *http.Request) {
	var req updateItemRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, r, err.Error())
		return
	}
	store, err := s.openCart(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	updated, err := store.UpdateQuantity(r.Context(), chi.URLParam(r, "slug"), req.Quantity)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.cartView(updated, SessionFromContext(r.Context()).Authenticated(s.sessions.Now())))
}

func (s *Server) removeCartItem(w http.ResponseWriter, r *http.Request) {
	store, err := s.openCart(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	updated, err := store.RemoveItem(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.cartView(updated, SessionFromContext(r.Context()).Authenticated(s.sessions.Now())))
}
