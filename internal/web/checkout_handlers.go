package web

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tealshop/storefront/internal/apiclient"
	"github.com/tealshop/storefront/internal/checkout"
	domain "github.com/tealshop/storefront/internal/domain"
)

type paymentRequest struct {
	PaymentMethod string `json:"paymentMethod"`
}

func (s *Server) showShipping(w http.ResponseWriter, r *http.Request) {
	store, err := s.openCart(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	state := s.checkoutState(r, store)
	if !s.enter(w, r, checkout.StepShipping, state, r.URL.RequestURI()) {
		return
	}
	view := shippingView{
		Step:   checkout.StepShipping.String(),
		Wizard: checkout.Wizard(checkout.WizardIndex(checkout.StepShipping)),
	}
	if state.Cart.ShippingAddress != nil {
		view.Address = *state.Cart.ShippingAddress
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) saveShipping(w http.ResponseWriter, r *http.Request) {
	var addr domain.Address
	if err := decodeBody(r, &addr); err != nil {
		writeBadRequest(w, r, err.Error())
		return
	}
	store, err := s.openCart(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := store.SetShippingAddress(r.Context(), addr); err != nil {
		var validation *domain.ValidationError
		if errors.As(err, &validation) {
			writeJSON(w, http.StatusBadRequest, shippingView{
				Step:        checkout.StepShipping.String(),
				Wizard:      checkout.Wizard(checkout.WizardIndex(checkout.StepShipping)),
				Address:     addr,
				FieldErrors: validation.Fields,
			})
			return
		}
		s.writeError(w, r, err)
		return
	}
	http.Redirect(w, r, checkout.StepPayment.Path(), http.StatusSeeOther)
}

func (s *Server) showPayment(w http.ResponseWriter, r *http.Request) {
	store, err := s.openCart(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	state := s.checkoutState(r, store)
	if !s.enter(w, r, checkout.StepPayment, state, r.URL.RequestURI()) {
		return
	}
	writeJSON(w, http.StatusOK, paymentView{
		Step:     checkout.StepPayment.String(),
		Wizard:   checkout.Wizard(checkout.WizardIndex(checkout.StepPayment)),
		Methods:  domain.PaymentMethods(),
		Selected: state.Cart.PaymentMethod,
	})
}

func (s *Server) savePayment(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, r, err.Error())
		return
	}
	store, err := s.openCart(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	// The payment step itself is guarded: without an address the form is not reachable.
	if !s.enter(w, r, checkout.StepPayment, s.checkoutState(r, store), checkout.StepPayment.Path()) {
		return
	}

	method, ok := domain.ParsePaymentMethod(req.PaymentMethod)
	if !ok {
		writeJSON(w, http.StatusBadRequest, paymentView{
			Step:        checkout.StepPayment.String(),
			Wizard:      checkout.Wizard(checkout.WizardIndex(checkout.StepPayment)),
			Methods:     domain.PaymentMethods(),
			FieldErrors: map[string]string{"paymentMethod": "Payment method is required"},
		})
		return
	}
	if _, err := store.SetPaymentMethod(r.Context(), method); err != nil {
		s.writeError(w, r, err)
		return
	}
	http.Redirect(w, r, checkout.StepPlaceOrder.Path(), http.StatusSeeOther)
}

func (s *Server) showPlaceOrder(w http.ResponseWriter, r *http.Request) {
	store, err := s.openCart(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	state := s.checkoutState(r, store)
	if !s.enter(w, r, checkout.StepPlaceOrder, state, r.URL.RequestURI()) {
		return
	}
	writeJSON(w, http.StatusOK, placeOrderView{
		Step:            checkout.StepPlaceOrder.String(),
		Wizard:          checkout.Wizard(checkout.WizardIndex(checkout.StepPlaceOrder)),
		Items:           s.lineViews(state.Cart.Items),
		Empty:           len(state.Cart.Items) == 0,
		ShippingAddress: state.Cart.ShippingAddress,
		PaymentMethod:   state.Cart.PaymentMethod,
		Summary:         s.breakdownView(s.placer.Breakdown(state.Cart)),
	})
}

// placeOrder commits the cart and redirects to the placed order. The order page itself is keyed by
// the id in its path; the API decides who may read it.
func (s *Server) placeOrder(w http.ResponseWriter, r *http.Request) {
	store, err := s.openCart(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	state := s.checkoutState(r, store)
	if !s.enter(w, r, checkout.StepPlaceOrder, state, checkout.StepPlaceOrder.Path()) {
		return
	}

	order, err := s.placer.PlaceOrder(authed(r), store)
	if err != nil && order.ID == "" {
		if errors.Is(err, apiclient.ErrUnauthorized) {
			s.signOut(w, r)
			s.writeError(w, r, &domain.AuthRequiredError{Redirect: checkout.StepPlaceOrder.Path()})
			return
		}
		s.writeError(w, r, err)
		return
	}
	if err != nil {
		s.logger(r.Context(), "checkout.clear_failed", map[string]any{"orderId": order.ID, "error": err.Error()})
	}

	state.OrderID = order.ID
	decision := s.guard.Enter(checkout.StepOrder, state, "")
	http.Redirect(w, r, decision.Redirect, http.StatusSeeOther)
}

func (s *Server) showOrder(w http.ResponseWriter, r *http.Request) {
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	sess := SessionFromContext(r.Context())
	state := checkout.State{Authenticated: sess.Authenticated(s.sessions.Now()), OrderID: orderID}
	if !s.enter(w, r, checkout.StepOrder, state, r.URL.RequestURI()) {
		return
	}

	var paymentErr string
	if sessionID := strings.TrimSpace(r.URL.Query().Get("session_id")); sessionID != "" {
		if _, err := s.api.ConfirmPayment(authed(r), orderID, sessionID); err != nil {
			s.logger(r.Context(), "order.payment_confirm_failed", map[string]any{"orderId": orderID, "error": err.Error()})
			paymentErr = "payment could not be confirmed yet"
		}
	}

	order, err := s.api.GetOrder(authed(r), orderID)
	if err != nil {
		if errors.Is(err, apiclient.ErrUnauthorized) {
			s.signOut(w, r)
			s.writeError(w, r, &domain.AuthRequiredError{Redirect: r.URL.Path})
			return
		}
		s.writeError(w, r, err)
		return
	}
	view := s.orderView(order)
	view.PaymentError = paymentErr
	writeJSON(w, http.StatusOK, view)
}

// payOrder opens a hosted payment page and sends the visitor there.
func (s *Server) payOrder(w http.ResponseWriter, r *http.Request) {
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	sess := SessionFromContext(r.Context())
	orderPath := checkout.StepOrder.Path() + "/" + url.PathEscape(orderID)
	state := checkout.State{Authenticated: sess.Authenticated(s.sessions.Now()), OrderID: orderID}
	if !s.enter(w, r, checkout.StepOrder, state, orderPath) {
		return
	}

	success := s.absoluteURL(r, orderPath) + "?session_id={CHECKOUT_SESSION_ID}"
	session, err := s.api.CreatePaymentSession(authed(r), orderID, success, s.absoluteURL(r, orderPath))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	http.Redirect(w, r, session.URL, http.StatusSeeOther)
}
