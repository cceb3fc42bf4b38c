package web

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tealshop/storefront/internal/apiclient"
	"github.com/tealshop/storefront/internal/cart"
	"github.com/tealshop/storefront/internal/checkout"
	domain "github.com/tealshop/storefront/internal/domain"
)

const defaultRequestTimeout = 15 * time.Second

// API is the subset of the storefront API the web tier calls directly. Order placement goes
// through checkout.Placer.
type API interface {
	ListProducts(ctx context.Context, q apiclient.ProductQuery) (domain.CursorPage[domain.Product], error)
	GetProductBySlug(ctx context.Context, slug string) (domain.Product, error)
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
	Login(ctx context.Context, email, password string) (apiclient.Session, error)
	CreatePaymentSession(ctx context.Context, orderID, successURL, cancelURL string) (apiclient.PaymentSession, error)
	ConfirmPayment(ctx context.Context, orderID, sessionID string) (domain.Order, error)
}

// ServerDeps bundles the collaborators of the web tier.
type ServerDeps struct {
	API       API
	Placer    *checkout.Placer
	Carts     cart.Backend
	Sessions  *SessionManager
	Money     MoneyFormatter
	LoginPath string
	PublicURL string
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

// Server serves the storefront pages as JSON view models.
type Server struct {
	api       API
	placer    *checkout.Placer
	carts     cart.Backend
	sessions  *SessionManager
	guard     checkout.Guard
	money     MoneyFormatter
	loginPath string
	publicURL string
	logger    func(ctx context.Context, event string, fields map[string]any)
}

// NewServer validates dependencies and constructs a Server.
func NewServer(deps ServerDeps) (*Server, error) {
	if deps.API == nil {
		return nil, errors.New("web server: api client is required")
	}
	if deps.Placer == nil {
		return nil, errors.New("web server: checkout placer is required")
	}
	if deps.Carts == nil {
		return nil, errors.New("web server: cart backend is required")
	}
	if deps.Sessions == nil {
		return nil, errors.New("web server: session manager is required")
	}
	loginPath := strings.TrimSpace(deps.LoginPath)
	if loginPath == "" {
		loginPath = "/login"
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &Server{
		api:       deps.API,
		placer:    deps.Placer,
		carts:     deps.Carts,
		sessions:  deps.Sessions,
		guard:     checkout.NewGuard(loginPath),
		money:     deps.Money,
		loginPath: loginPath,
		publicURL: strings.TrimRight(strings.TrimSpace(deps.PublicURL), "/"),
		logger:    logger,
	}, nil
}

// NewRouter mounts the storefront routes behind the given middlewares and the session cookie.
func NewRouter(s *Server, middlewares ...func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	for _, mw := range middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}
	r.Use(middleware.Timeout(defaultRequestTimeout))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(s.sessions.Middleware)

		r.Get("/products", s.listProducts)
		r.Get("/product/{slug}", s.getProduct)

		r.Get("/cart", s.showCart)
		r.Post("/cart/items", s.addCartItem)
		r.Put("/cart/items/{slug}", s.updateCartItem)
		r.Delete("/cart/items/{slug}", s.removeCartItem)

		r.Get("/shipping", s.showShipping)
		r.Post("/shipping", s.saveShipping)
		r.Get("/payment", s.showPayment)
		r.Post("/payment", s.savePayment)
		r.Get("/placeorder", s.showPlaceOrder)
		r.Post("/placeorder", s.placeOrder)
		r.Get("/order/{orderID}", s.showOrder)
		r.Post("/order/{orderID}/pay", s.payOrder)

		r.Post("/login", s.login)
		r.Post("/logout", s.logout)
	})
	return r
}

// openCart reads the session cart through the configured backend.
func (s *Server) openCart(w http.ResponseWriter, r *http.Request) (*cart.Store, error) {
	sess := SessionFromContext(r.Context())
	return cart.Open(r.Context(), cart.StoreDeps{
		Persister: s.carts.ForSession(w, r, sess.ID),
		Logger:    s.logger,
	})
}

// checkoutState collects what the guard needs for the current request.
func (s *Server) checkoutState(r *http.Request, store *cart.Store) checkout.State {
	sess := SessionFromContext(r.Context())
	return checkout.State{
		Cart:          store.Snapshot(),
		Authenticated: sess.Authenticated(s.sessions.Now()),
	}
}

// enter runs the guard and redirects when the step is not reachable. target is where a login
// should return to. It reports whether the handler may continue.
func (s *Server) enter(w http.ResponseWriter, r *http.Request, step checkout.Step, state checkout.State, target string) bool {
	decision := s.guard.Enter(step, state, target)
	if decision.Allowed {
		return true
	}
	fields := map[string]any{"step": step.String(), "redirect": decision.Redirect}
	s.logger(r.Context(), "checkout.guard_redirect", fields)
	http.Redirect(w, r, decision.Redirect, http.StatusSeeOther)
	return false
}

// authed returns a context carrying the session's API token.
func authed(r *http.Request) context.Context {
	return apiclient.WithBearer(r.Context(), SessionFromContext(r.Context()).Token)
}

func (s *Server) absoluteURL(r *http.Request, path string) string {
	if s.publicURL != "" {
		return s.publicURL + path
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + path
}
