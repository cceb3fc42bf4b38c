package handlers

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tealshop/storefront/internal/platform/httpx"
	"github.com/tealshop/storefront/internal/services"
)

const (
	defaultLoginAttempts = 10
	defaultLoginWindow   = 5 * time.Minute
)

// AuthHandlers exposes the login endpoint.
type AuthHandlers struct {
	auth    services.AuthService
	limiter attemptLimiter
}

// AuthHandlerOption customises AuthHandlers.
type AuthHandlerOption func(*authHandlerConfig)

type authHandlerConfig struct {
	attempts int
	window   time.Duration
	clock    func() time.Time
}

// WithLoginRateLimit caps login attempts per client address and email. Zero disables it.
func WithLoginRateLimit(attempts int, window time.Duration) AuthHandlerOption {
	return func(cfg *authHandlerConfig) {
		cfg.attempts = attempts
		cfg.window = window
	}
}

// WithLoginClock overrides the limiter clock.
func WithLoginClock(clock func() time.Time) AuthHandlerOption {
	return func(cfg *authHandlerConfig) {
		cfg.clock = clock
	}
}

// NewAuthHandlers constructs the login handlers.
func NewAuthHandlers(svc services.AuthService, opts ...AuthHandlerOption) *AuthHandlers {
	cfg := authHandlerConfig{attempts: defaultLoginAttempts, window: defaultLoginWindow}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return &AuthHandlers{
		auth:    svc,
		limiter: newWindowLimiter(cfg.attempts, cfg.window, cfg.clock),
	}
}

// Routes registers the /auth endpoints.
func (h *AuthHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/login", h.login)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	ID        string `json:"_id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	IsAdmin   bool   `json:"isAdmin"`
	Token     string `json:"token"`
	ExpiresAt string `json:"expiresAt"`
}

func (h *AuthHandlers) login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.auth == nil {
		httpx.WriteError(ctx, w, httpx.NewError("auth_service_unavailable", "auth service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req loginRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeInvalidRequest(ctx, w, err.Error())
		return
	}

	if h.limiter != nil {
		if ok, retry := h.limiter.Allow(r.RemoteAddr + "|" + strings.TrimSpace(req.Email)); !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
			httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many login attempts", http.StatusTooManyRequests))
			return
		}
	}

	result, err := h.auth.Login(ctx, services.LoginCommand{Email: req.Email, Password: req.Password})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, loginResponse{
		ID:        result.User.ID,
		Name:      result.User.Name,
		Email:     result.User.Email,
		IsAdmin:   result.User.IsAdmin,
		Token:     result.Token,
		ExpiresAt: formatTime(result.ExpiresAt),
	})
}
