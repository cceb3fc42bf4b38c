package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/tealshop/storefront/internal/apiclient"
	"github.com/tealshop/storefront/internal/cart"
	domain "github.com/tealshop/storefront/internal/domain"
	"github.com/tealshop/storefront/internal/platform/httpx"
	"github.com/tealshop/storefront/internal/platform/requestctx"
)

const maxFormBody = 32 * 1024

func writeJSON(w http.ResponseWriter, status int, payload any) {
	httpx.WriteJSON(w, status, payload)
}

func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxFormBody))
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func writeBadRequest(w http.ResponseWriter, r *http.Request, message string) {
	httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", message, http.StatusBadRequest))
}

// writeError renders the storefront error kinds. Validation errors carry fieldErrors for inline
// display; an unreachable API is a 502 and never a partial success.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()

	var validation *domain.ValidationError
	var stock *domain.OutOfStockError
	var network *domain.NetworkError
	var authRequired *domain.AuthRequiredError
	switch {
	case errors.As(err, &authRequired):
		http.Redirect(w, r, authRequired.LoginURL(s.loginPath), http.StatusSeeOther)
	case errors.As(err, &validation):
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeValidation, "please correct the highlighted fields", http.StatusBadRequest).
			WithDetails(map[string]any{"fieldErrors": validation.Fields}))
	case errors.As(err, &stock):
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeOutOfStock, "Sorry. Product is out of stock", http.StatusConflict).
			WithDetails(map[string]any{"items": stock.Items}))
	case errors.As(err, &network):
		s.logger(ctx, "web.upstream_failed", map[string]any{"op": network.Op, "error": err.Error()})
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeUnavailable, "the store is temporarily unavailable, please retry", http.StatusBadGateway))
	case errors.Is(err, apiclient.ErrNotFound):
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeNotFound, "not found", http.StatusNotFound))
	case errors.Is(err, cart.ErrItemNotFound):
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeNotFound, "item is not in the cart", http.StatusNotFound))
	default:
		requestctx.Logger(ctx).Error("storefront request failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeInternal, "something went wrong", http.StatusInternalServerError))
	}
}

// safeRedirect keeps post-login redirects on this site.
func safeRedirect(target string) string {
	target = strings.TrimSpace(target)
	if target == "" || !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") {
		return "/"
	}
	return target
}
