package web

import (
	"errors"
	"net/http"
	"strings"

	"github.com/tealshop/storefront/internal/apiclient"
	"github.com/tealshop/storefront/internal/cart"
	domain "github.com/tealshop/storefront/internal/domain"
	"github.com/tealshop/storefront/internal/platform/httpx"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Redirect string `json:"redirect"`
}

// login exchanges credentials for an API token. The session id is rotated on sign-in and the
// cart follows the visitor to the new session.
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, r, err.Error())
		return
	}
	if err := domain.ValidateCredentials(req.Email, req.Password); err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.api.Login(r.Context(), strings.ToLower(strings.TrimSpace(req.Email)), req.Password)
	if err != nil {
		if errors.Is(err, apiclient.ErrUnauthorized) {
			httpx.WriteError(r.Context(), w, httpx.NewError("invalid_credentials", "Invalid email or password", http.StatusUnauthorized))
			return
		}
		s.writeError(w, r, err)
		return
	}

	sess := SessionFromContext(r.Context())
	previous := sess.ID
	sess.ID = newSessionID()
	sess.UserID = result.User.ID
	sess.Name = result.User.Name
	sess.Email = result.User.Email
	sess.IsAdmin = result.User.IsAdmin
	sess.Token = result.Token
	sess.ExpiresAt = result.ExpiresAt.UTC()
	s.moveCart(w, r, previous, sess.ID)
	if err := s.sessions.Save(w, sess); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger(r.Context(), "session.signed_in", map[string]any{"userId": sess.UserID})

	target := req.Redirect
	if target == "" {
		target = r.URL.Query().Get("redirect")
	}
	http.Redirect(w, r, safeRedirect(target), http.StatusSeeOther)
}

// logout drops the token and the whole cart, address and payment method included.
func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	if err := s.carts.ForSession(w, r, SessionFromContext(r.Context()).ID).Save(r.Context(), domain.Cart{}); err != nil {
		s.logger(r.Context(), "cart.persist_failed", map[string]any{"action": "logout", "error": err.Error()})
	}
	s.signOut(w, r)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// signOut drops the credentials and keeps the session id, so the cart stays reachable.
func (s *Server) signOut(w http.ResponseWriter, r *http.Request) {
	sess := SessionFromContext(r.Context())
	*sess = Session{ID: sess.ID, CreatedAt: sess.CreatedAt}
	if err := s.sessions.Save(w, sess); err != nil {
		s.logger(r.Context(), "session.save_failed", map[string]any{"error": err.Error()})
	}
}

func (s *Server) moveCart(w http.ResponseWriter, r *http.Request, from, to string) {
	if from == "" || from == to {
		return
	}
	ctx := r.Context()
	snapshot, err := s.carts.ForSession(w, r, from).Load(ctx)
	if err != nil {
		if !errors.Is(err, cart.ErrNotPersisted) {
			s.logger(ctx, "cart.load_failed", map[string]any{"error": err.Error()})
		}
		return
	}
	if err := s.carts.ForSession(w, r, to).Save(ctx, snapshot); err != nil {
		s.logger(ctx, "cart.persist_failed", map[string]any{"action": "move", "error": err.Error()})
	}
}
