package web

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/tealshop/storefront/internal/platform/requestctx"
	"github.com/tealshop/storefront/internal/platform/securecookie"
)

const sessionCookieName = "storefront_session"

// Session is the signed browsing session. It carries the API token of a signed-in visitor.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"uid,omitempty"`
	Name      string    `json:"name,omitempty"`
	Email     string    `json:"email,omitempty"`
	IsAdmin   bool      `json:"admin,omitempty"`
	Token     string    `json:"tok,omitempty"`
	ExpiresAt time.Time `json:"exp,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Authenticated reports whether the session holds an unexpired API token.
func (s *Session) Authenticated(now time.Time) bool {
	if s == nil || s.UserID == "" || s.Token == "" {
		return false
	}
	return s.ExpiresAt.IsZero() || now.Before(s.ExpiresAt)
}

type sessionKey struct{}

// SessionFromContext returns the session attached by SessionManager.Middleware.
func SessionFromContext(ctx context.Context) *Session {
	if s, ok := ctx.Value(sessionKey{}).(*Session); ok && s != nil {
		return s
	}
	return &Session{}
}

// SessionManager reads and writes the session cookie.
type SessionManager struct {
	codec *securecookie.Codec
	clock func() time.Time
}

// NewSessionManager constructs a manager signing cookies with codec.
func NewSessionManager(codec *securecookie.Codec, clock func() time.Time) (*SessionManager, error) {
	if codec == nil {
		return nil, errors.New("web session: codec is required")
	}
	if clock == nil {
		clock = time.Now
	}
	return &SessionManager{codec: codec, clock: func() time.Time { return clock().UTC() }}, nil
}

// Middleware loads the session or starts a new one. A new session cookie is set before the
// handler runs so every response carries it.
func (m *SessionManager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var sess Session
		if err := m.codec.Read(r, sessionCookieName, &sess); err != nil || strings.TrimSpace(sess.ID) == "" {
			if err != nil && !errors.Is(err, http.ErrNoCookie) {
				requestctx.Logger(r.Context()).Debug("session cookie rejected")
			}
			sess = Session{ID: newSessionID(), CreatedAt: m.clock()}
			if err := m.codec.Write(w, sessionCookieName, sess); err != nil {
				requestctx.Logger(r.Context()).Warn("session cookie write failed")
			}
		}
		ctx := context.WithValue(r.Context(), sessionKey{}, &sess)
		ctx = requestctx.WithSessionID(ctx, sess.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Save rewrites the session cookie. It must run before the response body is written.
func (m *SessionManager) Save(w http.ResponseWriter, sess *Session) error {
	return m.codec.Write(w, sessionCookieName, sess)
}

// Now returns the manager clock in UTC.
func (m *SessionManager) Now() time.Time {
	return m.clock()
}

func newSessionID() string {
	return strings.ToLower(ulid.Make().String())
}
