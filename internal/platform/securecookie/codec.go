package securecookie

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gsc "github.com/gorilla/securecookie"
)

const (
	defaultMaxAge  = 30 * 24 * time.Hour
	maxCookieBytes = 4000
)

var (
	// ErrInvalidSignature indicates the cookie was tampered with or signed with another key or name.
	ErrInvalidSignature = errors.New("securecookie: invalid signature")
	// ErrMalformed indicates the cookie value could not be decoded.
	ErrMalformed = errors.New("securecookie: malformed value")
	// ErrTooLarge indicates the encoded value exceeds browser cookie limits.
	ErrTooLarge = errors.New("securecookie: value too large")
	// ErrExpired indicates the value outlived the codec max age.
	ErrExpired = errors.New("securecookie: value expired")
)

// envelope carries the caller payload with an expiry taken from the codec clock.
type envelope struct {
	Value     json.RawMessage `json:"v"`
	ExpiresAt int64           `json:"exp"`
}

// Codec signs (and optionally encrypts) JSON payloads into cookie values.
type Codec struct {
	cookies  *gsc.SecureCookie
	hashKey  []byte
	blockKey []byte
	secure   bool
	maxAge   time.Duration
	now      func() time.Time
}

// Option customises Codec behaviour.
type Option func(*Codec)

// WithSecure marks issued cookies as Secure.
func WithSecure(secure bool) Option {
	return func(c *Codec) {
		c.secure = secure
	}
}

// WithMaxAge overrides the cookie lifetime.
func WithMaxAge(d time.Duration) Option {
	return func(c *Codec) {
		if d > 0 {
			c.maxAge = d
		}
	}
}

// WithEncryptionKey enables AES encryption of cookie values. The key must be 16, 24 or 32 bytes.
func WithEncryptionKey(key []byte) Option {
	return func(c *Codec) {
		if len(key) > 0 {
			c.blockKey = append([]byte(nil), key...)
		}
	}
}

// WithClock overrides the clock used for expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		if now != nil {
			c.now = now
		}
	}
}

// New constructs a codec. The hash key must be non-empty.
func New(hashKey []byte, opts ...Option) (*Codec, error) {
	if len(hashKey) == 0 {
		return nil, errors.New("securecookie: signing key is required")
	}
	c := &Codec{hashKey: append([]byte(nil), hashKey...), maxAge: defaultMaxAge, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	switch len(c.blockKey) {
	case 0, 16, 24, 32:
	default:
		return nil, fmt.Errorf("securecookie: encryption key must be 16, 24 or 32 bytes, got %d", len(c.blockKey))
	}

	cookies := gsc.New(c.hashKey, c.blockKey)
	cookies.SetSerializer(gsc.JSONEncoder{})
	cookies.MaxAge(int(c.maxAge / time.Second))
	// length is checked in Encode and Decode.
	cookies.MaxLength(0)
	c.cookies = cookies
	return c, nil
}

// Encode marshals v and returns the signed cookie value, bound to the cookie name.
func (c *Codec) Encode(name string, v any) (string, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("securecookie: marshal %s: %w", name, err)
	}
	env := envelope{Value: payload, ExpiresAt: c.now().Add(c.maxAge).Unix()}
	value, err := c.cookies.Encode(name, env)
	if err != nil {
		return "", fmt.Errorf("securecookie: encode %s: %w", name, err)
	}
	if len(value) > maxCookieBytes {
		return "", ErrTooLarge
	}
	return value, nil
}

// Decode verifies the value and unmarshals the payload into v.
func (c *Codec) Decode(name, value string, v any) error {
	value = strings.TrimSpace(value)
	if len(value) > maxCookieBytes {
		return ErrTooLarge
	}
	var env envelope
	if err := c.cookies.Decode(name, value, &env); err != nil {
		if errors.Is(err, gsc.ErrMacInvalid) {
			return ErrInvalidSignature
		}
		var cookieErr gsc.Error
		if errors.As(err, &cookieErr) && cookieErr.IsDecode() {
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return fmt.Errorf("securecookie: decode %s: %w", name, err)
	}
	if env.ExpiresAt != 0 && c.now().Unix() >= env.ExpiresAt {
		return ErrExpired
	}
	if err := json.Unmarshal(env.Value, v); err != nil {
		return fmt.Errorf("securecookie: unmarshal %s: %w", name, err)
	}
	return nil
}

// Read decodes the named cookie from the request. http.ErrNoCookie is returned when absent.
func (c *Codec) Read(r *http.Request, name string, v any) error {
	cookie, err := r.Cookie(name)
	if err != nil {
		return err
	}
	if cookie.Value == "" {
		return http.ErrNoCookie
	}
	return c.Decode(name, cookie.Value, v)
}

// Write encodes v and sets it as an HttpOnly cookie.
func (c *Codec) Write(w http.ResponseWriter, name string, v any) error {
	value, err := c.Encode(name, v)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(c.maxAge / time.Second),
	})
	return nil
}

// Expire removes the named cookie from the browser.
func (c *Codec) Expire(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}
