package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"
	"github.com/golang-jwt/jwt/v4"
)

const minSessionSecretLength = 32

// SessionTokens issues and verifies the HS256 session tokens handed out by the login endpoint.
// It satisfies TokenVerifier so the middleware treats it like any other identity provider.
type SessionTokens struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

type sessionClaims struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// SessionSubject is what a session token asserts about its bearer.
type SessionSubject struct {
	UserID  string
	Email   string
	Name    string
	IsAdmin bool
}

// NewSessionTokens validates the signing secret and builds the issuer.
func NewSessionTokens(secret []byte, issuer string, ttl time.Duration, clock func() time.Time) (*SessionTokens, error) {
	if len(secret) < minSessionSecretLength {
		return nil, fmt.Errorf("auth: session secret must be at least %d bytes", minSessionSecretLength)
	}
	if ttl <= 0 {
		return nil, errors.New("auth: session ttl must be positive")
	}
	if clock == nil {
		clock = time.Now
	}
	key := make([]byte, len(secret))
	copy(key, secret)
	return &SessionTokens{secret: key, issuer: strings.TrimSpace(issuer), ttl: ttl, now: clock}, nil
}

// Issue signs a token for subject and returns it with its expiry.
func (s *SessionTokens) Issue(subject SessionSubject) (string, time.Time, error) {
	if strings.TrimSpace(subject.UserID) == "" {
		return "", time.Time{}, errors.New("auth: session subject is required")
	}
	now := s.now().UTC()
	expires := now.Add(s.ttl)
	role := RoleUser
	if subject.IsAdmin {
		role = RoleAdmin
	}
	claims := sessionClaims{
		Email: subject.Email,
		Name:  subject.Name,
		Role:  role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject.UserID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign session: %w", err)
	}
	return signed, expires, nil
}

// VerifyIDToken checks the signature, issuer and expiry of a session token.
func (s *SessionTokens) VerifyIDToken(_ context.Context, raw string) (*firebaseauth.Token, error) {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithoutClaimsValidation())
	claims := &sessionClaims{}
	if _, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	now := s.now()
	if !claims.VerifyExpiresAt(now, true) {
		return nil, ErrTokenExpired
	}
	if s.issuer != "" && !claims.VerifyIssuer(s.issuer, true) {
		return nil, fmt.Errorf("%w: unexpected issuer", ErrTokenInvalid)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}

	token := &firebaseauth.Token{
		UID:     claims.Subject,
		Issuer:  claims.Issuer,
		Subject: claims.Subject,
		Expires: claims.ExpiresAt.Unix(),
		Claims: map[string]interface{}{
			defaultEmailClaim: claims.Email,
			defaultNameClaim:  claims.Name,
			defaultRoleClaim:  claims.Role,
		},
	}
	if claims.IssuedAt != nil {
		token.IssuedAt = claims.IssuedAt.Unix()
	}
	return token, nil
}

// ChainVerifier tries each verifier in turn and returns the first success. When all fail, the
// first error is returned.
type ChainVerifier []TokenVerifier

// VerifyIDToken implements TokenVerifier.
func (c ChainVerifier) VerifyIDToken(ctx context.Context, raw string) (*firebaseauth.Token, error) {
	var firstErr error
	for _, verifier := range c {
		if verifier == nil {
			continue
		}
		token, err := verifier.VerifyIDToken(ctx, raw)
		if err == nil {
			return token, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	if firstErr == nil {
		firstErr = ErrTokenInvalid
	}
	return nil, firstErr
}
