package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	domain "github.com/tealshop/storefront/internal/domain"
	"github.com/tealshop/storefront/internal/platform/auth"
	"github.com/tealshop/storefront/internal/repositories"
)

// ErrInvalidCredentials hides whether the email or the password was wrong.
var ErrInvalidCredentials = errors.New("auth: invalid email or password")

// dummyHash keeps unknown-email logins as slow as wrong-password logins.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("storefront-timing-guard"), bcrypt.DefaultCost)

// SessionIssuer signs session tokens for authenticated users.
type SessionIssuer interface {
	Issue(subject auth.SessionSubject) (string, time.Time, error)
}

// AuthServiceDeps bundles constructor inputs for the auth service.
type AuthServiceDeps struct {
	Users    repositories.UserRepository
	Sessions SessionIssuer
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type authService struct {
	users    repositories.UserRepository
	sessions SessionIssuer
	logger   func(ctx context.Context, event string, fields map[string]any)
}

// NewAuthService constructs the login service.
func NewAuthService(deps AuthServiceDeps) (AuthService, error) {
	if deps.Users == nil {
		return nil, errors.New("auth service: user repository is required")
	}
	if deps.Sessions == nil {
		return nil, errors.New("auth service: session issuer is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &authService{users: deps.Users, sessions: deps.Sessions, logger: logger}, nil
}

func (s *authService) Login(ctx context.Context, cmd LoginCommand) (LoginResult, error) {
	email := strings.ToLower(strings.TrimSpace(cmd.Email))
	if err := domain.ValidateCredentials(email, cmd.Password); err != nil {
		return LoginResult{}, err
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) {
			switch {
			case repoErr.IsNotFound():
				_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(cmd.Password))
				s.logger(ctx, "auth.login.failed", map[string]any{"reason": "unknown_email"})
				return LoginResult{}, ErrInvalidCredentials
			case repoErr.IsUnavailable():
				return LoginResult{}, &domain.NetworkError{Op: "users.find", Err: err}
			}
		}
		return LoginResult{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(cmd.Password)); err != nil {
		s.logger(ctx, "auth.login.failed", map[string]any{"reason": "password", "userId": user.ID})
		return LoginResult{}, ErrInvalidCredentials
	}

	token, expires, err := s.sessions.Issue(auth.SessionSubject{
		UserID:  user.ID,
		Email:   user.Email,
		Name:    user.Name,
		IsAdmin: user.IsAdmin,
	})
	if err != nil {
		return LoginResult{}, fmt.Errorf("auth service: issue session: %w", err)
	}
	s.logger(ctx, "auth.login.succeeded", map[string]any{"userId": user.ID})
	user.PasswordHash = ""
	return LoginResult{User: user, Token: token, ExpiresAt: expires}, nil
}
