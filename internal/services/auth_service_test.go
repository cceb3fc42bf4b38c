package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	domain "github.com/tealshop/storefront/internal/domain"
	"github.com/tealshop/storefront/internal/platform/auth"
)

type stubUserRepo struct {
	users map[string]domain.User
	err   error
}

func (s *stubUserRepo) FindByID(context.Context, string) (domain.User, error) {
	return domain.User{}, errors.New("not implemented")
}

func (s *stubUserRepo) FindByEmail(_ context.Context, email string) (domain.User, error) {
	if s.err != nil {
		return domain.User{}, s.err
	}
	user, ok := s.users[email]
	if !ok {
		return domain.User{}, repoError{notFound: true}
	}
	return user, nil
}

func (s *stubUserRepo) Create(_ context.Context, user domain.User) (domain.User, error) {
	return user, nil
}

type stubIssuer struct {
	subject auth.SessionSubject
}

func (s *stubIssuer) Issue(subject auth.SessionSubject) (string, time.Time, error) {
	s.subject = subject
	return "token-" + subject.UserID, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), nil
}

func newAuthFixture(t *testing.T) (AuthService, *stubIssuer) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("secret123"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	users := &stubUserRepo{users: map[string]domain.User{
		"ada@example.com": {ID: "u-1", Name: "Ada", Email: "ada@example.com", PasswordHash: string(hash), IsAdmin: true},
	}}
	issuer := &stubIssuer{}
	svc, err := NewAuthService(AuthServiceDeps{Users: users, Sessions: issuer})
	if err != nil {
		t.Fatalf("NewAuthService: %v", err)
	}
	return svc, issuer
}

func TestAuthServiceLoginIssuesSession(t *testing.T) {
	svc, issuer := newAuthFixture(t)

	result, err := svc.Login(context.Background(), LoginCommand{Email: " Ada@Example.com ", Password: "secret123"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if result.Token != "token-u-1" || result.User.PasswordHash != "" {
		t.Fatalf("unexpected result %+v", result)
	}
	if !issuer.subject.IsAdmin || issuer.subject.Email != "ada@example.com" {
		t.Fatalf("unexpected subject %+v", issuer.subject)
	}
}

func TestAuthServiceLoginRejectsBadCredentials(t *testing.T) {
	svc, _ := newAuthFixture(t)

	if _, err := svc.Login(context.Background(), LoginCommand{Email: "ada@example.com", Password: "wrong-pass"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for wrong password, got %v", err)
	}
	if _, err := svc.Login(context.Background(), LoginCommand{Email: "bob@example.com", Password: "secret123"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}
}

func TestAuthServiceLoginValidatesForm(t *testing.T) {
	svc, _ := newAuthFixture(t)

	_, err := svc.Login(context.Background(), LoginCommand{Email: "not-an-email", Password: "12345"})
	var validation *domain.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, ok := validation.Fields["email"]; !ok {
		t.Fatal("expected email field error")
	}
	if _, ok := validation.Fields["password"]; !ok {
		t.Fatal("expected password field error")
	}
}

func TestAuthServiceLoginUnavailable(t *testing.T) {
	svc, err := NewAuthService(AuthServiceDeps{Users: &stubUserRepo{err: repoError{unavailable: true}}, Sessions: &stubIssuer{}})
	if err != nil {
		t.Fatalf("NewAuthService: %v", err)
	}
	if _, err := svc.Login(context.Background(), LoginCommand{Email: "ada@example.com", Password: "secret123"}); !domain.IsNetwork(err) {
		t.Fatalf("expected network error, got %v", err)
	}
}
