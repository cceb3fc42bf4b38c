package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/tealshop/storefront/internal/domain"
	pfirestore "github.com/tealshop/storefront/internal/platform/firestore"
	"github.com/tealshop/storefront/internal/repositories"
)

const userCollection = "users"

type userDocument struct {
	Name         string    `firestore:"name"`
	Email        string    `firestore:"email"`
	PasswordHash string    `firestore:"passwordHash"`
	IsAdmin      bool      `firestore:"isAdmin"`
	CreatedAt    time.Time `firestore:"createdAt"`
}

func (d userDocument) toDomain(id string) domain.User {
	return domain.User{
		ID:           id,
		Name:         d.Name,
		Email:        d.Email,
		PasswordHash: d.PasswordHash,
		IsAdmin:      d.IsAdmin,
		CreatedAt:    d.CreatedAt,
	}
}

// UserRepository stores customer accounts. Emails are stored lower cased and are unique.
type UserRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[userDocument]
}

var _ repositories.UserRepository = (*UserRepository)(nil)

// NewUserRepository binds the repository to provider.
func NewUserRepository(provider *pfirestore.Provider) (*UserRepository, error) {
	if provider == nil {
		return nil, errors.New("user repository requires firestore provider")
	}
	return &UserRepository{provider: provider, base: pfirestore.NewBaseRepository[userDocument](provider, userCollection)}, nil
}

// FindByID loads a user by id.
func (r *UserRepository) FindByID(ctx context.Context, userID string) (domain.User, error) {
	doc, err := r.base.Get(ctx, strings.TrimSpace(userID))
	if err != nil {
		return domain.User{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindByEmail loads a user by email, case-insensitively.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (domain.User, error) {
	email = normaliseEmail(email)
	if email == "" {
		return domain.User{}, errors.New("email is required")
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("email", "==", email).Limit(1)
	})
	if err != nil {
		return domain.User{}, err
	}
	if len(docs) == 0 {
		return domain.User{}, notFound("users.findByEmail", "user not found")
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

// Create inserts user. A duplicate id or email is reported as a conflict.
func (r *UserRepository) Create(ctx context.Context, user domain.User) (domain.User, error) {
	if strings.TrimSpace(user.ID) == "" {
		return domain.User{}, errors.New("user id is required")
	}
	user.Email = normaliseEmail(user.Email)
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	coll, err := r.base.CollectionRef(ctx)
	if err != nil {
		return domain.User{}, err
	}
	doc := userDocument{
		Name:         user.Name,
		Email:        user.Email,
		PasswordHash: user.PasswordHash,
		IsAdmin:      user.IsAdmin,
		CreatedAt:    user.CreatedAt.UTC(),
	}
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		existing, err := tx.Documents(coll.Where("email", "==", user.Email).Limit(1)).GetAll()
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return status.Errorf(codes.AlreadyExists, "email %s already registered", user.Email)
		}
		return tx.Create(coll.Doc(user.ID), doc)
	})
	if err != nil {
		return domain.User{}, pfirestore.WrapError("users.create", err)
	}
	return user, nil
}

func normaliseEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
