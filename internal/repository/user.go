package repository

import (
	"context"
	"errors"

	"github.com/smeportal/onboarding-server/internal/model"
)

var (
	ErrDuplicateEmail = errors.New("email already registered")
	ErrUserNotFound   = errors.New("user not found")
)

// UserRepository stores user accounts. Find* methods return (nil, nil) when
// nothing matches. Update runs fn as a read-modify-write that is serialized
// against every other read and write of the same account.
type UserRepository interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	FindAll(ctx context.Context, limit, offset int) ([]model.User, error)
	Create(ctx context.Context, params model.CreateUserParams) (*model.User, error)
	Update(ctx context.Context, id string, fn func(u *model.User) error) (*model.User, error)
	UpdateLastLogin(ctx context.Context, id string) error
	CountByRole(ctx context.Context) (map[model.Role]int, error)
}
