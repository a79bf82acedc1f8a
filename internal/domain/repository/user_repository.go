package repository

import (
	"context"

	"github.com/oksasatya/homekeep/internal/apperr"
	"github.com/oksasatya/homekeep/internal/domain/entity"
)

// ErrNotFound is returned by repositories when no row matches.
var ErrNotFound = apperr.New(apperr.CodeNoRows, "row not found")

// UserRepository defines the interface for user-related database operations.
type UserRepository interface {
	Create(ctx context.Context, u *entity.User) error
	GetByID(ctx context.Context, id string) (*entity.User, error)
	GetByEmail(ctx context.Context, email string) (*entity.User, error)
	Update(ctx context.Context, u *entity.User) error
	UpdatePassword(ctx context.Context, id, hash string) error
	SetVerified(ctx context.Context, id string) error
	IsVerified(ctx context.Context, id string) (bool, error)
}
