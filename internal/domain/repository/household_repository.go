package repository

import (
	"context"

	"github.com/oksasatya/homekeep/internal/domain/entity"
)

type HouseholdRepository interface {
	// Create inserts the household and the creator's owner membership atomically.
	Create(ctx context.Context, h *entity.Household) (*entity.Membership, error)
	GetByID(ctx context.Context, id string) (*entity.Household, error)
	GetByInviteCode(ctx context.Context, code string) (*entity.Household, error)
	Rename(ctx context.Context, id, name string) error
	// CurrentForUser returns the household of the user's earliest membership,
	// ties broken by household id. ErrNotFound when the user has none.
	CurrentForUser(ctx context.Context, userID string) (*entity.Household, *entity.Membership, error)
	GetMembership(ctx context.Context, householdID, userID string) (*entity.Membership, error)
	AddMember(ctx context.Context, householdID, userID string, role entity.Role) (*entity.Membership, error)
	RemoveMember(ctx context.Context, householdID, userID string) error
	Members(ctx context.Context, householdID string) ([]entity.Member, error)
	Leaderboard(ctx context.Context, householdID string) ([]entity.LeaderboardEntry, error)
}
