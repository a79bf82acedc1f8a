package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oksasatya/homekeep/internal/domain/entity"
	"github.com/oksasatya/homekeep/internal/domain/repository"
)

type HouseholdRepository struct {
	pool *pgxpool.Pool
}

func NewHouseholdRepository(pool *pgxpool.Pool) *HouseholdRepository {
	return &HouseholdRepository{pool: pool}
}

const householdColumns = `h.id, h.name, h.invite_code, h.created_by, h.created_at, h.updated_at`
const membershipColumns = `m.id, m.household_id, m.user_id, m.role, m.points, m.created_at`

func scanHousehold(row pgx.Row) (*entity.Household, error) {
	h := &entity.Household{}
	if err := row.Scan(&h.ID, &h.Name, &h.InviteCode, &h.CreatedBy, &h.CreatedAt, &h.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	return h, nil
}

func scanMembership(row pgx.Row) (*entity.Membership, error) {
	m := &entity.Membership{}
	if err := row.Scan(&m.ID, &m.HouseholdID, &m.UserID, &m.Role, &m.Points, &m.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	return m, nil
}

func (r *HouseholdRepository) Create(ctx context.Context, h *entity.Household) (*entity.Membership, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := tx.QueryRow(ctx, `
		INSERT INTO households (name, invite_code, created_by)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at
	`, h.Name, h.InviteCode, h.CreatedBy).Scan(&h.ID, &h.CreatedAt, &h.UpdatedAt); err != nil {
		return nil, err
	}
	m, err := scanMembership(tx.QueryRow(ctx, `
		INSERT INTO household_members AS m (household_id, user_id, role)
		VALUES ($1, $2, $3)
		RETURNING `+membershipColumns, h.ID, h.CreatedBy, entity.RoleOwner))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func (r *HouseholdRepository) GetByID(ctx context.Context, id string) (*entity.Household, error) {
	return scanHousehold(r.pool.QueryRow(ctx, `SELECT `+householdColumns+` FROM households h WHERE h.id = $1`, id))
}

func (r *HouseholdRepository) GetByInviteCode(ctx context.Context, code string) (*entity.Household, error) {
	return scanHousehold(r.pool.QueryRow(ctx, `SELECT `+householdColumns+` FROM households h WHERE h.invite_code = upper($1)`, code))
}

func (r *HouseholdRepository) Rename(ctx context.Context, id, name string) error {
	res, err := r.pool.Exec(ctx, `UPDATE households SET name = $1, updated_at = now() WHERE id = $2`, name, id)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *HouseholdRepository) CurrentForUser(ctx context.Context, userID string) (*entity.Household, *entity.Membership, error) {
	h := &entity.Household{}
	m := &entity.Membership{}
	err := r.pool.QueryRow(ctx, `
		SELECT `+householdColumns+`, `+membershipColumns+`
		FROM household_members m
		JOIN households h ON h.id = m.household_id
		WHERE m.user_id = $1
		ORDER BY m.created_at ASC, m.household_id ASC
		LIMIT 1
	`, userID).Scan(&h.ID, &h.Name, &h.InviteCode, &h.CreatedBy, &h.CreatedAt, &h.UpdatedAt,
		&m.ID, &m.HouseholdID, &m.UserID, &m.Role, &m.Points, &m.CreatedAt)
	if err != nil {
		return nil, nil, notFound(err)
	}
	return h, m, nil
}

func (r *HouseholdRepository) GetMembership(ctx context.Context, householdID, userID string) (*entity.Membership, error) {
	return scanMembership(r.pool.QueryRow(ctx, `
		SELECT `+membershipColumns+` FROM household_members m
		WHERE m.household_id = $1 AND m.user_id = $2
	`, householdID, userID))
}

func (r *HouseholdRepository) AddMember(ctx context.Context, householdID, userID string, role entity.Role) (*entity.Membership, error) {
	return scanMembership(r.pool.QueryRow(ctx, `
		INSERT INTO household_members AS m (household_id, user_id, role)
		VALUES ($1, $2, $3)
		RETURNING `+membershipColumns, householdID, userID, role))
}

func (r *HouseholdRepository) RemoveMember(ctx context.Context, householdID, userID string) error {
	res, err := r.pool.Exec(ctx, `DELETE FROM household_members WHERE household_id = $1 AND user_id = $2`, householdID, userID)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *HouseholdRepository) Members(ctx context.Context, householdID string) ([]entity.Member, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+membershipColumns+`, u.name, u.email, u.avatar_url
		FROM household_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.household_id = $1
		ORDER BY m.created_at ASC
	`, householdID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []entity.Member{}
	for rows.Next() {
		var mb entity.Member
		if err := rows.Scan(&mb.ID, &mb.HouseholdID, &mb.UserID, &mb.Role, &mb.Points, &mb.CreatedAt,
			&mb.Name, &mb.Email, &mb.AvatarURL); err != nil {
			return nil, err
		}
		out = append(out, mb)
	}
	return out, rows.Err()
}

func (r *HouseholdRepository) Leaderboard(ctx context.Context, householdID string) ([]entity.LeaderboardEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT RANK() OVER (ORDER BY m.points DESC), m.user_id, u.name, u.avatar_url, m.points
		FROM household_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.household_id = $1
		ORDER BY m.points DESC, u.name ASC
	`, householdID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []entity.LeaderboardEntry{}
	for rows.Next() {
		var e entity.LeaderboardEntry
		if err := rows.Scan(&e.Rank, &e.UserID, &e.Name, &e.AvatarURL, &e.Points); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

var _ repository.HouseholdRepository = (*HouseholdRepository)(nil)
