package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oksasatya/homekeep/internal/domain/entity"
	"github.com/oksasatya/homekeep/internal/domain/repository"
)

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

func (r *MessageRepository) Create(ctx context.Context, m *entity.Message) error {
	return r.pool.QueryRow(ctx, `
		WITH ins AS (
			INSERT INTO messages (household_id, user_id, body)
			VALUES ($1, $2, $3)
			RETURNING id, user_id, created_at
		)
		SELECT ins.id, ins.created_at, u.name FROM ins JOIN users u ON u.id = ins.user_id
	`, m.HouseholdID, m.UserID, m.Body).Scan(&m.ID, &m.CreatedAt, &m.AuthorName)
}

func (r *MessageRepository) ListRecent(ctx context.Context, householdID string, before time.Time, limit int) ([]entity.Message, error) {
	if before.IsZero() {
		before = time.Now()
	}
	rows, err := r.pool.Query(ctx, `
		SELECT m.id, m.household_id, m.user_id, u.name, m.body, m.created_at
		FROM messages m
		JOIN users u ON u.id = m.user_id
		WHERE m.household_id = $1 AND m.created_at < $2
		ORDER BY m.created_at DESC
		LIMIT $3
	`, householdID, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []entity.Message{}
	for rows.Next() {
		var m entity.Message
		if err := rows.Scan(&m.ID, &m.HouseholdID, &m.UserID, &m.AuthorName, &m.Body, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

var _ repository.MessageRepository = (*MessageRepository)(nil)
