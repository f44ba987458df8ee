package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/nutricoach/scheduling-api/internal/model"
	"github.com/nutricoach/scheduling-api/internal/repository"
)

type userRepository struct {
	BaseRepository
}

func NewUserRepository(base BaseRepository) repository.UserRepository {
	return &userRepository{base}
}

// GetSummaries selects public columns only; password_hash never leaves the table.
func (r *userRepository) GetSummaries(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*model.UserSummary, error) {
	result := make(map[uuid.UUID]*model.UserSummary, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}

	query := `
		SELECT id, name, email, role
		FROM users
		WHERE id = ANY($1::uuid[])
	`
	var users []*model.UserSummary
	if err := sqlx.SelectContext(ctx, r.conn(ctx), &users, query, pq.Array(keys)); err != nil {
		return nil, fmt.Errorf("failed to get user summaries: %w", err)
	}

	for _, u := range users {
		result[u.ID] = u
	}
	return result, nil
}
