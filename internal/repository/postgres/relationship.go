package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nutricoach/scheduling-api/internal/repository"
)

type relationshipRepository struct {
	BaseRepository
}

// NewRelationshipRepository reads the link table owned by the relationship registry.
func NewRelationshipRepository(base BaseRepository) repository.RelationshipRepository {
	return &relationshipRepository{base}
}

func (r *relationshipRepository) IsActivelyLinked(ctx context.Context, patientID, nutritionistID uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM patient_nutritionist_links
			WHERE patient_id = $1
			AND nutritionist_id = $2
			AND status = 'active'
		)
	`
	var linked bool
	if err := sqlx.GetContext(ctx, r.conn(ctx), &linked, query, patientID, nutritionistID); err != nil {
		return false, fmt.Errorf("failed to check patient link: %w", err)
	}
	return linked, nil
}
