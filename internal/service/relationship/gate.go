package relationship

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/nutricoach/scheduling-api/internal/repository"
	"github.com/nutricoach/scheduling-api/pkg/metrics"
)

// Gate answers whether a patient is actively linked to a nutritionist.
type Gate interface {
	IsActivelyLinked(ctx context.Context, patientID, nutritionistID uuid.UUID) (bool, error)
}

// RepositoryGate asks the relationship registry on every call. Answers are
// never cached: a revoked link must stop bookings immediately.
type RepositoryGate struct {
	repo    repository.RelationshipRepository
	metrics *metrics.Metrics
}

func NewGate(repo repository.RelationshipRepository, m *metrics.Metrics) *RepositoryGate {
	return &RepositoryGate{repo: repo, metrics: m}
}

func (g *RepositoryGate) IsActivelyLinked(ctx context.Context, patientID, nutritionistID uuid.UUID) (bool, error) {
	linked, err := g.repo.IsActivelyLinked(ctx, patientID, nutritionistID)
	if err != nil {
		g.metrics.DatabaseOperations.WithLabelValues("relationship_lookup", "error").Inc()
		return false, fmt.Errorf("relationship gate: %w", err)
	}
	g.metrics.DatabaseOperations.WithLabelValues("relationship_lookup", "success").Inc()
	return linked, nil
}
