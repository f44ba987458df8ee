package worker

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nutricoach/scheduling-api/internal/model"
	"github.com/nutricoach/scheduling-api/internal/repository/memory"
	"github.com/nutricoach/scheduling-api/pkg/logger"
	"github.com/nutricoach/scheduling-api/pkg/metrics"
)

func TestCleanupDeletesOnlyOldProcessedEvents(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	repo := store.Outbox()

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		e := &model.OutboxEvent{EventType: "appointment.scheduled", AggregateID: uuid.New(), Payload: []byte(`{}`)}
		require.NoError(t, repo.Create(ctx, e))
		ids = append(ids, e.ID)
	}
	require.NoError(t, repo.UpdateStatus(ctx, ids[0], model.OutboxStatusProcessed, nil, nil))
	msg := "gave up"
	require.NoError(t, repo.UpdateStatus(ctx, ids[1], model.OutboxStatusFailed, &msg, nil))

	w := NewOutboxCleanupWorker(repo, time.Hour, time.Minute, logger.Nop(), metrics.New("test"))

	deleted, err := w.Cleanup(ctx)
	require.NoError(t, err)
	assert.Zero(t, deleted, "recent events are retained")

	w.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	deleted, err = w.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	remaining := store.OutboxEvents()
	require.Len(t, remaining, 2)
	for _, e := range remaining {
		assert.NotEqual(t, ids[0], e.ID)
	}
}
