package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nutricoach/scheduling-api/internal/model"
	"github.com/nutricoach/scheduling-api/internal/repository/memory"
	"github.com/nutricoach/scheduling-api/internal/service/event"
	"github.com/nutricoach/scheduling-api/pkg/logger"
	"github.com/nutricoach/scheduling-api/pkg/messaging"
	"github.com/nutricoach/scheduling-api/pkg/metrics"
)

type fixture struct {
	store     *memory.Store
	broker    *messaging.MemoryBroker
	processor *OutboxProcessor
}

func newFixture(t *testing.T, attempts int, opts ...Option) *fixture {
	t.Helper()
	store := memory.NewStore()
	broker := messaging.NewMemoryBroker()
	p, err := NewOutboxProcessor(store.Outbox(), store.Transactor(), broker, OutboxProcessorConfig{
		BatchSize:     10,
		PollInterval:  time.Second,
		RetryAttempts: attempts,
		RetryDelay:    time.Hour,
		ChannelPrefix: "scheduling",
	}, logger.Nop(), metrics.New("test"), opts...)
	require.NoError(t, err)
	return &fixture{store: store, broker: broker, processor: p}
}

func (f *fixture) emit(t *testing.T, eventType string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	require.NoError(t, event.NewService(f.store.Outbox()).Emit(context.Background(), eventType, id, map[string]string{"id": id.String()}))
	return id
}

func (f *fixture) only(t *testing.T) *model.OutboxEvent {
	t.Helper()
	events := f.store.OutboxEvents()
	require.Len(t, events, 1)
	return events[0]
}

func TestProcessOncePublishesAndMarksProcessed(t *testing.T) {
	f := newFixture(t, 3)
	aggregate := f.emit(t, event.AppointmentScheduled)

	n, err := f.processor.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	published := f.broker.Published()
	require.Len(t, published, 1)
	assert.Equal(t, "scheduling.appointment.scheduled", published[0].Channel)

	var msg messaging.Message
	require.NoError(t, json.Unmarshal(published[0].Body, &msg))
	assert.Equal(t, event.AppointmentScheduled, msg.Type)
	assert.Equal(t, aggregate, msg.AggregateID)
	assert.JSONEq(t, `{"id":"`+aggregate.String()+`"}`, string(msg.Payload))

	stored := f.only(t)
	assert.Equal(t, model.OutboxStatusProcessed, stored.Status)
	assert.NotNil(t, stored.ProcessedAt)

	n, err = f.processor.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "processed events are not published twice")
	assert.Len(t, f.broker.Published(), 1)
}

func TestFailedPublishIsRetriedLater(t *testing.T) {
	f := newFixture(t, 3)
	f.emit(t, event.AppointmentDeleted)
	f.broker.SetFail(errors.New("redis down"))

	n, err := f.processor.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	stored := f.only(t)
	assert.Equal(t, model.OutboxStatusRetry, stored.Status)
	assert.Equal(t, 1, stored.RetryCount)
	require.NotNil(t, stored.ErrorMessage)
	assert.Contains(t, *stored.ErrorMessage, "redis down")
	require.NotNil(t, stored.RetryAt)
	assert.True(t, stored.RetryAt.After(time.Now()))

	// Not due yet.
	f.broker.SetFail(nil)
	n, err = f.processor.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, f.broker.Published())
}

func TestEventFailsAfterRetryAttempts(t *testing.T) {
	// A clock two days behind makes every scheduled retry due immediately.
	f := newFixture(t, 3, WithClock(func() time.Time { return time.Now().Add(-48 * time.Hour) }))
	f.emit(t, event.AppointmentStatusChanged)
	f.broker.SetFail(errors.New("redis down"))

	for i := 0; i < 2; i++ {
		_, err := f.processor.ProcessOnce(context.Background())
		require.NoError(t, err)
		assert.Equal(t, model.OutboxStatusRetry, f.only(t).Status)
	}

	_, err := f.processor.ProcessOnce(context.Background())
	require.NoError(t, err)
	stored := f.only(t)
	assert.Equal(t, model.OutboxStatusFailed, stored.Status)
	assert.Equal(t, 2, stored.RetryCount)

	f.broker.SetFail(nil)
	n, err := f.processor.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "failed events are left alone")
}

func TestRetriedEventIsEventuallyPublished(t *testing.T) {
	f := newFixture(t, 3, WithClock(func() time.Time { return time.Now().Add(-48 * time.Hour) }))
	f.emit(t, event.AvailabilityReplaced)
	f.broker.SetFail(errors.New("timeout"))

	_, err := f.processor.ProcessOnce(context.Background())
	require.NoError(t, err)

	f.broker.SetFail(nil)
	n, err := f.processor.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, model.OutboxStatusProcessed, f.only(t).Status)
}

func TestBatchSizeLimitsEachPass(t *testing.T) {
	f := newFixture(t, 3)
	for i := 0; i < 15; i++ {
		f.emit(t, event.AppointmentScheduled)
	}

	n, err := f.processor.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	n, err = f.processor.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestNewOutboxProcessorRejectsBadConfig(t *testing.T) {
	store := memory.NewStore()
	_, err := NewOutboxProcessor(store.Outbox(), store.Transactor(), messaging.NewMemoryBroker(),
		OutboxProcessorConfig{BatchSize: 0, PollInterval: time.Second, RetryAttempts: 1, RetryDelay: time.Second},
		logger.Nop(), metrics.New("test"))
	assert.Error(t, err)
}

func TestBackoffDoubles(t *testing.T) {
	p := &OutboxProcessor{config: OutboxProcessorConfig{RetryDelay: time.Second}}
	assert.Equal(t, time.Second, p.backoff(0))
	assert.Equal(t, 4*time.Second, p.backoff(2))
	assert.Equal(t, p.backoff(10), p.backoff(50))
}
