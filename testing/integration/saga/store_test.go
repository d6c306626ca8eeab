//go:build integration

package saga

import (
	"context"
	"testing"
	"time"

	"github.com/go-foreman/conductor/saga"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSagaInstance(sagaType, correlationID string, stepsCount int) *saga.Instance {
	now := time.Now().UTC().Truncate(time.Second)
	sagaID := uuid.New().String()

	instance := &saga.Instance{
		ID:            sagaID,
		Type:          sagaType,
		CorrelationID: correlationID,
		Status:        saga.StatusPending,
		TotalSteps:    stepsCount,
		Input:         saga.Payload{"orderId": "o-1", "amount": float64(10)},
		Context:       saga.Payload{},
		MaxRetries:    3,
		CreatedAt:     &now,
		UpdatedAt:     &now,
	}

	for i := 0; i < stepsCount; i++ {
		instance.Steps = append(instance.Steps, &saga.StepInstance{
			ID:        uuid.New().String(),
			SagaID:    sagaID,
			Name:      "step",
			StepIndex: i,
			Status:    saga.StepStatusPending,
		})
	}

	return instance
}

func testUseCases(t *testing.T, store saga.Store) {
	ctx := context.Background()

	t.Run("create and fetch saga", func(t *testing.T) {
		instance := newSagaInstance("order", "corr-1", 2)
		require.NoError(t, store.Create(ctx, instance))

		fetched, err := store.GetByID(ctx, instance.ID)
		require.NoError(t, err)
		require.NotNil(t, fetched)

		assert.Equal(t, instance.ID, fetched.ID)
		assert.Equal(t, "order", fetched.Type)
		assert.Equal(t, "corr-1", fetched.CorrelationID)
		assert.Equal(t, saga.StatusPending, fetched.Status)
		assert.Equal(t, instance.Input, fetched.Input)
		assert.Equal(t, 3, fetched.MaxRetries)
		require.NotNil(t, fetched.CreatedAt)
		assert.WithinDuration(t, *instance.CreatedAt, *fetched.CreatedAt, time.Second)

		require.Len(t, fetched.Steps, 2)

		for i, step := range fetched.Steps {
			assert.Equal(t, instance.Steps[i].ID, step.ID)
			assert.Equal(t, i, step.StepIndex)
			assert.Equal(t, saga.StepStatusPending, step.Status)
		}

		require.NoError(t, store.Delete(ctx, instance.ID))
	})

	t.Run("create saga with existing id", func(t *testing.T) {
		instance := newSagaInstance("order", "", 1)
		require.NoError(t, store.Create(ctx, instance))
		assert.Error(t, store.Create(ctx, instance))
		require.NoError(t, store.Delete(ctx, instance.ID))
	})

	t.Run("fetch not existing saga", func(t *testing.T) {
		fetched, err := store.GetByID(ctx, uuid.New().String())
		assert.NoError(t, err)
		assert.Nil(t, fetched)
	})

	t.Run("update saga and its steps", func(t *testing.T) {
		instance := newSagaInstance("order", "", 2)
		require.NoError(t, store.Create(ctx, instance))

		startedAt := time.Now().UTC().Truncate(time.Second)
		instance.Status = saga.StatusRunning
		instance.StartedAt = &startedAt
		instance.Context = saga.Payload{"reserved": true}

		step := instance.Steps[0]
		step.Status = saga.StepStatusCompleted
		step.Output = saga.Payload{"reserved": true}
		step.IdempotencyKey = "o-1"

		updated, err := store.Update(ctx, instance, []*saga.StepInstance{step}, saga.StatusPending)
		require.NoError(t, err)
		assert.True(t, updated)

		fetched, err := store.GetByID(ctx, instance.ID)
		require.NoError(t, err)
		assert.Equal(t, saga.StatusRunning, fetched.Status)
		assert.Equal(t, saga.Payload{"reserved": true}, fetched.Context)
		require.NotNil(t, fetched.StartedAt)
		assert.WithinDuration(t, startedAt, *fetched.StartedAt, time.Second)
		assert.Equal(t, saga.StepStatusCompleted, fetched.Steps[0].Status)
		assert.Equal(t, "o-1", fetched.Steps[0].IdempotencyKey)
		assert.Equal(t, saga.StepStatusPending, fetched.Steps[1].Status)

		require.NoError(t, store.Delete(ctx, instance.ID))
	})

	t.Run("conditional update is skipped when status differs", func(t *testing.T) {
		instance := newSagaInstance("order", "", 1)
		require.NoError(t, store.Create(ctx, instance))

		instance.Status = saga.StatusCancelled

		updated, err := store.Update(ctx, instance, nil, saga.StatusRunning)
		require.NoError(t, err)
		assert.False(t, updated)

		fetched, err := store.GetByID(ctx, instance.ID)
		require.NoError(t, err)
		assert.Equal(t, saga.StatusPending, fetched.Status)

		require.NoError(t, store.Delete(ctx, instance.ID))
	})

	t.Run("status update leaves progress as stored", func(t *testing.T) {
		instance := newSagaInstance("order", "", 2)
		require.NoError(t, store.Create(ctx, instance))

		stale, err := store.GetByID(ctx, instance.ID)
		require.NoError(t, err)

		instance.Status = saga.StatusRunning
		instance.CurrentStepIndex = 1
		instance.Context = saga.Payload{"reserved": true}

		updated, err := store.Update(ctx, instance, nil, saga.StatusPending)
		require.NoError(t, err)
		require.True(t, updated)

		cancelledAt := time.Now().UTC().Truncate(time.Second)
		stale.Status = saga.StatusCompensating
		stale.Error = "user cancelled"
		stale.CancelledAt = &cancelledAt

		updated, err = store.UpdateStatus(ctx, stale, nil, saga.StatusPending, saga.StatusRunning, saga.StatusFailed)
		require.NoError(t, err)
		assert.True(t, updated)

		fetched, err := store.GetByID(ctx, instance.ID)
		require.NoError(t, err)
		assert.Equal(t, saga.StatusCompensating, fetched.Status)
		assert.Equal(t, "user cancelled", fetched.Error)
		assert.Equal(t, 1, fetched.CurrentStepIndex)
		assert.Equal(t, saga.Payload{"reserved": true}, fetched.Context)
		require.NotNil(t, fetched.CancelledAt)
		assert.WithinDuration(t, cancelledAt, *fetched.CancelledAt, time.Second)

		require.NoError(t, store.Delete(ctx, instance.ID))
	})

	t.Run("update a single step", func(t *testing.T) {
		instance := newSagaInstance("order", "", 1)
		require.NoError(t, store.Create(ctx, instance))

		step := instance.Steps[0]
		step.Status = saga.StepStatusFailed
		step.Error = "card declined"
		step.RetryCount = 2

		require.NoError(t, store.UpdateStep(ctx, step))

		fetched, err := store.GetByID(ctx, instance.ID)
		require.NoError(t, err)
		assert.Equal(t, saga.StepStatusFailed, fetched.Steps[0].Status)
		assert.Equal(t, "card declined", fetched.Steps[0].Error)
		assert.Equal(t, 2, fetched.Steps[0].RetryCount)

		require.NoError(t, store.Delete(ctx, instance.ID))
	})

	t.Run("filter sagas", func(t *testing.T) {
		sagaType := "filter-" + uuid.New().String()
		correlationID := uuid.New().String()

		first := newSagaInstance(sagaType, correlationID, 1)
		second := newSagaInstance(sagaType, "", 1)
		second.Status = saga.StatusCompleted
		third := newSagaInstance(sagaType, "", 1)

		for _, instance := range []*saga.Instance{first, second, third} {
			require.NoError(t, store.Create(ctx, instance))
		}

		byType, err := store.GetByFilter(ctx, saga.WithSagaType(sagaType))
		require.NoError(t, err)
		assert.Len(t, byType, 3)

		byStatus, err := store.GetByFilter(ctx, saga.WithSagaType(sagaType), saga.WithStatus(saga.StatusCompleted))
		require.NoError(t, err)
		require.Len(t, byStatus, 1)
		assert.Equal(t, second.ID, byStatus[0].ID)

		byCorrelation, err := store.GetByFilter(ctx, saga.WithCorrelationID(correlationID))
		require.NoError(t, err)
		require.Len(t, byCorrelation, 1)
		assert.Equal(t, first.ID, byCorrelation[0].ID)

		page, err := store.GetByFilter(ctx, saga.WithSagaType(sagaType), saga.WithOffsetAndLimit(1, 1))
		require.NoError(t, err)
		assert.Len(t, page, 1)

		_, err = store.GetByFilter(ctx)
		assert.Error(t, err)

		for _, instance := range []*saga.Instance{first, second, third} {
			require.NoError(t, store.Delete(ctx, instance.ID))
		}
	})

	t.Run("delete not existing saga", func(t *testing.T) {
		assert.ErrorIs(t, store.Delete(ctx, uuid.New().String()), saga.ErrSagaNotFound)
	})
}
