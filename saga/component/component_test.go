package component

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-foreman/conductor"
	"github.com/go-foreman/conductor/pubsub/endpoint"
	"github.com/go-foreman/conductor/pubsub/message"
	"github.com/go-foreman/conductor/pubsub/subscriber"
	"github.com/go-foreman/conductor/pubsub/transport"
	"github.com/go-foreman/conductor/pubsub/transport/memory"
	"github.com/go-foreman/conductor/runtime/scheme"
	sagaPkg "github.com/go-foreman/conductor/saga"
	"github.com/go-foreman/conductor/saga/mutex"
	"github.com/go-foreman/conductor/testing/log"
	endpointMock "github.com/go-foreman/conductor/testing/mocks/pubsub/endpoint"
	messageMock "github.com/go-foreman/conductor/testing/mocks/pubsub/message"
	subscriberMock "github.com/go-foreman/conductor/testing/mocks/pubsub/subscriber"
	sagaMock "github.com/go-foreman/conductor/testing/mocks/saga"
	mutexMock "github.com/go-foreman/conductor/testing/mocks/saga/mutex"
	"github.com/golang/mock/gomock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComponent_Init(t *testing.T) {
	ctrl := gomock.NewController(t)

	testLogger := log.NewNilLogger()

	cond, err := conductor.NewConductor(
		testLogger,
		messageMock.NewMockMarshaller(ctrl),
		scheme.NewKnownTypesRegistry(),
		conductor.WithSubscriber(subscriberMock.NewMockSubscriber(ctrl)),
	)
	require.NoError(t, err)

	storeMock := sagaMock.NewMockStore(ctrl)
	sagaMutexMock := mutexMock.NewMockMutex(ctrl)
	storeFactory := func() (sagaPkg.Store, error) {
		return storeMock, nil
	}

	t.Run("store factory returns an error", func(t *testing.T) {
		c := NewSagaComponent(func() (sagaPkg.Store, error) {
			return nil, errors.New("some error")
		}, sagaMutexMock)
		c.RegisterSagaEndpoints(endpointMock.NewMockEndpoint(ctrl))

		assert.EqualError(t, c.Init(cond), "some error")
	})

	t.Run("endpoints are required", func(t *testing.T) {
		c := NewSagaComponent(storeFactory, sagaMutexMock)

		assert.EqualError(t, c.Init(cond), "no endpoints registered for saga jobs")
	})

	t.Run("init component with no errors", func(t *testing.T) {
		sagaEndpoint := endpointMock.NewMockEndpoint(ctrl)
		sagaEndpoint.EXPECT().Name().Return("sagas").AnyTimes()

		apiRouter := chi.NewRouter()

		c := NewSagaComponent(storeFactory, sagaMutexMock, WithSagaApiServer(apiRouter), WithSagaOpts(sagaPkg.WithMetrics(sagaPkg.NopMetrics())))
		c.RegisterSagas(sagaPkg.Definition{Type: "order"}, sagaPkg.Definition{Type: "refund"})
		c.RegisterSagaEndpoints(sagaEndpoint)

		require.NoError(t, c.Init(cond))

		assert.NotNil(t, c.Orchestrator())
		assert.NotNil(t, c.Runner())
		assert.Equal(t, []string{"order", "refund"}, c.Registry().Types())

		assert.Equal(t, []string{sagaPkg.CompensateJobName, sagaPkg.ExecuteJobName, sagaPkg.TimeoutJobName}, cond.Dispatcher().JobNames())

		for _, jobName := range []string{sagaPkg.ExecuteJobName, sagaPkg.CompensateJobName, sagaPkg.TimeoutJobName} {
			assert.Len(t, cond.Dispatcher().Match(jobName), 1)
			assert.Equal(t, []endpoint.Endpoint{sagaEndpoint}, cond.Router().Route(jobName))
		}

		obj, err := cond.SchemeRegistry().NewObject(sagaPkg.ExecuteJobName)
		require.NoError(t, err)
		assert.IsType(t, &sagaPkg.ExecuteJob{}, obj)

		storeMock.EXPECT().GetByID(gomock.Any(), "123").Return(nil, nil)

		recorder := httptest.NewRecorder()
		apiRouter.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/sagas/123", nil))
		assert.Equal(t, http.StatusNotFound, recorder.Code)
	})
}

type runningConductor struct {
	component *Component
	store     *sagaPkg.MemoryStore
	api       chi.Router
	cancel    context.CancelFunc
	done      chan error
}

func runConductor(t *testing.T, definitions ...sagaPkg.Definition) *runningConductor {
	ctx := context.Background()
	logger := log.NewNilLogger()
	marshaller := message.NewJsonMarshaller()

	tr := memory.NewTransport(logger)
	require.NoError(t, tr.Connect(ctx))
	require.NoError(t, tr.CreateTopic(ctx, memory.Topic("conductor")))
	require.NoError(t, tr.CreateQueue(ctx, memory.Queue("sagas"), memory.QueueBind("conductor", "#")))

	store := sagaPkg.NewMemoryStore()
	api := chi.NewRouter()

	c := NewSagaComponent(func() (sagaPkg.Store, error) {
		return store, nil
	}, mutex.NewLocalMutex(), WithSagaApiServer(api))
	c.RegisterSagas(definitions...)
	c.RegisterSagaEndpoints(endpoint.NewTransportEndpoint("sagas", tr, transport.DeliveryDestination{DestinationTopic: "conductor"}, marshaller))

	cond, err := conductor.NewConductor(
		logger,
		marshaller,
		scheme.NewKnownTypesRegistry(),
		conductor.DefaultWithTransport(tr, subscriber.WithConfig(&subscriber.Config{
			WorkersCount:                   4,
			WorkerWaitingAssignmentTimeout: time.Millisecond * 20,
			PackageProcessingMaxTime:       time.Second * 5,
			GracefulShutdownTimeout:        time.Second * 5,
		})),
		conductor.WithComponents(c),
		conductor.WithProcessorOpts(subscriber.WithProcessorConfig(subscriber.ProcessorConfig{
			MaxReturns:     3,
			ReturnDelay:    time.Millisecond * 10,
			MaxReturnDelay: time.Millisecond * 100,
		})),
	)
	require.NoError(t, err)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)

	go func() {
		done <- cond.Run(runCtx, memory.Queue("sagas"))
	}()

	rc := &runningConductor{component: c, store: store, api: api, cancel: cancel, done: done}

	t.Cleanup(rc.stop)

	return rc
}

func (r *runningConductor) stop() {
	r.cancel()

	select {
	case <-r.done:
	case <-time.After(time.Second * 5):
	}
}

func (r *runningConductor) waitStatus(t *testing.T, sagaID string, status sagaPkg.Status) *sagaPkg.Instance {
	var instance *sagaPkg.Instance

	require.Eventually(t, func() bool {
		var err error
		instance, err = r.store.GetByID(context.Background(), sagaID)
		return err == nil && instance != nil && instance.Status == status
	}, time.Second*5, time.Millisecond*10)

	return instance
}

func TestSagaEndToEnd(t *testing.T) {
	ctx := context.Background()

	t.Run("saga is completed", func(t *testing.T) {
		rc := runConductor(t, sagaPkg.Definition{
			Type: "order",
			Steps: []sagaPkg.StepDefinition{
				{
					Name: "reserve",
					Execute: func(ctx context.Context, input sagaPkg.Payload, ec sagaPkg.ExecutionContext) sagaPkg.StepResult {
						return sagaPkg.Succeeded(sagaPkg.Payload{"reservationId": "r-" + ec.Input["orderId"].(string)})
					},
				},
				{
					Name: "charge",
					Execute: func(ctx context.Context, input sagaPkg.Payload, ec sagaPkg.ExecutionContext) sagaPkg.StepResult {
						return sagaPkg.Succeeded(sagaPkg.Payload{"charged": ec.Data["reservationId"]})
					},
				},
			},
		})

		sagaID, err := rc.component.Orchestrator().Start(ctx, "order", map[string]interface{}{"orderId": "o-1"})
		require.NoError(t, err)

		instance := rc.waitStatus(t, sagaID, sagaPkg.StatusCompleted)
		assert.Equal(t, "r-o-1", instance.Output["reservationId"])
		assert.Equal(t, "r-o-1", instance.Output["charged"])

		for _, step := range instance.Steps {
			assert.Equal(t, sagaPkg.StepStatusCompleted, step.Status)
		}

		recorder := httptest.NewRecorder()
		rc.api.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/sagas/"+sagaID, nil))
		require.Equal(t, http.StatusOK, recorder.Code)

		var resp map[string]interface{}
		require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp))
		assert.Equal(t, "COMPLETED", resp["status"])
	})

	t.Run("failed saga is compensated", func(t *testing.T) {
		compensated := make(chan string, 1)

		rc := runConductor(t, sagaPkg.Definition{
			Type: "order",
			Steps: []sagaPkg.StepDefinition{
				{
					Name: "reserve",
					Execute: func(ctx context.Context, input sagaPkg.Payload, ec sagaPkg.ExecutionContext) sagaPkg.StepResult {
						return sagaPkg.Succeeded(sagaPkg.Payload{"reservationId": "r-1"})
					},
					Compensate: func(ctx context.Context, input sagaPkg.Payload, output sagaPkg.Payload, ec sagaPkg.ExecutionContext) sagaPkg.CompensationResult {
						compensated <- output["reservationId"].(string)
						return sagaPkg.Compensated()
					},
				},
				{
					Name:  "charge",
					Retry: &sagaPkg.RetryPolicy{MaxRetries: 1, Delay: time.Millisecond * 10},
					Execute: func(ctx context.Context, input sagaPkg.Payload, ec sagaPkg.ExecutionContext) sagaPkg.StepResult {
						return sagaPkg.Failed(errors.New("card declined"), true)
					},
				},
			},
		})

		sagaID, err := rc.component.Orchestrator().Start(ctx, "order", nil)
		require.NoError(t, err)

		instance := rc.waitStatus(t, sagaID, sagaPkg.StatusCompensated)
		assert.Contains(t, instance.Error, "card declined")
		assert.Equal(t, sagaPkg.StepStatusCompensated, instance.Steps[0].Status)
		assert.Equal(t, sagaPkg.StepStatusFailed, instance.Steps[1].Status)
		assert.Equal(t, 1, instance.Steps[1].RetryCount)
		assert.Equal(t, "r-1", <-compensated)
	})
}
