package execution

import (
	"context"
	"testing"
	"time"

	"github.com/go-foreman/conductor/log"
	"github.com/go-foreman/conductor/pubsub/endpoint"
	"github.com/go-foreman/conductor/pubsub/message"
	testingLog "github.com/go-foreman/conductor/testing/log"
	endpointMock "github.com/go-foreman/conductor/testing/mocks/pubsub/endpoint"
	"github.com/golang/mock/gomock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type someTestType struct {
	Data string `json:"data"`
}

func newReceivedJob() *message.ReceivedJob {
	return &message.ReceivedJob{
		Job: message.Job{
			ID:      "123",
			Name:    "some-job",
			Headers: message.Headers{"traceId": "trace"},
			Payload: someTestType{Data: "data"},
		},
		Origin:     "queue",
		ReceivedAt: time.Now(),
	}
}

func TestJobExecutionCtx_Send(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	testLogger := testingLog.NewNilLogger()
	testEndpoint := endpointMock.NewMockEndpoint(ctrl)
	testRouter := endpointMock.NewMockRouter(ctrl)

	factory := NewJobExecutionCtxFactory(testRouter, testLogger)

	t.Run("context fields", func(t *testing.T) {
		ctx := context.Background()
		received := newReceivedJob()
		execCtx := factory.CreateCtx(ctx, received)

		assert.Same(t, received, execCtx.Job())
		assert.Equal(t, ctx, execCtx.Context())

		execCtx.Logger().Log(log.InfoLevel, "hello")
		require.Len(t, testLogger.Entries(), 1)
		assert.Equal(t, log.Fields{"jobId": "123", "job": "some-job", "traceId": "trace"}, testLogger.Entries()[0].Fields)
		testLogger.Clear()
	})

	t.Run("no endpoints defined", func(t *testing.T) {
		defer testLogger.Clear()

		outbound := message.NewJob("another-job", someTestType{})

		testRouter.
			EXPECT().
			Route("another-job").
			Return(nil)

		execCtx := factory.CreateCtx(context.Background(), newReceivedJob())
		err := execCtx.Send(outbound)
		assert.EqualError(t, err, "no endpoints defined for job another-job")
		assert.IsType(t, NoDefinedEndpoints{}, err)

		require.Len(t, testLogger.Entries(), 1)
		logEntry := testLogger.Entries()[0]

		assert.Equal(t, "no endpoints defined for job another-job", logEntry.Msg)
		assert.Equal(t, log.ErrorLevel, logEntry.Level)
	})

	t.Run("successfully sent", func(t *testing.T) {
		defer testLogger.Clear()

		ctx := context.Background()
		outbound := message.NewJob("another-job", someTestType{})

		testEndpoint.
			EXPECT().
			Send(ctx, outbound, gomock.Any()).
			Return(nil)

		testRouter.
			EXPECT().
			Route("another-job").
			Return([]endpoint.Endpoint{testEndpoint})

		execCtx := factory.CreateCtx(ctx, newReceivedJob())
		assert.NoError(t, execCtx.Send(outbound, endpoint.WithDelay(time.Second)))
		assert.Empty(t, testLogger.Entries())
	})

	t.Run("error sending", func(t *testing.T) {
		defer testLogger.Clear()

		ctx := context.Background()
		outbound := message.NewJob("another-job", someTestType{})

		testEndpoint.
			EXPECT().
			Send(ctx, outbound).
			Return(errors.New("some error"))

		testRouter.
			EXPECT().
			Route("another-job").
			Return([]endpoint.Endpoint{testEndpoint})

		execCtx := factory.CreateCtx(ctx, newReceivedJob())
		err := execCtx.Send(outbound)
		assert.EqualError(t, err, "some error")

		require.Len(t, testLogger.Entries(), 1)
		logEntry := testLogger.Entries()[0]

		assert.Equal(t, "error sending job. some error", logEntry.Msg)
		assert.Equal(t, log.ErrorLevel, logEntry.Level)
	})
}

func TestJobExecutionCtx_Return(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	testLogger := testingLog.NewNilLogger()
	testEndpoint := endpointMock.NewMockEndpoint(ctrl)
	testRouter := endpointMock.NewMockRouter(ctrl)

	factory := NewJobExecutionCtxFactory(testRouter, testLogger)
	ctx := context.Background()

	t.Run("returned with incremented counter", func(t *testing.T) {
		received := newReceivedJob()
		received.Headers["returnsCount"] = float64(2)

		testRouter.
			EXPECT().
			Route("some-job").
			Return([]endpoint.Endpoint{testEndpoint})

		testEndpoint.
			EXPECT().
			Send(ctx, gomock.Any(), gomock.Any()).
			DoAndReturn(func(ctx context.Context, job *message.Job, opts ...endpoint.DeliveryOption) error {
				assert.Equal(t, "123", job.ID)
				assert.Equal(t, someTestType{Data: "data"}, job.Payload)
				assert.Equal(t, 3, job.Headers.ReturnsCount())
				assert.Len(t, opts, 1)
				return nil
			})

		execCtx := factory.CreateCtx(ctx, received)
		assert.NoError(t, execCtx.Return(endpoint.WithDelay(time.Second)))
		assert.Equal(t, 2, received.Headers.ReturnsCount())
	})

	t.Run("error returning", func(t *testing.T) {
		testRouter.
			EXPECT().
			Route("some-job").
			Return([]endpoint.Endpoint{testEndpoint})

		testEndpoint.
			EXPECT().
			Send(ctx, gomock.Any()).
			Return(errors.New("some error"))

		execCtx := factory.CreateCtx(ctx, newReceivedJob())
		assert.EqualError(t, execCtx.Return(), "returning job 123: some error")
	})
}
