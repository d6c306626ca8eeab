package saga

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOpts(t *testing.T) {
	storeOpts := &filterOptions{}
	assert.True(t, storeOpts.empty())

	opts := []FilterOption{WithStatus(StatusFailed), WithSagaType("yyy"), WithCorrelationID("zzz"), WithOffsetAndLimit(10, 20)}
	for _, o := range opts {
		o(storeOpts)
	}

	assert.Equal(t, StatusFailed, storeOpts.status)
	assert.Equal(t, "yyy", storeOpts.sagaType)
	assert.Equal(t, "zzz", storeOpts.correlationID)
	assert.Equal(t, 10, storeOpts.offset)
	assert.Equal(t, 20, storeOpts.limit)
	assert.False(t, storeOpts.empty())
}

func TestStatusFromStr(t *testing.T) {
	type test struct {
		input  string
		errStr string
		res    Status
	}

	tests := []test{
		{input: "xxx", errStr: "unknown saga status xxx"},
		{input: "PENDING", res: StatusPending},
		{input: "RUNNING", res: StatusRunning},
		{input: "COMPLETED", res: StatusCompleted},
		{input: "FAILED", res: StatusFailed},
		{input: "COMPENSATING", res: StatusCompensating},
		{input: "COMPENSATED", res: StatusCompensated},
		{input: "CANCELLED", res: StatusCancelled},
	}

	for _, tc := range tests {
		st, err := statusFromStr(tc.input)
		if tc.errStr != "" {
			assert.Error(t, err)
			assert.EqualError(t, err, tc.errStr)
		} else {
			assert.Equal(t, tc.res, st)
		}
	}
}

func TestStepStatusFromStr(t *testing.T) {
	st, err := stepStatusFromStr("COMPENSATED")
	assert.NoError(t, err)
	assert.Equal(t, StepStatusCompensated, st)

	_, err = stepStatusFromStr("created")
	assert.EqualError(t, err, "unknown step status created")
}

func TestStatusPredicates(t *testing.T) {
	for _, st := range []Status{StatusCompleted, StatusCompensated, StatusCancelled} {
		assert.True(t, st.Terminal(), st)
		assert.False(t, st.Active(), st)
	}

	for _, st := range []Status{StatusPending, StatusRunning} {
		assert.True(t, st.Active(), st)
		assert.False(t, st.Terminal(), st)
	}

	assert.False(t, StatusFailed.Terminal())
	assert.False(t, StatusFailed.Active())
	assert.False(t, StatusCompensating.Terminal())
}
