package account

import (
	"context"
	"testing"

	"github.com/go-foreman/conductor/saga"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type accountsStub struct {
	registerErr error
	deleted     []string
}

func (a *accountsStub) RegisterAccount(uid, email string) (*AccountRegistered, error) {
	if a.registerErr != nil {
		return nil, a.registerErr
	}

	return &AccountRegistered{UID: uid, RegisteredAt: "2021-01-01T00:00:00Z"}, nil
}

func (a *accountsStub) DeleteAccount(uid string) error {
	a.deleted = append(a.deleted, uid)
	return nil
}

func (a *accountsStub) SendConfirmation(sagaID, uid string) (*ConfirmationSent, error) {
	return &ConfirmationSent{ConfirmationFile: "/tmp/" + sagaID}, nil
}

func (a *accountsStub) SubscribeToNewsletter(email string) error {
	return nil
}

func TestRegisterAccountSaga(t *testing.T) {
	ctx := context.Background()

	t.Run("input is validated", func(t *testing.T) {
		def := NewRegisterAccountSaga(&accountsStub{})

		_, err := def.PrepareInput(RegisterAccount{UID: "1"})
		assert.EqualError(t, err, "uid and email are required")

		input, err := def.PrepareInput(RegisterAccount{UID: "1", Email: "a@b.c"})
		require.NoError(t, err)
		assert.Equal(t, saga.Payload{"uid": "1", "email": "a@b.c"}, input)
	})

	t.Run("registration output is passed to the next steps", func(t *testing.T) {
		def := NewRegisterAccountSaga(&accountsStub{})
		ec := saga.ExecutionContext{SagaID: "saga-1", Input: saga.Payload{"uid": "1", "email": "a@b.c"}}

		result := def.Steps[0].Execute(ctx, ec.Input, ec)
		require.True(t, result.Success)
		assert.Equal(t, "1", result.Output["uid"])

		ec.Data = result.Output
		result = def.Steps[1].Execute(ctx, nil, ec)
		require.True(t, result.Success)
		assert.Equal(t, "/tmp/saga-1", result.Output["confirmationFile"])
	})

	t.Run("existing account is not retried", func(t *testing.T) {
		def := NewRegisterAccountSaga(&accountsStub{registerErr: errors.Wrap(ErrAccountExists, "registering 1")})
		ec := saga.ExecutionContext{Input: saga.Payload{"uid": "1", "email": "a@b.c"}}

		result := def.Steps[0].Execute(ctx, ec.Input, ec)
		assert.False(t, result.Success)
		assert.False(t, result.ShouldRetry)
	})

	t.Run("compensation deletes the account", func(t *testing.T) {
		accounts := &accountsStub{}
		def := NewRegisterAccountSaga(accounts)

		result := def.Steps[0].Compensate(ctx, nil, saga.Payload{"uid": "1"}, saga.ExecutionContext{})
		assert.True(t, result.Success)
		assert.Equal(t, []string{"1"}, accounts.deleted)
	})
}
