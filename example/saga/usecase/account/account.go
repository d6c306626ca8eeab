package account

import (
	"context"
	"time"

	"github.com/go-foreman/conductor/saga"
	"github.com/pkg/errors"
)

// NewRegisterAccountSaga registers an account, sends a confirmation and subscribes the account to the newsletter.
// If the confirmation can't be sent the account is deleted.
func NewRegisterAccountSaga(accounts AccountService) saga.Definition {
	return saga.Definition{
		Type:    SagaType,
		Timeout: time.Minute * 5,
		PrepareInput: func(raw interface{}) (saga.Payload, error) {
			input, err := saga.ToPayload(raw)
			if err != nil {
				return nil, err
			}

			var cmd RegisterAccount
			if err := input.Decode(&cmd); err != nil {
				return nil, err
			}

			if cmd.UID == "" || cmd.Email == "" {
				return nil, errors.New("uid and email are required")
			}

			return input, nil
		},
		Steps: []saga.StepDefinition{
			{
				Name:  "register-account",
				Retry: &saga.RetryPolicy{MaxRetries: 5, Delay: time.Second, Backoff: true},
				Execute: func(ctx context.Context, input saga.Payload, ec saga.ExecutionContext) saga.StepResult {
					var cmd RegisterAccount
					if err := ec.Input.Decode(&cmd); err != nil {
						return saga.Failed(err, false)
					}

					registered, err := accounts.RegisterAccount(cmd.UID, cmd.Email)
					if err != nil {
						return saga.Failed(err, !errors.Is(err, ErrAccountExists))
					}

					output, err := saga.ToPayload(registered)
					if err != nil {
						return saga.Failed(err, false)
					}

					return saga.Succeeded(output)
				},
				Compensate: func(ctx context.Context, input saga.Payload, output saga.Payload, ec saga.ExecutionContext) saga.CompensationResult {
					var registered AccountRegistered
					if err := output.Decode(&registered); err != nil {
						return saga.CompensationFailed(err)
					}

					if err := accounts.DeleteAccount(registered.UID); err != nil {
						return saga.CompensationFailed(err)
					}

					return saga.Compensated()
				},
			},
			{
				Name:    "send-confirmation",
				Timeout: time.Second * 10,
				Execute: func(ctx context.Context, input saga.Payload, ec saga.ExecutionContext) saga.StepResult {
					uid, _ := ec.Data["uid"].(string)

					sent, err := accounts.SendConfirmation(ec.SagaID, uid)
					if err != nil {
						return saga.Failed(err, true)
					}

					output, err := saga.ToPayload(sent)
					if err != nil {
						return saga.Failed(err, false)
					}

					return saga.Succeeded(output)
				},
			},
			{
				Name:      "subscribe-to-newsletter",
				Skippable: true,
				Retry:     &saga.RetryPolicy{MaxRetries: 1, Delay: time.Second},
				Execute: func(ctx context.Context, input saga.Payload, ec saga.ExecutionContext) saga.StepResult {
					email, _ := ec.Input["email"].(string)

					if err := accounts.SubscribeToNewsletter(email); err != nil {
						return saga.Failed(err, true)
					}

					return saga.Succeeded(saga.Payload{"subscribed": true})
				},
			},
		},
	}
}

var ErrAccountExists = errors.New("account already exists")
