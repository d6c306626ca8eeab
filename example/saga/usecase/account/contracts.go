package account

const SagaType = "register-account"

type RegisterAccount struct {
	UID   string `json:"uid"`
	Email string `json:"email"`
}

type AccountRegistered struct {
	UID          string `json:"uid"`
	RegisteredAt string `json:"registeredAt"`
}

type ConfirmationSent struct {
	ConfirmationFile string `json:"confirmationFile"`
}

// AccountService is implemented by handlers.AccountHandler
type AccountService interface {
	RegisterAccount(uid, email string) (*AccountRegistered, error)
	DeleteAccount(uid string) error
	SendConfirmation(sagaID, uid string) (*ConfirmationSent, error)
	SubscribeToNewsletter(email string) error
}
