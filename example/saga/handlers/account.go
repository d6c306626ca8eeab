package handlers

import (
	"math/rand"
	"os"
	"path"
	"sync"
	"time"

	"github.com/go-foreman/conductor/example/saga/usecase/account"
	"github.com/go-foreman/conductor/log"
	"github.com/pkg/errors"
)

type Account struct {
	uid                string
	email              string
	confirmationSentAt time.Time
}

// AccountHandler imitates an account service that fails from time to time
type AccountHandler struct {
	sync.Mutex
	runtimeDb        map[string]*Account
	logger           log.Logger
	confirmationsDir string
	failureRate      float64
}

func NewAccountHandler(logger log.Logger, confirmationsDir string, failureRate float64) (*AccountHandler, error) {
	if err := os.MkdirAll(confirmationsDir, 0755); err != nil {
		return nil, errors.Wrapf(err, "creating confirmations dir %s", confirmationsDir)
	}

	return &AccountHandler{
		runtimeDb:        make(map[string]*Account),
		logger:           logger,
		confirmationsDir: confirmationsDir,
		failureRate:      failureRate,
	}, nil
}

func (h *AccountHandler) RegisterAccount(uid, email string) (*account.AccountRegistered, error) {
	if h.unlucky() {
		return nil, errors.New("idk, some error happened :)")
	}

	if _, exists := h.getAccount(uid); exists {
		return nil, errors.Wrapf(account.ErrAccountExists, "registering %s", uid)
	}

	registeredAt := time.Now()
	h.saveAccount(&Account{uid: uid, email: email})

	h.logger.Logf(log.InfoLevel, "account %s was registered", uid)

	return &account.AccountRegistered{UID: uid, RegisteredAt: registeredAt.Format(time.RFC3339)}, nil
}

func (h *AccountHandler) DeleteAccount(uid string) error {
	h.Lock()
	defer h.Unlock()

	delete(h.runtimeDb, uid)
	h.logger.Logf(log.InfoLevel, "account %s was deleted", uid)

	return nil
}

// SendConfirmation writes the uid into a file named by the saga id, a user would confirm the registration with it
func (h *AccountHandler) SendConfirmation(sagaID, uid string) (*account.ConfirmationSent, error) {
	acc, exists := h.getAccount(uid)
	if !exists {
		return nil, errors.Errorf("account %s does not exist", uid)
	}

	if h.unlucky() {
		return nil, errors.Errorf("mail server rejected confirmation to %s", acc.email)
	}

	confirmationFile := path.Join(h.confirmationsDir, sagaID)

	if err := os.WriteFile(confirmationFile, []byte(uid), 0644); err != nil {
		return nil, errors.Wrapf(err, "writing confirmation of %s", uid)
	}

	h.Lock()
	acc.confirmationSentAt = time.Now()
	h.Unlock()

	return &account.ConfirmationSent{ConfirmationFile: confirmationFile}, nil
}

func (h *AccountHandler) SubscribeToNewsletter(email string) error {
	if h.unlucky() {
		return errors.Errorf("newsletter is unavailable, %s is not subscribed", email)
	}

	return nil
}

func (h *AccountHandler) unlucky() bool {
	return rand.Float64() < h.failureRate
}

func (h *AccountHandler) getAccount(uid string) (*Account, bool) {
	h.Lock()
	defer h.Unlock()
	acc, exists := h.runtimeDb[uid]
	return acc, exists
}

func (h *AccountHandler) saveAccount(acc *Account) {
	h.Lock()
	defer h.Unlock()
	h.runtimeDb[acc.uid] = acc
}
