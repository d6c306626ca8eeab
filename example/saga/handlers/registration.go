package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-foreman/conductor/example/saga/usecase/account"
	"github.com/go-foreman/conductor/log"
	"github.com/go-foreman/conductor/saga"
)

// RegistrationHandler starts account registration sagas over http
type RegistrationHandler struct {
	orchestrator *saga.Orchestrator
	logger       log.Logger
}

func NewRegistrationHandler(orchestrator *saga.Orchestrator, logger log.Logger) *RegistrationHandler {
	return &RegistrationHandler{orchestrator: orchestrator, logger: logger}
}

func (h *RegistrationHandler) Routes(r chi.Router) {
	r.Post("/accounts", h.Register)
}

func (h *RegistrationHandler) Register(resp http.ResponseWriter, r *http.Request) {
	var cmd account.RegisterAccount

	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		h.write(resp, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	sagaID, err := h.orchestrator.Start(r.Context(), account.SagaType, cmd, saga.WithCorrelation(cmd.UID))
	if err != nil {
		h.logger.Logf(log.ErrorLevel, "starting registration of %s. %s", cmd.UID, err)
		h.write(resp, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}

	h.write(resp, http.StatusAccepted, map[string]string{"sagaId": sagaID})
}

func (h *RegistrationHandler) write(resp http.ResponseWriter, status int, body interface{}) {
	resp.Header().Set("Content-Type", "application/json")
	resp.WriteHeader(status)

	if err := json.NewEncoder(resp).Encode(body); err != nil {
		h.logger.Logf(log.ErrorLevel, "writing response. %s", err)
	}
}
