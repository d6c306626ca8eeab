package status

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-foreman/conductor/log"
	"github.com/go-foreman/conductor/saga"
	"github.com/pkg/errors"
)

type SagaBatch struct {
	Count int          `json:"count"`
	Items []SagaStatus `json:"items"`
}

type SagaStatus struct {
	SagaID           string       `json:"sagaId"`
	Type             string       `json:"type"`
	CorrelationID    string       `json:"correlationId,omitempty"`
	Status           string       `json:"status"`
	CurrentStepIndex int          `json:"currentStepIndex"`
	TotalSteps       int          `json:"totalSteps"`
	Error            string       `json:"error,omitempty"`
	RetryCount       int          `json:"retryCount"`
	MaxRetries       int          `json:"maxRetries"`
	Input            saga.Payload `json:"input,omitempty"`
	Output           saga.Payload `json:"output,omitempty"`
	StartedAt        *time.Time   `json:"startedAt,omitempty"`
	CompletedAt      *time.Time   `json:"completedAt,omitempty"`
	CreatedAt        *time.Time   `json:"createdAt,omitempty"`
	Steps            []StepStatus `json:"steps"`
}

type StepStatus struct {
	Name        string     `json:"name"`
	StepIndex   int        `json:"stepIndex"`
	Status      string     `json:"status"`
	Error       string     `json:"error,omitempty"`
	RetryCount  int        `json:"retryCount"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// ControlResult is returned by cancel and retry
type ControlResult struct {
	SagaID string `json:"sagaId"`
	Status string `json:"status"`
}

//go:generate mockgen --build_flags=--mod=mod -destination ./mock_test.go -package status . SagaService

// SagaService is implemented by saga.Orchestrator
type SagaService interface {
	Get(ctx context.Context, sagaID string) (*saga.Instance, error)
	List(ctx context.Context, filters ...saga.FilterOption) ([]*saga.Instance, error)
	Cancel(ctx context.Context, sagaID string) (bool, error)
	Retry(ctx context.Context, sagaID string) (bool, error)
	Delete(ctx context.Context, sagaID string) error
}

type Pagination struct {
	Offset int
	Limit  int
}

type Filters struct {
	Status        string
	SagaType      string
	CorrelationID string
}

type StatusService interface {
	GetStatus(ctx context.Context, sagaID string) (*SagaStatus, error)
	GetFilteredBy(ctx context.Context, filters *Filters, pagination *Pagination) (*SagaBatch, error)
	Cancel(ctx context.Context, sagaID string) (*ControlResult, error)
	Retry(ctx context.Context, sagaID string) (*ControlResult, error)
	Delete(ctx context.Context, sagaID string) error
}

func NewStatusService(sagas SagaService) StatusService {
	return &statusService{sagas: sagas}
}

type statusService struct {
	sagas SagaService
}

func (s statusService) GetStatus(ctx context.Context, sagaID string) (*SagaStatus, error) {
	instance, err := s.get(ctx, sagaID)
	if err != nil {
		return nil, err
	}

	status := toSagaStatus(instance)

	return &status, nil
}

func (s statusService) GetFilteredBy(ctx context.Context, filters *Filters, pagination *Pagination) (*SagaBatch, error) {
	var opts []saga.FilterOption

	if filters.Status != "" {
		status, err := saga.ParseStatus(filters.Status)
		if err != nil {
			return nil, NewResponseError(http.StatusBadRequest, err)
		}

		opts = append(opts, saga.WithStatus(status))
	}

	if filters.SagaType != "" {
		opts = append(opts, saga.WithSagaType(filters.SagaType))
	}

	if filters.CorrelationID != "" {
		opts = append(opts, saga.WithCorrelationID(filters.CorrelationID))
	}

	if len(opts) == 0 && pagination == nil {
		return nil, NewResponseError(http.StatusBadRequest, errors.Errorf("Either filters or pagination must be specified"))
	}

	if pagination != nil {
		if pagination.Limit <= 0 || pagination.Offset < 0 {
			return nil, NewResponseError(http.StatusBadRequest, errors.Errorf("Pagination requires a positive limit and a non negative offset"))
		}

		opts = append(opts, saga.WithOffsetAndLimit(pagination.Offset, pagination.Limit))
	}

	instances, err := s.sagas.List(ctx, opts...)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	statuses := make([]SagaStatus, len(instances))

	for i, instance := range instances {
		statuses[i] = toSagaStatus(instance)
	}

	return &SagaBatch{
		Count: len(statuses),
		Items: statuses,
	}, nil
}

func (s statusService) Cancel(ctx context.Context, sagaID string) (*ControlResult, error) {
	if _, err := s.get(ctx, sagaID); err != nil {
		return nil, err
	}

	cancelled, err := s.sagas.Cancel(ctx, sagaID)
	if err != nil {
		return nil, errors.Wrapf(err, "error cancelling saga '%s'", sagaID)
	}

	if !cancelled {
		return nil, NewResponseError(http.StatusConflict, errors.Errorf("saga '%s' can't be cancelled", sagaID))
	}

	return &ControlResult{SagaID: sagaID, Status: saga.StatusCompensating.String()}, nil
}

func (s statusService) Retry(ctx context.Context, sagaID string) (*ControlResult, error) {
	if _, err := s.get(ctx, sagaID); err != nil {
		return nil, err
	}

	retried, err := s.sagas.Retry(ctx, sagaID)
	if err != nil {
		return nil, errors.Wrapf(err, "error retrying saga '%s'", sagaID)
	}

	if !retried {
		return nil, NewResponseError(http.StatusConflict, errors.Errorf("saga '%s' can't be retried", sagaID))
	}

	return &ControlResult{SagaID: sagaID, Status: saga.StatusPending.String()}, nil
}

func (s statusService) Delete(ctx context.Context, sagaID string) error {
	if err := s.sagas.Delete(ctx, sagaID); err != nil {
		if errors.Is(err, saga.ErrSagaNotFound) {
			return NewResponseError(http.StatusNotFound, errors.Errorf("saga '%s' not found", sagaID))
		}

		return errors.Wrapf(err, "error deleting saga '%s'", sagaID)
	}

	return nil
}

func (s statusService) get(ctx context.Context, sagaID string) (*saga.Instance, error) {
	instance, err := s.sagas.Get(ctx, sagaID)
	if err != nil {
		return nil, errors.Wrapf(err, "error loading saga '%s'", sagaID)
	}

	if instance == nil {
		return nil, NewResponseError(http.StatusNotFound, errors.Errorf("saga '%s' not found", sagaID))
	}

	return instance, nil
}

func toSagaStatus(instance *saga.Instance) SagaStatus {
	steps := make([]StepStatus, len(instance.Steps))

	for i, step := range instance.Steps {
		steps[i] = StepStatus{
			Name:        step.Name,
			StepIndex:   step.StepIndex,
			Status:      step.Status.String(),
			Error:       step.Error,
			RetryCount:  step.RetryCount,
			StartedAt:   step.StartedAt,
			CompletedAt: step.CompletedAt,
		}
	}

	return SagaStatus{
		SagaID:           instance.ID,
		Type:             instance.Type,
		CorrelationID:    instance.CorrelationID,
		Status:           instance.Status.String(),
		CurrentStepIndex: instance.CurrentStepIndex,
		TotalSteps:       instance.TotalSteps,
		Error:            instance.Error,
		RetryCount:       instance.RetryCount,
		MaxRetries:       instance.MaxRetries,
		Input:            instance.Input,
		Output:           instance.Output,
		StartedAt:        instance.StartedAt,
		CompletedAt:      instance.CompletedAt,
		CreatedAt:        instance.CreatedAt,
		Steps:            steps,
	}
}

type StatusHandler struct {
	service StatusService
	logger  log.Logger
}

func NewStatusHandler(logger log.Logger, service StatusService) *StatusHandler {
	return &StatusHandler{service: service, logger: logger}
}

// Routes mounts the saga endpoints on the router
func (h *StatusHandler) Routes(r chi.Router) {
	r.Get("/sagas", h.GetFilteredBy)
	r.Route("/sagas/{sagaId}", func(r chi.Router) {
		r.Get("/", h.GetStatus)
		r.Delete("/", h.Delete)
		r.Post("/cancel", h.Cancel)
		r.Post("/retry", h.Retry)
	})
}

func (h *StatusHandler) GetStatus(resp http.ResponseWriter, r *http.Request) {
	sagaID := chi.URLParam(r, "sagaId")

	statusResp, err := h.service.GetStatus(r.Context(), sagaID)
	if err != nil {
		NewResponseWriterFromError(err).write(resp, h.logger)
		return
	}

	NewResponseWriter(statusResp, http.StatusOK).write(resp, h.logger)
}

func (h *StatusHandler) Cancel(resp http.ResponseWriter, r *http.Request) {
	result, err := h.service.Cancel(r.Context(), chi.URLParam(r, "sagaId"))
	if err != nil {
		NewResponseWriterFromError(err).write(resp, h.logger)
		return
	}

	NewResponseWriter(result, http.StatusAccepted).write(resp, h.logger)
}

func (h *StatusHandler) Retry(resp http.ResponseWriter, r *http.Request) {
	result, err := h.service.Retry(r.Context(), chi.URLParam(r, "sagaId"))
	if err != nil {
		NewResponseWriterFromError(err).write(resp, h.logger)
		return
	}

	NewResponseWriter(result, http.StatusAccepted).write(resp, h.logger)
}

func (h *StatusHandler) Delete(resp http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "sagaId")); err != nil {
		NewResponseWriterFromError(err).write(resp, h.logger)
		return
	}

	NewResponseWriter(nil, http.StatusNoContent).write(resp, h.logger)
}

func (h *StatusHandler) GetFilteredBy(resp http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	var (
		filters    Filters
		pagination *Pagination
	)

	filters.Status = query.Get("status")
	filters.SagaType = query.Get("type")
	filters.CorrelationID = query.Get("correlationId")

	offset, err := h.getInt(query, "offset")
	if err != nil {
		NewResponseWriterFromError(err).write(resp, h.logger)
		return
	}

	limit, err := h.getInt(query, "limit")
	if err != nil {
		NewResponseWriterFromError(err).write(resp, h.logger)
		return
	}

	if offset != nil && limit == nil {
		NewResponseWriterFromErrMsg("Query param 'limit' must be specified along with 'offset'", http.StatusBadRequest).write(resp, h.logger)
		return
	}

	if limit != nil && offset == nil {
		NewResponseWriterFromErrMsg("Query param 'offset' must be specified along with 'limit'", http.StatusBadRequest).write(resp, h.logger)
		return
	}

	if limit != nil {
		pagination = &Pagination{
			Offset: *offset,
			Limit:  *limit,
		}
	}

	statusesResp, err := h.service.GetFilteredBy(r.Context(), &filters, pagination)
	if err != nil {
		NewResponseWriterFromError(err).write(resp, h.logger)
		return
	}

	NewResponseWriter(statusesResp, http.StatusOK).write(resp, h.logger)
}

func (h *StatusHandler) getInt(values url.Values, paramName string) (*int, error) {
	paramValue := values.Get(paramName)
	if paramValue != "" {
		intValue, err := strconv.Atoi(paramValue)
		if err != nil {
			return nil, NewResponseError(http.StatusBadRequest, errors.Errorf("Query parameter '%s' is expected to be an integer", paramName))
		}

		return &intValue, nil
	}

	return nil, nil
}
