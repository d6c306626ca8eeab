package component

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-foreman/conductor"
	"github.com/go-foreman/conductor/pubsub/endpoint"
	"github.com/go-foreman/conductor/saga"
	"github.com/go-foreman/conductor/saga/api/handlers/status"
	"github.com/go-foreman/conductor/saga/handlers"
	"github.com/go-foreman/conductor/saga/mutex"
	"github.com/pkg/errors"
)

// Component wires sagas into Conductor: it registers job payloads, executors of saga jobs and endpoints saga jobs are sent to
type Component struct {
	definitions      []saga.Definition
	sagaStoreFactory StoreFactory
	sagaMutex        mutex.Mutex
	endpoints        []endpoint.Endpoint
	configOpts       []configOption

	registry     *saga.Registry
	orchestrator *saga.Orchestrator
	runner       *saga.Runner
}

type opts struct {
	apiRouter chi.Router
	sagaOpts  []saga.Opt
}

type configOption func(o *opts)

func NewSagaComponent(sagaStoreFactory StoreFactory, sagaMutex mutex.Mutex, opts ...configOption) *Component {
	return &Component{sagaStoreFactory: sagaStoreFactory, sagaMutex: sagaMutex, configOpts: opts}
}

func (c *Component) Init(cond *conductor.Conductor) error {
	opts := &opts{}
	for _, config := range c.configOpts {
		config(opts)
	}

	if len(c.endpoints) == 0 {
		return errors.New("no endpoints registered for saga jobs")
	}

	store, err := c.sagaStoreFactory()
	if err != nil {
		return err
	}

	logger := cond.Logger()

	c.registry = saga.NewRegistry(logger)
	for _, def := range c.definitions {
		c.registry.Register(def)
	}

	RegisterSagaJobs(cond)

	for _, sagaEndpoint := range c.endpoints {
		cond.Router().RegisterEndpoint(sagaEndpoint, saga.ExecuteJobName, saga.CompensateJobName, saga.TimeoutJobName)
	}

	sender := handlers.NewJobSender(cond.Router(), logger)

	c.orchestrator = saga.NewOrchestrator(c.registry, store, sender, logger, opts.sagaOpts...)
	c.runner = saga.NewRunner(c.registry, store, sender, c.sagaMutex, logger, opts.sagaOpts...)

	handlers.NewSagaControlHandler(c.runner).Subscribe(cond.Dispatcher())

	if opts.apiRouter != nil {
		status.NewStatusHandler(logger, status.NewStatusService(c.orchestrator)).Routes(opts.apiRouter)
	}

	return nil
}

// RegisterSagaJobs registers payloads of saga jobs in the scheme, so they can be decoded
func RegisterSagaJobs(cond *conductor.Conductor) {
	cond.SchemeRegistry().AddKnownType(saga.ExecuteJobName, saga.ExecuteJob{})
	cond.SchemeRegistry().AddKnownType(saga.CompensateJobName, saga.CompensateJob{})
	cond.SchemeRegistry().AddKnownType(saga.TimeoutJobName, saga.TimeoutJob{})
}

func (c *Component) RegisterSagas(definitions ...saga.Definition) {
	c.definitions = append(c.definitions, definitions...)
}

func (c *Component) RegisterSagaEndpoints(endpoints ...endpoint.Endpoint) {
	c.endpoints = append(c.endpoints, endpoints...)
}

// Orchestrator is available after the component is initialized
func (c *Component) Orchestrator() *saga.Orchestrator {
	return c.orchestrator
}

// Registry is available after the component is initialized, definitions may be registered there at runtime
func (c *Component) Registry() *saga.Registry {
	return c.registry
}

func (c *Component) Runner() *saga.Runner {
	return c.runner
}

// WithSagaApiServer mounts the saga status API on the router
func WithSagaApiServer(router chi.Router) configOption {
	return func(o *opts) {
		o.apiRouter = router
	}
}

// WithSagaOpts passes options like saga.WithMetrics to the orchestrator and the runner
func WithSagaOpts(sagaOpts ...saga.Opt) configOption {
	return func(o *opts) {
		o.sagaOpts = append(o.sagaOpts, sagaOpts...)
	}
}

type StoreFactory func() (saga.Store, error)
