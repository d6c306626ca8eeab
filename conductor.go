package conductor

import (
	"context"

	"github.com/go-foreman/conductor/log"
	"github.com/go-foreman/conductor/pubsub/dispatcher"
	"github.com/go-foreman/conductor/pubsub/endpoint"
	"github.com/go-foreman/conductor/pubsub/message"
	"github.com/go-foreman/conductor/pubsub/message/execution"
	"github.com/go-foreman/conductor/pubsub/subscriber"
	"github.com/go-foreman/conductor/pubsub/transport"
	"github.com/go-foreman/conductor/runtime/scheme"
	"github.com/pkg/errors"
)

// Component allows to wrap and prepare booting of your component, which will be initialized by Conductor
type Component interface {
	Init(c *Conductor) error
}

// SubscriberOption allows to provide a few options for configuring Subscriber
type SubscriberOption func(subscriberOpts *subscriberOpts, c *container)

type subscriberOpts struct {
	subscriber subscriber.Subscriber
	transport  transport.Transport
	opts       []subscriber.Opt
}

// WithSubscriber option allows to specify your own implementation of Subscriber for Conductor
func WithSubscriber(subscriber subscriber.Subscriber) SubscriberOption {
	return func(subscriberOpts *subscriberOpts, c *container) {
		subscriberOpts.subscriber = subscriber
	}
}

// DefaultWithTransport option allows to specify your own transport which will be used in the default subscriber
func DefaultWithTransport(transport transport.Transport, opts ...subscriber.Opt) SubscriberOption {
	return func(subscriberOpts *subscriberOpts, c *container) {
		subscriberOpts.transport = transport
		subscriberOpts.opts = opts
	}
}

// SubscriberFactory is a function which gives you an access to default Processor and message.Decoder, these are needed when you implement own Subscriber
type SubscriberFactory func(processor subscriber.Processor, decoder message.Decoder) subscriber.Subscriber

// WithSubscriberFactory provides a way to construct your own Subscriber and pass it along to Conductor
func WithSubscriberFactory(factory SubscriberFactory) SubscriberOption {
	return func(subscriberOpts *subscriberOpts, c *container) {
		subscriberOpts.subscriber = factory(c.processor, c.jobDecoder)
	}
}

// ConfigOption allows to configure Conductor's container
type ConfigOption func(o *container)

type container struct {
	jobExecutionCtxFactory execution.JobExecutionCtxFactory
	jobsDispatcher         dispatcher.Dispatcher
	router                 endpoint.Router
	jobDecoder             message.Decoder
	processor              subscriber.Processor
	processorOpts          []subscriber.ProcessorOpt
	components             []Component
}

// WithComponents specifies a list of additional components you want to be registered in Conductor
func WithComponents(components ...Component) ConfigOption {
	return func(c *container) {
		c.components = append(c.components, components...)
	}
}

// WithRouter allows to provide another endpoint.Router implementation
func WithRouter(router endpoint.Router) ConfigOption {
	return func(c *container) {
		c.router = router
	}
}

// WithDispatcher allows to provide another dispatcher.Dispatcher implementation
func WithDispatcher(dispatcher dispatcher.Dispatcher) ConfigOption {
	return func(c *container) {
		c.jobsDispatcher = dispatcher
	}
}

// WithJobDecoder allows to provide another message.Decoder implementation
func WithJobDecoder(decoder message.Decoder) ConfigOption {
	return func(c *container) {
		c.jobDecoder = decoder
	}
}

// WithJobExecutionFactory allows to provide own execution.JobExecutionCtxFactory
func WithJobExecutionFactory(factory execution.JobExecutionCtxFactory) ConfigOption {
	return func(c *container) {
		c.jobExecutionCtxFactory = factory
	}
}

// WithProcessorOpts configures the default processor, e.g. returns of failed jobs
func WithProcessorOpts(opts ...subscriber.ProcessorOpt) ConfigOption {
	return func(c *container) {
		c.processorOpts = append(c.processorOpts, opts...)
	}
}

// Conductor is a main component, kind of a container which aggregates other components
type Conductor struct {
	jobsDispatcher dispatcher.Dispatcher
	router         endpoint.Router
	scheme         scheme.KnownTypesRegistry
	marshaller     message.Marshaller
	subscriber     subscriber.Subscriber
	logger         log.Logger
}

// NewConductor constructs Conductor, allows to specify logger, choose subscriber or use default with transport and other options which configure implementations of other important parts
func NewConductor(logger log.Logger, marshaller message.Marshaller, schemeRegistry scheme.KnownTypesRegistry, subscriberOption SubscriberOption, configOpts ...ConfigOption) (*Conductor, error) {
	c := &Conductor{logger: logger, marshaller: marshaller, scheme: schemeRegistry}

	opts := &container{}
	for _, config := range configOpts {
		config(opts)
	}

	if opts.jobsDispatcher == nil {
		opts.jobsDispatcher = dispatcher.NewDispatcher()
	}

	if opts.router == nil {
		opts.router = endpoint.NewRouter()
	}

	if opts.jobExecutionCtxFactory == nil {
		opts.jobExecutionCtxFactory = execution.NewJobExecutionCtxFactory(opts.router, logger)
	}

	if opts.jobDecoder == nil {
		opts.jobDecoder = message.NewJsonDecoder(schemeRegistry)
	}

	if opts.processor == nil {
		opts.processor = subscriber.NewJobProcessor(opts.jobDecoder, opts.jobExecutionCtxFactory, opts.jobsDispatcher, logger, opts.processorOpts...)
	}

	c.jobsDispatcher = opts.jobsDispatcher
	c.router = opts.router

	subscriberOpt := &subscriberOpts{}
	subscriberOption(subscriberOpt, opts)

	if subscriberOpt.subscriber != nil {
		c.subscriber = subscriberOpt.subscriber
	} else if subscriberOpt.transport != nil {
		c.subscriber = subscriber.NewSubscriber(subscriberOpt.transport, opts.processor, logger, subscriberOpt.opts...)
	} else {
		return nil, errors.New("subscriber is nil")
	}

	for _, component := range opts.components {
		if err := component.Init(c); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// Run starts processing jobs from the queues, blocks until ctx is canceled or the subscriber is stopped
func (c *Conductor) Run(ctx context.Context, queues ...transport.Queue) error {
	return c.subscriber.Run(ctx, queues...)
}

// Dispatcher returns an instance of dispatcher.Dispatcher
func (c *Conductor) Dispatcher() dispatcher.Dispatcher {
	return c.jobsDispatcher
}

// Router returns an instance of endpoint.Router
func (c *Conductor) Router() endpoint.Router {
	return c.router
}

// SchemeRegistry returns an instance of current scheme.KnownTypesRegistry which should contain all the payload types of jobs Conductor works with
func (c *Conductor) SchemeRegistry() scheme.KnownTypesRegistry {
	return c.scheme
}

// Marshaller returns an instance of message.Marshaller used by endpoints
func (c *Conductor) Marshaller() message.Marshaller {
	return c.marshaller
}

// Subscriber returns an instance of subscriber.Subscriber which controls the main flow of jobs
func (c *Conductor) Subscriber() subscriber.Subscriber {
	return c.subscriber
}

// Logger returns an instance of logger
func (c *Conductor) Logger() log.Logger {
	return c.logger
}
