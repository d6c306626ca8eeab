package subscriber

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-foreman/conductor/log"
	"github.com/go-foreman/conductor/pubsub/transport"
	"github.com/pkg/errors"
)

//go:generate mockgen --build_flags=--mod=mod -destination ../../testing/mocks/pubsub/subscriber/subscriber.go -package subscriber . Subscriber

// Subscriber starts listening for queues and processes jobs
type Subscriber interface {
	// Run listens queues for packages and processes them. Gracefully shuts down either on os.Signal or ctx.Done() or Stop()
	Run(ctx context.Context, queues ...transport.Queue) error
	// Stop waits for the packages in progress and calls transport.Disconnect().
	Stop(ctx context.Context) error
}

// Config allows to configure subscriber workflow
type Config struct {
	// WorkersCount specifies a number workers that process packages
	WorkersCount uint
	// WorkerWaitingAssignmentTimeout amount of time that a worker will wait for assigning a package
	WorkerWaitingAssignmentTimeout time.Duration
	// PackageProcessingMaxTime amount of time for a package to be processed
	PackageProcessingMaxTime time.Duration
	// GracefulShutdownTimeout amount of time for graceful shutdown
	GracefulShutdownTimeout time.Duration
}

var DefaultConfig = Config{
	WorkersCount:                   10,
	WorkerWaitingAssignmentTimeout: time.Second * 3,
	PackageProcessingMaxTime:       time.Second * 60,
	GracefulShutdownTimeout:        time.Second * 61,
}

type subscriberOpts struct {
	config      *Config
	consumeOpts []transport.ConsumeOpt
}

type Opt func(o *subscriberOpts)

func WithConfig(c *Config) Opt {
	return func(o *subscriberOpts) {
		o.config = c
	}
}

// WithConsumeOpts passes transport specific options to Consume, e.g. amqp.WithQosPrefetchCount
func WithConsumeOpts(opts ...transport.ConsumeOpt) Opt {
	return func(o *subscriberOpts) {
		o.consumeOpts = append(o.consumeOpts, opts...)
	}
}

// NewSubscriber creates default subscriber implementation
func NewSubscriber(transport transport.Transport, processor Processor, logger log.Logger, opts ...Opt) Subscriber {
	sOpts := &subscriberOpts{}

	for _, o := range opts {
		o(sOpts)
	}

	var config *Config

	if sOpts.config != nil {
		config = sOpts.config
	} else {
		config = &DefaultConfig
	}

	return &subscriber{
		transport:   transport,
		logger:      logger,
		processor:   processor,
		workerPool:  newWorkerPool(config.WorkersCount),
		config:      config,
		consumeOpts: sOpts.consumeOpts,
	}
}

type subscriber struct {
	transport   transport.Transport
	logger      log.Logger
	processor   Processor
	workerPool  *workerPool
	config      *Config
	consumeOpts []transport.ConsumeOpt
}

func (s *subscriber) Run(ctx context.Context, queues ...transport.Queue) error {
	s.logger.Logf(log.InfoLevel, "Started subscriber. Listening to queues: %v", queueNames(queues))

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signalChan)

	consumerCtx, cancelConsumerCtx := context.WithCancel(ctx)
	defer cancelConsumerCtx()

	consumedPkgs, err := s.transport.Consume(consumerCtx, queues, s.consumeOpts...)
	if err != nil {
		return errors.WithStack(err)
	}

	s.workerPool.start(consumerCtx)

	// packages in progress are finished during graceful shutdown, PackageProcessingMaxTime still limits them
	processingCtx := context.WithoutCancel(ctx)

	scheduleTicker := time.NewTicker(s.config.WorkerWaitingAssignmentTimeout)
	defer scheduleTicker.Stop()

	for {
		select {
		case worker, open := <-s.workerPool.queue():
			if !open {
				s.logger.Logf(log.InfoLevel, "worker's channel is closed")
				return s.shutdown()
			}
			select {
			case <-scheduleTicker.C:
				s.logger.Logf(log.DebugLevel, "worker was waiting %s for a job to start. returning him to the pool", s.config.WorkerWaitingAssignmentTimeout.String())
				s.workerPool.queue() <- worker
			case incomingPkg, open := <-consumedPkgs:
				if !open {
					s.workerPool.queue() <- worker
					s.logger.Log(log.InfoLevel, "Transport stopped consuming")
					cancelConsumerCtx()
					return s.shutdown()
				}
				worker <- newTaskProcessPkg(processingCtx, incomingPkg, s)
			}
		case <-ctx.Done():
			s.logger.Logf(log.InfoLevel, "Subscriber's context was canceled")
			cancelConsumerCtx()
			return s.shutdown()
		case <-signalChan:
			s.logger.Logf(log.InfoLevel, "Received kill signal")
			cancelConsumerCtx()
			return s.shutdown()
		}
	}
}

func (s *subscriber) shutdown() error {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), s.config.GracefulShutdownTimeout)
	defer shutdownCancel()

	if err := s.Stop(shutdownCtx); err != nil {
		s.logger.Logf(log.ErrorLevel, "error stopping subscriber gracefully %s", err)
		return errors.Wrapf(err, "stopping subscriber gracefully")
	}

	return nil
}

func (s *subscriber) processPackage(ctx context.Context, inPkg transport.IncomingPkg) {
	processorCtx, processorCancel := context.WithTimeout(ctx, s.config.PackageProcessingMaxTime)
	defer processorCancel()

	s.logger.Logf(log.DebugLevel, "started processing package id %s", inPkg.UID())

	if err := s.process(processorCtx, inPkg); err != nil {
		var rejectErr RejectErr
		if errors.As(err, &rejectErr) {
			s.logger.Logf(log.ErrorLevel, "rejecting package %s from %s. %s", inPkg.UID(), inPkg.Origin(), err)

			if err := inPkg.Reject(); err != nil {
				s.logger.Logf(log.ErrorLevel, "error rejecting package %s. %s", inPkg.UID(), err)
			}

			return
		}

		s.logger.Logf(log.ErrorLevel, "error happened while processing pkg %s from %s. %s", inPkg.UID(), inPkg.Origin(), err)

		if err := inPkg.Nack(transport.WithRequeue()); err != nil {
			s.logger.Logf(log.ErrorLevel, "error nacking package %s. %s", inPkg.UID(), err)
		}

		return
	}

	if err := inPkg.Ack(); err != nil {
		s.logger.Logf(log.ErrorLevel, "error acking package %s. %s", inPkg.UID(), err)
		return
	}

	s.logger.Logf(log.DebugLevel, "acked package id %s", inPkg.UID())
}

// process turns a panic of the processor into an error, so the worker survives and the package is redelivered
func (s *subscriber) process(ctx context.Context, inPkg transport.IncomingPkg) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("processing panicked: %v", r)
		}
	}()

	return s.processor.Process(ctx, inPkg)
}

func (s *subscriber) Stop(ctx context.Context) error {
	if s.workerPool.busyWorkers() > 0 {
		s.logger.Logf(log.InfoLevel, "Graceful shutdown. Waiting subscriber for finishing %d tasks in progress", s.workerPool.busyWorkers())
	}

	waitingTicker := time.NewTicker(time.Millisecond * 100)
	defer waitingTicker.Stop()

	for s.workerPool.busyWorkers() > 0 {
		select {
		case <-ctx.Done():
			s.logger.Logf(log.WarnLevel, "Stopped subscriber because of canceled parent ctx")
			return nil
		case <-waitingTicker.C:
			s.logger.Logf(log.DebugLevel, "Waiting for processor to finish all remaining tasks in a queue. Tasks in progress: %d", s.workerPool.busyWorkers())
		}
	}

	s.logger.Logf(log.InfoLevel, "All tasks are finished. Disconnecting from transport.")

	return s.transport.Disconnect(ctx)
}

type processPkg struct {
	ctx        context.Context
	pkg        transport.IncomingPkg
	subscriber *subscriber
}

func newTaskProcessPkg(ctx context.Context, pkg transport.IncomingPkg, subscriber *subscriber) *processPkg {
	return &processPkg{
		ctx:        ctx,
		pkg:        pkg,
		subscriber: subscriber,
	}
}

func (p *processPkg) do() {
	p.subscriber.processPackage(p.ctx, p.pkg)
}

func queueNames(queues []transport.Queue) []string {
	names := make([]string, len(queues))
	for i, q := range queues {
		names[i] = q.Name()
	}

	return names
}
