package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-foreman/conductor"
	"github.com/go-foreman/conductor/example/saga/handlers"
	"github.com/go-foreman/conductor/example/saga/usecase"
	"github.com/go-foreman/conductor/example/saga/usecase/account"
	"github.com/go-foreman/conductor/log"
	"github.com/go-foreman/conductor/pubsub/endpoint"
	"github.com/go-foreman/conductor/pubsub/message"
	"github.com/go-foreman/conductor/pubsub/subscriber"
	"github.com/go-foreman/conductor/pubsub/transport"
	"github.com/go-foreman/conductor/pubsub/transport/amqp"
	"github.com/go-foreman/conductor/pubsub/transport/memory"
	"github.com/go-foreman/conductor/runtime/scheme"
	"github.com/go-foreman/conductor/saga"
	"github.com/go-foreman/conductor/saga/component"
	"github.com/go-foreman/conductor/saga/mutex"
	sagaSql "github.com/go-foreman/conductor/saga/sql"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/stdlib"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		panic(err)
	}

	level, err := parseLevel(cfg.LogLevel)
	if err != nil {
		panic(err)
	}

	zapLogger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer zapLogger.Sync() //nolint:errcheck

	logger := log.NewZapLogger(zapLogger)
	logger.SetLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Logf(log.ErrorLevel, "%+v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config, logger log.Logger) error {
	db, driver, err := openDB(cfg)
	if err != nil {
		return err
	}

	if db != nil {
		defer db.Close()
	}

	sagaMutex, err := newMutex(ctx, cfg, db, driver, logger)
	if err != nil {
		return err
	}

	jobsTransport, err := newTransport(ctx, cfg, logger)
	if err != nil {
		return err
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	apiRouter := chi.NewRouter()
	apiRouter.Use(middleware.RequestID, middleware.Recoverer)
	apiRouter.Handle("/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))

	accountHandler, err := handlers.NewAccountHandler(logger, cfg.ConfirmationsDir, cfg.FailureRate)
	if err != nil {
		return err
	}

	sagas := &usecase.SagasCollection{}
	sagas.AddSaga(account.NewRegisterAccountSaga(accountHandler))

	sagaComponent := component.NewSagaComponent(
		func() (saga.Store, error) {
			if db == nil {
				return saga.NewMemoryStore(), nil
			}

			return saga.NewSQLStore(db, driver)
		},
		sagaMutex,
		component.WithSagaApiServer(apiRouter),
		component.WithSagaOpts(saga.WithMetrics(saga.NewPrometheusMetrics(promRegistry))),
	)
	sagaComponent.RegisterSagas(sagas.Sagas()...)
	sagaComponent.RegisterSagaEndpoints(endpoint.NewTransportEndpoint(
		cfg.Queue,
		jobsTransport,
		transport.DeliveryDestination{DestinationTopic: cfg.Topic},
		message.NewJsonMarshaller(),
	))

	cond, err := conductor.NewConductor(
		logger,
		message.NewJsonMarshaller(),
		scheme.NewKnownTypesRegistry(),
		conductor.DefaultWithTransport(jobsTransport, subscriber.WithConfig(&subscriber.Config{
			WorkersCount:                   cfg.Workers,
			WorkerWaitingAssignmentTimeout: time.Second * 3,
			PackageProcessingMaxTime:       cfg.JobProcessingMaxTime,
			GracefulShutdownTimeout:        cfg.GracefulShutdownTimeout,
		})),
		conductor.WithComponents(sagaComponent),
		conductor.WithProcessorOpts(subscriber.WithProcessorConfig(subscriber.ProcessorConfig{
			MaxReturns:     cfg.MaxReturns,
			ReturnDelay:    subscriber.DefaultProcessorConfig.ReturnDelay,
			MaxReturnDelay: subscriber.DefaultProcessorConfig.MaxReturnDelay,
		})),
	)
	if err != nil {
		return errors.Wrap(err, "creating conductor")
	}

	queue, err := declareQueue(ctx, cfg, jobsTransport, cond.Dispatcher().JobNames())
	if err != nil {
		return err
	}

	handlers.NewRegistrationHandler(sagaComponent.Orchestrator(), logger).Routes(apiRouter)

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: apiRouter, ReadHeaderTimeout: time.Second * 5}

	go func() {
		logger.Logf(log.InfoLevel, "http server is listening on %s", cfg.HTTPAddr)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Logf(log.ErrorLevel, "http server stopped. %s", err)
		}
	}()

	runErr := cond.Run(ctx, queue)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Logf(log.ErrorLevel, "shutting down http server. %s", err)
	}

	return runErr
}

func openDB(cfg *config) (*sql.DB, sagaSql.Driver, error) {
	switch cfg.StoreDriver {
	case "memory":
		return nil, "", nil
	case "pg":
		connConfig, err := pgx.ParseConfig(cfg.DatabaseDSN)
		if err != nil {
			return nil, "", errors.Wrap(err, "parsing pg dsn")
		}

		return stdlib.OpenDB(*connConfig), sagaSql.PGDriver, nil
	case "mysql":
		dsn, err := mysql.ParseDSN(cfg.DatabaseDSN)
		if err != nil {
			return nil, "", errors.Wrap(err, "parsing mysql dsn")
		}

		// the store scans timestamps into time.Time
		dsn.ParseTime = true

		db, err := sql.Open("mysql", dsn.FormatDSN())
		if err != nil {
			return nil, "", errors.Wrap(err, "opening mysql connection")
		}

		return db, sagaSql.MySQLDriver, nil
	default:
		return nil, "", errors.Errorf("unknown store driver %s", cfg.StoreDriver)
	}
}

func newMutex(ctx context.Context, cfg *config, db *sql.DB, driver sagaSql.Driver, logger log.Logger) (mutex.Mutex, error) {
	switch cfg.MutexDriver {
	case "local":
		return mutex.NewLocalMutex(), nil
	case "sql":
		return mutex.NewSqlMutex(sagaSql.NewDB(db), driver, logger), nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})

		if err := client.Ping(ctx).Err(); err != nil {
			return nil, errors.Wrapf(err, "connecting to redis %s", cfg.RedisAddr)
		}

		return mutex.NewRedisMutex(client), nil
	default:
		return nil, errors.Errorf("unknown mutex driver %s", cfg.MutexDriver)
	}
}

func newTransport(ctx context.Context, cfg *config, logger log.Logger) (transport.Transport, error) {
	var t transport.Transport

	if cfg.AmqpURL == "" {
		t = memory.NewTransport(logger)
	} else {
		conn, err := amqp.Dial(cfg.AmqpURL, logger, amqp.WithAutoReconnect(cfg.AmqpReconnectDelay))
		if err != nil {
			return nil, err
		}

		t = amqp.NewTransport(conn, logger)
	}

	if err := t.Connect(ctx); err != nil {
		return nil, errors.Wrap(err, "connecting transport")
	}

	return t, nil
}

// declareQueue creates the topic and the queue bound to it with names of jobs that have executors
func declareQueue(ctx context.Context, cfg *config, t transport.Transport, jobNames []string) (transport.Queue, error) {
	var (
		topic transport.Topic
		queue transport.Queue
		binds []transport.QueueBind
	)

	if cfg.AmqpURL == "" {
		topic = memory.Topic(cfg.Topic)
		queue = memory.Queue(cfg.Queue)

		for _, name := range jobNames {
			binds = append(binds, memory.QueueBind(cfg.Topic, name))
		}
	} else {
		topic = amqp.Topic(cfg.Topic, true, false, false, false, amqp.WithDelayedDelivery())
		queue = amqp.Queue(cfg.Queue, true, false, false, false, amqp.WithMaxPriority(10))

		for _, name := range jobNames {
			binds = append(binds, amqp.QueueBind(cfg.Topic, name, false))
		}
	}

	if err := t.CreateTopic(ctx, topic); err != nil {
		return nil, errors.Wrapf(err, "creating topic %s", topic.Name())
	}

	if err := t.CreateQueue(ctx, queue, binds...); err != nil {
		return nil, errors.Wrapf(err, "creating queue %s", queue.Name())
	}

	return queue, nil
}
