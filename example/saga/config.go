package main

import (
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/go-foreman/conductor/log"
	"github.com/pkg/errors"
)

type config struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`

	// StoreDriver is one of memory, pg, mysql
	StoreDriver string `env:"STORE_DRIVER" envDefault:"memory"`
	DatabaseDSN string `env:"DATABASE_DSN"`

	// MutexDriver is one of local, sql, redis. sql requires a sql store.
	MutexDriver string `env:"MUTEX_DRIVER" envDefault:"local"`
	RedisAddr   string `env:"REDIS_ADDR" envDefault:"127.0.0.1:6379"`

	// Jobs are sent through the in memory transport when AmqpURL is empty
	AmqpURL            string        `env:"AMQP_URL"`
	AmqpReconnectDelay time.Duration `env:"AMQP_RECONNECT_DELAY" envDefault:"5s"`
	Topic              string        `env:"JOBS_TOPIC" envDefault:"conductor_jobs"`
	Queue              string        `env:"JOBS_QUEUE" envDefault:"conductor_sagas"`

	Workers                 uint          `env:"WORKERS" envDefault:"10"`
	JobProcessingMaxTime    time.Duration `env:"JOB_PROCESSING_MAX_TIME" envDefault:"60s"`
	GracefulShutdownTimeout time.Duration `env:"GRACEFUL_SHUTDOWN_TIMEOUT" envDefault:"61s"`
	MaxReturns              int           `env:"MAX_RETURNS" envDefault:"10"`

	ConfirmationsDir string  `env:"CONFIRMATIONS_DIR" envDefault:"/tmp/confirmations"`
	FailureRate      float64 `env:"FAILURE_RATE" envDefault:"0.2"`
}

func loadConfig() (*config, error) {
	cfg := &config{}

	if err := env.Parse(cfg); err != nil {
		return nil, errors.Wrap(err, "parsing config")
	}

	if cfg.StoreDriver != "memory" && cfg.DatabaseDSN == "" {
		return nil, errors.Errorf("DATABASE_DSN is required for store driver %s", cfg.StoreDriver)
	}

	if cfg.MutexDriver == "sql" && cfg.StoreDriver == "memory" {
		return nil, errors.New("sql mutex requires pg or mysql store driver")
	}

	return cfg, nil
}

func parseLevel(level string) (log.Level, error) {
	for l := log.PanicLevel; l <= log.TraceLevel; l++ {
		if strings.EqualFold(l.String(), level) {
			return l, nil
		}
	}

	return 0, errors.Errorf("unknown log level %s", level)
}
