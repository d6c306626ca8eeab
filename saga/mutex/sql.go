package mutex

import (
	"context"
	"database/sql"

	"github.com/go-foreman/conductor/log"
	sagaSql "github.com/go-foreman/conductor/saga/sql"
	"github.com/pkg/errors"
)

// NewSqlMutex creates a mutex backed by MySQL GET_LOCK or Postgres advisory locks.
// The lock lives on a connection of the wrapper, so handlers of the same saga in this process wait on it before reaching the database.
func NewSqlMutex(db *sagaSql.DB, driver sagaSql.Driver, logger log.Logger) Mutex {
	if driver == sagaSql.MySQLDriver {
		return &mysqlMutex{db: db, logger: logger}
	}

	return &pgsqlMutex{db: db, logger: logger}
}

type mysqlMutex struct {
	db     *sagaSql.DB
	logger log.Logger
}

func (m *mysqlMutex) Lock(ctx context.Context, sagaID string) (Lock, error) {
	conn, err := m.db.Conn(ctx, sagaID, true)
	if err != nil {
		return nil, WithMutexErr(errors.Wrapf(err, "obtaining a connection for saga %s", sagaID))
	}

	r := sql.NullInt64{}
	if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, -1);", sagaID).Scan(&r); err != nil {
		closingErr := conn.Close(true)
		return nil, WithMutexErr(errors.Wrapf(err, "acquiring lock for saga %s. %v", sagaID, closingErr))
	}

	/*
		Returns 1 if the lock was obtained successfully,
		0 if the attempt timed out (for example, because another client has previously locked the name),
		or NULL if an error occurred (such as running out of memory or the thread was killed with mysqladmin kill).
	*/
	if r.Int64 != 1 {
		closingErr := conn.Close(true)
		return nil, WithMutexErr(errors.Errorf("got error status %d when acquiring lock for saga %s. %v", r.Int64, sagaID, closingErr))
	}

	return &mysqlLock{conn: conn, sagaID: sagaID, logger: m.logger}, nil
}

type mysqlLock struct {
	conn   *sagaSql.Conn
	sagaID string
	logger log.Logger
}

func (l *mysqlLock) Release(ctx context.Context) error {
	r := sql.NullInt64{}
	if err := l.conn.QueryRowContext(ctx, "SELECT RELEASE_LOCK(?);", l.sagaID).Scan(&r); err != nil {
		if closingErr := l.conn.Close(true); closingErr != nil {
			l.logger.Logf(log.ErrorLevel, "closing mutex connection of saga %s: %s", l.sagaID, closingErr)
		}
		return WithMutexErr(errors.Wrapf(err, "releasing lock for saga %s", l.sagaID))
	}

	if r.Int64 != 1 {
		if closingErr := l.conn.Close(true); closingErr != nil {
			l.logger.Logf(log.ErrorLevel, "closing mutex connection of saga %s: %s", l.sagaID, closingErr)
		}
		return WithMutexErr(errors.Errorf("lock was not established by this thread for saga %s", l.sagaID))
	}

	if err := l.conn.Close(true); err != nil {
		return WithMutexErr(errors.Wrapf(err, "closing connection for saga's %s mutex", l.sagaID))
	}

	return nil
}

type pgsqlMutex struct {
	db     *sagaSql.DB
	logger log.Logger
}

func (p *pgsqlMutex) Lock(ctx context.Context, sagaID string) (Lock, error) {
	conn, err := p.db.Conn(ctx, sagaID, true)
	if err != nil {
		return nil, WithMutexErr(errors.Wrapf(err, "obtaining a connection for saga %s", sagaID))
	}

	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock(hashtext($1));", sagaID); err != nil {
		closingErr := conn.Close(true)
		return nil, WithMutexErr(errors.Wrapf(err, "acquiring lock for saga %s. %v", sagaID, closingErr))
	}

	return &pgsqlLock{conn: conn, sagaID: sagaID, logger: p.logger}, nil
}

type pgsqlLock struct {
	conn   *sagaSql.Conn
	sagaID string
	logger log.Logger
}

func (l *pgsqlLock) Release(ctx context.Context) error {
	r := sql.NullBool{}
	if err := l.conn.QueryRowContext(ctx, "SELECT pg_advisory_unlock(hashtext($1));", l.sagaID).Scan(&r); err != nil {
		if closingErr := l.conn.Close(true); closingErr != nil {
			l.logger.Logf(log.ErrorLevel, "closing mutex connection of saga %s: %s", l.sagaID, closingErr)
		}
		return WithMutexErr(errors.Wrapf(err, "releasing lock for saga %s", l.sagaID))
	}

	if !r.Bool {
		if closingErr := l.conn.Close(true); closingErr != nil {
			l.logger.Logf(log.ErrorLevel, "closing mutex connection of saga %s: %s", l.sagaID, closingErr)
		}
		return WithMutexErr(errors.Errorf("lock was not established by this session for saga %s", l.sagaID))
	}

	if err := l.conn.Close(true); err != nil {
		return WithMutexErr(errors.Wrapf(err, "closing mutex connection of saga %s", l.sagaID))
	}

	return nil
}
