package sql

import (
	"context"
	"database/sql"
	"strconv"
	"sync"

	"github.com/pkg/errors"
)

const (
	MySQLDriver Driver = "mysql"
	PGDriver    Driver = "pg"
)

// Driver is needed because database/sql does not unify placeholders, see https://github.com/golang/go/issues/3602
type Driver string

// Rebind replaces '?' placeholders with the ones of the driver
func (d Driver) Rebind(query string) string {
	if d != PGDriver {
		return query
	}

	var res []byte

	counter := 1

	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			res = append(append(res, '$'), []byte(strconv.Itoa(counter))...)
			counter++

			continue
		}
		res = append(res, query[i])
	}

	return string(res)
}

// DB keeps at most one connection per saga, so a lock held by a session and queries of the same saga share it
type DB struct {
	*sql.DB
	connectionsLock  *sync.RWMutex
	connectionsInUse map[string]*Conn
}

func NewDB(db *sql.DB) *DB {
	return &DB{
		DB:               db,
		connectionsLock:  &sync.RWMutex{},
		connectionsInUse: make(map[string]*Conn),
	}
}

// Conn returns a connection bound to the saga. With lock it waits until other lockers of the saga close theirs.
func (m *DB) Conn(ctx context.Context, sagaID string, lock bool) (*Conn, error) {
	m.connectionsLock.Lock()

	//check if connection for that sagaID already exists
	wrappedConn, exists := m.connectionsInUse[sagaID]
	if exists {
		wrappedConn.registerClient()
	}

	m.connectionsLock.Unlock()

	if exists {
		if lock {
			// try to lock that connection.
			if err := wrappedConn.acquireLock(ctx); err != nil {
				wrappedConn.unregisterClient()
				return nil, errors.Wrapf(err, "acquiring connection")
			}
		}

		// check if this connection is still alive. There might be cases when a connection wasn't released for some reason.
		if err := wrappedConn.PingContext(ctx); err == nil {
			return wrappedConn, nil
		}
	}

	conn, err := m.DB.Conn(ctx)

	if err != nil {
		return nil, errors.Wrapf(err, "obtaining a connection from pool for saga %s", sagaID)
	}

	m.connectionsLock.Lock()

	// another client has registered a live connection while this one was taken from the pool
	if current, exists := m.connectionsInUse[sagaID]; exists && current != wrappedConn {
		m.connectionsLock.Unlock()

		if err := conn.Close(); err != nil {
			return nil, errors.Wrapf(err, "closing redundant connection of saga %s", sagaID)
		}

		return m.Conn(ctx, sagaID, lock)
	}

	defer m.connectionsLock.Unlock()

	wrappedConn = &Conn{
		clientsMutex: &sync.Mutex{},
		clients:      1,
		lockingMutex: make(chan struct{}, 1),
		sagaID:       sagaID,
		Conn:         conn,
		releaseFunc:  m.releaseConnection,
	}

	if lock {
		wrappedConn.lockingMutex <- struct{}{}
	}

	m.connectionsInUse[sagaID] = wrappedConn

	return wrappedConn, nil
}

func (m *DB) releaseConnection(conn *Conn) {
	m.connectionsLock.Lock()
	defer m.connectionsLock.Unlock()

	if current, exists := m.connectionsInUse[conn.sagaID]; exists && current == conn {
		delete(m.connectionsInUse, conn.sagaID)
	}
}

type Conn struct {
	*sql.Conn
	clientsMutex *sync.Mutex
	clients      uint32
	lockingMutex chan struct{}
	sagaID       string
	releaseFunc  func(conn *Conn)
}

func (c *Conn) registerClient() {
	c.clientsMutex.Lock()
	defer c.clientsMutex.Unlock()

	c.clients++
}

func (c *Conn) unregisterClient() {
	c.clientsMutex.Lock()
	defer c.clientsMutex.Unlock()

	c.clients--
}

func (c *Conn) acquireLock(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return errors.New("context canceled while waiting for connection lock")
	case c.lockingMutex <- struct{}{}:
		return nil
	}
}

func (c *Conn) Close(unlock bool) error {
	c.clientsMutex.Lock()
	defer c.clientsMutex.Unlock()

	c.clients--

	if unlock {
		if len(c.lockingMutex) == 1 {
			<-c.lockingMutex
		} else {
			return errors.New("called conn.Close(true) on connection that wasn't locked")
		}
	}

	if c.clients == 0 {
		c.releaseFunc(c)
		return c.Conn.Close()
	}

	return nil
}
