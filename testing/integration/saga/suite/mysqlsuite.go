//go:build integration

package suite

import (
	"context"
	"database/sql"
	"os"
	"time"

	driverSql "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// MysqlSuite connects to MySQL from MYSQL_CONNECTION
type MysqlSuite struct {
	suite.Suite
	dbConn *sql.DB
}

// SetupSuite setup at the beginning of test
func (t *MysqlSuite) SetupSuite() {
	t.disableLogging()

	connectionStr := "conductor:conductor@tcp(127.0.0.1:3306)/conductor?charset=utf8"

	if v := os.Getenv("MYSQL_CONNECTION"); v != "" {
		connectionStr = v
	}

	dsn, err := driverSql.ParseDSN(connectionStr)
	require.NoError(t.T(), err)

	// the store scans timestamps into time.Time
	dsn.ParseTime = true

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	t.dbConn, err = sql.Open("mysql", dsn.FormatDSN())
	require.NoError(t.T(), err)
	require.NoError(t.T(), t.dbConn.PingContext(ctx))
}

func (t *MysqlSuite) Connection() *sql.DB {
	return t.dbConn
}

// TearDownSuite teardown at the end of test
func (t *MysqlSuite) TearDownSuite() {
	_, err := t.dbConn.Exec("DROP TABLE IF EXISTS saga_steps, sagas;")
	require.NoError(t.T(), err)
	require.NoError(t.T(), t.dbConn.Close())
}

func (t *MysqlSuite) disableLogging() {
	require.NoError(t.T(), driverSql.SetLogger(NopLogger{}))
}

type NopLogger struct {
}

func (l NopLogger) Print(v ...interface{}) {}
