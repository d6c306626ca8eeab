//go:build integration

package saga

import (
	"testing"

	"github.com/go-foreman/conductor/saga"
	sagaSql "github.com/go-foreman/conductor/saga/sql"
	intSuite "github.com/go-foreman/conductor/testing/integration/saga/suite"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type mysqlStoreTest struct {
	intSuite.MysqlSuite
}

func TestMysqlSuite(t *testing.T) {
	suite.Run(t, &mysqlStoreTest{})
}

func (m *mysqlStoreTest) TestMysqlStore() {
	t := m.T()

	mysqlStore, err := saga.NewSQLStore(m.Connection(), sagaSql.MySQLDriver)
	require.NoError(t, err)
	require.NotNil(t, mysqlStore)

	t.Run("initialized store tables", func(t *testing.T) {
		for _, table := range []string{"sagas", "saga_steps"} {
			rows, err := m.Connection().Query("SELECT * FROM " + table)
			require.NoError(t, err)
			require.NoError(t, rows.Close())
		}
	})

	testUseCases(t, mysqlStore)
}
