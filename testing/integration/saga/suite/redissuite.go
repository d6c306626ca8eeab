//go:build integration

package suite

import (
	"context"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type RedisSuite struct {
	suite.Suite
	client *redis.Client
}

func (s *RedisSuite) SetupSuite() {
	addr := "127.0.0.1:6379"

	if v := os.Getenv("REDIS_ADDR"); v != "" {
		addr = v
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	s.client = redis.NewClient(&redis.Options{Addr: addr})
	require.NoError(s.T(), s.client.Ping(ctx).Err())
}

func (s *RedisSuite) Client() *redis.Client {
	return s.client
}

func (s *RedisSuite) TearDownSuite() {
	require.NoError(s.T(), s.client.Close())
}
