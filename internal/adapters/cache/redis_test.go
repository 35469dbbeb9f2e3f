package cache_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DanielPopoola/ficmart-pharmacy/internal/adapters/cache"
	"github.com/DanielPopoola/ficmart-pharmacy/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

type TokenCacheTestSuite struct {
	suite.Suite
	container testcontainers.Container
	cache     *cache.TokenCache
	closeFn   func() error
}

func TestTokenCacheSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	suite.Run(t, new(TokenCacheTestSuite))
}

func (s *TokenCacheTestSuite) SetupSuite() {
	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	s.Require().NoError(err)
	s.container = container

	host, err := container.Host(ctx)
	s.Require().NoError(err)
	port, err := container.MappedPort(ctx, "6379")
	s.Require().NoError(err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client, err := cache.NewRedisClient(ctx, &config.RedisConfig{Addr: host + ":" + port.Port()}, logger)
	s.Require().NoError(err)

	s.cache = cache.NewTokenCache(client)
	s.closeFn = client.Close
}

func (s *TokenCacheTestSuite) TearDownSuite() {
	if s.closeFn != nil {
		_ = s.closeFn()
	}
	if s.container != nil {
		_ = s.container.Terminate(context.Background())
	}
}

func (s *TokenCacheTestSuite) TestMissingKey() {
	token, ok, err := s.cache.Get(context.Background(), "gateway:mpesa:token:absent")
	s.Require().NoError(err)
	s.False(ok)
	s.Empty(token)
}

func (s *TokenCacheTestSuite) TestRoundTripAndExpiry() {
	ctx := context.Background()
	t := s.T()

	require.NoError(t, s.cache.Set(ctx, "gateway:paypal:token:abc", "A21AA", time.Second))

	token, ok, err := s.cache.Get(ctx, "gateway:paypal:token:abc")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "A21AA", token)

	assert.Eventually(t, func() bool {
		_, ok, err := s.cache.Get(ctx, "gateway:paypal:token:abc")
		return err == nil && !ok
	}, 5*time.Second, 100*time.Millisecond)
}

func (s *TokenCacheTestSuite) TestNonPositiveTTLIsNotStored() {
	ctx := context.Background()
	s.Require().NoError(s.cache.Set(ctx, "gateway:pesapal:token:k", "tok", 0))

	_, ok, err := s.cache.Get(ctx, "gateway:pesapal:token:k")
	s.Require().NoError(err)
	s.False(ok)
}
