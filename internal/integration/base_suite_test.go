package integration_test

import (
	"context"
	"time"

	"github.com/atakanes/seatlock/internal/domain"
	"github.com/atakanes/seatlock/internal/seatlock"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
)

const (
	cacheImageName = "redis:7"

	testShowtimeID = 7
	testHoldTTL    = 5 * time.Minute
)

// BaseSuite starts a single Redis container for the whole suite and hands
// each test a RedisStore wired to it. Tests share the container but not
// state: SetupTest flushes the database between runs.
type BaseSuite struct {
	suite.Suite
	cacheContainer *RedisContainer
	client         *redis.Client
	store          *seatlock.RedisStore
}

func (s *BaseSuite) SetupSuite() {
	ctx := context.Background()

	cacheContainer, err := getCacheContainer(ctx)
	s.Require().NoError(err, "failed to start cache container")
	s.cacheContainer = cacheContainer

	s.client = redis.NewClient(&redis.Options{Addr: cacheContainer.ConnectionString})
	s.Require().NoError(s.client.Ping(ctx).Err(), "failed to ping cache container")

	s.store = seatlock.NewRedisStore(s.client)
}

func (s *BaseSuite) TearDownSuite() {
	if s.client != nil {
		s.client.Close()
	}
	if s.cacheContainer != nil {
		if err := testcontainers.TerminateContainer(s.cacheContainer.Container); err != nil {
			s.T().Logf("failed to terminate cache container: %v", err)
		}
	}
}

func (s *BaseSuite) SetupTest() {
	s.Require().NoError(s.client.FlushAll(context.Background()).Err())
}

func (s *BaseSuite) seat(raw string) domain.SeatID {
	seat, err := domain.ParseSeatID(raw)
	s.Require().NoError(err)

	return seat
}
