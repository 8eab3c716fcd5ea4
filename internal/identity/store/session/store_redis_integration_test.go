//go:build integration

package session_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"govsign/internal/identity/models"
	"govsign/internal/identity/store/session"
	"govsign/pkg/platform/sentinel"
	"govsign/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *session.RedisStore
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.store = session.NewRedis(s.redis.Client)
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func makeSession(ttl time.Duration) *models.Session {
	return models.NewSession(models.NewCitizen("199912345678"), "a1b2c3", time.Now(), ttl)
}

func (s *RedisStoreSuite) TestRoundTrip() {
	ctx := context.Background()
	sess := makeSession(time.Hour)
	s.Require().NoError(s.store.Create(ctx, sess))

	found, err := s.store.FindByID(ctx, sess.ID)
	s.Require().NoError(err)
	s.Equal(sess.ID, found.ID)
	s.Equal(sess.Challenge, found.Challenge)
	s.Equal(models.ActorCitizen, found.Identity.Actor)

	_, err = s.store.FindByID(ctx, models.NewSessionID())
	s.ErrorIs(err, sentinel.ErrNotFound)

	s.ErrorIs(s.store.Create(ctx, sess), sentinel.ErrConflict)
}

// TestWATCHConflictDetection verifies that exactly one of many concurrent transitions
// on the same session commits.
func (s *RedisStoreSuite) TestWATCHConflictDetection() {
	ctx := context.Background()
	sess := makeSession(time.Hour)
	s.Require().NoError(s.store.Create(ctx, sess))

	const goroutines = 20
	var wg sync.WaitGroup
	var successCount, rejectedCount, otherErrors atomic.Int32

	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.Execute(ctx, sess.ID,
				func(sess *models.Session) error { return sess.CanTransition() },
				func(sess *models.Session) { sess.ApplyAuthentication("tok", time.Now()) },
			)
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, sentinel.ErrConflict), errors.Is(err, models.ErrSessionCompleted):
				rejectedCount.Add(1)
			default:
				otherErrors.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), successCount.Load(), "exactly one transition should commit")
	s.Equal(int32(goroutines-1), rejectedCount.Load())
	s.Equal(int32(0), otherErrors.Load())
}

// TestTTLPreservation verifies that updates keep the session expiry.
func (s *RedisStoreSuite) TestTTLPreservation() {
	ctx := context.Background()
	sess := makeSession(time.Hour)
	s.Require().NoError(s.store.Create(ctx, sess))

	key := "session:" + sess.ID.String()
	initialTTL, err := s.redis.Client.TTL(ctx, key).Result()
	s.Require().NoError(err)
	s.Greater(initialTTL, 55*time.Minute)

	_, err = s.store.Execute(ctx, sess.ID,
		func(*models.Session) error { return nil },
		func(sess *models.Session) { sess.ApplyAuthentication("tok", time.Now()) },
	)
	s.Require().NoError(err)

	afterTTL, err := s.redis.Client.TTL(ctx, key).Result()
	s.Require().NoError(err)
	s.Greater(afterTTL, 55*time.Minute)
	s.LessOrEqual(afterTTL, initialTTL)
}

func (s *RedisStoreSuite) TestExpiredCreateIsRejected() {
	sess := makeSession(-time.Minute)
	s.ErrorIs(s.store.Create(context.Background(), sess), sentinel.ErrExpired)
}
