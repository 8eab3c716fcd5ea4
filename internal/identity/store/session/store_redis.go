package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"govsign/internal/identity/models"
	"govsign/pkg/platform/sentinel"
	"govsign/pkg/requestcontext"
)

const keyPrefix = "session:"

// RedisStore persists sessions as JSON with a key TTL matching the session expiry.
// Execute uses WATCH/MULTI so a concurrent writer aborts the transaction.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedis(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func sessionKey(id models.SessionID) string {
	return keyPrefix + id.String()
}

func (s *RedisStore) Create(ctx context.Context, session *models.Session) error {
	ttl := session.ExpiresAt.Sub(requestcontext.Now(ctx))
	if ttl <= 0 {
		return fmt.Errorf("session %s: %w", session.ID, sentinel.ErrExpired)
	}
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	ok, err := s.client.SetNX(ctx, sessionKey(session.ID), payload, ttl).Result()
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	if !ok {
		return fmt.Errorf("session %s: %w", session.ID, sentinel.ErrConflict)
	}
	return nil
}

func (s *RedisStore) FindByID(ctx context.Context, id models.SessionID) (*models.Session, error) {
	return s.get(ctx, s.client, id)
}

// Execute reads, validates and mutates a session inside WATCH. If another writer
// touches the key first the write is abandoned and sentinel.ErrConflict is returned.
// The remaining key TTL is kept.
func (s *RedisStore) Execute(ctx context.Context, id models.SessionID, validate func(*models.Session) error, mutate func(*models.Session)) (*models.Session, error) {
	key := sessionKey(id)
	var result *models.Session

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		session, err := s.get(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := validate(session); err != nil {
			return err
		}
		mutate(session)

		payload, err := json.Marshal(session)
		if err != nil {
			return fmt.Errorf("marshal session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SetArgs(ctx, key, payload, redis.SetArgs{KeepTTL: true, Mode: "XX"})
			return nil
		})
		if err != nil {
			return err
		}
		result = session
		return nil
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return nil, fmt.Errorf("session %s modified concurrently: %w", id, sentinel.ErrConflict)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Sweep is a no-op; Redis expires keys itself.
func (s *RedisStore) Sweep(context.Context, time.Time) (int, error) {
	return 0, nil
}

// getter is satisfied by both the client and a WATCH transaction.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) get(ctx context.Context, c getter, id models.SessionID) (*models.Session, error) {
	raw, err := c.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	var session models.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	if session.IsExpired(requestcontext.Now(ctx)) {
		return nil, sentinel.ErrNotFound
	}
	return &session, nil
}
