package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"govsign/internal/identity/models"
	registrystore "govsign/internal/identity/store/registry"
	sessionstore "govsign/internal/identity/store/session"
	jwttoken "govsign/internal/jwt_token"
	dErrors "govsign/pkg/domain-errors"
	"govsign/pkg/platform/sentinel"
	"govsign/pkg/requestcontext"
)

type flowFixture struct {
	svc      *Service
	registry *registrystore.InMemoryRegistry
	sessions *sessionstore.InMemorySessionStore
	tokens   *jwttoken.JWTService
	ctx      context.Context
	now      time.Time
}

func newFlowFixture(t *testing.T) *flowFixture {
	t.Helper()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	f := &flowFixture{
		registry: registrystore.New(),
		sessions: sessionstore.New(),
		tokens:   jwttoken.NewJWTService("flow-test-secret", "sludi", 9000*time.Second, jwttoken.WithClock(func() time.Time { return now })),
		ctx:      requestcontext.WithTime(context.Background(), now),
		now:      now,
	}
	svc, err := New(f.sessions, f.registry, f.tokens,
		WithBcryptCost(bcrypt.MinCost),
		WithTokenValidator(f.tokens),
		WithIntrospectionClients(map[string]string{"gateway": "gw-secret"}),
		WithDevAdmin(true),
	)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func TestFlow_ValidateNICIssuesDistinctSessions(t *testing.T) {
	f := newFlowFixture(t)

	first, err := f.svc.ValidateNIC(f.ctx, "200012345678")
	require.NoError(t, err)
	second, err := f.svc.ValidateNIC(f.ctx, "200012345678")
	require.NoError(t, err)

	assert.NotEqual(t, first.SessionID, second.SessionID)
	assert.Equal(t, models.SessionStatusNICValidated, first.Status)
	assert.Len(t, first.Challenge, 6)
}

func TestFlow_MalformedNIC(t *testing.T) {
	f := newFlowFixture(t)

	for _, nic := range []string{"12345", "20001234567X", "98765432v1", "N1"} {
		_, err := f.svc.ValidateNIC(f.ctx, nic)
		assert.ErrorIs(t, err, models.ErrInvalidFormat, nic)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidFormat), nic)
	}
}

func TestFlow_CitizenCreatesPasswordThenLogsIn(t *testing.T) {
	f := newFlowFixture(t)
	nic := "200012345678"

	start, err := f.svc.ValidateNIC(f.ctx, nic)
	require.NoError(t, err)
	assert.Equal(t, models.ActorCitizen, start.RoleHint)
	assert.False(t, start.HasPassword)

	created, err := f.svc.CreatePassword(f.ctx, models.CreatePasswordRequest{SessionID: start.SessionID, Password: "first secret"})
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusAccountCreated, created.Status)

	claims, err := f.tokens.ValidateToken(created.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, nic, claims.Subject)
	assert.Equal(t, []string{"read:self", "write:self"}, claims.Scopes)

	t.Run("same session cannot create again", func(t *testing.T) {
		_, err := f.svc.CreatePassword(f.ctx, models.CreatePasswordRequest{SessionID: start.SessionID, Password: "again"})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	t.Run("fresh session cannot create again", func(t *testing.T) {
		next, err := f.svc.ValidateNIC(f.ctx, nic)
		require.NoError(t, err)
		assert.True(t, next.HasPassword)

		_, err = f.svc.CreatePassword(f.ctx, models.CreatePasswordRequest{SessionID: next.SessionID, Password: "again"})
		assert.ErrorIs(t, err, models.ErrAccountExists)
	})

	t.Run("login succeeds only on exact match", func(t *testing.T) {
		next, err := f.svc.ValidateNIC(f.ctx, nic)
		require.NoError(t, err)

		for _, wrong := range []string{"first secre", "First secret", "first secret ", ""} {
			_, err := f.svc.VerifyPassword(f.ctx, models.VerifyPasswordRequest{SessionID: next.SessionID, Password: wrong})
			assert.ErrorIs(t, err, models.ErrInvalidCredentials, wrong)
		}

		res, err := f.svc.VerifyPassword(f.ctx, models.VerifyPasswordRequest{SessionID: next.SessionID, Password: "first secret"})
		require.NoError(t, err)
		assert.Equal(t, models.SessionStatusAuthenticated, res.Status)

		_, err = f.svc.VerifyPassword(f.ctx, models.VerifyPasswordRequest{SessionID: next.SessionID, Password: "first secret"})
		assert.ErrorIs(t, err, models.ErrSessionCompleted)
	})
}

func TestFlow_PasswordSetAfterSessionStartIsHonoured(t *testing.T) {
	f := newFlowFixture(t)
	nic := "200012345678"

	older, err := f.svc.ValidateNIC(f.ctx, nic)
	require.NoError(t, err)
	newer, err := f.svc.ValidateNIC(f.ctx, nic)
	require.NoError(t, err)

	_, err = f.svc.CreatePassword(f.ctx, models.CreatePasswordRequest{SessionID: newer.SessionID, Password: "pw"})
	require.NoError(t, err)

	res, err := f.svc.VerifyPassword(f.ctx, models.VerifyPasswordRequest{SessionID: older.SessionID, Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusAuthenticated, res.Status)
}

func TestFlow_OfficerFingerprint(t *testing.T) {
	f := newFlowFixture(t)
	nic := "198512345678"
	_, err := f.svc.UpsertIdentity(f.ctx, models.UpsertIdentityRequest{
		NIC:          nic,
		Actor:        "OFFICER",
		OfficerType:  "DISTSEC",
		OfficeID:     "colombo-ds",
		Jurisdiction: &models.Jurisdiction{Districts: []string{"Colombo"}},
	})
	require.NoError(t, err)

	start, err := f.svc.ValidateNIC(f.ctx, nic)
	require.NoError(t, err)
	require.NotNil(t, start.OfficerTypeHint)
	assert.Equal(t, models.OfficerDistSec, *start.OfficerTypeHint)

	t.Run("challenge mismatch is rejected without consuming the session", func(t *testing.T) {
		_, err := f.svc.VerifyFingerprint(f.ctx, models.VerifyFingerprintRequest{
			SessionID: start.SessionID, FingerprintCode: "fp", Challenge: "wrong!",
		})
		assert.ErrorIs(t, err, models.ErrChallengeMismatch)
	})

	t.Run("password path is closed to officers", func(t *testing.T) {
		_, err := f.svc.VerifyPassword(f.ctx, models.VerifyPasswordRequest{SessionID: start.SessionID, Password: "x"})
		assert.ErrorIs(t, err, models.ErrInvalidCredentials)
		_, err = f.svc.CreatePassword(f.ctx, models.CreatePasswordRequest{SessionID: start.SessionID, Password: "x"})
		assert.ErrorIs(t, err, models.ErrAccountExists)
	})

	res, err := f.svc.VerifyFingerprint(f.ctx, models.VerifyFingerprintRequest{
		SessionID: start.SessionID, FingerprintCode: "fp", Challenge: start.Challenge,
	})
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusAuthenticated, res.Status)

	claims, err := f.tokens.ValidateToken(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "DISTSEC", claims.OfficerType)
	assert.Equal(t, []string{
		"citizen:read:districts",
		"citizen:write:districts",
		"process:approve:districts",
		"audit:view:districts",
	}, claims.Scopes)

	t.Run("introspection reports the officer token", func(t *testing.T) {
		info, err := f.svc.Introspect(f.ctx, "gateway", "gw-secret", res.AccessToken)
		require.NoError(t, err)
		assert.True(t, info.Active)
		assert.Equal(t, nic, info.Subject)
		assert.Equal(t, models.ActorOfficer, info.Actor)
		assert.Contains(t, info.Scope, "audit:view:districts")
	})
}

func TestFlow_CitizenCannotUseFingerprint(t *testing.T) {
	f := newFlowFixture(t)

	start, err := f.svc.ValidateNIC(f.ctx, "200012345678")
	require.NoError(t, err)

	_, err = f.svc.VerifyFingerprint(f.ctx, models.VerifyFingerprintRequest{SessionID: start.SessionID, FingerprintCode: "fp"})
	assert.ErrorIs(t, err, models.ErrWrongActor)
}

func TestFlow_ExpiredSession(t *testing.T) {
	f := newFlowFixture(t)

	start, err := f.svc.ValidateNIC(f.ctx, "200012345678")
	require.NoError(t, err)
	_, err = f.svc.ValidateNIC(f.ctx, "200012345679")
	require.NoError(t, err)

	later := requestcontext.WithTime(context.Background(), f.now.Add(11*time.Minute))
	_, err = f.svc.CreatePassword(later, models.CreatePasswordRequest{SessionID: start.SessionID, Password: "pw"})
	assert.ErrorIs(t, err, models.ErrSessionNotFound)

	n, err := f.svc.SweepExpired(later, f.now.Add(11*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestFlow_ConcurrentCreatePasswordHasOneWinner(t *testing.T) {
	f := newFlowFixture(t)
	nic := "200012345678"
	const attempts = 8

	ids := make([]models.SessionID, attempts)
	for i := range ids {
		start, err := f.svc.ValidateNIC(f.ctx, nic)
		require.NoError(t, err)
		ids[i] = start.SessionID
	}

	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.CreatePassword(f.ctx, models.CreatePasswordRequest{SessionID: ids[i], Password: "race"})
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, models.ErrAccountExists)
	}
	assert.Equal(t, 1, wins)

	record, err := f.registry.FindByNIC(f.ctx, nic)
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword(record.PasswordHash, []byte("race")))
}

func TestFlow_ConcurrentStepsOnOneSession(t *testing.T) {
	f := newFlowFixture(t)

	start, err := f.svc.ValidateNIC(f.ctx, "200012345678")
	require.NoError(t, err)

	const attempts = 6
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.CreatePassword(f.ctx, models.CreatePasswordRequest{SessionID: start.SessionID, Password: "once"})
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden), err)
	}
	assert.Equal(t, 1, wins)
}

func TestFlow_IntrospectExpiredTokenIsInactive(t *testing.T) {
	f := newFlowFixture(t)

	start, err := f.svc.ValidateNIC(f.ctx, "200012345678")
	require.NoError(t, err)
	created, err := f.svc.CreatePassword(f.ctx, models.CreatePasswordRequest{SessionID: start.SessionID, Password: "pw"})
	require.NoError(t, err)

	late := jwttoken.NewJWTService("flow-test-secret", "sludi", 9000*time.Second,
		jwttoken.WithClock(func() time.Time { return f.now.Add(9001 * time.Second) }))
	f.svc.validator = late

	info, err := f.svc.Introspect(f.ctx, "gateway", "gw-secret", created.AccessToken)
	require.NoError(t, err)
	assert.False(t, info.Active)
}

type failingIssuer struct{}

func (failingIssuer) Issue(context.Context, models.Identity) (string, error) {
	return "", errors.New("signing key unavailable")
}

// raceLosingSessions validates like a real store, then loses the commit the way a
// Redis WATCH does when another writer touches the key.
type raceLosingSessions struct {
	*sessionstore.InMemorySessionStore
}

func (r raceLosingSessions) Execute(ctx context.Context, id models.SessionID, validate func(*models.Session) error, _ func(*models.Session)) (*models.Session, error) {
	session, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := validate(session); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("session %s modified concurrently: %w", id, sentinel.ErrConflict)
}

func TestFlow_FailedTokenIssueStoresNoPassword(t *testing.T) {
	f := newFlowFixture(t)
	svc, err := New(f.sessions, f.registry, failingIssuer{}, WithBcryptCost(bcrypt.MinCost))
	require.NoError(t, err)
	nic := "199912345678"

	start, err := svc.ValidateNIC(f.ctx, nic)
	require.NoError(t, err)
	_, err = svc.CreatePassword(f.ctx, models.CreatePasswordRequest{SessionID: start.SessionID, Password: "first secret"})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInternal))

	_, err = f.registry.FindByNIC(f.ctx, nic)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
	session, err := f.sessions.FindByID(f.ctx, start.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusNICValidated, session.Status)

	retry, err := f.svc.ValidateNIC(f.ctx, nic)
	require.NoError(t, err)
	assert.False(t, retry.HasPassword)
	_, err = f.svc.CreatePassword(f.ctx, models.CreatePasswordRequest{SessionID: retry.SessionID, Password: "first secret"})
	require.NoError(t, err)
}

func TestFlow_LostSessionCommitRevertsPassword(t *testing.T) {
	f := newFlowFixture(t)
	svc, err := New(raceLosingSessions{f.sessions}, f.registry, f.tokens, WithBcryptCost(bcrypt.MinCost))
	require.NoError(t, err)
	nic := "199912345678"

	start, err := svc.ValidateNIC(f.ctx, nic)
	require.NoError(t, err)
	_, err = svc.CreatePassword(f.ctx, models.CreatePasswordRequest{SessionID: start.SessionID, Password: "first secret"})
	assert.ErrorIs(t, err, models.ErrSessionCompleted)

	if record, err := f.registry.FindByNIC(f.ctx, nic); err == nil {
		assert.False(t, record.HasPassword())
	}

	retry, err := f.svc.ValidateNIC(f.ctx, nic)
	require.NoError(t, err)
	assert.False(t, retry.HasPassword)
	created, err := f.svc.CreatePassword(f.ctx, models.CreatePasswordRequest{SessionID: retry.SessionID, Password: "second secret"})
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusAccountCreated, created.Status)
}
