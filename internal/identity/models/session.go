package models

import (
	"crypto/subtle"
	"time"

	"github.com/google/uuid"
)

// SessionID is the opaque handle a client holds between authentication steps.
type SessionID string

func NewSessionID() SessionID {
	return SessionID(uuid.NewString())
}

func (id SessionID) String() string {
	return string(id)
}

// SessionStatus is the state machine position of a session.
type SessionStatus string

const (
	SessionStatusNICValidated   SessionStatus = "NIC_VALIDATED"
	SessionStatusAuthenticated  SessionStatus = "AUTHENTICATED"
	SessionStatusAccountCreated SessionStatus = "ACCOUNT_CREATED"
)

// IsTerminal reports whether no further transitions are allowed.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionStatusAuthenticated || s == SessionStatusAccountCreated
}

// Session is one in-flight authentication attempt. It is owned by the
// authentication service; stores only persist it.
type Session struct {
	ID          SessionID     `json:"id"`
	NIC         string        `json:"nic"`
	Identity    Identity      `json:"identity"`
	HasPassword bool          `json:"hasPassword"`
	Challenge   string        `json:"challenge"`
	Status      SessionStatus `json:"status"`
	AccessToken string        `json:"accessToken,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
	ExpiresAt   time.Time     `json:"expiresAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// NewSession snapshots identity into a fresh NIC_VALIDATED session.
func NewSession(identity *Identity, challenge string, now time.Time, ttl time.Duration) *Session {
	return &Session{
		ID:          NewSessionID(),
		NIC:         identity.NIC,
		Identity:    identity.Snapshot(),
		HasPassword: identity.HasPassword(),
		Challenge:   challenge,
		Status:      SessionStatusNICValidated,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
		UpdatedAt:   now,
	}
}

func (s *Session) IsExpired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// ChallengeMatches compares in constant time. An empty candidate never matches.
func (s *Session) ChallengeMatches(candidate string) bool {
	if candidate == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(s.Challenge), []byte(candidate)) == 1
}

// CanTransition checks that the session still accepts a verification step.
func (s *Session) CanTransition() error {
	if s.Status.IsTerminal() {
		return ErrSessionCompleted
	}
	return nil
}

// ApplyAuthentication moves the session to AUTHENTICATED with the minted token.
func (s *Session) ApplyAuthentication(token string, now time.Time) {
	s.Status = SessionStatusAuthenticated
	s.AccessToken = token
	s.UpdatedAt = now
}

// ApplyAccountCreation moves the session to ACCOUNT_CREATED with the minted token.
func (s *Session) ApplyAccountCreation(token string, now time.Time) {
	s.Status = SessionStatusAccountCreated
	s.AccessToken = token
	s.HasPassword = true
	s.UpdatedAt = now
}

// Clone deep-copies the session.
func (s *Session) Clone() *Session {
	c := *s
	c.Identity = *s.Identity.Clone()
	return &c
}
