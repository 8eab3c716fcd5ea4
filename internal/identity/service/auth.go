package service

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/crypto/bcrypt"

	"govsign/internal/identity/models"
	dErrors "govsign/pkg/domain-errors"
	"govsign/pkg/platform/audit"
	"govsign/pkg/platform/sentinel"
	"govsign/pkg/platform/telemetry"
	"govsign/pkg/requestcontext"
)

const (
	stepValidateNIC       = "validate_nic"
	stepVerifyFingerprint = "verify_fingerprint"
	stepVerifyPassword    = "verify_password"
	stepCreatePassword    = "create_password"
)

// ValidateNIC starts a session for nic. Unknown NICs are treated as citizens
// without a password.
func (s *Service) ValidateNIC(ctx context.Context, nic string) (result *models.ValidateNICResult, err error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "identity.ValidateNIC")
	defer func() {
		telemetry.RecordError(span, err)
		span.End()
		s.metrics.ObserveAuthStep(stepValidateNIC, outcome(err))
	}()

	if nic == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "nic is required")
	}
	if !models.ValidNIC(nic) {
		return nil, models.ErrInvalidFormat
	}

	identity, err := s.registry.FindByNIC(ctx, nic)
	if err != nil {
		if !errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up identity")
		}
		identity = models.NewCitizen(nic)
	}

	now := requestcontext.Now(ctx)
	session := models.NewSession(identity, s.newChallenge(), now, s.sessionTTL)
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create session")
	}
	span.SetAttributes(
		attribute.String(telemetry.AttrSessionID, session.ID.String()),
		attribute.String(telemetry.AttrActor, identity.Actor.String()),
	)

	result = &models.ValidateNICResult{
		SessionID: session.ID,
		Status:    session.Status,
		Challenge: session.Challenge,
		RoleHint:  identity.Actor,
	}
	if identity.IsCitizen() {
		result.HasPassword = identity.HasPassword()
	} else {
		officerType := identity.OfficerType
		result.OfficerTypeHint = &officerType
	}

	s.logger.InfoContext(ctx, "session started",
		"session_id", session.ID,
		"actor", identity.Actor,
		"request_id", requestcontext.RequestID(ctx),
	)
	s.emit(ctx, audit.EventSessionStarted, nic, audit.Event{
		Actor:     identity.Actor.String(),
		SessionID: session.ID.String(),
	})
	return result, nil
}

// VerifyFingerprint completes an officer session. The fingerprint code is only
// checked for presence; biometric matching happens on the capture device. When a
// challenge is supplied it must equal the one issued by ValidateNIC.
func (s *Service) VerifyFingerprint(ctx context.Context, req models.VerifyFingerprintRequest) (result *models.AuthResult, err error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "identity.VerifyFingerprint",
		attribute.String(telemetry.AttrSessionID, req.SessionID.String()),
	)
	defer func() {
		telemetry.RecordError(span, err)
		span.End()
		s.metrics.ObserveAuthStep(stepVerifyFingerprint, outcome(err))
	}()

	if req.FingerprintCode == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "fingerprintCode is required")
	}

	now := requestcontext.Now(ctx)
	var token string
	session, err := s.sessions.Execute(ctx, req.SessionID,
		func(sess *models.Session) error {
			if req.Challenge != "" && !sess.ChallengeMatches(req.Challenge) {
				return models.ErrChallengeMismatch
			}
			if !sess.Identity.IsOfficer() {
				return models.ErrWrongActor
			}
			if err := sess.CanTransition(); err != nil {
				return err
			}
			minted, err := s.tokens.Issue(ctx, sess.Identity)
			if err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue token")
			}
			token = minted
			return nil
		},
		func(sess *models.Session) {
			sess.ApplyAuthentication(token, now)
		},
	)
	if err != nil {
		err = s.translateSessionError(err)
		s.authFailed(ctx, req.SessionID, stepVerifyFingerprint, err)
		return nil, err
	}

	s.tokenIssued(ctx, session, audit.EventTokenIssued)
	return &models.AuthResult{Status: session.Status, AccessToken: session.AccessToken}, nil
}

// VerifyPassword completes a citizen session against the password currently held
// by the registry, so a password set after ValidateNIC is honoured.
func (s *Service) VerifyPassword(ctx context.Context, req models.VerifyPasswordRequest) (result *models.AuthResult, err error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "identity.VerifyPassword",
		attribute.String(telemetry.AttrSessionID, req.SessionID.String()),
	)
	defer func() {
		telemetry.RecordError(span, err)
		span.End()
		s.metrics.ObserveAuthStep(stepVerifyPassword, outcome(err))
	}()

	current, err := s.sessions.FindByID(ctx, req.SessionID)
	if err != nil {
		err = s.translateSessionError(err)
		s.authFailed(ctx, req.SessionID, stepVerifyPassword, err)
		return nil, err
	}
	if err := s.checkPassword(ctx, current, req.Password); err != nil {
		s.authFailed(ctx, req.SessionID, stepVerifyPassword, err)
		return nil, err
	}

	now := requestcontext.Now(ctx)
	var token string
	session, err := s.sessions.Execute(ctx, req.SessionID,
		func(sess *models.Session) error {
			if err := sess.CanTransition(); err != nil {
				return err
			}
			minted, err := s.tokens.Issue(ctx, sess.Identity)
			if err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue token")
			}
			token = minted
			return nil
		},
		func(sess *models.Session) {
			sess.ApplyAuthentication(token, now)
		},
	)
	if err != nil {
		err = s.translateSessionError(err)
		s.authFailed(ctx, req.SessionID, stepVerifyPassword, err)
		return nil, err
	}

	s.tokenIssued(ctx, session, audit.EventTokenIssued)
	return &models.AuthResult{Status: session.Status, AccessToken: session.AccessToken}, nil
}

func (s *Service) checkPassword(ctx context.Context, session *models.Session, password string) error {
	if !session.Identity.IsCitizen() {
		return models.ErrInvalidCredentials
	}
	if err := session.CanTransition(); err != nil {
		return err
	}
	record, err := s.registry.FindByNIC(ctx, session.NIC)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return models.ErrInvalidCredentials
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up identity")
	}
	if !record.IsCitizen() || !record.HasPassword() {
		return models.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(record.PasswordHash, []byte(password)); err != nil {
		return models.ErrInvalidCredentials
	}
	return nil
}

// CreatePassword sets the first password for a citizen and completes the session.
// The registry write is a compare-and-set; of several concurrent callers for the
// same NIC exactly one succeeds and the rest get ErrAccountExists.
func (s *Service) CreatePassword(ctx context.Context, req models.CreatePasswordRequest) (result *models.AuthResult, err error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "identity.CreatePassword",
		attribute.String(telemetry.AttrSessionID, req.SessionID.String()),
	)
	defer func() {
		telemetry.RecordError(span, err)
		span.End()
		s.metrics.ObserveAuthStep(stepCreatePassword, outcome(err))
	}()

	if req.Password == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "password is required")
	}

	current, err := s.sessions.FindByID(ctx, req.SessionID)
	if err != nil {
		err = s.translateSessionError(err)
		s.authFailed(ctx, req.SessionID, stepCreatePassword, err)
		return nil, err
	}
	if err := s.checkAccountCreation(ctx, current); err != nil {
		s.authFailed(ctx, req.SessionID, stepCreatePassword, err)
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return nil, dErrors.New(dErrors.CodeBadRequest, "password must be at most 72 bytes")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash password")
	}

	token, err := s.tokens.Issue(ctx, current.Identity)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue token")
	}

	now := requestcontext.Now(ctx)
	passwordStored := false
	session, err := s.sessions.Execute(ctx, req.SessionID,
		func(sess *models.Session) error {
			if err := sess.CanTransition(); err != nil {
				return err
			}
			if err := sess.Identity.CanSetPassword(); err != nil {
				return err
			}
			// Last fallible step before the session write.
			if err := s.registry.SetPasswordIfAbsent(ctx, sess.NIC, hash, now); err != nil {
				if errors.Is(err, sentinel.ErrConflict) {
					return models.ErrAccountExists
				}
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to store password")
			}
			passwordStored = true
			return nil
		},
		func(sess *models.Session) {
			sess.ApplyAccountCreation(token, now)
		},
	)
	if err != nil {
		if passwordStored {
			s.revertPassword(ctx, current, hash)
		}
		err = s.translateSessionError(err)
		s.authFailed(ctx, req.SessionID, stepCreatePassword, err)
		return nil, err
	}

	s.tokenIssued(ctx, session, audit.EventAccountCreated)
	return &models.AuthResult{Status: session.Status, AccessToken: session.AccessToken}, nil
}

// revertPassword undoes a password write whose session commit failed. It only
// clears the hash this call stored.
func (s *Service) revertPassword(ctx context.Context, session *models.Session, hash []byte) {
	if err := s.registry.ClearPasswordIfMatches(ctx, session.NIC, hash); err != nil {
		s.logger.ErrorContext(ctx, "failed to revert password",
			"session_id", session.ID,
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
	}
}

// checkAccountCreation fails fast before the password is hashed.
func (s *Service) checkAccountCreation(ctx context.Context, session *models.Session) error {
	if err := session.CanTransition(); err != nil {
		return err
	}
	if err := session.Identity.CanSetPassword(); err != nil {
		return err
	}
	record, err := s.registry.FindByNIC(ctx, session.NIC)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return nil
	case err != nil:
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up identity")
	}
	return record.CanSetPassword()
}

// translateSessionError maps store sentinels to domain errors and passes domain
// errors from validate callbacks through unchanged.
func (s *Service) translateSessionError(err error) error {
	var de *dErrors.Error
	switch {
	case errors.As(err, &de):
		return err
	case errors.Is(err, sentinel.ErrNotFound), errors.Is(err, sentinel.ErrExpired):
		return models.ErrSessionNotFound
	case errors.Is(err, sentinel.ErrConflict):
		// Another writer completed the session between WATCH and EXEC.
		return models.ErrSessionCompleted
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "session store failure")
	}
}

func (s *Service) authFailed(ctx context.Context, id models.SessionID, step string, err error) {
	code := dErrors.CodeOf(err)
	if code == dErrors.CodeInternal {
		s.logger.ErrorContext(ctx, "authentication step failed",
			"step", step,
			"session_id", id,
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		return
	}
	s.logger.WarnContext(ctx, "authentication step rejected",
		"step", step,
		"session_id", id,
		"code", code,
		"request_id", requestcontext.RequestID(ctx),
	)
	reason := string(code)
	var de *dErrors.Error
	if errors.As(err, &de) {
		reason = de.Message
	}
	s.emit(ctx, audit.EventAuthFailed, "", audit.Event{
		SessionID: id.String(),
		Reason:    step + ": " + reason,
	})
}

func (s *Service) tokenIssued(ctx context.Context, session *models.Session, event audit.AuditEvent) {
	actor := session.Identity.Actor.String()
	s.metrics.IncrementTokensIssued(actor)
	attrs := []any{
		"session_id", session.ID,
		"actor", actor,
		"status", session.Status,
		"request_id", requestcontext.RequestID(ctx),
	}
	if session.Identity.IsOfficer() {
		attrs = append(attrs, "officer_type", session.Identity.OfficerType.String())
	}
	s.logger.InfoContext(ctx, "token issued", attrs...)
	s.emit(ctx, event, session.NIC, audit.Event{
		Actor:     actor,
		SessionID: session.ID.String(),
	})
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	return string(dErrors.CodeOf(err))
}
