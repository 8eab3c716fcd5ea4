package service

import (
	"context"
	"errors"

	"golang.org/x/crypto/bcrypt"

	"govsign/internal/identity/models"
	dErrors "govsign/pkg/domain-errors"
	"govsign/pkg/platform/audit"
	"govsign/pkg/requestcontext"
)

// UpsertIdentity seeds or replaces a registry entry. Only available when the
// service runs with WithDevAdmin(true).
func (s *Service) UpsertIdentity(ctx context.Context, req models.UpsertIdentityRequest) (*models.UpsertIdentityResult, error) {
	if !s.devAdmin {
		return nil, dErrors.New(dErrors.CodeForbidden, "registry seeding is disabled")
	}
	if !models.ValidNIC(req.NIC) {
		return nil, models.ErrInvalidFormat
	}

	identity, err := s.buildIdentity(req)
	if err != nil {
		return nil, err
	}
	identity.UpdatedAt = requestcontext.Now(ctx)

	if err := s.registry.Upsert(ctx, identity); err != nil {
		var de *dErrors.Error
		if errors.As(err, &de) {
			return nil, err
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to upsert identity")
	}

	s.logger.InfoContext(ctx, "registry entry upserted",
		"actor", identity.Actor,
		"request_id", requestcontext.RequestID(ctx),
	)
	s.emit(ctx, audit.EventRegistryUpserted, identity.NIC, audit.Event{
		Actor: identity.Actor.String(),
	})
	return &models.UpsertIdentityResult{OK: true, Entry: identity.Snapshot()}, nil
}

func (s *Service) buildIdentity(req models.UpsertIdentityRequest) (*models.Identity, error) {
	actor, err := models.ParseActor(req.Actor)
	if err != nil {
		return nil, err
	}
	if actor == models.ActorCitizen {
		if req.OfficerType != "" || req.Jurisdiction != nil {
			return nil, dErrors.New(dErrors.CodeBadRequest, "citizens carry no officer rank or jurisdiction")
		}
		identity := models.NewCitizen(req.NIC)
		if req.Password != "" {
			hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
			if err != nil {
				return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "password cannot be hashed")
			}
			identity.PasswordHash = hash
		}
		return identity, nil
	}

	if req.Password != "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "officers authenticate by fingerprint and carry no password")
	}
	officerType, err := models.ParseOfficerType(req.OfficerType)
	if err != nil {
		return nil, err
	}
	var jurisdiction models.Jurisdiction
	if req.Jurisdiction != nil {
		jurisdiction = *req.Jurisdiction
	}
	return models.NewOfficer(req.NIC, officerType, req.OfficeID, jurisdiction)
}
