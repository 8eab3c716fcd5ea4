package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"govsign/internal/identity/models"
	"govsign/pkg/platform/sentinel"
)

const schema = `
CREATE TABLE IF NOT EXISTS identities (
	nic           TEXT PRIMARY KEY,
	actor         TEXT NOT NULL CHECK (actor IN ('CITIZEN', 'OFFICER')),
	officer_type  TEXT,
	office_id     TEXT,
	jurisdiction  JSONB,
	password_hash BYTEA,
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// PostgresRegistry persists identity records. The password write is a single
// conditional statement, so two concurrent account creations cannot both succeed.
type PostgresRegistry struct {
	db *pgxpool.Pool
}

func NewPostgres(db *pgxpool.Pool) *PostgresRegistry {
	return &PostgresRegistry{db: db}
}

// EnsureSchema creates the identities table if it is missing.
func (r *PostgresRegistry) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create identities table: %w", err)
	}
	return nil
}

func (r *PostgresRegistry) FindByNIC(ctx context.Context, nic string) (*models.Identity, error) {
	var (
		identity     models.Identity
		actor        string
		officerType  *string
		officeID     *string
		jurisdiction []byte
	)
	err := r.db.QueryRow(ctx, `
		SELECT nic, actor, officer_type, office_id, jurisdiction, password_hash, updated_at
		FROM identities WHERE nic = $1
	`, nic).Scan(&identity.NIC, &actor, &officerType, &officeID, &jurisdiction, &identity.PasswordHash, &identity.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find identity: %w", err)
	}

	identity.Actor, err = models.ParseActor(actor)
	if err != nil {
		return nil, fmt.Errorf("identity %s: %w", nic, err)
	}
	if officerType != nil && *officerType != "" {
		if identity.OfficerType, err = models.ParseOfficerType(*officerType); err != nil {
			return nil, fmt.Errorf("identity %s: %w", nic, err)
		}
	}
	if officeID != nil {
		identity.OfficeID = *officeID
	}
	if len(jurisdiction) > 0 {
		var j models.Jurisdiction
		if err := json.Unmarshal(jurisdiction, &j); err != nil {
			return nil, fmt.Errorf("decode jurisdiction for %s: %w", nic, err)
		}
		j = j.Normalize()
		identity.Jurisdiction = &j
	}
	return &identity, nil
}

// Upsert replaces the record for identity.NIC.
func (r *PostgresRegistry) Upsert(ctx context.Context, identity *models.Identity) error {
	if err := identity.Validate(); err != nil {
		return err
	}
	var (
		officerType  *string
		jurisdiction []byte
	)
	if identity.IsOfficer() {
		name := identity.OfficerType.String()
		officerType = &name
	}
	if identity.Jurisdiction != nil {
		raw, err := json.Marshal(identity.Jurisdiction.Normalize())
		if err != nil {
			return fmt.Errorf("encode jurisdiction: %w", err)
		}
		jurisdiction = raw
	}
	var passwordHash []byte
	if identity.HasPassword() {
		passwordHash = identity.PasswordHash
	}
	updatedAt := identity.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO identities (nic, actor, officer_type, office_id, jurisdiction, password_hash, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7)
		ON CONFLICT (nic) DO UPDATE SET
			actor = EXCLUDED.actor,
			officer_type = EXCLUDED.officer_type,
			office_id = EXCLUDED.office_id,
			jurisdiction = EXCLUDED.jurisdiction,
			password_hash = EXCLUDED.password_hash,
			updated_at = EXCLUDED.updated_at
	`, identity.NIC, string(identity.Actor), officerType, identity.OfficeID, jurisdiction, passwordHash, updatedAt)
	if err != nil {
		return fmt.Errorf("upsert identity: %w", err)
	}
	return nil
}

// SetPasswordIfAbsent inserts a bare citizen with the password, or sets the password
// on an existing citizen that has none. Zero affected rows means the transition is
// already consumed (or the record is an officer) and maps to sentinel.ErrConflict.
func (r *PostgresRegistry) SetPasswordIfAbsent(ctx context.Context, nic string, hash []byte, now time.Time) error {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO identities (nic, actor, password_hash, updated_at)
		VALUES ($1, 'CITIZEN', $2, $3)
		ON CONFLICT (nic) DO UPDATE SET
			password_hash = EXCLUDED.password_hash,
			updated_at = EXCLUDED.updated_at
		WHERE identities.actor = 'CITIZEN' AND identities.password_hash IS NULL
	`, nic, hash, now)
	if err != nil {
		return fmt.Errorf("set password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("nic %s: %w", nic, sentinel.ErrConflict)
	}
	return nil
}

// ClearPasswordIfMatches drops the password only while it is still hash.
func (r *PostgresRegistry) ClearPasswordIfMatches(ctx context.Context, nic string, hash []byte) error {
	_, err := r.db.Exec(ctx, `
		UPDATE identities SET password_hash = NULL
		WHERE nic = $1 AND password_hash = $2
	`, nic, hash)
	if err != nil {
		return fmt.Errorf("clear password: %w", err)
	}
	return nil
}
