package models

import (
	"fmt"
	"slices"
	"time"

	dErrors "govsign/pkg/domain-errors"
)

// Actor is the top-level principal kind.
type Actor string

const (
	ActorCitizen Actor = "CITIZEN"
	ActorOfficer Actor = "OFFICER"
)

func (a Actor) IsValid() bool {
	return a == ActorCitizen || a == ActorOfficer
}

func (a Actor) String() string {
	return string(a)
}

// ParseActor validates an actor name from untrusted input.
func ParseActor(s string) (Actor, error) {
	a := Actor(s)
	if !a.IsValid() {
		return "", dErrors.New(dErrors.CodeBadRequest, "actor must be one of CITIZEN, OFFICER")
	}
	return a, nil
}

// OfficerType is an officer's jurisdiction rank, narrowest first.
//
// The zero value is OfficerTypeUnknown; it never appears on a valid officer record
// and derives no capabilities.
type OfficerType uint8

const (
	OfficerTypeUnknown OfficerType = iota
	OfficerGN
	OfficerDivSec
	OfficerDistSec
	OfficerProvincial
	OfficerMinistry

	// OfficerTypeCount is the number of OfficerType values including Unknown.
	// Tables indexed by OfficerType are sized against it.
	OfficerTypeCount
)

var officerTypeNames = [OfficerTypeCount]string{
	OfficerTypeUnknown: "",
	OfficerGN:          "GN",
	OfficerDivSec:      "DIVSEC",
	OfficerDistSec:     "DISTSEC",
	OfficerProvincial:  "PROVINCIAL",
	OfficerMinistry:    "MINISTRY",
}

// OfficerTypes lists the assignable ranks in ascending breadth.
func OfficerTypes() []OfficerType {
	return []OfficerType{OfficerGN, OfficerDivSec, OfficerDistSec, OfficerProvincial, OfficerMinistry}
}

func (t OfficerType) IsValid() bool {
	return t > OfficerTypeUnknown && t < OfficerTypeCount
}

func (t OfficerType) String() string {
	if t >= OfficerTypeCount {
		return fmt.Sprintf("OfficerType(%d)", uint8(t))
	}
	return officerTypeNames[t]
}

// ParseOfficerType maps a rank name to its OfficerType.
func ParseOfficerType(s string) (OfficerType, error) {
	for _, t := range OfficerTypes() {
		if officerTypeNames[t] == s {
			return t, nil
		}
	}
	return OfficerTypeUnknown, dErrors.New(dErrors.CodeBadRequest, "officerType must be one of GN, DIVSEC, DISTSEC, PROVINCIAL, MINISTRY")
}

func (t OfficerType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *OfficerType) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*t = OfficerTypeUnknown
		return nil
	}
	parsed, err := ParseOfficerType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Jurisdiction is the administrative area an officer acts within.
type Jurisdiction struct {
	Villages  []string `json:"villages"`
	Divisions []string `json:"divisions"`
	Districts []string `json:"districts"`
	Provinces []string `json:"provinces"`
	Country   bool     `json:"country"`
}

// Normalize replaces nil lists with empty ones so stored records have a stable shape.
func (j Jurisdiction) Normalize() Jurisdiction {
	orEmpty := func(s []string) []string {
		if s == nil {
			return []string{}
		}
		return slices.Clone(s)
	}
	return Jurisdiction{
		Villages:  orEmpty(j.Villages),
		Divisions: orEmpty(j.Divisions),
		Districts: orEmpty(j.Districts),
		Provinces: orEmpty(j.Provinces),
		Country:   j.Country,
	}
}

// Identity is one subject known to the authority.
//
// Invariants:
//   - OfficerType and Jurisdiction are set iff Actor is OFFICER
//   - PasswordHash is only ever set for CITIZEN, and only once
type Identity struct {
	NIC          string        `json:"nic"`
	Actor        Actor         `json:"actor"`
	OfficerType  OfficerType   `json:"officerType,omitempty"`
	OfficeID     string        `json:"officeId,omitempty"`
	Jurisdiction *Jurisdiction `json:"jurisdiction,omitempty"`
	PasswordHash []byte        `json:"passwordHash,omitempty"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

// NewCitizen is the record assumed for a NIC with no registry entry.
func NewCitizen(nic string) *Identity {
	return &Identity{NIC: nic, Actor: ActorCitizen}
}

// NewOfficer builds a validated officer record.
func NewOfficer(nic string, officerType OfficerType, officeID string, jurisdiction Jurisdiction) (*Identity, error) {
	j := jurisdiction.Normalize()
	identity := &Identity{
		NIC:          nic,
		Actor:        ActorOfficer,
		OfficerType:  officerType,
		OfficeID:     officeID,
		Jurisdiction: &j,
	}
	if err := identity.Validate(); err != nil {
		return nil, err
	}
	return identity, nil
}

// Validate checks the record-shape invariants.
func (i *Identity) Validate() error {
	if i.NIC == "" {
		return dErrors.New(dErrors.CodeBadRequest, "nic is required")
	}
	switch i.Actor {
	case ActorCitizen:
		if i.OfficerType != OfficerTypeUnknown || i.Jurisdiction != nil {
			return dErrors.New(dErrors.CodeBadRequest, "citizens carry no officer rank or jurisdiction")
		}
	case ActorOfficer:
		if !i.OfficerType.IsValid() {
			return dErrors.New(dErrors.CodeBadRequest, "officers require a valid officerType")
		}
		if i.Jurisdiction == nil {
			return dErrors.New(dErrors.CodeBadRequest, "officers require a jurisdiction")
		}
		if len(i.PasswordHash) > 0 {
			return dErrors.New(dErrors.CodeBadRequest, "officers authenticate by fingerprint and carry no password")
		}
	default:
		return dErrors.New(dErrors.CodeBadRequest, "actor must be one of CITIZEN, OFFICER")
	}
	return nil
}

func (i *Identity) IsOfficer() bool {
	return i.Actor == ActorOfficer
}

func (i *Identity) IsCitizen() bool {
	return i.Actor == ActorCitizen
}

func (i *Identity) HasPassword() bool {
	return len(i.PasswordHash) > 0
}

// CanSetPassword reports whether the one-time account creation transition is still open.
func (i *Identity) CanSetPassword() error {
	if !i.IsCitizen() || i.HasPassword() {
		return ErrAccountExists
	}
	return nil
}

// ApplyPassword records the password hash. Call CanSetPassword first.
func (i *Identity) ApplyPassword(hash []byte, now time.Time) {
	i.PasswordHash = slices.Clone(hash)
	i.UpdatedAt = now
}

// Snapshot copies the record without secret material, for embedding in a session.
func (i *Identity) Snapshot() Identity {
	snap := *i
	snap.PasswordHash = nil
	if i.Jurisdiction != nil {
		j := i.Jurisdiction.Normalize()
		snap.Jurisdiction = &j
	}
	return snap
}

// Clone deep-copies the record, secret material included. Stores hand out clones so
// callers never alias stored state.
func (i *Identity) Clone() *Identity {
	c := *i
	c.PasswordHash = slices.Clone(i.PasswordHash)
	if i.Jurisdiction != nil {
		j := i.Jurisdiction.Normalize()
		c.Jurisdiction = &j
	}
	return &c
}
