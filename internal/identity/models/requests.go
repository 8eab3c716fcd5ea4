package models

// ValidateNICRequest starts a session.
type ValidateNICRequest struct {
	NIC string `json:"nic" validate:"required"`
}

// ValidateNICResult is the step-one response. OfficerTypeHint is only set for officers.
type ValidateNICResult struct {
	SessionID       SessionID     `json:"sessionId"`
	Status          SessionStatus `json:"status"`
	Challenge       string        `json:"challenge"`
	RoleHint        Actor         `json:"roleHint"`
	HasPassword     bool          `json:"hasPassword"`
	OfficerTypeHint *OfficerType  `json:"officerTypeHint,omitempty"`
}

type VerifyFingerprintRequest struct {
	SessionID       SessionID `json:"sessionId" validate:"required,max=64"`
	FingerprintCode string    `json:"fingerprintCode" validate:"required,max=4096"`
	Challenge       string    `json:"challenge,omitempty" validate:"max=64"`
}

type VerifyPasswordRequest struct {
	SessionID SessionID `json:"sessionId" validate:"required,max=64"`
	Password  string    `json:"password" validate:"required,max=72"`
}

type CreatePasswordRequest struct {
	SessionID SessionID `json:"sessionId" validate:"required,max=64"`
	Password  string    `json:"password" validate:"required,max=72"`
}

// AuthResult is returned by every successful verification step.
type AuthResult struct {
	Status      SessionStatus `json:"status"`
	AccessToken string        `json:"accessToken"`
}

// UpsertIdentityRequest seeds the registry in development deployments.
type UpsertIdentityRequest struct {
	NIC          string        `json:"nic" validate:"required"`
	Actor        string        `json:"actor" validate:"required,oneof=CITIZEN OFFICER"`
	OfficerType  string        `json:"officerType,omitempty"`
	OfficeID     string        `json:"officeId,omitempty"`
	Jurisdiction *Jurisdiction `json:"jurisdiction,omitempty"`
	Password     string        `json:"password,omitempty" validate:"max=72"`
}

// UpsertIdentityResult echoes the stored entry without secret material.
type UpsertIdentityResult struct {
	OK    bool     `json:"ok"`
	Entry Identity `json:"entry"`
}

// IntrospectionResult follows RFC 7662. Inactive tokens carry only Active=false.
type IntrospectionResult struct {
	Active      bool   `json:"active"`
	Subject     string `json:"sub,omitempty"`
	Scope       string `json:"scope,omitempty"`
	Actor       Actor  `json:"actor,omitempty"`
	OfficerType string `json:"officer_type,omitempty"`
	ExpiresAt   int64  `json:"exp,omitempty"`
	IssuedAt    int64  `json:"iat,omitempty"`
	TokenType   string `json:"token_type,omitempty"`
}
