// Package models holds the gateway's request and response shapes.
package models

import "encoding/json"

// VerifiedUser is the caller as resolved by introspection.
type VerifiedUser struct {
	ID     string   `json:"id"`
	Scopes []string `json:"scopes"`
}

// VerifyResult answers GET /auth/verify.
type VerifyResult struct {
	User   VerifiedUser `json:"user"`
	Active bool         `json:"active"`
}

type InitiateWorkflowRequest struct {
	ServiceType string         `json:"serviceType" validate:"required,max=128"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type SignWorkflowRequest struct {
	Action string `json:"action" validate:"required,oneof=approve reject"`
	Note   string `json:"note,omitempty" validate:"max=1024"`
}

type InitiatePaymentRequest struct {
	Amount      float64 `json:"amount" validate:"gt=0"`
	Currency    string  `json:"currency,omitempty" validate:"omitempty,len=3"`
	Description string  `json:"description,omitempty" validate:"max=256"`
}

// WebhookEvent is what the gateway publishes for an accepted delivery.
type WebhookEvent struct {
	Peer    string          `json:"peer"`
	Payload json.RawMessage `json:"payload"`
}
