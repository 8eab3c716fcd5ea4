package audit

import (
	"context"
	"time"
)

// EventCategory classifies audit events by their primary purpose.
type EventCategory string

const (
	// CategoryCompliance covers changes to identity records.
	CategoryCompliance EventCategory = "compliance"
	// CategorySecurity covers failed authentication and rejected deliveries.
	CategorySecurity EventCategory = "security"
	// CategoryOperations covers routine activity such as sessions and token issuance.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. It never carries
// passwords, fingerprint codes or raw tokens.
type Event struct {
	Category  EventCategory `json:"category"`
	Timestamp time.Time     `json:"timestamp"`
	Subject   string        `json:"subject,omitempty"`
	Action    string        `json:"action"`
	Actor     string        `json:"actor,omitempty"`
	Reason    string        `json:"reason,omitempty"`
	SessionID string        `json:"sessionId,omitempty"`
	RequestID string        `json:"requestId,omitempty"`
	ClientIP  string        `json:"clientIp,omitempty"`
	Device    string        `json:"device,omitempty"`
}

type AuditEvent string

const (
	EventSessionStarted    AuditEvent = "session_started"
	EventAuthFailed        AuditEvent = "auth_failed"
	EventTokenIssued       AuditEvent = "token_issued"
	EventAccountCreated    AuditEvent = "account_created"
	EventRegistryUpserted  AuditEvent = "registry_upserted"
	EventIntrospected      AuditEvent = "token_introspected"
	EventIntrospectDenied  AuditEvent = "introspection_denied"
	EventWebhookAccepted   AuditEvent = "webhook_accepted"
	EventWebhookRejected   AuditEvent = "webhook_rejected"
	EventRateLimitExceeded AuditEvent = "rate_limit_exceeded"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventAccountCreated:   CategoryCompliance,
	EventRegistryUpserted: CategoryCompliance,

	EventAuthFailed:        CategorySecurity,
	EventIntrospectDenied:  CategorySecurity,
	EventWebhookRejected:   CategorySecurity,
	EventRateLimitExceeded: CategorySecurity,

	EventSessionStarted:  CategoryOperations,
	EventTokenIssued:     CategoryOperations,
	EventIntrospected:    CategoryOperations,
	EventWebhookAccepted: CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Appender accepts events. Mirrors such as the event sink only append.
type Appender interface {
	Append(ctx context.Context, event Event) error
}

// Store persists events and lists them back per subject.
type Store interface {
	Appender
	ListBySubject(ctx context.Context, subject string) ([]Event, error)
}
