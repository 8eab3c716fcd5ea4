// Package eventsink mirrors audit events onto the domain event stream.
package eventsink

import (
	"context"
	"encoding/json"
	"fmt"

	audit "govsign/pkg/platform/audit"
	"govsign/pkg/platform/events"
)

// Sink appends audit events to an events.Publisher, keyed by subject.
type Sink struct {
	publisher events.Publisher
	source    string
}

func New(publisher events.Publisher, source string) *Sink {
	return &Sink{publisher: publisher, source: source}
}

func (s *Sink) Append(ctx context.Context, event audit.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	return s.publisher.Publish(ctx, events.Message{
		Key:       event.Subject,
		Type:      "audit." + event.Action,
		Source:    s.source,
		Payload:   payload,
		Timestamp: event.Timestamp,
	})
}
