// Package events publishes domain events (webhook deliveries, audit records) to a sink.
//
// The Kafka publisher is used when brokers are configured; otherwise events are logged.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Message is one event bound for the sink. Key selects the partition; events from the
// same peer or subject stay ordered.
type Message struct {
	Key       string
	Type      string
	Source    string
	Payload   json.RawMessage
	Timestamp time.Time
}

// Publisher delivers messages. Implementations are safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// LogPublisher writes each message to a logger. It never fails.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, msg Message) error {
	p.logger.InfoContext(ctx, "event published",
		"key", msg.Key,
		"type", msg.Type,
		"source", msg.Source,
		"bytes", len(msg.Payload),
	)
	return nil
}

func (p *LogPublisher) Close() error { return nil }

// MemoryPublisher records messages for inspection.
type MemoryPublisher struct {
	mu       sync.Mutex
	messages []Message
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

func (p *MemoryPublisher) Publish(_ context.Context, msg Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, msg)
	return nil
}

// Messages returns a copy of everything published so far.
func (p *MemoryPublisher) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Message(nil), p.messages...)
}

func (p *MemoryPublisher) Close() error { return nil }
