// Package publisher emits audit events to a store, synchronously or through a
// bounded buffer drained by a background goroutine.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/mssola/useragent"

	audit "govsign/pkg/platform/audit"
	"govsign/pkg/requestcontext"
)

var errBufferFull = errors.New("audit buffer full")

type Publisher struct {
	store   audit.Store
	mirrors []audit.Appender
	logger  *slog.Logger

	buffer    int
	queue     chan queued
	wg        sync.WaitGroup
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

type queued struct {
	ctx   context.Context
	event audit.Event
}

type Option func(*Publisher)

// WithAsyncBuffer makes Emit non-blocking. Events beyond size are dropped with an error.
func WithAsyncBuffer(size int) Option {
	return func(p *Publisher) {
		p.buffer = size
	}
}

// WithMirror also appends every event to m. Mirror failures are logged, not returned.
func WithMirror(m audit.Appender) Option {
	return func(p *Publisher) {
		p.mirrors = append(p.mirrors, m)
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func NewPublisher(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{
		store:  store,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.buffer > 0 {
		p.queue = make(chan queued, p.buffer)
		p.wg.Add(1)
		go p.drain()
	}
	return p
}

// Emit records event, filling the timestamp, category and request metadata from ctx
// when they are not already set.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	event = enrich(ctx, event)

	if p.queue == nil {
		return p.write(ctx, event)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return errors.New("audit publisher closed")
	}
	// Detach from request cancellation; the event outlives the request.
	item := queued{ctx: context.WithoutCancel(ctx), event: event}
	select {
	case p.queue <- item:
		return nil
	default:
	}
	select {
	case p.queue <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return errBufferFull
	}
}

// List returns the recorded events for subject.
func (p *Publisher) List(ctx context.Context, subject string) ([]audit.Event, error) {
	return p.store.ListBySubject(ctx, subject)
}

// Close stops accepting events and drains the buffer.
func (p *Publisher) Close() {
	p.closeOnce.Do(func() {
		if p.queue == nil {
			return
		}
		p.mu.Lock()
		p.closed = true
		close(p.queue)
		p.mu.Unlock()
		p.wg.Wait()
	})
}

func (p *Publisher) drain() {
	defer p.wg.Done()
	for item := range p.queue {
		if err := p.write(item.ctx, item.event); err != nil {
			p.logger.ErrorContext(item.ctx, "failed to persist audit event",
				"action", item.event.Action,
				"error", err,
			)
		}
	}
}

func (p *Publisher) write(ctx context.Context, event audit.Event) error {
	if err := p.store.Append(ctx, event); err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	for _, m := range p.mirrors {
		if err := m.Append(ctx, event); err != nil {
			p.logger.WarnContext(ctx, "audit mirror failed",
				"action", event.Action,
				"error", err,
			)
		}
	}
	return nil
}

func enrich(ctx context.Context, event audit.Event) audit.Event {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Category == "" {
		event.Category = audit.AuditEvent(event.Action).Category()
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	if event.ClientIP == "" {
		event.ClientIP = requestcontext.ClientIP(ctx)
	}
	if event.Device == "" {
		event.Device = DeviceLabel(requestcontext.UserAgent(ctx))
	}
	return event
}

// DeviceLabel summarises a User-Agent as "Browser on OS", or "" when unknown.
func DeviceLabel(ua string) string {
	if ua == "" {
		return ""
	}
	parsed := useragent.New(ua)
	browser, _ := parsed.Browser()
	os := parsed.OS()
	switch {
	case browser != "" && os != "":
		return browser + " on " + os
	case browser != "":
		return browser
	default:
		return os
	}
}
