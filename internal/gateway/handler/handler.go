// Package handler serves the gateway: authenticated workflow and payment routes that
// proxy to the collaborators, and signed webhook ingress from them.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"govsign/internal/gateway/models"
	"govsign/internal/gateway/upstream"
	"govsign/internal/gateway/webhook"
	"govsign/internal/platform/metrics"
	dErrors "govsign/pkg/domain-errors"
	audit "govsign/pkg/platform/audit"
	"govsign/pkg/platform/events"
	"govsign/pkg/platform/httputil"
	authmw "govsign/pkg/platform/middleware/auth"
	"govsign/pkg/platform/validation"
	"govsign/pkg/requestcontext"
)

// ScopeProcessSign guards officer decisions on workflow processes.
const ScopeProcessSign = "process:sign"

// Webhook peers.
const (
	PeerNDX    = "ndx"
	PeerPayDPI = "paydpi"
)

// Workflows is the document exchange as seen by the gateway.
type Workflows interface {
	CreateProcess(ctx context.Context, req upstream.CreateProcessRequest) (json.RawMessage, error)
	GetProcess(ctx context.Context, processID string) (json.RawMessage, error)
	SubmitSignature(ctx context.Context, processID string, req upstream.SignatureRequest) (json.RawMessage, error)
}

// Payments is the payment processor as seen by the gateway.
type Payments interface {
	CreatePayment(ctx context.Context, req upstream.PaymentRequest) (json.RawMessage, error)
	GetPayment(ctx context.Context, paymentID string) (json.RawMessage, error)
}

// SignatureVerifier authenticates webhook deliveries per peer.
type SignatureVerifier interface {
	Verify(peer string, body []byte, signature string) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Handler serves the gateway routes.
type Handler struct {
	workflows Workflows
	payments  Payments
	verifier  authmw.TokenVerifier
	webhooks  SignatureVerifier
	events    events.Publisher
	auditor   AuditPublisher
	metrics   *metrics.Metrics
	validator *validation.Validator
	logger    *slog.Logger
}

type Option func(*Handler)

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

func WithAuditPublisher(p AuditPublisher) Option {
	return func(h *Handler) {
		h.auditor = p
	}
}

func New(
	workflows Workflows,
	payments Payments,
	verifier authmw.TokenVerifier,
	webhooks SignatureVerifier,
	publisher events.Publisher,
	logger *slog.Logger,
	opts ...Option,
) (*Handler, error) {
	switch {
	case workflows == nil:
		return nil, errors.New("workflow client is required")
	case payments == nil:
		return nil, errors.New("payment client is required")
	case verifier == nil:
		return nil, errors.New("token verifier is required")
	case webhooks == nil:
		return nil, errors.New("webhook verifier is required")
	case publisher == nil:
		return nil, errors.New("event publisher is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		workflows: workflows,
		payments:  payments,
		verifier:  verifier,
		webhooks:  webhooks,
		events:    publisher,
		validator: validation.New(),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Register mounts the protected routes and webhook ingress on r.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(authmw.RequireAuth(h.verifier, h.logger))

		r.Get("/auth/verify", h.handleVerify)

		r.Post("/workflows/initiate", h.handleInitiateWorkflow)
		r.Get("/workflows/{id}/status", h.handleWorkflowStatus)
		r.With(authmw.RequireScope(ScopeProcessSign, h.logger)).
			Post("/workflows/{id}/sign", h.handleSignWorkflow)

		r.Post("/payments/{processId}/initiate", h.handleInitiatePayment)
		r.Get("/payments/status/{paymentId}", h.handlePaymentStatus)
	})

	r.Post("/webhooks/"+PeerNDX, h.handleWebhook(PeerNDX))
	r.Post("/webhooks/"+PeerPayDPI, h.handleWebhook(PeerPayDPI))
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	principal, _ := authmw.GetPrincipal(r.Context())
	scopes := principal.Scopes
	if scopes == nil {
		scopes = []string{}
	}
	httputil.WriteJSON(w, http.StatusOK, models.VerifyResult{
		User:   models.VerifiedUser{ID: principal.Subject, Scopes: scopes},
		Active: true,
	})
}

func (h *Handler) handleInitiateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req models.InitiateWorkflowRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.workflows.CreateProcess(r.Context(), upstream.CreateProcessRequest{
		CitizenID:   authmw.GetSubject(r.Context()),
		ServiceType: req.ServiceType,
		Metadata:    req.Metadata,
	})
	if err != nil {
		h.writeError(w, r, "initiate workflow", err)
		return
	}
	writeRaw(w, http.StatusCreated, res)
}

func (h *Handler) handleWorkflowStatus(w http.ResponseWriter, r *http.Request) {
	res, err := h.workflows.GetProcess(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, "workflow status", err)
		return
	}
	writeRaw(w, http.StatusOK, res)
}

func (h *Handler) handleSignWorkflow(w http.ResponseWriter, r *http.Request) {
	var req models.SignWorkflowRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.workflows.SubmitSignature(r.Context(), chi.URLParam(r, "id"), upstream.SignatureRequest{
		Action:  req.Action,
		Note:    req.Note,
		ActorID: authmw.GetSubject(r.Context()),
	})
	if err != nil {
		h.writeError(w, r, "sign workflow", err)
		return
	}
	writeRaw(w, http.StatusOK, res)
}

func (h *Handler) handleInitiatePayment(w http.ResponseWriter, r *http.Request) {
	var req models.InitiatePaymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.payments.CreatePayment(r.Context(), upstream.PaymentRequest{
		ProcessID:   chi.URLParam(r, "processId"),
		Amount:      req.Amount,
		Currency:    req.Currency,
		Description: req.Description,
	})
	if err != nil {
		h.writeError(w, r, "initiate payment", err)
		return
	}
	writeRaw(w, http.StatusCreated, res)
}

func (h *Handler) handlePaymentStatus(w http.ResponseWriter, r *http.Request) {
	res, err := h.payments.GetPayment(r.Context(), chi.URLParam(r, "paymentId"))
	if err != nil {
		h.writeError(w, r, "payment status", err)
		return
	}
	writeRaw(w, http.StatusOK, res)
}

// handleWebhook authenticates the raw body before anything parses it.
func (h *Handler) handleWebhook(peer string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, httputil.MaxBodyBytes))
		if err != nil {
			h.rejectWebhook(w, r, peer, "unreadable body", dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid request body"))
			return
		}

		if err := h.webhooks.Verify(peer, body, r.Header.Get(webhook.HeaderName(peer))); err != nil {
			h.rejectWebhook(w, r, peer, err.Error(), webhook.ErrInvalidSignature)
			return
		}
		if !json.Valid(body) {
			h.rejectWebhook(w, r, peer, "malformed payload", dErrors.New(dErrors.CodeBadRequest, "webhook payload must be JSON"))
			return
		}

		payload, err := json.Marshal(models.WebhookEvent{Peer: peer, Payload: body})
		if err != nil {
			h.writeError(w, r, "webhook", dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode webhook event"))
			return
		}
		err = h.events.Publish(ctx, events.Message{
			Key:       peer,
			Type:      "webhook." + peer,
			Source:    "gateway",
			Payload:   payload,
			Timestamp: requestcontext.Now(ctx),
		})
		if err != nil {
			h.metrics.ObserveWebhook(peer, "error")
			h.writeError(w, r, "webhook", dErrors.Wrap(err, dErrors.CodeInternal, "failed to publish webhook event"))
			return
		}

		h.metrics.ObserveWebhook(peer, "accepted")
		h.emit(ctx, audit.EventWebhookAccepted, peer, "")
		h.logger.InfoContext(ctx, "webhook accepted",
			"peer", peer,
			"bytes", len(body),
			"request_id", requestcontext.RequestID(ctx),
		)
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handler) rejectWebhook(w http.ResponseWriter, r *http.Request, peer, reason string, err error) {
	h.metrics.ObserveWebhook(peer, "rejected")
	h.emit(r.Context(), audit.EventWebhookRejected, peer, reason)
	h.writeError(w, r, "webhook "+peer, err)
}

func (h *Handler) emit(ctx context.Context, event audit.AuditEvent, peer, reason string) {
	if h.auditor == nil {
		return
	}
	err := h.auditor.Emit(ctx, audit.Event{
		Category: event.Category(),
		Action:   string(event),
		Subject:  peer,
		Actor:    "peer:" + peer,
		Reason:   reason,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "audit emit failed",
			"action", string(event),
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
	}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httputil.DecodeJSON(w, r, dst); err != nil {
		h.writeError(w, r, "decode request", err)
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		h.writeError(w, r, "validate request", err)
		return false
	}
	return true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	ctx := r.Context()
	switch dErrors.CodeOf(err) {
	case dErrors.CodeInternal, dErrors.CodeUpstream:
		h.logger.ErrorContext(ctx, op+" failed",
			"error", err,
			"sub", authmw.GetSubject(ctx),
			"request_id", requestcontext.RequestID(ctx),
		)
	default:
		h.logger.WarnContext(ctx, op+" rejected",
			"code", dErrors.CodeOf(err),
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	httputil.WriteError(w, err)
}

// writeRaw relays a collaborator's JSON body unchanged.
func writeRaw(w http.ResponseWriter, status int, body json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
