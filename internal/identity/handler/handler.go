package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"govsign/internal/identity/models"
	dErrors "govsign/pkg/domain-errors"
	"govsign/pkg/platform/httputil"
	"govsign/pkg/platform/middleware/admin"
	authmw "govsign/pkg/platform/middleware/auth"
	"govsign/pkg/platform/validation"
	"govsign/pkg/requestcontext"
)

// Service is the authentication state machine as seen by the transport.
type Service interface {
	ValidateNIC(ctx context.Context, nic string) (*models.ValidateNICResult, error)
	VerifyFingerprint(ctx context.Context, req models.VerifyFingerprintRequest) (*models.AuthResult, error)
	VerifyPassword(ctx context.Context, req models.VerifyPasswordRequest) (*models.AuthResult, error)
	CreatePassword(ctx context.Context, req models.CreatePasswordRequest) (*models.AuthResult, error)
	UpsertIdentity(ctx context.Context, req models.UpsertIdentityRequest) (*models.UpsertIdentityResult, error)
	Introspect(ctx context.Context, clientID, clientSecret, token string) (*models.IntrospectionResult, error)
}

// Handler serves the identity authority endpoints.
type Handler struct {
	service    Service
	verifier   authmw.TokenVerifier
	adminToken string
	validator  *validation.Validator
	logger     *slog.Logger
}

type Option func(*Handler)

// WithTokenVerifier enables GET /auth/me, authenticated by the authority's own
// signature check.
func WithTokenVerifier(v authmw.TokenVerifier) Option {
	return func(h *Handler) {
		h.verifier = v
	}
}

// WithAdminToken additionally requires X-Admin-Token on the registry seeding route.
func WithAdminToken(token string) Option {
	return func(h *Handler) {
		h.adminToken = token
	}
}

func New(service Service, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		service:   service,
		validator: validation.New(),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the authentication, introspection and admin routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Route("/auth", func(r chi.Router) {
		r.Post("/validate-nic", h.handleValidateNIC)
		r.Post("/verify-fingerprint", h.handleVerifyFingerprint)
		r.Post("/verify-password", h.handleVerifyPassword)
		r.Post("/create-password", h.handleCreatePassword)
		if h.verifier != nil {
			r.With(authmw.RequireAuth(h.verifier, h.logger)).Get("/me", h.handleMe)
		}
	})
	r.Post("/oauth2/introspect", h.handleIntrospect)
	if h.adminToken != "" {
		r.With(admin.RequireAdminToken(h.adminToken, h.logger)).Post("/admin/registry/upsert", h.handleUpsertIdentity)
	} else {
		r.Post("/admin/registry/upsert", h.handleUpsertIdentity)
	}
}

func (h *Handler) handleValidateNIC(w http.ResponseWriter, r *http.Request) {
	var req models.ValidateNICRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.service.ValidateNIC(r.Context(), req.NIC)
	if err != nil {
		h.writeError(w, r, "validate nic", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) handleVerifyFingerprint(w http.ResponseWriter, r *http.Request) {
	var req models.VerifyFingerprintRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.service.VerifyFingerprint(r.Context(), req)
	if err != nil {
		h.writeError(w, r, "verify fingerprint", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) handleVerifyPassword(w http.ResponseWriter, r *http.Request) {
	var req models.VerifyPasswordRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.service.VerifyPassword(r.Context(), req)
	if err != nil {
		h.writeError(w, r, "verify password", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) handleCreatePassword(w http.ResponseWriter, r *http.Request) {
	var req models.CreatePasswordRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.service.CreatePassword(r.Context(), req)
	if err != nil {
		h.writeError(w, r, "create password", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) handleUpsertIdentity(w http.ResponseWriter, r *http.Request) {
	var req models.UpsertIdentityRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.service.UpsertIdentity(r.Context(), req)
	if err != nil {
		h.writeError(w, r, "upsert identity", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

type meResponse struct {
	User struct {
		ID          string   `json:"id"`
		Actor       string   `json:"actor"`
		OfficerType string   `json:"officerType,omitempty"`
		Scopes      []string `json:"scopes"`
	} `json:"user"`
	Active bool `json:"active"`
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	principal, _ := authmw.GetPrincipal(r.Context())
	var res meResponse
	res.User.ID = principal.Subject
	res.User.Actor = principal.Actor
	res.User.OfficerType = principal.OfficerType
	res.User.Scopes = principal.Scopes
	if res.User.Scopes == nil {
		res.User.Scopes = []string{}
	}
	res.Active = true
	httputil.WriteJSON(w, http.StatusOK, res)
}

// handleIntrospect implements RFC 7662: form-encoded token, HTTP Basic client auth.
func (h *Handler) handleIntrospect(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, httputil.MaxBodyBytes)
	if err := r.ParseForm(); err != nil {
		h.writeError(w, r, "introspect", dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid form body"))
		return
	}
	clientID, clientSecret, ok := r.BasicAuth()
	if !ok {
		clientID = r.PostForm.Get("client_id")
		clientSecret = r.PostForm.Get("client_secret")
	}
	res, err := h.service.Introspect(r.Context(), clientID, clientSecret, r.PostForm.Get("token"))
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeUnauthorized) {
			w.Header().Set("WWW-Authenticate", `Basic realm="introspection"`)
		}
		h.writeError(w, r, "introspect", err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	httputil.WriteJSON(w, http.StatusOK, res)
}

// decode reads and validates a JSON body, writing the problem response on failure.
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
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, op+" failed",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
	} else {
		h.logger.WarnContext(ctx, op+" rejected",
			"code", dErrors.CodeOf(err),
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	httputil.WriteError(w, err)
}
