package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"

	"govsign/internal/identity/models"
	"govsign/internal/identity/service"
	registrystore "govsign/internal/identity/store/registry"
	sessionstore "govsign/internal/identity/store/session"
	jwttoken "govsign/internal/jwt_token"
	"govsign/pkg/platform/httputil"
)

type IdentityHandlerSuite struct {
	suite.Suite
	router   *chi.Mux
	registry *registrystore.InMemoryRegistry
}

func TestIdentityHandlerSuite(t *testing.T) {
	suite.Run(t, new(IdentityHandlerSuite))
}

func (s *IdentityHandlerSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tokens := jwttoken.NewJWTService("handler-test-secret", "sludi", time.Hour)
	s.registry = registrystore.New()
	svc, err := service.New(sessionstore.New(), s.registry, tokens,
		service.WithLogger(logger),
		service.WithBcryptCost(bcrypt.MinCost),
		service.WithTokenValidator(tokens),
		service.WithIntrospectionClients(map[string]string{"govsign-gateway": "gw-secret"}),
		service.WithDevAdmin(true),
	)
	s.Require().NoError(err)

	s.router = chi.NewRouter()
	New(svc, logger, WithTokenVerifier(jwttoken.NewLocalVerifier(tokens))).Register(s.router)
}

func (s *IdentityHandlerSuite) post(path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	switch b := body.(type) {
	case string:
		buf.WriteString(b)
	default:
		s.Require().NoError(json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *IdentityHandlerSuite) problem(w *httptest.ResponseRecorder) httputil.Problem {
	s.Equal("application/problem+json", w.Header().Get("Content-Type"))
	var p httputil.Problem
	s.Require().NoError(json.NewDecoder(w.Body).Decode(&p))
	s.Equal("about:blank", p.Type)
	s.Equal(w.Code, p.Status)
	return p
}

func (s *IdentityHandlerSuite) startSession(nic string) models.ValidateNICResult {
	w := s.post("/auth/validate-nic", map[string]string{"nic": nic})
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	var res models.ValidateNICResult
	s.Require().NoError(json.NewDecoder(w.Body).Decode(&res))
	return res
}

func (s *IdentityHandlerSuite) TestValidateNIC() {
	s.Run("missing nic is 400", func() {
		w := s.post("/auth/validate-nic", map[string]string{})
		s.Equal(http.StatusBadRequest, w.Code)
		p := s.problem(w)
		s.Equal("ValidationError", p.Title)
		s.Equal("nic is required", p.Detail)
	})

	s.Run("malformed body is 400", func() {
		w := s.post("/auth/validate-nic", "{nic:")
		s.Equal(http.StatusBadRequest, w.Code)
	})

	s.Run("malformed nic is 422", func() {
		w := s.post("/auth/validate-nic", map[string]string{"nic": "12345"})
		s.Equal(http.StatusUnprocessableEntity, w.Code)
		s.Equal("ValidationError", s.problem(w).Title)
	})

	s.Run("citizen session", func() {
		res := s.startSession("199912345678")
		s.Equal(models.SessionStatusNICValidated, res.Status)
		s.Equal(models.ActorCitizen, res.RoleHint)
		s.False(res.HasPassword)
		s.Nil(res.OfficerTypeHint)
	})
}

func (s *IdentityHandlerSuite) TestCitizenFlow() {
	start := s.startSession("199912345678")

	w := s.post("/auth/create-password", map[string]string{"sessionId": string(start.SessionID), "password": "abc123"})
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	var created models.AuthResult
	s.Require().NoError(json.NewDecoder(w.Body).Decode(&created))
	s.Equal(models.SessionStatusAccountCreated, created.Status)
	s.NotEmpty(created.AccessToken)

	w = s.post("/auth/create-password", map[string]string{"sessionId": string(start.SessionID), "password": "other"})
	s.Equal(http.StatusForbidden, w.Code)
	s.Equal("Forbidden", s.problem(w).Title)

	next := s.startSession("199912345678")
	s.True(next.HasPassword)

	w = s.post("/auth/verify-password", map[string]string{"sessionId": string(next.SessionID), "password": "abc12"})
	s.Equal(http.StatusUnauthorized, w.Code)

	w = s.post("/auth/verify-password", map[string]string{"sessionId": string(next.SessionID), "password": "abc123"})
	s.Equal(http.StatusOK, w.Code)
}

func (s *IdentityHandlerSuite) TestMe() {
	start := s.startSession("199912345678")
	w := s.post("/auth/create-password", map[string]string{"sessionId": string(start.SessionID), "password": "abc123"})
	s.Require().Equal(http.StatusOK, w.Code)
	var created models.AuthResult
	s.Require().NoError(json.NewDecoder(w.Body).Decode(&created))

	get := func(auth string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		return rec
	}

	rec := get("Bearer " + created.AccessToken)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.JSONEq(`{"user":{"id":"199912345678","actor":"CITIZEN","scopes":["read:self","write:self"]},"active":true}`, rec.Body.String())

	s.Equal(http.StatusUnauthorized, get("").Code)
	s.Equal(http.StatusUnauthorized, get("Bearer "+created.AccessToken+"x").Code)
}

func (s *IdentityHandlerSuite) TestStepErrors() {
	s.Run("missing fields are 400", func() {
		w := s.post("/auth/verify-password", map[string]string{"sessionId": "abc"})
		s.Equal(http.StatusBadRequest, w.Code)
		s.Equal("password is required", s.problem(w).Detail)

		w = s.post("/auth/verify-fingerprint", map[string]string{"fingerprintCode": "fp"})
		s.Equal(http.StatusBadRequest, w.Code)
		s.Equal("sessionId is required", s.problem(w).Detail)
	})

	s.Run("unknown session is 404", func() {
		w := s.post("/auth/create-password", map[string]string{"sessionId": "does-not-exist", "password": "pw"})
		s.Equal(http.StatusNotFound, w.Code)
		s.Equal("NotFound", s.problem(w).Title)
	})

	s.Run("citizen fingerprint is 401", func() {
		start := s.startSession("199912345678")
		w := s.post("/auth/verify-fingerprint", map[string]string{"sessionId": string(start.SessionID), "fingerprintCode": "fp"})
		s.Equal(http.StatusUnauthorized, w.Code)
	})
}

func (s *IdentityHandlerSuite) TestOfficerFlowAndIntrospection() {
	w := s.post("/admin/registry/upsert", map[string]any{
		"nic": "198512345678", "actor": "OFFICER", "officerType": "DISTSEC",
		"jurisdiction": map[string]any{"districts": []string{"D1"}},
	})
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	var upserted models.UpsertIdentityResult
	s.Require().NoError(json.NewDecoder(w.Body).Decode(&upserted))
	s.True(upserted.OK)
	s.Equal([]string{}, upserted.Entry.Jurisdiction.Provinces)

	start := s.startSession("198512345678")
	s.Require().NotNil(start.OfficerTypeHint)
	s.Equal(models.OfficerDistSec, *start.OfficerTypeHint)

	w = s.post("/auth/verify-fingerprint", map[string]string{
		"sessionId": string(start.SessionID), "fingerprintCode": "fp", "challenge": "nope00",
	})
	s.Equal(http.StatusUnauthorized, w.Code)

	w = s.post("/auth/verify-fingerprint", map[string]string{
		"sessionId": string(start.SessionID), "fingerprintCode": "fp", "challenge": start.Challenge,
	})
	s.Require().Equal(http.StatusOK, w.Code)
	var auth models.AuthResult
	s.Require().NoError(json.NewDecoder(w.Body).Decode(&auth))

	introspect := func(user, pass, token string) *httptest.ResponseRecorder {
		form := url.Values{"token": {token}}
		req := httptest.NewRequest(http.MethodPost, "/oauth2/introspect", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		if user != "" {
			req.SetBasicAuth(user, pass)
		}
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		return rec
	}

	s.Run("active token", func() {
		rec := introspect("govsign-gateway", "gw-secret", auth.AccessToken)
		s.Require().Equal(http.StatusOK, rec.Code)
		s.Equal("no-store", rec.Header().Get("Cache-Control"))
		var res models.IntrospectionResult
		s.Require().NoError(json.NewDecoder(rec.Body).Decode(&res))
		s.True(res.Active)
		s.Equal("198512345678", res.Subject)
		s.Equal("DISTSEC", res.OfficerType)
		s.Contains(res.Scope, "process:approve:districts")
		s.Contains(res.Scope, "audit:view:districts")
		s.NotContains(res.Scope, "country")
	})

	s.Run("garbage token is inactive", func() {
		rec := introspect("govsign-gateway", "gw-secret", "garbage")
		s.Require().Equal(http.StatusOK, rec.Code)
		s.JSONEq(`{"active":false}`, rec.Body.String())
	})

	s.Run("bad client is 401", func() {
		rec := introspect("govsign-gateway", "wrong", auth.AccessToken)
		s.Equal(http.StatusUnauthorized, rec.Code)
		s.NotEmpty(rec.Header().Get("WWW-Authenticate"))
		rec = introspect("", "", auth.AccessToken)
		s.Equal(http.StatusUnauthorized, rec.Code)
	})
}

func (s *IdentityHandlerSuite) TestUpsertValidation() {
	w := s.post("/admin/registry/upsert", map[string]any{"nic": "198512345678", "actor": "ROBOT"})
	s.Equal(http.StatusBadRequest, w.Code)
	s.Equal("actor must be one of CITIZEN, OFFICER", s.problem(w).Detail)

	w = s.post("/admin/registry/upsert", map[string]any{"nic": "198512345678", "actor": "OFFICER", "officerType": "SHERIFF"})
	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *IdentityHandlerSuite) TestUpsertDisabled() {
	tokens := jwttoken.NewJWTService("k", "sludi", time.Hour)
	svc, err := service.New(sessionstore.New(), registrystore.New(), tokens)
	s.Require().NoError(err)
	r := chi.NewRouter()
	New(svc, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(r)

	req := httptest.NewRequest(http.MethodPost, "/admin/registry/upsert",
		strings.NewReader(`{"nic":"199912345678","actor":"CITIZEN"}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req.WithContext(context.Background()))
	s.Equal(http.StatusForbidden, w.Code)
}

func (s *IdentityHandlerSuite) TestUpsertAdminToken() {
	tokens := jwttoken.NewJWTService("k", "sludi", time.Hour)
	svc, err := service.New(sessionstore.New(), registrystore.New(), tokens, service.WithDevAdmin(true))
	s.Require().NoError(err)
	r := chi.NewRouter()
	New(svc, slog.New(slog.NewTextHandler(io.Discard, nil)), WithAdminToken("op-token")).Register(r)

	send := func(token string) int {
		req := httptest.NewRequest(http.MethodPost, "/admin/registry/upsert",
			strings.NewReader(`{"nic":"199912345678","actor":"CITIZEN"}`))
		if token != "" {
			req.Header.Set("X-Admin-Token", token)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	s.Equal(http.StatusUnauthorized, send(""))
	s.Equal(http.StatusUnauthorized, send("guess"))
	s.Equal(http.StatusOK, send("op-token"))
}
