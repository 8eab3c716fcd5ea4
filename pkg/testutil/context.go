package testutil

import (
	"net/http"

	authmw "govsign/pkg/platform/middleware/auth"
)

// WithPrincipal attaches an authenticated principal to the request, as RequireAuth
// would after a successful token check.
func WithPrincipal(req *http.Request, subject string, scopes ...string) *http.Request {
	p := &authmw.Principal{Subject: subject, Scopes: scopes}
	return req.WithContext(authmw.WithPrincipal(req.Context(), p))
}
