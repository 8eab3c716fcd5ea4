// Package testutil provides common test utilities for handler and integration tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"govsign/pkg/platform/httputil"
)

// NewJSONRequest creates an HTTP request with a JSON body. A string body is sent as is.
func NewJSONRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()

	var bodyReader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		bodyReader = bytes.NewBufferString(b)
	default:
		bodyBytes, err := json.Marshal(body)
		require.NoError(t, err, "failed to marshal request body")
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req := httptest.NewRequest(method, path, bodyReader)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithBearer sets an Authorization: Bearer header.
func WithBearer(req *http.Request, token string) *http.Request {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

// DoRequest executes a request against a handler and returns the recorder.
func DoRequest(handler http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

// UnmarshalResponse unmarshals the response body into a T.
func UnmarshalResponse[T any](t *testing.T, rr *httptest.ResponseRecorder) *T {
	t.Helper()
	var result T
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&result), "failed to unmarshal response")
	return &result
}

// UnmarshalProblem decodes an RFC 7807 problem response and checks its envelope.
func UnmarshalProblem(t *testing.T, rr *httptest.ResponseRecorder) httputil.Problem {
	t.Helper()
	assert.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
	p := UnmarshalResponse[httputil.Problem](t, rr)
	assert.Equal(t, rr.Code, p.Status, "problem status differs from response status")
	return *p
}

// AssertProblem asserts the response is a problem with the given status and title.
func AssertProblem(t *testing.T, rr *httptest.ResponseRecorder, status int, title string) httputil.Problem {
	t.Helper()
	assert.Equal(t, status, rr.Code, "unexpected status code")
	p := UnmarshalProblem(t, rr)
	assert.Equal(t, title, p.Title)
	return p
}
