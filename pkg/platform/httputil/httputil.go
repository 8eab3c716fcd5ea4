// Package httputil renders JSON responses and RFC 7807 problem documents.
package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	dErrors "govsign/pkg/domain-errors"
)

// MaxBodyBytes bounds JSON request bodies.
const MaxBodyBytes = 1 << 20

// Problem is an RFC 7807 problem document.
type Problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

type classification struct {
	status int
	title  string
}

var classifications = map[dErrors.Code]classification{
	dErrors.CodeBadRequest:    {http.StatusBadRequest, "ValidationError"},
	dErrors.CodeInvalidFormat: {http.StatusUnprocessableEntity, "ValidationError"},
	dErrors.CodeNotFound:      {http.StatusNotFound, "NotFound"},
	dErrors.CodeUnauthorized:  {http.StatusUnauthorized, "Unauthorized"},
	dErrors.CodeForbidden:     {http.StatusForbidden, "Forbidden"},
	dErrors.CodeUpstream:      {http.StatusBadGateway, "UpstreamError"},
	dErrors.CodeRateLimited:   {http.StatusTooManyRequests, "TooManyRequests"},
}

// StatusFor maps an error code to its HTTP status.
func StatusFor(code dErrors.Code) int {
	if c, ok := classifications[code]; ok {
		return c.status
	}
	return http.StatusInternalServerError
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteProblem writes a problem document.
func WriteProblem(w http.ResponseWriter, p Problem) {
	if p.Type == "" {
		p.Type = "about:blank"
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// WriteError classifies err by its domain code. Anything not carrying a known code
// is rendered as a generic internal error; the cause is never exposed.
func WriteError(w http.ResponseWriter, err error) {
	var de *dErrors.Error
	if errors.As(err, &de) {
		if c, ok := classifications[de.Code]; ok {
			WriteProblem(w, Problem{Title: c.title, Status: c.status, Detail: de.Message})
			return
		}
	}
	WriteProblem(w, Problem{
		Title:  "InternalServerError",
		Status: http.StatusInternalServerError,
		Detail: "Something went wrong",
	})
}

// DecodeJSON reads a bounded JSON body into dst. Malformed bodies are bad requests.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return dErrors.Wrap(err, dErrors.CodeBadRequest, "request body too large")
		case errors.Is(err, io.EOF):
			return dErrors.Wrap(err, dErrors.CodeBadRequest, "request body is required")
		default:
			return dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid request body")
		}
	}
	return nil
}
