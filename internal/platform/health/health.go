// Package health serves the liveness document shared by both processes.
package health

import (
	"context"
	"net/http"
	"time"

	"govsign/pkg/platform/httputil"
)

// Check probes one dependency. A nil error means healthy.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

type response struct {
	OK      bool              `json:"ok"`
	Service string            `json:"service"`
	Env     string            `json:"env"`
	Failing map[string]string `json:"failing,omitempty"`
}

// Handler answers {ok, service, env}. Any failing check turns the reply into a 503
// listing the failing dependencies.
func Handler(service, env string, checks ...Check) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		res := response{OK: true, Service: service, Env: env}
		for _, c := range checks {
			if err := c.Probe(ctx); err != nil {
				if res.Failing == nil {
					res.Failing = make(map[string]string)
				}
				res.Failing[c.Name] = err.Error()
				res.OK = false
			}
		}
		status := http.StatusOK
		if !res.OK {
			status = http.StatusServiceUnavailable
		}
		httputil.WriteJSON(w, status, res)
	}
}
