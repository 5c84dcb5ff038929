package runtime

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// ReadyCheck is a named dependency check for /readyz. Optional checks are reported
// but do not flip readiness.
type ReadyCheck struct {
	Name     string
	Check    func(context.Context) error
	Optional bool
}

func NewBaseMuxWithReady(checks ...ReadyCheck) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /readyz", readyHandler(checks))
	return mux
}

func readyHandler(checks []ReadyCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var failures, warnings []string
		for _, check := range checks {
			if check.Check == nil {
				continue
			}
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			err := check.Check(ctx)
			cancel()
			if err == nil {
				continue
			}
			name := check.Name
			if name == "" {
				name = "dependency"
			}
			if check.Optional {
				warnings = append(warnings, name+": "+err.Error())
				continue
			}
			failures = append(failures, name+": "+err.Error())
		}
		if len(failures) > 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(strings.Join(failures, "; ")))
			return
		}

		w.WriteHeader(http.StatusOK)
		if len(warnings) > 0 {
			_, _ = w.Write([]byte("ok (degraded: " + strings.Join(warnings, "; ") + ")"))
			return
		}
		_, _ = w.Write([]byte("ok"))
	}
}
