package httpapi

import (
	"net/http"
	"strconv"
	"time"
)

// withCommon applies to every route: the version header and request
// metrics, in that order, regardless of auth/readiness outcome.
func (rt *Router) withCommon(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("x-ord-provider-server-version", ServerVersion)
		rt.withCORS(w, r)

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sw, r)
		duration := time.Since(start).Seconds()

		route := r.Pattern
		if route == "" {
			route = r.URL.Path
		}
		status := strconv.Itoa(sw.status)
		rt.metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
		rt.metrics.HTTPRequestDuration.WithLabelValues(r.Method, route, status).Observe(duration)
	})
}

// withCORS sets the allowed-origin header when the requesting origin is in
// the configured allow-list; a wildcard-free allow-list, matching the
// access-strategy model where every permitted caller is named explicitly.
func (rt *Router) withCORS(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	for _, allowed := range rt.cfg.CORSOrigins {
		if allowed == origin {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			return
		}
	}
}

// gate wraps a handler with authentication followed by the readiness gate.
// It applies only to the document-serving routes (document, fqn, root
// file) — the well-known, status, and dashboard routes are registered
// unwrapped, since they must stay reachable during an in-flight update
// and are never authenticated. Remote sources suspend requests behind
// an in-flight update, local sources never have one to wait on.
func (rt *Router) gate(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := rt.authn.Authenticate(r); err != nil {
			rt.writeError(w, err)
			return
		}
		if rt.cfg.SourceType == "github" {
			if err := rt.state.WaitForReady(r.Context(), 0); err != nil {
				rt.writeError(w, err)
				return
			}
		}
		next(w, r)
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
