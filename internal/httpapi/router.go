// Package httpapi implements the Router Surface: the single entry point
// binding every other component to HTTP routes, middleware chain, and
// response envelope. Route registration follows the teacher's
// HealthServer/MetricsServer pattern of building one http.ServeMux and
// handing it to an *http.Server; the patterns themselves (method+path
// wildcards, readiness gating, versioned responses) are new since the
// teacher never served anything but health/metrics/webhook probes.
package httpapi

import (
	"fmt"
	"net/http"

	"github.com/go-logr/logr"

	"github.com/open-resource-discovery/provider-server/internal/auth"
	"github.com/open-resource-discovery/provider-server/internal/cache"
	"github.com/open-resource-discovery/provider-server/internal/config"
	"github.com/open-resource-discovery/provider-server/internal/docprocessor"
	"github.com/open-resource-discovery/provider-server/internal/docrepo"
	"github.com/open-resource-discovery/provider-server/internal/metrics"
	"github.com/open-resource-discovery/provider-server/internal/scheduler"
	"github.com/open-resource-discovery/provider-server/internal/updatestate"
	"github.com/open-resource-discovery/provider-server/internal/webhook"
)

// ServerVersion is stamped on every response via the
// x-ord-provider-server-version header. Overridden at build time.
var ServerVersion = "dev"

// Router owns every dependency a request handler needs and builds the
// *http.ServeMux routing table.
type Router struct {
	cfg        *config.Config
	authn      *auth.Composer
	state      *updatestate.Manager
	repo       *docrepo.Repository
	entries    *cache.Cache
	sched      *scheduler.Scheduler
	rcv        *webhook.Receiver
	metrics    *metrics.Metrics
	procCtx    docprocessor.Context
	log        logr.Logger
}

// New wires a Router from its dependencies.
func New(
	cfg *config.Config,
	authn *auth.Composer,
	state *updatestate.Manager,
	repo *docrepo.Repository,
	entries *cache.Cache,
	sched *scheduler.Scheduler,
	rcv *webhook.Receiver,
	m *metrics.Metrics,
	procCtx docprocessor.Context,
	log logr.Logger,
) *Router {
	return &Router{
		cfg:     cfg,
		authn:   authn,
		state:   state,
		repo:    repo,
		entries: entries,
		sched:   sched,
		rcv:     rcv,
		metrics: m,
		procCtx: procCtx,
		log:     log,
	}
}

// Handler builds the complete routing table wrapped in the common
// middleware chain.
func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()

	// The well-known document, status, and dashboard routes are never
	// authenticated and never wait on readiness: status in particular
	// exists to report an in-flight update, so gating it behind that same
	// update would defeat its purpose.
	mux.HandleFunc("GET /.well-known/open-resource-discovery", rt.handleWellKnown)
	mux.HandleFunc(fmt.Sprintf("GET /ord/v1/%s/{path...}", rt.cfg.DocumentsSubdirectory), rt.gate(rt.handleDocument))
	mux.HandleFunc("GET /ord/v1/{ordId}/{path...}", rt.gate(rt.handleFqn))
	mux.HandleFunc("GET /ord/v1/{fileName}", rt.gate(rt.handleRootFile))

	mux.HandleFunc("POST /api/v1/webhook/github", rt.rcv.HandleGitHub)
	mux.HandleFunc("GET /api/v1/status", rt.handleStatus)

	if rt.cfg.StatusDashboardEnabled {
		mux.HandleFunc("GET /status", rt.handleDashboard)
	}

	mux.HandleFunc("GET /health", rt.handleHealth)
	mux.Handle("GET /metrics", rt.metrics.Handler())
	mux.HandleFunc("GET /", rt.handleRoot)

	return rt.withCommon(mux)
}
