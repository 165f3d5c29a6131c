package httpapi

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/open-resource-discovery/provider-server/internal/docprocessor"
	"github.com/open-resource-discovery/provider-server/pkg/apierror"
	"github.com/open-resource-discovery/provider-server/pkg/ord"
)

// handleWellKnown serves the ORD configuration, built fresh on a cache miss
// and cached per directory-hash generation thereafter.
func (rt *Router) handleWellKnown(w http.ResponseWriter, r *http.Request) {
	hash, err := rt.currentHash()
	if err != nil {
		rt.writeError(w, err)
		return
	}
	cfg, ok := rt.entries.GetConfig(hash)
	if !ok {
		paths, pErr := rt.repo.ListDocuments()
		if pErr != nil {
			rt.writeError(w, pErr)
			return
		}
		docs := make(map[string]*ord.Document, len(paths))
		for _, p := range paths {
			raw, rErr := rt.repo.ReadRawDocument(p)
			if rErr != nil {
				rt.writeError(w, rErr)
				return
			}
			doc, pErr2 := ord.ParseDocument(raw)
			if pErr2 != nil {
				rt.writeError(w, apierror.Validation(fmt.Sprintf("document %q is not valid JSON: %v", p, pErr2)))
				return
			}
			docs[p] = doc
		}
		cfg = docprocessor.BuildConfig(docs, paths, rt.cfg.AuthMethods, rt.cfg.DocumentsSubdirectory, "")
		rt.entries.SetConfig(hash, cfg)
	}

	body, err := json.Marshal(cfg)
	if err != nil {
		rt.writeError(w, apierror.Internal(err))
		return
	}
	rt.writeJSONBody(w, body)
}

// handleDocument serves a processed ORD document under the configured
// documents subdirectory, coalescing concurrent misses per generation.
func (rt *Router) handleDocument(w http.ResponseWriter, r *http.Request) {
	relPath := normalizeDocPath(r.PathValue("path"))
	hash, err := rt.currentHash()
	if err != nil {
		rt.writeError(w, err)
		return
	}

	doc, err := rt.entries.GetOrBuild(hash, relPath, func() (*ord.Document, error) {
		raw, rErr := rt.repo.ReadRawDocument(relPath)
		if rErr != nil {
			return nil, rErr
		}
		processed, pErr := docprocessor.Process(raw, rt.procCtx)
		if pErr != nil {
			return nil, apierror.Internal(pErr)
		}
		return ord.ParseDocument(processed)
	})
	if err != nil {
		rt.countCache("document", false)
		rt.writeError(w, err)
		return
	}
	rt.countCache("document", true)
	rt.writeJSONBody(w, doc.Raw)
}

// handleRootFile serves a single top-level file of the active snapshot: an
// ORD document addressed directly by name, or an arbitrary served artifact.
func (rt *Router) handleRootFile(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("fileName")
	raw, err := rt.repo.ReadFile(name)
	if err != nil {
		rt.writeError(w, err)
		return
	}
	if strings.HasSuffix(name, ".json") {
		processed, pErr := docprocessor.Process(raw, rt.procCtx)
		if pErr != nil {
			rt.writeError(w, apierror.Internal(pErr))
			return
		}
		rt.writeJSONBody(w, processed)
		return
	}
	rt.writeRaw(w, name, raw)
}

// handleFqn resolves an ordId to its physical resource definition file via
// the FQN map and serves its raw bytes.
func (rt *Router) handleFqn(w http.ResponseWriter, r *http.Request) {
	ordID := docprocessor.NormalizeOrdIDSegment(r.PathValue("ordId"))
	wantPath := r.PathValue("path")

	hash, err := rt.currentHash()
	if err != nil {
		rt.writeError(w, err)
		return
	}
	fqn, ok := rt.entries.GetFqnMap(hash)
	if !ok {
		rt.writeError(w, apierror.NotFound(fmt.Sprintf("no fqn map available for ordId %q", ordID)))
		return
	}
	entries, ok := fqn[ordID]
	if !ok || len(entries) == 0 {
		rt.countCache("fqn", false)
		rt.writeError(w, apierror.NotFound(fmt.Sprintf("ordId %q not found", ordID)))
		return
	}

	entry := entries[0]
	if wantPath != "" {
		for _, e := range entries {
			if e.FileName == filepath.Base(wantPath) || e.FilePath == wantPath {
				entry = e
				break
			}
		}
	}

	raw, err := rt.repo.ReadFile(entry.FilePath)
	if err != nil {
		rt.countCache("fqn", false)
		rt.writeError(w, err)
		return
	}
	rt.countCache("fqn", true)
	rt.writeRaw(w, entry.FileName, raw)
}

// handleStatus reports the Update State Manager's current state.
func (rt *Router) handleStatus(w http.ResponseWriter, _ *http.Request) {
	state := rt.state.GetState()
	body, err := json.Marshal(state)
	if err != nil {
		rt.writeError(w, apierror.Internal(err))
		return
	}
	rt.writeJSONBody(w, body)
}

// handleDashboard is a minimal placeholder for the status dashboard; a full
// UI is out of scope for the provider's core read path.
func (rt *Router) handleDashboard(w http.ResponseWriter, r *http.Request) {
	rt.handleStatus(w, r)
}

// handleHealth reports liveness unconditionally, matching the teacher's
// HealthServer contract of a static 200 independent of readiness.
func (rt *Router) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (rt *Router) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		rt.writeError(w, apierror.NotFound("not found"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ORD provider\n"))
}

// currentHash returns the cache's active generation, falling back to a
// fresh directory hash before the first update has ever warmed the cache.
func (rt *Router) currentHash() (string, error) {
	if hash, ok := rt.entries.CurrentHash(); ok {
		return hash, nil
	}
	return rt.repo.DirectoryHash()
}

func normalizeDocPath(p string) string {
	if !strings.HasSuffix(p, ".json") {
		p += ".json"
	}
	return p
}

// writeJSONBody writes a strong ETag derived from the body and serves it
// as application/json with status 200. If-None-Match is not consulted, so
// no 304 is ever returned.
func (rt *Router) writeJSONBody(w http.ResponseWriter, body []byte) {
	etag := strongETag(body)
	w.Header().Set("ETag", etag)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// writeRaw serves an arbitrary artifact file, content-typed by extension.
func (rt *Router) writeRaw(w http.ResponseWriter, name string, body []byte) {
	etag := strongETag(body)
	w.Header().Set("ETag", etag)
	ct := mime.TypeByExtension(filepath.Ext(name))
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func strongETag(body []byte) string {
	sum := sha256.Sum256(body)
	return fmt.Sprintf(`"%x"`, sum)
}

// writeError renders the apierror envelope with the error's mapped status.
func (rt *Router) writeError(w http.ResponseWriter, err error) {
	apiErr, ok := apierror.As(err)
	if !ok {
		apiErr = apierror.Internal(err)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(apiErr.HTTPStatus())
	_ = json.NewEncoder(w).Encode(apiErr.ToEnvelope())
}

func (rt *Router) countCache(kind string, hit bool) {
	if rt.metrics == nil {
		return
	}
	if hit {
		rt.metrics.CacheHits.WithLabelValues(kind).Inc()
	} else {
		rt.metrics.CacheMisses.WithLabelValues(kind).Inc()
	}
}
