// Package docprocessor implements the Document Processor: a pure function
// rewriting resource URLs, injecting access strategies, and building the
// served ORD configuration. Patches are applied in place on the raw JSON
// via gjson/sjson rather than a full unmarshal/remarshal round trip, which
// keeps process idempotent by construction.
package docprocessor

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/open-resource-discovery/provider-server/internal/config"
	"github.com/open-resource-discovery/provider-server/pkg/ord"
)

const serverPrefix = "/ord/v1"

// Context is the per-request processing context.
type Context struct {
	BaseURL               string
	AuthMethods           []config.AuthMethod
	DocumentsSubdirectory string
}

var accessStrategyFor = map[config.AuthMethod]string{
	config.AuthOpen:   "open",
	config.AuthBasic:  "basic-auth",
	config.AuthCFMTLS: "sap:cmp-mtls:v1",
}

// Process rewrites raw ORD document JSON per ctx, returning the patched
// bytes. Pure: the same (raw, ctx) pair always yields the same output, and
// re-processing already-processed output is a no-op.
func Process(raw []byte, ctx Context) ([]byte, error) {
	out := raw

	if gjson.GetBytes(out, "describedSystemInstance").Exists() || ctx.BaseURL != "" {
		patched, err := sjson.SetBytes(out, "describedSystemInstance.baseUrl", ctx.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("setting baseUrl: %w", err)
		}
		out = patched
	}

	strategies := accessStrategiesFor(ctx.AuthMethods)

	for _, group := range []string{"apiResources", "eventResources"} {
		resources := gjson.GetBytes(out, group)
		if !resources.Exists() {
			continue
		}
		n := 0
		resources.ForEach(func(_, _ gjson.Result) bool { n++; return true })
		for i := 0; i < n; i++ {
			defsPath := fmt.Sprintf("%s.%d.resourceDefinitions", group, i)
			defs := gjson.GetBytes(out, defsPath)
			if !defs.Exists() {
				continue
			}
			m := 0
			defs.ForEach(func(_, _ gjson.Result) bool { m++; return true })
			for j := 0; j < m; j++ {
				urlPath := fmt.Sprintf("%s.%d.url", defsPath, j)
				rawURL := gjson.GetBytes(out, urlPath).String()
				rewritten := rewriteURL(rawURL, ctx.DocumentsSubdirectory)

				patched, err := sjson.SetBytes(out, urlPath, rewritten)
				if err != nil {
					return nil, fmt.Errorf("rewriting %s: %w", urlPath, err)
				}
				out = patched

				stratPath := fmt.Sprintf("%s.%d.accessStrategies", defsPath, j)
				patched, err = sjson.SetBytes(out, stratPath, strategies)
				if err != nil {
					return nil, fmt.Errorf("setting access strategies at %s: %w", stratPath, err)
				}
				out = patched
			}
		}
	}

	return out, nil
}

// rewriteURL leaves remote URLs untouched and roots everything else at the
// server prefix, restoring any escaped ORD id segment to its canonical
// colon-separated form.
func rewriteURL(raw, documentsSubdirectory string) string {
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return raw
	}
	if strings.HasPrefix(raw, serverPrefix+"/") {
		// Already rewritten — idempotent no-op.
		return raw
	}

	segments := strings.Split(strings.TrimPrefix(raw, "/"), "/")
	for i, seg := range segments {
		segments[i] = restoreEscapedOrdID(seg)
	}
	rel := strings.Join(segments, "/")
	_ = documentsSubdirectory // the relative path already carries the subdir when present in source docs
	return serverPrefix + "/" + rel
}

// restoreEscapedOrdID detects a path segment that looks like an ORD id with
// colons replaced by underscores, e.g. urn_apiResource_example_v1.
func restoreEscapedOrdID(segment string) string {
	if !strings.Contains(segment, "_") || strings.Contains(segment, ":") {
		return segment
	}
	parts := strings.Split(segment, "_")
	if len(parts) < 3 {
		return segment
	}
	candidate := strings.Join(parts, ":")
	if looksLikeOrdID(candidate) {
		return candidate
	}
	return segment
}

func looksLikeOrdID(s string) bool {
	return strings.Count(s, ":") >= 2
}

func accessStrategiesFor(methods []config.AuthMethod) []ord.AccessStrategy {
	seen := make(map[string]bool)
	var strategies []ord.AccessStrategy
	for _, m := range methods {
		t, ok := accessStrategyFor[m]
		if !ok || seen[t] {
			continue
		}
		seen[t] = true
		strategies = append(strategies, ord.AccessStrategy{Type: t})
	}
	return strategies
}

// BuildConfig lists each document with its well-known URL, access
// strategies, and effective perspective, optionally filtered.
func BuildConfig(docs map[string]*ord.Document, docPaths []string, authMethods []config.AuthMethod, documentsSubdirectory string, perspectiveFilter ord.Perspective) *ord.Configuration {
	cfg := &ord.Configuration{}
	strategies := accessStrategiesFor(authMethods)

	for _, path := range docPaths {
		doc, ok := docs[path]
		if !ok {
			continue
		}
		effective := doc.EffectivePerspective()
		if perspectiveFilter != "" && effective != perspectiveFilter {
			continue
		}
		name := strings.TrimSuffix(path, ".json")
		cfg.OpenResourceDiscoveryV1.Documents = append(cfg.OpenResourceDiscoveryV1.Documents, ord.ConfigDocument{
			URL:              fmt.Sprintf("%s/%s/%s", serverPrefix, documentsSubdirectory, urlEncodeSegment(name)),
			AccessStrategies: strategies,
			Perspective:      effective,
		})
	}
	return cfg
}

// BuildFqnMap derives the FQN map across every document in a snapshot:
// each resource's ordId maps to the physical location of its non-remote
// resource definitions.
func BuildFqnMap(docs map[string]*ord.Document) ord.FqnMap {
	fqn := make(ord.FqnMap)
	for _, doc := range docs {
		for _, group := range [][]ord.Resource{doc.APIResources, doc.EventResources} {
			for _, res := range group {
				for _, def := range res.ResourceDefinitions {
					if strings.HasPrefix(def.URL, "http://") || strings.HasPrefix(def.URL, "https://") {
						continue
					}
					filePath := strings.TrimPrefix(def.URL, "/")
					fqn[res.OrdID] = append(fqn[res.OrdID], ord.FqnEntry{
						FileName: filepath.Base(filePath),
						FilePath: filePath,
					})
				}
			}
		}
	}
	return fqn
}

// NormalizeOrdIDSegment restores a path segment that encodes an ORD id
// with underscores in place of colons back to its canonical form, for
// FQN map lookups keyed by the real ordId.
func NormalizeOrdIDSegment(segment string) string {
	return restoreEscapedOrdID(segment)
}

func urlEncodeSegment(s string) string {
	return (&url.URL{Path: s}).EscapedPath()
}
