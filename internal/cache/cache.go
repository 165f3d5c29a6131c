// Package cache implements the content-hash-keyed Cache: processed
// documents, the built ORD configuration, the FQN map, and the document
// path list, generationally keyed by the active snapshot's directory hash.
// At-most-one-builder-per-key coalescing uses golang.org/x/sync/singleflight,
// a dependency the teacher carries transitively but never exercises.
package cache

import (
	"context"
	"sync"

	"github.com/go-logr/logr"
	"golang.org/x/sync/singleflight"

	"github.com/open-resource-discovery/provider-server/pkg/ord"
)

// Cache holds one generation of processed content at a time. A write
// tagged with a stale hash is silently dropped; a read with a mismatched
// hash is a miss.
type Cache struct {
	mu      sync.RWMutex
	hash    string
	entry   *ord.CacheEntry
	retired map[string]bool // generations superseded by a newer hash

	group singleflight.Group

	warmMu      sync.Mutex
	warmCancel  context.CancelFunc
	warming     bool

	log logr.Logger
}

func New(log logr.Logger) *Cache {
	return &Cache{log: log}
}

// CurrentHash returns the generation currently cached, if any.
func (c *Cache) CurrentHash() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hash, c.entry != nil
}

// GetDocument returns the processed document at path for generation hash,
// or a miss if the cache is on a different generation or lacks the entry.
func (c *Cache) GetDocument(hash, path string) (*ord.Document, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.hash != hash || c.entry == nil {
		return nil, false
	}
	doc, ok := c.entry.ProcessedDocuments[path]
	return doc, ok
}

// SetDocument stores a processed document for generation hash. Dropped
// silently if hash is stale relative to the current generation.
func (c *Cache) SetDocument(hash, path string, doc *ord.Document) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureGeneration(hash)
	if c.hash != hash {
		return
	}
	c.entry.ProcessedDocuments[path] = doc
}

// GetConfig / SetConfig mirror GetDocument/SetDocument for the built ORD
// configuration.
func (c *Cache) GetConfig(hash string) (*ord.Configuration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.hash != hash || c.entry == nil || c.entry.Config == nil {
		return nil, false
	}
	return c.entry.Config, true
}

func (c *Cache) SetConfig(hash string, cfg *ord.Configuration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureGeneration(hash)
	if c.hash != hash {
		return
	}
	c.entry.Config = cfg
}

// GetFqnMap / SetFqnMap mirror the same pattern for the FQN map.
func (c *Cache) GetFqnMap(hash string) (ord.FqnMap, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.hash != hash || c.entry == nil || c.entry.FqnMap == nil {
		return nil, false
	}
	return c.entry.FqnMap, true
}

func (c *Cache) SetFqnMap(hash string, m ord.FqnMap) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureGeneration(hash)
	if c.hash != hash {
		return
	}
	c.entry.FqnMap = m
}

// GetDocumentPaths / SetDocumentPaths mirror the same pattern for the
// ordered document path list.
func (c *Cache) GetDocumentPaths(hash string) ([]string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.hash != hash || c.entry == nil || c.entry.DocumentPaths == nil {
		return nil, false
	}
	return c.entry.DocumentPaths, true
}

func (c *Cache) SetDocumentPaths(hash string, paths []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureGeneration(hash)
	if c.hash != hash {
		return
	}
	c.entry.DocumentPaths = paths
}

// ensureGeneration resets the cache to a new generation when hash differs
// from the current one, retiring the current one. A retired hash never
// becomes current again, so a late write tagged with it is dropped. Must be
// called with mu held for writing.
func (c *Cache) ensureGeneration(hash string) {
	if c.hash == hash && c.entry != nil {
		return
	}
	if c.retired[hash] {
		return
	}
	c.retire(c.hash)
	c.hash = hash
	c.entry = &ord.CacheEntry{
		Hash:                hash,
		ProcessedDocuments: make(map[string]*ord.Document),
	}
}

// Invalidate drops the current generation's cache entirely, e.g. after a
// swap. Also cancels any in-flight warm.
func (c *Cache) Invalidate() {
	c.CancelWarming()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retire(c.hash)
	c.hash = ""
	c.entry = nil
}

func (c *Cache) retire(hash string) {
	if hash == "" {
		return
	}
	if c.retired == nil {
		c.retired = make(map[string]bool)
	}
	c.retired[hash] = true
}

// Clear is an alias for Invalidate kept for symmetry with the spec's
// vocabulary (clear()/invalidate(hash) are the same operation here since
// this cache holds only one generation at a time).
func (c *Cache) Clear() { c.Invalidate() }

// GetOrBuild coalesces concurrent misses for the same (hash, key) into a
// single builder call, the at-most-one-builder-per-key guarantee.
func (c *Cache) GetOrBuild(hash, key string, build func() (*ord.Document, error)) (*ord.Document, error) {
	if doc, ok := c.GetDocument(hash, key); ok {
		return doc, nil
	}
	v, err, _ := c.group.Do(hash+"|"+key, func() (interface{}, error) {
		if doc, ok := c.GetDocument(hash, key); ok {
			return doc, nil
		}
		doc, err := build()
		if err != nil {
			return nil, err
		}
		c.SetDocument(hash, key, doc)
		return doc, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*ord.Document), nil
}

// IsWarming reports whether a background warm is currently running.
func (c *Cache) IsWarming() bool {
	c.warmMu.Lock()
	defer c.warmMu.Unlock()
	return c.warming
}

// CancelWarming cancels any in-flight warm; cooperative, checked between
// documents by the warmer.
func (c *Cache) CancelWarming() {
	c.warmMu.Lock()
	cancel := c.warmCancel
	c.warmMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Warm iterates every document path, processing and populating the cache
// for hash, as a cancellable background task owned by the cache. It
// reports completion on the returned channel (closed when done).
func (c *Cache) Warm(ctx context.Context, hash string, paths []string, process func(path string) (*ord.Document, error)) <-chan struct{} {
	cctx, cancel := context.WithCancel(ctx)

	c.warmMu.Lock()
	if c.warmCancel != nil {
		c.warmCancel()
	}
	c.warmCancel = cancel
	c.warming = true
	c.warmMu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			c.warmMu.Lock()
			c.warming = false
			c.warmMu.Unlock()
		}()
		for _, p := range paths {
			select {
			case <-cctx.Done():
				return
			default:
			}
			doc, err := process(p)
			if err != nil {
				c.log.Error(err, "cache warm failed for document; falling back to on-demand", "path", p)
				continue
			}
			c.SetDocument(hash, p, doc)
		}
	}()
	return done
}

// WaitForCompletion blocks until any in-flight warm finishes or ctx is
// cancelled.
func (c *Cache) WaitForCompletion(ctx context.Context, done <-chan struct{}) {
	select {
	case <-done:
	case <-ctx.Done():
	}
}
