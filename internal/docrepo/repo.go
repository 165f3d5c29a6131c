// Package docrepo implements the Document Repository: reads through the
// active snapshot path captured at request entry, and computes the
// directory hash used as the cache generation key.
package docrepo

import (
	"crypto/sha256"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/open-resource-discovery/provider-server/pkg/apierror"
	"github.com/open-resource-discovery/provider-server/pkg/ord"
)

// CurrentPathFunc returns the active snapshot's root path, e.g.
// snapshot.Store.GetCurrentPath.
type CurrentPathFunc func() (string, error)

// Repository reads documents and arbitrary files from the active snapshot.
type Repository struct {
	documentsSubdirectory string
	currentPath           CurrentPathFunc
}

func New(documentsSubdirectory string, currentPath CurrentPathFunc) *Repository {
	return &Repository{documentsSubdirectory: documentsSubdirectory, currentPath: currentPath}
}

// resolve joins root and the requested relative path, rejecting any
// resolved path that escapes root.
func resolve(root, relPath string) (string, error) {
	if filepath.IsAbs(relPath) {
		return "", apierror.NotFound("path not found")
	}
	joined := filepath.Join(root, relPath)
	cleanRoot := filepath.Clean(root)
	if joined != cleanRoot && !strings.HasPrefix(joined, cleanRoot+string(filepath.Separator)) {
		return "", apierror.NotFound("path not found")
	}
	return joined, nil
}

// ListDocuments returns the relative paths of every document under the
// documents subdirectory of the active snapshot.
func (r *Repository) ListDocuments() ([]string, error) {
	root, err := r.currentPath()
	if err != nil {
		return nil, err
	}
	docsDir := filepath.Join(root, r.documentsSubdirectory)
	var paths []string
	err = filepath.WalkDir(docsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".json") {
			return nil
		}
		rel, relErr := filepath.Rel(docsDir, path)
		if relErr != nil {
			return relErr
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	sort.Strings(paths)
	return paths, nil
}

// ReadRawDocument returns the unparsed bytes of the document at relPath,
// relative to the documents subdirectory, before any processing.
func (r *Repository) ReadRawDocument(relPath string) ([]byte, error) {
	root, err := r.currentPath()
	if err != nil {
		return nil, err
	}
	docsDir := filepath.Join(root, r.documentsSubdirectory)
	full, err := resolve(docsDir, relPath)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(full)
	if err != nil {
		return nil, apierror.NotFound(fmt.Sprintf("document %q not found", relPath))
	}
	return raw, nil
}

// ReadDocument parses the ORD document at the given path, relative to the
// documents subdirectory.
func (r *Repository) ReadDocument(relPath string) (*ord.Document, error) {
	raw, err := r.ReadRawDocument(relPath)
	if err != nil {
		return nil, err
	}
	doc, err := ord.ParseDocument(raw)
	if err != nil {
		return nil, apierror.Validation(fmt.Sprintf("document %q is not valid JSON: %v", relPath, err))
	}
	return doc, nil
}

// ReadFile returns the raw bytes of a file relative to the active
// snapshot root (not necessarily under documents/).
func (r *Repository) ReadFile(relPath string) ([]byte, error) {
	root, err := r.currentPath()
	if err != nil {
		return nil, err
	}
	full, err := resolve(root, relPath)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(full)
	if err != nil {
		return nil, apierror.NotFound(fmt.Sprintf("file %q not found", relPath))
	}
	return raw, nil
}

// DirectoryHash computes a deterministic digest over
// {(relativePath, mtimeNs)} sorted by path, used as the cache generation
// key. Two snapshots with identical contents and mtimes hash identically.
func (r *Repository) DirectoryHash() (string, error) {
	root, err := r.currentPath()
	if err != nil {
		return "", err
	}

	type entry struct {
		path string
		mtimeNs int64
	}
	var entries []entry
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		info, infoErr := d.Info()
		if infoErr != nil {
			return infoErr
		}
		entries = append(entries, entry{path: filepath.ToSlash(rel), mtimeNs: info.ModTime().UnixNano()})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("hashing directory %s: %w", root, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].path < entries[j].path })

	h := sha256.New()
	for _, e := range entries {
		fmt.Fprintf(h, "%s:%d\n", e.path, e.mtimeNs)
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}
