// Package snapshot implements the Snapshot Store: a versioned on-disk
// directory layout under a data root, with an atomic swap into the active
// serving path. The idempotent-ensure shape (check, then create) is
// grounded on the teacher's storage.EnsurePVC; here it ensures a directory
// layout instead of a Kubernetes PVC.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-logr/logr"

	"github.com/open-resource-discovery/provider-server/pkg/apierror"
	"github.com/open-resource-discovery/provider-server/pkg/ord"
)

const (
	currentLinkName  = "current"
	stagingDirName   = "staging"
	metadataFileName = "metadata.json"
)

// Store manages the data root containing current/, staging/, and
// metadata.json.
type Store struct {
	dataDir               string
	documentsSubdirectory string
	log                   logr.Logger

	mu sync.Mutex // serializes swap; readers take no lock
}

// New ensures the data root layout exists and cleans any stale staging
// directory left from an unclean shutdown.
func New(dataDir, documentsSubdirectory string, log logr.Logger) (*Store, error) {
	s := &Store{dataDir: dataDir, documentsSubdirectory: documentsSubdirectory, log: log}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir %s: %w", dataDir, err)
	}
	if err := s.cleanupStaging(); err != nil {
		return nil, err
	}
	return s, nil
}

// PrepareStaging returns a clean staging directory path, ready for a fetch.
func (s *Store) PrepareStaging() (string, error) {
	staging := filepath.Join(s.dataDir, stagingDirName)
	if err := os.RemoveAll(staging); err != nil {
		return "", fmt.Errorf("clearing staging dir: %w", err)
	}
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return "", fmt.Errorf("creating staging dir: %w", err)
	}
	return staging, nil
}

// Validate checks that path is a well-formed snapshot: the documents
// subdirectory exists, is non-empty, and contains at least one parseable
// ORD document.
func (s *Store) Validate(path string) error {
	docsDir := filepath.Join(path, s.documentsSubdirectory)
	entries, err := os.ReadDir(docsDir)
	if err != nil {
		return apierror.New(apierror.CodeValidationError, fmt.Sprintf("documents subdirectory missing: %v", err))
	}
	if len(entries) == 0 {
		return apierror.New(apierror.CodeValidationError, "documents subdirectory is empty")
	}

	foundValid := false
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(docsDir, e.Name()))
		if err != nil {
			continue
		}
		var probe struct {
			OpenResourceDiscovery string `json:"openResourceDiscovery"`
		}
		if json.Unmarshal(raw, &probe) == nil && probe.OpenResourceDiscovery != "" {
			foundValid = true
			break
		}
	}
	if !foundValid {
		return apierror.New(apierror.CodeValidationError, "no valid ORD document found in staging snapshot")
	}
	return nil
}

// Swap atomically promotes stagingPath to be the active snapshot. The
// active snapshot is a symlink named "current" pointing at a content-named
// sibling directory; swapping is a rename of the new symlink over the old
// one, which POSIX guarantees is atomic.
func (s *Store) Swap(stagingPath, commitHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target := filepath.Join(s.dataDir, "snapshot-"+sanitizeHash(commitHash))
	if err := os.RemoveAll(target); err != nil {
		return fmt.Errorf("clearing previous snapshot dir %s: %w", target, err)
	}
	if err := os.Rename(stagingPath, target); err != nil {
		return fmt.Errorf("promoting staging to %s: %w", target, err)
	}

	linkPath := filepath.Join(s.dataDir, currentLinkName)
	tmpLink := linkPath + ".tmp"
	_ = os.Remove(tmpLink)
	if err := os.Symlink(target, tmpLink); err != nil {
		return fmt.Errorf("creating new current symlink: %w", err)
	}
	if err := os.Rename(tmpLink, linkPath); err != nil {
		return fmt.Errorf("swapping current symlink: %w", err)
	}
	s.log.V(1).Info("swapped active snapshot", "commitHash", commitHash)
	return nil
}

// GetCurrentPath returns the active snapshot's path. Safe to call without
// holding any lock; readers capture this once per request and use it for
// the whole request lifetime.
func (s *Store) GetCurrentPath() (string, error) {
	linkPath := filepath.Join(s.dataDir, currentLinkName)
	resolved, err := filepath.EvalSymlinks(linkPath)
	if err != nil {
		return "", apierror.New(apierror.CodeNotFound, "no active snapshot")
	}
	return resolved, nil
}

// GetCurrentVersion returns the commit hash of the active snapshot, if any.
func (s *Store) GetCurrentVersion() (string, bool) {
	m, err := s.GetMetadata()
	if err != nil || m == nil {
		return "", false
	}
	return m.CommitHash, true
}

// GetMetadata loads the persisted metadata record, or nil if none exists
// yet (e.g., before the first successful update).
func (s *Store) GetMetadata() (*ord.Metadata, error) {
	raw, err := os.ReadFile(filepath.Join(s.dataDir, metadataFileName))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading metadata: %w", err)
	}
	var m ord.Metadata
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parsing metadata: %w", err)
	}
	return &m, nil
}

// SaveMetadata writes m atomically (write to temp file, rename over).
func (s *Store) SaveMetadata(m ord.Metadata) error {
	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	final := filepath.Join(s.dataDir, metadataFileName)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("writing metadata temp file: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("promoting metadata file: %w", err)
	}
	return nil
}

// CleanupStaging removes any leftover staging directory, e.g. on startup
// after an unclean shutdown.
func (s *Store) CleanupStaging() error {
	return s.cleanupStaging()
}

func (s *Store) cleanupStaging() error {
	staging := filepath.Join(s.dataDir, stagingDirName)
	if err := os.RemoveAll(staging); err != nil {
		return fmt.Errorf("cleaning up staging dir: %w", err)
	}
	return nil
}

func sanitizeHash(hash string) string {
	if hash == "" {
		return "unknown"
	}
	if len(hash) > 40 {
		hash = hash[:40]
	}
	return hash
}
