package fetcher

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-logr/logr"

	"github.com/open-resource-discovery/provider-server/internal/syncengine"
	"github.com/open-resource-discovery/provider-server/pkg/ord"
)

// LocalClient mirrors a local source directory into the staging directory.
// No network fetch occurs; this realizes the Content Fetcher contract for
// --source-type=local, reusing the teacher's syncengine copy/exclude
// primitives (generalized from Ignition-profile syncing to plain mirroring).
type LocalClient struct {
	SourceDir string
	Excludes  []string

	log logr.Logger
}

var _ Fetcher = (*LocalClient)(nil)

func NewLocalClient(sourceDir string, log logr.Logger) *LocalClient {
	return &LocalClient{SourceDir: sourceDir, Excludes: syncengine.MergeExcludes(nil), log: log}
}

// Abort is a no-op: the copy does not observe ctx, so it runs to completion
// and FetchAll reports a cancelled ctx only after the copy has finished.
func (l *LocalClient) Abort() {}

func (l *LocalClient) FetchAll(ctx context.Context, targetDir string, onProgress ProgressFunc) (ord.Metadata, error) {
	if onProgress != nil {
		onProgress(Progress{Phase: PhaseReceiving})
	}

	engine := &syncengine.Engine{ExcludePatterns: l.Excludes}
	result, err := engine.Sync(l.SourceDir, targetDir)
	if ctx.Err() != nil {
		return ord.Metadata{}, classifyError(ctx.Err())
	}
	if err != nil {
		return ord.Metadata{}, classifyError(err)
	}
	fileCount := result.FilesAdded + result.FilesModified

	treeSha, err := l.GetDirectoryTreeSha(ctx, targetDir)
	if err != nil {
		return ord.Metadata{}, classifyError(err)
	}

	if onProgress != nil {
		onProgress(Progress{Phase: PhaseDone, FetchedFiles: fileCount, TotalFiles: fileCount})
	}

	return ord.Metadata{
		CommitHash:       treeSha,
		DirectoryTreeSha: treeSha,
		Repository:       l.SourceDir,
		FetchTime:        time.Now(),
		TotalFiles:       fileCount,
	}, nil
}

func (l *LocalClient) FetchLatestChanges(ctx context.Context, targetDir string) error {
	_, err := l.FetchAll(ctx, targetDir, nil)
	return err
}

func (l *LocalClient) GetLatestCommitSha(ctx context.Context) (string, error) {
	return l.GetDirectoryTreeSha(ctx, l.SourceDir)
}

// GetDirectoryTreeSha fingerprints dir's contents, the same
// (relativePath, contentHash) digest the local source uses as its commit
// hash analogue, since a plain directory has no git commit identity.
func (l *LocalClient) GetDirectoryTreeSha(ctx context.Context, dir string) (string, error) {
	type entry struct {
		path string
		hash string
	}
	var entries []entry
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		h, err := hashFile(path)
		if err != nil {
			return err
		}
		entries = append(entries, entry{path: rel, hash: h})
		return nil
	})
	if err != nil {
		return "", err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].path < entries[j].path })

	h := sha256.New()
	for _, e := range entries {
		fmt.Fprintf(h, "%s:%s\n", e.path, e.hash)
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

