package syncengine

import (
	"crypto/sha256"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/open-resource-discovery/provider-server/pkg/apierror"
)

// resolveUnder joins root and relPath, rejecting any result that escapes
// root — the same join-then-verify-prefix shape docrepo.resolve uses to
// keep a request path from walking out of the active snapshot, applied
// here so a source tree's relative paths can never land a copy outside
// the destination staging root.
func resolveUnder(root, relPath string) (string, error) {
	joined := filepath.Join(root, relPath)
	cleanRoot := filepath.Clean(root)
	if joined != cleanRoot && !strings.HasPrefix(joined, cleanRoot+string(filepath.Separator)) {
		return "", apierror.New(apierror.CodeInternalServerError, fmt.Sprintf("path %q escapes root %q", relPath, root))
	}
	return joined, nil
}

// copyDocumentFile copies src to dst, creating parent directories as
// needed. Returns true if dst was actually written (new or changed
// content), so the caller can distinguish an add from a no-op.
func copyDocumentFile(src, dst string) (bool, error) {
	if contentsMatch(src, dst) {
		return false, nil
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return false, fmt.Errorf("creating parent dir for %s: %w", dst, err)
	}

	in, err := os.Open(src)
	if err != nil {
		return false, fmt.Errorf("opening source %s: %w", src, err)
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dst)
	if err != nil {
		return false, fmt.Errorf("creating destination %s: %w", dst, err)
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return false, fmt.Errorf("copying %s to %s: %w", src, dst, err)
	}

	if srcInfo, err := os.Lstat(src); err == nil {
		_ = os.Chmod(dst, srcInfo.Mode())
	}

	return true, nil
}

// contentsMatch reports whether a and b both exist, are regular files (or
// at least not symlinks), and have identical content — the fast path that
// lets a re-mirror of an unchanged document skip its rewrite.
func contentsMatch(a, b string) bool {
	infoA, errA := os.Lstat(a)
	infoB, errB := os.Lstat(b)
	if errA != nil || errB != nil {
		return false
	}
	if infoA.Mode()&fs.ModeSymlink != 0 || infoB.Mode()&fs.ModeSymlink != 0 {
		return false
	}
	if infoA.Size() != infoB.Size() {
		return false
	}
	hashA, errA := fileDigest(a)
	hashB, errB := fileDigest(b)
	if errA != nil || errB != nil {
		return false
	}
	return hashA == hashB
}

// fileDigest returns the hex-encoded SHA-256 digest of a file's contents.
func fileDigest(path string) (string, error) {
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
