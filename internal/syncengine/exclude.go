package syncengine

import (
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// vcsExcludes are always enforced regardless of user-provided excludes:
// a local source directory is frequently a git working copy, and its
// VCS metadata is never part of the ORD document tree that gets mirrored
// into a snapshot.
var vcsExcludes = []string{
	".git",
	".git/**",
}

// MergeExcludes combines user-provided glob excludes with the VCS
// excludes, deduplicating and discarding blanks.
func MergeExcludes(userExcludes []string) []string {
	seen := make(map[string]bool, len(userExcludes)+len(vcsExcludes))
	result := make([]string, 0, len(userExcludes)+len(vcsExcludes))

	for _, p := range userExcludes {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		result = append(result, p)
	}
	for _, p := range vcsExcludes {
		if !seen[p] {
			seen[p] = true
			result = append(result, p)
		}
	}
	return result
}

// ShouldExclude reports whether a path relative to the source root matches
// any of the given doublestar glob patterns.
func ShouldExclude(relPath string, excludes []string) bool {
	relPath = filepath.ToSlash(relPath)
	for _, pattern := range excludes {
		pattern = filepath.ToSlash(pattern)
		if matched, err := doublestar.Match(pattern, relPath); err == nil && matched {
			return true
		}
	}
	return false
}
