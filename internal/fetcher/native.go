package fetcher

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"

	"github.com/open-resource-discovery/provider-server/pkg/ord"
)

// NativeClient fetches by shelling out to the git binary rather than
// loading pack data into memory, for repositories too large for go-git.
// Grounded directly on the teacher's NativeGitClient.
type NativeClient struct {
	RepoURL string
	Branch  string
	Token   string

	log      logr.Logger
	throttle *logThrottle

	mu     sync.Mutex
	cancel context.CancelFunc
	aborted atomic.Bool
}

var _ Fetcher = (*NativeClient)(nil)

func NewNativeClient(repoURL, branch, token string, log logr.Logger) *NativeClient {
	return &NativeClient{RepoURL: repoURL, Branch: branch, Token: token, log: log, throttle: newLogThrottle(log)}
}

func (n *NativeClient) Abort() {
	n.aborted.Store(true)
	n.mu.Lock()
	cancel := n.cancel
	n.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (n *NativeClient) withCancel(ctx context.Context) (context.Context, context.CancelFunc) {
	cctx, cancel := context.WithCancel(ctx)
	n.mu.Lock()
	n.cancel = cancel
	n.mu.Unlock()
	return cctx, cancel
}

func (n *NativeClient) authURL() string {
	if n.Token == "" {
		return n.RepoURL
	}
	return injectTokenIntoURL(n.RepoURL, n.Token)
}

func (n *NativeClient) FetchAll(ctx context.Context, targetDir string, onProgress ProgressFunc) (ord.Metadata, error) {
	n.aborted.Store(false)
	cctx, cancel := n.withCancel(ctx)
	defer cancel()

	emit := func(p Progress) {
		n.throttle.maybeLog(p)
		if onProgress != nil {
			onProgress(p)
		}
	}
	emit(Progress{Phase: PhaseReceiving})

	if _, err := runGit(cctx, []string{"clone", "--depth=1", "--single-branch", "--branch", n.Branch, n.authURL(), targetDir}, "", nil); err != nil {
		return ord.Metadata{}, classifyError(err)
	}

	emit(Progress{Phase: PhaseResolving})
	commit, err := runGit(cctx, []string{"rev-parse", "HEAD"}, targetDir, nil)
	if err != nil {
		return ord.Metadata{}, classifyError(err)
	}

	fileCount, err := countTrackedFiles(cctx, targetDir)
	if err != nil {
		return ord.Metadata{}, classifyError(err)
	}

	emit(Progress{Phase: PhaseDone, FetchedFiles: fileCount, TotalFiles: fileCount})

	return ord.Metadata{
		CommitHash: commit,
		Branch:     n.Branch,
		Repository: n.RepoURL,
		FetchTime:  time.Now(),
		TotalFiles: fileCount,
	}, nil
}

func (n *NativeClient) FetchLatestChanges(ctx context.Context, targetDir string) error {
	cctx, cancel := n.withCancel(ctx)
	defer cancel()

	if _, err := runGit(cctx, []string{"remote", "set-url", "origin", n.authURL()}, targetDir, nil); err != nil {
		return classifyError(err)
	}
	if _, err := runGit(cctx, []string{"fetch", "--depth=1", "origin", n.Branch}, targetDir, nil); err != nil {
		return classifyError(err)
	}
	if _, err := runGit(cctx, []string{"checkout", "-f", "FETCH_HEAD"}, targetDir, nil); err != nil {
		return classifyError(err)
	}
	return nil
}

func (n *NativeClient) GetLatestCommitSha(ctx context.Context) (string, error) {
	out, err := runGit(ctx, []string{"ls-remote", n.authURL(), "refs/heads/" + n.Branch}, "", nil)
	if err != nil {
		return "", classifyError(err)
	}
	fields := strings.Fields(out)
	if len(fields) == 0 {
		return "", fmt.Errorf("branch %q not found in %s", n.Branch, n.RepoURL)
	}
	return fields[0], nil
}

func (n *NativeClient) GetDirectoryTreeSha(ctx context.Context, targetDir string) (string, error) {
	return runGit(ctx, []string{"rev-parse", "HEAD^{tree}"}, targetDir, nil)
}

func countTrackedFiles(ctx context.Context, targetDir string) (int, error) {
	out, err := runGit(ctx, []string{"ls-files"}, targetDir, nil)
	if err != nil {
		return 0, err
	}
	if out == "" {
		return 0, nil
	}
	return len(strings.Split(out, "\n")), nil
}

// injectTokenIntoURL inserts the token as a Basic-auth username with a
// placeholder password, per spec.md §4.2.
func injectTokenIntoURL(repoURL, token string) string {
	if after, ok := strings.CutPrefix(repoURL, "https://"); ok {
		return "https://" + token + ":x-oauth-basic@" + after
	}
	if after, ok := strings.CutPrefix(repoURL, "http://"); ok {
		return "http://" + token + ":x-oauth-basic@" + after
	}
	return repoURL
}

var tokenRe = regexp.MustCompile(`://[^@\s]+@`)

// sanitizeOutput strips credential tokens from git output before they reach
// logs or error messages.
func sanitizeOutput(s string) string {
	return tokenRe.ReplaceAllString(strings.TrimSpace(s), "://<redacted>@")
}

func runGit(ctx context.Context, args []string, dir string, extraEnv []string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Env = append(os.Environ(), append([]string{"GIT_TERMINAL_PROMPT=0"}, extraEnv...)...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%s", sanitizeOutput(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}
