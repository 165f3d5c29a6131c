package fetcher

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	gogit "github.com/go-git/go-git/v5"
	gogitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/memory"
	"github.com/go-logr/logr"

	"github.com/open-resource-discovery/provider-server/pkg/ord"
)

// GoGitClient fetches via the go-git library. Each call runs on the
// caller's goroutine under a cancellable context, which Abort cancels; no
// separate worker goroutine or process is started for the git work.
type GoGitClient struct {
	RepoURL string
	Branch  string
	Token   string

	log     logr.Logger
	throttle *logThrottle

	mu     sync.Mutex
	cancel context.CancelFunc
	aborted atomic.Bool
}

var _ Fetcher = (*GoGitClient)(nil)

// NewGoGitClient builds a fetcher targeting repoURL/branch, authenticating
// with token injected as a Basic username with a placeholder password, per
// spec.md §4.2.
func NewGoGitClient(repoURL, branch, token string, log logr.Logger) *GoGitClient {
	return &GoGitClient{RepoURL: repoURL, Branch: branch, Token: token, log: log, throttle: newLogThrottle(log)}
}

func (g *GoGitClient) auth() transport.AuthMethod {
	if g.Token == "" {
		return nil
	}
	return &http.BasicAuth{Username: g.Token, Password: "x-oauth-basic"}
}

func (g *GoGitClient) withCancel(ctx context.Context) (context.Context, context.CancelFunc) {
	cctx, cancel := context.WithCancel(ctx)
	g.mu.Lock()
	g.cancel = cancel
	g.mu.Unlock()
	return cctx, cancel
}

// Abort cancels any in-flight operation started on this client.
func (g *GoGitClient) Abort() {
	g.aborted.Store(true)
	g.mu.Lock()
	cancel := g.cancel
	g.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (g *GoGitClient) FetchAll(ctx context.Context, targetDir string, onProgress ProgressFunc) (ord.Metadata, error) {
	g.aborted.Store(false)
	cctx, cancel := g.withCancel(ctx)
	defer cancel()

	emit := func(p Progress) {
		g.throttle.maybeLog(p)
		if onProgress != nil {
			onProgress(p)
		}
	}
	emit(Progress{Phase: PhaseReceiving})

	repo, err := gogit.PlainCloneContext(cctx, targetDir, false, &gogit.CloneOptions{
		URL:           g.RepoURL,
		Auth:          g.auth(),
		Depth:         1,
		SingleBranch:  true,
		ReferenceName: plumbing.NewBranchReferenceName(g.Branch),
	})
	if err != nil {
		return ord.Metadata{}, classifyError(err)
	}

	emit(Progress{Phase: PhaseResolving})
	head, err := repo.Head()
	if err != nil {
		return ord.Metadata{}, classifyError(err)
	}

	fileCount, err := countFiles(repo, head.Hash())
	if err != nil {
		return ord.Metadata{}, classifyError(err)
	}

	emit(Progress{Phase: PhaseDone, FetchedFiles: fileCount, TotalFiles: fileCount})

	return ord.Metadata{
		CommitHash: head.Hash().String(),
		Branch:     g.Branch,
		Repository: g.RepoURL,
		FetchTime:  time.Now(),
		TotalFiles: fileCount,
	}, nil
}

func (g *GoGitClient) FetchLatestChanges(ctx context.Context, targetDir string) error {
	cctx, cancel := g.withCancel(ctx)
	defer cancel()

	repo, err := gogit.PlainOpen(targetDir)
	if err != nil {
		return classifyError(err)
	}
	err = repo.FetchContext(cctx, &gogit.FetchOptions{
		Auth:  g.auth(),
		Force: true,
		Depth: 1,
	})
	if err != nil && err != gogit.NoErrAlreadyUpToDate {
		return classifyError(err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return classifyError(err)
	}
	if err := wt.Checkout(&gogit.CheckoutOptions{
		Branch: plumbing.NewRemoteReferenceName("origin", g.Branch),
		Force:  true,
	}); err != nil {
		return classifyError(err)
	}
	return nil
}

func (g *GoGitClient) GetLatestCommitSha(ctx context.Context) (string, error) {
	rem := gogit.NewRemote(memory.NewStorage(), &gogitconfig.RemoteConfig{
		Name: "origin",
		URLs: []string{g.RepoURL},
	})
	refs, err := rem.ListContext(ctx, &gogit.ListOptions{Auth: g.auth()})
	if err != nil {
		return "", classifyError(err)
	}
	target := plumbing.NewBranchReferenceName(g.Branch)
	for _, r := range refs {
		if r.Name() == target {
			return r.Hash().String(), nil
		}
	}
	return "", fmt.Errorf("branch %q not found in %s", g.Branch, g.RepoURL)
}

func (g *GoGitClient) GetDirectoryTreeSha(ctx context.Context, targetDir string) (string, error) {
	repo, err := gogit.PlainOpen(targetDir)
	if err != nil {
		return "", err
	}
	head, err := repo.Head()
	if err != nil {
		return "", err
	}
	commit, err := repo.CommitObject(head.Hash())
	if err != nil {
		return "", err
	}
	return commit.TreeHash.String(), nil
}

func countFiles(repo *gogit.Repository, commitHash plumbing.Hash) (int, error) {
	commit, err := repo.CommitObject(commitHash)
	if err != nil {
		return 0, err
	}
	tree, err := commit.Tree()
	if err != nil {
		return 0, err
	}
	count := 0
	err = tree.Files().ForEach(func(*object.File) error {
		count++
		return nil
	})
	return count, err
}
