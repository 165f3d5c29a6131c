package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr"

	"github.com/open-resource-discovery/provider-server/internal/cache"
	"github.com/open-resource-discovery/provider-server/internal/docprocessor"
	"github.com/open-resource-discovery/provider-server/internal/docrepo"
	"github.com/open-resource-discovery/provider-server/internal/fetcher"
	"github.com/open-resource-discovery/provider-server/internal/metrics"
	"github.com/open-resource-discovery/provider-server/internal/snapshot"
	"github.com/open-resource-discovery/provider-server/internal/updatestate"
	"github.com/open-resource-discovery/provider-server/pkg/ord"
)

// fakeFetcher is a scriptable fetcher.Fetcher: FetchAll writes a single
// valid document into the staging dir it's given and reports whatever
// remote sha is currently configured, so a test can simulate drift by
// bumping remoteSha independently of a fetch actually having happened.
type fakeFetcher struct {
	mu        sync.Mutex
	calls     int32
	remoteSha int32
	failFetch error
	aborted   int32
}

func (f *fakeFetcher) FetchAll(ctx context.Context, targetDir string, onProgress fetcher.ProgressFunc) (ord.Metadata, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.failFetch != nil {
		return ord.Metadata{}, f.failFetch
	}
	onProgress(fetcher.Progress{Phase: fetcher.PhaseReceiving, FetchedFiles: 1, TotalFiles: 1})

	docsDir := filepath.Join(targetDir, "documents")
	if err := os.MkdirAll(docsDir, 0o755); err != nil {
		return ord.Metadata{}, err
	}
	doc := `{"openResourceDiscovery":"1.9","apiResources":[{"ordId":"urn:apiResource:example:v1","resourceDefinitions":[{"url":"/apiResource1/openapi.json"}]}]}`
	if err := os.WriteFile(filepath.Join(docsDir, "doc.json"), []byte(doc), 0o644); err != nil {
		return ord.Metadata{}, err
	}
	sha := atomic.LoadInt32(&f.remoteSha)
	if sha == 0 {
		sha = 1
		atomic.StoreInt32(&f.remoteSha, sha)
	}
	return ord.Metadata{CommitHash: shaString(sha), Branch: "main", Repository: "org/repo", TotalFiles: 1}, nil
}

func (f *fakeFetcher) FetchLatestChanges(ctx context.Context, targetDir string) error { return nil }

func (f *fakeFetcher) GetLatestCommitSha(ctx context.Context) (string, error) {
	sha := atomic.LoadInt32(&f.remoteSha)
	if sha == 0 {
		sha = 1
	}
	return shaString(sha), nil
}

func (f *fakeFetcher) GetDirectoryTreeSha(ctx context.Context, targetDir string) (string, error) {
	return "tree-sha", nil
}

func (f *fakeFetcher) Abort() { atomic.AddInt32(&f.aborted, 1) }

func shaString(n int32) string {
	return "sha-" + string(rune('0'+n))
}

func newTestScheduler(t *testing.T, ftr fetcher.Fetcher, delay time.Duration) (*Scheduler, *updatestate.Manager) {
	t.Helper()
	dataDir := t.TempDir()
	store, err := snapshot.New(dataDir, "documents", logr.Discard())
	if err != nil {
		t.Fatalf("snapshot.New: %v", err)
	}
	state := updatestate.New(logr.Discard())
	entries := cache.New(logr.Discard())
	repo := docrepo.New("documents", store.GetCurrentPath)
	procCtx := docprocessor.Context{BaseURL: "https://example.com", DocumentsSubdirectory: "documents"}

	sched := New(store, ftr, state, entries, repo, procCtx, metrics.New(), delay, logr.Discard())
	return sched, state
}

func TestScheduler_ForceUpdateRunsFetchValidateSwap(t *testing.T) {
	ftr := &fakeFetcher{}
	sched, state := newTestScheduler(t, ftr, 0)

	if err := sched.ForceUpdate(); err != nil {
		t.Fatalf("ForceUpdate: %v", err)
	}

	finalState := state.GetState()
	if finalState.Status != ord.StatusIdle || finalState.UpdateInProgress {
		t.Fatalf("expected idle state after successful update, got %+v", finalState)
	}
	if atomic.LoadInt32(&ftr.calls) != 1 {
		t.Fatalf("expected exactly one fetch call, got %d", ftr.calls)
	}

	hash, ok := sched.entries.CurrentHash()
	if !ok {
		t.Fatal("expected cache generation to be set after update")
	}
	if _, ok := sched.entries.GetDocument(hash, "doc.json"); !ok {
		t.Fatal("expected warmed document to be cached")
	}
	fqn, ok := sched.entries.GetFqnMap(hash)
	if !ok {
		t.Fatal("expected fqn map to be present for the current generation")
	}
	if entries, ok := fqn["urn:apiResource:example:v1"]; !ok || len(entries) != 1 {
		t.Fatalf("expected fqn map entry for the ordId, got %v (ok=%v)", entries, ok)
	}
}

func TestScheduler_ForceUpdateErrorsWhenAlreadyInProgress(t *testing.T) {
	ftr := &fakeFetcher{}
	sched, state := newTestScheduler(t, ftr, 0)
	state.StartUpdate(ord.SourceManual)

	if err := sched.ForceUpdate(); err == nil {
		t.Fatal("expected error when an update is already in progress")
	}
}

func TestScheduler_FetchFailureMarksUpdateFailed(t *testing.T) {
	ftr := &fakeFetcher{failFetch: errors.New("network unreachable")}
	sched, state := newTestScheduler(t, ftr, 0)

	if err := sched.ForceUpdate(); err != nil {
		t.Fatalf("ForceUpdate: %v", err)
	}

	finalState := state.GetState()
	if finalState.Status != ord.StatusFailed || finalState.FailedUpdates != 1 {
		t.Fatalf("expected failed state, got %+v", finalState)
	}
}

func TestScheduler_ScheduleImmediateUpdateCoalescesWebhooksWithinCooldown(t *testing.T) {
	ftr := &fakeFetcher{}
	cooldown := 80 * time.Millisecond
	sched, state := newTestScheduler(t, ftr, cooldown)

	sched.ScheduleImmediateUpdate(false)
	time.Sleep(10 * time.Millisecond)
	sched.ScheduleImmediateUpdate(false)
	time.Sleep(10 * time.Millisecond)
	sched.ScheduleImmediateUpdate(false)

	// The first webhook runs at once; the two inside its cooldown window
	// coalesce into a single trailing run when the window closes.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !state.GetState().UpdateInProgress && atomic.LoadInt32(&ftr.calls) >= 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(2 * cooldown)

	if calls := atomic.LoadInt32(&ftr.calls); calls != 2 {
		t.Fatalf("expected one immediate fetch plus exactly one coalesced trailing fetch for three webhooks inside the cooldown window, got %d", calls)
	}
}

func TestScheduler_ScheduleImmediateUpdateManualBypassesCooldown(t *testing.T) {
	ftr := &fakeFetcher{}
	sched, _ := newTestScheduler(t, ftr, time.Hour)

	sched.ScheduleImmediateUpdate(false)
	sched.ScheduleImmediateUpdate(true)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(&ftr.calls) >= 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if calls := atomic.LoadInt32(&ftr.calls); calls < 1 {
		t.Fatalf("expected manual trigger to run immediately despite active cooldown, got %d calls", calls)
	}
}

func TestScheduler_PollForChangesSchedulesOnDrift(t *testing.T) {
	ftr := &fakeFetcher{}
	sched, _ := newTestScheduler(t, ftr, 0)

	// No metadata yet: GetLatestCommitSha returns "sha-1" while persisted
	// metadata is nil, which always counts as drift.
	sched.pollForChanges(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(&ftr.calls) >= 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if atomic.LoadInt32(&ftr.calls) < 1 {
		t.Fatal("expected poll to schedule an update on detected drift")
	}
}

func TestScheduler_PollForChangesNoOpWhenUpToDate(t *testing.T) {
	ftr := &fakeFetcher{}
	sched, _ := newTestScheduler(t, ftr, 0)

	if err := sched.ForceUpdate(); err != nil {
		t.Fatalf("ForceUpdate: %v", err)
	}
	callsAfterFirstUpdate := atomic.LoadInt32(&ftr.calls)

	sched.pollForChanges(context.Background())
	time.Sleep(50 * time.Millisecond)

	if atomic.LoadInt32(&ftr.calls) != callsAfterFirstUpdate {
		t.Fatal("expected poll to be a no-op when the remote sha matches persisted metadata")
	}
}
