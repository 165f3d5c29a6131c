// Package scheduler implements the Update Scheduler: it owns the timers
// and the coalescing policy that drive a fetch-validate-swap cycle, and
// is the only caller of performUpdate. The numbered-step shape is
// grounded on the teacher's StokerReconciler.Reconcile; the non-blocking
// trigger-coalescing idea is grounded on agent.Watcher's trigger channel,
// generalized here into timer arm/cancel/replace semantics since updates
// carry a delay rather than firing immediately.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/open-resource-discovery/provider-server/internal/cache"
	"github.com/open-resource-discovery/provider-server/internal/docprocessor"
	"github.com/open-resource-discovery/provider-server/internal/docrepo"
	"github.com/open-resource-discovery/provider-server/internal/fetcher"
	"github.com/open-resource-discovery/provider-server/internal/metrics"
	"github.com/open-resource-discovery/provider-server/internal/snapshot"
	"github.com/open-resource-discovery/provider-server/internal/updatestate"
	"github.com/open-resource-discovery/provider-server/pkg/apierror"
	"github.com/open-resource-discovery/provider-server/pkg/ord"
)

const periodicPollInterval = 2 * time.Hour

// Scheduler coalesces and throttles update triggers (scheduled, webhook,
// manual, periodic) and drives the fetch -> validate -> swap -> persist ->
// invalidate cycle. Exactly one performUpdate runs at a time; a later
// trigger aborts an in-flight one rather than queuing behind it.
type Scheduler struct {
	store   *snapshot.Store
	ftr     fetcher.Fetcher
	state   *updatestate.Manager
	entries *cache.Cache
	repo    *docrepo.Repository
	procCtx docprocessor.Context
	metrics *metrics.Metrics

	updateDelay time.Duration
	log         logr.Logger

	mu               sync.Mutex
	timer            *time.Timer
	lastWebhookStart time.Time
	webhookArmed     bool
	runCancel        context.CancelFunc
}

func New(store *snapshot.Store, ftr fetcher.Fetcher, state *updatestate.Manager, entries *cache.Cache, repo *docrepo.Repository, procCtx docprocessor.Context, m *metrics.Metrics, updateDelay time.Duration, log logr.Logger) *Scheduler {
	return &Scheduler{
		store:       store,
		ftr:         ftr,
		state:       state,
		entries:     entries,
		repo:        repo,
		procCtx:     procCtx,
		metrics:     m,
		updateDelay: updateDelay,
		log:         log,
	}
}

// Run starts the periodic poll loop. Blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(periodicPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			if s.timer != nil {
				s.timer.Stop()
			}
			if s.runCancel != nil {
				s.runCancel()
			}
			s.mu.Unlock()
			return
		case <-ticker.C:
			s.pollForChanges(ctx)
		}
	}
}

// pollForChanges compares the remote's latest commit against the last
// persisted metadata and schedules an immediate update on drift.
func (s *Scheduler) pollForChanges(ctx context.Context) {
	meta, err := s.store.GetMetadata()
	if err != nil {
		s.log.Error(err, "periodic poll: reading metadata failed")
		return
	}
	latestSha, err := s.ftr.GetLatestCommitSha(ctx)
	if err != nil {
		s.log.Error(err, "periodic poll: checking remote commit failed")
		return
	}
	if meta != nil && latestSha == meta.CommitHash {
		return
	}
	s.log.Info("periodic poll detected content drift, scheduling update")
	s.ScheduleUpdate(ord.SourcePeriodic, 0)
}

// ScheduleUpdate arms a one-shot timer at now+delay, cancelling any prior
// timer. If an update is currently running, it is aborted first — the new
// trigger wins.
func (s *Scheduler) ScheduleUpdate(source ord.TriggerSource, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.GetState().UpdateInProgress && s.runCancel != nil {
		s.runCancel()
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	when := time.Now().Add(delay)
	s.state.ScheduleUpdate(when)
	s.timer = time.AfterFunc(delay, func() {
		s.runUpdate(source)
	})
}

// ScheduleImmediateUpdate implements the webhook trigger's cooldown
// coalescing: a manual trigger bypasses the cooldown entirely, while a
// webhook trigger within the cooldown window arms (at most) a single
// trailing timer that fires once the window closes, regardless of how
// many webhooks arrived during it.
func (s *Scheduler) ScheduleImmediateUpdate(isManual bool) {
	if isManual {
		s.ScheduleUpdate(ord.SourceManual, 0)
		return
	}

	s.mu.Lock()
	since := time.Since(s.lastWebhookStart)
	if s.lastWebhookStart.IsZero() || since >= s.updateDelay {
		s.lastWebhookStart = time.Now()
		s.webhookArmed = false
		s.mu.Unlock()
		s.ScheduleUpdate(ord.SourceWebhook, 0)
		return
	}
	if s.webhookArmed {
		// A trailing update is already armed for this cooldown window.
		s.mu.Unlock()
		return
	}
	s.webhookArmed = true
	remaining := s.updateDelay - since
	s.mu.Unlock()
	s.ScheduleUpdate(ord.SourceWebhook, remaining)
}

// ForceUpdate cancels any scheduled timer and runs immediately. Errors if
// an update is already in progress.
func (s *Scheduler) ForceUpdate() error {
	s.mu.Lock()
	if s.state.GetState().UpdateInProgress {
		s.mu.Unlock()
		return apierror.New(apierror.CodeValidationError, "update already in progress")
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()
	s.runUpdate(ord.SourceManual)
	return nil
}

// NotifyUpdateStarted, NotifyUpdateCompleted and NotifyUpdateFailed let an
// external driver (e.g. the initial sync at startup) take ownership of an
// update's lifecycle; the scheduler reflects the resulting state without
// itself starting a fetch.
func (s *Scheduler) NotifyUpdateStarted(source ord.TriggerSource) { s.state.StartUpdate(source) }
func (s *Scheduler) NotifyUpdateCompleted()                       { s.state.CompleteUpdate() }
func (s *Scheduler) NotifyUpdateFailed(cause error, failedCommitHash string) {
	s.state.FailUpdate(cause, failedCommitHash)
}

// runUpdate is the timer-fired entry point into performUpdate.
func (s *Scheduler) runUpdate(source ord.TriggerSource) {
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.runCancel = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.runCancel = nil
		s.mu.Unlock()
		cancel()
	}()
	s.performUpdate(ctx, source)
}

// performUpdate runs the strictly-ordered fetch -> validate -> swap cycle.
// Only the scheduler calls this; a concurrent call while one is already
// in progress is a caller bug, not a race the scheduler defends against.
func (s *Scheduler) performUpdate(ctx context.Context, source ord.TriggerSource) {
	if s.state.GetState().UpdateInProgress {
		return
	}
	s.state.StartUpdate(source)
	start := time.Now()

	stagingDir, err := s.store.PrepareStaging()
	if err != nil {
		s.failUpdate(ctx, source, start, err)
		return
	}

	meta, err := s.ftr.FetchAll(ctx, stagingDir, func(p fetcher.Progress) {
		total := p.TotalFiles
		if total <= 0 {
			total = 1
		}
		pct := p.FetchedFiles * 100 / total
		s.state.SetProgress(pct, string(p.Phase))
	})
	if err != nil {
		s.failUpdate(ctx, source, start, err)
		return
	}

	if err := s.store.Validate(stagingDir); err != nil {
		s.failUpdate(ctx, source, start, err)
		return
	}

	if err := s.store.Swap(stagingDir, meta.CommitHash); err != nil {
		s.failUpdate(ctx, source, start, err)
		return
	}

	if err := s.store.SaveMetadata(meta); err != nil {
		s.log.Error(err, "saving metadata failed after swap; snapshot is active but metadata is stale")
	}

	s.invalidateAndWarm(ctx)

	s.state.CompleteUpdate()
	s.recordSuccess(source, start)
}

// failUpdate classifies the error, best-effort captures the remote commit
// sha for diagnostics, cleans up staging, and marks the update failed.
func (s *Scheduler) failUpdate(ctx context.Context, source ord.TriggerSource, start time.Time, cause error) {
	apiErr, ok := apierror.As(cause)
	if !ok {
		apiErr = apierror.Internal(cause)
	}

	failedSha := ""
	if sha, shaErr := s.ftr.GetLatestCommitSha(ctx); shaErr == nil {
		failedSha = sha
	}

	if cleanupErr := s.store.CleanupStaging(); cleanupErr != nil {
		s.log.Error(cleanupErr, "cleaning up staging after failed update")
	}

	s.state.FailUpdate(apiErr, failedSha)
	if s.metrics != nil {
		s.metrics.UpdateDuration.WithLabelValues(string(source)).Observe(time.Since(start).Seconds())
		s.metrics.UpdatesFailed.WithLabelValues(string(source), string(apiErr.Code)).Inc()
	}
}

func (s *Scheduler) recordSuccess(source ord.TriggerSource, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.UpdateDuration.WithLabelValues(string(source)).Observe(time.Since(start).Seconds())
	s.metrics.UpdatesTotal.WithLabelValues(string(source)).Inc()
	s.metrics.LastUpdateTime.SetToCurrentTime()
}

// invalidateAndWarm drops the stale cache generation and runs a
// best-effort warm of the new one, waiting for it (or for ctx) before
// returning; warm failures are logged and never fail the update.
func (s *Scheduler) invalidateAndWarm(ctx context.Context) {
	s.entries.Invalidate()

	hash, err := s.repo.DirectoryHash()
	if err != nil {
		s.log.Error(err, "computing directory hash for cache warm failed")
		return
	}
	paths, err := s.repo.ListDocuments()
	if err != nil {
		s.log.Error(err, "listing documents for cache warm failed")
		return
	}
	s.entries.SetDocumentPaths(hash, paths)

	rawDocs := make(map[string]*ord.Document, len(paths))
	for _, p := range paths {
		raw, err := s.repo.ReadRawDocument(p)
		if err != nil {
			s.log.Error(err, "reading raw document for fqn map / config build failed", "path", p)
			continue
		}
		doc, err := ord.ParseDocument(raw)
		if err != nil {
			s.log.Error(err, "parsing raw document for fqn map / config build failed", "path", p)
			continue
		}
		rawDocs[p] = doc
	}
	// Built from the pre-processing documents: resourceDefinitions[].url
	// there is still a snapshot-root-relative disk path, not yet rewritten
	// to the served /ord/v1/... form that Process produces.
	s.entries.SetFqnMap(hash, docprocessor.BuildFqnMap(rawDocs))
	s.entries.SetConfig(hash, docprocessor.BuildConfig(rawDocs, paths, s.procCtx.AuthMethods, s.procCtx.DocumentsSubdirectory, ""))

	done := s.entries.Warm(ctx, hash, paths, func(path string) (*ord.Document, error) {
		raw, err := s.repo.ReadRawDocument(path)
		if err != nil {
			return nil, err
		}
		processed, err := docprocessor.Process(raw, s.procCtx)
		if err != nil {
			return nil, fmt.Errorf("processing %s: %w", path, err)
		}
		doc, err := ord.ParseDocument(processed)
		if err != nil {
			return nil, fmt.Errorf("parsing processed %s: %w", path, err)
		}
		return doc, nil
	})
	s.entries.WaitForCompletion(ctx, done)
}
