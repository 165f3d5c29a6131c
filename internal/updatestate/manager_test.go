package updatestate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-logr/logr"

	"github.com/open-resource-discovery/provider-server/pkg/ord"
)

func TestManager_StartCompleteUpdate(t *testing.T) {
	m := New(logr.Discard())

	m.StartUpdate(ord.SourceWebhook)
	state := m.GetState()
	if !state.UpdateInProgress || state.Status != ord.StatusInProgress || state.Source != ord.SourceWebhook {
		t.Fatalf("unexpected state after StartUpdate: %+v", state)
	}

	m.SetProgress(50, "fetching")
	state = m.GetState()
	if state.Progress != 50 || state.Phase != "fetching" {
		t.Fatalf("unexpected state after SetProgress: %+v", state)
	}

	m.CompleteUpdate()
	state = m.GetState()
	if state.UpdateInProgress || state.Status != ord.StatusIdle {
		t.Fatalf("expected idle non-in-progress state after CompleteUpdate, got %+v", state)
	}
	if state.LastUpdateTime.IsZero() {
		t.Fatal("expected LastUpdateTime to be set")
	}
}

func TestManager_FailUpdateIncrementsFailedCount(t *testing.T) {
	m := New(logr.Discard())
	m.StartUpdate(ord.SourceScheduled)
	m.FailUpdate(errors.New("boom"), "sha1")

	state := m.GetState()
	if state.Status != ord.StatusFailed || state.FailedUpdates != 1 || state.FailedCommitHash != "sha1" {
		t.Fatalf("unexpected state after FailUpdate: %+v", state)
	}
	if state.UpdateInProgress {
		t.Fatal("expected UpdateInProgress to clear on failure")
	}
}

func TestManager_WaitForReadyReturnsImmediatelyWhenIdle(t *testing.T) {
	m := New(logr.Discard())
	if err := m.WaitForReady(context.Background(), time.Second); err != nil {
		t.Fatalf("expected no error when idle, got %v", err)
	}
}

func TestManager_WaitForReadyUnblocksOnCompletion(t *testing.T) {
	m := New(logr.Discard())
	m.StartUpdate(ord.SourceManual)

	done := make(chan error, 1)
	go func() {
		done <- m.WaitForReady(context.Background(), 2*time.Second)
	}()

	time.Sleep(20 * time.Millisecond)
	m.CompleteUpdate()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected WaitForReady to succeed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForReady did not unblock after CompleteUpdate")
	}
}

func TestManager_WaitForReadyTimesOut(t *testing.T) {
	m := New(logr.Discard())
	m.StartUpdate(ord.SourceManual)

	err := m.WaitForReady(context.Background(), 20*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestManager_WaitForReadyRespectsContextCancellation(t *testing.T) {
	m := New(logr.Discard())
	m.StartUpdate(ord.SourceManual)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := m.WaitForReady(ctx, time.Second); err == nil {
		t.Fatal("expected error on cancelled context")
	}
}

func TestManager_Reset(t *testing.T) {
	m := New(logr.Discard())
	m.StartUpdate(ord.SourceManual)
	m.Reset()

	state := m.GetState()
	if state.Status != ord.StatusIdle || state.UpdateInProgress {
		t.Fatalf("expected idle state after Reset, got %+v", state)
	}
}
