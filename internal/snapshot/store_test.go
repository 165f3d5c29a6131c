package snapshot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"

	"github.com/open-resource-discovery/provider-server/pkg/ord"
)

func writeValidDocument(t *testing.T, dir string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	doc := `{"openResourceDiscovery":"1.9","apiResources":[]}`
	if err := os.WriteFile(filepath.Join(dir, "doc.json"), []byte(doc), 0o644); err != nil {
		t.Fatalf("write doc: %v", err)
	}
}

func TestStore_PrepareStagingValidateSwap(t *testing.T) {
	dataDir := t.TempDir()
	s, err := New(dataDir, "documents", logr.Discard())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	staging, err := s.PrepareStaging()
	if err != nil {
		t.Fatalf("PrepareStaging: %v", err)
	}
	writeValidDocument(t, filepath.Join(staging, "documents"))

	if err := s.Validate(staging); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if err := s.Swap(staging, "abc123"); err != nil {
		t.Fatalf("Swap: %v", err)
	}

	current, err := s.GetCurrentPath()
	if err != nil {
		t.Fatalf("GetCurrentPath: %v", err)
	}
	if _, err := os.Stat(filepath.Join(current, "documents", "doc.json")); err != nil {
		t.Fatalf("expected swapped document to exist: %v", err)
	}
}

func TestStore_ValidateRejectsEmptyDocumentsDir(t *testing.T) {
	dataDir := t.TempDir()
	s, err := New(dataDir, "documents", logr.Discard())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	staging, _ := s.PrepareStaging()
	if err := os.MkdirAll(filepath.Join(staging, "documents"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	if err := s.Validate(staging); err == nil {
		t.Fatal("expected validation error for empty documents dir")
	}
}

func TestStore_ValidateRejectsNoParsableDocument(t *testing.T) {
	dataDir := t.TempDir()
	s, err := New(dataDir, "documents", logr.Discard())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	staging, _ := s.PrepareStaging()
	docsDir := filepath.Join(staging, "documents")
	if err := os.MkdirAll(docsDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(docsDir, "junk.json"), []byte(`{"foo":"bar"}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := s.Validate(staging); err == nil {
		t.Fatal("expected validation error when no document declares openResourceDiscovery")
	}
}

func TestStore_SaveAndGetMetadata(t *testing.T) {
	dataDir := t.TempDir()
	s, err := New(dataDir, "documents", logr.Discard())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if m, err := s.GetMetadata(); err != nil || m != nil {
		t.Fatalf("expected nil metadata before first save, got %+v, err %v", m, err)
	}

	meta := ord.Metadata{CommitHash: "deadbeef", Branch: "main", Repository: "org/repo", TotalFiles: 3}
	if err := s.SaveMetadata(meta); err != nil {
		t.Fatalf("SaveMetadata: %v", err)
	}

	got, err := s.GetMetadata()
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	if got == nil || got.CommitHash != meta.CommitHash {
		t.Fatalf("expected commit hash %q, got %+v", meta.CommitHash, got)
	}

	if version, ok := s.GetCurrentVersion(); !ok || version != meta.CommitHash {
		t.Fatalf("expected current version %q, got %q (ok=%v)", meta.CommitHash, version, ok)
	}
}

func TestStore_CleanupStagingOnNewAfterUncleanShutdown(t *testing.T) {
	dataDir := t.TempDir()
	staleStaging := filepath.Join(dataDir, stagingDirName)
	if err := os.MkdirAll(staleStaging, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(staleStaging, "leftover.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := New(dataDir, "documents", logr.Discard()); err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := os.Stat(staleStaging); !os.IsNotExist(err) {
		t.Fatalf("expected stale staging dir to be removed, stat err = %v", err)
	}
}

func TestStore_GetCurrentPathErrorsWithoutSwap(t *testing.T) {
	dataDir := t.TempDir()
	s, err := New(dataDir, "documents", logr.Discard())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := s.GetCurrentPath(); err == nil {
		t.Fatal("expected error before any swap has happened")
	}
}
