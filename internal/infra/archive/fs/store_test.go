package fs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"objectcore/internal/archive/archivetest"
	"objectcore/internal/archive/core"
)

func TestFilesystemArchiveConformance(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	archivetest.Run(t, s)
}

func TestFilesystemArchiveLayout(t *testing.T) {
	root := t.TempDir()
	s, err := New(root)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	if _, err := s.Put(ctx, "daily/one", strings.NewReader("[]"), core.PutOptions{ObjectCount: 0}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "daily", "one")); err != nil {
		t.Fatalf("expected document file: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "daily", "one.meta")); err != nil {
		t.Fatalf("expected sidecar file: %v", err)
	}
	if _, err := s.Put(ctx, "daily/two.meta", strings.NewReader("[]"), core.PutOptions{}); !errors.Is(err, core.ErrInvalidName) {
		t.Fatalf("expected reserved suffix rejection, got %v", err)
	}
}

func TestFilesystemArchiveCorruptSidecar(t *testing.T) {
	root := t.TempDir()
	s, err := New(root)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	if _, err := s.Put(ctx, "broken", strings.NewReader("[]"), core.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "broken.meta"), []byte("not-json"), 0o644); err != nil {
		t.Fatalf("corrupt sidecar: %v", err)
	}
	if _, err := s.Head(ctx, "broken"); err == nil || !strings.Contains(err.Error(), "decode sidecar") {
		t.Fatalf("expected sidecar decode error, got %v", err)
	}
	if _, err := s.List(ctx, ""); err == nil {
		t.Fatalf("expected list to surface sidecar error")
	}
}

func TestFilesystemArchiveDefaultRoot(t *testing.T) {
	dir := t.TempDir()
	wd, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	s, err := New("")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if s.Root() != DefaultRoot {
		t.Fatalf("expected default root, got %s", s.Root())
	}
	if _, err := os.Stat(filepath.Join(dir, "snapshots")); err != nil {
		t.Fatalf("expected default root created: %v", err)
	}
}
