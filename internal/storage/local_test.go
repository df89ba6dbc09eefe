package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLocalStorage_SaveOpenDelete(t *testing.T) {
	s := NewLocalStorage(t.TempDir())
	ctx := context.Background()

	path, err := s.Save(ctx, "t1", "f1", "report.csv", strings.NewReader("a,b,c"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if !strings.Contains(path, filepath.Join("t1", "f1")) {
		t.Fatalf("files must be partitioned per tenant and file id: %s", path)
	}

	r, err := s.Open(ctx, path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	data, _ := io.ReadAll(r)
	r.Close()
	if string(data) != "a,b,c" {
		t.Fatalf("content mismatch: %q", data)
	}

	if err := s.Delete(ctx, path); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("file should be gone after delete")
	}
	// Deleting again is a no-op.
	if err := s.Delete(ctx, path); err != nil {
		t.Fatalf("second delete should not error: %v", err)
	}
}

func TestLocalStorage_FilenameSanitized(t *testing.T) {
	base := t.TempDir()
	s := NewLocalStorage(base)

	// Path traversal in the client-supplied filename must not escape the
	// tenant directory.
	path, err := s.Save(context.Background(), "t1", "f1", "../../etc/passwd", strings.NewReader("x"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	rel, err := filepath.Rel(base, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		t.Fatalf("stored path escaped the base dir: %s", path)
	}
	if filepath.Base(path) != "passwd" {
		t.Fatalf("expected base name only, got %s", path)
	}
}
