package local

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Ning0612/Cargoback/internal/domain"
)

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	a, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return a
}

// TestNewRejectsMissingRoot tests root validation
func TestNewRejectsMissingRoot(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing"))
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	file := filepath.Join(t.TempDir(), "file")
	os.WriteFile(file, []byte("x"), 0644)
	_, err = New(file)
	if !errors.Is(err, domain.ErrNotDirectory) {
		t.Errorf("expected ErrNotDirectory, got %v", err)
	}
}

// TestResolvePathEscapes tests that paths cannot leave the root
func TestResolvePathEscapes(t *testing.T) {
	a := newTestAdapter(t)
	tests := []struct {
		path    string
		wantErr bool
	}{
		{"", false},
		{"a/b", false},
		{"..data", false},
		{"../escape", true},
		{"a/../../escape", true},
		{"/etc/passwd", true},
	}
	for _, tt := range tests {
		_, err := a.resolvePath(tt.path)
		if (err != nil) != tt.wantErr {
			t.Errorf("resolvePath(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
		}
	}
}

// TestWriteReadList tests the basic file lifecycle
func TestWriteReadList(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	if err := a.Write(ctx, "sub/file.txt", strings.NewReader("content")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	rc, err := a.Read(ctx, "sub/file.txt")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "content" {
		t.Errorf("Read = %q, want %q", data, "content")
	}

	entries, err := a.List(ctx, "sub")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "file.txt" || entries[0].Path != "sub/file.txt" || entries[0].Size != 7 {
		t.Errorf("unexpected entries: %+v", entries)
	}

	if _, err := a.Read(ctx, "sub"); !errors.Is(err, domain.ErrNotFile) {
		t.Errorf("Read of a directory: expected ErrNotFile, got %v", err)
	}
	if _, err := a.Read(ctx, "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Read of missing file: expected ErrNotFound, got %v", err)
	}
}

// TestWriteNeverOverwrites tests that existing files are kept
func TestWriteNeverOverwrites(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	a.Write(ctx, "f", strings.NewReader("first"))
	err := a.Write(ctx, "f", strings.NewReader("second"))
	if !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	data, _ := os.ReadFile(filepath.Join(a.Root(), "f"))
	if string(data) != "first" {
		t.Errorf("file was overwritten: %q", data)
	}
	if _, err := os.Stat(filepath.Join(a.Root(), "f"+tempSuffix)); !os.IsNotExist(err) {
		t.Errorf("temp file left behind")
	}
}

// TestListSkipsTempFiles tests that interrupted writes are invisible
func TestListSkipsTempFiles(t *testing.T) {
	a := newTestAdapter(t)
	os.WriteFile(filepath.Join(a.Root(), "x"+tempSuffix), []byte("partial"), 0644)

	entries, err := a.List(context.Background(), "")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no entries, got %+v", entries)
	}
}

// TestRenameAndDelete tests moving and removing files
func TestRenameAndDelete(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	a.Write(ctx, "m", strings.NewReader("manifest"))
	if err := a.Rename(ctx, "m", ".history/m"); err != nil {
		t.Fatalf("Rename failed: %v", err)
	}
	if _, err := a.Stat(ctx, "m"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("source still exists after Rename: %v", err)
	}
	if _, err := a.Stat(ctx, ".history/m"); err != nil {
		t.Errorf("target missing after Rename: %v", err)
	}
	if err := a.Rename(ctx, "m", "n"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Rename of missing file: expected ErrNotFound, got %v", err)
	}

	if err := a.Delete(ctx, ".history/m"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := a.Delete(ctx, ".history/m"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("second Delete: expected ErrNotFound, got %v", err)
	}
	if err := a.Delete(ctx, ""); !errors.Is(err, domain.ErrPermissionDenied) {
		t.Errorf("Delete of root: expected ErrPermissionDenied, got %v", err)
	}
}

// TestStatAndMkdir tests directory helpers
func TestStatAndMkdir(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	if err := a.Mkdir(ctx, "a/b/c"); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}
	if err := a.Mkdir(ctx, "a/b/c"); err != nil {
		t.Errorf("Mkdir on existing directory failed: %v", err)
	}
	entry, err := a.Stat(ctx, "a/b")
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if !entry.IsDir || entry.Name != "b" {
		t.Errorf("unexpected entry: %+v", entry)
	}
	if _, err := a.Stat(ctx, "zzz"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
