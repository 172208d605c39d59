package local

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Ning0612/Cargoback/internal/adapter"
	"github.com/Ning0612/Cargoback/internal/domain"
)

const tempSuffix = ".cargoback.tmp"

// Adapter implements the adapter.Adapter interface for local filesystem
type Adapter struct {
	root string
}

var _ adapter.Adapter = (*Adapter)(nil)

// New creates a new local filesystem adapter
// root must point at an existing directory
func New(root string) (*Adapter, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(absRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, domain.ErrNotDirectory
	}

	return &Adapter{root: absRoot}, nil
}

// resolvePath safely resolves a relative path to absolute path within root
// Returns error if path attempts to escape root directory
func (a *Adapter) resolvePath(relPath string) (string, error) {
	if relPath == "" || relPath == "." {
		return a.root, nil
	}

	relPath = filepath.Clean(filepath.FromSlash(relPath))

	if filepath.IsAbs(relPath) {
		return "", domain.ErrPermissionDenied
	}

	fullPath := filepath.Join(a.root, relPath)

	// filepath.Rel handles roots that share a prefix, like /data and /data2
	rel, err := filepath.Rel(a.root, fullPath)
	if err != nil {
		return "", domain.ErrPermissionDenied
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", domain.ErrPermissionDenied
	}

	return fullPath, nil
}

// List returns the entries directly under the given path. Leftover temp
// files of interrupted writes are skipped.
func (a *Adapter) List(ctx context.Context, path string) ([]adapter.Entry, error) {
	fullPath, err := a.resolvePath(path)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(fullPath)
	if err != nil {
		return nil, a.mapError(err)
	}

	result := make([]adapter.Entry, 0, len(entries))
	for _, entry := range entries {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if strings.HasSuffix(entry.Name(), tempSuffix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue // Skip entries removed while listing
		}
		result = append(result, a.entryFromOS(filepath.Join(path, entry.Name()), info))
	}

	return result, nil
}

// Read opens a file for reading
func (a *Adapter) Read(ctx context.Context, path string) (io.ReadCloser, error) {
	fullPath, err := a.resolvePath(path)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(fullPath)
	if err != nil {
		return nil, a.mapError(err)
	}
	if info.IsDir() {
		return nil, domain.ErrNotFile
	}

	file, err := os.Open(fullPath)
	if err != nil {
		return nil, a.mapError(err)
	}

	return file, nil
}

// Write atomically creates a file. An existing file is never replaced.
func (a *Adapter) Write(ctx context.Context, path string, r io.Reader) error {
	fullPath, err := a.resolvePath(path)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return a.mapError(err)
	}
	if _, err := os.Lstat(fullPath); err == nil {
		return domain.ErrAlreadyExists
	}

	// Write to temp file first for atomic operation
	tempPath := fullPath + tempSuffix
	file, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return a.mapError(err)
	}

	_, copyErr := io.Copy(file, r)
	var syncErr error
	if copyErr == nil {
		syncErr = file.Sync()
	}
	closeErr := file.Close()

	if err := errors.Join(copyErr, syncErr, closeErr); err != nil {
		os.Remove(tempPath)
		return err
	}

	// Link fails on an existing target, unlike Rename
	if err := os.Link(tempPath, fullPath); err != nil {
		os.Remove(tempPath)
		return a.mapError(err)
	}
	return os.Remove(tempPath)
}

// Rename moves a file within the adapter root
func (a *Adapter) Rename(ctx context.Context, from, to string) error {
	fromPath, err := a.resolvePath(from)
	if err != nil {
		return err
	}
	toPath, err := a.resolvePath(to)
	if err != nil {
		return err
	}
	if _, err := os.Lstat(fromPath); err != nil {
		return a.mapError(err)
	}
	if err := os.MkdirAll(filepath.Dir(toPath), 0755); err != nil {
		return a.mapError(err)
	}
	return a.mapError(os.Rename(fromPath, toPath))
}

// Delete removes a file or empty directory
func (a *Adapter) Delete(ctx context.Context, path string) error {
	fullPath, err := a.resolvePath(path)
	if err != nil {
		return err
	}
	if fullPath == a.root {
		return domain.ErrPermissionDenied
	}

	return a.mapError(os.Remove(fullPath))
}

// Stat returns metadata for a single path
func (a *Adapter) Stat(ctx context.Context, path string) (adapter.Entry, error) {
	fullPath, err := a.resolvePath(path)
	if err != nil {
		return adapter.Entry{}, err
	}

	info, err := os.Stat(fullPath)
	if err != nil {
		return adapter.Entry{}, a.mapError(err)
	}

	return a.entryFromOS(path, info), nil
}

// Mkdir creates a directory and any necessary parents
func (a *Adapter) Mkdir(ctx context.Context, path string) error {
	fullPath, err := a.resolvePath(path)
	if err != nil {
		return err
	}

	return a.mapError(os.MkdirAll(fullPath, 0755))
}

// Close releases any resources (no-op for local adapter)
func (a *Adapter) Close() error {
	return nil
}

// Root returns the root path of this adapter
func (a *Adapter) Root() string {
	return a.root
}

func (a *Adapter) entryFromOS(path string, info os.FileInfo) adapter.Entry {
	return adapter.Entry{
		Path:    filepath.ToSlash(path),
		Name:    info.Name(),
		IsDir:   info.IsDir(),
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}
}

// mapError converts OS errors to domain errors
func (a *Adapter) mapError(err error) error {
	if err == nil {
		return nil
	}

	if os.IsNotExist(err) {
		return domain.ErrNotFound
	}
	if os.IsPermission(err) {
		return domain.ErrPermissionDenied
	}
	if os.IsExist(err) {
		return domain.ErrAlreadyExists
	}

	// Check for directory not empty (platform specific)
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		if strings.Contains(pathErr.Err.Error(), "not empty") {
			return domain.ErrNotDirectory
		}
	}

	return err
}
