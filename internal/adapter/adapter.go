package adapter

import (
	"context"
	"io"
	"time"
)

// Entry describes one item in a backup destination
type Entry struct {
	// Path is relative to the adapter root, with forward slashes
	Path    string
	Name    string
	IsDir   bool
	Size    int64
	ModTime time.Time
}

// Adapter defines the interface for backup destinations.
// All implementations must handle path normalization internally
// and return domain-level errors for consistent error handling.
type Adapter interface {
	// List returns the entries directly under the given path
	// Path should be relative to the adapter's root
	// Returns domain.ErrNotFound if path doesn't exist
	// Returns domain.ErrNotDirectory if path is a file
	List(ctx context.Context, path string) ([]Entry, error)

	// Read opens a file for reading
	// Caller is responsible for closing the reader
	// Returns domain.ErrNotFound if file doesn't exist
	// Returns domain.ErrNotFile if path is a directory
	Read(ctx context.Context, path string) (io.ReadCloser, error)

	// Write atomically creates a file
	// Parent directories are created automatically
	// Returns domain.ErrAlreadyExists if the file exists
	Write(ctx context.Context, path string, r io.Reader) error

	// Rename moves a file, creating the target's parent directories
	// Returns domain.ErrNotFound if the source doesn't exist
	Rename(ctx context.Context, from, to string) error

	// Delete removes a file or empty directory
	// Returns domain.ErrNotFound if path doesn't exist
	Delete(ctx context.Context, path string) error

	// Stat returns metadata for a single path
	// Returns domain.ErrNotFound if path doesn't exist
	Stat(ctx context.Context, path string) (Entry, error)

	// Mkdir creates a directory and any necessary parents
	// No error if directory already exists
	Mkdir(ctx context.Context, path string) error

	// Root returns the local directory backing the adapter
	Root() string

	// Close releases any resources held by the adapter
	Close() error
}
