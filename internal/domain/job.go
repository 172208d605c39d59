package domain

import (
	"fmt"
	"path/filepath"
	"slices"

	"github.com/Ning0612/Cargoback/internal/compress"
	"github.com/Ning0612/Cargoback/internal/core/checksum"
)

// BackupType distinguishes complete snapshots from deltas
type BackupType string

const (
	// BackupFull archives every file and starts a new independent chain
	BackupFull BackupType = "FULL"

	// BackupIncremental archives only what changed since the previous increment
	BackupIncremental BackupType = "INCREMENTAL"
)

// IsValid checks if the backup type is a known value
func (t BackupType) IsValid() bool {
	return t == BackupFull || t == BackupIncremental
}

// DuplicateStrategy decides how files with identical content are archived
type DuplicateStrategy string

const (
	// KeepEach archives every physical copy independently
	KeepEach DuplicateStrategy = "KEEP_EACH"

	// KeepOnePerBackup archives one copy per distinct content hash and increment
	KeepOnePerBackup DuplicateStrategy = "KEEP_ONE_PER_BACKUP"
)

// IsValid checks if the strategy is a known value
func (s DuplicateStrategy) IsValid() bool {
	return s == KeepEach || s == KeepOnePerBackup
}

// GroupingKey returns the key used to batch files for archival. Files sharing
// a key are archived once.
func (s DuplicateStrategy) GroupingKey(f FileMetadata) string {
	switch s {
	case KeepOnePerBackup:
		if f.Hash != "" {
			return "hash:" + f.Hash
		}
	}
	return "id:" + f.ID
}

// BackupSource is one root directory or file to back up
type BackupSource struct {
	Path            string   `mapstructure:"path" cbor:"path"`
	IncludePatterns []string `mapstructure:"include" cbor:"include"`
	ExcludePatterns []string `mapstructure:"exclude" cbor:"exclude"`
}

// NewBackupSource builds a source with normalized pattern sets
func NewBackupSource(path string, include, exclude []string) BackupSource {
	return BackupSource{
		Path:            filepath.Clean(path),
		IncludePatterns: normalizePatterns(include),
		ExcludePatterns: normalizePatterns(exclude),
	}
}

// Normalize returns a copy with cleaned path and non-nil, sorted, de-duplicated patterns
func (s BackupSource) Normalize() BackupSource {
	return NewBackupSource(s.Path, s.IncludePatterns, s.ExcludePatterns)
}

// Matches reports whether a path relative to the source root is in scope.
// An empty include set includes everything; excludes always win.
func (s BackupSource) Matches(relPath string) bool {
	if s.Excludes(relPath) {
		return false
	}
	if len(s.IncludePatterns) == 0 {
		return true
	}
	relPath = filepath.ToSlash(relPath)
	for _, pattern := range s.IncludePatterns {
		if matchPattern(pattern, relPath) {
			return true
		}
	}
	return false
}

// Excludes reports whether an exclude pattern matches the relative path
func (s BackupSource) Excludes(relPath string) bool {
	relPath = filepath.ToSlash(relPath)
	for _, pattern := range s.ExcludePatterns {
		if matchPattern(pattern, relPath) {
			return true
		}
	}
	return false
}

func matchPattern(pattern, relPath string) bool {
	if ok, _ := filepath.Match(pattern, relPath); ok {
		return true
	}
	ok, _ := filepath.Match(pattern, filepath.Base(relPath))
	return ok
}

func normalizePatterns(patterns []string) []string {
	result := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if p != "" {
			result = append(result, filepath.ToSlash(p))
		}
	}
	slices.Sort(result)
	return slices.Compact(result)
}

// BackupJobConfiguration describes one logical backup job
type BackupJobConfiguration struct {
	BackupType           BackupType         `mapstructure:"backup_type" cbor:"backup_type"`
	HashAlgorithm        checksum.Algorithm `mapstructure:"hash_algorithm" cbor:"hash_algorithm"`
	Compression          compress.Algorithm `mapstructure:"compression" cbor:"compression"`
	EncryptionKey        string             `mapstructure:"encryption_key" cbor:"encryption_key,omitempty"`
	DuplicateStrategy    DuplicateStrategy  `mapstructure:"duplicate_strategy" cbor:"duplicate_strategy"`
	ChunkSizeMebibyte    int                `mapstructure:"chunk_size_mebibyte" cbor:"chunk_size_mebibyte"`
	FileNamePrefix       string             `mapstructure:"file_name_prefix" cbor:"file_name_prefix"`
	DestinationDirectory string             `mapstructure:"destination_directory" cbor:"destination_directory"`
	Sources              []BackupSource     `mapstructure:"sources" cbor:"sources"`
}

// Encrypted reports whether archives of this job are encrypted
func (c BackupJobConfiguration) Encrypted() bool {
	return c.EncryptionKey != ""
}

// ChunkSizeBytes converts the configured chunk size; zero means unbounded
func (c BackupJobConfiguration) ChunkSizeBytes() int64 {
	return int64(c.ChunkSizeMebibyte) * 1024 * 1024
}

// Equal compares the fields that identify a job. Chunk size and sources may
// change between increments of the same job.
func (c BackupJobConfiguration) Equal(other BackupJobConfiguration) bool {
	return c.BackupType == other.BackupType &&
		c.HashAlgorithm == other.HashAlgorithm &&
		c.Compression == other.Compression &&
		c.EncryptionKey == other.EncryptionKey &&
		c.DuplicateStrategy == other.DuplicateStrategy &&
		c.FileNamePrefix == other.FileNamePrefix &&
		filepath.Clean(c.DestinationDirectory) == filepath.Clean(other.DestinationDirectory)
}

// ForcesFull reports whether a new run must be FULL given the job of the
// previous increment. Switching the requested backup type counts as a change.
func (c BackupJobConfiguration) ForcesFull(previous BackupJobConfiguration) bool {
	return !c.Equal(previous)
}

// Validate checks if the configuration is complete and consistent
func (c BackupJobConfiguration) Validate() error {
	if !c.BackupType.IsValid() {
		return fmt.Errorf("%w: invalid backup type: %q", ErrConfigInvalid, c.BackupType)
	}
	if !checksum.IsSupported(c.HashAlgorithm) {
		return fmt.Errorf("%w: unsupported hash algorithm: %q", ErrConfigInvalid, c.HashAlgorithm)
	}
	if !c.Compression.IsValid() {
		return fmt.Errorf("%w: unsupported compression: %q", ErrConfigInvalid, c.Compression)
	}
	if !c.DuplicateStrategy.IsValid() {
		return fmt.Errorf("%w: invalid duplicate strategy: %q", ErrConfigInvalid, c.DuplicateStrategy)
	}
	if c.ChunkSizeMebibyte < 0 {
		return fmt.Errorf("%w: chunk size cannot be negative", ErrConfigInvalid)
	}
	if c.FileNamePrefix == "" {
		return fmt.Errorf("%w: file name prefix cannot be empty", ErrConfigInvalid)
	}
	if !IsValidPrefix(c.FileNamePrefix) {
		return fmt.Errorf("%w: file name prefix %q may only contain letters, digits, '_' and '.'", ErrConfigInvalid, c.FileNamePrefix)
	}
	if c.DestinationDirectory == "" {
		return fmt.Errorf("%w: destination directory cannot be empty", ErrConfigInvalid)
	}
	if len(c.Sources) == 0 {
		return fmt.Errorf("%w: at least one source is required", ErrConfigInvalid)
	}
	seen := make(map[string]bool)
	for _, s := range c.Sources {
		if s.Path == "" {
			return fmt.Errorf("%w: source path cannot be empty", ErrConfigInvalid)
		}
		if !filepath.IsAbs(s.Path) {
			return fmt.Errorf("%w: source path must be absolute: %s", ErrConfigInvalid, s.Path)
		}
		clean := filepath.Clean(s.Path)
		if seen[clean] {
			return fmt.Errorf("%w: duplicate source: %s", ErrConfigInvalid, s.Path)
		}
		seen[clean] = true
		for _, p := range append(append([]string{}, s.IncludePatterns...), s.ExcludePatterns...) {
			if _, err := filepath.Match(p, ""); err != nil {
				return fmt.Errorf("%w: bad pattern %q in source %s", ErrConfigInvalid, p, s.Path)
			}
		}
	}
	return nil
}

// IsValidPrefix reports whether a file name prefix is safe to embed in archive names
func IsValidPrefix(prefix string) bool {
	if prefix == "" {
		return false
	}
	for _, r := range prefix {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '.':
		default:
			return false
		}
	}
	return true
}
