package domain

import (
	"io/fs"
	"time"

	"github.com/google/uuid"
)

// FileType represents the type of a filesystem entry
type FileType string

const (
	FileTypeRegular   FileType = "REGULAR_FILE"
	FileTypeDirectory FileType = "DIRECTORY"
	FileTypeSymlink   FileType = "SYMBOLIC_LINK"
)

// IsValid checks if the file type is a known value
func (t FileType) IsValid() bool {
	switch t {
	case FileTypeRegular, FileTypeDirectory, FileTypeSymlink:
		return true
	}
	return false
}

// IsContentSource reports whether entries of this type carry a content section
func (t FileType) IsContentSource() bool {
	return t == FileTypeRegular || t == FileTypeSymlink
}

// Change is the classification of a file compared to the previous increment
type Change string

const (
	ChangeNew             Change = "NEW"
	ChangeNoChange        Change = "NO_CHANGE"
	ChangeMetadataChanged Change = "METADATA_CHANGED"
	ChangeContentChanged  Change = "CONTENT_CHANGED"
	ChangeRolledBack      Change = "ROLLED_BACK"
	ChangeDeleted         Change = "DELETED"
)

type changeFlags struct {
	storeContent    bool
	restoreMetadata bool
	restoreContent  bool
}

var changeTable = map[Change]changeFlags{
	ChangeNew:             {storeContent: true, restoreMetadata: true, restoreContent: true},
	ChangeNoChange:        {},
	ChangeMetadataChanged: {restoreMetadata: true},
	ChangeContentChanged:  {storeContent: true, restoreMetadata: true, restoreContent: true},
	ChangeRolledBack:      {restoreMetadata: true, restoreContent: true},
	ChangeDeleted:         {},
}

// IsValid checks if the change is a known value
func (c Change) IsValid() bool {
	_, ok := changeTable[c]
	return ok
}

// StoreContent reports whether the content must be written to the current archive
func (c Change) StoreContent() bool { return changeTable[c].storeContent }

// RestoreMetadata reports whether a restore has to reapply the metadata
func (c Change) RestoreMetadata() bool { return changeTable[c].restoreMetadata }

// RestoreContent reports whether a restore has to rewrite the content
func (c Change) RestoreContent() bool { return changeTable[c].restoreContent }

// ArchiveLocation points at the archive entity that holds a file's content
type ArchiveLocation struct {
	// Version is the increment version whose archive contains the entity
	Version int `cbor:"version"`

	// Entity is the entity path inside that archive's index
	Entity string `cbor:"entity"`
}

// FileMetadata is the per-file record of one increment.
// A fresh record is created for every run, even for unchanged files.
type FileMetadata struct {
	ID           string           `cbor:"id"`
	AbsolutePath string           `cbor:"path"`
	Owner        string           `cbor:"owner"`
	Group        string           `cbor:"group"`
	Permissions  string           `cbor:"permissions"`
	Size         int64            `cbor:"size"`
	LastModified time.Time        `cbor:"mtime"`
	LastAccessed time.Time        `cbor:"atime"`
	CreatedAt    time.Time        `cbor:"ctime"`
	FileType     FileType         `cbor:"type"`
	Hash         string           `cbor:"hash,omitempty"`
	Status       Change           `cbor:"status"`
	Location     *ArchiveLocation `cbor:"location,omitempty"`
	Error        string           `cbor:"error,omitempty"`
}

// NewFileID returns a random identifier for a FileMetadata record
func NewFileID() string {
	return uuid.NewString()
}

// IsDir returns true if this is a directory
func (f FileMetadata) IsDir() bool {
	return f.FileType == FileTypeDirectory
}

// IsFile returns true if this is a regular file
func (f FileMetadata) IsFile() bool {
	return f.FileType == FileTypeRegular
}

// SameMetadata reports whether the restorable attributes of two records match
func (f FileMetadata) SameMetadata(other FileMetadata) bool {
	return f.FileType == other.FileType &&
		f.Permissions == other.Permissions &&
		f.Owner == other.Owner &&
		f.Group == other.Group &&
		f.LastModified.Equal(other.LastModified)
}

// FileMode parses the permission string back into a mode. Unknown characters
// leave the corresponding bit unset.
func (f FileMetadata) FileMode() fs.FileMode {
	return ParsePermissions(f.Permissions)
}

// FormatPermissions renders the permission bits as rwxrwxrwx
func FormatPermissions(mode fs.FileMode) string {
	const rwx = "rwxrwxrwx"
	buf := []byte("---------")
	perm := mode.Perm()
	for i := 0; i < 9; i++ {
		if perm&(1<<uint(8-i)) != 0 {
			buf[i] = rwx[i]
		}
	}
	return string(buf)
}

// ParsePermissions is the inverse of FormatPermissions
func ParsePermissions(s string) fs.FileMode {
	const rwx = "rwxrwxrwx"
	var mode fs.FileMode
	if len(s) != 9 {
		return 0
	}
	for i := 0; i < 9; i++ {
		if s[i] == rwx[i] {
			mode |= 1 << uint(8-i)
		}
	}
	return mode
}
