package domain

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// ManifestSuffix is the file name suffix of every manifest
const ManifestSuffix = ".manifest.cargo"

// BackupIncrementManifest records one backup run. It is built while the run
// progresses and never modified once saved.
type BackupIncrementManifest struct {
	BackupType               BackupType              `cbor:"backup_type"`
	Files                    map[string]FileMetadata `cbor:"files"`
	StartTimeUtcEpochSeconds int64                   `cbor:"start_time"`

	// Versions holds every increment version this run depends on, sorted.
	// The largest one is the version of this run.
	Versions []int `cbor:"versions"`

	FileNamePrefix string                 `cbor:"prefix"`
	Configuration  BackupJobConfiguration `cbor:"configuration"`
	AppVersion     string                 `cbor:"app_version"`

	IndexFileName string   `cbor:"index_file"`
	DataFileNames []string `cbor:"data_files"`

	// EncryptionKey is the wrapped data key of this run's archive
	EncryptionKey []byte `cbor:"encryption_key,omitempty"`

	// ArchivedEntities maps each entity written with content to the ids of
	// the files sharing that content
	ArchivedEntities map[string][]string `cbor:"archived_entities,omitempty"`
}

// NewManifest starts the manifest of a run
func NewManifest(config BackupJobConfiguration, start time.Time, appVersion string) *BackupIncrementManifest {
	return &BackupIncrementManifest{
		BackupType:               config.BackupType,
		Files:                    make(map[string]FileMetadata),
		StartTimeUtcEpochSeconds: start.UTC().Unix(),
		FileNamePrefix:           config.FileNamePrefix,
		Configuration:            config,
		AppVersion:               appVersion,
		ArchivedEntities:         make(map[string][]string),
	}
}

// Version returns the increment version of this run
func (m *BackupIncrementManifest) Version() int {
	if len(m.Versions) == 0 {
		return 0
	}
	return m.Versions[len(m.Versions)-1]
}

// StartTime returns the run start as UTC time
func (m *BackupIncrementManifest) StartTime() time.Time {
	return time.Unix(m.StartTimeUtcEpochSeconds, 0).UTC()
}

// BaseName is the shared stem of the run's archive and manifest files
func (m *BackupIncrementManifest) BaseName() string {
	return ArchiveBaseName(m.FileNamePrefix, m.StartTimeUtcEpochSeconds)
}

// FileName returns the manifest file name
func (m *BackupIncrementManifest) FileName() string {
	return m.BaseName() + ManifestSuffix
}

// ArchiveFiles returns every archive file written by this run
func (m *BackupIncrementManifest) ArchiveFiles() []string {
	files := append([]string{}, m.DataFileNames...)
	if m.IndexFileName != "" {
		files = append(files, m.IndexFileName)
	}
	return files
}

// SetVersions records the version set, sorted and de-duplicated
func (m *BackupIncrementManifest) SetVersions(versions []int) {
	v := append([]int{}, versions...)
	slices.Sort(v)
	m.Versions = slices.Compact(v)
}

// AddFile stores a file record under its id
func (m *BackupIncrementManifest) AddFile(f FileMetadata) {
	m.Files[f.ID] = f
}

// SortedFiles returns the file records ordered by absolute path
func (m *BackupIncrementManifest) SortedFiles() []FileMetadata {
	files := make([]FileMetadata, 0, len(m.Files))
	for _, f := range m.Files {
		files = append(files, f)
	}
	slices.SortFunc(files, func(a, b FileMetadata) int {
		if c := strings.Compare(a.AbsolutePath, b.AbsolutePath); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return files
}

// FilesByPath indexes the file records by absolute path
func (m *BackupIncrementManifest) FilesByPath() map[string]FileMetadata {
	result := make(map[string]FileMetadata, len(m.Files))
	for _, f := range m.Files {
		result[f.AbsolutePath] = f
	}
	return result
}

// TotalSize sums the size of every file that still exists
func (m *BackupIncrementManifest) TotalSize() int64 {
	var total int64
	for _, f := range m.Files {
		if f.Status != ChangeDeleted {
			total += f.Size
		}
	}
	return total
}

// Validate checks the manifest before it is persisted
func (m *BackupIncrementManifest) Validate() error {
	if !m.BackupType.IsValid() {
		return fmt.Errorf("%w: manifest has invalid backup type %q", ErrInvalidArgument, m.BackupType)
	}
	if !IsValidPrefix(m.FileNamePrefix) {
		return fmt.Errorf("%w: manifest has invalid prefix %q", ErrInvalidArgument, m.FileNamePrefix)
	}
	if len(m.Versions) == 0 {
		return fmt.Errorf("%w: manifest %s has no versions", ErrInvalidArgument, m.BaseName())
	}
	if m.BackupType == BackupFull && (len(m.Versions) != 1 || m.Versions[0] != 0) {
		return fmt.Errorf("%w: full manifest %s must only hold version 0", ErrInvalidArgument, m.BaseName())
	}
	for id, f := range m.Files {
		if id != f.ID {
			return fmt.Errorf("%w: file %s stored under id %s", ErrInvalidArgument, f.AbsolutePath, id)
		}
		if f.Location != nil && !slices.Contains(m.Versions, f.Location.Version) {
			return fmt.Errorf("%w: file %s points at version %d outside %v",
				ErrInvalidArgument, f.AbsolutePath, f.Location.Version, m.Versions)
		}
	}
	return nil
}

// ArchiveBaseName returns <prefix>-<epochSeconds>
func ArchiveBaseName(prefix string, epochSeconds int64) string {
	return fmt.Sprintf("%s-%d", prefix, epochSeconds)
}

// ParseManifestFileName extracts the prefix and start time from a manifest file name
func ParseManifestFileName(name string) (prefix string, epochSeconds int64, ok bool) {
	stem, found := strings.CutSuffix(name, ManifestSuffix)
	if !found {
		return "", 0, false
	}
	i := strings.LastIndexByte(stem, '-')
	if i <= 0 || i == len(stem)-1 {
		return "", 0, false
	}
	epochSeconds, err := strconv.ParseInt(stem[i+1:], 10, 64)
	if err != nil || epochSeconds < 0 {
		return "", 0, false
	}
	return stem[:i], epochSeconds, true
}
