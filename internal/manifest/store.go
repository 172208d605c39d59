package manifest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"slices"

	"github.com/Ning0612/Cargoback/internal/adapter"
	"github.com/Ning0612/Cargoback/internal/crypt"
	"github.com/Ning0612/Cargoback/internal/domain"
	"github.com/Ning0612/Cargoback/internal/logger"
)

// HistoryDir receives the manifests of deleted increments
const HistoryDir = ".history"

// Store persists manifests in a backup destination
type Store struct {
	dest      adapter.Adapter
	unwrapper crypt.KeyUnwrapper
}

// NewStore creates a store. The unwrapper may be nil when no manifest is sealed.
func NewStore(dest adapter.Adapter, unwrapper crypt.KeyUnwrapper) *Store {
	return &Store{dest: dest, unwrapper: unwrapper}
}

// LoadAll reads every manifest of prefix. It fails with domain.ErrNoManifests
// when there is none.
func (s *Store) LoadAll(ctx context.Context, prefix string) (*History, error) {
	entries, err := s.dest.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("listing backup destination: %w", err)
	}

	var manifests []*domain.BackupIncrementManifest
	for _, entry := range entries {
		if entry.IsDir {
			continue
		}
		p, epoch, ok := domain.ParseManifestFileName(entry.Name)
		if !ok || p != prefix {
			continue
		}

		m, err := s.load(ctx, entry.Path)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", entry.Name, err)
		}
		if m.FileNamePrefix != prefix || m.StartTimeUtcEpochSeconds != epoch {
			return nil, fmt.Errorf("%w: %s describes increment %s", domain.ErrIntegrity, entry.Name, m.BaseName())
		}
		manifests = append(manifests, m)
	}

	if len(manifests) == 0 {
		return nil, fmt.Errorf("%w: prefix %q in %s", domain.ErrNoManifests, prefix, s.dest.Root())
	}

	logger.Get().Debug("Loaded manifests", "prefix", prefix, "count", len(manifests))
	return NewHistory(manifests...), nil
}

func (s *Store) load(ctx context.Context, name string) (*domain.BackupIncrementManifest, error) {
	rc, err := s.dest.Read(ctx, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	return Decode(data, s.unwrapper)
}

// Save validates and writes the manifest. It never replaces an existing file.
func (s *Store) Save(ctx context.Context, m *domain.BackupIncrementManifest, dek []byte) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrArchival, err)
	}
	data, err := Encode(m, dek)
	if err != nil {
		return err
	}
	if err := s.dest.Write(ctx, m.FileName(), bytes.NewReader(data)); err != nil {
		return fmt.Errorf("%w: saving manifest %s: %v", domain.ErrArchival, m.FileName(), err)
	}

	logger.Get().Info("Manifest saved", "file", m.FileName(), "files", len(m.Files), "versions", m.Versions)
	return nil
}

// Delete moves the manifest of an increment into the history directory and
// then removes its archive files. Archive files that are already gone are
// skipped. A failed move leaves the increment untouched.
func (s *Store) Delete(ctx context.Context, m *domain.BackupIncrementManifest) error {
	log := logger.Get().With("increment", m.BaseName())

	if err := s.dest.Mkdir(ctx, HistoryDir); err != nil {
		return fmt.Errorf("preparing %s: %w", HistoryDir, err)
	}
	if err := s.dest.Rename(ctx, m.FileName(), path.Join(HistoryDir, m.FileName())); err != nil {
		return fmt.Errorf("moving manifest %s to %s: %w", m.FileName(), HistoryDir, err)
	}

	var freed int64
	for _, name := range m.ArchiveFiles() {
		entry, err := s.dest.Stat(ctx, name)
		if errors.Is(err, domain.ErrNotFound) {
			log.Warn("Archive file already missing", "file", name)
			continue
		}
		if err != nil {
			return fmt.Errorf("deleting %s: %w", name, err)
		}
		if err := s.dest.Delete(ctx, name); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("deleting %s: %w", name, err)
		}
		freed += entry.Size
		log.Debug("Deleted archive file", "file", name)
	}

	log.Info("Increment deleted", "freed_bytes", freed)
	return nil
}

// DeleteFrom deletes the increment started at threshold and every following
// increment up to the next FULL backup. Nothing is deleted when threshold
// is not the start of an increment.
func (s *Store) DeleteFrom(ctx context.Context, h *History, threshold int64) ([]*domain.BackupIncrementManifest, error) {
	selected, err := h.SelectForDeletion(threshold)
	if err != nil {
		return nil, err
	}

	// Newest first, so a stop halfway leaves every remaining increment
	// with its whole chain
	deleted := make([]*domain.BackupIncrementManifest, 0, len(selected))
	for _, m := range slices.Backward(selected) {
		if err = ctx.Err(); err != nil {
			break
		}
		if err = s.Delete(ctx, m); err != nil {
			break
		}
		deleted = append(deleted, m)
	}
	slices.Reverse(deleted)
	return deleted, err
}
