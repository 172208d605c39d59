package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Ning0612/Cargoback/internal/archive"
	"github.com/Ning0612/Cargoback/internal/core/checksum"
	"github.com/Ning0612/Cargoback/internal/crypt"
	"github.com/Ning0612/Cargoback/internal/domain"
	"github.com/Ning0612/Cargoback/internal/logger"
	"github.com/Ning0612/Cargoback/internal/manifest"
	"github.com/Ning0612/Cargoback/internal/progress"
	"github.com/Ning0612/Cargoback/internal/scan"
	"github.com/Ning0612/Cargoback/internal/state"
)

// StepRestore is the progress step of a restore
const StepRestore = "restore"

// partSuffix marks files being restored
const partSuffix = ".cargoback.part"

// RestoreMode selects which records of the increment are applied
type RestoreMode int

const (
	// RestoreFull rebuilds every file that exists in the increment
	RestoreFull RestoreMode = iota

	// RestoreDelta applies only the changes recorded by the increment on top
	// of a tree holding the previous increment: changed content is rewritten,
	// changed metadata reapplied and deleted files removed
	RestoreDelta
)

// RestoreRequest selects an increment and a destination tree
type RestoreRequest struct {
	// At selects the newest increment started at or before this time.
	// The zero value selects the latest increment.
	At time.Time

	// Target receives the files: absolute source paths are re-rooted below
	// it. An empty target restores in place.
	Target string

	// Overwrite replaces existing files. RestoreDelta always overwrites.
	Overwrite bool

	Mode RestoreMode
}

// RestoreResult summarizes a restore
type RestoreResult struct {
	Manifest *domain.BackupIncrementManifest
	Restored int
	Removed  int
	Bytes    int64
	Failed   []scan.Failure
}

// Restore rebuilds the files of an increment. Failures of single files are
// reported in the result, even when every file fails. An error is returned
// only when no increment can be loaded and selected, the lock is held or
// ctx is done.
func (s *Session) Restore(ctx context.Context, req RestoreRequest) (*RestoreResult, error) {
	started := s.opts.now()

	var result *RestoreResult
	err := s.locked(state.OperationRestore, func() error {
		var err error
		result, err = s.restore(ctx, req)
		return err
	})

	run := state.RunRecord{
		Operation: state.OperationRestore,
		StartTime: started,
		EndTime:   s.opts.now(),
		Error:     errorText(err),
	}
	if result != nil {
		run.BackupType = string(result.Manifest.BackupType)
		run.FilesArchived = result.Restored
		run.BytesArchived = result.Bytes
		run.FailedFiles = len(result.Failed)
		run.Manifest = result.Manifest.FileName()
	}
	run.Status = runStatus(err, run.FailedFiles)
	s.record(run)

	if err != nil {
		s.log.Error("Restore failed", "error", err)
		return nil, err
	}
	return result, nil
}

func (s *Session) restore(ctx context.Context, req RestoreRequest) (*RestoreResult, error) {
	h, err := s.History(ctx)
	if err != nil {
		return nil, err
	}
	now := s.opts.now()
	at := req.At
	if at.IsZero() {
		at = now
	}
	m, err := h.LatestAtOrBefore(at, now)
	if err != nil {
		return nil, err
	}
	chain, err := h.Chain(m)
	if err != nil {
		return nil, err
	}

	r := &restorer{
		req:      req,
		identity: s.opts.Identity,
		dir:      s.dest.Root(),
		versions: manifest.ByVersion(chain),
		readers:  make(map[int]*archiveHandle),
		tracker:  s.tracker(progress.Step{Name: StepRestore, Weight: 1, FrequencyPercent: 5}),
		log:      s.log.With("increment", m.BaseName()),
		result:   &RestoreResult{Manifest: m},
	}
	if req.Mode == RestoreDelta {
		r.req.Overwrite = true
	}
	r.log.Info("Restore started", "target", req.Target, "mode", req.Mode, "files", len(m.Files))

	if err := r.run(ctx, s.opts.workers()); err != nil {
		return nil, err
	}
	r.log.Info("Restore finished", "restored", r.result.Restored, "removed", r.result.Removed,
		"bytes", progress.FormatBytes(r.result.Bytes), "failed", len(r.result.Failed))
	return r.result, nil
}

// archiveHandle is an archive reader opened on first use
type archiveHandle struct {
	once   sync.Once
	reader *archive.Reader
	err    error
}

type restorer struct {
	req      RestoreRequest
	identity crypt.KeyUnwrapper
	dir      string
	versions map[int]*domain.BackupIncrementManifest
	tracker  *progress.Tracker
	log      logger.Logger

	mu      sync.Mutex
	readers map[int]*archiveHandle
	result  *RestoreResult
}

func (r *restorer) run(ctx context.Context, workers int) error {
	m := r.result.Manifest

	var dirs, contents, metadataOnly, deleted []domain.FileMetadata
	for _, f := range m.SortedFiles() {
		switch {
		case f.Status == domain.ChangeDeleted:
			deleted = append(deleted, f)
		case r.req.Mode == RestoreDelta && !f.Status.RestoreMetadata() && !f.Status.RestoreContent():
		case f.IsDir():
			dirs = append(dirs, f)
		case r.req.Mode == RestoreDelta && !f.Status.RestoreContent():
			metadataOnly = append(metadataOnly, f)
		default:
			contents = append(contents, f)
		}
	}

	var total int64
	for _, f := range contents {
		total += f.Size
	}
	if err := r.tracker.EstimateSubtotal(StepRestore, total); err != nil {
		return err
	}

	if r.req.Mode == RestoreDelta {
		// Deepest paths first so directories are empty when removed
		for _, f := range slices.Backward(deleted) {
			r.remove(f)
		}
	}

	for _, f := range dirs {
		if err := os.MkdirAll(r.targetPath(f.AbsolutePath), 0755); err != nil {
			r.fail(f.AbsolutePath, err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, f := range contents {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := r.restoreContent(gctx, f); err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				r.fail(f.AbsolutePath, err)
				return nil
			}
			r.mu.Lock()
			r.result.Restored++
			r.mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, f := range metadataOnly {
		if err := r.applyMetadata(f); err != nil {
			r.fail(f.AbsolutePath, err)
		}
	}
	// Children touch their parent's mtime, so directories are stamped last,
	// deepest first
	for _, f := range slices.Backward(dirs) {
		if err := r.applyMetadata(f); err != nil {
			r.fail(f.AbsolutePath, err)
		}
	}
	return r.tracker.CompleteStep(StepRestore)
}

// targetPath maps a backed up absolute path below the restore target
func (r *restorer) targetPath(path string) string {
	if r.req.Target == "" {
		return path
	}
	rel := strings.TrimPrefix(path, filepath.VolumeName(path))
	return filepath.Join(r.req.Target, rel)
}

func (r *restorer) open(version int) (*archive.Reader, error) {
	r.mu.Lock()
	h, ok := r.readers[version]
	if !ok {
		h = &archiveHandle{}
		r.readers[version] = h
	}
	r.mu.Unlock()

	h.once.Do(func() {
		vm, ok := r.versions[version]
		if !ok {
			h.err = fmt.Errorf("%w: version %d is not part of the increment chain", domain.ErrIntegrity, version)
			return
		}
		opts := archive.ReaderOptions{
			Directory:     r.dir,
			BaseName:      vm.BaseName(),
			Compression:   vm.Configuration.Compression,
			HashAlgorithm: vm.Configuration.HashAlgorithm,
		}
		if len(vm.EncryptionKey) > 0 {
			if r.identity == nil {
				h.err = fmt.Errorf("%w: increment %s is encrypted and no identity was given", domain.ErrCrypto, vm.BaseName())
				return
			}
			if opts.DataKey, h.err = r.identity.UnwrapKey(vm.EncryptionKey); h.err != nil {
				return
			}
		}
		h.reader, h.err = archive.OpenReader(opts)
	})
	return h.reader, h.err
}

func (r *restorer) restoreContent(ctx context.Context, f domain.FileMetadata) error {
	if f.Location == nil {
		return fmt.Errorf("%w: %s has no archived content", domain.ErrIntegrity, f.AbsolutePath)
	}
	reader, err := r.open(f.Location.Version)
	if err != nil {
		return err
	}
	entity, ok := reader.Entity(f.Location.Entity)
	if !ok {
		return fmt.Errorf("%w: entity %s missing from version %d", domain.ErrIntegrity, f.Location.Entity, f.Location.Version)
	}
	if entity.FileType != f.FileType {
		return fmt.Errorf("%w: entity %s is a %s, expected %s", domain.ErrIntegrity, entity.Path, entity.FileType, f.FileType)
	}

	rc, err := reader.OpenContent(entity)
	if err != nil {
		return err
	}
	defer rc.Close()

	target := r.targetPath(f.AbsolutePath)
	if !r.req.Overwrite {
		if _, err := os.Lstat(target); err == nil {
			return fmt.Errorf("%w: %s", domain.ErrAlreadyExists, target)
		}
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}

	algo := r.versions[f.Location.Version].Configuration.HashAlgorithm
	in := progress.NewReader(&contextReader{ctx: ctx, r: rc}, r.tracker, StepRestore)

	if f.FileType == domain.FileTypeSymlink {
		err = restoreSymlink(in, target, algo, f.Hash)
	} else {
		err = restoreFile(in, target, algo, f.Hash)
	}
	if err != nil {
		return err
	}
	if err := r.applyMetadata(f); err != nil {
		return err
	}

	r.mu.Lock()
	r.result.Bytes += f.Size
	r.mu.Unlock()
	return nil
}

// restoreFile writes content next to target and renames it into place once
// its hash matches want. An empty want skips the check.
func restoreFile(in io.Reader, target string, algo checksum.Algorithm, want string) error {
	part := target + partSuffix
	out, err := os.OpenFile(part, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	hw, err := checksum.NewWriter(out, algo)
	if err != nil {
		out.Close()
		os.Remove(part)
		return err
	}
	if _, err := io.Copy(hw, in); err != nil {
		out.Close()
		os.Remove(part)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(part)
		return err
	}
	if err := verifyHash(target, hw.Sum(), want); err != nil {
		os.Remove(part)
		return err
	}
	if err := os.Rename(part, target); err != nil {
		os.Remove(part)
		return err
	}
	return nil
}

// restoreSymlink replaces target with a link once the archived link text
// matches want
func restoreSymlink(in io.Reader, target string, algo checksum.Algorithm, want string) error {
	hr, err := checksum.NewReader(in, algo)
	if err != nil {
		return err
	}
	link, err := io.ReadAll(hr)
	if err != nil {
		return err
	}
	if err := verifyHash(target, hr.Sum(), want); err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return err
	}
	return os.Symlink(string(link), target)
}

// verifyHash ties restored content to its file record. The archive reader
// only checks the content against the entity boundary.
func verifyHash(target, got, want string) error {
	if want != "" && !strings.EqualFold(got, want) {
		return fmt.Errorf("%w: %s restored with hash %s, expected %s", domain.ErrIntegrity, target, got, want)
	}
	return nil
}

// applyMetadata restores permissions and modification time. Links keep
// their own attributes.
func (r *restorer) applyMetadata(f domain.FileMetadata) error {
	if f.FileType == domain.FileTypeSymlink {
		return nil
	}
	target := r.targetPath(f.AbsolutePath)
	if err := os.Chmod(target, f.FileMode()); err != nil {
		return err
	}
	atime := f.LastAccessed
	if atime.IsZero() {
		atime = f.LastModified
	}
	return os.Chtimes(target, atime, f.LastModified)
}

func (r *restorer) remove(f domain.FileMetadata) {
	target := r.targetPath(f.AbsolutePath)
	err := os.Remove(target)
	switch {
	case err == nil:
		r.result.Removed++
	case os.IsNotExist(err):
	default:
		r.fail(f.AbsolutePath, err)
	}
}

func (r *restorer) fail(path string, err error) {
	r.log.Warn("Cannot restore file", "path", path, "error", err)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.result.Failed = append(r.result.Failed, scan.Failure{Path: path, Err: err})
}
