package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Ning0612/Cargoback/internal/archive"
	"github.com/Ning0612/Cargoback/internal/core/diff"
	"github.com/Ning0612/Cargoback/internal/core/scope"
	"github.com/Ning0612/Cargoback/internal/crypt"
	"github.com/Ning0612/Cargoback/internal/domain"
	"github.com/Ning0612/Cargoback/internal/logger"
	"github.com/Ning0612/Cargoback/internal/manifest"
	"github.com/Ning0612/Cargoback/internal/progress"
	"github.com/Ning0612/Cargoback/internal/scan"
	"github.com/Ning0612/Cargoback/internal/state"
)

// Progress steps of a backup run
const (
	StepScan    = "scan"
	StepParse   = "parse"
	StepArchive = "archive"
)

// BackupResult summarizes a committed backup run
type BackupResult struct {
	Manifest *domain.BackupIncrementManifest

	// Failed lists paths that could not be read. They are left out of the manifest.
	Failed []scan.Failure

	// ArchivedFiles counts files whose content entered this run's archive,
	// either written or linked to an identical file
	ArchivedFiles int

	// ArchivedBytes is the original size of the content written
	ArchivedBytes int64
}

// Backup runs one backup of the job. On error no manifest is committed and
// the partial archive is removed.
func (s *Session) Backup(ctx context.Context) (*BackupResult, error) {
	started := s.opts.now()

	var result *BackupResult
	err := s.locked(state.OperationBackup, func() error {
		var err error
		result, err = s.backup(ctx, started)
		return err
	})

	run := state.RunRecord{
		Operation: state.OperationBackup,
		StartTime: started,
		EndTime:   s.opts.now(),
		Error:     errorText(err),
	}
	if result != nil {
		run.BackupType = string(result.Manifest.BackupType)
		run.FilesArchived = result.ArchivedFiles
		run.BytesArchived = result.ArchivedBytes
		run.FailedFiles = len(result.Failed)
		run.Manifest = result.Manifest.FileName()
	}
	run.Status = runStatus(err, run.FailedFiles)
	s.record(run)

	if err != nil {
		s.log.Error("Backup failed", "error", err)
		return nil, err
	}
	return result, nil
}

// runPlan is the outcome of comparing the job with the existing history
type runPlan struct {
	backupType domain.BackupType
	versions   []int
	chain      []*domain.BackupIncrementManifest
	start      time.Time
}

func (s *Session) plan(ctx context.Context, start time.Time) (*runPlan, error) {
	p := &runPlan{backupType: domain.BackupFull, versions: []int{0}, start: start}

	h, err := s.History(ctx)
	if errors.Is(err, domain.ErrNoManifests) {
		s.log.Info("No previous increment, running FULL backup")
		return p, nil
	}
	if err != nil {
		return nil, err
	}

	prev, _ := h.Latest()
	// Increments are keyed by start second and must stay ordered
	if !p.start.After(prev.StartTime()) {
		p.start = prev.StartTime().Add(time.Second)
	}

	switch {
	case s.job.BackupType == domain.BackupFull:
		return p, nil
	case s.job.ForcesFull(prev.Configuration):
		s.log.Warn("Job configuration changed since the last increment, running FULL backup",
			"previous", prev.BaseName())
		return p, nil
	}

	chain, err := h.Chain(prev)
	if err != nil {
		return nil, err
	}
	p.backupType = domain.BackupIncremental
	p.chain = chain
	p.versions = append(slices.Clone(prev.Versions), prev.Version()+1)
	return p, nil
}

func (s *Session) backup(ctx context.Context, started time.Time) (*BackupResult, error) {
	tracker := s.tracker(
		progress.Step{Name: StepScan, Weight: 1, FrequencyPercent: 100},
		progress.Step{Name: StepParse, Weight: 3, FrequencyPercent: 10},
		progress.Step{Name: StepArchive, Weight: 6, FrequencyPercent: 5},
	)

	plan, err := s.plan(ctx, started.UTC().Truncate(time.Second))
	if err != nil {
		return nil, err
	}

	m := domain.NewManifest(s.job, plan.start, AppVersion)
	m.BackupType = plan.backupType
	m.SetVersions(plan.versions)
	log := s.log.With("increment", m.BaseName(), "type", m.BackupType, "version", m.Version())
	log.Info("Backup started", "sources", len(s.job.Sources))

	var dek []byte
	if s.job.Encrypted() {
		if dek, err = newWrappedKey(s.job.EncryptionKey, m); err != nil {
			return nil, err
		}
	}

	walk, err := scan.Walk(ctx, s.job.Sources)
	if err != nil {
		return nil, err
	}
	tracker.CompleteStep(StepScan)

	results, err := s.parse(ctx, walk.Paths, tracker)
	if err != nil {
		return nil, err
	}

	result := &BackupResult{Manifest: m, Failed: slices.Clone(walk.Failures)}
	classifier := diff.NewClassifier(plan.backupType, plan.chain)
	seen := make(map[string]bool, len(results))
	for _, f := range walk.Failures {
		seen[f.Path] = true
	}
	for i, r := range results {
		path := walk.Paths[i]
		switch {
		case r.Missing:
			log.Debug("File vanished before it was read", "path", path)
		case r.Err != nil:
			seen[path] = true
			result.Failed = append(result.Failed, scan.Failure{Path: path, Err: r.Err})
			log.Warn("Cannot read file", "path", path, "error", r.Err)
		default:
			seen[path] = true
			m.AddFile(classifier.Classify(r.Metadata))
		}
	}
	for _, f := range classifier.Vanished(seen) {
		m.AddFile(f)
	}

	writer, err := archive.Create(archive.Options{
		Directory:         s.dest.Root(),
		BaseName:          m.BaseName(),
		MaxChunkSizeBytes: s.job.ChunkSizeBytes(),
		Compression:       s.job.Compression,
		HashAlgorithm:     s.job.HashAlgorithm,
		DataKey:           dek,
	})
	if err != nil {
		return nil, err
	}

	a := &archiver{
		writer:  writer,
		m:       m,
		version: m.Version(),
		tracker: tracker,
		workers: s.opts.workers(),
		log:     log,
	}
	if err := a.run(ctx, scope.NewPartitioner(s.job.DuplicateStrategy)); err != nil {
		discard(writer, log)
		return nil, err
	}
	if _, err := writer.Close(); err != nil {
		discard(writer, log)
		return nil, err
	}

	files := writer.Files()
	m.IndexFileName = files[len(files)-1]
	m.DataFileNames = files[:len(files)-1]

	if err := s.store.Save(ctx, m, dek); err != nil {
		discard(writer, log)
		return nil, err
	}
	tracker.CompleteAll()

	result.Failed = append(result.Failed, a.failed...)
	result.ArchivedFiles = a.files
	result.ArchivedBytes = a.bytes
	log.Info("Backup finished", "files", len(m.Files), "archived", a.files,
		"archived_bytes", progress.FormatBytes(a.bytes), "failed", len(result.Failed))
	return result, nil
}

func newWrappedKey(recipient string, m *domain.BackupIncrementManifest) ([]byte, error) {
	r, err := crypt.ParseRecipient(recipient)
	if err != nil {
		return nil, err
	}
	dek, err := crypt.NewDataKey()
	if err != nil {
		return nil, err
	}
	if m.EncryptionKey, err = r.WrapKey(dek); err != nil {
		return nil, err
	}
	return dek, nil
}

func discard(w *archive.Writer, log logger.Logger) {
	if err := w.Discard(); err != nil {
		log.Warn("Failed to remove partial archive", "error", err)
	}
}

// parse reads the metadata of every path with a bounded worker pool.
// Results keep the order of paths.
func (s *Session) parse(ctx context.Context, paths []string, tracker *progress.Tracker) ([]scan.ParseResult, error) {
	parser := s.opts.Parser
	if parser == nil {
		fp, err := scan.NewFileParser(s.job.HashAlgorithm)
		if err != nil {
			return nil, err
		}
		parser = fp
	}

	if err := tracker.EstimateSubtotal(StepParse, int64(len(paths))); err != nil {
		return nil, err
	}

	results := make([]scan.ParseResult, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.workers())
	for i, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r := parser.Parse(gctx, path)
			if r.Err != nil && !errors.Is(r.Err, domain.ErrParse) {
				return r.Err
			}
			results[i] = r
			return tracker.RecordProgress(StepParse, 1)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, tracker.CompleteStep(StepParse)
}

// archiver writes the content of a run into its archive
type archiver struct {
	writer  *archive.Writer
	version int
	tracker *progress.Tracker
	workers int
	log     logger.Logger

	// mu guards m and the counters below
	mu     sync.Mutex
	m      *domain.BackupIncrementManifest
	failed []scan.Failure
	files  int
	bytes  int64
}

func (a *archiver) run(ctx context.Context, partitioner scope.Partitioner) error {
	records := a.m.SortedFiles()

	// Directories carry metadata only and go first, parents before children
	for _, f := range records {
		if !f.IsDir() || !f.Status.RestoreMetadata() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		e, err := a.writer.OpenEntity(f.AbsolutePath, f.FileType)
		if err != nil {
			return err
		}
		if err := a.finish(e, f); err != nil {
			return err
		}
	}

	groups := partitioner.Partition(records)
	if err := a.tracker.EstimateSubtotal(StepArchive, scope.ReadSize(groups)); err != nil {
		return err
	}
	a.log.Debug("Archiving content", "groups", len(groups), "bytes", scope.ReadSize(groups))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for _, group := range groups {
		g.Go(func() error {
			return a.archiveGroup(gctx, group)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return a.tracker.CompleteStep(StepArchive)
}

// archiveGroup writes the content of the first readable member and links
// every later member with the same content to it
func (a *archiver) archiveGroup(ctx context.Context, g scope.Group) error {
	var shared *archive.BoundaryRange
	var entity string
	var ids []string

	for _, f := range g.Files {
		if shared != nil && strings.EqualFold(f.Hash, shared.OriginalHash()) {
			if err := a.link(f, *shared); err != nil {
				return err
			}
			ids = append(ids, f.ID)
			continue
		}

		b, ok, err := a.copy(ctx, f)
		if err != nil {
			return err
		}
		if ok && shared == nil {
			shared, entity = &b, f.AbsolutePath
			ids = append(ids, f.ID)
		}
	}

	if entity != "" {
		a.mu.Lock()
		a.m.ArchivedEntities[entity] = ids
		a.mu.Unlock()
	}
	return nil
}

// copy writes a file's content as a new entity. ok is false when the file
// could not be opened; it is then reported and left out of the manifest.
func (a *archiver) copy(ctx context.Context, f domain.FileMetadata) (b archive.BoundaryRange, ok bool, err error) {
	src, err := openSource(f)
	if err != nil {
		a.skip(f, err)
		return b, false, nil
	}
	defer src.Close()

	e, err := a.writer.OpenEntity(f.AbsolutePath, f.FileType)
	if err != nil {
		return b, false, err
	}
	w, err := e.OpenContent()
	if err != nil {
		return b, false, err
	}
	in := progress.NewReader(&contextReader{ctx: ctx, r: src}, a.tracker, StepArchive)
	if _, err := io.Copy(w, in); err != nil {
		e.Abort()
		return b, false, fmt.Errorf("%w: archiving %s: %v", domain.ErrArchival, f.AbsolutePath, err)
	}
	if err := w.Close(); err != nil {
		return b, false, err
	}

	b, _ = e.ContentBoundary()
	if !strings.EqualFold(b.OriginalHash(), f.Hash) {
		a.log.Warn("File changed while it was archived", "path", f.AbsolutePath)
		f.Hash, f.Size = b.OriginalHash(), b.OriginalSize()
	}
	if err := a.finish(e, f); err != nil {
		return b, false, err
	}

	a.mu.Lock()
	a.bytes += b.OriginalSize()
	a.mu.Unlock()
	return b, true, nil
}

func (a *archiver) link(f domain.FileMetadata, b archive.BoundaryRange) error {
	e, err := a.writer.OpenEntity(f.AbsolutePath, f.FileType)
	if err != nil {
		return err
	}
	if err := e.LinkContent(b); err != nil {
		return err
	}
	return a.finish(e, f)
}

// finish writes the metadata section of an open entity and records the file
// as archived in this run
func (a *archiver) finish(e *archive.EntityWriter, f domain.FileMetadata) error {
	f.Location = &domain.ArchiveLocation{Version: a.version, Entity: e.Path()}

	payload, err := manifest.Marshal(f)
	if err != nil {
		e.Abort()
		return fmt.Errorf("%w: encoding metadata of %s: %v", domain.ErrArchival, f.AbsolutePath, err)
	}
	w, err := e.OpenMetadata()
	if err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.m.AddFile(f)
	if !f.IsDir() {
		a.files++
	}
	return nil
}

func (a *archiver) skip(f domain.FileMetadata, err error) {
	a.log.Warn("Cannot open file for archiving", "path", f.AbsolutePath, "error", err)

	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.m.Files, f.ID)
	a.failed = append(a.failed, scan.Failure{
		Path: f.AbsolutePath,
		Err:  fmt.Errorf("%w: %s: %v", domain.ErrParse, f.AbsolutePath, err),
	})
}

// openSource returns the bytes archived for a file: the file content, or
// the target of a symbolic link
func openSource(f domain.FileMetadata) (io.ReadCloser, error) {
	if f.FileType == domain.FileTypeSymlink {
		target, err := os.Readlink(f.AbsolutePath)
		if err != nil {
			return nil, err
		}
		return io.NopCloser(strings.NewReader(target)), nil
	}
	return os.Open(f.AbsolutePath)
}

// contextReader stops a copy once its context is done
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
