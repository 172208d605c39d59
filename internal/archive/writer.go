package archive

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/Ning0612/Cargoback/internal/compress"
	"github.com/Ning0612/Cargoback/internal/core/checksum"
	"github.com/Ning0612/Cargoback/internal/crypt"
	"github.com/Ning0612/Cargoback/internal/domain"
	"github.com/Ning0612/Cargoback/internal/logger"
)

// Options configures a new archive
type Options struct {
	// Directory receives the chunk and index files
	Directory string

	// BaseName is the common file name stem, usually <prefix>-<epochSeconds>
	BaseName string

	// MaxChunkSizeBytes bounds each chunk file (0 = single unbounded chunk)
	MaxChunkSizeBytes int64

	Compression   compress.Algorithm
	HashAlgorithm checksum.Algorithm

	// DataKey enables encryption of every section and of the index
	DataKey []byte
}

func (o Options) validate() error {
	switch {
	case o.Directory == "" || o.BaseName == "":
		return fmt.Errorf("%w: archive directory and base name are required", domain.ErrArchival)
	case o.MaxChunkSizeBytes < 0:
		return fmt.Errorf("%w: negative chunk size", domain.ErrArchival)
	case !o.Compression.IsValid():
		return fmt.Errorf("%w: unsupported compression %q", domain.ErrArchival, o.Compression)
	case !checksum.IsSupported(o.HashAlgorithm):
		return fmt.Errorf("%w: unsupported hash algorithm %q", domain.ErrArchival, o.HashAlgorithm)
	case o.DataKey != nil && len(o.DataKey) != crypt.KeySize:
		return fmt.Errorf("%w: data key must be %d bytes", domain.ErrCrypto, crypt.KeySize)
	}
	return nil
}

// Writer builds a cargo archive. Entities are written one at a time: the
// writer is locked from OpenEntity until the entity is closed or aborted.
// Any I/O failure or out-of-order section call poisons the writer; the
// caller must then Discard it.
type Writer struct {
	mu       sync.Mutex
	opts     Options
	stream   *chunkStream
	entities []EntityIndex
	paths    map[string]bool
	err      error
	closed   bool
	files    []string
}

// Create starts a new archive. No file of the archive may already exist.
func Create(opts Options) (*Writer, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(filepath.Join(opts.Directory, IndexName(opts.BaseName))); err == nil {
		return nil, fmt.Errorf("%w: archive %s already exists", domain.ErrArchival, opts.BaseName)
	}
	stream, err := newChunkStream(opts.Directory, opts.BaseName, opts.MaxChunkSizeBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: creating first chunk: %v", domain.ErrArchival, err)
	}
	logger.Get().Debug("archive created", "base", opts.BaseName, "max_chunk_size", opts.MaxChunkSizeBytes,
		"compression", opts.Compression, "encrypted", opts.DataKey != nil)
	return &Writer{
		opts:   opts,
		stream: stream,
		paths:  make(map[string]bool),
	}, nil
}

// OpenEntity locks the writer for a new entity. The returned EntityWriter
// must be driven to CLOSED or aborted.
func (w *Writer) OpenEntity(path string, fileType domain.FileType) (*EntityWriter, error) {
	w.mu.Lock()
	if err := w.usable(); err != nil {
		w.mu.Unlock()
		return nil, err
	}
	if !fileType.IsValid() {
		w.mu.Unlock()
		return nil, fmt.Errorf("%w: entity %s has unknown type %q", domain.ErrArchival, path, fileType)
	}
	if path == "" || w.paths[path] {
		w.mu.Unlock()
		return nil, fmt.Errorf("%w: entity path %q is empty or already archived", domain.ErrArchival, path)
	}
	return &EntityWriter{
		w:        w,
		path:     path,
		fileType: fileType,
		state:    InitialState(fileType),
		startAbs: w.stream.absolute,
	}, nil
}

func (w *Writer) usable() error {
	if w.err != nil {
		return w.err
	}
	if w.closed {
		return fmt.Errorf("%w: archive %s is closed", domain.ErrArchival, w.opts.BaseName)
	}
	return nil
}

// poison records the first fatal error. Callers hold mu.
func (w *Writer) poison(err error) error {
	if w.err == nil {
		if !errors.Is(err, domain.ErrArchival) {
			err = fmt.Errorf("%w: %v", domain.ErrArchival, err)
		}
		w.err = err
		logger.Get().Error("archive write failed", "base", w.opts.BaseName, "error", err)
	}
	return w.err
}

// Close writes the index and footer and returns the footer
func (w *Writer) Close() (ArchiveIndex, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.usable(); err != nil {
		return ArchiveIndex{}, err
	}
	w.closed = true

	footer := ArchiveIndex{
		Version:            IndexV2,
		TotalEntities:      len(w.entities),
		NumberOfChunks:     len(w.stream.names),
		MaxChunkSizeBytes:  w.opts.MaxChunkSizeBytes,
		LastChunkSizeBytes: w.stream.written,
		TotalSizeBytes:     w.stream.absolute,
	}
	if err := w.stream.closeCurrent(); err != nil {
		return ArchiveIndex{}, w.poison(fmt.Errorf("closing chunk: %v", err))
	}
	if err := w.writeIndex(footer); err != nil {
		return ArchiveIndex{}, w.poison(err)
	}
	w.files = append(append([]string{}, w.stream.names...), IndexName(w.opts.BaseName))

	logger.Get().Info("archive closed", "base", w.opts.BaseName, "entities", footer.TotalEntities,
		"chunks", footer.NumberOfChunks, "total_size", footer.TotalSizeBytes)
	return footer, nil
}

func (w *Writer) writeIndex(footer ArchiveIndex) error {
	path := filepath.Join(w.opts.Directory, IndexName(w.opts.BaseName))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("creating index: %v", err)
	}

	var out io.Writer = f
	var enc *crypt.Writer
	if w.opts.DataKey != nil {
		if enc, err = crypt.NewWriter(f, w.opts.DataKey); err != nil {
			f.Close()
			return err
		}
		out = enc
	}
	if err := EncodeIndex(out, w.entities, footer); err != nil {
		f.Close()
		return err
	}
	if enc != nil {
		if err := enc.Close(); err != nil {
			f.Close()
			return fmt.Errorf("encrypting index: %v", err)
		}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("syncing index: %v", err)
	}
	return f.Close()
}

// Files returns the chunk and index file names of a closed archive
func (w *Writer) Files() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string{}, w.files...)
}

// Entities returns the entities indexed so far
func (w *Writer) Entities() []EntityIndex {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]EntityIndex{}, w.entities...)
}

// Discard closes and removes every file of the archive. It is used after a
// failed run so no partial archive is left behind.
func (w *Writer) Discard() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.closed = true
	var errs []error
	if err := w.stream.closeCurrent(); err != nil {
		errs = append(errs, err)
	}
	names := append(append([]string{}, w.stream.names...), IndexName(w.opts.BaseName))
	for _, name := range names {
		err := os.Remove(filepath.Join(w.opts.Directory, name))
		if err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	w.files = nil
	logger.Get().Warn("archive discarded", "base", w.opts.BaseName, "files", len(names))
	return errors.Join(errs...)
}

// EntityWriter drives one entity through its section states
type EntityWriter struct {
	w        *Writer
	path     string
	fileType domain.FileType
	state    EntryState
	startAbs int64
	content  *BoundaryRange
	done     bool
	err      error
}

// State returns the current entry state
func (e *EntityWriter) State() EntryState {
	return e.state
}

// Path returns the entity path
func (e *EntityWriter) Path() string {
	return e.path
}

// ContentBoundary returns the content range once the content section is closed
func (e *EntityWriter) ContentBoundary() (BoundaryRange, bool) {
	if e.content == nil {
		return BoundaryRange{}, false
	}
	return *e.content, true
}

// advance moves from the expected state to its successor. Any other state
// is an ordering violation that poisons the archive.
func (e *EntityWriter) advance(expected EntryState) error {
	if e.done {
		return e.finishedErr()
	}
	if e.state != expected {
		return e.fail(fmt.Errorf("entity %s: cannot leave %s while in %s", e.path, expected, e.state))
	}
	e.state, _ = e.state.Next()
	return nil
}

func (e *EntityWriter) finishedErr() error {
	if e.err != nil {
		return e.err
	}
	return fmt.Errorf("%w: entity %s is already finished", domain.ErrArchival, e.path)
}

func (e *EntityWriter) fail(err error) error {
	e.err = e.w.poison(err)
	e.release()
	return e.err
}

func (e *EntityWriter) release() {
	if e.done {
		return
	}
	e.done = true
	e.w.mu.Unlock()
}

// OpenContent starts the content section. Closing the returned writer
// records the content boundary and moves the entity to PRE_METADATA.
func (e *EntityWriter) OpenContent() (io.WriteCloser, error) {
	if err := e.advance(StatePreContent); err != nil {
		return nil, err
	}
	return e.openSection(func(b BoundaryRange) error {
		e.content = &b
		return e.advance(StateContent)
	})
}

// LinkContent reuses a content boundary written earlier for an identical file
func (e *EntityWriter) LinkContent(b BoundaryRange) error {
	if err := e.advance(StatePreContent); err != nil {
		return err
	}
	e.content = &b
	return e.advance(StateContent)
}

// OpenMetadata starts the metadata section. Closing the returned writer
// indexes the entity and unlocks the archive.
func (e *EntityWriter) OpenMetadata() (io.WriteCloser, error) {
	if err := e.advance(StatePreMetadata); err != nil {
		return nil, err
	}
	return e.openSection(func(b BoundaryRange) error {
		if err := e.advance(StateMetadata); err != nil {
			return err
		}
		entity := EntityIndex{
			Path:      e.path,
			FileType:  e.fileType,
			Encrypted: e.w.opts.DataKey != nil,
			Content:   e.content,
			Metadata:  b,
		}
		if err := entity.Validate(); err != nil {
			return e.fail(err)
		}
		e.w.entities = append(e.w.entities, entity)
		e.w.paths[e.path] = true
		e.release()
		return nil
	})
}

// Abort gives up on the entity without indexing it. Once bytes of the entity
// reached the chunks the archive can no longer be completed.
func (e *EntityWriter) Abort() {
	if e.done {
		return
	}
	if e.w.stream.absolute != e.startAbs {
		e.w.poison(fmt.Errorf("entity %s aborted after writing %d bytes", e.path, e.w.stream.absolute-e.startAbs))
	}
	e.release()
}

func (e *EntityWriter) openSection(onClose func(BoundaryRange) error) (*sectionWriter, error) {
	opts := e.w.opts
	s := &sectionWriter{entity: e, sink: &sectionSink{stream: e.w.stream}, onClose: onClose}

	var err error
	if s.arch, err = checksum.NewWriter(s.sink, opts.HashAlgorithm); err != nil {
		return nil, e.fail(err)
	}
	var inner io.Writer = s.arch
	if opts.DataKey != nil {
		if s.enc, err = crypt.NewWriter(s.arch, opts.DataKey); err != nil {
			return nil, e.fail(err)
		}
		inner = s.enc
	}
	if s.comp, err = opts.Compression.NewWriter(inner); err != nil {
		return nil, e.fail(err)
	}
	if s.orig, err = checksum.NewWriter(s.comp, opts.HashAlgorithm); err != nil {
		return nil, e.fail(err)
	}
	return s, nil
}

// sectionWriter is the decorator chain of one section:
// original hash -> compression -> encryption -> archived hash -> chunks
type sectionWriter struct {
	entity  *EntityWriter
	sink    *sectionSink
	orig    *checksum.Writer
	comp    io.WriteCloser
	enc     *crypt.Writer
	arch    *checksum.Writer
	onClose func(BoundaryRange) error
	closed  bool
}

func (s *sectionWriter) Write(p []byte) (int, error) {
	if s.closed {
		return 0, fmt.Errorf("%w: write to closed section of %s", domain.ErrArchival, s.entity.path)
	}
	if s.entity.done {
		return 0, s.entity.finishedErr()
	}
	n, err := s.orig.Write(p)
	if err != nil {
		return n, s.entity.fail(err)
	}
	return n, nil
}

func (s *sectionWriter) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.entity.done {
		return s.entity.finishedErr()
	}
	if err := s.comp.Close(); err != nil {
		return s.entity.fail(fmt.Errorf("flushing compressor: %v", err))
	}
	if s.enc != nil {
		if err := s.enc.Close(); err != nil {
			return s.entity.fail(fmt.Errorf("flushing cipher: %v", err))
		}
	}
	start, end := s.sink.bounds()
	b, err := NewBoundaryBuilder().
		Start(start.chunk, start.relative, start.absolute).
		End(end.chunk, end.relative, end.absolute).
		Original(s.orig.Size(), s.orig.Sum()).
		Archived(s.arch.Size(), s.arch.Sum()).
		Build()
	if err != nil {
		return s.entity.fail(err)
	}
	return s.onClose(b)
}
