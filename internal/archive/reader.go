package archive

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/Ning0612/Cargoback/internal/compress"
	"github.com/Ning0612/Cargoback/internal/core/checksum"
	"github.com/Ning0612/Cargoback/internal/crypt"
	"github.com/Ning0612/Cargoback/internal/domain"
)

// ReaderOptions locates and decodes an existing archive
type ReaderOptions struct {
	Directory     string
	BaseName      string
	Compression   compress.Algorithm
	HashAlgorithm checksum.Algorithm
	DataKey       []byte
}

// Reader gives read-only access to a closed archive
type Reader struct {
	opts     ReaderOptions
	footer   ArchiveIndex
	entities []EntityIndex
	byPath   map[string]int
	chunks   map[string]int
}

// OpenReader parses the index and checks that every chunk is present with
// the size the footer declares
func OpenReader(opts ReaderOptions) (*Reader, error) {
	if !opts.Compression.IsValid() {
		return nil, fmt.Errorf("%w: unsupported compression %q", domain.ErrInvalidArgument, opts.Compression)
	}
	if !checksum.IsSupported(opts.HashAlgorithm) {
		return nil, fmt.Errorf("%w: unsupported hash algorithm %q", domain.ErrInvalidArgument, opts.HashAlgorithm)
	}

	indexPath := filepath.Join(opts.Directory, IndexName(opts.BaseName))
	f, err := os.Open(indexPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: index %s is missing", domain.ErrIntegrity, indexPath)
		}
		return nil, fmt.Errorf("%w: opening index: %v", domain.ErrIntegrity, err)
	}
	defer f.Close()

	var src io.Reader = f
	if opts.DataKey != nil {
		if src, err = crypt.NewReader(f, opts.DataKey); err != nil {
			return nil, err
		}
	}
	entities, footer, err := DecodeIndex(src)
	if err != nil {
		return nil, fmt.Errorf("reading index of %s: %w", opts.BaseName, err)
	}

	r := &Reader{
		opts:     opts,
		footer:   footer,
		entities: entities,
		byPath:   make(map[string]int, len(entities)),
		chunks:   make(map[string]int, footer.NumberOfChunks),
	}
	for i := 1; i <= footer.NumberOfChunks; i++ {
		name := ChunkName(opts.BaseName, i)
		info, err := os.Stat(filepath.Join(opts.Directory, name))
		if err != nil {
			return nil, fmt.Errorf("%w: chunk %s: %v", domain.ErrIntegrity, name, err)
		}
		if info.Size() != footer.ChunkSize(i) {
			return nil, fmt.Errorf("%w: chunk %s has %d bytes, expected %d",
				domain.ErrIntegrity, name, info.Size(), footer.ChunkSize(i))
		}
		r.chunks[name] = i
	}
	for i, e := range entities {
		r.byPath[e.Path] = i
	}
	return r, nil
}

// Footer returns the archive footer
func (r *Reader) Footer() ArchiveIndex {
	return r.footer
}

// Entities returns the indexed entities in write order
func (r *Reader) Entities() []EntityIndex {
	return append([]EntityIndex{}, r.entities...)
}

// Entity looks up an entity by path
func (r *Reader) Entity(path string) (EntityIndex, bool) {
	i, ok := r.byPath[path]
	if !ok {
		return EntityIndex{}, false
	}
	return r.entities[i], true
}

// OpenContent returns the original bytes of the entity's content section
func (r *Reader) OpenContent(e EntityIndex) (io.ReadCloser, error) {
	if e.Content == nil {
		return nil, fmt.Errorf("%w: entity %s has no content", domain.ErrInvalidArgument, e.Path)
	}
	return r.openSection(*e.Content, e.Encrypted)
}

// OpenMetadata returns the original bytes of the entity's metadata section
func (r *Reader) OpenMetadata(e EntityIndex) (io.ReadCloser, error) {
	return r.openSection(e.Metadata, e.Encrypted)
}

// ReadMetadata reads the whole metadata section
func (r *Reader) ReadMetadata(e EntityIndex) ([]byte, error) {
	rc, err := r.OpenMetadata(e)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

type chunkPiece struct {
	name string
	from int64
	to   int64
}

// pieces maps a boundary onto the chunk files it covers
func (r *Reader) pieces(b BoundaryRange) ([]chunkPiece, error) {
	startIdx, ok := r.chunks[b.StartChunkName()]
	if !ok {
		return nil, fmt.Errorf("%w: boundary starts in unknown chunk %s", domain.ErrIntegrity, b.StartChunkName())
	}
	endIdx, ok := r.chunks[b.EndChunkName()]
	if !ok {
		return nil, fmt.Errorf("%w: boundary ends in unknown chunk %s", domain.ErrIntegrity, b.EndChunkName())
	}
	if endIdx < startIdx || b.AbsoluteEnd() > r.footer.TotalSizeBytes {
		return nil, fmt.Errorf("%w: boundary [%d,%d) lies outside the archive", domain.ErrIntegrity, b.AbsoluteStart(), b.AbsoluteEnd())
	}
	if r.footer.MaxChunkSizeBytes > 0 {
		if expected := int64(startIdx-1)*r.footer.MaxChunkSizeBytes + b.ChunkRelativeStart(); expected != b.AbsoluteStart() {
			return nil, fmt.Errorf("%w: relative start %d in %s disagrees with absolute start %d",
				domain.ErrIntegrity, b.ChunkRelativeStart(), b.StartChunkName(), b.AbsoluteStart())
		}
	}

	var result []chunkPiece
	var total int64
	for i := startIdx; i <= endIdx; i++ {
		p := chunkPiece{name: ChunkName(r.opts.BaseName, i), to: r.footer.ChunkSize(i)}
		if i == startIdx {
			p.from = b.ChunkRelativeStart()
		}
		if i == endIdx {
			p.to = b.ChunkRelativeEnd()
		}
		if p.from > p.to || p.to > r.footer.ChunkSize(i) {
			return nil, fmt.Errorf("%w: boundary exceeds chunk %s", domain.ErrIntegrity, p.name)
		}
		total += p.to - p.from
		result = append(result, p)
	}
	if total != b.ArchivedSize() {
		return nil, fmt.Errorf("%w: boundary covers %d bytes, archived size is %d", domain.ErrIntegrity, total, b.ArchivedSize())
	}
	return result, nil
}

func (r *Reader) openSection(b BoundaryRange, encrypted bool) (io.ReadCloser, error) {
	if encrypted && r.opts.DataKey == nil {
		return nil, fmt.Errorf("%w: archive %s is encrypted and no data key was given", domain.ErrCrypto, r.opts.BaseName)
	}
	pieces, err := r.pieces(b)
	if err != nil {
		return nil, err
	}

	s := &sectionReader{boundary: b}
	readers := make([]io.Reader, 0, len(pieces))
	for _, p := range pieces {
		f, err := os.Open(filepath.Join(r.opts.Directory, p.name))
		if err != nil {
			s.closeFiles()
			return nil, fmt.Errorf("%w: chunk %s: %v", domain.ErrIntegrity, p.name, err)
		}
		s.files = append(s.files, f)
		readers = append(readers, io.NewSectionReader(f, p.from, p.to-p.from))
	}

	if s.arch, err = checksum.NewReader(io.MultiReader(readers...), r.opts.HashAlgorithm); err != nil {
		s.closeFiles()
		return nil, err
	}
	s.drain = s.arch
	if encrypted {
		if s.drain, err = crypt.NewReader(s.arch, r.opts.DataKey); err != nil {
			s.closeFiles()
			return nil, err
		}
	}
	if s.decomp, err = r.opts.Compression.NewReader(s.drain); err != nil {
		s.closeFiles()
		return nil, fmt.Errorf("%w: opening decompressor: %v", domain.ErrIntegrity, err)
	}
	if s.orig, err = checksum.NewReader(s.decomp, r.opts.HashAlgorithm); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// sectionReader undoes the write chain and verifies both digests at EOF
type sectionReader struct {
	boundary BoundaryRange
	files    []*os.File
	arch     *checksum.Reader
	drain    io.Reader
	decomp   io.ReadCloser
	orig     *checksum.Reader
	err      error
}

func (s *sectionReader) Read(p []byte) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	n, err := s.orig.Read(p)
	switch {
	case err == io.EOF:
		if verr := s.verify(); verr != nil {
			s.err = verr
			return n, verr
		}
		s.err = io.EOF
	case err != nil:
		if !errors.Is(err, domain.ErrIntegrity) {
			err = fmt.Errorf("%w: reading section: %v", domain.ErrIntegrity, err)
		}
		s.err = err
	}
	return n, err
}

func (s *sectionReader) verify() error {
	if _, err := io.Copy(io.Discard, s.drain); err != nil {
		if errors.Is(err, domain.ErrIntegrity) {
			return err
		}
		return fmt.Errorf("%w: draining section: %v", domain.ErrIntegrity, err)
	}
	b := s.boundary
	switch {
	case s.arch.Size() != b.ArchivedSize():
		return fmt.Errorf("%w: read %d archived bytes, expected %d", domain.ErrIntegrity, s.arch.Size(), b.ArchivedSize())
	case b.ArchivedHash() != "" && s.arch.Sum() != b.ArchivedHash():
		return fmt.Errorf("%w: archived hash mismatch", domain.ErrIntegrity)
	case s.orig.Size() != b.OriginalSize():
		return fmt.Errorf("%w: restored %d bytes, expected %d", domain.ErrIntegrity, s.orig.Size(), b.OriginalSize())
	case b.OriginalHash() != "" && s.orig.Sum() != b.OriginalHash():
		return fmt.Errorf("%w: original hash mismatch", domain.ErrIntegrity)
	}
	return nil
}

func (s *sectionReader) closeFiles() error {
	var errs []error
	for _, f := range s.files {
		errs = append(errs, f.Close())
	}
	s.files = nil
	return errors.Join(errs...)
}

func (s *sectionReader) Close() error {
	var err error
	if s.decomp != nil {
		err = s.decomp.Close()
	}
	return errors.Join(err, s.closeFiles())
}
