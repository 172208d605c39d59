package archive

import (
	"fmt"

	"github.com/Ning0612/Cargoback/internal/domain"
)

// BoundaryRange is the byte range one section occupies in the archive stream.
// Relative offsets are positions within the start and end chunk files, absolute
// offsets are positions within the concatenation of all chunks. The end
// offsets are exclusive. Values are immutable once built.
type BoundaryRange struct {
	relStart     int64
	relEnd       int64
	startChunk   string
	endChunk     string
	absStart     int64
	absEnd       int64
	originalHash string
	originalSize int64
	archivedHash string
	archivedSize int64
}

func (b BoundaryRange) ChunkRelativeStart() int64 { return b.relStart }
func (b BoundaryRange) ChunkRelativeEnd() int64 { return b.relEnd }
func (b BoundaryRange) StartChunkName() string { return b.startChunk }
func (b BoundaryRange) EndChunkName() string { return b.endChunk }
func (b BoundaryRange) AbsoluteStart() int64 { return b.absStart }
func (b BoundaryRange) AbsoluteEnd() int64 { return b.absEnd }
func (b BoundaryRange) OriginalHash() string { return b.originalHash }
func (b BoundaryRange) OriginalSize() int64 { return b.originalSize }
func (b BoundaryRange) ArchivedHash() string { return b.archivedHash }
func (b BoundaryRange) ArchivedSize() int64 { return b.archivedSize }

// SingleChunk reports whether the range lies within one chunk file
func (b BoundaryRange) SingleChunk() bool {
	return b.startChunk == b.endChunk
}

// BoundaryBuilder assembles a BoundaryRange and validates it on Build
type BoundaryBuilder struct {
	b BoundaryRange
}

// NewBoundaryBuilder returns an empty builder
func NewBoundaryBuilder() *BoundaryBuilder {
	return &BoundaryBuilder{}
}

// Start sets the position of the first byte
func (bb *BoundaryBuilder) Start(chunk string, relative, absolute int64) *BoundaryBuilder {
	bb.b.startChunk, bb.b.relStart, bb.b.absStart = chunk, relative, absolute
	return bb
}

// End sets the position just after the last byte
func (bb *BoundaryBuilder) End(chunk string, relative, absolute int64) *BoundaryBuilder {
	bb.b.endChunk, bb.b.relEnd, bb.b.absEnd = chunk, relative, absolute
	return bb
}

// Original sets the size and hash of the bytes before compression and encryption
func (bb *BoundaryBuilder) Original(size int64, hash string) *BoundaryBuilder {
	bb.b.originalSize, bb.b.originalHash = size, normalizeHash(hash)
	return bb
}

// Archived sets the size and hash of the bytes as stored in the chunks
func (bb *BoundaryBuilder) Archived(size int64, hash string) *BoundaryBuilder {
	bb.b.archivedSize, bb.b.archivedHash = size, normalizeHash(hash)
	return bb
}

// Build validates and returns the range
func (bb *BoundaryBuilder) Build() (BoundaryRange, error) {
	b := bb.b
	switch {
	case b.startChunk == "" || b.endChunk == "":
		return BoundaryRange{}, fmt.Errorf("%w: boundary chunk names are required", domain.ErrIntegrity)
	case b.relStart < 0 || b.relEnd < 0 || b.absStart < 0:
		return BoundaryRange{}, fmt.Errorf("%w: boundary offsets cannot be negative", domain.ErrIntegrity)
	case b.originalSize < 0 || b.archivedSize < 0:
		return BoundaryRange{}, fmt.Errorf("%w: boundary sizes cannot be negative", domain.ErrIntegrity)
	case b.absEnd-b.absStart != b.archivedSize:
		return BoundaryRange{}, fmt.Errorf("%w: absolute range [%d,%d) does not match archived size %d",
			domain.ErrIntegrity, b.absStart, b.absEnd, b.archivedSize)
	case b.SingleChunk() && b.relEnd-b.relStart != b.archivedSize:
		return BoundaryRange{}, fmt.Errorf("%w: relative range [%d,%d) in %s does not match archived size %d",
			domain.ErrIntegrity, b.relStart, b.relEnd, b.startChunk, b.archivedSize)
	case !b.SingleChunk() && b.relEnd > b.archivedSize:
		return BoundaryRange{}, fmt.Errorf("%w: relative end %d exceeds archived size %d",
			domain.ErrIntegrity, b.relEnd, b.archivedSize)
	}
	return b, nil
}

func normalizeHash(h string) string {
	if h == "null" {
		return ""
	}
	return h
}

const (
	keyRelStartIdx  = ".rel.start.idx"
	keyRelStartFile = ".rel.start.file"
	keyRelEndIdx    = ".rel.end.idx"
	keyRelEndFile   = ".rel.end.file"
	keyAbsStartIdx  = ".abs.start.idx"
	keyAbsEndIdx    = ".abs.end.idx"
	keyOrigSize     = ".orig.size"
	keyOrigHash     = ".orig.hash"
	keyArchSize     = ".arch.size"
	keyArchHash     = ".arch.hash"
)

func (b BoundaryRange) writeProperties(prefix string, pw *propertyWriter) {
	pw.putInt(prefix+keyRelStartIdx, b.relStart)
	pw.put(prefix+keyRelStartFile, b.startChunk)
	pw.putInt(prefix+keyRelEndIdx, b.relEnd)
	pw.put(prefix+keyRelEndFile, b.endChunk)
	pw.putInt(prefix+keyAbsStartIdx, b.absStart)
	pw.putInt(prefix+keyAbsEndIdx, b.absEnd)
	pw.putInt(prefix+keyOrigSize, b.originalSize)
	if b.originalHash != "" {
		pw.put(prefix+keyOrigHash, b.originalHash)
	}
	pw.putInt(prefix+keyArchSize, b.archivedSize)
	if b.archivedHash != "" {
		pw.put(prefix+keyArchHash, b.archivedHash)
	}
}

func parseBoundary(prefix string, props properties) (BoundaryRange, error) {
	var relStart, relEnd, absStart, absEnd, origSize, archSize int64
	var err error
	for _, f := range []struct {
		key string
		dst *int64
	}{
		{keyRelStartIdx, &relStart},
		{keyRelEndIdx, &relEnd},
		{keyAbsStartIdx, &absStart},
		{keyAbsEndIdx, &absEnd},
		{keyOrigSize, &origSize},
		{keyArchSize, &archSize},
	} {
		if *f.dst, err = props.integer(prefix + f.key); err != nil {
			return BoundaryRange{}, err
		}
	}
	startFile, err := props.str(prefix + keyRelStartFile)
	if err != nil {
		return BoundaryRange{}, err
	}
	endFile, err := props.str(prefix + keyRelEndFile)
	if err != nil {
		return BoundaryRange{}, err
	}
	return NewBoundaryBuilder().
		Start(startFile, relStart, absStart).
		End(endFile, relEnd, absEnd).
		Original(origSize, props[prefix+keyOrigHash]).
		Archived(archSize, props[prefix+keyArchHash]).
		Build()
}
