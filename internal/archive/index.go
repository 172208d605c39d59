package archive

import (
	"fmt"
	"io"
	"strconv"

	"github.com/Ning0612/Cargoback/internal/domain"
)

// IndexVersion identifies the footer key spelling
type IndexVersion int

const (
	// IndexV1 is the historical format. It is parsed but never written.
	IndexV1 IndexVersion = 1

	// IndexV2 is the current format
	IndexV2 IndexVersion = 2
)

const (
	keyIndexVersion    = "index.version"
	keyLastEntityIndex = "last.entity.index"
	keyMaxChunkSize    = "max.chunk.size"
	keyTotalSize       = "total.size"
)

type footerKeys struct {
	lastChunkIndex string
	lastChunkSize  string
}

var footerSpelling = map[IndexVersion]footerKeys{
	IndexV1: {lastChunkIndex: "last.cnunk.index", lastChunkSize: "last.cnunk.size"},
	IndexV2: {lastChunkIndex: "last.chunk.index", lastChunkSize: "last.chunk.size"},
}

// ArchiveIndex is the container footer, created once when the archive is closed
type ArchiveIndex struct {
	Version            IndexVersion
	TotalEntities      int
	NumberOfChunks     int
	MaxChunkSizeBytes  int64
	LastChunkSizeBytes int64
	TotalSizeBytes     int64
}

// Validate checks internal consistency of the footer values
func (a ArchiveIndex) Validate() error {
	if _, ok := footerSpelling[a.Version]; !ok {
		return fmt.Errorf("%w: unknown index version %d", domain.ErrIntegrity, a.Version)
	}
	if a.NumberOfChunks < 1 {
		return fmt.Errorf("%w: archive has no chunks", domain.ErrIntegrity)
	}
	if a.TotalEntities < 0 || a.MaxChunkSizeBytes < 0 || a.LastChunkSizeBytes < 0 || a.TotalSizeBytes < 0 {
		return fmt.Errorf("%w: negative footer value", domain.ErrIntegrity)
	}
	if a.MaxChunkSizeBytes == 0 {
		if a.NumberOfChunks != 1 || a.LastChunkSizeBytes != a.TotalSizeBytes {
			return fmt.Errorf("%w: unbounded archive must be a single chunk of %d bytes", domain.ErrIntegrity, a.TotalSizeBytes)
		}
		return nil
	}
	if a.LastChunkSizeBytes > a.MaxChunkSizeBytes {
		return fmt.Errorf("%w: last chunk exceeds max chunk size", domain.ErrIntegrity)
	}
	expected := int64(a.NumberOfChunks-1)*a.MaxChunkSizeBytes + a.LastChunkSizeBytes
	if expected != a.TotalSizeBytes {
		return fmt.Errorf("%w: chunk sizes add up to %d, footer says %d", domain.ErrIntegrity, expected, a.TotalSizeBytes)
	}
	return nil
}

// ChunkSize returns the expected size of the chunk with the 1-based index
func (a ArchiveIndex) ChunkSize(index int) int64 {
	if index == a.NumberOfChunks {
		return a.LastChunkSizeBytes
	}
	return a.MaxChunkSizeBytes
}

func (a ArchiveIndex) writeProperties(pw *propertyWriter) error {
	keys, ok := footerSpelling[a.Version]
	if !ok || a.Version != IndexV2 {
		return fmt.Errorf("%w: index version %d cannot be written", domain.ErrArchival, a.Version)
	}
	pw.putInt(keys.lastChunkIndex, int64(a.NumberOfChunks))
	pw.putInt(keys.lastChunkSize, a.LastChunkSizeBytes)
	pw.putInt(keyMaxChunkSize, a.MaxChunkSizeBytes)
	pw.putInt(keyLastEntityIndex, int64(a.TotalEntities))
	pw.putInt(keyTotalSize, a.TotalSizeBytes)
	pw.putInt(keyIndexVersion, int64(a.Version))
	return nil
}

func parseFooter(props properties) (ArchiveIndex, error) {
	version, err := props.integer(keyIndexVersion)
	if err != nil {
		return ArchiveIndex{}, err
	}
	a := ArchiveIndex{Version: IndexVersion(version)}
	keys, ok := footerSpelling[a.Version]
	if !ok {
		return ArchiveIndex{}, fmt.Errorf("%w: unknown index version %d", domain.ErrIntegrity, version)
	}

	chunks, err := props.integer(keys.lastChunkIndex)
	if err != nil {
		return ArchiveIndex{}, err
	}
	entities, err := props.integer(keyLastEntityIndex)
	if err != nil {
		return ArchiveIndex{}, err
	}
	a.NumberOfChunks, a.TotalEntities = int(chunks), int(entities)
	if a.LastChunkSizeBytes, err = props.integer(keys.lastChunkSize); err != nil {
		return ArchiveIndex{}, err
	}
	if a.MaxChunkSizeBytes, err = props.integer(keyMaxChunkSize); err != nil {
		return ArchiveIndex{}, err
	}
	if a.TotalSizeBytes, err = props.integer(keyTotalSize); err != nil {
		return ArchiveIndex{}, err
	}
	return a, a.Validate()
}

// entityPrefix returns the key prefix of the 1-based entity ordinal
func entityPrefix(ordinal int) string {
	return strconv.Itoa(ordinal)
}

// EncodeIndex writes every entity followed by the footer
func EncodeIndex(w io.Writer, entities []EntityIndex, footer ArchiveIndex) error {
	if footer.TotalEntities != len(entities) {
		return fmt.Errorf("%w: footer counts %d entities, got %d", domain.ErrArchival, footer.TotalEntities, len(entities))
	}
	pw := newPropertyWriter(w)
	for i, e := range entities {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrArchival, err)
		}
		e.writeProperties(entityPrefix(i+1), pw)
	}
	if err := footer.writeProperties(pw); err != nil {
		return err
	}
	return pw.flush()
}

// DecodeIndex parses an index written by EncodeIndex. Both footer versions are accepted.
func DecodeIndex(r io.Reader) ([]EntityIndex, ArchiveIndex, error) {
	props, err := parseProperties(r)
	if err != nil {
		return nil, ArchiveIndex{}, err
	}
	footer, err := parseFooter(props)
	if err != nil {
		return nil, ArchiveIndex{}, err
	}
	entities := make([]EntityIndex, 0, footer.TotalEntities)
	for i := 1; i <= footer.TotalEntities; i++ {
		e, err := parseEntity(entityPrefix(i), props)
		if err != nil {
			return nil, ArchiveIndex{}, err
		}
		entities = append(entities, e)
	}
	if props.hasPrefix(entityPrefix(footer.TotalEntities+1) + ".") {
		return nil, ArchiveIndex{}, fmt.Errorf("%w: index holds more entities than the footer declares", domain.ErrIntegrity)
	}
	return entities, footer, nil
}
