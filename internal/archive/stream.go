package archive

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Ning0612/Cargoback/internal/logger"
)

// ChunkName returns the file name of the chunk with the 1-based index
func ChunkName(base string, index int) string {
	return fmt.Sprintf("%s.%05d.cargo", base, index)
}

// IndexName returns the file name of the archive index
func IndexName(base string) string {
	return base + ".index.cargo"
}

type position struct {
	chunk    string
	relative int64
	absolute int64
}

// chunkStream spreads a byte stream over numbered chunk files of bounded size.
// Rollover is lazy: a new chunk is only opened when a byte has to go into it.
type chunkStream struct {
	dir      string
	base     string
	maxSize  int64
	index    int
	file     *os.File
	written  int64
	absolute int64
	names    []string
}

func newChunkStream(dir, base string, maxSize int64) (*chunkStream, error) {
	s := &chunkStream{dir: dir, base: base, maxSize: maxSize}
	if err := s.open(1); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *chunkStream) open(index int) error {
	name := ChunkName(s.base, index)
	f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	s.file = f
	s.index = index
	s.written = 0
	s.names = append(s.names, name)
	return nil
}

func (s *chunkStream) full() bool {
	return s.maxSize > 0 && s.written >= s.maxSize
}

func (s *chunkStream) roll() error {
	if err := s.closeCurrent(); err != nil {
		return err
	}
	if err := s.open(s.index + 1); err != nil {
		return err
	}
	logger.Get().Debug("chunk rolled over", "chunk", s.names[len(s.names)-1], "absolute", s.absolute)
	return nil
}

// Write fills the current chunk and continues in the next one when p does not fit
func (s *chunkStream) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		if s.full() {
			if err := s.roll(); err != nil {
				return total, err
			}
		}
		n := len(p)
		if s.maxSize > 0 && int64(n) > s.maxSize-s.written {
			n = int(s.maxSize - s.written)
		}
		m, err := s.file.Write(p[:n])
		s.written += int64(m)
		s.absolute += int64(m)
		total += m
		if err != nil {
			return total, err
		}
		p = p[m:]
	}
	return total, nil
}

// nextPosition is where the next written byte will land
func (s *chunkStream) nextPosition() position {
	if s.full() {
		return position{chunk: ChunkName(s.base, s.index+1), absolute: s.absolute}
	}
	return s.endPosition()
}

// endPosition is the position just after the last written byte
func (s *chunkStream) endPosition() position {
	return position{chunk: ChunkName(s.base, s.index), relative: s.written, absolute: s.absolute}
}

func (s *chunkStream) closeCurrent() error {
	if s.file == nil {
		return nil
	}
	f := s.file
	s.file = nil
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// sectionSink records where the first byte of a section was written
type sectionSink struct {
	stream *chunkStream
	start  *position
}

func (t *sectionSink) Write(p []byte) (int, error) {
	if t.start == nil && len(p) > 0 {
		pos := t.stream.nextPosition()
		t.start = &pos
	}
	return t.stream.Write(p)
}

func (t *sectionSink) bounds() (position, position) {
	end := t.stream.endPosition()
	if t.start == nil {
		return end, end
	}
	return *t.start, end
}
