// Package compress provides the closed set of stream compressors an archive may use.
package compress

import (
	"fmt"
	"io"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Algorithm names a compression algorithm. It is configured once per archive.
type Algorithm string

const (
	None  Algorithm = "NONE"
	Gzip  Algorithm = "GZIP"
	Bzip2 Algorithm = "BZIP2"
	Zstd  Algorithm = "ZSTD"
	LZ4   Algorithm = "LZ4"
)

type codec struct {
	writer func(io.Writer) (io.WriteCloser, error)
	reader func(io.Reader) (io.ReadCloser, error)
}

var codecs = map[Algorithm]codec{
	None: {
		writer: func(w io.Writer) (io.WriteCloser, error) { return nopWriteCloser{w}, nil },
		reader: func(r io.Reader) (io.ReadCloser, error) { return io.NopCloser(r), nil },
	},
	Gzip: {
		writer: func(w io.Writer) (io.WriteCloser, error) { return gzip.NewWriter(w), nil },
		reader: func(r io.Reader) (io.ReadCloser, error) { return gzip.NewReader(r) },
	},
	Bzip2: {
		writer: func(w io.Writer) (io.WriteCloser, error) {
			return bzip2.NewWriter(w, &bzip2.WriterConfig{Level: bzip2.DefaultCompression})
		},
		reader: func(r io.Reader) (io.ReadCloser, error) { return bzip2.NewReader(r, nil) },
	},
	Zstd: {
		writer: func(w io.Writer) (io.WriteCloser, error) {
			return zstd.NewWriter(w, zstd.WithEncoderConcurrency(1))
		},
		reader: func(r io.Reader) (io.ReadCloser, error) {
			d, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
			if err != nil {
				return nil, err
			}
			return d.IOReadCloser(), nil
		},
	},
	LZ4: {
		writer: func(w io.Writer) (io.WriteCloser, error) { return lz4.NewWriter(w), nil },
		reader: func(r io.Reader) (io.ReadCloser, error) { return io.NopCloser(lz4.NewReader(r)), nil },
	},
}

// IsValid checks if the algorithm is part of the supported set
func (a Algorithm) IsValid() bool {
	_, ok := codecs[a]
	return ok
}

// NewWriter wraps w with a compressor. Closing the returned writer flushes the
// compressed stream but does not close w.
func (a Algorithm) NewWriter(w io.Writer) (io.WriteCloser, error) {
	c, ok := codecs[a]
	if !ok {
		return nil, fmt.Errorf("unsupported compression: %q", a)
	}
	return c.writer(w)
}

// NewReader wraps r with the matching decompressor. Closing the returned
// reader does not close r.
func (a Algorithm) NewReader(r io.Reader) (io.ReadCloser, error) {
	c, ok := codecs[a]
	if !ok {
		return nil, fmt.Errorf("unsupported compression: %q", a)
	}
	return c.reader(r)
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
