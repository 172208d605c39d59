package checksum

import (
	"encoding/hex"
	"hash"
	"io"
)

// Writer hashes and counts every byte written through it before passing it on.
// A nil destination only hashes.
type Writer struct {
	dst  io.Writer
	h    hash.Hash
	size int64
}

// NewWriter wraps dst with a hasher for algo
func NewWriter(dst io.Writer, algo Algorithm) (*Writer, error) {
	h, err := New(algo)
	if err != nil {
		return nil, err
	}
	return &Writer{dst: dst, h: h}, nil
}

// Write implements io.Writer. Only the bytes accepted by the destination are hashed.
func (w *Writer) Write(p []byte) (int, error) {
	n := len(p)
	var err error
	if w.dst != nil {
		n, err = w.dst.Write(p)
	}
	if n > 0 {
		w.h.Write(p[:n])
		w.size += int64(n)
	}
	return n, err
}

// Sum returns the hex digest of everything written so far
func (w *Writer) Sum() string {
	return hex.EncodeToString(w.h.Sum(nil))
}

// Size returns the number of bytes written so far
func (w *Writer) Size() int64 {
	return w.size
}

// Reader hashes and counts every byte read through it
type Reader struct {
	src  io.Reader
	h    hash.Hash
	size int64
}

// NewReader wraps src with a hasher for algo
func NewReader(src io.Reader, algo Algorithm) (*Reader, error) {
	h, err := New(algo)
	if err != nil {
		return nil, err
	}
	return &Reader{src: src, h: h}, nil
}

// Read implements io.Reader
func (r *Reader) Read(p []byte) (int, error) {
	n, err := r.src.Read(p)
	if n > 0 {
		r.h.Write(p[:n])
		r.size += int64(n)
	}
	return n, err
}

// Sum returns the hex digest of everything read so far
func (r *Reader) Sum() string {
	return hex.EncodeToString(r.h.Sum(nil))
}

// Size returns the number of bytes read so far
func (r *Reader) Size() int64 {
	return r.size
}
