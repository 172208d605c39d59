// Package crypt provides the per-archive data key, the authenticated stream
// cipher used for archive sections and manifests, and key wrapping.
package crypt

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/Ning0612/Cargoback/internal/domain"
)

const (
	// IVSize is the length of the unencrypted random prefix of every stream
	IVSize = 12

	// KeySize is the length of a data encryption key (AES-256)
	KeySize = 32

	segmentSize = 64 * 1024
	finalFlag   = uint32(1) << 31
	maxSealed   = segmentSize + 16
)

// NewDataKey returns a fresh random data encryption key
func NewDataKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("%w: generating data key: %v", domain.ErrCrypto, err)
	}
	return key, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: data key must be %d bytes, got %d", domain.ErrCrypto, KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCrypto, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCrypto, err)
	}
	return aead, nil
}

func segmentNonce(iv []byte, counter uint64) []byte {
	nonce := make([]byte, IVSize)
	copy(nonce, iv)
	tail := binary.BigEndian.Uint64(nonce[IVSize-8:])
	binary.BigEndian.PutUint64(nonce[IVSize-8:], tail^counter)
	return nonce
}

func segmentAAD(final bool) []byte {
	if final {
		return []byte{1}
	}
	return []byte{0}
}

// Writer encrypts a stream in authenticated segments. The layout is the
// random IV followed by segments of [uint32 length][sealed bytes]; the high
// bit of the length marks the final segment. Close must be called to emit
// the final segment; it does not close the destination.
type Writer struct {
	dst     io.Writer
	aead    cipher.AEAD
	iv      []byte
	buf     []byte
	counter uint64
	closed  bool
	err     error
}

// NewWriter writes a fresh IV to dst and returns the encrypting writer
func NewWriter(dst io.Writer, key []byte) (*Writer, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("%w: generating iv: %v", domain.ErrCrypto, err)
	}
	if _, err := dst.Write(iv); err != nil {
		return nil, err
	}
	return &Writer{
		dst:  dst,
		aead: aead,
		iv:   iv,
		buf:  make([]byte, 0, segmentSize),
	}, nil
}

// Write implements io.Writer
func (w *Writer) Write(p []byte) (int, error) {
	if w.err != nil {
		return 0, w.err
	}
	if w.closed {
		return 0, errors.New("write to closed cipher stream")
	}
	written := 0
	for len(p) > 0 {
		// A full buffer is only flushed once more data arrives, so the
		// last segment is always emitted by Close.
		if len(w.buf) == segmentSize {
			if err := w.flush(false); err != nil {
				return written, err
			}
		}
		n := copy(w.buf[len(w.buf):segmentSize], p)
		w.buf = w.buf[:len(w.buf)+n]
		p = p[n:]
		written += n
	}
	return written, nil
}

func (w *Writer) flush(final bool) error {
	sealed := w.aead.Seal(nil, segmentNonce(w.iv, w.counter), w.buf, segmentAAD(final))
	header := uint32(len(sealed))
	if final {
		header |= finalFlag
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], header)
	if _, err := w.dst.Write(lenBuf[:]); err != nil {
		w.err = err
		return err
	}
	if _, err := w.dst.Write(sealed); err != nil {
		w.err = err
		return err
	}
	w.counter++
	w.buf = w.buf[:0]
	return nil
}

// Close emits the final segment
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	if w.err != nil {
		return w.err
	}
	w.closed = true
	return w.flush(true)
}

// Reader decrypts a stream produced by Writer. A stream that ends before the
// final segment, or whose segments fail authentication, yields an error
// wrapping domain.ErrIntegrity.
type Reader struct {
	src     io.Reader
	aead    cipher.AEAD
	iv      []byte
	plain   []byte
	counter uint64
	done    bool
	err     error
}

// NewReader reads the IV prefix from src and returns the decrypting reader
func NewReader(src io.Reader, key []byte) (*Reader, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(src, iv); err != nil {
		return nil, fmt.Errorf("%w: reading iv: %v", domain.ErrIntegrity, err)
	}
	return &Reader{src: src, aead: aead, iv: iv}, nil
}

// Read implements io.Reader
func (r *Reader) Read(p []byte) (int, error) {
	for len(r.plain) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		if r.done {
			return 0, io.EOF
		}
		r.err = r.next()
	}
	n := copy(p, r.plain)
	r.plain = r.plain[n:]
	return n, nil
}

func (r *Reader) next() error {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r.src, lenBuf[:]); err != nil {
		return fmt.Errorf("%w: cipher stream truncated: %v", domain.ErrIntegrity, err)
	}
	header := binary.BigEndian.Uint32(lenBuf[:])
	final := header&finalFlag != 0
	size := header &^ finalFlag
	if size > maxSealed {
		return fmt.Errorf("%w: cipher segment of %d bytes exceeds limit", domain.ErrIntegrity, size)
	}
	sealed := make([]byte, size)
	if _, err := io.ReadFull(r.src, sealed); err != nil {
		return fmt.Errorf("%w: cipher segment truncated: %v", domain.ErrIntegrity, err)
	}
	plain, err := r.aead.Open(nil, segmentNonce(r.iv, r.counter), sealed, segmentAAD(final))
	if err != nil {
		return fmt.Errorf("%w: cipher segment %d failed authentication", domain.ErrIntegrity, r.counter)
	}
	r.counter++
	r.plain = plain
	r.done = final
	return nil
}

// Seal encrypts a complete buffer into the stream format
func Seal(key, plaintext []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, key)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Open decrypts a complete buffer produced by Seal
func Open(key, sealed []byte) ([]byte, error) {
	r, err := NewReader(bytes.NewReader(sealed), key)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}
