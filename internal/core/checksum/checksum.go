package checksum

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"slices"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/sha3"
)

// Algorithm represents the hashing algorithm to use
type Algorithm string

const (
	MD5      Algorithm = "MD5"
	SHA1     Algorithm = "SHA1"
	SHA256   Algorithm = "SHA256"
	SHA512   Algorithm = "SHA512"
	SHA3_256 Algorithm = "SHA3_256"
	BLAKE3   Algorithm = "BLAKE3"
)

var constructors = map[Algorithm]func() hash.Hash{
	MD5:      md5.New,
	SHA1:     sha1.New,
	SHA256:   sha256.New,
	SHA512:   sha512.New,
	SHA3_256: sha3.New256,
	BLAKE3:   func() hash.Hash { return blake3.New() },
}

// Algorithms returns every supported algorithm in stable order
func Algorithms() []Algorithm {
	algos := make([]Algorithm, 0, len(constructors))
	for a := range constructors {
		algos = append(algos, a)
	}
	slices.Sort(algos)
	return algos
}

// New returns a fresh hasher for the algorithm
func New(algo Algorithm) (hash.Hash, error) {
	ctor, ok := constructors[algo]
	if !ok {
		return nil, fmt.Errorf("unsupported algorithm: %s", algo)
	}
	return ctor(), nil
}

// Options configures the checksum calculator
type Options struct {
	// MaxSize: files larger than this will not be checksummed (0 = unlimited)
	MaxSize int64

	// BufferSize: size of buffer for streaming reads
	// Default: 64KB
	BufferSize int
}

// DefaultOptions returns the recommended default options.
// Backups hash every file, so there is no size limit by default.
func DefaultOptions() Options {
	return Options{
		MaxSize:    0,
		BufferSize: 64 * 1024,
	}
}

// Calculator computes file checksums
type Calculator interface {
	// Calculate computes checksum from an io.Reader
	Calculate(ctx context.Context, reader io.Reader, algo Algorithm) (string, error)

	// CalculateFile opens path and computes its checksum
	CalculateFile(ctx context.Context, path string, algo Algorithm) (string, error)
}

// DefaultCalculator implements Calculator with streaming support
type DefaultCalculator struct {
	opts Options
}

// NewCalculator creates a new calculator with the given options
func NewCalculator(opts Options) *DefaultCalculator {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultOptions().BufferSize
	}
	return &DefaultCalculator{opts: opts}
}

// NewDefaultCalculator creates a calculator with default options
func NewDefaultCalculator() *DefaultCalculator {
	return NewCalculator(DefaultOptions())
}

// Calculate implements the Calculator interface
func (c *DefaultCalculator) Calculate(ctx context.Context, reader io.Reader, algo Algorithm) (string, error) {
	h, err := New(algo)
	if err != nil {
		return "", err
	}

	var limitedReader io.Reader = reader
	if c.opts.MaxSize > 0 {
		limitedReader = io.LimitReader(reader, c.opts.MaxSize+1)
	}

	buffer := make([]byte, c.opts.BufferSize)
	totalBytes := int64(0)

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		n, err := limitedReader.Read(buffer)
		if n > 0 {
			totalBytes += int64(n)

			if c.opts.MaxSize > 0 && totalBytes > c.opts.MaxSize {
				return "", fmt.Errorf("file size exceeds maximum (%d bytes)", c.opts.MaxSize)
			}

			if _, hashErr := h.Write(buffer[:n]); hashErr != nil {
				return "", fmt.Errorf("hash write error: %w", hashErr)
			}
		}

		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read error: %w", err)
		}
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// CalculateFile implements the Calculator interface
func (c *DefaultCalculator) CalculateFile(ctx context.Context, path string, algo Algorithm) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return c.Calculate(ctx, f, algo)
}

// IsSupported checks if the given algorithm is supported
func IsSupported(algo Algorithm) bool {
	_, ok := constructors[algo]
	return ok
}
