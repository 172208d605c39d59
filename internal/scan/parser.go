package scan

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/Ning0612/Cargoback/internal/core/checksum"
	"github.com/Ning0612/Cargoback/internal/domain"
)

// ParseResult is the outcome of reading one path. Exactly one of Missing,
// Err or a usable Metadata applies.
type ParseResult struct {
	Metadata domain.FileMetadata
	// Missing means the path no longer exists
	Missing bool
	// Err is a read failure on an existing path, wrapping domain.ErrParse
	Err error
}

// OK reports whether Metadata is usable
func (r ParseResult) OK() bool {
	return !r.Missing && r.Err == nil
}

// MetadataParser reads the attributes and content hash of a path
type MetadataParser interface {
	Parse(ctx context.Context, path string) ParseResult
}

// FileParser reads local files with os.Lstat and hashes their content
type FileParser struct {
	algorithm  checksum.Algorithm
	calculator checksum.Calculator
	owners     *ownerCache
}

// NewFileParser creates a parser hashing with the given algorithm
func NewFileParser(algo checksum.Algorithm) (*FileParser, error) {
	if !checksum.IsSupported(algo) {
		return nil, fmt.Errorf("%w: unsupported hash algorithm %q", domain.ErrInvalidArgument, algo)
	}
	return &FileParser{
		algorithm:  algo,
		calculator: checksum.NewDefaultCalculator(),
		owners:     newOwnerCache(),
	}, nil
}

// Parse implements the MetadataParser interface
func (p *FileParser) Parse(ctx context.Context, path string) ParseResult {
	info, err := os.Lstat(path)
	if err != nil {
		return failure(path, err)
	}

	f := domain.FileMetadata{
		ID:           domain.NewFileID(),
		AbsolutePath: path,
		Permissions:  domain.FormatPermissions(info.Mode()),
		LastModified: info.ModTime().UTC(),
	}
	f.LastAccessed, f.CreatedAt = fileTimes(info)
	f.Owner, f.Group = p.owners.lookup(info)

	switch mode := info.Mode(); {
	case mode.IsRegular():
		f.FileType = domain.FileTypeRegular
		f.Size = info.Size()
		f.Hash, err = p.calculator.CalculateFile(ctx, path, p.algorithm)
		if err != nil {
			return failure(path, err)
		}
	case mode.IsDir():
		f.FileType = domain.FileTypeDirectory
	case mode&fs.ModeSymlink != 0:
		target, err := os.Readlink(path)
		if err != nil {
			return failure(path, err)
		}
		f.FileType = domain.FileTypeSymlink
		f.Size = int64(len(target))
		f.Hash, err = p.calculator.Calculate(ctx, strings.NewReader(target), p.algorithm)
		if err != nil {
			return failure(path, err)
		}
	default:
		return ParseResult{Err: fmt.Errorf("%w: %s: unsupported file type %s", domain.ErrParse, path, mode.Type())}
	}

	return ParseResult{Metadata: f}
}

func failure(path string, err error) ParseResult {
	if errors.Is(err, fs.ErrNotExist) {
		return ParseResult{Missing: true}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ParseResult{Err: err}
	}
	return ParseResult{Err: fmt.Errorf("%w: %s: %v", domain.ErrParse, path, err)}
}
