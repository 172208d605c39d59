package scan

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/Ning0612/Cargoback/internal/domain"
	"github.com/Ning0612/Cargoback/internal/logger"
)

// Failure is a path the walker or the parser could not read
type Failure struct {
	Path string
	Err  error
}

// WalkResult lists the absolute paths in scope, sorted
type WalkResult struct {
	Paths    []string
	Failures []Failure
}

// Walk collects every path under the sources. Symbolic links are recorded
// but never followed. Include patterns only filter files; directories are
// kept unless excluded, and an excluded directory prunes its subtree.
func Walk(ctx context.Context, sources []domain.BackupSource) (*WalkResult, error) {
	log := logger.Get()
	result := &WalkResult{}
	seen := make(map[string]bool)

	add := func(path string) {
		if !seen[path] {
			seen[path] = true
			result.Paths = append(result.Paths, path)
		}
	}

	for _, src := range sources {
		src = src.Normalize()
		root, err := filepath.Abs(src.Path)
		if err != nil {
			return nil, err
		}

		info, err := os.Lstat(root)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				log.Warn("Backup source does not exist", "source", root)
			}
			result.Failures = append(result.Failures, Failure{Path: root, Err: err})
			continue
		}
		if !info.IsDir() {
			add(root)
			continue
		}

		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if err != nil {
				log.Warn("Cannot read path", "path", path, "error", err)
				result.Failures = append(result.Failures, Failure{Path: path, Err: err})
				if d != nil && d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			if path == root {
				add(path)
				return nil
			}

			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			if d.IsDir() {
				if src.Excludes(rel) {
					return fs.SkipDir
				}
				add(path)
				return nil
			}
			if src.Matches(rel) {
				add(path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	slices.Sort(result.Paths)
	log.Debug("Walk finished", "paths", len(result.Paths), "failures", len(result.Failures))
	return result, nil
}
