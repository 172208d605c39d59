package scope

import (
	"slices"
	"strings"

	"github.com/Ning0612/Cargoback/internal/domain"
)

// Group is a batch of files archived from a single content stream.
// Files is never empty and its first element is the representative.
type Group struct {
	Key   string
	Files []domain.FileMetadata
}

// Representative returns the file whose bytes are read from disk
func (g Group) Representative() domain.FileMetadata {
	return g.Files[0]
}

// Duplicates returns the members that reference the representative's content
func (g Group) Duplicates() []domain.FileMetadata {
	return g.Files[1:]
}

// Partitioner splits the files of a run into archival batches
type Partitioner interface {
	Partition(files []domain.FileMetadata) []Group
}

// StrategyPartitioner groups by the key of a duplicate strategy
type StrategyPartitioner struct {
	Strategy domain.DuplicateStrategy
}

// NewPartitioner creates a partitioner for the strategy
func NewPartitioner(strategy domain.DuplicateStrategy) *StrategyPartitioner {
	return &StrategyPartitioner{Strategy: strategy}
}

// Qualifies reports whether a file's content has to be archived in this run
func Qualifies(f domain.FileMetadata) bool {
	return f.Status.StoreContent() && f.FileType.IsContentSource()
}

// Partition implements the Partitioner interface. Members of a group are
// ordered by path and groups by their representative's path.
func (p *StrategyPartitioner) Partition(files []domain.FileMetadata) []Group {
	byKey := make(map[string]*Group)
	for _, f := range files {
		if !Qualifies(f) {
			continue
		}
		key := p.Strategy.GroupingKey(f)
		g, ok := byKey[key]
		if !ok {
			g = &Group{Key: key}
			byKey[key] = g
		}
		g.Files = append(g.Files, f)
	}

	groups := make([]Group, 0, len(byKey))
	for _, g := range byKey {
		slices.SortFunc(g.Files, compareFiles)
		groups = append(groups, *g)
	}
	slices.SortFunc(groups, func(a, b Group) int {
		return compareFiles(a.Representative(), b.Representative())
	})
	return groups
}

func compareFiles(a, b domain.FileMetadata) int {
	if c := strings.Compare(a.AbsolutePath, b.AbsolutePath); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

// ReadSize sums the sizes of the representatives, the bytes a run reads
func ReadSize(groups []Group) int64 {
	var total int64
	for _, g := range groups {
		total += g.Representative().Size
	}
	return total
}
