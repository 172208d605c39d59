package manifest

import (
	"fmt"
	"slices"
	"time"

	"github.com/Ning0612/Cargoback/internal/domain"
)

// History is the time-ordered set of manifests of one job
type History struct {
	manifests []*domain.BackupIncrementManifest
}

// NewHistory sorts the manifests by start time
func NewHistory(manifests ...*domain.BackupIncrementManifest) *History {
	sorted := slices.Clone(manifests)
	slices.SortStableFunc(sorted, func(a, b *domain.BackupIncrementManifest) int {
		return compareInt64(a.StartTimeUtcEpochSeconds, b.StartTimeUtcEpochSeconds)
	})
	return &History{manifests: sorted}
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// All returns the manifests, oldest first
func (h *History) All() []*domain.BackupIncrementManifest {
	return slices.Clone(h.manifests)
}

// Len returns the number of manifests
func (h *History) Len() int {
	return len(h.manifests)
}

// Epochs returns the start times, ascending
func (h *History) Epochs() []int64 {
	epochs := make([]int64, len(h.manifests))
	for i, m := range h.manifests {
		epochs[i] = m.StartTimeUtcEpochSeconds
	}
	return epochs
}

// Latest returns the newest manifest
func (h *History) Latest() (*domain.BackupIncrementManifest, bool) {
	if len(h.manifests) == 0 {
		return nil, false
	}
	return h.manifests[len(h.manifests)-1], true
}

// Get returns the manifest started at the given epoch second
func (h *History) Get(epochSeconds int64) (*domain.BackupIncrementManifest, bool) {
	i, found := h.search(epochSeconds)
	if !found {
		return nil, false
	}
	return h.manifests[i], true
}

func (h *History) search(epochSeconds int64) (int, bool) {
	return slices.BinarySearchFunc(h.manifests, epochSeconds, func(m *domain.BackupIncrementManifest, t int64) int {
		return compareInt64(m.StartTimeUtcEpochSeconds, t)
	})
}

// LatestAtOrBefore returns the newest manifest started at or before bound.
// A bound in the future is treated as now.
func (h *History) LatestAtOrBefore(bound, now time.Time) (*domain.BackupIncrementManifest, error) {
	if bound.After(now) {
		bound = now
	}
	if len(h.manifests) == 0 {
		return nil, domain.ErrNoManifests
	}
	epoch := bound.Unix()
	i, found := h.search(epoch)
	if found {
		return h.manifests[i], nil
	}
	if i == 0 {
		return nil, fmt.Errorf("%w: no increment started at or before %s (epoch %d)",
			domain.ErrNoManifests, bound.UTC().Format(time.RFC3339), epoch)
	}
	return h.manifests[i-1], nil
}

// SelectForDeletion returns the manifests removed when deleting from the
// increment started at threshold up to, not including, the next FULL backup.
func (h *History) SelectForDeletion(threshold int64) ([]*domain.BackupIncrementManifest, error) {
	if len(h.manifests) == 0 {
		return nil, domain.ErrNoManifests
	}
	i, found := h.search(threshold)
	if i == len(h.manifests) {
		return nil, fmt.Errorf("%w: no increment started at or after epoch %d", domain.ErrRetention, threshold)
	}
	if !found {
		return nil, fmt.Errorf("%w: epoch %d is not an increment start, the next one is %d",
			domain.ErrRetention, threshold, h.manifests[i].StartTimeUtcEpochSeconds)
	}

	var selected []*domain.BackupIncrementManifest
	for _, m := range h.manifests[i:] {
		if m.StartTimeUtcEpochSeconds > threshold && m.BackupType == domain.BackupFull {
			break
		}
		selected = append(selected, m)
	}
	return selected, nil
}

// Without returns a history lacking the given manifests
func (h *History) Without(removed []*domain.BackupIncrementManifest) *History {
	kept := slices.DeleteFunc(slices.Clone(h.manifests), func(m *domain.BackupIncrementManifest) bool {
		return slices.Contains(removed, m)
	})
	return &History{manifests: kept}
}

// Chain returns the manifests m depends on, from the FULL backup that
// started its chain up to and including m.
func (h *History) Chain(m *domain.BackupIncrementManifest) ([]*domain.BackupIncrementManifest, error) {
	i, found := h.search(m.StartTimeUtcEpochSeconds)
	if !found {
		return nil, fmt.Errorf("%w: increment %s is not part of the history", domain.ErrNotFound, m.BaseName())
	}
	for j := i; j >= 0; j-- {
		if h.manifests[j].BackupType == domain.BackupFull {
			return slices.Clone(h.manifests[j : i+1]), nil
		}
	}
	return nil, fmt.Errorf("%w: increment %s has no FULL backup before it", domain.ErrIntegrity, m.BaseName())
}

// ByVersion maps each chain member to its version
func ByVersion(chain []*domain.BackupIncrementManifest) map[int]*domain.BackupIncrementManifest {
	result := make(map[int]*domain.BackupIncrementManifest, len(chain))
	for _, m := range chain {
		result[m.Version()] = m
	}
	return result
}
