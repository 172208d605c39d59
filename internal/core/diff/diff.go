package diff

import (
	"slices"

	"github.com/Ning0612/Cargoback/internal/domain"
)

// Classifier decides how a scanned file changed since the previous increment
type Classifier interface {
	// Classify returns f with Status set. Location is set when the content
	// already sits in an earlier archive of the chain.
	Classify(f domain.FileMetadata) domain.FileMetadata

	// Vanished returns DELETED records for files of the previous increment
	// whose paths were not scanned
	Vanished(scanned map[string]bool) []domain.FileMetadata
}

// FullClassifier treats every file as new
type FullClassifier struct{}

// Classify implements the Classifier interface
func (FullClassifier) Classify(f domain.FileMetadata) domain.FileMetadata {
	f.Status = domain.ChangeNew
	f.Location = nil
	return f
}

// Vanished implements the Classifier interface
func (FullClassifier) Vanished(map[string]bool) []domain.FileMetadata {
	return nil
}

// ChainClassifier compares against the latest manifest of a chain and
// recognizes content archived anywhere in that chain
type ChainClassifier struct {
	previous map[string]domain.FileMetadata
	archived map[string]domain.ArchiveLocation
}

// NewClassifier picks the classifier for a run. A FULL run or an empty chain
// classifies everything as new.
func NewClassifier(backupType domain.BackupType, chain []*domain.BackupIncrementManifest) Classifier {
	if backupType == domain.BackupFull || len(chain) == 0 {
		return FullClassifier{}
	}
	return NewChainClassifier(chain)
}

// NewChainClassifier indexes the chain, oldest manifest first
func NewChainClassifier(chain []*domain.BackupIncrementManifest) *ChainClassifier {
	c := &ChainClassifier{
		previous: make(map[string]domain.FileMetadata),
		archived: make(map[string]domain.ArchiveLocation),
	}
	for _, m := range chain {
		for _, f := range m.SortedFiles() {
			// Later increments win so restores read the newest archive
			if f.Location != nil && f.Hash != "" && f.FileType.IsContentSource() {
				c.archived[f.Hash] = *f.Location
			}
		}
	}
	if len(chain) > 0 {
		latest := chain[len(chain)-1]
		for _, f := range latest.Files {
			if f.Status != domain.ChangeDeleted {
				c.previous[f.AbsolutePath] = f
			}
		}
	}
	return c
}

// Classify implements the Classifier interface
func (c *ChainClassifier) Classify(f domain.FileMetadata) domain.FileMetadata {
	f.Location = nil

	prev, ok := c.previous[f.AbsolutePath]
	if !ok || prev.FileType != f.FileType {
		f.Status = domain.ChangeNew
		return f
	}

	// Directories only carry metadata
	if !f.FileType.IsContentSource() {
		f.Status = metadataChange(prev, f)
		return f
	}

	if f.Hash != "" && f.Hash == prev.Hash && prev.Location != nil {
		f.Status = metadataChange(prev, f)
		f.Location = locationOf(*prev.Location)
		return f
	}

	if loc, ok := c.archived[f.Hash]; ok && f.Hash != "" {
		f.Status = domain.ChangeRolledBack
		f.Location = locationOf(loc)
		return f
	}

	f.Status = domain.ChangeContentChanged
	return f
}

// Vanished implements the Classifier interface
func (c *ChainClassifier) Vanished(scanned map[string]bool) []domain.FileMetadata {
	var gone []domain.FileMetadata
	for path, prev := range c.previous {
		if scanned[path] {
			continue
		}
		prev.ID = domain.NewFileID()
		prev.Status = domain.ChangeDeleted
		prev.Location = nil
		prev.Error = ""
		gone = append(gone, prev)
	}
	slices.SortFunc(gone, func(a, b domain.FileMetadata) int {
		switch {
		case a.AbsolutePath < b.AbsolutePath:
			return -1
		case a.AbsolutePath > b.AbsolutePath:
			return 1
		}
		return 0
	})
	return gone
}

func metadataChange(prev, cur domain.FileMetadata) domain.Change {
	if prev.SameMetadata(cur) {
		return domain.ChangeNoChange
	}
	return domain.ChangeMetadataChanged
}

func locationOf(loc domain.ArchiveLocation) *domain.ArchiveLocation {
	return &loc
}
