package diff

import (
	"testing"
	"time"

	"github.com/Ning0612/Cargoback/internal/domain"
)

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func file(path, hash string, version int) domain.FileMetadata {
	f := domain.FileMetadata{
		ID:           domain.NewFileID(),
		AbsolutePath: path,
		Owner:        "alice",
		Group:        "staff",
		Permissions:  "rw-r--r--",
		Size:         10,
		LastModified: baseTime,
		FileType:     domain.FileTypeRegular,
		Hash:         hash,
		Status:       domain.ChangeNew,
	}
	if version >= 0 {
		f.Location = &domain.ArchiveLocation{Version: version, Entity: path}
	}
	return f
}

func manifest(version int, files ...domain.FileMetadata) *domain.BackupIncrementManifest {
	m := &domain.BackupIncrementManifest{Files: make(map[string]domain.FileMetadata)}
	versions := make([]int, 0, version+1)
	for v := 0; v <= version; v++ {
		versions = append(versions, v)
	}
	m.SetVersions(versions)
	for _, f := range files {
		m.AddFile(f)
	}
	return m
}

// testChain has /a archived with hash h1 in version 0, changed to h2 in version 1
func testChain() []*domain.BackupIncrementManifest {
	dir := file("/dir", "", -1)
	dir.FileType = domain.FileTypeDirectory

	v0 := manifest(0, file("/a", "h1", 0), file("/b", "hb", 0), dir)
	a1 := file("/a", "h2", 1)
	a1.Status = domain.ChangeContentChanged
	b1 := file("/b", "hb", 0)
	b1.Status = domain.ChangeNoChange
	gone := file("/c", "hc", -1)
	gone.Status = domain.ChangeDeleted
	v1 := manifest(1, a1, b1, dir, gone)
	return []*domain.BackupIncrementManifest{v0, v1}
}

func TestChainClassifier_Classify(t *testing.T) {
	c := NewChainClassifier(testChain())

	chmod := file("/b", "hb", -1)
	chmod.Permissions = "rwx------"

	touched := file("/b", "hb", -1)
	touched.LastModified = baseTime.Add(time.Second)

	dirSame := file("/dir", "", -1)
	dirSame.FileType = domain.FileTypeDirectory

	dirChanged := dirSame
	dirChanged.Owner = "bob"

	retyped := file("/dir", "hx", -1)

	tests := []struct {
		name       string
		input      domain.FileMetadata
		want       domain.Change
		wantVersion int // -1 for no location
	}{
		{"new path", file("/new", "hn", -1), domain.ChangeNew, -1},
		{"deleted path comes back", file("/c", "hc", -1), domain.ChangeNew, -1},
		{"unchanged", file("/b", "hb", -1), domain.ChangeNoChange, 0},
		{"permissions changed", chmod, domain.ChangeMetadataChanged, 0},
		{"mtime changed", touched, domain.ChangeMetadataChanged, 0},
		{"content changed", file("/a", "h3", -1), domain.ChangeContentChanged, -1},
		{"content rolled back", file("/a", "h1", -1), domain.ChangeRolledBack, 0},
		{"content of another archived file", file("/a", "hb", -1), domain.ChangeRolledBack, 0},
		{"unchanged after change", file("/a", "h2", -1), domain.ChangeNoChange, 1},
		{"directory unchanged", dirSame, domain.ChangeNoChange, -1},
		{"directory metadata", dirChanged, domain.ChangeMetadataChanged, -1},
		{"type changed", retyped, domain.ChangeNew, -1},
		{"missing hash", file("/a", "", -1), domain.ChangeContentChanged, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.input)
			if got.Status != tt.want {
				t.Errorf("Status = %s, want %s", got.Status, tt.want)
			}
			if tt.wantVersion < 0 {
				if got.Location != nil {
					t.Errorf("Location = %+v, want nil", got.Location)
				}
				return
			}
			if got.Location == nil {
				t.Fatalf("Location is nil, want version %d", tt.wantVersion)
			}
			if got.Location.Version != tt.wantVersion {
				t.Errorf("Location.Version = %d, want %d", got.Location.Version, tt.wantVersion)
			}
		})
	}
}

func TestChainClassifier_DoesNotShareLocations(t *testing.T) {
	c := NewChainClassifier(testChain())
	first := c.Classify(file("/b", "hb", -1))
	first.Location.Entity = "changed"

	second := c.Classify(file("/b", "hb", -1))
	if second.Location.Entity != "/b" {
		t.Errorf("classifier state was mutated through a returned location")
	}
}

func TestChainClassifier_Vanished(t *testing.T) {
	c := NewChainClassifier(testChain())

	gone := c.Vanished(map[string]bool{"/b": true})
	if len(gone) != 2 {
		t.Fatalf("expected 2 vanished files, got %d", len(gone))
	}
	if gone[0].AbsolutePath != "/a" || gone[1].AbsolutePath != "/dir" {
		t.Errorf("unexpected vanished files: %s, %s", gone[0].AbsolutePath, gone[1].AbsolutePath)
	}
	for _, f := range gone {
		if f.Status != domain.ChangeDeleted || f.Location != nil {
			t.Errorf("%s: Status = %s, Location = %v", f.AbsolutePath, f.Status, f.Location)
		}
	}

	// Files already deleted in the previous increment are not repeated
	for _, f := range c.Vanished(map[string]bool{}) {
		if f.AbsolutePath == "/c" {
			t.Errorf("/c reported as vanished twice")
		}
	}
}

func TestNewClassifier(t *testing.T) {
	chain := testChain()

	if _, ok := NewClassifier(domain.BackupFull, chain).(FullClassifier); !ok {
		t.Error("FULL backup should use FullClassifier")
	}
	if _, ok := NewClassifier(domain.BackupIncremental, nil).(FullClassifier); !ok {
		t.Error("incremental without history should use FullClassifier")
	}
	if _, ok := NewClassifier(domain.BackupIncremental, chain).(*ChainClassifier); !ok {
		t.Error("incremental with history should use ChainClassifier")
	}

	got := FullClassifier{}.Classify(file("/b", "hb", 0))
	if got.Status != domain.ChangeNew || got.Location != nil {
		t.Errorf("FullClassifier: Status = %s, Location = %v", got.Status, got.Location)
	}
	if (FullClassifier{}).Vanished(nil) != nil {
		t.Error("FullClassifier should not report vanished files")
	}
}
