package inspect

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ning0612/Cargoback/internal/compress"
	"github.com/Ning0612/Cargoback/internal/core/checksum"
	"github.com/Ning0612/Cargoback/internal/domain"
)

func testManifest() *domain.BackupIncrementManifest {
	cfg := domain.BackupJobConfiguration{
		BackupType:        domain.BackupIncremental,
		HashAlgorithm:     checksum.SHA256,
		Compression:       compress.Zstd,
		EncryptionKey:     "age1example",
		DuplicateStrategy: domain.KeepEach,
		FileNamePrefix:    "photos",
	}
	m := domain.NewManifest(cfg, time.Unix(1700000000, 0), "test")
	m.SetVersions([]int{0, 1, 2})

	mtime := time.Date(2023, 11, 14, 22, 13, 20, 500, time.FixedZone("X", 3600))
	m.AddFile(domain.FileMetadata{ID: "1", AbsolutePath: "/p/b.jpg", Owner: "alice", Group: "staff",
		Permissions: "rw-r--r--", Size: 3 * 1024 * 1024, LastModified: mtime,
		FileType: domain.FileTypeRegular, Hash: "bbb", Status: domain.ChangeNew})
	m.AddFile(domain.FileMetadata{ID: "2", AbsolutePath: "/p", Owner: "alice", Group: "staff",
		Permissions: "rwxr-xr-x", LastModified: mtime,
		FileType: domain.FileTypeDirectory, Status: domain.ChangeNoChange})
	m.AddFile(domain.FileMetadata{ID: "3", AbsolutePath: "/p/a.jpg", Owner: "bob", Group: "staff",
		Permissions: "rw-------", Size: 1024 * 1024 / 2, LastModified: mtime,
		FileType: domain.FileTypeRegular, Hash: "aaa", Status: domain.ChangeNoChange})
	m.AddFile(domain.FileMetadata{ID: "4", AbsolutePath: "/p/old.jpg", Size: 99 * 1024 * 1024,
		FileType: domain.FileTypeRegular, Hash: "ccc", Status: domain.ChangeDeleted})
	return m
}

func TestWriteSummary(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSummary(&buf, testManifest()))

	want := `Backup type: INCREMENTAL
File name prefix: photos
Started at: 2023-11-14T22:13:20Z (Epoch seconds: 1700000000)
Contains 3 files (3.50 MiB)
Versions: [0, 1, 2]
Encrypted: true
Hash algorithm: SHA256
Compression algorithm: ZSTD
`
	assert.Equal(t, want, buf.String())
}

func TestWriteSummaries(t *testing.T) {
	var buf bytes.Buffer
	m := testManifest()
	require.NoError(t, WriteSummaries(&buf, []*domain.BackupIncrementManifest{m, m}))
	assert.Equal(t, 2, strings.Count(buf.String(), "Backup type:"))
	assert.Contains(t, buf.String(), "ZSTD\n\nBackup type:")
}

func TestWriteContent(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteContent(&buf, testManifest()))

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "permissions\towner\tgroup\tsize\tlast_modified\thash_sha256\tpath", lines[0])
	assert.Equal(t, "rwxr-xr-x\talice\tstaff\t0\t2023-11-14T21:13:20Z\t-\t/p", lines[1])
	assert.Equal(t, "rw-------\tbob\tstaff\t524288\t2023-11-14T21:13:20Z\taaa\t/p/a.jpg", lines[2])
	assert.Equal(t, "rw-r--r--\talice\tstaff\t3145728\t2023-11-14T21:13:20Z\tbbb\t/p/b.jpg", lines[3])
}
