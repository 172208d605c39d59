package manifest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ning0612/Cargoback/internal/adapter/local"
	"github.com/Ning0612/Cargoback/internal/compress"
	"github.com/Ning0612/Cargoback/internal/core/checksum"
	"github.com/Ning0612/Cargoback/internal/crypt"
	"github.com/Ning0612/Cargoback/internal/domain"
)

func testConfig(dest string) domain.BackupJobConfiguration {
	return domain.BackupJobConfiguration{
		BackupType:           domain.BackupIncremental,
		HashAlgorithm:        checksum.SHA256,
		Compression:          compress.Gzip,
		DuplicateStrategy:    domain.KeepEach,
		FileNamePrefix:       "job",
		DestinationDirectory: dest,
		Sources:              []domain.BackupSource{domain.NewBackupSource("/data", nil, nil)},
	}
}

// newTestManifest builds a manifest whose versions follow the previous one
func newTestManifest(dest string, epoch int64, backupType domain.BackupType, prev *domain.BackupIncrementManifest) *domain.BackupIncrementManifest {
	cfg := testConfig(dest)
	cfg.BackupType = backupType
	m := domain.NewManifest(cfg, time.Unix(epoch, 0), "test")
	if backupType == domain.BackupFull || prev == nil {
		m.SetVersions([]int{0})
	} else {
		m.SetVersions(append(append([]int{}, prev.Versions...), prev.Version()+1))
	}
	m.IndexFileName = m.BaseName() + ".index.cargo"
	m.DataFileNames = []string{m.BaseName() + ".00001.cargo"}

	f := domain.FileMetadata{
		ID:           domain.NewFileID(),
		AbsolutePath: "/data/a.txt",
		Permissions:  "rw-r--r--",
		Size:         3,
		LastModified: time.Date(2024, 5, 1, 10, 0, 0, 123456789, time.UTC),
		FileType:     domain.FileTypeRegular,
		Hash:         "abc",
		Status:       domain.ChangeNew,
		Location:     &domain.ArchiveLocation{Version: m.Version(), Entity: "/data/a.txt"},
	}
	m.AddFile(f)
	return m
}

// retentionFixture saves increments at 0(FULL), 10, 20, 30(FULL), 40 with their archive files
func retentionFixture(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	dest, err := local.New(dir)
	require.NoError(t, err)
	store := NewStore(dest, nil)

	var prev *domain.BackupIncrementManifest
	for _, step := range []struct {
		epoch int64
		typ   domain.BackupType
	}{
		{0, domain.BackupFull},
		{10, domain.BackupIncremental},
		{20, domain.BackupIncremental},
		{30, domain.BackupFull},
		{40, domain.BackupIncremental},
	} {
		m := newTestManifest(dir, step.epoch, step.typ, prev)
		require.NoError(t, store.Save(context.Background(), m, nil))
		for _, name := range m.ArchiveFiles() {
			require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644))
		}
		prev = m
	}
	return store, dir
}

func TestCodecRoundTrip(t *testing.T) {
	m := newTestManifest("/backup", 100, domain.BackupFull, nil)

	data, err := Encode(m, nil)
	require.NoError(t, err)
	assert.Equal(t, "CMP1", string(data[:4]))

	got, err := Decode(data, nil)
	require.NoError(t, err)
	assert.Equal(t, m.Files, got.Files)
	assert.Equal(t, m.Versions, got.Versions)
	assert.Equal(t, m.Configuration, got.Configuration)
	assert.Equal(t, m.DataFileNames, got.DataFileNames)

	again, err := Encode(got, nil)
	require.NoError(t, err)
	assert.Equal(t, data, again, "encoding must be deterministic")
}

func TestCodecSealed(t *testing.T) {
	kp, err := crypt.GenerateKeypair()
	require.NoError(t, err)
	recipient, err := crypt.ParseRecipient(kp.PublicKey)
	require.NoError(t, err)
	identity, err := crypt.ParseIdentity(kp.PrivateKey)
	require.NoError(t, err)

	dek, err := crypt.NewDataKey()
	require.NoError(t, err)
	m := newTestManifest("/backup", 100, domain.BackupFull, nil)
	m.EncryptionKey, err = recipient.WrapKey(dek)
	require.NoError(t, err)

	data, err := Encode(m, dek)
	require.NoError(t, err)
	assert.Equal(t, "CMS1", string(data[:4]))
	assert.NotContains(t, string(data), "/data/a.txt")

	got, err := Decode(data, identity)
	require.NoError(t, err)
	assert.Equal(t, m.Files, got.Files)

	_, err = Decode(data, nil)
	assert.ErrorIs(t, err, domain.ErrCrypto)

	other, err := crypt.GenerateKeypair()
	require.NoError(t, err)
	wrongIdentity, err := crypt.ParseIdentity(other.PrivateKey)
	require.NoError(t, err)
	_, err = Decode(data, wrongIdentity)
	assert.ErrorIs(t, err, domain.ErrCrypto)

	_, err = Decode(data[:len(data)-5], identity)
	assert.ErrorIs(t, err, domain.ErrIntegrity)
}

func TestCodecRejectsGarbage(t *testing.T) {
	for _, data := range [][]byte{nil, []byte("CM"), []byte("XXXX1234"), []byte("CMP1\xff\xff")} {
		_, err := Decode(data, nil)
		assert.ErrorIs(t, err, domain.ErrIntegrity, "input %q", data)
	}
}

func TestLoadAllIsIdempotent(t *testing.T) {
	store, _ := retentionFixture(t)
	ctx := context.Background()

	first, err := store.LoadAll(ctx, "job")
	require.NoError(t, err)
	second, err := store.LoadAll(ctx, "job")
	require.NoError(t, err)

	assert.Equal(t, []int64{0, 10, 20, 30, 40}, first.Epochs())
	assert.Equal(t, first.All(), second.All())
}

func TestLoadAllFiltersPrefix(t *testing.T) {
	store, dir := retentionFixture(t)
	ctx := context.Background()

	// A longer prefix sharing the same start must not match
	other := newTestManifest(dir, 50, domain.BackupFull, nil)
	other.FileNamePrefix = "job.old"
	other.Configuration.FileNamePrefix = "job.old"
	require.NoError(t, store.Save(ctx, other, nil))

	h, err := store.LoadAll(ctx, "job")
	require.NoError(t, err)
	assert.Equal(t, 5, h.Len())

	_, err = store.LoadAll(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNoManifests)
}

func TestSaveNeverOverwrites(t *testing.T) {
	store, dir := retentionFixture(t)
	m := newTestManifest(dir, 10, domain.BackupFull, nil)
	err := store.Save(context.Background(), m, nil)
	assert.ErrorIs(t, err, domain.ErrArchival)
}

func TestRetention(t *testing.T) {
	tests := []struct {
		name      string
		threshold int64
		deleted   []int64
		remaining []int64
		wantErr   error
	}{
		{"stops before next full", 10, []int64{10, 20}, []int64{0, 30, 40}, nil},
		{"last chain entirely", 30, []int64{30, 40}, []int64{0, 10, 20}, nil},
		{"first chain from full", 0, []int64{0, 10, 20}, []int64{30, 40}, nil},
		{"non matching threshold", 15, nil, []int64{0, 10, 20, 30, 40}, domain.ErrRetention},
		{"after last increment", 41, nil, []int64{0, 10, 20, 30, 40}, domain.ErrRetention},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, dir := retentionFixture(t)
			ctx := context.Background()

			h, err := store.LoadAll(ctx, "job")
			require.NoError(t, err)

			deleted, err := store.DeleteFrom(ctx, h, tt.threshold)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}

			var deletedEpochs []int64
			for _, m := range deleted {
				deletedEpochs = append(deletedEpochs, m.StartTimeUtcEpochSeconds)
				for _, name := range m.ArchiveFiles() {
					assert.NoFileExists(t, filepath.Join(dir, name))
				}
				assert.FileExists(t, filepath.Join(dir, HistoryDir, m.FileName()))
			}
			assert.Equal(t, tt.deleted, deletedEpochs)

			after, err := store.LoadAll(ctx, "job")
			require.NoError(t, err)
			assert.Equal(t, tt.remaining, after.Epochs())
			assert.Equal(t, tt.remaining, h.Without(deleted).Epochs())
		})
	}
}

func TestDeleteToleratesMissingArchiveFiles(t *testing.T) {
	store, dir := retentionFixture(t)
	ctx := context.Background()
	h, err := store.LoadAll(ctx, "job")
	require.NoError(t, err)

	m, _ := h.Get(40)
	require.NoError(t, os.Remove(filepath.Join(dir, m.IndexFileName)))
	require.NoError(t, store.Delete(ctx, m))
	assert.NoFileExists(t, filepath.Join(dir, m.FileName()))
}

func TestLatestAtOrBefore(t *testing.T) {
	var ms []*domain.BackupIncrementManifest
	var prev *domain.BackupIncrementManifest
	for _, e := range []int64{100, 200, 300} {
		prev = newTestManifest("/b", e, domain.BackupIncremental, prev)
		ms = append(ms, prev)
	}
	h := NewHistory(ms[2], ms[0], ms[1])
	now := time.Unix(1000, 0)

	tests := []struct {
		bound int64
		want  int64
	}{
		{100, 100},
		{250, 200},
		{300, 300},
		{999, 300},
		{5000, 300},
	}
	for _, tt := range tests {
		m, err := h.LatestAtOrBefore(time.Unix(tt.bound, 0), now)
		require.NoError(t, err)
		assert.Equal(t, tt.want, m.StartTimeUtcEpochSeconds, "bound %d", tt.bound)
	}

	_, err := h.LatestAtOrBefore(time.Unix(50, 0), now)
	assert.ErrorIs(t, err, domain.ErrNoManifests)

	_, err = NewHistory().LatestAtOrBefore(now, now)
	assert.ErrorIs(t, err, domain.ErrNoManifests)
}

func TestChain(t *testing.T) {
	store, _ := retentionFixture(t)
	h, err := store.LoadAll(context.Background(), "job")
	require.NoError(t, err)

	m20, _ := h.Get(20)
	chain, err := h.Chain(m20)
	require.NoError(t, err)
	require.Len(t, chain, 3)
	assert.Equal(t, []int{0, 1, 2}, m20.Versions)

	byVersion := ByVersion(chain)
	assert.Equal(t, int64(0), byVersion[0].StartTimeUtcEpochSeconds)
	assert.Equal(t, int64(20), byVersion[2].StartTimeUtcEpochSeconds)

	m30, _ := h.Get(30)
	chain, err = h.Chain(m30)
	require.NoError(t, err)
	assert.Len(t, chain, 1)

	m10, _ := h.Get(10)
	broken := NewHistory(m10, m20)
	_, err = broken.Chain(m20)
	assert.ErrorIs(t, err, domain.ErrIntegrity)
}
