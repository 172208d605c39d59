package archive

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ning0612/Cargoback/internal/domain"
)

func mustBoundary(t *testing.T, bb *BoundaryBuilder) BoundaryRange {
	t.Helper()
	b, err := bb.Build()
	require.NoError(t, err)
	return b
}

func sampleFileEntity(t *testing.T, path string) EntityIndex {
	content := mustBoundary(t, NewBoundaryBuilder().
		Start("job-1.00001.cargo", 90, 90).
		End("job-1.00003.cargo", 20, 320).
		Original(1000, "abc123").
		Archived(230, "def456"))
	return EntityIndex{
		Path:      path,
		FileType:  domain.FileTypeRegular,
		Encrypted: true,
		Content:   &content,
		Metadata: mustBoundary(t, NewBoundaryBuilder().
			Start("job-1.00003.cargo", 20, 320).
			End("job-1.00003.cargo", 60, 360).
			Original(55, "").
			Archived(40, "null")),
	}
}

func sampleDirEntity(t *testing.T, path string) EntityIndex {
	return EntityIndex{
		Path:     path,
		FileType: domain.FileTypeDirectory,
		Metadata: mustBoundary(t, NewBoundaryBuilder().
			Start("job-1.00001.cargo", 0, 0).
			End("job-1.00001.cargo", 90, 90).
			Original(120, "aaa").
			Archived(90, "bbb")),
	}
}

func TestBoundaryBuilderValidation(t *testing.T) {
	tests := []struct {
		name    string
		builder *BoundaryBuilder
		wantErr bool
	}{
		{
			name:    "single chunk",
			builder: NewBoundaryBuilder().Start("a", 10, 10).End("a", 30, 30).Archived(20, "h"),
		},
		{
			name:    "empty section",
			builder: NewBoundaryBuilder().Start("a", 10, 10).End("a", 10, 10),
		},
		{
			name:    "spanning chunks",
			builder: NewBoundaryBuilder().Start("a", 90, 90).End("b", 5, 105).Archived(15, "h"),
		},
		{
			name:    "absolute size mismatch",
			builder: NewBoundaryBuilder().Start("a", 0, 0).End("a", 20, 21).Archived(20, "h"),
			wantErr: true,
		},
		{
			name:    "relative size mismatch",
			builder: NewBoundaryBuilder().Start("a", 0, 0).End("a", 19, 20).Archived(20, "h"),
			wantErr: true,
		},
		{
			name:    "missing chunk name",
			builder: NewBoundaryBuilder().Start("", 0, 0).End("a", 0, 0),
			wantErr: true,
		},
		{
			name:    "negative offset",
			builder: NewBoundaryBuilder().Start("a", -1, 0).End("a", 0, 1).Archived(1, ""),
			wantErr: true,
		},
		{
			name:    "relative end beyond size",
			builder: NewBoundaryBuilder().Start("a", 90, 90).End("b", 50, 100).Archived(10, ""),
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := tt.builder.Build()
			if tt.wantErr {
				assert.True(t, errors.Is(err, domain.ErrIntegrity), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, b.AbsoluteEnd()-b.AbsoluteStart(), b.ArchivedSize())
		})
	}
}

func TestEntityRoundTrip(t *testing.T) {
	for _, entity := range []EntityIndex{sampleFileEntity(t, "/data/a.txt"), sampleDirEntity(t, "/data")} {
		t.Run(string(entity.FileType), func(t *testing.T) {
			var buf bytes.Buffer
			pw := newPropertyWriter(&buf)
			entity.writeProperties("1", pw)
			require.NoError(t, pw.flush())

			props, err := parseProperties(&buf)
			require.NoError(t, err)
			got, err := parseEntity("1", props)
			require.NoError(t, err)
			assert.Equal(t, entity, got)
		})
	}
}

func TestEntityHashNormalization(t *testing.T) {
	e := sampleFileEntity(t, "/x")
	assert.Equal(t, "", e.Metadata.OriginalHash())
	assert.Equal(t, "", e.Metadata.ArchivedHash())

	var buf bytes.Buffer
	pw := newPropertyWriter(&buf)
	e.writeProperties("7", pw)
	require.NoError(t, pw.flush())
	assert.NotContains(t, buf.String(), "7.metadata.orig.hash")
	assert.NotContains(t, buf.String(), "null")

	// A hash written as "null" by an older writer is read as absent.
	text := buf.String() + "7.metadata.arch.hash:null\n"
	props, err := parseProperties(strings.NewReader(text))
	require.NoError(t, err)
	got, err := parseEntity("7", props)
	require.NoError(t, err)
	assert.Equal(t, "", got.Metadata.ArchivedHash())
}

func TestEntitiesBackToBack(t *testing.T) {
	first := sampleFileEntity(t, "/data/with:colon\nand newline")
	second := sampleDirEntity(t, `C:\data\dir`)

	var buf bytes.Buffer
	pw := newPropertyWriter(&buf)
	first.writeProperties("1", pw)
	second.writeProperties("2", pw)
	require.NoError(t, pw.flush())

	text := buf.String()
	assert.NotContains(t, text, "\n\n")
	assert.True(t, strings.HasSuffix(text, "\n"))
	assert.False(t, strings.HasPrefix(text, "\n"))

	props, err := parseProperties(strings.NewReader(text))
	require.NoError(t, err)

	got2, err := parseEntity("2", props)
	require.NoError(t, err)
	assert.Equal(t, second, got2)
	got1, err := parseEntity("1", props)
	require.NoError(t, err)
	assert.Equal(t, first, got1)
}

func TestEntityValidate(t *testing.T) {
	dir := sampleDirEntity(t, "/d")
	file := sampleFileEntity(t, "/f")

	withContent := dir
	withContent.Content = file.Content
	assert.Error(t, withContent.Validate())

	noContent := file
	noContent.Content = nil
	assert.Error(t, noContent.Validate())

	link := file
	link.FileType = domain.FileTypeSymlink
	assert.NoError(t, link.Validate())

	unknown := file
	unknown.FileType = "FIFO"
	assert.Error(t, unknown.Validate())
}

func TestParseEntityMissingKeys(t *testing.T) {
	props, err := parseProperties(strings.NewReader("1.path:/x\n1.type:DIRECTORY\n"))
	require.NoError(t, err)
	_, err = parseEntity("1", props)
	assert.True(t, errors.Is(err, domain.ErrIntegrity))
}

func TestPropertiesEscaping(t *testing.T) {
	values := []string{"", "plain", "a:b:c", "line\nbreak", "cr\rlf\r\n", `back\slash`, `\n literal`}
	var buf bytes.Buffer
	pw := newPropertyWriter(&buf)
	for i, v := range values {
		pw.put(strings.Repeat("k", i+1), v)
	}
	require.NoError(t, pw.flush())
	assert.Equal(t, len(values), strings.Count(buf.String(), "\n"))

	props, err := parseProperties(&buf)
	require.NoError(t, err)
	for i, v := range values {
		assert.Equal(t, v, props[strings.Repeat("k", i+1)])
	}
}

func TestPropertiesMalformed(t *testing.T) {
	for _, text := range []string{"no separator\n", ":value\n", "k:bad\\escape\n", "k:dangling\\\n", "k:1\nk:2\n"} {
		_, err := parseProperties(strings.NewReader(text))
		assert.True(t, errors.Is(err, domain.ErrIntegrity), "input %q: %v", text, err)
	}
}

func TestFooterV2RoundTrip(t *testing.T) {
	footer := ArchiveIndex{
		Version:            IndexV2,
		TotalEntities:      1,
		NumberOfChunks:     3,
		MaxChunkSizeBytes:  100,
		LastChunkSizeBytes: 60,
		TotalSizeBytes:     260,
	}
	entities := []EntityIndex{sampleFileEntity(t, "/a")}

	var buf bytes.Buffer
	require.NoError(t, EncodeIndex(&buf, entities, footer))
	text := buf.String()
	assert.Contains(t, text, "last.chunk.index:3\n")
	assert.Contains(t, text, "last.chunk.size:60\n")
	assert.Contains(t, text, "index.version:2\n")
	assert.NotContains(t, text, "cnunk")

	gotEntities, gotFooter, err := DecodeIndex(strings.NewReader(text))
	require.NoError(t, err)
	assert.Equal(t, footer, gotFooter)
	assert.Equal(t, entities, gotEntities)
}

func TestFooterV1Parse(t *testing.T) {
	text := strings.Join([]string{
		"last.cnunk.index:2",
		"last.cnunk.size:40",
		"max.chunk.size:100",
		"last.entity.index:0",
		"total.size:140",
		"index.version:1",
	}, "\n") + "\n"

	entities, footer, err := DecodeIndex(strings.NewReader(text))
	require.NoError(t, err)
	assert.Empty(t, entities)
	assert.Equal(t, ArchiveIndex{
		Version:            IndexV1,
		NumberOfChunks:     2,
		MaxChunkSizeBytes:  100,
		LastChunkSizeBytes: 40,
		TotalSizeBytes:     140,
	}, footer)

	// V2 spelling under a V1 version tag is not accepted
	v2keys := strings.ReplaceAll(text, "cnunk", "chunk")
	_, _, err = DecodeIndex(strings.NewReader(v2keys))
	assert.True(t, errors.Is(err, domain.ErrIntegrity))
}

func TestFooterV1NotWritten(t *testing.T) {
	footer := ArchiveIndex{Version: IndexV1, NumberOfChunks: 1}
	err := EncodeIndex(&bytes.Buffer{}, nil, footer)
	assert.True(t, errors.Is(err, domain.ErrArchival))
}

func TestFooterValidate(t *testing.T) {
	tests := []struct {
		name   string
		footer ArchiveIndex
		ok     bool
	}{
		{"unbounded", ArchiveIndex{Version: IndexV2, NumberOfChunks: 1, LastChunkSizeBytes: 500, TotalSizeBytes: 500}, true},
		{"unbounded multi chunk", ArchiveIndex{Version: IndexV2, NumberOfChunks: 2, LastChunkSizeBytes: 500, TotalSizeBytes: 500}, false},
		{"exact full chunks", ArchiveIndex{Version: IndexV2, NumberOfChunks: 2, MaxChunkSizeBytes: 10, LastChunkSizeBytes: 10, TotalSizeBytes: 20}, true},
		{"sizes disagree", ArchiveIndex{Version: IndexV2, NumberOfChunks: 2, MaxChunkSizeBytes: 10, LastChunkSizeBytes: 5, TotalSizeBytes: 20}, false},
		{"no chunks", ArchiveIndex{Version: IndexV2}, false},
		{"unknown version", ArchiveIndex{Version: 3, NumberOfChunks: 1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.footer.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, domain.ErrIntegrity), "got %v", err)
			}
		})
	}
}

func TestDecodeIndexEntityCountMismatch(t *testing.T) {
	var buf bytes.Buffer
	pw := newPropertyWriter(&buf)
	sampleDirEntity(t, "/a").writeProperties("1", pw)
	sampleDirEntity(t, "/b").writeProperties("2", pw)
	footer := ArchiveIndex{Version: IndexV2, TotalEntities: 1, NumberOfChunks: 1}
	require.NoError(t, footer.writeProperties(pw))
	require.NoError(t, pw.flush())

	_, _, err := DecodeIndex(&buf)
	assert.True(t, errors.Is(err, domain.ErrIntegrity))
}

func TestStatePath(t *testing.T) {
	assert.Equal(t,
		[]EntryState{StatePreContent, StateContent, StatePreMetadata, StateMetadata, StateClosed},
		StatePath(domain.FileTypeRegular))
	assert.Equal(t,
		[]EntryState{StatePreContent, StateContent, StatePreMetadata, StateMetadata, StateClosed},
		StatePath(domain.FileTypeSymlink))
	dirPath := StatePath(domain.FileTypeDirectory)
	assert.Equal(t, []EntryState{StatePreMetadata, StateMetadata, StateClosed}, dirPath)
	assert.NotContains(t, dirPath, StateContent)

	_, ok := StateClosed.Next()
	assert.False(t, ok)
	assert.Equal(t, "PRE_METADATA", StatePreMetadata.String())
}
