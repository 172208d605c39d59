package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ning0612/Cargoback/internal/testutil"
)

// run executes one command line and returns its standard output
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root, a := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)

	err := root.ExecuteContext(context.Background())
	require.NoError(t, a.teardown())
	return out.String(), err
}

func writeConfig(t *testing.T, src, dst string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := fmt.Sprintf(`data_dir: %s
log:
  level: error
jobs:
  - name: docs
    destination_directory: %s
    compression: gzip
    sources:
      - path: %s
`, filepath.Join(dir, "data"), dst, src)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{"", time.Time{}, false},
		{"1700000000", time.Unix(1700000000, 0).UTC(), false},
		{"2023-11-14T22:13:20Z", time.Unix(1700000000, 0).UTC(), false},
		{"yesterday", time.Time{}, true},
	}
	for _, tt := range tests {
		got, err := parseTime(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.True(t, tt.want.Equal(got), tt.in)
	}
}

func TestKeygen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "id.key")
	out, err := run(t, "keygen", "-o", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Public key: age1")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "AGE-SECRET-KEY-1")

	_, err = run(t, "keygen", "-o", path)
	assert.Error(t, err)
}

func TestBackupRestoreInspect(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	dst := filepath.Join(root, "dst")
	testutil.WriteTree(t, src, map[string]string{
		"notes.txt":   "remember the milk",
		"sub/log.txt": "line one\nline two\n",
	})
	cfg := writeConfig(t, src, dst)

	out, err := run(t, "-c", cfg, "-q", "backup")
	require.NoError(t, err)
	assert.Contains(t, out, "FULL backup docs-")
	assert.Contains(t, out, "archived: 2 files")

	out, err = run(t, "-c", cfg, "inspect", "increments")
	require.NoError(t, err)
	assert.Contains(t, out, "Backup type: FULL")
	assert.Contains(t, out, "Compression algorithm: GZIP")

	out, err = run(t, "-c", cfg, "inspect", "content")
	require.NoError(t, err)
	assert.Contains(t, out, filepath.Join(src, "notes.txt"))

	target := filepath.Join(root, "restore")
	_, err = run(t, "-c", cfg, "-q", "restore", "-t", target)
	require.NoError(t, err)
	assert.Equal(t, testutil.ReadTree(t, src), testutil.ReadTree(t, filepath.Join(target, src)))

	out, err = run(t, "-c", cfg, "history")
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out, "backup"))
	assert.Equal(t, 1, strings.Count(out, "restore"))
}

func TestDelete_RequiresFrom(t *testing.T) {
	root := t.TempDir()
	cfg := writeConfig(t, filepath.Join(root, "src"), filepath.Join(root, "dst"))
	_, err := run(t, "-c", cfg, "delete")
	assert.ErrorContains(t, err, "--from")
}

func TestUnknownJob(t *testing.T) {
	root := t.TempDir()
	cfg := writeConfig(t, filepath.Join(root, "src"), filepath.Join(root, "dst"))
	_, err := run(t, "-c", cfg, "-j", "missing", "backup")
	assert.Error(t, err)
}
