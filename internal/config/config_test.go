package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/Ning0612/Cargoback/internal/compress"
	"github.com/Ning0612/Cargoback/internal/core/checksum"
	"github.com/Ning0612/Cargoback/internal/domain"
	"github.com/Ning0612/Cargoback/internal/logger"
)

const validYAML = `
data_dir: /var/lib/cargoback
threads: 4
log:
  level: debug
  format: json
jobs:
  - name: photos
    destination_directory: /backups
    compression: zstd
    hash_algorithm: blake3
    duplicate_strategy: keep_one_per_backup
    chunk_size_mebibyte: 64
    encryption_key: age1ql3z7hjy54pw3hyww5ayyfg7zqgvc7w3j2elw8zmrj2kg5sfn9aqmcac8p
    identity_file: /etc/cargoback/photos.key
    sources:
      - path: /home/alice/photos
        include: ["*.jpg", "*.png"]
        exclude: [".cache"]
  - name: mail
    file_name_prefix: mail_v2
    backup_type: FULL
    destination_directory: /backups
    sources:
      - path: /var/mail
`

func TestLoadFromString(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses unix absolute paths")
	}

	cfg, err := LoadFromString(validYAML)
	if err != nil {
		t.Fatalf("LoadFromString failed: %v", err)
	}

	if cfg.DataDir != "/var/lib/cargoback" || cfg.Workers() != 4 {
		t.Errorf("unexpected globals: %+v", cfg)
	}
	if lc := cfg.Log.Logger(); lc.Level != logger.LevelDebug || lc.Format != logger.FormatJSON || lc.File.MaxSizeMB != 10 {
		t.Errorf("unexpected log config: %+v", lc)
	}

	photos, err := cfg.GetJob("photos")
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if photos.FileNamePrefix != "photos" {
		t.Errorf("prefix should default to job name, got %q", photos.FileNamePrefix)
	}
	if photos.BackupType != domain.BackupIncremental {
		t.Errorf("expected INCREMENTAL default, got %s", photos.BackupType)
	}
	if photos.Compression != compress.Zstd || photos.HashAlgorithm != checksum.BLAKE3 {
		t.Errorf("enum values not normalized: %s %s", photos.Compression, photos.HashAlgorithm)
	}
	if photos.DuplicateStrategy != domain.KeepOnePerBackup || photos.ChunkSizeMebibyte != 64 {
		t.Errorf("unexpected job settings: %+v", photos.BackupJobConfiguration)
	}
	if !photos.Encrypted() || photos.IdentityFile != "/etc/cargoback/photos.key" {
		t.Errorf("encryption settings lost: %+v", photos)
	}
	if len(photos.Sources) != 1 {
		t.Fatalf("expected 1 source, got %d", len(photos.Sources))
	}
	src := photos.Sources[0]
	if src.Path != "/home/alice/photos" ||
		strings.Join(src.IncludePatterns, ",") != "*.jpg,*.png" ||
		strings.Join(src.ExcludePatterns, ",") != ".cache" {
		t.Errorf("unexpected source: %+v", src)
	}

	mail, err := cfg.GetJob("mail")
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if mail.FileNamePrefix != "mail_v2" || mail.BackupType != domain.BackupFull {
		t.Errorf("unexpected mail job: %+v", mail.BackupJobConfiguration)
	}
	if mail.Compression != compress.None || mail.HashAlgorithm != checksum.SHA256 || mail.DuplicateStrategy != domain.KeepEach {
		t.Errorf("defaults not applied: %+v", mail.BackupJobConfiguration)
	}
	if mail.Sources[0].IncludePatterns == nil {
		t.Error("pattern sets should be non-nil")
	}

	if _, err := cfg.GetJob("missing"); !errors.Is(err, domain.ErrConfigInvalid) {
		t.Errorf("expected ErrConfigInvalid for unknown job, got %v", err)
	}
}

func TestLoadFromString_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"malformed yaml", "jobs: [\n"},
		{"negative threads", "threads: -1\n"},
		{"missing name", "jobs:\n  - destination_directory: /b\n    sources: [{path: /s}]\n"},
		{"duplicate name", "jobs:\n  - {name: a, destination_directory: /b, sources: [{path: /s}]}\n  - {name: a, file_name_prefix: b, destination_directory: /b, sources: [{path: /t}]}\n"},
		{"shared prefix", "jobs:\n  - {name: a, file_name_prefix: p, destination_directory: /b, sources: [{path: /s}]}\n  - {name: b, file_name_prefix: p, destination_directory: /b/, sources: [{path: /t}]}\n"},
		{"bad compression", "jobs:\n  - {name: a, compression: rar, destination_directory: /b, sources: [{path: /s}]}\n"},
		{"bad prefix", "jobs:\n  - {name: a, file_name_prefix: a-b, destination_directory: /b, sources: [{path: /s}]}\n"},
		{"relative source", "jobs:\n  - {name: a, destination_directory: /b, sources: [{path: rel}]}\n"},
		{"no sources", "jobs:\n  - {name: a, destination_directory: /b}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if runtime.GOOS == "windows" {
				t.Skip("uses unix absolute paths")
			}
			_, err := LoadFromString(tt.yaml)
			if !errors.Is(err, domain.ErrConfigInvalid) {
				t.Errorf("expected ErrConfigInvalid, got %v", err)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "src")
	content := "data_dir: " + filepath.ToSlash(filepath.Join(dir, "data")) + "\n" +
		"jobs:\n" +
		"  - name: docs\n" +
		"    destination_directory: " + filepath.ToSlash(filepath.Join(dir, "dest")) + "\n" +
		"    sources:\n" +
		"      - path: " + filepath.ToSlash(source) + "\n"

	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(cfg.Jobs) != 1 || cfg.Jobs[0].Sources[0].Path != source {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if cfg.DataDir != filepath.Join(dir, "data") {
		t.Errorf("unexpected data dir %s", cfg.DataDir)
	}
}

func TestLoad_NotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if !errors.Is(err, domain.ErrConfigNotFound) {
		t.Errorf("expected ErrConfigNotFound, got %v", err)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	t.Setenv("CARGOBACK_TEST_DIR", "vault")

	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"~", home},
		{"~/backups", filepath.Join(home, "backups")},
		{"/srv/$CARGOBACK_TEST_DIR/../x", filepath.Clean("/srv/x")},
	}
	for _, tt := range tests {
		if got := ExpandPath(tt.in); got != tt.want {
			t.Errorf("ExpandPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
