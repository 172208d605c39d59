package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/Ning0612/Cargoback/internal/compress"
	"github.com/Ning0612/Cargoback/internal/core/checksum"
	"github.com/Ning0612/Cargoback/internal/domain"
)

// DefaultConfigPaths returns the directories searched for config.yaml
func DefaultConfigPaths() []string {
	paths := []string{".", "./configs"}

	if configDir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(configDir, "cargoback"))
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(homeDir, ".cargoback"))
	}
	return paths
}

// DefaultDataDir is where the run history lives unless configured
func DefaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "cargoback")
	}
	return ".cargoback"
}

// Load reads and validates a configuration file. An empty path searches
// DefaultConfigPaths for config.yaml.
func Load(path string) (*Config, error) {
	v := newViper()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		for _, p := range DefaultConfigPaths() {
			v.AddConfigPath(p)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			return nil, domain.ErrConfigNotFound
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
	}
	return decode(v)
}

// LoadFromString parses configuration from YAML content
func LoadFromString(yamlContent string) (*Config, error) {
	return LoadFromReader(strings.NewReader(yamlContent))
}

// LoadFromReader parses configuration from YAML read from r
func LoadFromReader(r io.Reader) (*Config, error) {
	v := newViper()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(r); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
	}
	return decode(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("CARGOBACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("threads", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.max_backups", 5)
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
	}

	if cfg.DataDir == "" {
		cfg.DataDir = DefaultDataDir()
	}
	cfg.DataDir = ExpandPath(cfg.DataDir)

	for i := range cfg.Jobs {
		applyJobDefaults(&cfg.Jobs[i])
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyJobDefaults(j *Job) {
	if j.BackupType == "" {
		j.BackupType = domain.BackupIncremental
	}
	if j.HashAlgorithm == "" {
		j.HashAlgorithm = checksum.SHA256
	}
	if j.Compression == "" {
		j.Compression = compress.None
	}
	if j.DuplicateStrategy == "" {
		j.DuplicateStrategy = domain.KeepEach
	}
	if j.FileNamePrefix == "" {
		j.FileNamePrefix = j.Name
	}

	j.BackupType = domain.BackupType(strings.ToUpper(string(j.BackupType)))
	j.HashAlgorithm = checksum.Algorithm(strings.ToUpper(string(j.HashAlgorithm)))
	j.Compression = compress.Algorithm(strings.ToUpper(string(j.Compression)))
	j.DuplicateStrategy = domain.DuplicateStrategy(strings.ToUpper(string(j.DuplicateStrategy)))

	j.DestinationDirectory = ExpandPath(j.DestinationDirectory)
	j.IdentityFile = ExpandPath(j.IdentityFile)
	for k, s := range j.Sources {
		j.Sources[k] = domain.NewBackupSource(ExpandPath(s.Path), s.IncludePatterns, s.ExcludePatterns)
	}
}
