package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/Ning0612/Cargoback/internal/domain"
	"github.com/Ning0612/Cargoback/internal/logger"
)

// Config is the complete cargoback configuration
type Config struct {
	// DataDir holds the run history database
	DataDir string `mapstructure:"data_dir"`

	// Threads bounds parallel parsing, archival reads and restores
	Threads int `mapstructure:"threads"`

	Log LogConfig `mapstructure:"log"`

	Jobs []Job `mapstructure:"jobs"`
}

// LogConfig mirrors logger.Config in YAML form
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// Logger converts the YAML settings
func (c LogConfig) Logger() logger.Config {
	return logger.Config{
		Level:  logger.ParseLevel(c.Level),
		Format: logger.ParseFormat(c.Format),
		File: logger.FileConfig{
			Path:       ExpandPath(c.File),
			MaxSizeMB:  c.MaxSizeMB,
			MaxAgeDays: c.MaxAgeDays,
			MaxBackups: c.MaxBackups,
			Compress:   c.Compress,
		},
	}
}

// Job is one named backup job
type Job struct {
	Name string `mapstructure:"name"`

	// IdentityFile holds the age identity that opens encrypted increments.
	// Restores need it, and so do incremental backups, which read the
	// previous manifest.
	IdentityFile string `mapstructure:"identity_file"`

	domain.BackupJobConfiguration `mapstructure:",squash"`
}

// Validate checks if the configuration is complete and consistent
func (c *Config) Validate() error {
	if c.Threads < 0 {
		return fmt.Errorf("%w: threads cannot be negative", domain.ErrConfigInvalid)
	}

	names := make(map[string]bool)
	prefixes := make(map[string]string)
	for _, j := range c.Jobs {
		if j.Name == "" {
			return fmt.Errorf("%w: job name cannot be empty", domain.ErrConfigInvalid)
		}
		if names[j.Name] {
			return fmt.Errorf("%w: duplicate job name: %s", domain.ErrConfigInvalid, j.Name)
		}
		names[j.Name] = true

		if err := j.Validate(); err != nil {
			return fmt.Errorf("job %s: %w", j.Name, err)
		}

		// Two jobs writing one prefix into one destination would share a history
		key := filepath.Join(filepath.Clean(j.DestinationDirectory), j.FileNamePrefix)
		if other, ok := prefixes[key]; ok {
			return fmt.Errorf("%w: jobs %s and %s share prefix %s in %s",
				domain.ErrConfigInvalid, other, j.Name, j.FileNamePrefix, j.DestinationDirectory)
		}
		prefixes[key] = j.Name
	}
	return nil
}

// GetJob returns a job by name
func (c *Config) GetJob(name string) (*Job, error) {
	for i := range c.Jobs {
		if c.Jobs[i].Name == name {
			return &c.Jobs[i], nil
		}
	}
	return nil, fmt.Errorf("%w: unknown job %q", domain.ErrConfigInvalid, name)
}

// Workers returns the configured thread count, defaulting to the CPU count
func (c *Config) Workers() int {
	if c.Threads > 0 {
		return c.Threads
	}
	return runtime.NumCPU()
}

// ExpandPath expands ~ and environment variables in a path
func ExpandPath(path string) string {
	if path == "" {
		return ""
	}
	if path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			if len(path) == 1 {
				path = home
			} else if path[1] == '/' || path[1] == filepath.Separator {
				path = filepath.Join(home, path[2:])
			}
		}
	}
	return filepath.Clean(os.ExpandEnv(path))
}
