package service

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/Ning0612/Cargoback/internal/adapter"
	"github.com/Ning0612/Cargoback/internal/adapter/local"
	"github.com/Ning0612/Cargoback/internal/crypt"
	"github.com/Ning0612/Cargoback/internal/domain"
	"github.com/Ning0612/Cargoback/internal/lock"
	"github.com/Ning0612/Cargoback/internal/logger"
	"github.com/Ning0612/Cargoback/internal/manifest"
	"github.com/Ning0612/Cargoback/internal/progress"
	"github.com/Ning0612/Cargoback/internal/scan"
	"github.com/Ning0612/Cargoback/internal/state"
)

// AppVersion is stored in every manifest written by this build
var AppVersion = "dev"

// Options tunes a Session. The zero value is usable.
type Options struct {
	// Workers bounds parallel parsing, archive reads and restores.
	// Zero uses the CPU count.
	Workers int

	// Identity unwraps the data keys of encrypted increments. Incremental
	// backups of an encrypted job need it to read the previous manifest.
	Identity crypt.KeyUnwrapper

	// History records every run when set
	History *state.Manager

	// Listeners receive progress events of every run
	Listeners []progress.Listener

	// Parser overrides the local metadata parser
	Parser scan.MetadataParser

	// Clock returns the current time; it defaults to time.Now
	Clock func() time.Time
}

func (o Options) workers() int {
	if o.Workers > 0 {
		return o.Workers
	}
	return runtime.NumCPU()
}

func (o Options) now() time.Time {
	if o.Clock != nil {
		return o.Clock()
	}
	return time.Now()
}

// Session runs backups, restores and retention for one job. Runs sharing
// the job's prefix and destination are serialized through a lock file, also
// across processes.
type Session struct {
	job   domain.BackupJobConfiguration
	opts  Options
	dest  adapter.Adapter
	store *manifest.Store
	lock  *lock.FileLock
	log   logger.Logger
}

// Open validates the job and prepares its destination directory
func Open(job domain.BackupJobConfiguration, opts Options) (*Session, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(job.DestinationDirectory, 0755); err != nil {
		return nil, fmt.Errorf("creating destination %s: %w", job.DestinationDirectory, err)
	}

	dest, err := local.New(job.DestinationDirectory)
	if err != nil {
		return nil, fmt.Errorf("opening destination: %w", err)
	}
	fileLock, err := lock.NewFileLock(job.DestinationDirectory, job.FileNamePrefix)
	if err != nil {
		dest.Close()
		return nil, fmt.Errorf("failed to create file lock: %w", err)
	}

	return &Session{
		job:   job,
		opts:  opts,
		dest:  dest,
		store: manifest.NewStore(dest, opts.Identity),
		lock:  fileLock,
		log:   logger.With("prefix", job.FileNamePrefix),
	}, nil
}

// Job returns the job configuration of the session
func (s *Session) Job() domain.BackupJobConfiguration {
	return s.job
}

// Close releases the destination
func (s *Session) Close() error {
	return s.dest.Close()
}

// locked runs fn while holding the prefix lock
func (s *Session) locked(operation string, fn func() error) error {
	if err := s.lock.Acquire(operation); err != nil {
		return err
	}
	defer func() {
		if err := s.lock.Release(); err != nil {
			s.log.Warn("Failed to release lock", "lock", s.lock.Path(), "error", err)
		}
	}()
	return fn()
}

// History loads every manifest of the job's prefix
func (s *Session) History(ctx context.Context) (*manifest.History, error) {
	return s.store.LoadAll(ctx, s.job.FileNamePrefix)
}

func (s *Session) tracker(steps ...progress.Step) *progress.Tracker {
	t, err := progress.NewTracker(steps...)
	if err != nil {
		// Step declarations are static
		panic(err)
	}
	for _, l := range s.opts.Listeners {
		t.AddListener(l)
	}
	return t
}

func (s *Session) record(run state.RunRecord) {
	if s.opts.History == nil {
		return
	}
	run.Prefix = s.job.FileNamePrefix
	if err := s.opts.History.SaveRun(run); err != nil {
		s.log.Warn("Failed to record run", "operation", run.Operation, "error", err)
	}
}

func runStatus(err error, failures int) string {
	switch {
	case err != nil:
		return state.StatusFailed
	case failures > 0:
		return state.StatusPartial
	default:
		return state.StatusSuccess
	}
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
