package scheduler

import (
	"context"
	"time"
)

// Status represents the current state of a scheduler
type Status struct {
	Running        bool
	LastRunTime    time.Time
	NextRunTime    time.Time
	TotalRuns      int
	SuccessfulRuns int
	FailedRuns     int
	LastError      string
}

// Config contains scheduler configuration
type Config struct {
	// Interval is the time between two rounds of backups
	Interval time.Duration

	// Jobs lists the jobs backed up each round, in order
	Jobs []string

	// RunOnStart runs a round immediately instead of waiting one interval
	RunOnStart bool
}

// Runner runs the backup of one job
type Runner interface {
	RunBackup(ctx context.Context, job string) error
}

// RunnerFunc adapts a function to the Runner interface
type RunnerFunc func(ctx context.Context, job string) error

// RunBackup implements Runner
func (f RunnerFunc) RunBackup(ctx context.Context, job string) error {
	return f(ctx, job)
}
