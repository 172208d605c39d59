package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ning0612/Cargoback/internal/config"
	"github.com/Ning0612/Cargoback/internal/crypt"
	"github.com/Ning0612/Cargoback/internal/logger"
	"github.com/Ning0612/Cargoback/internal/progress"
	"github.com/Ning0612/Cargoback/internal/service"
	"github.com/Ning0612/Cargoback/internal/state"
)

// version is set at build time
var version = "dev"

// annotationNoConfig marks commands that run without a configuration file
const annotationNoConfig = "no-config"

type app struct {
	configPath string
	jobName    string
	quiet      bool
	verbose    bool

	cfg     *config.Config
	history *state.Manager
}

func newRootCmd() (*cobra.Command, *app) {
	a := &app{}

	root := &cobra.Command{
		Use:           "cargoback",
		Short:         "Deduplicating incremental backups into chunked archives",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if _, ok := cmd.Annotations[annotationNoConfig]; ok {
				return nil
			}
			return a.setup(cmd)
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file (default: config.yaml in the search paths)")
	root.PersistentFlags().StringVarP(&a.jobName, "job", "j", "", "job name (default: the only configured job)")
	root.PersistentFlags().BoolVarP(&a.quiet, "quiet", "q", false, "suppress progress output")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log debug messages")

	root.AddCommand(
		newBackupCmd(a),
		newRestoreCmd(a),
		newDeleteCmd(a),
		newInspectCmd(a),
		newHistoryCmd(a),
		newScheduleCmd(a),
		newKeygenCmd(),
	)
	return root, a
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	logCfg := cfg.Log.Logger()
	logCfg.Console = cmd.ErrOrStderr()
	if a.verbose {
		logCfg.Level = logger.LevelDebug
	}
	if err := logger.Init(logCfg); err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}

	dataDir := config.ExpandPath(cfg.DataDir)
	if dataDir == "" {
		dataDir = config.DefaultDataDir()
	}
	if a.history, err = state.NewManager(dataDir); err != nil {
		logger.Get().Warn("Run history disabled", "data_dir", dataDir, "error", err)
	}
	service.AppVersion = version
	return nil
}

// teardown closes what setup opened. It is safe to call more than once.
func (a *app) teardown() error {
	var errs []error
	if a.history != nil {
		errs = append(errs, a.history.Close())
		a.history = nil
	}
	if a.cfg != nil {
		errs = append(errs, logger.Shutdown())
		a.cfg = nil
	}
	return errors.Join(errs...)
}

func (a *app) job() (*config.Job, error) {
	if a.jobName != "" {
		return a.cfg.GetJob(a.jobName)
	}
	switch len(a.cfg.Jobs) {
	case 0:
		return nil, errors.New("no job configured")
	case 1:
		return &a.cfg.Jobs[0], nil
	}
	return nil, fmt.Errorf("%d jobs configured, select one with --job", len(a.cfg.Jobs))
}

// session opens the selected job
func (a *app) session(cmd *cobra.Command) (*service.Session, error) {
	job, err := a.job()
	if err != nil {
		return nil, err
	}
	return a.open(cmd, job)
}

// open starts a session on job. The identity file is only read when configured.
func (a *app) open(cmd *cobra.Command, job *config.Job) (*service.Session, error) {
	opts := service.Options{
		Workers: a.cfg.Workers(),
		History: a.history,
	}
	if job.IdentityFile != "" {
		identity, err := crypt.LoadIdentityFile(config.ExpandPath(job.IdentityFile))
		if err != nil {
			return nil, err
		}
		opts.Identity = identity
	}
	if a.quiet {
		opts.Listeners = append(opts.Listeners, progress.LogListener(logger.With("job", job.Name)))
	} else {
		opts.Listeners = append(opts.Listeners, progress.BarListener(cmd.ErrOrStderr(), 30))
	}

	return service.Open(job.BackupJobConfiguration, opts)
}

// parseTime accepts epoch seconds or RFC 3339. Empty input is the zero time.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if epoch, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(epoch, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: use epoch seconds or RFC 3339", s)
	}
	return t, nil
}
