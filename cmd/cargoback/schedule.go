package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ning0612/Cargoback/internal/logger"
	"github.com/Ning0612/Cargoback/internal/scheduler"
)

func newScheduleCmd(a *app) *cobra.Command {
	var (
		every time.Duration
		jobs  []string
		now   bool
	)

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Back up jobs periodically until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(jobs) == 0 {
				for _, j := range a.cfg.Jobs {
					jobs = append(jobs, j.Name)
				}
			}
			for _, name := range jobs {
				if _, err := a.cfg.GetJob(name); err != nil {
					return err
				}
			}

			runner := scheduler.RunnerFunc(func(ctx context.Context, name string) error {
				job, err := a.cfg.GetJob(name)
				if err != nil {
					return err
				}
				s, err := a.open(cmd, job)
				if err != nil {
					return err
				}
				defer s.Close()
				_, err = s.Backup(ctx)
				return err
			})

			sched, err := scheduler.NewIntervalScheduler(scheduler.Config{
				Interval:   every,
				Jobs:       jobs,
				RunOnStart: now,
			}, runner)
			if err != nil {
				return err
			}
			if err := sched.Start(cmd.Context()); err != nil {
				return err
			}

			log := logger.Get()
			log.Info("Scheduler started", "interval", every, "jobs", jobs)
			fmt.Fprintf(cmd.OutOrStdout(), "Backing up %v every %s, next run at %s\n",
				jobs, every, sched.Status().NextRunTime.Format(time.DateTime))

			<-sched.Done()
			status := sched.Status()
			log.Info("Scheduler stopped", "rounds", status.TotalRuns, "failed", status.FailedRuns)
			return nil
		},
	}

	cmd.Flags().DurationVar(&every, "every", 24*time.Hour, "time between two backup rounds")
	cmd.Flags().StringSliceVar(&jobs, "jobs", nil, "jobs to back up (default: all)")
	cmd.Flags().BoolVar(&now, "now", false, "run the first round immediately")
	return cmd
}
