package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Ning0612/Cargoback/internal/state"
)

func newHistoryCmd(a *app) *cobra.Command {
	var (
		limit int
		all   bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.history == nil {
				return errors.New("run history is not available")
			}

			var runs []state.RunRecord
			var err error
			if all {
				runs, err = a.history.GetAllHistory(limit)
			} else {
				job, jerr := a.job()
				if jerr != nil {
					return jerr
				}
				runs, err = a.history.GetHistory(job.FileNamePrefix, limit)
			}
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "STARTED\tPREFIX\tOPERATION\tTYPE\tSTATUS\tFILES\tSIZE\tFAILED\tDURATION")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
					humanize.Time(r.StartTime), r.Prefix, r.Operation, dash(r.BackupType), r.Status,
					humanize.Comma(int64(r.FilesArchived)), humanize.IBytes(uint64(max(r.BytesArchived, 0))),
					r.FailedFiles, r.Duration().Round(100*time.Millisecond))
				if r.Error != "" {
					fmt.Fprintf(w, "\t\terror: %s\n", r.Error)
				}
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show")
	cmd.Flags().BoolVar(&all, "all", false, "show runs of every job")
	return cmd
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
