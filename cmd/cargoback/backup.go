package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Ning0612/Cargoback/internal/progress"
)

func newBackupCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Run one backup of the job",
		Long: `Runs a backup of the selected job. The first run and every run after a
change of the job's archive settings is FULL; later runs only archive what
changed since the previous increment.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.session(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			r, err := s.Backup(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s backup %s committed\n", r.Manifest.BackupType, r.Manifest.FileName())
			fmt.Fprintf(out, "  files in increment: %s\n", humanize.Comma(int64(len(r.Manifest.Files))))
			fmt.Fprintf(out, "  archived: %s files, %s\n", humanize.Comma(int64(r.ArchivedFiles)), progress.FormatBytes(r.ArchivedBytes))
			for _, f := range r.Failed {
				fmt.Fprintf(out, "  failed: %s: %v\n", f.Path, f.Err)
			}
			if len(r.Failed) > 0 {
				return fmt.Errorf("%d paths could not be backed up", len(r.Failed))
			}
			return nil
		},
	}
}
