package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Ning0612/Cargoback/internal/progress"
	"github.com/Ning0612/Cargoback/internal/service"
)

func newRestoreCmd(a *app) *cobra.Command {
	var (
		at        string
		target    string
		overwrite bool
		delta     bool
	)

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore the files of an increment",
		Long: `Restores the newest increment started at or before --at (default: the
latest). Files are placed below --target using their full original path.
With --delta only the changes recorded by the increment are applied, so the
target must hold the previous increment.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			when, err := parseTime(at)
			if err != nil {
				return err
			}
			req := service.RestoreRequest{At: when, Target: target, Overwrite: overwrite}
			if delta {
				req.Mode = service.RestoreDelta
			}

			s, err := a.session(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			r, err := s.Restore(cmd.Context(), req)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Restored %s (%s)\n", r.Manifest.BaseName(), r.Manifest.StartTime().Format("2006-01-02 15:04:05 MST"))
			fmt.Fprintf(out, "  files: %s, %s\n", humanize.Comma(int64(r.Restored)), progress.FormatBytes(r.Bytes))
			if r.Removed > 0 {
				fmt.Fprintf(out, "  removed: %s\n", humanize.Comma(int64(r.Removed)))
			}
			for _, f := range r.Failed {
				fmt.Fprintf(out, "  failed: %s: %v\n", f.Path, f.Err)
			}
			if len(r.Failed) > 0 {
				return fmt.Errorf("%d files could not be restored", len(r.Failed))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&at, "at", "", "point in time (epoch seconds or RFC 3339)")
	cmd.Flags().StringVarP(&target, "target", "t", "", "directory receiving the files (default: original location)")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace existing files")
	cmd.Flags().BoolVar(&delta, "delta", false, "apply only the changes of the increment")
	return cmd
}
