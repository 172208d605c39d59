package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newDeleteCmd(a *app) *cobra.Command {
	var from string

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete increments starting at a point in time",
		Long: `Deletes the increment started exactly at --from and every later increment
up to the next FULL backup. Their archives are removed and their manifests
are moved to the .history directory of the destination.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if from == "" {
				return errors.New("--from is required")
			}
			threshold, err := parseTime(from)
			if err != nil {
				return err
			}

			s, err := a.session(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			deleted, err := s.DeleteFrom(cmd.Context(), threshold)
			for _, m := range deleted {
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s (%s)\n", m.BaseName(), m.BackupType)
			}
			return err
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "start of the first increment to delete (epoch seconds or RFC 3339)")
	return cmd
}
