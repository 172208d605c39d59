package main

import (
	"github.com/spf13/cobra"
)

func newInspectCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show increments and their content",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "increments",
		Short: "Print a summary of every increment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.session(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			return s.WriteSummaries(cmd.Context(), cmd.OutOrStdout())
		},
	})

	var at string
	content := &cobra.Command{
		Use:   "content",
		Short: "Export the files of an increment as tab separated values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			when, err := parseTime(at)
			if err != nil {
				return err
			}
			s, err := a.session(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			return s.WriteContent(cmd.Context(), cmd.OutOrStdout(), when)
		},
	}
	content.Flags().StringVar(&at, "at", "", "point in time (epoch seconds or RFC 3339)")
	cmd.AddCommand(content)

	return cmd
}
