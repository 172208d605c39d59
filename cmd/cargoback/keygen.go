package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Ning0612/Cargoback/internal/config"
	"github.com/Ning0612/Cargoback/internal/crypt"
)

func newKeygenCmd() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an identity for encrypted jobs",
		Long: `Writes a new age identity file. Put the printed public key into the job's
encryption_key and the file path into its identity_file.`,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationNoConfig: ""},
		RunE: func(cmd *cobra.Command, args []string) error {
			kp, err := crypt.GenerateKeypair()
			if err != nil {
				return err
			}
			path := config.ExpandPath(out)
			if err := kp.WriteIdentityFile(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Identity written to %s\nPublic key: %s\n", path, kp.PublicKey)
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "output", "o", "cargoback.key", "identity file to create")
	return cmd
}
