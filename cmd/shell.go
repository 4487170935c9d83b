package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"storyboard/internal/shell"
)

func newShellCmd() *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Edit stories from the terminal",
		Long:  "shell opens an interactive story editor for one user against the configured database.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, handle, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer handle.Close()

			sh := shell.New(newStore(handle), demoFetcher(cfg), os.Stdin, cmd.OutOrStdout())
			return sh.Run(cmd.Context(), userID)
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "", "user id to edit as (required)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
