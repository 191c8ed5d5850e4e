package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/flowcache/flowdag/internal/repo"
)

func pullCmd() *cobra.Command {
	var remote string

	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Download cached objects from a remote and check them out",
		Long:  `flowdag pull [--remote=<name>]`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			root, err := cmd.Flags().GetString("root")
			if err != nil {
				return err
			}

			r, err := repo.Open(cmd.Context(), root)
			if err != nil {
				return fmt.Errorf("open repo: %w", err)
			}
			defer r.Close()

			return r.Pull(cmd.Context(), remote)
		},
	}

	cmd.Flags().StringVarP(&remote, "remote", "r", "", "remote to pull from (default is core.remote)")
	return cmd
}
